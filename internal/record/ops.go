package record

import (
	"cmp"
	"fmt"
	"math"
	"strings"
)

// Compare orders two values of the same type. Ints and floats compare
// numerically with each other; false sorts before true.
func Compare(a, b Value) (int, error) {
	if a.typ != b.typ {
		if a.Numeric() && b.Numeric() {
			x, _ := a.AsFloat()
			y, _ := b.AsFloat()
			return cmp.Compare(x, y), nil
		}
		return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrTypeMismatch, a.typ, b.typ)
	}
	switch a.typ {
	case TypeInt:
		return cmp.Compare(a.i, b.i), nil
	case TypeFloat:
		return cmp.Compare(a.f, b.f), nil
	case TypeText:
		return strings.Compare(a.s, b.s), nil
	case TypeDatetime:
		return a.t.Compare(b.t), nil
	case TypeBool:
		switch {
		case a.b == b.b:
			return 0, nil
		case !a.b:
			return -1, nil
		default:
			return 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrTypeMismatch, errUnknownTypeTag)
}

type arith struct {
	name string
	i    func(x, y int32) (int32, error)
	f    func(x, y float64) (float64, error)
}

var (
	opAdd = arith{
		name: "add",
		i:    func(x, y int32) (int32, error) { return x + y, nil },
		f:    func(x, y float64) (float64, error) { return x + y, nil },
	}
	opSub = arith{
		name: "sub",
		i:    func(x, y int32) (int32, error) { return x - y, nil },
		f:    func(x, y float64) (float64, error) { return x - y, nil },
	}
	opMul = arith{
		name: "mul",
		i:    func(x, y int32) (int32, error) { return x * y, nil },
		f:    func(x, y float64) (float64, error) { return x * y, nil },
	}
	opDiv = arith{
		name: "div",
		i: func(x, y int32) (int32, error) {
			if y == 0 {
				return 0, ErrDivideByZero
			}
			return x / y, nil
		},
		f: func(x, y float64) (float64, error) {
			if y == 0 {
				return 0, ErrDivideByZero
			}
			return x / y, nil
		},
	}
	opMod = arith{
		name: "mod",
		i: func(x, y int32) (int32, error) {
			if y == 0 {
				return 0, ErrDivideByZero
			}
			return x % y, nil
		},
		f: func(x, y float64) (float64, error) {
			if y == 0 {
				return 0, ErrDivideByZero
			}
			return math.Mod(x, y), nil
		},
	}
)

func (op arith) apply(a, b Value) (Value, error) {
	if !a.Numeric() || !b.Numeric() {
		return Value{}, fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, a.typ, op.name, b.typ)
	}
	if a.typ == TypeInt && b.typ == TypeInt {
		n, err := op.i(a.i, b.i)
		if err != nil {
			return Value{}, err
		}
		return IntValue(n), nil
	}
	x, _ := a.AsFloat()
	y, _ := b.AsFloat()
	r, err := op.f(x, y)
	if err != nil {
		return Value{}, err
	}
	return FloatValue(r), nil
}

// Arithmetic on numeric values. Int with int stays int; any float operand
// makes the result a float.
func Add(a, b Value) (Value, error) { return opAdd.apply(a, b) }
func Sub(a, b Value) (Value, error) { return opSub.apply(a, b) }
func Mul(a, b Value) (Value, error) { return opMul.apply(a, b) }
func Div(a, b Value) (Value, error) { return opDiv.apply(a, b) }
func Mod(a, b Value) (Value, error) { return opMod.apply(a, b) }
