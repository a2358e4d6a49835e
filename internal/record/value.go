package record

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Value is a typed field value. Exactly one payload is meaningful, the one
// selected by Type; values are only built through the constructors below.
type Value struct {
	typ FieldType
	i   int32
	f   float64
	s   string
	t   time.Time
	b   bool
}

func IntValue(v int32) Value     { return Value{typ: TypeInt, i: v} }
func FloatValue(v float64) Value { return Value{typ: TypeFloat, f: v} }
func TextValue(v string) Value   { return Value{typ: TypeText, s: v} }
func BoolValue(v bool) Value     { return Value{typ: TypeBool, b: v} }

// Datetimes are stored as int64 Unix nanoseconds, which covers 1677-09-21
// through 2262-04-11 UTC.
var (
	MinDatetime = time.Unix(0, math.MinInt64).UTC()
	MaxDatetime = time.Unix(0, math.MaxInt64).UTC()
)

// DatetimeValue keeps nanosecond precision in UTC, which is what survives a pack/unpack.
// v must lie within [MinDatetime, MaxDatetime]; outside it UnixNano wraps and a
// different instant is stored. Use NewDatetimeValue for unchecked input.
func DatetimeValue(v time.Time) Value {
	return Value{typ: TypeDatetime, t: time.Unix(0, v.UnixNano()).UTC()}
}

// NewDatetimeValue is DatetimeValue with a range check.
func NewDatetimeValue(v time.Time) (Value, error) {
	if v.Before(MinDatetime) || v.After(MaxDatetime) {
		return Value{}, fmt.Errorf("%w: %s", ErrDatetimeRange, v.Format(time.RFC3339))
	}
	return DatetimeValue(v), nil
}

// ZeroValue is the value an all-zero slot decodes to.
func ZeroValue(t FieldType) Value {
	if t == TypeDatetime {
		return DatetimeValue(time.Unix(0, 0))
	}
	return Value{typ: t}
}

func (v Value) Type() FieldType { return v.typ }

func (v Value) mismatch(want FieldType) error {
	return fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, v.typ, want)
}

func (v Value) Int() (int32, error) {
	if v.typ != TypeInt {
		return 0, v.mismatch(TypeInt)
	}
	return v.i, nil
}

func (v Value) Float() (float64, error) {
	if v.typ != TypeFloat {
		return 0, v.mismatch(TypeFloat)
	}
	return v.f, nil
}

func (v Value) Text() (string, error) {
	if v.typ != TypeText {
		return "", v.mismatch(TypeText)
	}
	return v.s, nil
}

func (v Value) Datetime() (time.Time, error) {
	if v.typ != TypeDatetime {
		return time.Time{}, v.mismatch(TypeDatetime)
	}
	return v.t, nil
}

func (v Value) Bool() (bool, error) {
	if v.typ != TypeBool {
		return false, v.mismatch(TypeBool)
	}
	return v.b, nil
}

// Numeric reports whether v is an int or a float.
func (v Value) Numeric() bool { return v.typ == TypeInt || v.typ == TypeFloat }

// AsFloat widens a numeric value.
func (v Value) AsFloat() (float64, error) {
	switch v.typ {
	case TypeInt:
		return float64(v.i), nil
	case TypeFloat:
		return v.f, nil
	}
	return 0, v.mismatch(TypeFloat)
}

// Equal compares type and payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	case TypeText:
		return v.s == o.s
	case TypeDatetime:
		return v.t.Equal(o.t)
	case TypeBool:
		return v.b == o.b
	}
	return false
}

func (v Value) String() string {
	switch v.typ {
	case TypeInt:
		return strconv.FormatInt(int64(v.i), 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeText:
		return v.s
	case TypeDatetime:
		return v.t.Format(time.RFC3339Nano)
	case TypeBool:
		return strconv.FormatBool(v.b)
	}
	return "<invalid>"
}
