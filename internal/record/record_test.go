package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaheap/internal/storage"
)

func TestRecord_GetSetBytes(t *testing.T) {
	d := NewDescriptor(
		NewField("id", TypeInt, 0),
		NewField("name", TypeText, 8),
		NewField("ok", TypeBool, 0),
	)

	r, err := NewRecord(d, []Value{IntValue(7), TextValue("seven"), BoolValue(false)})
	require.NoError(t, err)

	v, err := r.Get("name")
	require.NoError(t, err)
	require.Equal(t, "seven", v.String())

	require.NoError(t, r.Set("ok", BoolValue(true)))
	require.ErrorIs(t, r.Set("ok", IntValue(1)), ErrTypeMismatch)
	require.ErrorIs(t, r.Set("name", TextValue("way too long")), ErrTextTooLong)
	require.ErrorIs(t, r.Set("name", TextValue("se\x00ven")), ErrTextNUL)
	require.ErrorIs(t, r.Set("nope", IntValue(1)), ErrUnknownField)

	buf, err := r.Bytes()
	require.NoError(t, err)

	id := RecordID{Page: storage.PageAddress{Handle: 1, Page: 3}, Slot: 5}
	back, err := Decode(d, id, buf)
	require.NoError(t, err)
	require.Equal(t, id, back.ID)
	require.Equal(t, r.Values(), back.Values())
	require.Equal(t, "(1:3,5)", back.ID.String())

	m := back.Map()
	require.Len(t, m, 3)
	require.Equal(t, BoolValue(true), m["ok"])
}

func TestNewRecord_Rejects(t *testing.T) {
	d := NewDescriptor(NewField("id", TypeInt, 0), NewField("s", TypeText, 2))

	_, err := NewRecord(d, []Value{IntValue(1)})
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = NewRecord(d, []Value{FloatValue(1), TextValue("a")})
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = NewRecord(d, []Value{IntValue(1), TextValue("abc")})
	require.ErrorIs(t, err, ErrTextTooLong)

	_, err = NewRecord(d, []Value{IntValue(1), TextValue("a\x00")})
	require.ErrorIs(t, err, ErrTextNUL)
}

func TestValue_Accessors(t *testing.T) {
	n, err := IntValue(3).Int()
	require.NoError(t, err)
	require.Equal(t, int32(3), n)

	_, err = IntValue(3).Text()
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = TextValue("x").Float()
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = FloatValue(1).Bool()
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = BoolValue(true).Datetime()
	require.ErrorIs(t, err, ErrTypeMismatch)

	require.True(t, IntValue(1).Equal(IntValue(1)))
	require.False(t, IntValue(1).Equal(FloatValue(1)))
	require.Equal(t, TypeDatetime, ZeroValue(TypeDatetime).Type())
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want int
	}{
		{"int", IntValue(1), IntValue(2), -1},
		{"int float", IntValue(2), FloatValue(1.5), 1},
		{"float int equal", FloatValue(3), IntValue(3), 0},
		{"text", TextValue("b"), TextValue("a"), 1},
		{"bool", BoolValue(false), BoolValue(true), -1},
		{"datetime", DatetimeValue(time.Unix(10, 0)), DatetimeValue(time.Unix(10, 0)), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compare(tc.a, tc.b)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := Compare(TextValue("1"), IntValue(1))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestArithmetic(t *testing.T) {
	v, err := Add(IntValue(2), IntValue(3))
	require.NoError(t, err)
	require.Equal(t, IntValue(5), v)

	v, err = Mul(IntValue(2), FloatValue(1.5))
	require.NoError(t, err)
	require.Equal(t, FloatValue(3), v)

	v, err = Sub(FloatValue(1), IntValue(3))
	require.NoError(t, err)
	require.Equal(t, FloatValue(-2), v)

	v, err = Div(IntValue(7), IntValue(2))
	require.NoError(t, err)
	require.Equal(t, IntValue(3), v)

	v, err = Mod(FloatValue(7.5), IntValue(2))
	require.NoError(t, err)
	require.Equal(t, FloatValue(1.5), v)

	_, err = Div(IntValue(1), IntValue(0))
	require.ErrorIs(t, err, ErrDivideByZero)
	_, err = Mod(FloatValue(1), FloatValue(0))
	require.ErrorIs(t, err, ErrDivideByZero)

	_, err = Add(TextValue("a"), IntValue(1))
	require.ErrorIs(t, err, ErrTypeMismatch)
}
