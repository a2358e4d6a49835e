package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/tuannm99/novaheap/internal/alias/bx"
)

// Pack encodes values in descriptor order into a fresh RecordSize buffer.
// Padding bytes are zero.
func Pack(d *Descriptor, values []Value) ([]byte, error) {
	if len(values) != len(d.Fields) {
		return nil, fmt.Errorf("%w: %d values for %d fields", ErrTypeMismatch, len(values), len(d.Fields))
	}
	offs, size := d.layout()
	buf := make([]byte, size)
	for i, f := range d.Fields {
		if err := putField(buf[offs[i]:offs[i]+f.Size], f, values[i]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Unpack decodes one packed record.
func Unpack(d *Descriptor, buf []byte) ([]Value, error) {
	offs, size := d.layout()
	if len(buf) < size {
		return nil, fmt.Errorf("%w: %d bytes, record size %d", ErrCorruptRecord, len(buf), size)
	}
	out := make([]Value, len(d.Fields))
	for i, f := range d.Fields {
		v, err := getField(buf[offs[i]:offs[i]+f.Size], f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// GetField decodes a single named field out of a packed record.
func GetField(d *Descriptor, name string, buf []byte) (Value, error) {
	i, off, err := locate(d, name, buf)
	if err != nil {
		return Value{}, err
	}
	f := d.Fields[i]
	return getField(buf[off:off+f.Size], f)
}

// SetField overwrites a single named field inside a packed record.
func SetField(d *Descriptor, name string, buf []byte, v Value) error {
	i, off, err := locate(d, name, buf)
	if err != nil {
		return err
	}
	f := d.Fields[i]
	return putField(buf[off:off+f.Size], f, v)
}

func locate(d *Descriptor, name string, buf []byte) (idx, off int, err error) {
	idx = d.Index(name)
	if idx < 0 {
		return -1, 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	offs, size := d.layout()
	if len(buf) < size {
		return -1, 0, fmt.Errorf("%w: %d bytes, record size %d", ErrCorruptRecord, len(buf), size)
	}
	return idx, offs[idx], nil
}

func putField(dst []byte, f Field, v Value) error {
	if v.typ != f.Type {
		return fmt.Errorf("field %q: %w", f.Name, v.mismatch(f.Type))
	}
	switch f.Type {
	case TypeInt:
		bx.PutI32(dst, v.i)
	case TypeBool:
		var n int32
		if v.b {
			n = 1
		}
		bx.PutI32(dst, n)
	case TypeFloat:
		bx.PutF64(dst, v.f)
	case TypeDatetime:
		bx.PutI64(dst, v.t.UnixNano())
	case TypeText:
		if err := checkText(f, v.s); err != nil {
			return err
		}
		if !bx.PutCString(dst, v.s) {
			return fmt.Errorf("%w: field %q holds %d bytes, got %d", ErrTextTooLong, f.Name, f.TextLen(), len(v.s))
		}
	default:
		return fmt.Errorf("%w: field %q: %v", ErrCorruptRecord, f.Name, errUnknownTypeTag)
	}
	return nil
}

func getField(src []byte, f Field) (Value, error) {
	switch f.Type {
	case TypeInt:
		return IntValue(bx.I32(src)), nil
	case TypeBool:
		return BoolValue(bx.I32(src) != 0), nil
	case TypeFloat:
		return FloatValue(bx.F64(src)), nil
	case TypeDatetime:
		return Value{typ: TypeDatetime, t: time.Unix(0, bx.I64(src)).UTC()}, nil
	case TypeText:
		return TextValue(bx.CString(src)), nil
	}
	return Value{}, fmt.Errorf("%w: field %q: %v", ErrCorruptRecord, f.Name, errUnknownTypeTag)
}

// checkText rejects text a text field cannot hold. Stored text is NUL
// terminated, so an embedded NUL would cut the value short on decode.
func checkText(f Field, s string) error {
	if len(s) > f.TextLen() {
		return fmt.Errorf("%w: field %q holds %d bytes, got %d", ErrTextTooLong, f.Name, f.TextLen(), len(s))
	}
	if i := strings.IndexByte(s, 0); i >= 0 {
		return fmt.Errorf("%w: field %q at byte %d", ErrTextNUL, f.Name, i)
	}
	return nil
}
