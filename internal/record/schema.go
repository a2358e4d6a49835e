package record

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tuannm99/novaheap/internal/storage"
)

type FieldType uint8

// Stored in heap file headers; order is part of the on-disk format.
const (
	TypeInt FieldType = iota
	TypeFloat
	TypeText
	TypeDatetime
	TypeBool
)

const (
	// MaxNameLen is the longest field or table name a heap header can hold.
	MaxNameLen = 31
	// MaxTextLen caps declared text widths.
	MaxTextLen = 1 << 16
)

var (
	ErrTypeMismatch   = errors.New("record: value type does not match field")
	ErrUnknownField   = errors.New("record: unknown field")
	ErrTextTooLong    = errors.New("record: text longer than field width")
	ErrTextNUL        = errors.New("record: text contains a NUL byte")
	ErrDatetimeRange  = errors.New("record: datetime outside the int64 nanosecond range")
	ErrInvalidSchema  = errors.New("record: invalid descriptor")
	ErrDivideByZero   = errors.New("record: division by zero")
	ErrCorruptRecord  = fmt.Errorf("record: corrupt record: %w", storage.ErrPageCorrupted)
	errUnknownTypeTag = errors.New("unknown type tag")
)

func (t FieldType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeText:
		return "text"
	case TypeDatetime:
		return "datetime"
	case TypeBool:
		return "bool"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

func (t FieldType) Valid() bool { return t <= TypeBool }

// ParseFieldType accepts the names produced by FieldType.String.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer":
		return TypeInt, nil
	case "float", "double":
		return TypeFloat, nil
	case "text", "varchar", "string":
		return TypeText, nil
	case "datetime", "timestamp":
		return TypeDatetime, nil
	case "bool", "boolean":
		return TypeBool, nil
	}
	return 0, fmt.Errorf("%w: unknown field type %q", ErrInvalidSchema, s)
}

// width returns the on-disk size and alignment of a non-text type.
func (t FieldType) width() (size, align int) {
	switch t {
	case TypeInt, TypeBool:
		return 4, 4
	case TypeFloat, TypeDatetime:
		return 8, 8
	}
	return 0, 1
}

// Field is one column of a record descriptor. Size is the stored width in bytes;
// for text it includes the NUL terminator.
type Field struct {
	Name string
	Type FieldType
	Size int
}

// NewField builds a field. textLen is the declared text length and is ignored
// for other types.
func NewField(name string, t FieldType, textLen int) Field {
	if t == TypeText {
		return Field{Name: name, Type: t, Size: textLen + 1}
	}
	size, _ := t.width()
	return Field{Name: name, Type: t, Size: size}
}

// TextLen is the declared text length of a text field.
func (f Field) TextLen() int {
	if f.Type != TypeText {
		return 0
	}
	return f.Size - 1
}

// Descriptor is the ordered field list of a heap file.
type Descriptor struct {
	Fields []Field
}

func NewDescriptor(fields ...Field) *Descriptor {
	return &Descriptor{Fields: fields}
}

func (d *Descriptor) NumFields() int { return len(d.Fields) }

// Index returns the position of the named field, or -1.
func (d *Descriptor) Index(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (d *Descriptor) Names() []string {
	out := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		out[i] = f.Name
	}
	return out
}

// Validate checks names, types and widths.
func (d *Descriptor) Validate() error {
	if len(d.Fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidSchema)
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for i, f := range d.Fields {
		if f.Name == "" || len(f.Name) > MaxNameLen {
			return fmt.Errorf("%w: field %d: name must be 1..%d bytes", ErrInvalidSchema, i, MaxNameLen)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		seen[f.Name] = struct{}{}

		if !f.Type.Valid() {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidSchema, f.Name, errUnknownTypeTag)
		}
		if f.Type == TypeText {
			if f.Size < 2 || f.Size > MaxTextLen+1 {
				return fmt.Errorf("%w: field %q: text width %d", ErrInvalidSchema, f.Name, f.Size)
			}
			continue
		}
		if size, _ := f.Type.width(); f.Size != size {
			return fmt.Errorf("%w: field %q: %s must be %d bytes, got %d", ErrInvalidSchema, f.Name, f.Type, size, f.Size)
		}
	}
	return nil
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

// Offsets returns the byte offset of every field inside a packed record.
func (d *Descriptor) Offsets() []int {
	offs, _ := d.layout()
	return offs
}

// RecordSize is the packed size of one record, a multiple of 8.
func (d *Descriptor) RecordSize() int {
	_, size := d.layout()
	return size
}

func (d *Descriptor) layout() ([]int, int) {
	offs := make([]int, len(d.Fields))
	off := 0
	for i, f := range d.Fields {
		if f.Type != TypeText {
			_, a := f.Type.width()
			off = alignUp(off, a)
		}
		offs[i] = off
		off += f.Size
	}
	return offs, alignUp(off, 8)
}

func (d *Descriptor) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, f := range d.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteByte(' ')
		sb.WriteString(f.Type.String())
		if f.Type == TypeText {
			fmt.Fprintf(&sb, "(%d)", f.TextLen())
		}
	}
	sb.WriteByte(')')
	return sb.String()
}
