package record

import (
	"fmt"

	"github.com/tuannm99/novaheap/internal/storage"
)

// RecordID locates a record slot: the data page plus the slot index in it.
type RecordID struct {
	Page storage.PageAddress
	Slot int
}

func (r RecordID) String() string {
	return fmt.Sprintf("(%s,%d)", r.Page, r.Slot)
}

// Record is a decoded slot. ID points back at the slot it came from so the
// heap can update or delete it without scanning.
type Record struct {
	ID     RecordID
	desc   *Descriptor
	values []Value
}

// NewRecord checks values against d. The ID is left zero until the record is stored.
func NewRecord(d *Descriptor, values []Value) (*Record, error) {
	if len(values) != len(d.Fields) {
		return nil, fmt.Errorf("%w: %d values for %d fields", ErrTypeMismatch, len(values), len(d.Fields))
	}
	for i, f := range d.Fields {
		if values[i].typ != f.Type {
			return nil, fmt.Errorf("field %q: %w", f.Name, values[i].mismatch(f.Type))
		}
		if f.Type == TypeText {
			if err := checkText(f, values[i].s); err != nil {
				return nil, err
			}
		}
	}
	vals := make([]Value, len(values))
	copy(vals, values)
	return &Record{desc: d, values: vals}, nil
}

// Decode unpacks buf into a record stamped with id.
func Decode(d *Descriptor, id RecordID, buf []byte) (*Record, error) {
	vals, err := Unpack(d, buf)
	if err != nil {
		return nil, err
	}
	return &Record{ID: id, desc: d, values: vals}, nil
}

func (r *Record) Descriptor() *Descriptor { return r.desc }

func (r *Record) Get(name string) (Value, error) {
	i := r.desc.Index(name)
	if i < 0 {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return r.values[i], nil
}

// Set replaces one value; the type must match the field.
func (r *Record) Set(name string, v Value) error {
	i := r.desc.Index(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	f := r.desc.Fields[i]
	if v.typ != f.Type {
		return fmt.Errorf("field %q: %w", name, v.mismatch(f.Type))
	}
	if f.Type == TypeText {
		if err := checkText(f, v.s); err != nil {
			return err
		}
	}
	r.values[i] = v
	return nil
}

// Values returns a copy in descriptor order.
func (r *Record) Values() []Value {
	out := make([]Value, len(r.values))
	copy(out, r.values)
	return out
}

func (r *Record) Map() map[string]Value {
	m := make(map[string]Value, len(r.values))
	for i, f := range r.desc.Fields {
		m[f.Name] = r.values[i]
	}
	return m
}

// Bytes packs the record for storage.
func (r *Record) Bytes() ([]byte, error) {
	return Pack(r.desc, r.values)
}

func (r *Record) String() string {
	s := r.ID.String() + " {"
	for i, f := range r.desc.Fields {
		if i > 0 {
			s += ", "
		}
		s += f.Name + "=" + r.values[i].String()
	}
	return s + "}"
}
