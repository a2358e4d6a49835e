package engine

import (
	"github.com/tuannm99/novaheap/internal/heap"
	"github.com/tuannm99/novaheap/internal/record"
	"github.com/tuannm99/novaheap/internal/storage"
)

// Table is a named heap file with row-level helpers on top of the heap manager.
type Table struct {
	Name     string
	Handle   storage.FileHandle
	Volatile bool

	desc *record.Descriptor
	heap *heap.Manager
}

func (t *Table) Desc() *record.Descriptor { return t.desc }

func (t *Table) Insert(values ...record.Value) (record.RecordID, error) {
	return t.heap.InsertValues(t.Handle, values)
}

func (t *Table) Get(rid record.RecordID) (*record.Record, error) {
	return t.heap.Fetch(rid)
}

// Update writes r back to the slot it was read from.
func (t *Table) Update(r *record.Record) error {
	return t.heap.Save(r)
}

func (t *Table) Delete(rid record.RecordID) error {
	return t.heap.DeleteRecord(rid)
}

func (t *Table) Scan(fn func(r *record.Record) error) error {
	return t.heap.Scan(t.Handle, fn)
}

func (t *Table) Scanner() (*heap.Scanner, error) {
	return t.heap.NewScanner(t.Handle)
}

// Count returns the live tuple count from the file header.
func (t *Table) Count() (int, error) {
	return t.heap.NumTuples(t.Handle)
}

func (t *Table) Flush() error {
	return t.heap.Flush(t.Handle)
}
