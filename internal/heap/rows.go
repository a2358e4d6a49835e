package heap

import (
	"github.com/tuannm99/novaheap/internal/record"
	"github.com/tuannm99/novaheap/internal/storage"
)

// InsertValues packs values with the file's descriptor and inserts them.
func (m *Manager) InsertValues(h storage.FileHandle, values []record.Value) (record.RecordID, error) {
	desc, err := m.RecordDesc(h)
	if err != nil {
		return record.RecordID{}, err
	}
	data, err := record.Pack(desc, values)
	if err != nil {
		return record.RecordID{}, err
	}
	return m.InsertRecord(h, data)
}

// Fetch decodes the live record at rid.
func (m *Manager) Fetch(rid record.RecordID) (*record.Record, error) {
	desc, err := m.RecordDesc(rid.Page.Handle)
	if err != nil {
		return nil, err
	}
	data, err := m.GetRecord(rid)
	if err != nil {
		return nil, err
	}
	return record.Decode(desc, rid, data)
}

// Save writes a modified record back to the slot it was read from.
func (m *Manager) Save(r *record.Record) error {
	data, err := r.Bytes()
	if err != nil {
		return err
	}
	return m.UpdateRecord(r.ID, data)
}

// Scan calls fn for every live record in page-then-slot order and stops at
// the first error.
func (m *Manager) Scan(h storage.FileHandle, fn func(r *record.Record) error) error {
	sc, err := m.NewScanner(h)
	if err != nil {
		return err
	}
	for {
		r, ok, err := sc.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}
