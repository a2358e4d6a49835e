package heap

import (
	"fmt"
	"log/slog"

	"github.com/tuannm99/novaheap/internal/record"
	"github.com/tuannm99/novaheap/internal/storage"
)

func (m *Manager) readPageHeader(f *heapFile, pn storage.PageNo) (*PageHeader, error) {
	buf, err := f.view.Read(pn, 0, PageHeaderSize)
	if err != nil {
		return nil, err
	}
	return decodePageHeader(buf, pn)
}

func (m *Manager) writePageHeader(f *heapFile, ph *PageHeader) error {
	buf := make([]byte, PageHeaderSize)
	ph.encode(buf)
	return f.view.Write(ph.PageID, 0, buf)
}

// PageHeader decodes the header of data page addr.
func (m *Manager) PageHeader(addr storage.PageAddress) (*PageHeader, error) {
	f, hdr, err := m.fileAndHeader(addr.Handle)
	if err != nil {
		return nil, err
	}
	if err := checkDataPage(hdr, addr); err != nil {
		return nil, err
	}
	return m.readPageHeader(f, addr.Page)
}

// Bitmap returns the occupancy bitmap of data page addr.
func (m *Manager) Bitmap(addr storage.PageAddress) ([]byte, error) {
	ph, err := m.PageHeader(addr)
	if err != nil {
		return nil, err
	}
	return ph.Bitmap, nil
}

func (m *Manager) fileAndHeader(h storage.FileHandle) (*heapFile, *FileHeader, error) {
	f, err := m.file(h)
	if err != nil {
		return nil, nil, err
	}
	hdr, err := m.readHeader(f)
	if err != nil {
		return nil, nil, err
	}
	return f, hdr, nil
}

// Data pages are numbered 1..NumBlocks in allocation order.
func checkDataPage(hdr *FileHeader, addr storage.PageAddress) error {
	if addr.Page < 1 || int(addr.Page) > hdr.NumBlocks {
		return fmt.Errorf("%w: %s: data pages are 1..%d", storage.ErrPageNotFound, addr, hdr.NumBlocks)
	}
	return nil
}

// allocateDataPage appends a page, links it at the tail of the page list and
// makes it the free list head. hdr is updated but not written.
func (m *Manager) allocateDataPage(f *heapFile, hdr *FileHeader) error {
	pn, err := f.view.Allocate()
	if err != nil {
		return err
	}
	ph := newPageHeader(pn, maxRecords(m.pool.PageSize(), hdr.RecordSize), hdr.LastPage)
	if err := m.writePageHeader(f, ph); err != nil {
		return err
	}

	if hdr.LastPage.Valid() {
		tail, err := m.readPageHeader(f, hdr.LastPage)
		if err != nil {
			return err
		}
		tail.NextPage = pn
		if err := m.writePageHeader(f, tail); err != nil {
			return err
		}
	} else {
		hdr.PageList = pn
	}

	hdr.LastPage = pn
	hdr.FreeList = pn
	hdr.NumBlocks++

	slog.Debug("heap: allocated data page", "file", f.name, "page", pn, "max_records", ph.MaxRecords)
	return nil
}

// InsertRecord stores data in the first free slot of the free list head,
// allocating a new page when the free list is empty.
func (m *Manager) InsertRecord(h storage.FileHandle, data []byte) (record.RecordID, error) {
	f, hdr, err := m.fileAndHeader(h)
	if err != nil {
		return record.RecordID{}, err
	}
	if len(data) != hdr.RecordSize {
		return record.RecordID{}, fmt.Errorf("%w: got %d bytes, want %d", ErrRecordSize, len(data), hdr.RecordSize)
	}

	if !hdr.FreeList.Valid() {
		if err := m.allocateDataPage(f, hdr); err != nil {
			return record.RecordID{}, err
		}
		if err := m.writeHeader(f, hdr); err != nil {
			return record.RecordID{}, err
		}
	}

	pn := hdr.FreeList
	if err := f.view.Pin(pn); err != nil {
		return record.RecordID{}, err
	}
	defer func() { _ = f.view.Unpin(pn) }()

	ph, err := m.readPageHeader(f, pn)
	if err != nil {
		return record.RecordID{}, err
	}
	slot := ph.firstFree()
	if slot < 0 {
		return record.RecordID{}, fmt.Errorf("%w: page %s on free list has %d/%d", ErrPageFull, pn, ph.Occupied, ph.MaxRecords)
	}

	ph.setBit(slot)
	ph.Occupied++
	if ph.Full() {
		hdr.FreeList = ph.NextFree
		ph.NextFree = storage.NoPage
		slog.Debug("heap: page full, popped from free list", "file", f.name, "page", pn, "free_list", hdr.FreeList)
	}
	if err := m.writePageHeader(f, ph); err != nil {
		return record.RecordID{}, err
	}
	if err := f.view.Write(pn, slotOffset(slot, hdr.RecordSize), data); err != nil {
		return record.RecordID{}, err
	}

	hdr.NumTuples++
	if err := m.writeHeader(f, hdr); err != nil {
		return record.RecordID{}, err
	}
	return record.RecordID{Page: f.view.Addr(pn), Slot: slot}, nil
}

// liveSlot loads the page of rid and checks that its slot holds a record.
func (m *Manager) liveSlot(rid record.RecordID) (*heapFile, *FileHeader, *PageHeader, error) {
	f, hdr, err := m.fileAndHeader(rid.Page.Handle)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := checkDataPage(hdr, rid.Page); err != nil {
		return nil, nil, nil, err
	}
	ph, err := m.readPageHeader(f, rid.Page.Page)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ph.Live(rid.Slot) {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrRecordNotFound, rid)
	}
	return f, hdr, ph, nil
}

// DeleteRecord frees the slot of rid. A page that was full goes back to the
// head of the free list.
func (m *Manager) DeleteRecord(rid record.RecordID) error {
	f, hdr, ph, err := m.liveSlot(rid)
	if err != nil {
		return err
	}
	pn := rid.Page.Page
	if err := f.view.Pin(pn); err != nil {
		return err
	}
	defer func() { _ = f.view.Unpin(pn) }()

	if ph.Full() {
		ph.NextFree = hdr.FreeList
		hdr.FreeList = pn
		slog.Debug("heap: page pushed to free list head", "file", f.name, "page", pn, "next_free", ph.NextFree)
	}
	ph.clearBit(rid.Slot)
	ph.Occupied--
	if err := m.writePageHeader(f, ph); err != nil {
		return err
	}

	hdr.NumTuples--
	return m.writeHeader(f, hdr)
}

// UpdateRecord overwrites a live slot in place.
func (m *Manager) UpdateRecord(rid record.RecordID, data []byte) error {
	f, hdr, _, err := m.liveSlot(rid)
	if err != nil {
		return err
	}
	if len(data) != hdr.RecordSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrRecordSize, len(data), hdr.RecordSize)
	}
	return f.view.Write(rid.Page.Page, slotOffset(rid.Slot, hdr.RecordSize), data)
}

// GetRecord returns the bytes of a live slot.
func (m *Manager) GetRecord(rid record.RecordID) ([]byte, error) {
	f, hdr, _, err := m.liveSlot(rid)
	if err != nil {
		return nil, err
	}
	return f.view.Read(rid.Page.Page, slotOffset(rid.Slot, hdr.RecordSize), hdr.RecordSize)
}

// PutRecord writes slot bytes without touching the bitmap or the counts.
func (m *Manager) PutRecord(rid record.RecordID, data []byte) error {
	f, hdr, err := m.fileAndHeader(rid.Page.Handle)
	if err != nil {
		return err
	}
	if err := checkDataPage(hdr, rid.Page); err != nil {
		return err
	}
	if rid.Slot < 0 || rid.Slot >= maxRecords(m.pool.PageSize(), hdr.RecordSize) {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, rid)
	}
	if len(data) != hdr.RecordSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrRecordSize, len(data), hdr.RecordSize)
	}
	return f.view.Write(rid.Page.Page, slotOffset(rid.Slot, hdr.RecordSize), data)
}
