package heap

import (
	"fmt"

	"github.com/tuannm99/novaheap/internal/record"
	"github.com/tuannm99/novaheap/internal/storage"
)

// Scanner walks the live records of one heap file in page-then-slot order.
// Every page it reaches is remembered so callers can rewind with GoToPage.
type Scanner struct {
	m          *Manager
	f          *heapFile
	desc       *record.Descriptor
	recordSize int

	cur     storage.PageNo
	ph      *PageHeader
	slot    int // -1: exhausted
	visited []storage.PageNo
	ordinal int // 1-based index into visited of cur; 0 before any page
}

func (m *Manager) NewScanner(h storage.FileHandle) (*Scanner, error) {
	f, hdr, err := m.fileAndHeader(h)
	if err != nil {
		return nil, err
	}
	sc := &Scanner{
		m:          m,
		f:          f,
		desc:       hdr.Desc,
		recordSize: hdr.RecordSize,
		cur:        storage.NoPage,
		slot:       -1,
	}
	if !hdr.PageList.Valid() {
		return sc, nil
	}
	if err := sc.enter(hdr.PageList); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *Scanner) enter(pn storage.PageNo) error {
	ph, err := sc.m.readPageHeader(sc.f, pn)
	if err != nil {
		return err
	}
	sc.visit(pn, ph)
	return sc.settle(0)
}

// visit makes pn the current page and records it right after the current
// ordinal in the visited list.
func (sc *Scanner) visit(pn storage.PageNo, ph *PageHeader) {
	if sc.ordinal < len(sc.visited) && sc.visited[sc.ordinal] != pn {
		// the chain changed under us, forget what lies ahead
		sc.visited = sc.visited[:sc.ordinal]
	}
	if sc.ordinal == len(sc.visited) {
		sc.visited = append(sc.visited, pn)
	}
	sc.ordinal++
	sc.cur, sc.ph = pn, ph
}

// settle positions slot at the first live slot >= from, moving on to later
// pages while the current one has none.
func (sc *Scanner) settle(from int) error {
	for {
		sc.slot = sc.ph.nextLive(from)
		if sc.slot >= 0 {
			return nil
		}
		if !sc.ph.NextPage.Valid() {
			return nil
		}
		next := sc.ph.NextPage
		ph, err := sc.m.readPageHeader(sc.f, next)
		if err != nil {
			sc.slot = -1
			return err
		}
		sc.visit(next, ph)
		from = 0
	}
}

// Next returns the record at the current position and advances. ok is false
// once the scanner is exhausted.
func (sc *Scanner) Next() (*record.Record, bool, error) {
	if sc.slot < 0 {
		return nil, false, nil
	}
	rid := record.RecordID{Page: sc.f.view.Addr(sc.cur), Slot: sc.slot}
	data, err := sc.f.view.Read(sc.cur, slotOffset(sc.slot, sc.recordSize), sc.recordSize)
	if err != nil {
		return nil, false, err
	}
	r, err := record.Decode(sc.desc, rid, data)
	if err != nil {
		return nil, false, err
	}

	if err := sc.settle(sc.slot + 1); err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// PageOrdinal is the 1-based position, in visiting order, of the page the
// next call to Next reads from. It is 0 for a file without data pages.
func (sc *Scanner) PageOrdinal() int { return sc.ordinal }

// Visited returns how many distinct pages the scanner has reached.
func (sc *Scanner) Visited() int { return len(sc.visited) }

// GoToPage rewinds to the n-th visited page and restarts at its first live slot.
func (sc *Scanner) GoToPage(n int) error {
	if n < 1 || n > len(sc.visited) {
		return fmt.Errorf("%w: %d not in [1,%d]", ErrPageOutOfRange, n, len(sc.visited))
	}
	pn := sc.visited[n-1]
	ph, err := sc.m.readPageHeader(sc.f, pn)
	if err != nil {
		return err
	}
	sc.ordinal = n
	sc.cur, sc.ph = pn, ph
	return sc.settle(0)
}
