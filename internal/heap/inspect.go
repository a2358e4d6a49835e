package heap

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/tuannm99/novaheap/internal/storage"
)

// PageInfo summarizes one data page.
type PageInfo struct {
	Page       storage.PageNo
	Occupied   int
	MaxRecords int
	Prev       storage.PageNo
	Next       storage.PageNo
	NextFree   storage.PageNo
}

// FileInfo is a snapshot of a heap file's header and page chains.
type FileInfo struct {
	Header    *FileHeader
	Pages     []PageInfo       // page list order
	FreeChain []storage.PageNo // free list order
}

// maxChain bounds chain walks so a corrupt cycle cannot loop forever.
func maxChain(hdr *FileHeader) int { return hdr.NumBlocks + 1 }

// Inspect walks the page list and the free list.
func (m *Manager) Inspect(h storage.FileHandle) (*FileInfo, error) {
	f, hdr, err := m.fileAndHeader(h)
	if err != nil {
		return nil, err
	}
	info := &FileInfo{Header: hdr}

	for pn := hdr.PageList; pn.Valid(); {
		if len(info.Pages) > maxChain(hdr) {
			return nil, fmt.Errorf("%w: page list longer than %d blocks", ErrCorruptHeader, hdr.NumBlocks)
		}
		ph, err := m.readPageHeader(f, pn)
		if err != nil {
			return nil, err
		}
		info.Pages = append(info.Pages, PageInfo{
			Page:       pn,
			Occupied:   ph.Occupied,
			MaxRecords: ph.MaxRecords,
			Prev:       ph.PrevPage,
			Next:       ph.NextPage,
			NextFree:   ph.NextFree,
		})
		pn = ph.NextPage
	}

	for pn := hdr.FreeList; pn.Valid(); {
		if len(info.FreeChain) > maxChain(hdr) {
			return nil, fmt.Errorf("%w: free list longer than %d blocks", ErrCorruptHeader, hdr.NumBlocks)
		}
		ph, err := m.readPageHeader(f, pn)
		if err != nil {
			return nil, err
		}
		info.FreeChain = append(info.FreeChain, pn)
		pn = ph.NextFree
	}
	return info, nil
}

// Verify checks the structural invariants of a heap file: the page list is
// a doubly linked chain over every data page, each bitmap agrees with its
// occupied count, the free list holds exactly the non-full pages and the
// tuple count matches.
func (m *Manager) Verify(h storage.FileHandle) error {
	info, err := m.Inspect(h)
	if err != nil {
		return err
	}
	hdr := info.Header
	f, err := m.file(h)
	if err != nil {
		return err
	}

	if len(info.Pages) != hdr.NumBlocks {
		return fmt.Errorf("%w: page list has %d pages, header says %d", ErrCorruptHeader, len(info.Pages), hdr.NumBlocks)
	}

	nonFull := make(map[storage.PageNo]bool)
	tuples := 0
	prev := storage.NoPage
	for _, p := range info.Pages {
		if p.Prev != prev {
			return fmt.Errorf("%w: page %s prev=%s, want %s", ErrCorruptHeader, p.Page, p.Prev, prev)
		}
		ph, err := m.readPageHeader(f, p.Page)
		if err != nil {
			return err
		}
		if pc := ph.popCount(); pc != ph.Occupied {
			return fmt.Errorf("%w: page %s bitmap has %d bits, occupied=%d", ErrCorruptHeader, p.Page, pc, ph.Occupied)
		}
		if !ph.Full() {
			nonFull[p.Page] = true
		}
		tuples += ph.Occupied
		prev = p.Page
	}
	if hdr.LastPage != prev {
		return fmt.Errorf("%w: last page %s, chain ends at %s", ErrCorruptHeader, hdr.LastPage, prev)
	}
	if tuples != hdr.NumTuples {
		return fmt.Errorf("%w: %d live slots, header says %d tuples", ErrCorruptHeader, tuples, hdr.NumTuples)
	}

	if len(info.FreeChain) != len(nonFull) {
		return fmt.Errorf("%w: free list has %d pages, %d are non-full", ErrCorruptHeader, len(info.FreeChain), len(nonFull))
	}
	for _, pn := range info.FreeChain {
		if !nonFull[pn] {
			return fmt.Errorf("%w: page %s on free list is full or repeated", ErrCorruptHeader, pn)
		}
		delete(nonFull, pn)
	}
	return nil
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Fprintf(format string, a ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, a...)
}

func (e *errWriter) Fprintln(a ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintln(e.w, a...)
}

// Dump prints the header, every data page with its bitmap and a hex preview
// of each live slot.
func (m *Manager) Dump(w io.Writer, h storage.FileHandle) error {
	info, err := m.Inspect(h)
	if err != nil {
		return err
	}
	f, err := m.file(h)
	if err != nil {
		return err
	}
	hdr := info.Header
	ew := &errWriter{w: w}

	ew.Fprintf("=== Heap File %q (handle %d) ===\n", hdr.TableName, h)
	ew.Fprintf("volatile=%t recordSize=%d blocks=%d tuples=%d\n",
		hdr.Volatile, hdr.RecordSize, hdr.NumBlocks, hdr.NumTuples)
	ew.Fprintf("pageList=%s lastPage=%s freeList=%s\n", hdr.PageList, hdr.LastPage, hdr.FreeList)
	ew.Fprintf("fields=%s\n", hdr.Desc)

	const maxPreview = 32
	for _, p := range info.Pages {
		if ew.err != nil {
			break
		}
		ph, err := m.readPageHeader(f, p.Page)
		if err != nil {
			return err
		}
		ew.Fprintf("\n-- Page %s -- occupied=%d/%d prev=%s next=%s nextFree=%s\n",
			p.Page, ph.Occupied, ph.MaxRecords, ph.PrevPage, ph.NextPage, ph.NextFree)
		ew.Fprintf("bitmap=%s\n", hex.EncodeToString(ph.Bitmap))

		for slot := ph.nextLive(0); slot >= 0; slot = ph.nextLive(slot + 1) {
			data, err := f.view.Read(p.Page, slotOffset(slot, hdr.RecordSize), hdr.RecordSize)
			if err != nil {
				ew.Fprintf("[%d] <error: %v>\n", slot, err)
				continue
			}
			preview := data
			if len(preview) > maxPreview {
				preview = preview[:maxPreview]
			}
			ew.Fprintf("[%d] preview(hex)=%s\n", slot, hex.EncodeToString(preview))
		}
	}

	ew.Fprintf("\n-- FreeChain --\n%v\n", info.FreeChain)
	ew.Fprintln("=== End Heap File ===")
	return ew.err
}

func (m *Manager) DumpString(h storage.FileHandle) string {
	var b bytes.Buffer
	if err := m.Dump(&b, h); err != nil {
		_, _ = b.WriteString("\n<dump error: " + err.Error() + ">\n")
	}
	return b.String()
}
