package bufferpool

import "github.com/tuannm99/novaheap/internal/storage"

// FileView binds a Pool to one file and one tier, so the heap layer can
// address pages by number without caring which tier backs the file.
type FileView struct {
	p    *Pool
	h    storage.FileHandle
	tier Tier
}

// View returns a file-scoped accessor backed by the shared Pool.
func (p *Pool) View(h storage.FileHandle, t Tier) *FileView {
	return &FileView{p: p, h: h, tier: t}
}

func (v *FileView) Handle() storage.FileHandle { return v.h }

func (v *FileView) Tier() Tier { return v.tier }

func (v *FileView) Addr(n storage.PageNo) storage.PageAddress {
	return storage.PageAddress{Handle: v.h, Page: n}
}

func (v *FileView) Fetch(n storage.PageNo) (int, error) {
	return v.p.Fetch(v.tier, v.Addr(n))
}

func (v *FileView) Read(n storage.PageNo, off, size int) ([]byte, error) {
	return v.p.Read(v.tier, v.Addr(n), off, size)
}

func (v *FileView) Write(n storage.PageNo, off int, data []byte) error {
	return v.p.Write(v.tier, v.Addr(n), off, data)
}

// Pin fetches page n through the view's tier and pins it.
func (v *FileView) Pin(n storage.PageNo) error {
	if _, err := v.Fetch(n); err != nil {
		return err
	}
	return v.p.Pin(v.Addr(n))
}

func (v *FileView) Unpin(n storage.PageNo) error {
	return v.p.Unpin(v.Addr(n))
}

// Allocate appends a new zeroed page to the file.
func (v *FileView) Allocate() (storage.PageNo, error) {
	var (
		addr storage.PageAddress
		err  error
	)
	if v.tier == Volatile {
		addr, err = v.p.AllocateVolatilePage(v.h)
	} else {
		addr, err = v.p.AllocatePage(v.h)
	}
	if err != nil {
		return storage.NoPage, err
	}
	return addr.Page, nil
}

// Flush writes every dirty persistent frame of this file back. No-op for volatile views.
func (v *FileView) Flush() error {
	if v.tier == Volatile {
		return nil
	}
	return v.p.FlushFile(v.h)
}

// Drop removes every frame of this file from the pool without writing back.
func (v *FileView) Drop() int {
	return v.p.RemoveFile(v.h)
}
