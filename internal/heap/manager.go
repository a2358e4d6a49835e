package heap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"github.com/tuannm99/novaheap/internal/bufferpool"
	"github.com/tuannm99/novaheap/internal/record"
	"github.com/tuannm99/novaheap/internal/storage"
)

const (
	headerPage storage.PageNo = 0
	// TempPrefix names heap files created by CreateTempHeapFile.
	TempPrefix = "tmp-"
)

// heapFile is the in-memory handle state of an open heap file.
type heapFile struct {
	name     string
	volatile bool
	view     *bufferpool.FileView
}

// Manager owns the heap file formats. All page access goes through the pool.
type Manager struct {
	store *storage.StorageManager
	pool  *bufferpool.Pool
	files map[storage.FileHandle]*heapFile
	descs *ristretto.Cache[int32, *record.Descriptor]
}

func NewManager(store *storage.StorageManager, pool *bufferpool.Pool) (*Manager, error) {
	descs, err := ristretto.NewCache(&ristretto.Config[int32, *record.Descriptor]{
		NumCounters:        1e4,
		MaxCost:            1 << 12,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("heap: descriptor cache: %w", err)
	}
	return &Manager{
		store: store,
		pool:  pool,
		files: make(map[storage.FileHandle]*heapFile),
		descs: descs,
	}, nil
}

func (m *Manager) Pool() *bufferpool.Pool { return m.pool }

// Close releases the descriptor cache. Files stay open on the store.
func (m *Manager) Close() {
	m.descs.Close()
}

func (m *Manager) file(h storage.FileHandle) (*heapFile, error) {
	f, ok := m.files[h]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrUnknownFile, h)
	}
	return f, nil
}

func (m *Manager) cacheDesc(h storage.FileHandle, d *record.Descriptor) {
	m.descs.Set(int32(h), d, 1)
	m.descs.Wait()
}

// CreateHeapFile creates name on the store and writes an empty header to page 0.
// A volatile file keeps every page, header included, in the volatile tier.
func (m *Manager) CreateHeapFile(name string, desc *record.Descriptor, volatile bool) (storage.FileHandle, error) {
	if err := desc.Validate(); err != nil {
		return 0, err
	}
	if len(name) == 0 || len(name) > nameWidth-1 {
		return 0, fmt.Errorf("%w: table name must be 1..%d bytes", record.ErrInvalidSchema, nameWidth-1)
	}
	pageSize := m.pool.PageSize()
	if maxRecords(pageSize, desc.RecordSize()) == 0 {
		return 0, fmt.Errorf("%w: record size %d, page size %d", ErrRecordTooLarge, desc.RecordSize(), pageSize)
	}
	if desc.NumFields() > headerCapacity(pageSize) {
		return 0, fmt.Errorf("%w: %d fields, page holds %d", ErrTooManyFields, desc.NumFields(), headerCapacity(pageSize))
	}

	h, err := m.store.Create(name)
	if err != nil {
		return 0, err
	}

	tier := bufferpool.Persistent
	if volatile {
		tier = bufferpool.Volatile
	}
	f := &heapFile{name: name, volatile: volatile, view: m.pool.View(h, tier)}
	m.files[h] = f

	hdr := &FileHeader{
		TableName:  name,
		Volatile:   volatile,
		RecordSize: desc.RecordSize(),
		PageList:   storage.NoPage,
		LastPage:   storage.NoPage,
		FreeList:   storage.NoPage,
		Desc:       desc,
	}
	if err := m.initHeader(f, hdr); err != nil {
		delete(m.files, h)
		f.view.Drop()
		_ = m.store.DeleteFile(h)
		return 0, err
	}
	m.cacheDesc(h, desc)

	slog.Debug("heap: created heap file", "name", name, "handle", h, "volatile", volatile, "record_size", hdr.RecordSize)
	return h, nil
}

func (m *Manager) initHeader(f *heapFile, hdr *FileHeader) error {
	pn, err := f.view.Allocate()
	if err != nil {
		return err
	}
	if pn != headerPage {
		return fmt.Errorf("%w: header allocated at page %s", ErrCorruptHeader, pn)
	}
	return m.writeHeader(f, hdr)
}

// CreateTempHeapFile creates a heap file with a unique generated name.
func (m *Manager) CreateTempHeapFile(desc *record.Descriptor, volatile bool) (storage.FileHandle, error) {
	// The uuid is cut so the name fits the header name field.
	name := TempPrefix + uuid.NewString()[:nameWidth-1-len(TempPrefix)]
	return m.CreateHeapFile(name, desc, volatile)
}

// OpenHeapFile reopens a persistent heap file and validates its header.
func (m *Manager) OpenHeapFile(name string) (storage.FileHandle, error) {
	h, err := m.store.Open(name)
	if err != nil {
		return 0, err
	}
	if _, ok := m.files[h]; ok {
		return h, nil
	}

	f := &heapFile{name: name, view: m.pool.View(h, bufferpool.Persistent)}
	hdr, err := m.loadHeader(f)
	if err != nil {
		slog.Warn("heap: rejecting heap file", "name", name, "err", err)
		f.view.Drop()
		if cerr := m.store.CloseFile(h); cerr != nil {
			slog.Warn("heap: close rejected heap file", "name", name, "err", cerr)
		}
		return 0, err
	}

	m.files[h] = f
	m.cacheDesc(h, hdr.Desc)
	return h, nil
}

// loadHeader reads and validates page 0 of a file being reopened.
func (m *Manager) loadHeader(f *heapFile) (*FileHeader, error) {
	buf, err := f.view.Read(headerPage, 0, m.pool.PageSize())
	if err != nil {
		if errors.Is(err, storage.ErrPageNotFound) {
			err = fmt.Errorf("%w: %s has no header page", ErrCorruptHeader, f.name)
		}
		return nil, err
	}
	hdr, err := decodeFileHeader(buf, nil)
	if err != nil {
		return nil, err
	}
	if hdr.Volatile {
		return nil, fmt.Errorf("%w: %s is volatile", ErrCorruptHeader, f.name)
	}
	return hdr, nil
}

// DeleteHeapFile drops every buffered page of the file without write-back
// and removes it from the store.
func (m *Manager) DeleteHeapFile(h storage.FileHandle) error {
	f, err := m.file(h)
	if err != nil {
		return err
	}
	dropped := f.view.Drop()
	delete(m.files, h)
	m.descs.Del(int32(h))

	slog.Debug("heap: deleting heap file", "name", f.name, "handle", h, "dropped_frames", dropped)
	return m.store.DeleteFile(h)
}

// Files lists the open heap files by handle.
func (m *Manager) Files() map[storage.FileHandle]string {
	out := make(map[storage.FileHandle]string, len(m.files))
	for h, f := range m.files {
		out[h] = f.name
	}
	return out
}

// Flush writes the dirty pages of one file back to the store.
func (m *Manager) Flush(h storage.FileHandle) error {
	f, err := m.file(h)
	if err != nil {
		return err
	}
	return f.view.Flush()
}

func (m *Manager) readHeader(f *heapFile) (*FileHeader, error) {
	buf, err := f.view.Read(headerPage, 0, m.pool.PageSize())
	if err != nil {
		return nil, err
	}
	desc, _ := m.descs.Get(int32(f.view.Handle()))
	hdr, err := decodeFileHeader(buf, desc)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		m.cacheDesc(f.view.Handle(), hdr.Desc)
	}
	return hdr, nil
}

func (m *Manager) writeHeader(f *heapFile, hdr *FileHeader) error {
	buf := make([]byte, m.pool.PageSize())
	if err := hdr.encode(buf); err != nil {
		return err
	}
	return f.view.Write(headerPage, 0, buf)
}

// updateHeader reads, mutates and re-persists the whole header.
func (m *Manager) updateHeader(h storage.FileHandle, fn func(*FileHeader)) error {
	f, err := m.file(h)
	if err != nil {
		return err
	}
	hdr, err := m.readHeader(f)
	if err != nil {
		return err
	}
	fn(hdr)
	return m.writeHeader(f, hdr)
}

// Header returns a decoded copy of page 0.
func (m *Manager) Header(h storage.FileHandle) (*FileHeader, error) {
	f, err := m.file(h)
	if err != nil {
		return nil, err
	}
	return m.readHeader(f)
}

func (m *Manager) TableName(h storage.FileHandle) (string, error) {
	hdr, err := m.Header(h)
	if err != nil {
		return "", err
	}
	return hdr.TableName, nil
}

func (m *Manager) RecordDesc(h storage.FileHandle) (*record.Descriptor, error) {
	hdr, err := m.Header(h)
	if err != nil {
		return nil, err
	}
	return hdr.Desc, nil
}

func (m *Manager) RecordSize(h storage.FileHandle) (int, error) {
	hdr, err := m.Header(h)
	if err != nil {
		return 0, err
	}
	return hdr.RecordSize, nil
}

func (m *Manager) PageList(h storage.FileHandle) (storage.PageNo, error) {
	hdr, err := m.Header(h)
	if err != nil {
		return storage.NoPage, err
	}
	return hdr.PageList, nil
}

func (m *Manager) LastPage(h storage.FileHandle) (storage.PageNo, error) {
	hdr, err := m.Header(h)
	if err != nil {
		return storage.NoPage, err
	}
	return hdr.LastPage, nil
}

func (m *Manager) FreeList(h storage.FileHandle) (storage.PageNo, error) {
	hdr, err := m.Header(h)
	if err != nil {
		return storage.NoPage, err
	}
	return hdr.FreeList, nil
}

func (m *Manager) NumBlocks(h storage.FileHandle) (int, error) {
	hdr, err := m.Header(h)
	if err != nil {
		return 0, err
	}
	return hdr.NumBlocks, nil
}

func (m *Manager) NumTuples(h storage.FileHandle) (int, error) {
	hdr, err := m.Header(h)
	if err != nil {
		return 0, err
	}
	return hdr.NumTuples, nil
}

func (m *Manager) IsVolatile(h storage.FileHandle) (bool, error) {
	f, err := m.file(h)
	if err != nil {
		return false, err
	}
	return f.volatile, nil
}

func (m *Manager) SetPageList(h storage.FileHandle, pn storage.PageNo) error {
	return m.updateHeader(h, func(hdr *FileHeader) { hdr.PageList = pn })
}

func (m *Manager) SetLastPage(h storage.FileHandle, pn storage.PageNo) error {
	return m.updateHeader(h, func(hdr *FileHeader) { hdr.LastPage = pn })
}

func (m *Manager) SetFreeList(h storage.FileHandle, pn storage.PageNo) error {
	return m.updateHeader(h, func(hdr *FileHeader) { hdr.FreeList = pn })
}
