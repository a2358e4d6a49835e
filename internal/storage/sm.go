package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/tuannm99/novaheap/internal/alias/util"
)

// fileSet is one open logical file. Segments are stored as: name, name.1, name.2, ...
type fileSet struct {
	name  string
	segs  map[int32]afero.File
	pages int // logical length in pages
}

// StorageManager is the page store: it maps (handle, pageNo) -> (segment, offset)
// and moves whole pages between disk and caller buffers. It does no caching.
type StorageManager struct {
	fs           afero.Fs
	dir          string
	pageSize     int
	segmentPages int

	mu         sync.Mutex
	nextHandle FileHandle
	files      map[FileHandle]*fileSet
	byName     map[string]FileHandle
	closed     bool
}

// NewStorageManager creates a page store rooted at dir on fs.
// Non-positive sizes fall back to the defaults.
func NewStorageManager(fs afero.Fs, dir string, pageSize, segmentPages int) (*StorageManager, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if segmentPages <= 0 {
		segmentPages = DefaultSegmentPages
	}
	if err := fs.MkdirAll(dir, FileMode0755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrStorageIO, dir, err)
	}
	return &StorageManager{
		fs:           fs,
		dir:          dir,
		pageSize:     pageSize,
		segmentPages: segmentPages,
		nextHandle:   1,
		files:        make(map[FileHandle]*fileSet),
		byName:       make(map[string]FileHandle),
	}, nil
}

func (sm *StorageManager) PageSize() int { return sm.pageSize }

func (sm *StorageManager) Dir() string { return sm.dir }

func (sm *StorageManager) locate(pageNo PageNo) (segNo int32, offset int64) {
	segNo = int32(int(pageNo) / sm.segmentPages)
	pageInSeg := int(pageNo) % sm.segmentPages
	return segNo, int64(pageInSeg) * int64(sm.pageSize)
}

func (sm *StorageManager) segPath(name string, segNo int32) string {
	return filepath.Join(sm.dir, SegFileName(name, segNo))
}

// openSegment returns the cached segment file, opening it (RDWR|CREATE, no truncate) on first use.
func (sm *StorageManager) openSegment(f *fileSet, segNo int32) (afero.File, error) {
	if seg, ok := f.segs[segNo]; ok {
		return seg, nil
	}
	seg, err := sm.fs.OpenFile(sm.segPath(f.name, segNo), os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, err
	}
	f.segs[segNo] = seg
	return seg, nil
}

// countPages computes the logical length of a file by scanning all its segments.
func (sm *StorageManager) countPages(name string) (int, error) {
	segs, err := listSegments(sm.fs, sm.dir, name)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, segNo := range segs {
		info, err := sm.fs.Stat(sm.segPath(name, segNo))
		if err != nil {
			return 0, err
		}
		pages := int(info.Size() / int64(sm.pageSize))
		if pages == 0 {
			continue
		}
		// the last non-empty segment decides the length
		total = int(segNo)*sm.segmentPages + pages
	}
	return total, nil
}

func (sm *StorageManager) lookup(h FileHandle) (*fileSet, error) {
	if sm.closed {
		return nil, ErrStoreClosed
	}
	f, ok := sm.files[h]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrFileNotFound, h)
	}
	return f, nil
}

func (sm *StorageManager) register(name string, pages int) FileHandle {
	h := sm.nextHandle
	sm.nextHandle++
	sm.files[h] = &fileSet{name: name, segs: make(map[int32]afero.File), pages: pages}
	sm.byName[name] = h
	return h
}

// Create makes a new empty file and returns its handle.
func (sm *StorageManager) Create(name string) (FileHandle, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return 0, ErrStoreClosed
	}
	if _, ok := sm.byName[name]; ok {
		return 0, fmt.Errorf("%w: %s", ErrFileExists, name)
	}
	if _, err := sm.fs.Stat(sm.segPath(name, 0)); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrFileExists, name)
	}

	h := sm.register(name, 0)
	if _, err := sm.openSegment(sm.files[h], 0); err != nil {
		delete(sm.files, h)
		delete(sm.byName, name)
		return 0, fmt.Errorf("%w: create %s: %v", ErrStorageIO, name, err)
	}
	return h, nil
}

// Open returns the handle of an existing file. Opening an already open
// file returns the same handle.
func (sm *StorageManager) Open(name string) (FileHandle, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return 0, ErrStoreClosed
	}
	if h, ok := sm.byName[name]; ok {
		return h, nil
	}
	if _, err := sm.fs.Stat(sm.segPath(name, 0)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return 0, fmt.Errorf("%w: stat %s: %v", ErrStorageIO, name, err)
	}

	pages, err := sm.countPages(name)
	if err != nil {
		return 0, fmt.Errorf("%w: count pages %s: %v", ErrStorageIO, name, err)
	}
	return sm.register(name, pages), nil
}

// Name returns the file name behind a handle.
func (sm *StorageManager) Name(h FileHandle) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	f, err := sm.lookup(h)
	if err != nil {
		return "", err
	}
	return f.name, nil
}

// ReadPage reads exactly one page into dst. Pages at or beyond the end of
// the file are reported as ErrPageNotFound. A short read inside the file is
// zero-filled.
func (sm *StorageManager) ReadPage(h FileHandle, pageNo PageNo, dst []byte) error {
	if len(dst) != sm.pageSize {
		return fmt.Errorf("%w: dst must be exactly %d bytes", ErrWrongSize, sm.pageSize)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	f, err := sm.lookup(h)
	if err != nil {
		return err
	}
	if !pageNo.Valid() || int(pageNo) >= f.pages {
		return fmt.Errorf("%w: %s page %s", ErrPageNotFound, f.name, pageNo)
	}

	segNo, off := sm.locate(pageNo)
	seg, err := sm.openSegment(f, segNo)
	if err != nil {
		return fmt.Errorf("%w: open segment %d of %s: %v", ErrStorageIO, segNo, f.name, err)
	}

	n, err := seg.ReadAt(dst, off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: read %s page %s: %v", ErrStorageIO, f.name, pageNo, err)
	}
	clear(dst[n:])
	return nil
}

// WritePage writes exactly one page from src at the location computed from pageNo.
// Writing past the end extends the file.
func (sm *StorageManager) WritePage(h FileHandle, pageNo PageNo, src []byte) error {
	if len(src) != sm.pageSize {
		return fmt.Errorf("%w: src must be exactly %d bytes", ErrWrongSize, sm.pageSize)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	f, err := sm.lookup(h)
	if err != nil {
		return err
	}
	if !pageNo.Valid() {
		return fmt.Errorf("%w: %s page %s", ErrPageNotFound, f.name, pageNo)
	}

	segNo, off := sm.locate(pageNo)
	seg, err := sm.openSegment(f, segNo)
	if err != nil {
		return fmt.Errorf("%w: open segment %d of %s: %v", ErrStorageIO, segNo, f.name, err)
	}

	n, err := seg.WriteAt(src, off)
	if err != nil {
		return fmt.Errorf("%w: write %s page %s: %v", ErrStorageIO, f.name, pageNo, err)
	}
	if n != sm.pageSize {
		return fmt.Errorf("%w: write %s page %s: %v", ErrStorageIO, f.name, pageNo, io.ErrShortWrite)
	}
	if int(pageNo) >= f.pages {
		f.pages = int(pageNo) + 1
	}
	return nil
}

// PageCount reports the file length in pages.
func (sm *StorageManager) PageCount(h FileHandle) (int, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	f, err := sm.lookup(h)
	if err != nil {
		return 0, err
	}
	return f.pages, nil
}

// CloseFile closes the segments of one file and forgets its handle.
// The file stays on disk and can be opened again.
func (sm *StorageManager) CloseFile(h FileHandle) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	f, err := sm.lookup(h)
	if err != nil {
		return err
	}
	var firstErr error
	for _, seg := range f.segs {
		if err := seg.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: sync %s: %v", ErrStorageIO, f.name, err)
		}
		util.CloseFileFunc(seg)
	}
	delete(sm.files, h)
	delete(sm.byName, f.name)
	return firstErr
}

// DeleteFile closes the file and removes all of its segments.
// The handle is invalid afterwards.
func (sm *StorageManager) DeleteFile(h FileHandle) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	f, err := sm.lookup(h)
	if err != nil {
		return err
	}
	for _, seg := range f.segs {
		util.CloseFileFunc(seg)
	}
	delete(sm.files, h)
	delete(sm.byName, f.name)

	if err := removeAllSegments(sm.fs, sm.dir, f.name); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorageIO, f.name, err)
	}
	return nil
}

// Close syncs and closes every open segment. The store is unusable afterwards.
func (sm *StorageManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return nil
	}
	sm.closed = true

	var firstErr error
	for _, f := range sm.files {
		for _, seg := range f.segs {
			if err := seg.Sync(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%w: sync %s: %v", ErrStorageIO, f.name, err)
			}
			util.CloseFileFunc(seg)
		}
	}
	sm.files = nil
	sm.byName = nil
	return firstErr
}
