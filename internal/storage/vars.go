package storage

import (
	"errors"
	"fmt"
)

const (
	OneB  = 1 << 0  // 1
	OneKB = 1 << 10 // 1,024
	OneMB = 1 << 20 // 1,048,576
	OneGB = 1 << 30 // 1,073,741,824

	DefaultPageSize     = 4 * OneKB
	DefaultSegmentPages = OneGB / DefaultPageSize // 262,144 pages/segment
)

const (
	FileMode0644 = 0o644
	FileMode0664 = 0o664
	FileMode0755 = 0o755
)

var (
	ErrPageNotFound  = errors.New("storage: page not found")
	ErrFileNotFound  = errors.New("storage: file not found")
	ErrFileExists    = errors.New("storage: file already exists")
	ErrPageCorrupted = errors.New("storage: page is corrupted")
	ErrStorageIO     = errors.New("storage: I/O error")
	ErrWrongSize     = errors.New("storage: buffer size != page size")
	ErrStoreClosed   = errors.New("storage: store is closed")
)

// FileHandle identifies an open file of a StorageManager. Handles are never
// reused within the lifetime of one StorageManager.
type FileHandle int32

// PageNo is a page number inside one file. NoPage marks an absent link.
type PageNo int32

const NoPage PageNo = -1

func (n PageNo) Valid() bool { return n >= 0 }

func (n PageNo) String() string {
	if !n.Valid() {
		return "none"
	}
	return fmt.Sprintf("%d", int32(n))
}

// PageAddress is the identity of a page: (file handle, page number).
type PageAddress struct {
	Handle FileHandle
	Page   PageNo
}

func NewPageAddress(h FileHandle, n PageNo) (PageAddress, error) {
	if !n.Valid() {
		return PageAddress{}, fmt.Errorf("%w: invalid page number %d", ErrPageNotFound, n)
	}
	return PageAddress{Handle: h, Page: n}, nil
}

func (a PageAddress) String() string {
	return fmt.Sprintf("%d:%s", a.Handle, a.Page)
}
