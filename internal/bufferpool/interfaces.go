package bufferpool

import "github.com/tuannm99/novaheap/internal/storage"

// PageStore is the disk side of the pool. *storage.StorageManager implements it.
type PageStore interface {
	ReadPage(h storage.FileHandle, pageNo storage.PageNo, dst []byte) error
	WritePage(h storage.FileHandle, pageNo storage.PageNo, src []byte) error
	PageCount(h storage.FileHandle) (int, error)
	PageSize() int
	Close() error
}

type Replacer interface {
	RecordAccess(frameID int)
	SetEvictable(frameID int, evictable bool)
	Victim() (frameID int, ok bool)
	Evict() (frameID int, ok bool)
	Remove(frameID int)
	Size() int
}

var _ PageStore = (*storage.StorageManager)(nil)
