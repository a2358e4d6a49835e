package bufferpool

import "github.com/tuannm99/novaheap/pkg/lrux"

type lruAdapter struct {
	l *lrux.LRU
}

func newLRUAdapter(capacity int) Replacer {
	return &lruAdapter{l: lrux.New(capacity)}
}

func (a *lruAdapter) RecordAccess(frameID int) {
	a.l.Touch(frameID)
}

func (a *lruAdapter) SetEvictable(frameID int, e bool) {
	a.l.SetEvictable(frameID, e)
}

func (a *lruAdapter) Victim() (int, bool) {
	return a.l.Victim()
}

func (a *lruAdapter) Evict() (int, bool) {
	return a.l.Evict()
}

func (a *lruAdapter) Remove(frameID int) {
	a.l.Remove(frameID)
}

func (a *lruAdapter) Size() int {
	return a.l.Size()
}
