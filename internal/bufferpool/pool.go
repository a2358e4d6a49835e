package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/novaheap/internal/storage"
)

var (
	DefaultPersistentCapacity = 128
	DefaultVolatileCapacity   = 32

	ErrBufferExhausted = errors.New("bufferpool: no free frame available (all pinned)")
	ErrNotResident     = fmt.Errorf("bufferpool: page not resident: %w", storage.ErrPageNotFound)
	ErrOutOfRange      = errors.New("bufferpool: byte range outside page")
	ErrPoolClosed      = errors.New("bufferpool: pool is closed")
	ErrWrongTier       = errors.New("bufferpool: page is resident in the other tier")
)

// Tier selects one of the two slot arrays.
type Tier uint8

const (
	// Persistent frames are backed by the page store.
	Persistent Tier = iota
	// Volatile frames are never written to the page store.
	Volatile
)

func (t Tier) String() string {
	switch t {
	case Persistent:
		return "persistent"
	case Volatile:
		return "volatile"
	default:
		return "unknown"
	}
}

// Frame is one occupied slot. The last-access stamp lives in the tier's replacer.
type Frame struct {
	Addr  storage.PageAddress
	Block []byte
	Dirty bool // persistent tier only
	Pin   int32
	// Demoted is set on a persistent frame holding a block pushed out of the volatile tier.
	Demoted bool
}

type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	Demotions  int64
	Promotions int64
	DiskReads  int64
	DiskWrites int64
}

type tierFrames struct {
	kind   Tier
	frames []*Frame                     // len == capacity, nil == free slot
	table  map[storage.PageAddress]int // addr -> frame index
	repl   Replacer
}

func newTierFrames(kind Tier, capacity int) *tierFrames {
	return &tierFrames{
		kind:   kind,
		frames: make([]*Frame, capacity),
		table:  make(map[storage.PageAddress]int),
		repl:   newLRUAdapter(capacity),
	}
}

func (t *tierFrames) lookup(addr storage.PageAddress) (int, *Frame, bool) {
	idx, ok := t.table[addr]
	if !ok {
		return -1, nil, false
	}
	f := t.frames[idx]
	if f == nil {
		// Inconsistent mapping -> cleanup.
		delete(t.table, addr)
		return -1, nil, false
	}
	return idx, f, true
}

func (t *tierFrames) freeSlot() int {
	for i, f := range t.frames {
		if f == nil {
			return i
		}
	}
	return -1
}

// hasRoom reports whether a frame can be obtained without failing.
func (t *tierFrames) hasRoom() bool {
	return t.freeSlot() != -1 || t.repl.Size() > 0
}

func (t *tierFrames) place(idx int, f *Frame) {
	t.frames[idx] = f
	t.table[f.Addr] = idx
	t.repl.RecordAccess(idx)
	t.repl.SetEvictable(idx, f.Pin == 0)
}

func (t *tierFrames) drop(idx int) *Frame {
	f := t.frames[idx]
	if f == nil {
		return nil
	}
	t.frames[idx] = nil
	delete(t.table, f.Addr)
	t.repl.Remove(idx)
	return f
}

func (t *tierFrames) occupied() int {
	n := 0
	for _, f := range t.frames {
		if f != nil {
			n++
		}
	}
	return n
}

// Pool is the two-tier page cache. A page address is resident in at most
// one slot across both tiers.
type Pool struct {
	store    PageStore
	pageSize int

	mu         sync.Mutex
	persistent *tierFrames
	volatile   *tierFrames
	volatileNo map[storage.FileHandle]storage.PageNo // next volatile page number per file
	stats      Stats
	closed     bool
}

func NewPool(store PageStore, persistentCapacity, volatileCapacity int) *Pool {
	if persistentCapacity <= 0 {
		persistentCapacity = DefaultPersistentCapacity
	}
	if volatileCapacity <= 0 {
		volatileCapacity = DefaultVolatileCapacity
	}
	return &Pool{
		store:      store,
		pageSize:   store.PageSize(),
		persistent: newTierFrames(Persistent, persistentCapacity),
		volatile:   newTierFrames(Volatile, volatileCapacity),
		volatileNo: make(map[storage.FileHandle]storage.PageNo),
	}
}

func (p *Pool) PageSize() int { return p.pageSize }

func (p *Pool) tier(t Tier) *tierFrames {
	if t == Volatile {
		return p.volatile
	}
	return p.persistent
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Occupied returns the number of used slots in a tier.
func (p *Pool) Occupied(t Tier) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tier(t).occupied()
}

// Resident reports which tier and slot currently hold addr.
func (p *Pool) Resident(addr storage.PageAddress) (Tier, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.residentLocked(addr)
}

func (p *Pool) residentLocked(addr storage.PageAddress) (Tier, int, bool) {
	if idx, _, ok := p.volatile.lookup(addr); ok {
		return Volatile, idx, true
	}
	if idx, _, ok := p.persistent.lookup(addr); ok {
		return Persistent, idx, true
	}
	return 0, -1, false
}

func (p *Pool) frameLocked(addr storage.PageAddress) (*tierFrames, int, *Frame, bool) {
	if idx, f, ok := p.volatile.lookup(addr); ok {
		return p.volatile, idx, f, true
	}
	if idx, f, ok := p.persistent.lookup(addr); ok {
		return p.persistent, idx, f, true
	}
	return nil, -1, nil, false
}

// FetchPersistent makes addr resident in the persistent tier and returns its slot.
func (p *Pool) FetchPersistent(addr storage.PageAddress) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return -1, ErrPoolClosed
	}
	return p.fetchPersistentLocked(addr)
}

func (p *Pool) fetchPersistentLocked(addr storage.PageAddress) (int, error) {
	// 1) HIT
	if idx, _, ok := p.persistent.lookup(addr); ok {
		p.stats.Hits++
		p.persistent.repl.RecordAccess(idx)
		return idx, nil
	}
	if _, _, ok := p.volatile.lookup(addr); ok {
		return -1, fmt.Errorf("%w: %s", ErrWrongTier, addr)
	}
	p.stats.Misses++

	if !p.persistent.hasRoom() {
		return -1, ErrBufferExhausted
	}

	// 2) Load first so a failed read leaves the pool untouched.
	block := make([]byte, p.pageSize)
	if err := p.store.ReadPage(addr.Handle, addr.Page, block); err != nil {
		return -1, err
	}
	p.stats.DiskReads++

	// 3) Free slot or evict
	idx, err := p.reservePersistentLocked()
	if err != nil {
		return -1, err
	}
	p.persistent.place(idx, &Frame{Addr: addr, Block: block})
	return idx, nil
}

// reservePersistentLocked returns an empty persistent slot, evicting the
// least recently used unpinned frame (flushed first if dirty) when needed.
func (p *Pool) reservePersistentLocked() (int, error) {
	if idx := p.persistent.freeSlot(); idx != -1 {
		return idx, nil
	}

	victimIdx, ok := p.persistent.repl.Victim()
	if !ok {
		return -1, ErrBufferExhausted
	}
	victim := p.persistent.frames[victimIdx]
	if victim.Dirty {
		// On failure the victim stays resident and evictable.
		if err := p.writeBackLocked(victim); err != nil {
			return -1, err
		}
	}

	p.persistent.drop(victimIdx)
	p.stats.Evictions++
	slog.Debug("bufferpool: evicted persistent frame",
		"slot", victimIdx,
		"addr", victim.Addr.String(),
		"demoted", victim.Demoted,
	)
	return victimIdx, nil
}

func (p *Pool) writeBackLocked(f *Frame) error {
	if err := p.store.WritePage(f.Addr.Handle, f.Addr.Page, f.Block); err != nil {
		return err
	}
	p.stats.DiskWrites++
	f.Dirty = false
	return nil
}

// FetchVolatile makes addr resident in the volatile tier and returns its slot.
//
// A miss yields a zeroed block, unless addr was demoted earlier and still sits
// in the persistent tier; then its bytes move back. When the volatile tier is
// full its least recently used unpinned frame is demoted into the persistent
// tier, pinned once, instead of being discarded.
func (p *Pool) FetchVolatile(addr storage.PageAddress) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return -1, ErrPoolClosed
	}
	return p.fetchVolatileLocked(addr)
}

func (p *Pool) fetchVolatileLocked(addr storage.PageAddress) (int, error) {
	// 1) HIT
	if idx, _, ok := p.volatile.lookup(addr); ok {
		p.stats.Hits++
		p.volatile.repl.RecordAccess(idx)
		return idx, nil
	}
	// Only a demoted block may move back; a regular persistent page stays put
	// so its pending writes reach the store.
	promoIdx, promo, promote := p.persistent.lookup(addr)
	if promote && !promo.Demoted {
		return -1, fmt.Errorf("%w: %s is a persistent page", ErrWrongTier, addr)
	}
	p.stats.Misses++

	// 2) Nothing below mutates the pool until every slot is secured.

	victimIdx := p.volatile.freeSlot()
	demoteIdx := -1
	if victimIdx == -1 {
		var ok bool
		victimIdx, ok = p.volatile.repl.Victim()
		if !ok {
			return -1, ErrBufferExhausted
		}
		if promote {
			demoteIdx = promoIdx
		} else {
			idx, err := p.reservePersistentLocked()
			if err != nil {
				return -1, err
			}
			demoteIdx = idx
		}
	}

	// 3) Commit.
	block := make([]byte, p.pageSize)
	var pin int32
	if promote {
		copy(block, promo.Block)
		pin = promo.Pin
		if promo.Demoted && pin > 0 {
			pin--
		}
		p.persistent.drop(promoIdx)
		p.stats.Promotions++
		slog.Debug("bufferpool: promoted frame to volatile tier", "addr", addr.String())
	}

	if demoteIdx != -1 {
		victim := p.volatile.drop(victimIdx)
		demoted := &Frame{
			Addr:    victim.Addr,
			Block:   make([]byte, p.pageSize),
			Pin:     1,
			Demoted: true,
		}
		copy(demoted.Block, victim.Block)
		p.persistent.place(demoteIdx, demoted)
		p.stats.Evictions++
		p.stats.Demotions++
		slog.Debug("bufferpool: demoted volatile frame",
			"addr", victim.Addr.String(),
			"persistent_slot", demoteIdx,
		)
	}

	p.volatile.place(victimIdx, &Frame{Addr: addr, Block: block, Pin: pin})
	return victimIdx, nil
}

// Fetch dispatches to FetchPersistent or FetchVolatile.
func (p *Pool) Fetch(t Tier, addr storage.PageAddress) (int, error) {
	if t == Volatile {
		return p.FetchVolatile(addr)
	}
	return p.FetchPersistent(addr)
}

// Pin increments the pin count of addr in whichever tier holds it.
func (p *Pool) Pin(addr storage.PageAddress) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, idx, f, ok := p.frameLocked(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotResident, addr)
	}
	f.Pin++
	if f.Pin == 1 {
		t.repl.SetEvictable(idx, false)
	}
	return nil
}

// Unpin decrements the pin count of addr. Unpinning an unpinned page is a no-op.
func (p *Pool) Unpin(addr storage.PageAddress) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, idx, f, ok := p.frameLocked(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotResident, addr)
	}
	if f.Pin > 0 {
		f.Pin--
		if f.Pin == 0 {
			t.repl.SetEvictable(idx, true)
		}
	}
	return nil
}

// PinCount returns the pin count of addr, or -1 when it is not resident.
func (p *Pool) PinCount(addr storage.PageAddress) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, _, f, ok := p.frameLocked(addr); ok {
		return f.Pin
	}
	return -1
}

// MarkDirty flags a persistent-tier frame for write-back.
func (p *Pool) MarkDirty(addr storage.PageAddress) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, f, ok := p.persistent.lookup(addr)
	if !ok {
		return fmt.Errorf("%w: %s not in persistent tier", ErrNotResident, addr)
	}
	f.Dirty = true
	return nil
}

// Flush writes addr back if it is a dirty persistent frame; no-op otherwise.
func (p *Pool) Flush(addr storage.PageAddress) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, f, ok := p.persistent.lookup(addr)
	if !ok || !f.Dirty {
		return nil
	}
	return p.writeBackLocked(f)
}

// FlushAll flushes all dirty pages in the persistent tier.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushAllLocked()
}

// FlushFile flushes the dirty persistent frames of one file.
func (p *Pool) FlushFile(h storage.FileHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range p.persistent.frames {
		if f == nil || !f.Dirty || f.Addr.Handle != h {
			continue
		}
		if err := p.writeBackLocked(f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) flushAllLocked() error {
	for _, f := range p.persistent.frames {
		if f == nil || !f.Dirty {
			continue
		}
		if err := p.writeBackLocked(f); err != nil {
			return err
		}
	}
	return nil
}

// AllocatePage appends a zero page to the file on the store and loads it
// into the persistent tier.
func (p *Pool) AllocatePage(h storage.FileHandle) (storage.PageAddress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return storage.PageAddress{}, ErrPoolClosed
	}
	if !p.persistent.hasRoom() {
		return storage.PageAddress{}, ErrBufferExhausted
	}

	n, err := p.store.PageCount(h)
	if err != nil {
		return storage.PageAddress{}, err
	}
	addr, err := storage.NewPageAddress(h, storage.PageNo(n))
	if err != nil {
		return storage.PageAddress{}, err
	}
	if err := p.store.WritePage(h, addr.Page, make([]byte, p.pageSize)); err != nil {
		return storage.PageAddress{}, err
	}
	p.stats.DiskWrites++

	if _, err := p.fetchPersistentLocked(addr); err != nil {
		return storage.PageAddress{}, err
	}
	slog.Debug("bufferpool: allocated page", "addr", addr.String())
	return addr, nil
}

// AllocateVolatilePage hands out the next page number of a volatile file and
// places a zeroed block for it in the volatile tier. The store is not touched.
func (p *Pool) AllocateVolatilePage(h storage.FileHandle) (storage.PageAddress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return storage.PageAddress{}, ErrPoolClosed
	}
	addr, err := storage.NewPageAddress(h, p.volatileNo[h])
	if err != nil {
		return storage.PageAddress{}, err
	}
	if _, err := p.fetchVolatileLocked(addr); err != nil {
		return storage.PageAddress{}, err
	}
	p.volatileNo[h] = addr.Page + 1
	return addr, nil
}

// RemovePage drops addr from whichever tier holds it without writing it back.
func (p *Pool) RemovePage(addr storage.PageAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, idx, _, ok := p.frameLocked(addr)
	if !ok {
		return false
	}
	t.drop(idx)
	return true
}

// RemoveFile drops every frame of h from both tiers without writing back.
func (p *Pool) RemoveFile(h storage.FileHandle) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for _, t := range []*tierFrames{p.persistent, p.volatile} {
		for i, f := range t.frames {
			if f != nil && f.Addr.Handle == h {
				t.drop(i)
				removed++
			}
		}
	}
	delete(p.volatileNo, h)
	return removed
}

// Read copies n bytes at off out of addr, fetching it through tier t.
func (p *Pool) Read(t Tier, addr storage.PageAddress, off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > p.pageSize {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, off, off+n, p.pageSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := p.fetchFrameLocked(t, addr)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, f.Block[off:off+n])
	return out, nil
}

// Write copies data into addr at off, fetching it through tier t.
// Persistent frames are marked dirty.
func (p *Pool) Write(t Tier, addr storage.PageAddress, off int, data []byte) error {
	if off < 0 || off+len(data) > p.pageSize {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, off, off+len(data), p.pageSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := p.fetchFrameLocked(t, addr)
	if err != nil {
		return err
	}
	copy(f.Block[off:], data)
	if t == Persistent {
		f.Dirty = true
	}
	return nil
}

func (p *Pool) fetchFrameLocked(t Tier, addr storage.PageAddress) (*Frame, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}
	var (
		idx int
		err error
	)
	if t == Volatile {
		idx, err = p.fetchVolatileLocked(addr)
	} else {
		idx, err = p.fetchPersistentLocked(addr)
	}
	if err != nil {
		return nil, err
	}
	return p.tier(t).frames[idx], nil
}

// CloseAll flushes every dirty persistent frame, clears all pins and closes the store.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	flushErr := p.flushAllLocked()

	for _, t := range []*tierFrames{p.persistent, p.volatile} {
		for i, f := range t.frames {
			if f != nil && f.Pin > 0 {
				f.Pin = 0
				t.repl.SetEvictable(i, true)
			}
		}
	}
	p.closed = true

	closeErr := p.store.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
