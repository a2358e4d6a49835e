package bufferpool

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaheap/internal/storage"
)

const testPageSize = 512

// newTestPool creates an in-memory StorageManager with one empty file and a
// pool over it. It returns the pool, the store and the file handle.
func newTestPool(t *testing.T, persistent, volatile int) (*Pool, *storage.StorageManager, storage.FileHandle) {
	t.Helper()

	sm, err := storage.NewStorageManager(afero.NewMemMapFs(), "/data", testPageSize, 0)
	require.NoError(t, err)

	h, err := sm.Create("testtable")
	require.NoError(t, err)

	return NewPool(sm, persistent, volatile), sm, h
}

// writePages puts n pages on the store, page i filled with byte(i+1).
func writePages(t *testing.T, sm *storage.StorageManager, h storage.FileHandle, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		buf := make([]byte, testPageSize)
		for j := range buf {
			buf[j] = byte(i + 1)
		}
		require.NoError(t, sm.WritePage(h, storage.PageNo(i), buf))
	}
}

func addr(h storage.FileHandle, n int) storage.PageAddress {
	return storage.PageAddress{Handle: h, Page: storage.PageNo(n)}
}

func TestPool_FetchPersistent_LoadsAndHits(t *testing.T) {
	pool, sm, h := newTestPool(t, 4, 2)
	writePages(t, sm, h, 1)

	idx, err := pool.FetchPersistent(addr(h, 0))
	require.NoError(t, err)

	frame := pool.persistent.frames[idx]
	require.NotNil(t, frame)
	require.Equal(t, addr(h, 0), frame.Addr)
	require.Equal(t, byte(1), frame.Block[0])
	require.Equal(t, int32(0), frame.Pin, "fetch does not pin")
	require.False(t, frame.Dirty)

	idx2, err := pool.FetchPersistent(addr(h, 0))
	require.NoError(t, err)
	require.Equal(t, idx, idx2)

	st := pool.Stats()
	require.Equal(t, int64(1), st.Hits)
	require.Equal(t, int64(1), st.Misses)
	require.Equal(t, int64(1), st.DiskReads)
}

func TestPool_FetchPersistent_MissingPage(t *testing.T) {
	pool, _, h := newTestPool(t, 2, 2)

	_, err := pool.FetchPersistent(addr(h, 3))
	require.ErrorIs(t, err, storage.ErrPageNotFound)
	require.Equal(t, 0, pool.Occupied(Persistent))
}

func TestPool_LRUEvictsOldestUnpinned(t *testing.T) {
	pool, sm, h := newTestPool(t, 3, 1)
	writePages(t, sm, h, 4)

	for i := 0; i < 3; i++ {
		_, err := pool.FetchPersistent(addr(h, i))
		require.NoError(t, err)
	}
	// touch page 0 so page 1 becomes the oldest
	_, err := pool.FetchPersistent(addr(h, 0))
	require.NoError(t, err)

	idx, err := pool.FetchPersistent(addr(h, 3))
	require.NoError(t, err)

	_, _, ok := pool.Resident(addr(h, 1))
	require.False(t, ok, "page 1 should be evicted")
	for _, n := range []int{0, 2, 3} {
		_, _, ok := pool.Resident(addr(h, n))
		require.True(t, ok, "page %d should stay resident", n)
	}
	require.Equal(t, addr(h, 3), pool.persistent.frames[idx].Addr)
	require.Equal(t, int64(1), pool.Stats().Evictions)
}

func TestPool_AllPinned_BufferExhausted(t *testing.T) {
	pool, sm, h := newTestPool(t, 2, 1)
	writePages(t, sm, h, 3)

	for i := 0; i < 2; i++ {
		_, err := pool.FetchPersistent(addr(h, i))
		require.NoError(t, err)
		require.NoError(t, pool.Pin(addr(h, i)))
	}

	_, err := pool.FetchPersistent(addr(h, 2))
	require.ErrorIs(t, err, ErrBufferExhausted)

	// nothing was evicted
	for i := 0; i < 2; i++ {
		_, _, ok := pool.Resident(addr(h, i))
		require.True(t, ok)
	}

	require.NoError(t, pool.Unpin(addr(h, 1)))
	_, err = pool.FetchPersistent(addr(h, 2))
	require.NoError(t, err)
	_, _, ok := pool.Resident(addr(h, 1))
	require.False(t, ok)
}

func TestPool_NestedPinCounting(t *testing.T) {
	pool, sm, h := newTestPool(t, 1, 1)
	writePages(t, sm, h, 2)

	_, err := pool.FetchPersistent(addr(h, 0))
	require.NoError(t, err)
	require.NoError(t, pool.Pin(addr(h, 0)))
	require.NoError(t, pool.Pin(addr(h, 0)))
	require.Equal(t, int32(2), pool.PinCount(addr(h, 0)))

	require.NoError(t, pool.Unpin(addr(h, 0)))
	_, err = pool.FetchPersistent(addr(h, 1))
	require.ErrorIs(t, err, ErrBufferExhausted, "one pin still held")

	require.NoError(t, pool.Unpin(addr(h, 0)))
	require.NoError(t, pool.Unpin(addr(h, 0)), "unpin at zero is a no-op")
	require.Equal(t, int32(0), pool.PinCount(addr(h, 0)))

	_, err = pool.FetchPersistent(addr(h, 1))
	require.NoError(t, err)
}

func TestPool_PinNotResident(t *testing.T) {
	pool, _, h := newTestPool(t, 2, 2)

	err := pool.Pin(addr(h, 7))
	require.ErrorIs(t, err, ErrNotResident)
	require.ErrorIs(t, err, storage.ErrPageNotFound)
	require.ErrorIs(t, pool.Unpin(addr(h, 7)), ErrNotResident)
	require.Equal(t, int32(-1), pool.PinCount(addr(h, 7)))
}

func TestPool_EvictDirtyFrameAndFlush(t *testing.T) {
	pool, sm, h := newTestPool(t, 1, 1)
	writePages(t, sm, h, 2)

	require.NoError(t, pool.Write(Persistent, addr(h, 0), 10, []byte("hello")))

	// Loading page 1 evicts dirty page 0, which must be written back first.
	_, err := pool.FetchPersistent(addr(h, 1))
	require.NoError(t, err)

	buf := make([]byte, testPageSize)
	require.NoError(t, sm.ReadPage(h, 0, buf))
	require.Equal(t, []byte("hello"), buf[10:15])
	require.Equal(t, byte(1), buf[0])
}

func TestPool_MarkDirty_FlushAndFlushAll(t *testing.T) {
	pool, sm, h := newTestPool(t, 4, 1)
	writePages(t, sm, h, 2)

	for i := 0; i < 2; i++ {
		idx, err := pool.FetchPersistent(addr(h, i))
		require.NoError(t, err)
		copy(pool.persistent.frames[idx].Block, "dirty")
		require.NoError(t, pool.MarkDirty(addr(h, i)))
	}

	require.NoError(t, pool.Flush(addr(h, 0)))
	buf := make([]byte, testPageSize)
	require.NoError(t, sm.ReadPage(h, 0, buf))
	require.Equal(t, "dirty", string(buf[:5]))
	require.NoError(t, sm.ReadPage(h, 1, buf))
	require.Equal(t, byte(2), buf[0], "page 1 not flushed yet")

	require.NoError(t, pool.FlushAll())
	require.NoError(t, sm.ReadPage(h, 1, buf))
	require.Equal(t, "dirty", string(buf[:5]))

	for _, f := range pool.persistent.frames {
		if f != nil {
			require.False(t, f.Dirty)
		}
	}

	// flushing a clean or absent page is a no-op
	require.NoError(t, pool.Flush(addr(h, 0)))
	require.NoError(t, pool.Flush(addr(h, 42)))
}

func TestPool_MarkDirty_VolatileRejected(t *testing.T) {
	pool, _, h := newTestPool(t, 2, 2)

	_, err := pool.FetchVolatile(addr(h, 0))
	require.NoError(t, err)
	require.ErrorIs(t, pool.MarkDirty(addr(h, 0)), ErrNotResident)
}

func TestPool_AllocatePage(t *testing.T) {
	pool, sm, h := newTestPool(t, 2, 1)
	writePages(t, sm, h, 2)

	a, err := pool.AllocatePage(h)
	require.NoError(t, err)
	require.Equal(t, addr(h, 2), a)

	n, err := sm.PageCount(h)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	tier, _, ok := pool.Resident(a)
	require.True(t, ok)
	require.Equal(t, Persistent, tier)

	data, err := pool.Read(Persistent, a, 0, testPageSize)
	require.NoError(t, err)
	require.Equal(t, make([]byte, testPageSize), data)
}

func TestPool_AllocatePage_ExhaustedLeavesStoreUntouched(t *testing.T) {
	pool, sm, h := newTestPool(t, 1, 1)
	writePages(t, sm, h, 1)

	_, err := pool.FetchPersistent(addr(h, 0))
	require.NoError(t, err)
	require.NoError(t, pool.Pin(addr(h, 0)))

	_, err = pool.AllocatePage(h)
	require.ErrorIs(t, err, ErrBufferExhausted)

	n, err := sm.PageCount(h)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPool_RemovePageAndRemoveFile(t *testing.T) {
	pool, sm, h := newTestPool(t, 4, 2)
	writePages(t, sm, h, 3)

	for i := 0; i < 3; i++ {
		_, err := pool.FetchPersistent(addr(h, i))
		require.NoError(t, err)
	}
	require.NoError(t, pool.Write(Persistent, addr(h, 0), 0, []byte{0xFF}))

	require.True(t, pool.RemovePage(addr(h, 0)))
	require.False(t, pool.RemovePage(addr(h, 0)))

	// no write-back on removal
	buf := make([]byte, testPageSize)
	require.NoError(t, sm.ReadPage(h, 0, buf))
	require.Equal(t, byte(1), buf[0])

	_, err := pool.AllocateVolatilePage(h)
	require.NoError(t, err)

	require.Equal(t, 3, pool.RemoveFile(h))
	require.Equal(t, 0, pool.Occupied(Persistent))
	require.Equal(t, 0, pool.Occupied(Volatile))

	// freed slot is reused
	idx, err := pool.FetchPersistent(addr(h, 2))
	require.NoError(t, err)
	require.GreaterOrEqual(t, idx, 0)
}

func TestPool_ReadWriteRange(t *testing.T) {
	pool, sm, h := newTestPool(t, 2, 2)
	writePages(t, sm, h, 1)

	_, err := pool.Read(Persistent, addr(h, 0), testPageSize-2, 4)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.ErrorIs(t, pool.Write(Persistent, addr(h, 0), -1, []byte{1}), ErrOutOfRange)

	require.NoError(t, pool.Write(Volatile, addr(h, 5), 100, []byte("vol")))
	got, err := pool.Read(Volatile, addr(h, 5), 100, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("vol"), got)

	_, err = pool.Read(Persistent, addr(h, 5), 0, 1)
	require.ErrorIs(t, err, ErrWrongTier)
}

func TestPool_FetchVolatile_ZeroedAndLRU(t *testing.T) {
	pool, _, h := newTestPool(t, 4, 2)

	idx, err := pool.FetchVolatile(addr(h, 0))
	require.NoError(t, err)
	require.Equal(t, make([]byte, testPageSize), pool.volatile.frames[idx].Block)

	_, err = pool.FetchVolatile(addr(h, 1))
	require.NoError(t, err)
	// refresh page 0 so page 1 is the volatile victim
	_, err = pool.FetchVolatile(addr(h, 0))
	require.NoError(t, err)

	_, err = pool.FetchVolatile(addr(h, 2))
	require.NoError(t, err)

	tier, _, ok := pool.Resident(addr(h, 1))
	require.True(t, ok)
	require.Equal(t, Persistent, tier, "page 1 demoted")
	tier, _, ok = pool.Resident(addr(h, 0))
	require.True(t, ok)
	require.Equal(t, Volatile, tier)
}

func TestPool_DemotionAndPromotion(t *testing.T) {
	pool, _, h := newTestPool(t, 2, 1)

	require.NoError(t, pool.Write(Volatile, addr(h, 0), 0, []byte("keep")))

	// volatile tier is full -> page 0 moves to the persistent tier, pinned once
	_, err := pool.FetchVolatile(addr(h, 1))
	require.NoError(t, err)

	tier, idx, ok := pool.Resident(addr(h, 0))
	require.True(t, ok)
	require.Equal(t, Persistent, tier)
	demoted := pool.persistent.frames[idx]
	require.True(t, demoted.Demoted)
	require.False(t, demoted.Dirty)
	require.Equal(t, int32(1), demoted.Pin)
	require.Equal(t, "keep", string(demoted.Block[:4]))

	// fetching it again promotes it back with its bytes; page 1 is demoted in turn
	got, err := pool.Read(Volatile, addr(h, 0), 0, 4)
	require.NoError(t, err)
	require.Equal(t, "keep", string(got))
	require.Equal(t, int32(0), pool.PinCount(addr(h, 0)))

	tier, _, ok = pool.Resident(addr(h, 0))
	require.True(t, ok)
	require.Equal(t, Volatile, tier)
	tier, _, ok = pool.Resident(addr(h, 1))
	require.True(t, ok)
	require.Equal(t, Persistent, tier)

	st := pool.Stats()
	require.Equal(t, int64(2), st.Demotions)
	require.Equal(t, int64(1), st.Promotions)
	require.Equal(t, int64(0), st.DiskWrites)
}

func TestPool_FetchVolatile_KeepsDirtyPersistentPage(t *testing.T) {
	pool, sm, h := newTestPool(t, 2, 2)
	writePages(t, sm, h, 1)

	require.NoError(t, pool.Write(Persistent, addr(h, 0), 0, []byte{0xAA}))

	_, err := pool.FetchVolatile(addr(h, 0))
	require.ErrorIs(t, err, ErrWrongTier)
	require.Equal(t, 0, pool.Occupied(Volatile))
	require.Equal(t, int64(0), pool.Stats().Promotions)

	tier, _, ok := pool.Resident(addr(h, 0))
	require.True(t, ok)
	require.Equal(t, Persistent, tier)

	require.NoError(t, pool.FlushAll())
	buf := make([]byte, testPageSize)
	require.NoError(t, sm.ReadPage(h, 0, buf))
	require.Equal(t, byte(0xAA), buf[0])
}

func TestPool_Demotion_NoPersistentRoom(t *testing.T) {
	pool, sm, h := newTestPool(t, 1, 1)
	writePages(t, sm, h, 1)

	_, err := pool.FetchPersistent(addr(h, 0))
	require.NoError(t, err)
	require.NoError(t, pool.Pin(addr(h, 0)))

	_, err = pool.FetchVolatile(addr(h, 10))
	require.NoError(t, err)

	_, err = pool.FetchVolatile(addr(h, 11))
	require.ErrorIs(t, err, ErrBufferExhausted)

	// volatile tier unchanged
	tier, _, ok := pool.Resident(addr(h, 10))
	require.True(t, ok)
	require.Equal(t, Volatile, tier)
	_, _, ok = pool.Resident(addr(h, 11))
	require.False(t, ok)
}

func TestPool_VolatileAllPinned(t *testing.T) {
	pool, _, h := newTestPool(t, 2, 1)

	_, err := pool.FetchVolatile(addr(h, 0))
	require.NoError(t, err)
	require.NoError(t, pool.Pin(addr(h, 0)))

	_, err = pool.FetchVolatile(addr(h, 1))
	require.ErrorIs(t, err, ErrBufferExhausted)
}

func TestPool_AllocateVolatilePage(t *testing.T) {
	pool, sm, h := newTestPool(t, 2, 2)

	a0, err := pool.AllocateVolatilePage(h)
	require.NoError(t, err)
	a1, err := pool.AllocateVolatilePage(h)
	require.NoError(t, err)
	require.Equal(t, addr(h, 0), a0)
	require.Equal(t, addr(h, 1), a1)

	n, err := sm.PageCount(h)
	require.NoError(t, err)
	require.Equal(t, 0, n, "volatile pages never reach the store")

	pool.RemoveFile(h)
	a, err := pool.AllocateVolatilePage(h)
	require.NoError(t, err)
	require.Equal(t, addr(h, 0), a)
}

func TestNewPool_DefaultCapacity(t *testing.T) {
	pool, _, _ := newTestPool(t, 0, -1)

	require.Len(t, pool.persistent.frames, DefaultPersistentCapacity)
	require.Len(t, pool.volatile.frames, DefaultVolatileCapacity)
	require.Equal(t, testPageSize, pool.PageSize())
}

func TestPool_CloseAll(t *testing.T) {
	pool, sm, h := newTestPool(t, 2, 1)
	writePages(t, sm, h, 1)

	require.NoError(t, pool.Write(Persistent, addr(h, 0), 0, []byte("bye")))
	require.NoError(t, pool.Pin(addr(h, 0)))

	require.NoError(t, pool.CloseAll())
	require.Equal(t, int32(0), pool.PinCount(addr(h, 0)))

	_, err := pool.FetchPersistent(addr(h, 0))
	require.ErrorIs(t, err, ErrPoolClosed)
	require.NoError(t, pool.CloseAll())

	_, err = sm.PageCount(h)
	require.ErrorIs(t, err, storage.ErrStoreClosed)
}

func TestFileView(t *testing.T) {
	pool, sm, h := newTestPool(t, 2, 2)

	v := pool.View(h, Persistent)
	require.Equal(t, h, v.Handle())

	n, err := v.Allocate()
	require.NoError(t, err)
	require.Equal(t, storage.PageNo(0), n)

	require.NoError(t, v.Write(n, 4, []byte{9, 9}))
	require.NoError(t, v.Pin(n))
	require.Equal(t, int32(1), pool.PinCount(v.Addr(n)))
	require.NoError(t, v.Unpin(n))
	require.NoError(t, v.Flush())

	buf := make([]byte, testPageSize)
	require.NoError(t, sm.ReadPage(h, 0, buf))
	require.Equal(t, []byte{9, 9}, buf[4:6])

	vh, err := sm.Create("scratch")
	require.NoError(t, err)
	vv := pool.View(vh, Volatile)
	require.Equal(t, Volatile, vv.Tier())

	vn, err := vv.Allocate()
	require.NoError(t, err)
	require.Equal(t, storage.PageNo(0), vn)
	require.NoError(t, vv.Write(vn, 0, []byte{1}))
	require.NoError(t, vv.Flush())
	require.Equal(t, 1, vv.Drop())
}
