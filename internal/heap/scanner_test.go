package heap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaheap/internal/record"
	"github.com/tuannm99/novaheap/internal/storage"
)

func drain(t *testing.T, sc *Scanner) []*record.Record {
	t.Helper()
	var out []*record.Record
	for {
		r, ok, err := sc.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

func firstInts(t *testing.T, rs []*record.Record) []int32 {
	t.Helper()
	out := make([]int32, len(rs))
	for i, r := range rs {
		v, err := r.Get("a")
		require.NoError(t, err)
		out[i], err = v.Int()
		require.NoError(t, err)
	}
	return out
}

func seq(from, to int) []int32 {
	var out []int32
	for i := from; i < to; i++ {
		out = append(out, int32(i))
	}
	return out
}

func TestScanner_EmptyFile(t *testing.T) {
	env := newTestEnv(t, 8, 4)
	h, err := env.m.CreateHeapFile("empty", makeDesc(), false)
	require.NoError(t, err)

	sc, err := env.m.NewScanner(h)
	require.NoError(t, err)
	require.Equal(t, 0, sc.PageOrdinal())

	r, ok, err := sc.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, r)

	require.ErrorIs(t, sc.GoToPage(1), ErrPageOutOfRange)
}

func TestScanner_AllRecordsInOrder(t *testing.T) {
	env := newTestEnv(t, 8, 4)
	h, err := env.m.CreateHeapFile("t", makeDesc(), false)
	require.NoError(t, err)
	rids := insertRows(t, env.m, h, 20)

	sc, err := env.m.NewScanner(h)
	require.NoError(t, err)
	require.Equal(t, 1, sc.PageOrdinal())

	var got []*record.Record
	for i := 0; i < 8; i++ {
		r, ok, err := sc.Next()
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, r)
	}
	require.Equal(t, 2, sc.PageOrdinal(), "next record is on the second page")

	got = append(got, drain(t, sc)...)
	require.Equal(t, seq(0, 20), firstInts(t, got))
	for i, r := range got {
		require.Equal(t, rids[i], r.ID)
	}
	require.Equal(t, 3, sc.PageOrdinal())
	require.Equal(t, 3, sc.Visited())

	// exhausted stays exhausted
	_, ok, err := sc.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScanner_GoToPageRewinds(t *testing.T) {
	env := newTestEnv(t, 8, 4)
	h, err := env.m.CreateHeapFile("t", makeDesc(), false)
	require.NoError(t, err)
	insertRows(t, env.m, h, 20)

	sc, err := env.m.NewScanner(h)
	require.NoError(t, err)
	drain(t, sc)

	require.NoError(t, sc.GoToPage(2))
	require.Equal(t, 2, sc.PageOrdinal())
	require.Equal(t, seq(8, 20), firstInts(t, drain(t, sc)))

	require.NoError(t, sc.GoToPage(1))
	r, ok, err := sc.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.IntValue(0), r.Values()[0])

	require.ErrorIs(t, sc.GoToPage(0), ErrPageOutOfRange)
	require.ErrorIs(t, sc.GoToPage(4), ErrPageOutOfRange)
}

func TestScanner_RewindOnlyWithinVisited(t *testing.T) {
	env := newTestEnv(t, 8, 4)
	h, err := env.m.CreateHeapFile("t", makeDesc(), false)
	require.NoError(t, err)
	insertRows(t, env.m, h, 20)

	sc, err := env.m.NewScanner(h)
	require.NoError(t, err)
	require.Equal(t, 1, sc.Visited())
	require.ErrorIs(t, sc.GoToPage(2), ErrPageOutOfRange)

	// walking forward again after a rewind does not grow the visited list
	drain(t, sc)
	require.NoError(t, sc.GoToPage(1))
	drain(t, sc)
	require.Equal(t, 3, sc.Visited())
}

func TestScanner_SkipsEmptyPages(t *testing.T) {
	env := newTestEnv(t, 8, 4)
	h, err := env.m.CreateHeapFile("t", makeDesc(), false)
	require.NoError(t, err)
	rids := insertRows(t, env.m, h, 20)

	// empty out page 2 and the first slots of page 1
	for _, rid := range rids[8:16] {
		require.NoError(t, env.m.DeleteRecord(rid))
	}
	require.NoError(t, env.m.DeleteRecord(rids[0]))
	require.NoError(t, env.m.DeleteRecord(rids[1]))

	sc, err := env.m.NewScanner(h)
	require.NoError(t, err)
	got := firstInts(t, drain(t, sc))

	want := append(seq(2, 8), seq(16, 20)...)
	require.Equal(t, want, got)
	require.Equal(t, 3, sc.Visited(), "the empty page still counts as visited")

	require.NoError(t, sc.GoToPage(2))
	require.Equal(t, 3, sc.PageOrdinal(), "rewinding to an empty page lands on the next non-empty one")
	require.Equal(t, seq(16, 20), firstInts(t, drain(t, sc)))
}

func TestScanner_VolatileFile(t *testing.T) {
	env := newTestEnv(t, 8, 2)
	h, err := env.m.CreateHeapFile("vol", makeDesc(), true)
	require.NoError(t, err)
	insertRows(t, env.m, h, 17)

	sc, err := env.m.NewScanner(h)
	require.NoError(t, err)
	require.Equal(t, seq(0, 17), firstInts(t, drain(t, sc)))
}

func TestScan_CallbackError(t *testing.T) {
	env := newTestEnv(t, 8, 4)
	h, err := env.m.CreateHeapFile("t", makeDesc(), false)
	require.NoError(t, err)
	insertRows(t, env.m, h, 5)

	stop := errors.New("stop")
	calls := 0
	err = env.m.Scan(h, func(r *record.Record) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 3, calls)

	_, err = env.m.NewScanner(storage.FileHandle(42))
	require.ErrorIs(t, err, ErrUnknownFile)
}
