package storage

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testPageSize = 512

func newTestStore(t *testing.T, segmentPages int) (*StorageManager, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	sm, err := NewStorageManager(fs, "/data", testPageSize, segmentPages)
	require.NoError(t, err)
	return sm, fs
}

func page(fill byte) []byte {
	buf := make([]byte, testPageSize)
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

func TestStorageManager_CreateWriteRead(t *testing.T) {
	sm, _ := newTestStore(t, 0)

	h, err := sm.Create("users")
	require.NoError(t, err)

	n, err := sm.PageCount(h)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, sm.WritePage(h, 0, page(7)))
	require.NoError(t, sm.WritePage(h, 1, page(9)))

	n, err = sm.PageCount(h)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	dst := make([]byte, testPageSize)
	require.NoError(t, sm.ReadPage(h, 1, dst))
	require.Equal(t, page(9), dst)

	name, err := sm.Name(h)
	require.NoError(t, err)
	require.Equal(t, "users", name)
}

func TestStorageManager_ReadBeyondEnd(t *testing.T) {
	sm, _ := newTestStore(t, 0)

	h, err := sm.Create("t")
	require.NoError(t, err)

	dst := make([]byte, testPageSize)
	require.ErrorIs(t, sm.ReadPage(h, 0, dst), ErrPageNotFound)
	require.ErrorIs(t, sm.ReadPage(h, NoPage, dst), ErrPageNotFound)
}

func TestStorageManager_WrongBufferSize(t *testing.T) {
	sm, _ := newTestStore(t, 0)

	h, err := sm.Create("t")
	require.NoError(t, err)

	require.ErrorIs(t, sm.WritePage(h, 0, make([]byte, 10)), ErrWrongSize)
	require.ErrorIs(t, sm.ReadPage(h, 0, make([]byte, 10)), ErrWrongSize)
}

func TestStorageManager_SegmentsAndReopen(t *testing.T) {
	// two pages per segment -> pages 0..4 spread over three files
	sm, fs := newTestStore(t, 2)

	h, err := sm.Create("orders")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, sm.WritePage(h, PageNo(i), page(byte(i+1))))
	}
	require.NoError(t, sm.Close())

	for _, name := range []string{"orders", "orders.1", "orders.2"} {
		ok, err := afero.Exists(fs, "/data/"+name)
		require.NoError(t, err)
		require.True(t, ok, name)
	}

	sm2, err := NewStorageManager(fs, "/data", testPageSize, 2)
	require.NoError(t, err)

	h2, err := sm2.Open("orders")
	require.NoError(t, err)

	n, err := sm2.PageCount(h2)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	dst := make([]byte, testPageSize)
	require.NoError(t, sm2.ReadPage(h2, 4, dst))
	require.Equal(t, page(5), dst)
}

func TestStorageManager_CreateOpenErrors(t *testing.T) {
	sm, _ := newTestStore(t, 0)

	_, err := sm.Open("missing")
	require.ErrorIs(t, err, ErrFileNotFound)

	h, err := sm.Create("dup")
	require.NoError(t, err)
	_, err = sm.Create("dup")
	require.ErrorIs(t, err, ErrFileExists)

	// opening an open file hands back the same handle
	h2, err := sm.Open("dup")
	require.NoError(t, err)
	require.Equal(t, h, h2)

	_, err = sm.PageCount(FileHandle(999))
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestStorageManager_DeleteFile(t *testing.T) {
	sm, fs := newTestStore(t, 1)

	h, err := sm.Create("tmp")
	require.NoError(t, err)
	require.NoError(t, sm.WritePage(h, 0, page(1)))
	require.NoError(t, sm.WritePage(h, 1, page(2)))

	require.NoError(t, sm.DeleteFile(h))

	for _, name := range []string{"tmp", "tmp.1"} {
		ok, err := afero.Exists(fs, "/data/"+name)
		require.NoError(t, err)
		require.False(t, ok, name)
	}

	_, err = sm.PageCount(h)
	require.ErrorIs(t, err, ErrFileNotFound)

	// the name is free again and gets a fresh handle
	h2, err := sm.Create("tmp")
	require.NoError(t, err)
	require.NotEqual(t, h, h2)
}

func TestStorageManager_CloseFile(t *testing.T) {
	sm, fs := newTestStore(t, 0)

	h, err := sm.Create("keep")
	require.NoError(t, err)
	require.NoError(t, sm.WritePage(h, 0, page(7)))

	require.NoError(t, sm.CloseFile(h))
	_, err = sm.PageCount(h)
	require.ErrorIs(t, err, ErrFileNotFound)
	require.ErrorIs(t, sm.CloseFile(h), ErrFileNotFound)

	ok, err := afero.Exists(fs, "/data/keep")
	require.NoError(t, err)
	require.True(t, ok)

	h2, err := sm.Open("keep")
	require.NoError(t, err)
	require.NotEqual(t, h, h2)
	buf := make([]byte, len(page(0)))
	require.NoError(t, sm.ReadPage(h2, 0, buf))
	require.Equal(t, page(7), buf)
}

func TestStorageManager_Closed(t *testing.T) {
	sm, _ := newTestStore(t, 0)
	require.NoError(t, sm.Close())

	_, err := sm.Create("x")
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestNewPageAddress(t *testing.T) {
	addr, err := NewPageAddress(3, 7)
	require.NoError(t, err)
	require.Equal(t, PageAddress{Handle: 3, Page: 7}, addr)
	require.Equal(t, "3:7", addr.String())

	_, err = NewPageAddress(3, NoPage)
	require.ErrorIs(t, err, ErrPageNotFound)
	require.Equal(t, "none", NoPage.String())
}
