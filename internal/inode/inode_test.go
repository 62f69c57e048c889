package inode

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"vmcore/internal/blockdev"
	"vmcore/internal/cache"
	"vmcore/internal/defs"
	"vmcore/internal/freemap"
)

func newTestFS(t *testing.T, sectors int) (blockdev.Disk, *cache.Cache, *freemap.Map) {
	t.Helper()
	disk := blockdev.NewMemDisk(defs.BLOCK_FILESYS, sectors)
	c := cache.New(disk)
	fm := freemap.New(disk, 4)
	return disk, c, fm
}

func TestOnDiskEncodeDecodeRoundTrip(t *testing.T) {
	want := onDisk{
		Length: 4096, IsDir: 1,
		Direct:         [DirectCount]uint32{10, 11, 12, 0, 0},
		Indirect:       20,
		DoubleIndirect: 30,
		Magic:          diskMagic,
	}
	got := decodeOnDisk(want.encode())
	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("on-disk inode record did not round-trip through encode/decode:\n%s", diff)
	}
}

func TestCreateOpenReadWrite(t *testing.T) {
	_, c, fm := newTestFS(t, 256)
	require.NoError(t, Create(c, fm, 1, 0, false))

	tbl := NewTable(c, fm)
	ino, err := tbl.Open(1)
	require.NoError(t, err)

	data := []byte("hello, filesystem")
	n, err := ino.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, len(data), ino.Length())

	got := make([]byte, len(data))
	n, err = ino.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, got)

	require.NoError(t, tbl.Close(ino))
}

func TestWriteSpanningMultipleSectors(t *testing.T) {
	_, c, fm := newTestFS(t, 512)
	require.NoError(t, Create(c, fm, 1, 0, false))
	tbl := NewTable(c, fm)
	ino, err := tbl.Open(1)
	require.NoError(t, err)

	size := blockdev.SectorSize*3 + 17
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	n, err := ino.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, size, n)

	got := make([]byte, size)
	n, err = ino.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, size, n)
	require.Equal(t, data, got)
}

func TestDenyWriteBlocksWrites(t *testing.T) {
	_, c, fm := newTestFS(t, 64)
	require.NoError(t, Create(c, fm, 1, 0, false))
	tbl := NewTable(c, fm)
	ino, err := tbl.Open(1)
	require.NoError(t, err)

	ino.DenyWrite()
	_, err = ino.WriteAt([]byte("x"), 0)
	require.Equal(t, defs.EINVAL, err)
	ino.AllowWrite()
	_, err = ino.WriteAt([]byte("x"), 0)
	require.NoError(t, err)
}

func TestSharedOpenReferenceCounted(t *testing.T) {
	_, c, fm := newTestFS(t, 64)
	require.NoError(t, Create(c, fm, 1, 0, false))
	tbl := NewTable(c, fm)

	a, err := tbl.Open(1)
	require.NoError(t, err)
	b, err := tbl.Open(1)
	require.NoError(t, err)
	require.Same(t, a, b, "opening the same sector twice must share one Inode")

	require.NoError(t, tbl.Close(a))
	// b still holds a reference; the in-memory record must survive.
	n, err := b.ReadAt(make([]byte, 1), 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.NoError(t, tbl.Close(b))
}

func TestIndirectSectorReusedAfterReleaseIsCoherent(t *testing.T) {
	_, c, fm := newTestFS(t, 64)
	require.NoError(t, Create(c, fm, 1, 0, false))
	tbl := NewTable(c, fm)
	ino, err := tbl.Open(1)
	require.NoError(t, err)

	// Grow past the direct blocks so an indirect pointer block is
	// allocated and written through the cache.
	data := make([]byte, blockdev.SectorSize*(DirectCount+2))
	for i := range data {
		data[i] = byte(i % 256)
	}
	_, err = ino.WriteAt(data, 0)
	require.NoError(t, err)

	tbl.Remove(ino)
	require.NoError(t, tbl.Close(ino)) // releases every sector, including the indirect block

	// A fresh inode reusing one of those freed sectors must see exactly
	// what it writes, not stale pointer-block bytes left behind in a
	// cache slot that bypassed the cache on the first inode's writes.
	require.NoError(t, Create(c, fm, 2, 0, false))
	ino2, err := tbl.Open(2)
	require.NoError(t, err)
	fresh := []byte("fresh data in a reused sector")
	_, err = ino2.WriteAt(fresh, 0)
	require.NoError(t, err)

	got := make([]byte, len(fresh))
	_, err = ino2.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, fresh, got)
	require.NoError(t, tbl.Close(ino2))
}

func TestRemoveReleasesSectorsOnLastClose(t *testing.T) {
	_, c, fm := newTestFS(t, 256)
	require.NoError(t, Create(c, fm, 1, 0, false))
	tbl := NewTable(c, fm)
	ino, err := tbl.Open(1)
	require.NoError(t, err)

	data := make([]byte, blockdev.SectorSize*2)
	_, err = ino.WriteAt(data, 0)
	require.NoError(t, err)

	before := fm.Free()
	tbl.Remove(ino)
	require.NoError(t, tbl.Close(ino))
	require.Greater(t, fm.Free(), before, "removing the last reference must release the inode's data sectors")
}
