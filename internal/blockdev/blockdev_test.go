package blockdev

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/internal/defs"
)

func TestMemDiskReadWrite(t *testing.T) {
	d := NewMemDisk(defs.BLOCK_FILESYS, 4)
	buf := make([]byte, SectorSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, d.WriteSector(2, buf))

	got := make([]byte, SectorSize)
	require.NoError(t, d.ReadSector(2, got))
	require.Equal(t, buf, got)
}

func TestMemDiskOutOfRange(t *testing.T) {
	d := NewMemDisk(defs.BLOCK_FILESYS, 2)
	buf := make([]byte, SectorSize)
	require.Equal(t, defs.EIO, d.ReadSector(5, buf))
	require.Equal(t, defs.EIO, d.WriteSector(-1, buf))
}

func TestCheckBufPanicsOnWrongSize(t *testing.T) {
	d := NewMemDisk(defs.BLOCK_FILESYS, 1)
	require.Panics(t, func() { d.ReadSector(0, make([]byte, 10)) })
}

func TestFileDiskPersists(t *testing.T) {
	path := t.TempDir() + "/disk.img"
	d, err := OpenFileDisk(path, defs.BLOCK_SWAP, 4)
	require.NoError(t, err)

	buf := make([]byte, SectorSize)
	buf[0] = 0xAB
	require.NoError(t, d.WriteSector(1, buf))
	require.NoError(t, d.Close())

	d2, err := OpenFileDisk(path, defs.BLOCK_SWAP, 4)
	require.NoError(t, err)
	defer d2.Close()

	got := make([]byte, SectorSize)
	require.NoError(t, d2.ReadSector(1, got))
	require.Equal(t, byte(0xAB), got[0])
}

func TestFileDiskExclusiveLock(t *testing.T) {
	path := t.TempDir() + "/disk.img"
	d1, err := OpenFileDisk(path, defs.BLOCK_FILESYS, 4)
	require.NoError(t, err)
	defer d1.Close()

	_, err = OpenFileDisk(path, defs.BLOCK_FILESYS, 4)
	require.Error(t, err)
}
