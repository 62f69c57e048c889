package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/internal/blockdev"
	"vmcore/internal/defs"
)

func TestReadWriteRoundTrip(t *testing.T) {
	disk := blockdev.NewMemDisk(defs.BLOCK_FILESYS, 8)
	c := New(disk)

	buf := make([]byte, blockdev.SectorSize)
	buf[0] = 0x42
	require.NoError(t, c.Write(3, buf))

	got, err := c.Read(3)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), got[0])
}

func TestEvictionFlushesDirty(t *testing.T) {
	disk := blockdev.NewMemDisk(defs.BLOCK_FILESYS, Size+4)
	c := New(disk)

	buf := make([]byte, blockdev.SectorSize)
	buf[0] = 0x7A
	require.NoError(t, c.Write(0, buf))

	// Fill the cache past capacity so sector 0 must be evicted.
	for i := 1; i <= Size; i++ {
		_, err := c.Read(i)
		require.NoError(t, err)
	}

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, disk.ReadSector(0, raw))
	require.Equal(t, byte(0x7A), raw[0], "eviction must write dirty data back before reuse")
}

func TestEvictionPrefersCleanSlot(t *testing.T) {
	disk := blockdev.NewMemDisk(defs.BLOCK_FILESYS, Size+4)
	c := New(disk)

	require.NoError(t, c.Write(0, make([]byte, blockdev.SectorSize))) // slot 0: dirty
	_, err := c.Read(1)                                               // slot 1: clean
	require.NoError(t, err)
	// Simulate both slots having gone untouched since the last sweep.
	c.slots[0].accessed = false
	c.slots[1].accessed = false

	for i := 2; i < Size; i++ {
		_, err := c.Read(i)
		require.NoError(t, err)
	}

	_, err = c.Read(Size)
	require.NoError(t, err)

	require.True(t, c.Resident(0), "a dirty slot must not be evicted while an unaccessed clean slot is available")
	require.False(t, c.Resident(1), "the clean slot must be evicted before the dirty one")
}

func TestMetaWriteThrough(t *testing.T) {
	disk := blockdev.NewMemDisk(defs.BLOCK_FILESYS, 4)
	c := New(disk)

	buf := make([]byte, blockdev.SectorSize)
	buf[0] = 0x11
	require.NoError(t, c.WriteMeta(1, buf))

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, disk.ReadSector(1, raw))
	require.Equal(t, byte(0x11), raw[0], "metadata writes must go through to disk immediately")
}

func TestDataAndMetaKindsConflict(t *testing.T) {
	disk := blockdev.NewMemDisk(defs.BLOCK_FILESYS, 4)
	c := New(disk)
	_, err := c.Read(0)
	require.NoError(t, err)
	require.Panics(t, func() { c.ReadMeta(0) })
}

func TestResident(t *testing.T) {
	disk := blockdev.NewMemDisk(defs.BLOCK_FILESYS, 4)
	c := New(disk)
	require.False(t, c.Resident(0))
	_, err := c.Read(0)
	require.NoError(t, err)
	require.True(t, c.Resident(0))
}
