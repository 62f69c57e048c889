package swap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/internal/blockdev"
	"vmcore/internal/defs"
)

func newTestArea(slots int) *Area {
	disk := blockdev.NewMemDisk(defs.BLOCK_SWAP, slots*SectorsPerSlot)
	return New(disk)
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestArea(4)
	s0, ok := a.Alloc()
	require.True(t, ok)
	s1, ok := a.Alloc()
	require.True(t, ok)
	require.NotEqual(t, s0, s1)

	a.Free(s0)
	s2, ok := a.Alloc()
	require.True(t, ok)
	require.Equal(t, s0, s2, "the freed slot should be reused before new slots")
}

func TestAllocExhaustion(t *testing.T) {
	a := newTestArea(2)
	_, ok := a.Alloc()
	require.True(t, ok)
	_, ok = a.Alloc()
	require.True(t, ok)
	_, ok = a.Alloc()
	require.False(t, ok)
}

func TestFreeOfFreeSlotPanics(t *testing.T) {
	a := newTestArea(2)
	require.Panics(t, func() { a.Free(0) })
}

func TestWriteReadPageRoundTrip(t *testing.T) {
	a := newTestArea(2)
	slot, ok := a.Alloc()
	require.True(t, ok)

	data := make([]byte, PageSize)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, a.WritePage(slot, data))

	got := make([]byte, PageSize)
	require.NoError(t, a.ReadPage(slot, got))
	require.Equal(t, data, got)
}

func TestNewPanicsOnNonSwapDisk(t *testing.T) {
	disk := blockdev.NewMemDisk(defs.BLOCK_FILESYS, 8)
	require.Panics(t, func() { New(disk) })
}
