package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeOwner struct {
	evicted []int
	fail    bool
	dirty   bool
}

func (f *fakeOwner) Evict(h int) error {
	f.evicted = append(f.evicted, h)
	return nil
}

func (f *fakeOwner) Clean(h int) bool {
	return !f.dirty
}

func TestAllocateZeroed(t *testing.T) {
	tb := New(4)
	o := &fakeOwner{}
	h, page, err := tb.Allocate(o, true)
	require.NoError(t, err)
	for _, b := range page {
		require.Equal(t, byte(0), b)
	}
	page[0] = 9
	require.Equal(t, byte(9), tb.Data(h)[0])
}

func TestEvictionOnExhaustion(t *testing.T) {
	tb := New(2)
	o := &fakeOwner{}
	_, _, err := tb.Allocate(o, false)
	require.NoError(t, err)
	_, _, err = tb.Allocate(o, false)
	require.NoError(t, err)

	_, _, err = tb.Allocate(o, false)
	require.NoError(t, err)
	require.Len(t, o.evicted, 1, "a third allocation with a full pool of 2 must evict exactly one frame")
}

func TestPinnedFrameNeverEvicted(t *testing.T) {
	tb := New(2)
	o := &fakeOwner{}
	h0, _, err := tb.Allocate(o, false)
	require.NoError(t, err)
	tb.Pin(h0)
	_, _, err = tb.Allocate(o, false)
	require.NoError(t, err)

	_, _, err = tb.Allocate(o, false)
	require.NoError(t, err)
	require.NotContains(t, o.evicted, h0)
}

func TestFreeReturnsFrameWithoutEviction(t *testing.T) {
	tb := New(1)
	o := &fakeOwner{}
	h, _, err := tb.Allocate(o, false)
	require.NoError(t, err)
	tb.Free(h)
	require.Empty(t, o.evicted)

	_, _, err = tb.Allocate(o, false)
	require.NoError(t, err)
	require.Empty(t, o.evicted, "reallocating a freed frame must not trigger Evict")
}

func TestEvictionPrefersCleanFrame(t *testing.T) {
	tb := New(2)
	dirty := &fakeOwner{dirty: true}
	clean := &fakeOwner{dirty: false}
	h0, _, err := tb.Allocate(dirty, false)
	require.NoError(t, err)
	h1, _, err := tb.Allocate(clean, false)
	require.NoError(t, err)
	// Simulate both frames having gone untouched since the last sweep.
	tb.slots[h0].accessed = false
	tb.slots[h1].accessed = false

	_, _, err = tb.Allocate(&fakeOwner{}, false)
	require.NoError(t, err)
	require.Equal(t, []int{h1}, clean.evicted, "the clean frame must be evicted before the dirty one when both are unaccessed")
	require.Empty(t, dirty.evicted, "a dirty frame must not be evicted while an unaccessed clean frame is available")
}

func TestUseOfFreedHandlePanics(t *testing.T) {
	tb := New(1)
	o := &fakeOwner{}
	h, _, err := tb.Allocate(o, false)
	require.NoError(t, err)
	tb.Free(h)
	require.Panics(t, func() { tb.Data(h) })
}
