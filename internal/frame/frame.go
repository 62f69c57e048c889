// Package frame implements the physical frame table: a fixed pool of
// page-sized buffers handed out to supplemental page table entries, with
// clock eviction when the pool is exhausted. Grounded on
// biscuit/src/mem/mem.go (Physmem_t's free-list-backed page pool) for
// the Go shape of a frame allocator, and original_source/vm/frame.c
// (frame_allocate_page/frame_destroy_frame) for the eviction trigger
// and FRM_NO_EVICT pinning.
//
// Per the redesign note in spec.md §9, frames are referenced by a
// stable integer handle rather than a raw pointer into the pool, so an
// SPT entry can safely outlive a particular backing slot across an
// eviction-then-reallocate cycle.
package frame

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"vmcore/internal/metrics"
)

// maxConcurrentEvictions bounds how many victim writebacks (to swap or
// to a backing file) can be in flight at once, so a burst of faults
// under memory pressure doesn't issue unbounded concurrent disk I/O.
const maxConcurrentEvictions = 4

// PageSize is the size in bytes of one physical frame.
const PageSize = 4096

// Owner is implemented by whatever supplemental-page-table entry
// currently occupies a frame. Evict is invoked by the frame table when
// the frame is chosen as a clock victim and must be reclaimed; the
// owner is responsible for persisting the page's contents (to swap or
// back to its file) before returning. Clean reports whether handle can
// be reclaimed without any writeback at all, letting the clock sweep
// prefer a free eviction over a costly one.
type Owner interface {
	Evict(handle int) error
	Clean(handle int) bool
}

type slot struct {
	page     []byte
	owner    Owner
	accessed bool
	pinned   bool
	free     bool
}

// Table is a fixed-size pool of physical frames.
type Table struct {
	mu       sync.Mutex
	slots    []slot
	hand     int
	metrics  *metrics.Frame
	evictSem *semaphore.Weighted
}

// New creates a frame table of n frames.
func New(n int) *Table {
	t := &Table{
		slots:    make([]slot, n),
		metrics:  metrics.NewFrame(),
		evictSem: semaphore.NewWeighted(maxConcurrentEvictions),
	}
	for i := range t.slots {
		t.slots[i].free = true
	}
	return t
}

// Size returns the total number of frames in the pool.
func (t *Table) Size() int {
	return len(t.slots)
}

// Allocate hands out a frame to owner, evicting a clock victim if the
// pool is full. The returned page buffer is zero-filled unless zero is
// false, matching frame_allocate_page's FRM_ZERO flag.
func (t *Table) Allocate(owner Owner, zero bool) (int, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.acquire()
	if err != nil {
		return 0, nil, err
	}
	s := &t.slots[h]
	s.free = false
	s.owner = owner
	s.accessed = true
	s.pinned = false
	if s.page == nil {
		s.page = make([]byte, PageSize)
	}
	if zero {
		for i := range s.page {
			s.page[i] = 0
		}
	}
	return h, s.page, nil
}

func (t *Table) acquire() (int, error) {
	for i := range t.slots {
		if t.slots[i].free {
			return i, nil
		}
	}
	return t.evict()
}

// evict runs clock eviction over the pool. Pinned frames (FRM_NO_EVICT)
// are never selected. The first revolution gives every accessed frame a
// second chance (clearing the bit) and takes the first unaccessed frame
// that is also clean, so a free reclaim is preferred over one that must
// write back; a second revolution, run only if the first finds nothing,
// takes the first unaccessed frame regardless of cleanliness. Caller
// must hold t.mu.
func (t *Table) evict() (int, error) {
	n := len(t.slots)
	victim := -1
	for i := 0; i < n; i++ {
		idx := t.hand
		t.hand = (t.hand + 1) % n
		s := &t.slots[idx]
		if s.free || s.pinned {
			continue
		}
		if s.accessed {
			s.accessed = false
			continue
		}
		if s.owner.Clean(idx) {
			victim = idx
			break
		}
	}
	if victim < 0 {
		for i := 0; i < n; i++ {
			idx := t.hand
			t.hand = (t.hand + 1) % n
			s := &t.slots[idx]
			if s.free || s.pinned || s.accessed {
				continue
			}
			victim = idx
			break
		}
	}
	if victim < 0 {
		panic("frame: no evictable frame after two revolutions")
	}

	s := &t.slots[victim]
	owner := s.owner
	t.mu.Unlock()
	if err := t.evictSem.Acquire(context.Background(), 1); err != nil {
		t.mu.Lock()
		return 0, err
	}
	err := owner.Evict(victim)
	t.evictSem.Release(1)
	t.mu.Lock()
	if err != nil {
		return 0, err
	}
	t.metrics.Evictions.Inc()
	s.free = true
	s.owner = nil
	return victim, nil
}

// Data returns the backing buffer for handle h.
func (t *Table) Data(h int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.check(h)
	return t.slots[h].page
}

// Touch marks h as recently accessed, giving it a second chance in the
// clock sweep.
func (t *Table) Touch(h int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.check(h)
	t.slots[h].accessed = true
}

// Pin prevents h from being selected as an eviction victim, matching
// FRM_NO_EVICT (used while a frame is being DMA'd into or out of).
func (t *Table) Pin(h int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.check(h)
	t.slots[h].pinned = true
}

// Unpin reverses Pin.
func (t *Table) Unpin(h int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.check(h)
	t.slots[h].pinned = false
}

// Free releases h back to the pool without eviction (the owner is
// voluntarily giving it up), matching frame_destroy_frame.
func (t *Table) Free(h int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.check(h)
	s := &t.slots[h]
	s.free = true
	s.owner = nil
	s.pinned = false
}

func (t *Table) check(h int) {
	if h < 0 || h >= len(t.slots) {
		panic("frame: handle out of range")
	}
	if t.slots[h].free {
		panic("frame: use of freed handle")
	}
}
