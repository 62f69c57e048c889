// Package spt implements the per-process supplemental page table: the
// record of every page a process has ever touched, where its data
// currently lives (memory, swap, or a backing file), and the logic to
// pull a page back into memory on demand. Grounded on
// biscuit/src/vm/as.go (Vm_t's embedded mutex and per-process address
// space state) and original_source/vm/page.c (page_add_page/
// page_seek/page_assign_frame/page_get_page/page_free_page).
package spt

import (
	"sync"

	"vmcore/internal/defs"
	"vmcore/internal/frame"
	"vmcore/internal/inode"
	"vmcore/internal/swap"
)

// PageSize is the size in bytes of one virtual page, matching frame.PageSize.
const PageSize = frame.PageSize

// Entry is one supplemental page table record: a logical page, the
// segment it belongs to, where its bytes currently live, and whatever
// backing-store coordinates are needed to pull it back in. Grounded on
// original_source/vm/virtual-memory.h's page_node.
type Entry struct {
	Addr      int
	Role      defs.Role
	Loc       defs.Location
	Writable  bool
	Frame     int // valid when Loc == LOC_MEMORY
	Swap      int // valid when Loc == LOC_SWAP
	File      *inode.Inode
	FileOff   int
	FileBytes int // bytes of real file data in this page; the rest is zero-filled
}

// Table is one process's supplemental page table.
type Table struct {
	mu       sync.Mutex
	pid      defs.Pid_t
	entries  map[int]*Entry
	frameToAddr map[int]int
	frames   *frame.Table
	swap     *swap.Area
}

// Init creates an empty supplemental page table for pid, sharing the
// given physical frame pool and swap area with the rest of the kernel,
// matching page_process_init/page_init's per-thread hash table setup.
func Init(pid defs.Pid_t, frames *frame.Table, sw *swap.Area) *Table {
	return &Table{
		pid:         pid,
		entries:     make(map[int]*Entry),
		frameToAddr: make(map[int]int),
		frames:      frames,
		swap:        sw,
	}
}

// Destroy releases every resource this table's entries hold — frames
// and swap slots — matching page_destroy_pagelist. It does not write
// back mmap'd pages; callers that need that must call UnmapAll first.
func (t *Table) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		t.releaseLocked(e)
	}
	t.entries = make(map[int]*Entry)
	t.frameToAddr = make(map[int]int)
}

func (t *Table) releaseLocked(e *Entry) {
	switch e.Loc {
	case defs.LOC_MEMORY:
		t.frames.Free(e.Frame)
		delete(t.frameToAddr, e.Frame)
	case defs.LOC_SWAP:
		t.swap.Free(e.Swap)
	}
	e.Loc = defs.LOC_NOT_PRESENT
}

// Add registers addr as belonging to role without assigning it a frame
// yet, matching page_add_page's lazy registration.
func (t *Table) Add(addr int, role defs.Role, writable bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[addr]; ok {
		return defs.EEXIST
	}
	t.entries[addr] = &Entry{Addr: addr, Role: role, Loc: defs.LOC_NOT_PRESENT, Writable: writable}
	return nil
}

// Seek returns the entry at addr, matching page_seek.
func (t *Table) Seek(addr int) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	return e, ok
}

// AssignFrame gives addr a freshly zeroed physical frame directly,
// bypassing the not-present state. Used for eagerly-populated pages
// such as the first stack page, matching page_assign_frame.
func (t *Table) AssignFrame(addr int) error {
	t.mu.Lock()
	e, ok := t.entries[addr]
	t.mu.Unlock()
	if !ok {
		return defs.ENOENT
	}
	h, _, err := t.frames.Allocate(t, true)
	if err != nil {
		return err
	}
	t.mu.Lock()
	e.Loc = defs.LOC_MEMORY
	e.Frame = h
	t.frameToAddr[h] = addr
	t.mu.Unlock()
	return nil
}

// FreePage releases addr's backing resource (frame or swap slot) and
// removes it from the table entirely, matching page_free_page.
func (t *Table) FreePage(addr int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		return
	}
	t.releaseLocked(e)
	delete(t.entries, addr)
}

// Clean implements frame.Owner: it reports whether reclaiming h can skip
// a writeback. An mmap page is clean unless it is writable (and so may
// carry edits that only live in memory); a stack/code/data page is
// clean only when it is read-only, since this table has no dirty bit of
// its own to consult. Used by the frame table's first clock revolution
// to prefer a free writeback over a costly one, matching the
// accessed=0 ∧ dirty=0 discrimination in original_source/vm/frame.c's
// second-chance sweep.
func (t *Table) Clean(h int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr, ok := t.frameToAddr[h]
	if !ok {
		panic("spt: query of frame not owned by this table")
	}
	return !t.entries[addr].Writable
}

// Evict implements frame.Owner: when the shared frame pool needs to
// reclaim handle h, it persists this entry's page — to its backing file
// if it is an mmap mapping, to swap if it is a dirty stack/data page —
// and marks it no longer resident. A clean, non-mmap page (e.g.
// read-only code) gets no writeback at all: it is marked
// LOC_NOT_PRESENT, its contents are dropped, and the next fault gives it
// a fresh zero-filled frame.
func (t *Table) Evict(h int) error {
	t.mu.Lock()
	addr, ok := t.frameToAddr[h]
	if !ok {
		t.mu.Unlock()
		panic("spt: eviction of frame not owned by this table")
	}
	e := t.entries[addr]
	page := t.frames.Data(h)
	t.mu.Unlock()

	if e.Role == defs.SEG_MMAP {
		if e.Writable {
			if err := writeback(e, page); err != nil {
				return err
			}
		}
		t.mu.Lock()
		e.Loc = defs.LOC_FILE
		delete(t.frameToAddr, h)
		t.mu.Unlock()
		return nil
	}

	if !e.Writable {
		// Read-only page: nothing is preserved and no swap slot is
		// spent; the next fault resolves it as a zero-filled page.
		t.mu.Lock()
		e.Loc = defs.LOC_NOT_PRESENT
		delete(t.frameToAddr, h)
		t.mu.Unlock()
		return nil
	}

	slot, ok := t.swap.Alloc()
	if !ok {
		return defs.ENOSPC
	}
	buf := make([]byte, swap.PageSize)
	copy(buf, page)
	if err := t.swap.WritePage(slot, buf); err != nil {
		t.swap.Free(slot)
		return err
	}
	t.mu.Lock()
	e.Loc = defs.LOC_SWAP
	e.Swap = slot
	delete(t.frameToAddr, h)
	t.mu.Unlock()
	return nil
}

// CheckRole classifies an unmapped faulting address as a valid stack
// growth or an invariant violation, matching page_check_role's ESP-4 /
// ESP-32 heuristic: a push or a PUSHA can fault up to 32 bytes below
// the current stack pointer before the stack itself grows to cover it.
const (
	stackPushSlack = 4
	stackPushaSlack = 32
)

// StackLimit bounds how far the stack segment may grow, matching
// Pintos's default 8MB limit.
const StackLimit = 8 * 1024 * 1024

func CheckRole(faultAddr, esp, stackBase, stackLowWatermark int) (defs.Role, bool) {
	if faultAddr > stackBase {
		return defs.SEG_UNUSED, false
	}
	if faultAddr < esp-stackPushaSlack {
		return defs.SEG_UNUSED, false
	}
	if stackBase-faultAddr > StackLimit {
		return defs.SEG_UNUSED, false
	}
	_ = stackLowWatermark
	return defs.SEG_STACK, true
}
