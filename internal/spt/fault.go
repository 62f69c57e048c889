// Fault is the page-fault resolution control center: given a faulting
// address, it decides whether the fault is a legitimate first touch, a
// stack growth, a page that needs pulling back from swap or a file, or
// an invariant violation that should kill the process. Grounded on
// biscuit/src/vm/as.go's Sys_pgfault (the write-to-readonly check, the
// not-present dispatch across VANON/VFILE) and
// original_source/vm/page.c's page_get_page (swap-in vs file-read vs
// fresh-zero dispatch by location).
package spt

import (
	"vmcore/internal/defs"
)

// FaultInfo describes a hardware page fault as the kernel entry point
// would decode it from the faulting instruction and its environment.
type FaultInfo struct {
	Addr      int // page-aligned faulting address
	Write     bool
	ESP       int
	StackBase int
}

// Fault resolves a single page fault, pulling the page into memory if
// resolvable and reporting an error (EFAULT) if the access is an
// invariant violation the caller should treat as fatal to the process.
func (t *Table) Fault(fi FaultInfo) error {
	e, ok := t.Seek(fi.Addr)
	if !ok {
		role, grow := CheckRole(fi.Addr, fi.ESP, fi.StackBase, 0)
		if !grow {
			return defs.EFAULT
		}
		if err := t.Add(fi.Addr, role, true); err != nil {
			return err
		}
		return t.AssignFrame(fi.Addr)
	}

	if fi.Write && !e.Writable {
		return defs.EFAULT
	}

	t.mu.Lock()
	loc := e.Loc
	t.mu.Unlock()

	if loc == defs.LOC_MEMORY {
		t.frames.Touch(e.Frame)
		return nil
	}
	return t.pullPage(e)
}

// pullPage brings a not-present, swapped, or file-backed entry into a
// fresh frame, matching page_get_page's three-way dispatch on location.
func (t *Table) pullPage(e *Entry) error {
	h, page, err := t.frames.Allocate(t, true)
	if err != nil {
		return err
	}

	t.mu.Lock()
	loc := e.Loc
	swapSlot := e.Swap
	t.mu.Unlock()

	switch loc {
	case defs.LOC_SWAP:
		buf := make([]byte, PageSize)
		if err := t.swap.ReadPage(swapSlot, buf); err != nil {
			t.frames.Free(h)
			return err
		}
		copy(page, buf)
		t.swap.Free(swapSlot)
	case defs.LOC_FILE:
		if err := readin(e, page); err != nil {
			t.frames.Free(h)
			return err
		}
	case defs.LOC_NOT_PRESENT:
		// fresh zero page, already zeroed by Allocate
	default:
		t.frames.Free(h)
		panic("spt: pullPage on an already-resident entry")
	}

	t.mu.Lock()
	e.Loc = defs.LOC_MEMORY
	e.Frame = h
	t.frameToAddr[h] = e.Addr
	t.mu.Unlock()
	return nil
}
