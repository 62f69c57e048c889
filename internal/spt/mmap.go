// Memory-mapped file support: mapping a file range into a process's
// address space page by page, reading pages in on fault, and writing
// dirty pages back on unmap or eviction. Grounded on
// biscuit/src/vm/as.go's Vmadd_file/Vmadd_sharefile and
// original_source/vm/page.c's mmap region bookkeeping (page_check_role's
// scan over the process's mmap list).
package spt

import (
	"vmcore/internal/defs"
	"vmcore/internal/inode"
)

// Map registers length bytes of ino starting at fileOff as a
// page-granular mapping beginning at addr (which must already be
// page-aligned). An entry for every covered page is created here, marked
// LOC_FILE; no page is read in until pullPage (via Fault) brings it in
// on first touch.
func (t *Table) Map(addr int, ino *inode.Inode, fileOff, length int, writable bool) error {
	if addr%PageSize != 0 {
		panic("spt: Map requires a page-aligned address")
	}
	npages := (length + PageSize - 1) / PageSize
	t.mu.Lock()
	for i := 0; i < npages; i++ {
		a := addr + i*PageSize
		if _, ok := t.entries[a]; ok {
			t.mu.Unlock()
			return defs.EEXIST
		}
	}
	for i := 0; i < npages; i++ {
		a := addr + i*PageSize
		off := fileOff + i*PageSize
		remaining := length - i*PageSize
		fileBytes := PageSize
		if remaining < PageSize {
			fileBytes = remaining
		}
		t.entries[a] = &Entry{
			Addr: a, Role: defs.SEG_MMAP, Loc: defs.LOC_FILE, Writable: writable,
			File: ino, FileOff: off, FileBytes: fileBytes,
		}
	}
	t.mu.Unlock()
	return nil
}

// readin pulls a file-backed page's bytes into page, zero-filling
// anything past the file's real data, matching the partial-page tail of
// an mmap'd region.
func readin(e *Entry, page []byte) error {
	for i := range page {
		page[i] = 0
	}
	n, err := e.File.ReadAt(page[:e.FileBytes], e.FileOff)
	if err != nil {
		return err
	}
	for i := n; i < len(page); i++ {
		page[i] = 0
	}
	return nil
}

// writeback persists a dirty mmap'd page's contents back to its file,
// matching Unmap's writeback-on-exit and Evict's write-through-to-file
// path for writable mappings.
func writeback(e *Entry, page []byte) error {
	_, err := e.File.WriteAt(page[:e.FileBytes], e.FileOff)
	return err
}

// Writeback forces addr's current contents (if resident and writable)
// back to its backing file without evicting it from memory.
func (t *Table) Writeback(addr int) error {
	t.mu.Lock()
	e, ok := t.entries[addr]
	if !ok || e.Role != defs.SEG_MMAP {
		t.mu.Unlock()
		return defs.ENOENT
	}
	if e.Loc != defs.LOC_MEMORY || !e.Writable {
		t.mu.Unlock()
		return nil
	}
	h := e.Frame
	t.mu.Unlock()
	return writeback(e, t.frames.Data(h))
}

// Unmap tears down the mapping covering addr..addr+length, writing back
// any dirty resident pages and releasing their frames, matching the
// munmap path that walks an mmap region's page list.
func (t *Table) Unmap(addr, length int) error {
	npages := (length + PageSize - 1) / PageSize
	for i := 0; i < npages; i++ {
		a := addr + i*PageSize
		if err := t.Writeback(a); err != nil {
			return err
		}
		t.FreePage(a)
	}
	return nil
}

// UnmapAll tears down every mmap mapping in this table, matching the
// mmap-list teardown a process performs on exit.
func (t *Table) UnmapAll() error {
	t.mu.Lock()
	var addrs []int
	for a, e := range t.entries {
		if e.Role == defs.SEG_MMAP {
			addrs = append(addrs, a)
		}
	}
	t.mu.Unlock()
	for _, a := range addrs {
		if err := t.Writeback(a); err != nil {
			return err
		}
		t.FreePage(a)
	}
	return nil
}
