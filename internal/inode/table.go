// Open-inode table: the in-memory registry ensuring every sector has at
// most one live Inode, with reference counting and deferred-removal
// semantics. Grounded on inode_open/inode_close/inode_remove's
// open_inodes list walk; the original spins on a sentinel value
// (0xcccccccc) written into a half-constructed list element while
// another thread finishes filling it in. A goroutine blocking on a
// sync.Cond is the idiomatic equivalent of that spin-yield interlock.
package inode

import (
	"sync"

	"vmcore/internal/cache"
	"vmcore/internal/defs"
	"vmcore/internal/freemap"
)

// Table is the registry of currently open inodes for one filesystem.
type Table struct {
	mu    sync.Mutex
	cond  *sync.Cond
	cache *cache.Cache
	fm    *freemap.Map
	open  map[int]*Inode
	busy  map[int]bool
}

// NewTable creates an empty open-inode table over the given backing
// collaborators.
func NewTable(c *cache.Cache, fm *freemap.Map) *Table {
	t := &Table{cache: c, fm: fm, open: make(map[int]*Inode), busy: make(map[int]bool)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Open returns the shared Inode for sector, reading it in from disk on
// first open and bumping its reference count on every call, matching
// inode_open/inode_reopen.
func (t *Table) Open(sector int) (*Inode, error) {
	t.mu.Lock()
	for t.busy[sector] {
		t.cond.Wait()
	}
	if ino, ok := t.open[sector]; ok {
		ino.mu.Lock()
		ino.openCnt++
		ino.mu.Unlock()
		t.mu.Unlock()
		return ino, nil
	}
	t.busy[sector] = true
	t.mu.Unlock()

	buf, err := t.cache.ReadMeta(sector)
	if err != nil {
		t.mu.Lock()
		delete(t.busy, sector)
		t.cond.Broadcast()
		t.mu.Unlock()
		return nil, err
	}
	d := decodeOnDisk(buf)
	if d.Magic != diskMagic {
		t.mu.Lock()
		delete(t.busy, sector)
		t.cond.Broadcast()
		t.mu.Unlock()
		return nil, defs.ENOENT
	}
	ino := &Inode{sector: sector, fm: t.fm, cache: t.cache, d: d, openCnt: 1}

	t.mu.Lock()
	t.open[sector] = ino
	delete(t.busy, sector)
	t.cond.Broadcast()
	t.mu.Unlock()
	return ino, nil
}

// Close drops one reference on ino. When the count reaches zero, the
// inode is evicted from the table, and if it had been marked removed,
// its sectors are released back to the free map — matching
// inode_close's teardown path.
func (t *Table) Close(ino *Inode) error {
	ino.mu.Lock()
	ino.openCnt--
	last := ino.openCnt == 0
	removed := ino.removed
	d := ino.d
	sector := ino.sector
	ino.mu.Unlock()

	if !last {
		return nil
	}

	t.mu.Lock()
	delete(t.open, sector)
	t.mu.Unlock()

	if removed {
		if err := releaseAll(t.cache, t.fm, &d); err != nil {
			return err
		}
		t.fm.Release(sector, 1)
	}
	return nil
}

// Remove marks ino for deletion once its last reference closes,
// matching inode_remove (which only sets a flag; the real teardown
// happens in inode_close).
func (t *Table) Remove(ino *Inode) {
	ino.mu.Lock()
	ino.removed = true
	ino.mu.Unlock()
}
