// Package kernel wires every subsystem collaborator into one aggregate
// and exposes what a workload driver needs: each subsystem as an exported
// field, a per-process page table (Process), process teardown
// (ExitProcess), and cache flush (Shutdown). Per the redesign noted in
// spec.md §9, this replaces the original's scattered global locks
// (cache_lock, free_map_lock, one lock per open inode, one per process
// address space) with a single Kernel holding one coarse lock per
// subsystem — the same granularity biscuit's Vm_t/Physmem_t split uses,
// just collected under one root instead of reached through a global.
package kernel

import (
	"sync"

	"vmcore/internal/blockdev"
	"vmcore/internal/cache"
	"vmcore/internal/defs"
	"vmcore/internal/freemap"
	"vmcore/internal/frame"
	"vmcore/internal/inode"
	"vmcore/internal/spt"
	"vmcore/internal/swap"
)

// Kernel aggregates the whole memory and filesystem core: one
// filesystem disk fronted by a buffer cache and an open-inode table,
// one swap disk fronted by a slot allocator, one shared physical frame
// pool, and a set of per-process supplemental page tables.
type Kernel struct {
	FSDisk   blockdev.Disk
	SwapDisk blockdev.Disk
	Cache    *cache.Cache
	FreeMap  *freemap.Map
	Inodes   *inode.Table
	Swap     *swap.Area
	Frames   *frame.Table

	procMu sync.Mutex
	procs  map[defs.Pid_t]*spt.Table
}

// Config bounds the sizes of a Kernel's resource pools.
type Config struct {
	FSSectors   int
	SwapSectors int
	FrameCount  int
	ReservedLo  int // sectors reserved before the free-map data region (e.g. root inode)
}

// New builds a Kernel from a filesystem disk and a swap disk, both
// already sized per cfg, and loads (or initializes) the free-sector
// bitmap.
func New(fsDisk, swapDisk blockdev.Disk, cfg Config, fresh bool) (*Kernel, error) {
	c := cache.New(fsDisk)
	fm := freemap.New(fsDisk, cfg.ReservedLo)
	if !fresh {
		if err := fm.Load(); err != nil {
			return nil, err
		}
	}
	k := &Kernel{
		FSDisk:   fsDisk,
		SwapDisk: swapDisk,
		Cache:    c,
		FreeMap:  fm,
		Inodes:   inode.NewTable(c, fm),
		Swap:     swap.New(swapDisk),
		Frames:   frame.New(cfg.FrameCount),
		procs:    make(map[defs.Pid_t]*spt.Table),
	}
	return k, nil
}

// Process returns the supplemental page table for pid, creating one on
// first reference.
func (k *Kernel) Process(pid defs.Pid_t) *spt.Table {
	k.procMu.Lock()
	defer k.procMu.Unlock()
	t, ok := k.procs[pid]
	if !ok {
		t = spt.Init(pid, k.Frames, k.Swap)
		k.procs[pid] = t
	}
	return t
}

// ExitProcess tears down pid's address space: every mmap mapping is
// written back, then every remaining page's resources (frames, swap
// slots) are released.
func (k *Kernel) ExitProcess(pid defs.Pid_t) error {
	k.procMu.Lock()
	t, ok := k.procs[pid]
	delete(k.procs, pid)
	k.procMu.Unlock()
	if !ok {
		return nil
	}
	if err := t.UnmapAll(); err != nil {
		return err
	}
	t.Destroy()
	return nil
}

// Shutdown flushes every dirty cache slot back to the filesystem disk,
// matching cache_writeback_all at filesystem teardown.
func (k *Kernel) Shutdown() error {
	return k.Cache.WritebackAll()
}
