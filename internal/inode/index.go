// Index translation: mapping a byte offset within a file to the disk
// sector that holds it, allocating sectors on demand as a file grows.
// Grounded on original_source/filesys/index.c (index_which_sector,
// index_allocate_sector, index_extend).
package inode

import (
	"vmcore/internal/blockdev"
	"vmcore/internal/cache"
	"vmcore/internal/freemap"
)

// PtrsPerSector is the number of 32-bit sector pointers that fit in one
// indirect block.
const PtrsPerSector = blockdev.SectorSize / 4

// DirectCount is the number of direct block pointers held inline in the
// on-disk inode, matching inode_disk.direct[DIRECT_BLOCKS_COUNT].
const DirectCount = 5

// MaxSectors is the number of sectors a file can address: direct
// blocks, one indirect block, and one double-indirect block of
// indirect blocks.
const MaxSectors = DirectCount + PtrsPerSector + PtrsPerSector*PtrsPerSector

// sectorIndex classifies a logical sector index into which pointer
// layer holds it, matching index_which_sector's three-way branch.
type sectorIndex struct {
	direct bool
	dIdx   int // index into direct[], if direct
	ind    bool
	indIdx int // index into the single indirect block, if ind
	dbl    bool
	outer  int // index into the double-indirect's outer block
	inner  int // index into the resolved inner indirect block
}

func classify(logical int) sectorIndex {
	if logical < DirectCount {
		return sectorIndex{direct: true, dIdx: logical}
	}
	logical -= DirectCount
	if logical < PtrsPerSector {
		return sectorIndex{ind: true, indIdx: logical}
	}
	logical -= PtrsPerSector
	if logical >= PtrsPerSector*PtrsPerSector {
		panic("inode: logical sector out of range")
	}
	return sectorIndex{dbl: true, outer: logical / PtrsPerSector, inner: logical % PtrsPerSector}
}

// readPtrBlock and writePtrBlock route indirection-block I/O through the
// cache as an ordinary data sector, so a pointer block freed and
// reallocated elsewhere can't leave stale bytes behind in a cache slot
// that a later cache.Read of the new owner would return.
func readPtrBlock(c *cache.Cache, sector int) ([]uint32, error) {
	buf, err := c.Read(sector)
	if err != nil {
		return nil, err
	}
	return decodePtrs(buf), nil
}

func writePtrBlock(c *cache.Cache, sector int, ptrs []uint32) error {
	return c.Write(sector, encodePtrs(ptrs))
}

func decodePtrs(buf []byte) []uint32 {
	ptrs := make([]uint32, PtrsPerSector)
	for i := range ptrs {
		ptrs[i] = le32(buf[i*4:])
	}
	return ptrs
}

func encodePtrs(ptrs []uint32) []byte {
	buf := make([]byte, blockdev.SectorSize)
	for i, p := range ptrs {
		putLE32(buf[i*4:], p)
	}
	return buf
}

// which returns the physical sector backing d's logical sector index,
// or (0, false) if it has never been allocated.
func which(c *cache.Cache, d *onDisk, logical int) (int, bool, error) {
	idx := classify(logical)
	switch {
	case idx.direct:
		s := d.Direct[idx.dIdx]
		return int(s), s != 0, nil
	case idx.ind:
		if d.Indirect == 0 {
			return 0, false, nil
		}
		ptrs, err := readPtrBlock(c, int(d.Indirect))
		if err != nil {
			return 0, false, err
		}
		s := ptrs[idx.indIdx]
		return int(s), s != 0, nil
	default:
		if d.DoubleIndirect == 0 {
			return 0, false, nil
		}
		outer, err := readPtrBlock(c, int(d.DoubleIndirect))
		if err != nil {
			return 0, false, err
		}
		if outer[idx.outer] == 0 {
			return 0, false, nil
		}
		inner, err := readPtrBlock(c, int(outer[idx.outer]))
		if err != nil {
			return 0, false, err
		}
		s := inner[idx.inner]
		return int(s), s != 0, nil
	}
}

// allocate assigns a fresh zero-filled physical sector to d's logical
// sector index, allocating any indirect/double-indirect blocks needed
// along the way, all zero-filled and committed via the cache. Grounded
// on index_allocate_sector/index_extend; unlike the original's
// index_extend (which writes its double-indirect outer block
// unconditionally on every new inner allocation — the stale
// "table1[idx2]" write flagged as an Open Question), this always
// re-reads the outer block before mutating a single entry and writes
// it back once, so a partially-filled outer block never loses entries
// allocated by a previous call in the same indirect range.
func allocate(c *cache.Cache, fm *freemap.Map, d *onDisk, logical int) (int, error) {
	zero := make([]byte, blockdev.SectorSize)
	newSector := func() (int, error) {
		s, ok := fm.Allocate(1)
		if !ok {
			return 0, errNoSpace
		}
		if err := c.Write(s, zero); err != nil {
			return 0, err
		}
		return s, nil
	}

	idx := classify(logical)
	switch {
	case idx.direct:
		if d.Direct[idx.dIdx] != 0 {
			return int(d.Direct[idx.dIdx]), nil
		}
		s, err := newSector()
		if err != nil {
			return 0, err
		}
		d.Direct[idx.dIdx] = uint32(s)
		return s, nil

	case idx.ind:
		if d.Indirect == 0 {
			blk, err := newSector()
			if err != nil {
				return 0, err
			}
			d.Indirect = uint32(blk)
		}
		ptrs, err := readPtrBlock(c, int(d.Indirect))
		if err != nil {
			return 0, err
		}
		if ptrs[idx.indIdx] != 0 {
			return int(ptrs[idx.indIdx]), nil
		}
		s, err := newSector()
		if err != nil {
			return 0, err
		}
		ptrs[idx.indIdx] = uint32(s)
		if err := writePtrBlock(c, int(d.Indirect), ptrs); err != nil {
			return 0, err
		}
		return s, nil

	default:
		if d.DoubleIndirect == 0 {
			blk, err := newSector()
			if err != nil {
				return 0, err
			}
			d.DoubleIndirect = uint32(blk)
		}
		outer, err := readPtrBlock(c, int(d.DoubleIndirect))
		if err != nil {
			return 0, err
		}
		if outer[idx.outer] == 0 {
			blk, err := newSector()
			if err != nil {
				return 0, err
			}
			outer[idx.outer] = uint32(blk)
			if err := writePtrBlock(c, int(d.DoubleIndirect), outer); err != nil {
				return 0, err
			}
		}
		inner, err := readPtrBlock(c, int(outer[idx.outer]))
		if err != nil {
			return 0, err
		}
		if inner[idx.inner] != 0 {
			return int(inner[idx.inner]), nil
		}
		s, err := newSector()
		if err != nil {
			return 0, err
		}
		inner[idx.inner] = uint32(s)
		if err := writePtrBlock(c, int(outer[idx.outer]), inner); err != nil {
			return 0, err
		}
		return s, nil
	}
}

// releaseAll frees every sector reachable from d, including indirect and
// double-indirect pointer blocks, matching inode_close's free_map_release
// walk when an inode is removed.
func releaseAll(c *cache.Cache, fm *freemap.Map, d *onDisk) error {
	for _, s := range d.Direct {
		if s != 0 {
			fm.Release(int(s), 1)
		}
	}
	if d.Indirect != 0 {
		ptrs, err := readPtrBlock(c, int(d.Indirect))
		if err != nil {
			return err
		}
		for _, s := range ptrs {
			if s != 0 {
				fm.Release(int(s), 1)
			}
		}
		fm.Release(int(d.Indirect), 1)
	}
	if d.DoubleIndirect != 0 {
		outer, err := readPtrBlock(c, int(d.DoubleIndirect))
		if err != nil {
			return err
		}
		for _, outS := range outer {
			if outS == 0 {
				continue
			}
			inner, err := readPtrBlock(c, int(outS))
			if err != nil {
				return err
			}
			for _, s := range inner {
				if s != 0 {
					fm.Release(int(s), 1)
				}
			}
			fm.Release(int(outS), 1)
		}
		fm.Release(int(d.DoubleIndirect), 1)
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
