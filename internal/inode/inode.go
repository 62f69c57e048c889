// Package inode implements the indexed-file layer: the on-disk inode
// format, the open-inode table with reference counting, and
// offset-addressed reads/writes that translate through index.go's
// direct/indirect/double-indirect sector maps. Grounded on
// original_source/filesys/inode.c and inode.h, with the cache's
// write-through metadata path (internal/cache) standing in for
// cache_read/cache_write's is_inode_sector branch.
package inode

import (
	"encoding/binary"
	"sync"

	"vmcore/internal/blockdev"
	"vmcore/internal/cache"
	"vmcore/internal/defs"
	"vmcore/internal/freemap"
	"vmcore/internal/util"
)

// diskMagic identifies a valid inode sector, matching INODE_MAGIC.
const diskMagic = 0x494e4f44

var errNoSpace = defs.ENOSPC

// onDisk is the 512-byte on-disk inode record, laid out to match
// inode_disk: length, is_dir, the direct/indirect/double-indirect
// sector pointers, and a magic number, zero-padded to fill the sector.
type onDisk struct {
	Length         uint32
	IsDir          uint32
	Direct         [DirectCount]uint32
	Indirect       uint32
	DoubleIndirect uint32
	Magic          uint32
}

func decodeOnDisk(buf []byte) onDisk {
	var d onDisk
	r := bufReader{buf: buf}
	d.Length = r.u32()
	d.IsDir = r.u32()
	for i := range d.Direct {
		d.Direct[i] = r.u32()
	}
	d.Indirect = r.u32()
	d.DoubleIndirect = r.u32()
	d.Magic = r.u32()
	return d
}

func (d onDisk) encode() []byte {
	buf := make([]byte, blockdev.SectorSize)
	w := bufWriter{buf: buf}
	w.u32(d.Length)
	w.u32(d.IsDir)
	for _, s := range d.Direct {
		w.u32(s)
	}
	w.u32(d.Indirect)
	w.u32(d.DoubleIndirect)
	w.u32(d.Magic)
	return buf
}

type bufReader struct {
	buf []byte
	pos int
}

func (r *bufReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

type bufWriter struct {
	buf []byte
	pos int
}

func (w *bufWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
}

// Inode is an in-memory handle on an open file or directory. Multiple
// Opens of the same sector share one Inode and a reference count,
// exactly as inode_open's open_inodes list does.
type Inode struct {
	mu           sync.Mutex
	sector       int
	fm           *freemap.Map
	cache        *cache.Cache
	d            onDisk
	openCnt      int
	denyWriteCnt int
	removed      bool
}

// Sector returns the inode's own sector number (its inumber).
func (ino *Inode) Sector() int {
	return ino.sector
}

// IsDir reports whether this inode represents a directory.
func (ino *Inode) IsDir() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.d.IsDir != 0
}

// Length returns the file's current length in bytes.
func (ino *Inode) Length() int {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return int(ino.d.Length)
}

// Create initializes a fresh inode record at sector with the given
// length and directory flag, and writes it through the cache, matching
// inode_create's zero-length allocation followed by an immediate
// extend to the requested size.
func Create(c *cache.Cache, fm *freemap.Map, sector int, length int, isDir bool) error {
	d := onDisk{Magic: diskMagic}
	if isDir {
		d.IsDir = 1
	}
	if length > 0 {
		if err := extend(c, fm, &d, length); err != nil {
			return err
		}
	}
	d.Length = uint32(length)
	return c.WriteMeta(sector, d.encode())
}

func extend(c *cache.Cache, fm *freemap.Map, d *onDisk, newLen int) error {
	oldSectors := sectorsFor(int(d.Length))
	newSectors := sectorsFor(newLen)
	for i := oldSectors; i < newSectors; i++ {
		if _, err := allocate(c, fm, d, i); err != nil {
			return err
		}
	}
	return nil
}

func sectorsFor(length int) int {
	if length <= 0 {
		return 0
	}
	return util.DivRoundUp(length, blockdev.SectorSize)
}

// ReadAt copies up to len(buf) bytes starting at off into buf, returning
// the number of bytes actually read (short at EOF), matching
// inode_read_at's bounce-buffer handling of partial sectors.
func (ino *Inode) ReadAt(buf []byte, off int) (int, error) {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	length := int(ino.d.Length)
	if off >= length {
		return 0, nil
	}
	if off+len(buf) > length {
		buf = buf[:length-off]
	}
	n := 0
	for n < len(buf) {
		logical := (off + n) / blockdev.SectorSize
		sectorOff := (off + n) % blockdev.SectorSize
		chunk := util.Min(blockdev.SectorSize-sectorOff, len(buf)-n)
		phys, ok, err := which(ino.cache, &ino.d, logical)
		if err != nil {
			return n, err
		}
		if !ok {
			for i := 0; i < chunk; i++ {
				buf[n+i] = 0
			}
			n += chunk
			continue
		}
		sec, err := ino.cache.Read(phys)
		if err != nil {
			return n, err
		}
		copy(buf[n:n+chunk], sec[sectorOff:sectorOff+chunk])
		n += chunk
	}
	return n, nil
}

// WriteAt writes len(buf) bytes at off, extending the file (and its
// on-disk length) if the write runs past the current end, matching
// inode_write_at's grow-then-write behavior. It fails with EINVAL if
// the inode currently has writes denied.
func (ino *Inode) WriteAt(buf []byte, off int) (int, error) {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if ino.denyWriteCnt > 0 {
		return 0, defs.EINVAL
	}
	end := off + len(buf)
	if end > int(ino.d.Length) {
		if err := extend(ino.cache, ino.fm, &ino.d, end); err != nil {
			return 0, err
		}
		ino.d.Length = uint32(end)
		if err := ino.cache.WriteMeta(ino.sector, ino.d.encode()); err != nil {
			return 0, err
		}
	}
	n := 0
	for n < len(buf) {
		logical := (off + n) / blockdev.SectorSize
		sectorOff := (off + n) % blockdev.SectorSize
		chunk := util.Min(blockdev.SectorSize-sectorOff, len(buf)-n)
		phys, err := allocate(ino.cache, ino.fm, &ino.d, logical)
		if err != nil {
			return n, err
		}
		if chunk == blockdev.SectorSize {
			if err := ino.cache.Write(phys, buf[n:n+chunk]); err != nil {
				return n, err
			}
		} else {
			sec, err := ino.cache.Read(phys)
			if err != nil {
				return n, err
			}
			merged := make([]byte, blockdev.SectorSize)
			copy(merged, sec)
			copy(merged[sectorOff:sectorOff+chunk], buf[n:n+chunk])
			if err := ino.cache.Write(phys, merged); err != nil {
				return n, err
			}
		}
		n += chunk
	}
	return n, nil
}

// DenyWrite disallows further writes to this inode (used while it is
// executing as an image), matching inode_deny_write's counter bump.
func (ino *Inode) DenyWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.denyWriteCnt++
	if ino.denyWriteCnt > ino.openCnt {
		panic("inode: deny_write_cnt exceeds open_cnt")
	}
}

// AllowWrite reverses one DenyWrite.
func (ino *Inode) AllowWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.denyWriteCnt--
}
