// Package blockdev is the external block-device collaborator described
// in spec.md §6: fixed 512-byte sector I/O, synchronous read/write. The
// scheduler, interrupt dispatch, and the real AHCI/virtio driver are out
// of scope (spec.md §1); this package only needs to give the buffer
// cache, free-sector map, and swap area something real to read and
// write through, the way biscuit's fs.Disk_i lets fs.Bdev_block_t stay
// agnostic of the underlying controller.
package blockdev

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"vmcore/internal/defs"
)

// SectorSize is the fixed size of a block-device sector in bytes.
const SectorSize = 512

// Disk is the synchronous sector I/O contract every higher layer
// programs against. Both backends below satisfy it.
type Disk interface {
	ReadSector(sector int, buf []byte) error
	WriteSector(sector int, buf []byte) error
	SectorCount() int
	Role() defs.BlockRole
	Stats() string
}

func checkBuf(buf []byte) {
	if len(buf) != SectorSize {
		panic(fmt.Sprintf("blockdev: buffer must be exactly %d bytes, got %d", SectorSize, len(buf)))
	}
}

// MemDisk is an in-memory block device, used by tests and by the
// workload simulator when no backing file is configured.
type MemDisk struct {
	sync.Mutex
	role    defs.BlockRole
	sectors [][]byte
	reads   int
	writes  int
}

// NewMemDisk allocates a zero-filled in-memory disk of n sectors.
func NewMemDisk(role defs.BlockRole, n int) *MemDisk {
	d := &MemDisk{role: role, sectors: make([][]byte, n)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, SectorSize)
	}
	return d
}

func (d *MemDisk) ReadSector(sector int, buf []byte) error {
	checkBuf(buf)
	d.Lock()
	defer d.Unlock()
	if sector < 0 || sector >= len(d.sectors) {
		return defs.EIO
	}
	copy(buf, d.sectors[sector])
	d.reads++
	return nil
}

func (d *MemDisk) WriteSector(sector int, buf []byte) error {
	checkBuf(buf)
	d.Lock()
	defer d.Unlock()
	if sector < 0 || sector >= len(d.sectors) {
		return defs.EIO
	}
	copy(d.sectors[sector], buf)
	d.writes++
	return nil
}

func (d *MemDisk) SectorCount() int { return len(d.sectors) }

func (d *MemDisk) Role() defs.BlockRole { return d.role }

func (d *MemDisk) Stats() string {
	d.Lock()
	defer d.Unlock()
	return fmt.Sprintf("memdisk(sectors=%d, reads=%d, writes=%d)", len(d.sectors), d.reads, d.writes)
}

// FileDisk backs a block device with a real file, doing sector I/O via
// pread/pwrite-equivalent ReadAt/WriteAt and taking an advisory
// exclusive flock for the lifetime of the process, the same discipline
// gcsfuse and jacobsa-fuse use when they hand a real file descriptor to
// a higher-level cache.
type FileDisk struct {
	mu      sync.Mutex
	role    defs.BlockRole
	f       *os.File
	nsec    int
	reads   int
	writes  int
}

// OpenFileDisk opens (creating if necessary) path as a block device of
// nsec sectors and takes an advisory exclusive lock on it.
func OpenFileDisk(path string, role defs.BlockRole, nsec int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: %s already in use: %w", path, err)
	}
	size := int64(nsec) * SectorSize
	if fi, err := f.Stat(); err == nil && fi.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &FileDisk{role: role, f: f, nsec: nsec}, nil
}

func (d *FileDisk) ReadSector(sector int, buf []byte) error {
	checkBuf(buf)
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector < 0 || sector >= d.nsec {
		return defs.EIO
	}
	if _, err := d.f.ReadAt(buf, int64(sector)*SectorSize); err != nil {
		return defs.EIO
	}
	d.reads++
	return nil
}

func (d *FileDisk) WriteSector(sector int, buf []byte) error {
	checkBuf(buf)
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector < 0 || sector >= d.nsec {
		return defs.EIO
	}
	if _, err := d.f.WriteAt(buf, int64(sector)*SectorSize); err != nil {
		return defs.EIO
	}
	d.writes++
	return nil
}

func (d *FileDisk) SectorCount() int { return d.nsec }

func (d *FileDisk) Role() defs.BlockRole { return d.role }

func (d *FileDisk) Stats() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("filedisk(sectors=%d, reads=%d, writes=%d)", d.nsec, d.reads, d.writes)
}

// Close releases the backing file and its advisory lock.
func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
