package blockdev

import (
	"fmt"

	"github.com/diskfs/go-diskfs/util"
)

var _ util.File = (*Partition)(nil)

// Partition exposes the sectors [start, start+length) of a parent device
// as a device of its own, numbered from zero.
type Partition struct {
	dev    Device
	start  int64
	length int64
	cursor
}

// NewPartition returns a window over dev. The window must lie inside dev.
func NewPartition(dev Device, start, length int64) (*Partition, error) {
	if start < 0 || length <= 0 || start+length > dev.SizeSectors() {
		return nil, fmt.Errorf("partition [%d, %d) does not fit a device of %d sectors",
			start, start+length, dev.SizeSectors())
	}
	return &Partition{
		dev:    dev,
		start:  start,
		length: length,
	}, nil
}

// Start is the first parent sector of the window.
func (p *Partition) Start() int64 { return p.start }

func (p *Partition) SectorSize() int { return p.dev.SectorSize() }

func (p *Partition) SizeSectors() int64 { return p.length }

// Size is the byte length of the window.
func (p *Partition) Size() int64 { return p.length * int64(p.dev.SectorSize()) }

func (p *Partition) ReadSector(n int64, b []byte) error {
	if n < 0 || n >= p.length {
		return outOfRange("read", n, p.length)
	}
	return p.dev.ReadSector(p.start+n, b)
}

func (p *Partition) WriteSector(n int64, b []byte) error {
	if n < 0 || n >= p.length {
		return outOfRange("write", n, p.length)
	}
	return p.dev.WriteSector(p.start+n, b)
}

func (p *Partition) ReadAt(b []byte, off int64) (int, error) {
	return readAt(p, b, off)
}

func (p *Partition) WriteAt(b []byte, off int64) (int, error) {
	return writeAt(p, b, off)
}

func (p *Partition) Seek(offset int64, whence int) (int64, error) {
	return p.seek(offset, whence, p.Size())
}
