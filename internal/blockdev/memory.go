package blockdev

import (
	"bytes"
	"io"
	"maps"
	"slices"

	"github.com/diskfs/go-diskfs/util"
)

var _ util.File = (*Memory)(nil)

// Memory is a sparse in-memory device. Only written sectors are stored.
// It is owned by a single build and is not safe for concurrent use.
type Memory struct {
	sectors map[int64][]byte
	size    int64
	cursor
}

// NewMemory returns an all-zero device of sizeSectors sectors.
func NewMemory(sizeSectors int64) *Memory {
	return &Memory{
		sectors: make(map[int64][]byte),
		size:    sizeSectors,
	}
}

func (m *Memory) SectorSize() int { return SectorSize }

func (m *Memory) SizeSectors() int64 { return m.size }

func (m *Memory) ReadSector(n int64, p []byte) error {
	if err := checkSector("read", n, m.size, p); err != nil {
		return err
	}
	if s, ok := m.sectors[n]; ok {
		copy(p[:SectorSize], s)
		return nil
	}
	clear(p[:SectorSize])
	return nil
}

func (m *Memory) WriteSector(n int64, p []byte) error {
	if err := checkSector("write", n, m.size, p); err != nil {
		return err
	}
	m.sectors[n] = bytes.Clone(p[:SectorSize])
	return nil
}

// WrittenSectors returns the indices of stored sectors in ascending order.
func (m *Memory) WrittenSectors() []int64 {
	return slices.Sorted(maps.Keys(m.sectors))
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	return readAt(m, p, off)
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	return writeAt(m, p, off)
}

func (m *Memory) Seek(offset int64, whence int) (int64, error) {
	return m.seek(offset, whence, m.size*SectorSize)
}

// WriteTo writes the full image, zero-filling unwritten sectors.
func (m *Memory) WriteTo(w io.Writer) (int64, error) {
	zero := make([]byte, SectorSize)
	var written int64
	for n := int64(0); n < m.size; n++ {
		s, ok := m.sectors[n]
		if !ok {
			s = zero
		}
		c, err := w.Write(s)
		written += int64(c)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
