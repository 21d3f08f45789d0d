// Package blockdev provides the sector-addressed devices a boot disk is
// assembled on: a sparse in-memory store, partition windows over it and
// read-only local files.
package blockdev

import (
	"errors"
	"fmt"
	"io"
)

// SectorSize is the logical sector size of every device in this package.
const SectorSize = 512

// Device is a fixed-size array of sectors.
type Device interface {
	SectorSize() int
	SizeSectors() int64
	ReadSector(n int64, p []byte) error
	WriteSector(n int64, p []byte) error
}

// Sparse is implemented by devices that know which sectors hold data.
// Every other sector reads as zero.
type Sparse interface {
	WrittenSectors() []int64
}

var errShortBuffer = errors.New("buffer shorter than one sector")

func checkSector(op string, n, size int64, p []byte) error {
	if n < 0 || n >= size {
		return outOfRange(op, n, size)
	}
	if len(p) < SectorSize {
		return &Error{Kind: KindUnknown, Op: op, Sector: n, Msg: errShortBuffer.Error()}
	}
	return nil
}

// readAt maps a byte-addressed read onto whole-sector reads of d.
func readAt(d Device, p []byte, off int64) (int, error) {
	ss := int64(d.SectorSize())
	size := d.SizeSectors() * ss
	if off < 0 {
		return 0, &Error{Kind: KindUnknown, Op: "read", Msg: fmt.Sprintf("negative offset %d", off)}
	}
	if off >= size {
		return 0, io.EOF
	}

	buf := make([]byte, ss)
	n := 0
	for n < len(p) && off < size {
		within := off % ss
		if err := d.ReadSector(off/ss, buf); err != nil {
			return n, err
		}
		c := copy(p[n:], buf[within:])
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// writeAt maps a byte-addressed write onto sector writes of d,
// reading back partially covered sectors first.
func writeAt(d Device, p []byte, off int64) (int, error) {
	ss := int64(d.SectorSize())
	size := d.SizeSectors() * ss
	if off < 0 || off+int64(len(p)) > size {
		return 0, &Error{
			Kind:   KindUnknown,
			Op:     "write",
			Sector: off / ss,
			Msg:    fmt.Sprintf("write of %d bytes at offset %d exceeds device size %d", len(p), off, size),
		}
	}

	buf := make([]byte, ss)
	n := 0
	for n < len(p) {
		sector := off / ss
		within := off % ss
		if within != 0 || int64(len(p)-n) < ss {
			if err := d.ReadSector(sector, buf); err != nil {
				return n, err
			}
		}
		c := copy(buf[within:], p[n:])
		if err := d.WriteSector(sector, buf); err != nil {
			return n, err
		}
		n += c
		off += int64(c)
	}
	return n, nil
}

// cursor implements io.Seeker for the byte view of a device.
type cursor struct {
	pos int64
}

func (c *cursor) seek(offset int64, whence int, size int64) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = c.pos + offset
	case io.SeekEnd:
		next = size + offset
	default:
		return c.pos, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if next < 0 {
		return c.pos, fmt.Errorf("seek: negative position %d", next)
	}
	c.pos = next
	return next, nil
}
