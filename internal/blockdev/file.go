package blockdev

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// File is a read-only device backed by a local image file or block device.
// A trailing partial sector reads zero-padded.
type File struct {
	f      *os.File
	path   string
	size   int64
	closed bool
}

// OpenFile opens path for reading. Block devices report their size through
// Seek, so that is used rather than Stat.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing %s: %w", path, err)
	}
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("%s is empty", path)
	}
	return &File{f: f, path: path, size: size}, nil
}

func (d *File) Path() string { return d.path }

func (d *File) SectorSize() int { return SectorSize }

func (d *File) SizeSectors() int64 {
	return (d.size + SectorSize - 1) / SectorSize
}

func (d *File) ReadSector(n int64, p []byte) error {
	if d.closed {
		return &Error{Kind: KindDisconnected, Op: "read", Sector: n}
	}
	if err := checkSector("read", n, d.SizeSectors(), p); err != nil {
		return err
	}
	c, err := d.f.ReadAt(p[:SectorSize], n*SectorSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return &Error{Kind: KindUnknown, Op: "read", Sector: n, Msg: err.Error()}
	}
	clear(p[c:SectorSize])
	return nil
}

func (d *File) WriteSector(n int64, _ []byte) error {
	if d.closed {
		return &Error{Kind: KindDisconnected, Op: "write", Sector: n}
	}
	return &Error{Kind: KindReadOnly, Op: "write", Sector: n}
}

func (d *File) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.f.Close()
}
