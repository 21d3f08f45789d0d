package bootdisk

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/diskfs/go-diskfs/util"
	fs "github.com/mitchellh/go-fs"
	"github.com/mitchellh/go-fs/fat"

	"github.com/appkins-org/xen-bootdisk/internal/blockdev"
)

// volume exposes a byte window of an image as a go-fs block device. It
// keeps the first I/O error it sees so the FAT layer cannot swallow it.
type volume struct {
	f      util.File
	offset int64
	size   int64
	ioErr  error
}

var _ fs.BlockDevice = (*volume)(nil)

func (v *volume) Len() int64 { return v.size }

func (v *volume) SectorSize() int { return blockdev.SectorSize }

func (v *volume) ReadAt(p []byte, off int64) (int, error) {
	n, err := v.f.ReadAt(p, v.offset+off)
	v.record(err)
	return n, err
}

func (v *volume) WriteAt(p []byte, off int64) (int, error) {
	n, err := v.f.WriteAt(p, v.offset+off)
	v.record(err)
	return n, err
}

func (v *volume) record(err error) {
	if err != nil && v.ioErr == nil && !errors.Is(err, io.EOF) {
		v.ioErr = err
	}
}

// cause attaches the recorded device error to err unless err already
// carries it.
func (v *volume) cause(err error) error {
	if v.ioErr == nil || errors.Is(err, v.ioErr) {
		return err
	}
	return fmt.Errorf("%w: %w", err, v.ioErr)
}

// fatVolume resolves slash separated paths against a mounted FAT root.
type fatVolume struct {
	root fs.Directory
}

func mount(dev *volume) (*fatVolume, error) {
	filesys, err := fat.New(dev)
	if err != nil {
		return nil, &FilesystemError{Op: "mount", Path: "/", Err: dev.cause(err)}
	}
	root, err := filesys.RootDir()
	if err != nil {
		return nil, &FilesystemError{Op: "mount", Path: "/", Err: dev.cause(err)}
	}
	return &fatVolume{root: root}, nil
}

// lookup matches names case-insensitively; FAT short names are upper case.
func lookup(dir fs.Directory, name string) fs.DirectoryEntry {
	for _, e := range dir.Entries() {
		if strings.EqualFold(e.Name(), name) {
			return e
		}
	}
	return nil
}

func (v *fatVolume) dir(p string) (fs.Directory, error) {
	current := v.root
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		e := lookup(current, part)
		if e == nil {
			return nil, fmt.Errorf("%s: no such directory", p)
		}
		if !e.IsDir() {
			return nil, fmt.Errorf("%s: not a directory", p)
		}
		d, err := e.Dir()
		if err != nil {
			return nil, err
		}
		current = d
	}
	return current, nil
}

func (v *fatVolume) Mkdir(p string) error {
	parent, err := v.dir(path.Dir(p))
	if err != nil {
		return err
	}
	if e := lookup(parent, path.Base(p)); e != nil {
		if e.IsDir() {
			return nil
		}
		return fmt.Errorf("%s exists and is not a directory", p)
	}
	_, err = parent.AddDirectory(path.Base(p))
	return err
}

func (v *fatVolume) Create(p string) (io.Writer, error) {
	parent, err := v.dir(path.Dir(p))
	if err != nil {
		return nil, err
	}
	if lookup(parent, path.Base(p)) != nil {
		return nil, fmt.Errorf("%s already exists", p)
	}
	e, err := parent.AddFile(path.Base(p))
	if err != nil {
		return nil, err
	}
	f, err := e.File()
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ReadFile returns the file's data rounded up to whole clusters.
func (v *fatVolume) ReadFile(p string) ([]byte, error) {
	parent, err := v.dir(path.Dir(p))
	if err != nil {
		return nil, err
	}
	e := lookup(parent, path.Base(p))
	if e == nil || e.IsDir() {
		return nil, fmt.Errorf("%s: no such file", p)
	}
	f, err := e.File()
	if err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}
