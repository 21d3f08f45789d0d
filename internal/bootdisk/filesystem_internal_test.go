package bootdisk

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/xen-bootdisk/internal/blockdev"
)

type recordingFS struct {
	calls   []string
	failOn  string
	opened  []string
	failErr error
}

func (r *recordingFS) Mkdir(p string) error {
	r.calls = append(r.calls, "mkdir "+p)
	if p == r.failOn {
		return r.failErr
	}
	return nil
}

func (r *recordingFS) Create(p string) (io.Writer, error) {
	r.calls = append(r.calls, "create "+p)
	r.opened = append(r.opened, p)
	return nil, r.failErr
}

func TestCheckKernelSize(t *testing.T) {
	tests := []struct {
		size    int64
		wantErr bool
	}{
		{size: 0},
		{size: 1024 * 1024},
		{size: KernelLimit - 1},
		{size: KernelLimit, wantErr: true},
		{size: KernelLimit + 1, wantErr: true},
	}
	for _, tt := range tests {
		err := checkKernelSize(tt.size)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrKernelTooLarge, "size %d", tt.size)
			continue
		}
		assert.NoError(t, err, "size %d", tt.size)
	}
}

func TestEnsureDirCreatesEachSegment(t *testing.T) {
	fs := &recordingFS{}

	require.NoError(t, ensureDir(fs, "/boot/grub"))
	assert.Equal(t, []string{"mkdir /boot", "mkdir /boot/grub"}, fs.calls)
}

func TestWriteBootFilesStopsAtFirstFailure(t *testing.T) {
	kernel := filepath.Join(t.TempDir(), "kernel")
	require.NoError(t, os.WriteFile(kernel, []byte("k"), 0o600))

	boom := errors.New("no space")
	fs := &recordingFS{failOn: "/boot/grub", failErr: boom}

	err := writeBootFiles(logr.Discard(), fs, kernel)

	var fsErr *FilesystemError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, "mkdir", fsErr.Op)
	assert.Equal(t, "/boot/grub", fsErr.Path)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, fs.opened, "no file is created after a failed mkdir")
}

func TestWriteBootFilesReportsCreateFailure(t *testing.T) {
	kernel := filepath.Join(t.TempDir(), "kernel")
	require.NoError(t, os.WriteFile(kernel, []byte("k"), 0o600))

	boom := errors.New("read-only")
	fs := &recordingFS{failErr: boom}

	err := writeBootFiles(logr.Discard(), fs, kernel)

	var fsErr *FilesystemError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, "create", fsErr.Op)
	assert.Equal(t, "/boot/grub/menu.lst", fsErr.Path)
	assert.Equal(t, []string{"mkdir /boot", "mkdir /boot/grub", "create /boot/grub/menu.lst"}, fs.calls)
}

func kernelFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "kernel")
	require.NoError(t, os.WriteFile(p, []byte("kernel"), 0o600))
	return p
}

// imageFile opens a zeroed full-size disk image as a read-only device.
func imageFile(t *testing.T) *blockdev.File {
	t.Helper()
	g := DefaultGeometry()
	p := filepath.Join(t.TempDir(), "disk.img")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(g.DiskBytes()))
	require.NoError(t, f.Close())

	dev, err := blockdev.OpenFile(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func TestPopulateReportsDeviceFailure(t *testing.T) {
	g := DefaultGeometry()

	tests := []struct {
		name  string
		close bool
		want  error
	}{
		{name: "read-only", want: blockdev.ErrReadOnly},
		{name: "disconnected", close: true, want: blockdev.ErrDisconnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := imageFile(t)
			view, err := blockdev.NewPartition(dev, g.PartitionStart, g.PartitionSectors)
			require.NoError(t, err)
			if tt.close {
				require.NoError(t, dev.Close())
			}

			err = Populate(context.Background(), logr.Discard(), view, kernelFile(t))

			var fsErr *FilesystemError
			require.ErrorAs(t, err, &fsErr)
			assert.ErrorIs(t, err, tt.want)

			var blockErr *blockdev.Error
			assert.ErrorAs(t, err, &blockErr)
		})
	}
}

func TestVolumeKeepsFirstDeviceError(t *testing.T) {
	dev := imageFile(t)
	view, err := blockdev.NewPartition(dev, 2048, 16)
	require.NoError(t, err)

	v := &volume{f: view, size: view.Size()}
	assert.Equal(t, int64(16*blockdev.SectorSize), v.Len())
	assert.Equal(t, blockdev.SectorSize, v.SectorSize())

	_, err = v.WriteAt(make([]byte, blockdev.SectorSize), 0)
	require.ErrorIs(t, err, blockdev.ErrReadOnly)

	require.NoError(t, dev.Close())
	_, err = v.ReadAt(make([]byte, blockdev.SectorSize), 0)
	require.ErrorIs(t, err, blockdev.ErrDisconnected)

	wrapped := v.cause(errors.New("bad boot sector"))
	assert.ErrorIs(t, wrapped, blockdev.ErrReadOnly)
	assert.NotErrorIs(t, wrapped, blockdev.ErrDisconnected)
	assert.Equal(t, v.ioErr, v.cause(v.ioErr))
}
