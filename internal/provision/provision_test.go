package provision_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/xen-bootdisk/internal/blockdev"
	"github.com/appkins-org/xen-bootdisk/internal/bootdisk"
	"github.com/appkins-org/xen-bootdisk/internal/provision"
	"github.com/appkins-org/xen-bootdisk/internal/upload"
)

const testUUID = "6a0d6b1c-4d59-4b0c-9a3e-2f1d7e8c5a44"

// recorder collects an import into a byte slice.
type recorder struct {
	buf    bytes.Buffer
	writes int
}

func (r *recorder) Write(p []byte) (int, error) {
	r.writes++
	return r.buf.Write(p)
}

func (r *recorder) Close() error { return nil }

type fakeControl struct {
	calls    []string
	size     int64
	recorder *recorder
}

func (f *fakeControl) Login(context.Context) (string, error) {
	f.calls = append(f.calls, "login")
	return "session", nil
}

func (f *fakeControl) DefaultSR(context.Context, string) (string, error) {
	f.calls = append(f.calls, "sr")
	return "sr", nil
}

func (f *fakeControl) CreateVDI(_ context.Context, _, _, _, _ string, size int64) (string, error) {
	f.calls = append(f.calls, "create")
	f.size = size
	return "vdi", nil
}

func (f *fakeControl) VDIUUID(context.Context, string, string) (string, error) {
	f.calls = append(f.calls, "uuid")
	return testUUID, nil
}

func (f *fakeControl) DestroyVDI(context.Context, string, string) error {
	f.calls = append(f.calls, "destroy")
	return nil
}

func (f *fakeControl) OpenImport(context.Context, string, string, int64) (io.WriteCloser, error) {
	f.calls = append(f.calls, "import")
	f.recorder = &recorder{}
	return f.recorder, nil
}

func (f *fakeControl) Logout(context.Context, string) error {
	f.calls = append(f.calls, "logout")
	return nil
}

func newProvisioner(c *fakeControl) *provision.Provisioner {
	return &provision.Provisioner{
		Log: logr.Discard(),
		Uploader: &upload.Uploader{
			Log:       logr.Discard(),
			Control:   c,
			NameLabel: "boot",
		},
	}
}

func randomFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	b := make([]byte, size)
	_, err := rand.Read(b)
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, b, 0o600))
	return p, b
}

func TestBootDiskEndToEnd(t *testing.T) {
	kernelPath, kernel := randomFile(t, "kernel.xen", 1024*1024)
	c := &fakeControl{}
	p := newProvisioner(c)
	p.Output = filepath.Join(t.TempDir(), "disk.img")

	uuid, err := p.BootDisk(context.Background(), kernelPath)
	require.NoError(t, err)
	assert.Equal(t, testUUID, uuid)

	assert.Equal(t, []string{"login", "sr", "create", "uuid", "import", "logout"}, c.calls)
	assert.Equal(t, bootdisk.DiskSize, c.size)
	assert.Equal(t, 32768, c.recorder.writes)
	assert.Equal(t, 16*1024*1024, c.recorder.buf.Len())

	// what was uploaded is a readable boot disk
	uploaded := blockdev.NewMemory(32768)
	_, err = uploaded.WriteAt(c.recorder.buf.Bytes(), 0)
	require.NoError(t, err)
	got, err := bootdisk.Inspect(uploaded, bootdisk.DefaultGeometry())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got.Kernel), len(kernel))
	assert.Equal(t, kernel, got.Kernel[:len(kernel)])

	// and so is the local copy
	img, err := os.ReadFile(p.Output)
	require.NoError(t, err)
	assert.Equal(t, c.recorder.buf.Bytes(), img)
}

func TestBootDiskKernelTooLargeTouchesNothingRemote(t *testing.T) {
	kernelPath := filepath.Join(t.TempDir(), "kernel.xen")
	f, err := os.Create(kernelPath)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(14*1024*1024))
	require.NoError(t, f.Close())

	c := &fakeControl{}
	_, err = newProvisioner(c).BootDisk(context.Background(), kernelPath)

	assert.ErrorIs(t, err, bootdisk.ErrKernelTooLarge)
	assert.Empty(t, c.calls)
}

func TestRawDevice(t *testing.T) {
	// 3.5 sectors; the tail goes out zero-padded
	devPath, content := randomFile(t, "disk.raw", 3*512+256)
	c := &fakeControl{}

	uuid, err := newProvisioner(c).RawDevice(context.Background(), devPath)
	require.NoError(t, err)
	assert.Equal(t, testUUID, uuid)

	assert.EqualValues(t, 4*512, c.size)
	assert.Equal(t, 4, c.recorder.writes)

	want := append(bytes.Clone(content), make([]byte, 256)...)
	assert.Equal(t, want, c.recorder.buf.Bytes())
}

func TestRawDeviceMissing(t *testing.T) {
	c := &fakeControl{}
	_, err := newProvisioner(c).RawDevice(context.Background(), filepath.Join(t.TempDir(), "absent"))

	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, c.calls)
}
