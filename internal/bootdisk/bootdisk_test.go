package bootdisk_test

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appkins-org/xen-bootdisk/internal/blockdev"
	"github.com/appkins-org/xen-bootdisk/internal/bootdisk"
)

const wantMenu = "default 0\ntimeout 1\ntitle Mirage\nroot (hd0,0)\nkernel /kernel\n"

func writeKernel(t *testing.T, size int) (string, []byte) {
	t.Helper()
	kernel := make([]byte, size)
	_, err := rand.Read(kernel)
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "kernel.xen")
	require.NoError(t, os.WriteFile(p, kernel, 0o600))
	return p, kernel
}

func TestDefaultGeometry(t *testing.T) {
	g := bootdisk.DefaultGeometry()

	assert.Equal(t, bootdisk.Geometry{
		SectorSize:       512,
		TotalSectors:     32768,
		PartitionStart:   2048,
		PartitionSectors: 30720,
	}, g)
	assert.EqualValues(t, 16*1024*1024, g.DiskBytes())
	assert.EqualValues(t, 2048*512, g.PartitionOffset())
	assert.EqualValues(t, 15*1024*1024, g.PartitionBytes())
}

func TestPartitionTable(t *testing.T) {
	table, err := bootdisk.PartitionTable(bootdisk.DefaultGeometry())
	require.NoError(t, err)

	require.Len(t, table.Partitions, 1)
	got := table.Partitions[0]
	want := struct {
		Bootable    bool
		Type        mbr.Type
		Start, Size uint32
	}{true, 0x06, 2048, 30720}

	assert.Empty(t, cmp.Diff(want, struct {
		Bootable    bool
		Type        mbr.Type
		Start, Size uint32
	}{got.Bootable, got.Type, got.Start, got.Size}))
	assert.Equal(t, 512, table.LogicalSectorSize)
}

func TestPartitionTableRejectsOversizedGeometry(t *testing.T) {
	g := bootdisk.DefaultGeometry()
	g.PartitionSectors = 1 << 40

	_, err := bootdisk.PartitionTable(g)
	assert.Error(t, err)
}

func TestWritePartitionTableTouchesOnlySectorZero(t *testing.T) {
	g := bootdisk.DefaultGeometry()
	disk := blockdev.NewMemory(g.TotalSectors)

	require.NoError(t, bootdisk.WritePartitionTable(disk, g))
	assert.Equal(t, []int64{0}, disk.WrittenSectors())

	mbrSector := make([]byte, blockdev.SectorSize)
	require.NoError(t, disk.ReadSector(0, mbrSector))
	assert.Equal(t, []byte{0x55, 0xaa}, mbrSector[510:])

	entry := mbrSector[446:462]
	assert.EqualValues(t, 0x80, entry[0], "active flag")
	assert.EqualValues(t, 0x06, entry[4], "partition type")
	assert.Equal(t, []byte{0x00, 0x08, 0x00, 0x00}, entry[8:12], "start sector 2048")
	assert.Equal(t, []byte{0x00, 0x78, 0x00, 0x00}, entry[12:16], "length 30720")
}

func TestBuildRoundTrip(t *testing.T) {
	kernelPath, kernel := writeKernel(t, 1024*1024)

	disk, err := bootdisk.Build(context.Background(), logr.Discard(), kernelPath)
	require.NoError(t, err)

	g := bootdisk.DefaultGeometry()
	assert.Equal(t, g.TotalSectors, disk.SizeSectors())
	for _, n := range disk.WrittenSectors() {
		if n != 0 {
			assert.GreaterOrEqual(t, n, g.PartitionStart, "only the MBR lives before the partition")
		}
	}

	got, err := bootdisk.Inspect(disk, g)
	require.NoError(t, err)

	assert.True(t, got.Bootable)
	assert.EqualValues(t, 0x06, got.Type)
	assert.EqualValues(t, 2048, got.Start)
	assert.EqualValues(t, 32768-2048, got.Size)
	assert.Equal(t, wantMenu, string(got.Menu))
	assertKernel(t, kernel, got.Kernel)
}

// assertKernel compares a read-back kernel, which may carry zero padding up
// to the cluster boundary, with what was written.
func assertKernel(t *testing.T, want, got []byte) {
	t.Helper()
	require.GreaterOrEqual(t, len(got), len(want))
	assert.True(t, cmp.Equal(want, got[:len(want)]), "kernel differs after read back")
	assert.Equal(t, make([]byte, len(got)-len(want)), got[len(want):], "padding after the kernel")
}

func TestBootPartitionIsFAT16(t *testing.T) {
	kernelPath, _ := writeKernel(t, 4096)

	disk, err := bootdisk.Build(context.Background(), logr.Discard(), kernelPath)
	require.NoError(t, err)

	g := bootdisk.DefaultGeometry()
	bs := make([]byte, blockdev.SectorSize)
	require.NoError(t, disk.ReadSector(g.PartitionStart, bs))

	assert.Equal(t, []byte{0x55, 0xaa}, bs[510:])
	assert.EqualValues(t, blockdev.SectorSize, binary.LittleEndian.Uint16(bs[11:13]), "bytes per sector")
	assert.Equal(t, "FAT16   ", string(bs[54:62]), "file system type")

	fatSize := int64(binary.LittleEndian.Uint16(bs[22:24]))
	require.NotZero(t, fatSize, "FAT32 keeps its FAT size in the extended BPB")

	total := int64(binary.LittleEndian.Uint16(bs[19:21]))
	if total == 0 {
		total = int64(binary.LittleEndian.Uint32(bs[32:36]))
	}
	assert.LessOrEqual(t, total, g.PartitionSectors)

	reserved := int64(binary.LittleEndian.Uint16(bs[14:16]))
	fats := int64(bs[16])
	rootSectors := (int64(binary.LittleEndian.Uint16(bs[17:19]))*32 + blockdev.SectorSize - 1) / blockdev.SectorSize
	perCluster := int64(bs[13])
	require.NotZero(t, perCluster)

	clusters := (total - reserved - fats*fatSize - rootSectors) / perCluster
	assert.GreaterOrEqual(t, clusters, int64(4085), "too few clusters for FAT16")
	assert.Less(t, clusters, int64(65525), "too many clusters for FAT16")
}

func TestBuildRejectsLargeKernel(t *testing.T) {
	kernelPath := filepath.Join(t.TempDir(), "kernel.xen")
	f, err := os.Create(kernelPath)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(bootdisk.KernelLimit))
	require.NoError(t, f.Close())

	_, err = bootdisk.Build(context.Background(), logr.Discard(), kernelPath)
	assert.ErrorIs(t, err, bootdisk.ErrKernelTooLarge)
}

func TestBuildMissingKernel(t *testing.T) {
	_, err := bootdisk.Build(context.Background(), logr.Discard(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInspectImageFile(t *testing.T) {
	kernelPath, kernel := writeKernel(t, 64*1024)

	disk, err := bootdisk.Build(context.Background(), logr.Discard(), kernelPath)
	require.NoError(t, err)

	imgPath := filepath.Join(t.TempDir(), "disk.img")
	f, err := os.Create(imgPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	n, err := disk.WriteTo(f)
	require.NoError(t, err)
	assert.Equal(t, bootdisk.DiskSize, n)

	got, err := bootdisk.Inspect(f, bootdisk.DefaultGeometry())
	require.NoError(t, err)
	assertKernel(t, kernel, got.Kernel)
	assert.Equal(t, wantMenu, string(got.Menu))
}
