// Package bootdisk lays out a bootable disk image: one MBR partition holding
// a FAT filesystem with a GRUB legacy menu and a kernel.
package bootdisk

import (
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/appkins-org/xen-bootdisk/internal/blockdev"
)

const (
	// DiskSize is the fixed size of every boot disk.
	DiskSize int64 = 16 * 1024 * 1024
	// PartitionStart is the first sector of the boot partition.
	PartitionStart int64 = 2048
	// KernelLimit is the exclusive upper bound on the kernel size.
	KernelLimit int64 = 14 * 1024 * 1024

	// PartitionType is the MBR type byte of the boot partition (FAT16).
	PartitionType mbr.Type = 0x06

	VolumeLabel = "XENBOOT"
)

// Geometry describes the sector layout of a boot disk.
type Geometry struct {
	SectorSize       int64
	TotalSectors     int64
	PartitionStart   int64
	PartitionSectors int64
}

// DefaultGeometry is the 16 MiB layout with the partition at sector 2048
// running to the end of the disk.
func DefaultGeometry() Geometry {
	total := DiskSize / blockdev.SectorSize
	return Geometry{
		SectorSize:       blockdev.SectorSize,
		TotalSectors:     total,
		PartitionStart:   PartitionStart,
		PartitionSectors: total - PartitionStart,
	}
}

func (g Geometry) DiskBytes() int64 { return g.TotalSectors * g.SectorSize }

func (g Geometry) PartitionBytes() int64 { return g.PartitionSectors * g.SectorSize }

func (g Geometry) PartitionOffset() int64 { return g.PartitionStart * g.SectorSize }
