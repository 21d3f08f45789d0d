package bootdisk

import (
	"bytes"
	"fmt"

	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/diskfs/go-diskfs/util"

	"github.com/appkins-org/xen-bootdisk/internal/firmware/grub"
)

// Inspection is what a boot disk reads back as.
//
// Kernel is read in whole clusters, so it may carry zero padding after the
// bytes that were written. Menu is text and has that padding trimmed.
type Inspection struct {
	Bootable bool
	Type     mbr.Type
	Start    uint32
	Size     uint32
	Menu     []byte
	Kernel   []byte
}

// Inspect reads the partition table and the boot files back from img.
func Inspect(img util.File, g Geometry) (*Inspection, error) {
	sectorSize := int(g.SectorSize)
	table, err := mbr.Read(img, sectorSize, sectorSize)
	if err != nil {
		return nil, fmt.Errorf("reading partition table: %w", err)
	}

	var part *mbr.Partition
	for _, p := range table.Partitions {
		if p != nil && p.Type != 0 {
			part = p
			break
		}
	}
	if part == nil {
		return nil, fmt.Errorf("partition table has no entries")
	}

	dev := &volume{f: img, offset: g.PartitionOffset(), size: g.PartitionBytes()}
	vol, err := mount(dev)
	if err != nil {
		return nil, err
	}

	menu, err := readFile(dev, vol, grub.MenuPath)
	if err != nil {
		return nil, err
	}
	kernel, err := readFile(dev, vol, grub.KernelPath)
	if err != nil {
		return nil, err
	}

	return &Inspection{
		Bootable: part.Bootable,
		Type:     part.Type,
		Start:    part.Start,
		Size:     part.Size,
		Menu:     bytes.TrimRight(menu, "\x00"),
		Kernel:   kernel,
	}, nil
}

func readFile(dev *volume, vol *fatVolume, p string) ([]byte, error) {
	b, err := vol.ReadFile(p)
	if err != nil {
		return nil, &FilesystemError{Op: "read", Path: p, Err: dev.cause(err)}
	}
	return b, nil
}
