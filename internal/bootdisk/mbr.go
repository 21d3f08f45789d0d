package bootdisk

import (
	"fmt"

	"github.com/ccoveille/go-safecast"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/diskfs/go-diskfs/util"
)

// PartitionTable returns the single-entry MBR for g.
func PartitionTable(g Geometry) (*mbr.Table, error) {
	start, err := safecast.ToUint32(g.PartitionStart)
	if err != nil {
		return nil, fmt.Errorf("partition start %d: %w", g.PartitionStart, err)
	}
	size, err := safecast.ToUint32(g.PartitionSectors)
	if err != nil {
		return nil, fmt.Errorf("partition length %d: %w", g.PartitionSectors, err)
	}
	sectorSize, err := safecast.ToInt(g.SectorSize)
	if err != nil {
		return nil, fmt.Errorf("sector size %d: %w", g.SectorSize, err)
	}

	return &mbr.Table{
		LogicalSectorSize:  sectorSize,
		PhysicalSectorSize: sectorSize,
		Partitions: []*mbr.Partition{
			{
				Bootable: true,
				Type:     PartitionType,
				Start:    start,
				Size:     size,
			},
		},
	}, nil
}

// WritePartitionTable writes the MBR for g into sector 0 of f.
func WritePartitionTable(f util.File, g Geometry) error {
	table, err := PartitionTable(g)
	if err != nil {
		return err
	}
	if err := table.Write(f, g.DiskBytes()); err != nil {
		return fmt.Errorf("writing partition table: %w", err)
	}
	return nil
}
