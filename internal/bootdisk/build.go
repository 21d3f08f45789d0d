package bootdisk

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/appkins-org/xen-bootdisk/internal/blockdev"
)

// Build assembles a boot disk in memory for the kernel at kernelPath.
// The returned device is owned by the caller.
func Build(ctx context.Context, log logr.Logger, kernelPath string) (*blockdev.Memory, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "bootdisk.Build")
	defer span.End()

	g := DefaultGeometry()
	disk := blockdev.NewMemory(g.TotalSectors)

	if err := WritePartitionTable(disk, g); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	view, err := blockdev.NewPartition(disk, g.PartitionStart, g.PartitionSectors)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("opening boot partition: %w", err)
	}

	if err := Populate(ctx, log, view, kernelPath); err != nil {
		return nil, err
	}

	log.V(1).Info("boot disk built", "sectors", g.TotalSectors, "written", len(disk.WrittenSectors()))
	return disk, nil
}
