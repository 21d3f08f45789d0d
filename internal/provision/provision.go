// Package provision turns a kernel or an existing disk into a virtual disk
// on a Xen host.
package provision

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/appkins-org/xen-bootdisk/internal/blockdev"
	"github.com/appkins-org/xen-bootdisk/internal/bootdisk"
	"github.com/appkins-org/xen-bootdisk/internal/upload"
)

const tracerName = "github.com/appkins-org/xen-bootdisk/internal/provision"

type Provisioner struct {
	Log      logr.Logger
	Uploader *upload.Uploader

	// Output, when set, receives a copy of every boot disk built.
	Output string
}

// BootDisk builds a boot disk around the kernel at kernelPath and uploads
// it. Nothing is created remotely unless the build succeeds.
func (p *Provisioner) BootDisk(ctx context.Context, kernelPath string) (string, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "provision.BootDisk")
	defer span.End()
	span.SetAttributes(attribute.String("kernel.path", kernelPath))

	disk, err := bootdisk.Build(ctx, p.Log, kernelPath)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("building boot disk: %w", err)
	}

	if p.Output != "" {
		if err := writeImage(p.Output, disk); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		p.Log.Info("wrote boot disk image", "path", p.Output)
	}

	uuid, err := p.Uploader.Upload(ctx, disk)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return uuid, nil
}

// RawDevice uploads the local device or image at path unchanged.
func (p *Provisioner) RawDevice(ctx context.Context, path string) (string, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "provision.RawDevice")
	defer span.End()
	span.SetAttributes(attribute.String("device.path", path))

	dev, err := blockdev.OpenFile(path)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer dev.Close()

	p.Log.Info("uploading device", "path", path, "sectors", dev.SizeSectors())

	uuid, err := p.Uploader.Upload(ctx, dev)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return uuid, nil
}

func writeImage(path string, disk *blockdev.Memory) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	if _, err := disk.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing image %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing image %s: %w", path, err)
	}
	return nil
}
