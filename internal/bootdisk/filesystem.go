package bootdisk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"github.com/mitchellh/go-fs/fat"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/appkins-org/xen-bootdisk/internal/blockdev"
	"github.com/appkins-org/xen-bootdisk/internal/firmware/grub"
)

const tracerName = "github.com/appkins-org/xen-bootdisk/internal/bootdisk"

var ErrKernelTooLarge = errors.New("kernel exceeds the boot partition limit")

// FilesystemError reports a failure inside the FAT layer, as opposed to a
// failure of the block device below it. When the device failed first, Err
// wraps the device's *blockdev.Error too.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// fileSystem is the part of a FAT volume the writer needs.
type fileSystem interface {
	Mkdir(p string) error
	Create(p string) (io.Writer, error)
}

// Populate formats view as FAT16 and writes the boot menu and the kernel
// found at kernelPath. Any failure aborts the whole sequence.
func Populate(ctx context.Context, log logr.Logger, view *blockdev.Partition, kernelPath string) error {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(ctx, "bootdisk.Populate")
	defer span.End()

	size, err := kernelSize(kernelPath)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int64("kernel.size", size))

	dev := &volume{f: view, size: view.Size()}
	err = fat.FormatSuperFloppy(dev, &fat.SuperFloppyConfig{
		FATType: fat.FAT16,
		Label:   VolumeLabel,
		OEMName: VolumeLabel,
	})
	if err != nil {
		err = &FilesystemError{Op: "format", Path: "/", Err: dev.cause(err)}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	log.V(1).Info("formatted boot partition", "type", "FAT16", "size", humanize.IBytes(uint64(view.Size())))

	vol, err := mount(dev)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := writeBootFiles(log, vol, kernelPath); err != nil {
		var fsErr *FilesystemError
		if errors.As(err, &fsErr) {
			fsErr.Err = dev.cause(fsErr.Err)
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	log.Info("boot partition populated", "kernel", kernelPath, "kernelSize", humanize.IBytes(uint64(size)))
	return nil
}

func kernelSize(kernelPath string) (int64, error) {
	info, err := os.Stat(kernelPath)
	if err != nil {
		return 0, fmt.Errorf("reading kernel: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("kernel %s is not a regular file", kernelPath)
	}
	if err := checkKernelSize(info.Size()); err != nil {
		return 0, fmt.Errorf("kernel %s: %w", kernelPath, err)
	}
	return info.Size(), nil
}

func checkKernelSize(size int64) error {
	if size >= KernelLimit {
		return fmt.Errorf("%w: %s is not below %s",
			ErrKernelTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(KernelLimit)))
	}
	return nil
}

func writeBootFiles(log logr.Logger, fs fileSystem, kernelPath string) error {
	if err := ensureDir(fs, path.Dir(grub.MenuPath)); err != nil {
		return err
	}
	if err := writeFile(fs, grub.MenuPath, grub.MenuLst); err != nil {
		return err
	}
	log.V(1).Info("wrote boot file", "path", grub.MenuPath)

	f, err := fs.Create(grub.KernelPath)
	if err != nil {
		return &FilesystemError{Op: "create", Path: grub.KernelPath, Err: err}
	}

	kernel, err := os.ReadFile(kernelPath)
	if err != nil {
		return fmt.Errorf("reading kernel: %w", err)
	}
	// the file may have grown since it was checked
	if err := checkKernelSize(int64(len(kernel))); err != nil {
		return fmt.Errorf("kernel %s: %w", kernelPath, err)
	}

	if err := writeAll(f, grub.KernelPath, kernel); err != nil {
		return err
	}
	log.V(1).Info("wrote boot file", "path", grub.KernelPath)
	return nil
}

// ensureDir creates every segment of dir in order, root first.
func ensureDir(fs fileSystem, dir string) error {
	current := "/"
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)
		if err := fs.Mkdir(current); err != nil {
			return &FilesystemError{Op: "mkdir", Path: current, Err: err}
		}
	}
	return nil
}

func writeFile(fs fileSystem, p string, content []byte) error {
	f, err := fs.Create(p)
	if err != nil {
		return &FilesystemError{Op: "create", Path: p, Err: err}
	}
	return writeAll(f, p, content)
}

func writeAll(f io.Writer, p string, content []byte) error {
	n, err := f.Write(content)
	if err != nil {
		return &FilesystemError{Op: "write", Path: p, Err: err}
	}
	if n != len(content) {
		return &FilesystemError{Op: "write", Path: p, Err: fmt.Errorf("short write: %d of %d bytes", n, len(content))}
	}
	return nil
}
