// Package upload copies a block device into a new virtual disk on a Xen
// host and hands back the disk's UUID.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/appkins-org/xen-bootdisk/internal/blockdev"
)

const tracerName = "github.com/appkins-org/xen-bootdisk/internal/upload"

// ControlPlane is the remote side of an upload.
type ControlPlane interface {
	Login(ctx context.Context) (string, error)
	DefaultSR(ctx context.Context, session string) (string, error)
	CreateVDI(ctx context.Context, session, sr, label, description string, size int64) (string, error)
	VDIUUID(ctx context.Context, session, vdi string) (string, error)
	DestroyVDI(ctx context.Context, session, vdi string) error
	// OpenImport returns a stream that accepts exactly size bytes.
	OpenImport(ctx context.Context, session, vdi string, size int64) (io.WriteCloser, error)
	Logout(ctx context.Context, session string) error
}

type Uploader struct {
	Log     logr.Logger
	Control ControlPlane
	Metrics *Metrics

	NameLabel       string
	NameDescription string
}

// Upload creates a virtual disk the size of dev and streams every sector
// of dev into it in ascending order. If anything fails once the disk
// exists, the disk is destroyed. The session is always logged out; a
// logout failure is only reported when everything else succeeded.
func (u *Uploader) Upload(ctx context.Context, dev blockdev.Device) (uuid string, err error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "upload.Upload")
	defer span.End()

	start := time.Now()
	defer func() {
		stage := "ok"
		var se *StageError
		if errors.As(err, &se) {
			stage = string(se.Stage)
		}
		u.Metrics.finish(stage, time.Since(start).Seconds())
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	session, err := u.Control.Login(ctx)
	if err != nil {
		return "", &StageError{Stage: StageLogin, Err: err}
	}
	defer func() {
		lerr := u.Control.Logout(context.WithoutCancel(ctx), session)
		if lerr == nil {
			return
		}
		if err == nil {
			uuid, err = "", &StageError{Stage: StageLogout, Err: lerr}
			return
		}
		u.Log.Error(lerr, "logout failed after an earlier error")
	}()

	sr, err := u.Control.DefaultSR(ctx, session)
	if err != nil {
		return "", &StageError{Stage: StageResolveSR, Err: err}
	}

	size := dev.SizeSectors() * int64(dev.SectorSize())
	span.SetAttributes(attribute.Int64("upload.size", size), attribute.String("sr.ref", sr))

	vdi, err := u.Control.CreateVDI(ctx, session, sr, u.NameLabel, u.NameDescription, size)
	if err != nil {
		return "", &StageError{Stage: StageCreate, Err: err}
	}
	u.Log.Info("created virtual disk", "vdi", vdi, "size", humanize.IBytes(uint64(size)))

	uuid, err = u.fill(ctx, session, vdi, dev, size)
	if err == nil {
		return uuid, nil
	}

	u.Metrics.cleanup()
	if derr := u.Control.DestroyVDI(context.WithoutCancel(ctx), session, vdi); derr != nil {
		return "", &StageError{
			Stage: StageCleanup,
			VDI:   vdi,
			Err:   fmt.Errorf("%w (after: %w)", derr, err),
		}
	}
	return "", err
}

// fill runs everything that needs the disk to be destroyed on failure.
func (u *Uploader) fill(ctx context.Context, session, vdi string, dev blockdev.Device, size int64) (string, error) {
	uuid, err := u.Control.VDIUUID(ctx, session, vdi)
	if err != nil {
		return "", &StageError{Stage: StageUUID, VDI: vdi, Err: err}
	}

	w, err := u.Control.OpenImport(ctx, session, vdi, size)
	if err != nil {
		return "", &StageError{Stage: StageStream, VDI: vdi, Err: err}
	}
	if err := u.stream(ctx, w, dev); err != nil {
		_ = w.Close()
		return "", &StageError{Stage: StageStream, VDI: vdi, Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &StageError{Stage: StageStream, VDI: vdi, Err: err}
	}

	u.Log.Info("uploaded virtual disk", "vdi", vdi, "uuid", uuid)
	return uuid, nil
}

// stream writes sectors 0..N-1 of dev to w, one write per sector.
// Sectors a sparse device never wrote go out as zeros without a read.
func (u *Uploader) stream(ctx context.Context, w io.Writer, dev blockdev.Device) error {
	n := dev.SizeSectors()
	buf := make([]byte, dev.SectorSize())

	var written []int64
	sparse, isSparse := dev.(blockdev.Sparse)
	if isSparse {
		written = sparse.WrittenSectors()
	}

	for i := int64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch {
		case !isSparse:
			if err := dev.ReadSector(i, buf); err != nil {
				return err
			}
		case len(written) > 0 && written[0] == i:
			written = written[1:]
			if err := dev.ReadSector(i, buf); err != nil {
				return err
			}
		default:
			clear(buf)
		}

		c, err := w.Write(buf)
		if err != nil {
			return fmt.Errorf("sector %d: %w", i, err)
		}
		if c != len(buf) {
			return fmt.Errorf("sector %d: %w", i, io.ErrShortWrite)
		}
		u.Metrics.sector(c)
	}

	u.Log.V(1).Info("streamed sectors", "sectors", n)
	return nil
}
