package xapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const importPath = "/import_raw_vdi"

// OpenImport starts a raw import of exactly size bytes into vdi. The
// returned writer feeds the request body; Close finishes the upload and
// reports the server's verdict. The body is sent with a Content-Length,
// never chunked.
func (w *Remote) OpenImport(ctx context.Context, session, vdi string, size int64) (io.WriteCloser, error) {
	ctx, span := w.span(ctx, "OpenImport")
	span.SetAttributes(attribute.String("vdi.ref", vdi), attribute.Int64("upload.size", size))

	q := url.Values{}
	q.Set("session_id", session)
	q.Set("vdi", vdi)
	q.Set("format", "raw")
	target := w.base + importPath + "?" + q.Encode()

	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, pr)
	if err != nil {
		err = fail(span, fmt.Errorf("import request: %w", err))
		span.End()
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	s := &importStream{pw: pw, size: size, span: span}
	s.g.Go(func() error {
		err := w.send(req)
		// unblocks any pending Write once the request is over
		pr.CloseWithError(err)
		return err
	})

	w.Log.V(1).Info("import started", "vdi", vdi, "size", size)
	return s, nil
}

func (w *Remote) send(req *http.Request) error {
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("import: unexpected status %s", resp.Status)
	}
	return nil
}

type importStream struct {
	pw      *io.PipeWriter
	g       errgroup.Group
	size    int64
	written int64
	closed  bool
	span    trace.Span
}

func (s *importStream) Write(p []byte) (int, error) {
	if s.written+int64(len(p)) > s.size {
		return 0, fmt.Errorf("import: write of %d bytes exceeds declared size %d", len(p), s.size)
	}
	n, err := s.pw.Write(p)
	s.written += int64(n)
	if err != nil {
		s.pw.CloseWithError(err)
		if gerr := s.g.Wait(); gerr != nil {
			return n, gerr
		}
		return n, fmt.Errorf("import: %w", err)
	}
	return n, nil
}

// Close ends the body and waits for the response.
func (s *importStream) Close() error {
	if s.closed {
		return s.g.Wait()
	}
	s.closed = true
	defer s.span.End()

	if s.written != s.size {
		s.pw.CloseWithError(fmt.Errorf("import: closed after %d of %d bytes", s.written, s.size))
	} else {
		s.pw.Close()
	}

	if err := s.g.Wait(); err != nil {
		return fail(s.span, err)
	}
	if s.written != s.size {
		return fail(s.span, fmt.Errorf("import: closed after %d of %d bytes", s.written, s.size))
	}
	return nil
}
