// Package xapi talks to a XenServer / XCP-ng management endpoint: sessions,
// storage lookup, virtual disk lifecycle and raw disk import.
package xapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/appkins-org/xen-bootdisk/internal/config"
)

const (
	tracerName = "github.com/appkins-org/xen-bootdisk/backend/xapi"
	originator = "xen-bootdisk"

	// nullRef is how the API spells an unset object reference.
	nullRef = "OpaqueRef:NULL"
)

var (
	ErrNoPools     = errors.New("no pools visible to this session")
	ErrNoDefaultSR = errors.New("pool has no default storage repository")
)

// Remote is a management endpoint. It holds no session of its own; every
// call takes the session returned by Login.
type Remote struct {
	// Log is the logger used by the Remote backend.
	Log logr.Logger

	config *config.XapiConfig

	rpc  rpc
	http *http.Client
	base string
}

// NewRemote creates a backend for the endpoint in cfg. No request is made
// until Login.
func NewRemote(l logr.Logger, cfg config.XapiConfig) (*Remote, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("xapi: endpoint url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Insecure,
		},
	}

	client, err := newXenapiRPC(cfg.URL, transport)
	if err != nil {
		return nil, fmt.Errorf("xapi: creating client: %w", err)
	}

	return newRemote(l, cfg, client, transport), nil
}

func newRemote(l logr.Logger, cfg config.XapiConfig, client rpc, transport http.RoundTripper) *Remote {
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(transport),
	}
	jar, _ := cookiejar.New(nil)
	httpClient.Jar = jar

	return &Remote{
		Log:    l,
		config: &cfg,
		rpc:    client,
		http:   httpClient,
		base:   strings.TrimSuffix(cfg.URL, "/"),
	}
}

func (w *Remote) span(ctx context.Context, name string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "backend.xapi."+name)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Login opens a session with the configured credentials.
func (w *Remote) Login(ctx context.Context) (string, error) {
	_, span := w.span(ctx, "Login")
	defer span.End()

	session, err := w.rpc.LoginWithPassword(w.config.Username, w.config.Password, originator)
	if err != nil {
		return "", fail(span, fmt.Errorf("login as %s: %w", w.config.Username, err))
	}
	w.Log.V(1).Info("logged in", "endpoint", w.base, "user", w.config.Username)
	return session, nil
}

func (w *Remote) Logout(ctx context.Context, session string) error {
	_, span := w.span(ctx, "Logout")
	defer span.End()

	if err := w.rpc.Logout(session); err != nil {
		return fail(span, fmt.Errorf("logout: %w", err))
	}
	w.Log.V(1).Info("logged out")
	return nil
}

// DefaultSR picks the storage repository new disks go to: the configured
// SR when one is set, otherwise the default SR of the first pool.
func (w *Remote) DefaultSR(ctx context.Context, session string) (string, error) {
	_, span := w.span(ctx, "DefaultSR")
	defer span.End()

	if w.config.SRUUID != "" {
		span.SetAttributes(attribute.String("sr.uuid", w.config.SRUUID))
		sr, err := w.rpc.SRByUUID(session, w.config.SRUUID)
		if err != nil {
			return "", fail(span, fmt.Errorf("looking up SR %s: %w", w.config.SRUUID, err))
		}
		return sr, nil
	}

	pools, err := w.rpc.Pools(session)
	if err != nil {
		return "", fail(span, fmt.Errorf("listing pools: %w", err))
	}
	if len(pools) == 0 {
		return "", fail(span, ErrNoPools)
	}
	if len(pools) > 1 {
		w.Log.Info("more than one pool visible, using the first", "pools", len(pools), "pool", pools[0])
	}

	sr, err := w.rpc.PoolDefaultSR(session, pools[0])
	if err != nil {
		return "", fail(span, fmt.Errorf("default SR of pool %s: %w", pools[0], err))
	}
	if sr == "" || sr == nullRef {
		return "", fail(span, fmt.Errorf("pool %s: %w", pools[0], ErrNoDefaultSR))
	}
	return sr, nil
}

// CreateVDI creates a user disk of size bytes in sr.
func (w *Remote) CreateVDI(ctx context.Context, session, sr, label, description string, size int64) (string, error) {
	_, span := w.span(ctx, "CreateVDI")
	defer span.End()
	span.SetAttributes(attribute.Int64("vdi.size", size), attribute.String("vdi.name", label))

	virtualSize, err := vdiSize(size)
	if err != nil {
		return "", fail(span, err)
	}

	vdi, err := w.rpc.CreateVDI(session, vdiSpec{
		SR:              sr,
		NameLabel:       label,
		NameDescription: description,
		VirtualSize:     virtualSize,
	})
	if err != nil {
		return "", fail(span, fmt.Errorf("creating VDI: %w", err))
	}
	w.Log.V(1).Info("created VDI", "vdi", vdi, "sr", sr)
	return vdi, nil
}

// vdiSize converts a byte count to the int the bindings carry.
func vdiSize(size int64) (int, error) {
	if size <= 0 {
		return 0, fmt.Errorf("invalid VDI size %d", size)
	}
	n, err := safecast.ToInt(size)
	if err != nil {
		return 0, fmt.Errorf("VDI size %d: %w", size, err)
	}
	return n, nil
}

func (w *Remote) VDIUUID(ctx context.Context, session, vdi string) (string, error) {
	_, span := w.span(ctx, "VDIUUID")
	defer span.End()

	uuid, err := w.rpc.VDIUUID(session, vdi)
	if err != nil {
		return "", fail(span, fmt.Errorf("reading uuid of %s: %w", vdi, err))
	}
	return uuid, nil
}

func (w *Remote) DestroyVDI(ctx context.Context, session, vdi string) error {
	_, span := w.span(ctx, "DestroyVDI")
	defer span.End()

	if err := w.rpc.DestroyVDI(session, vdi); err != nil {
		return fail(span, fmt.Errorf("destroying %s: %w", vdi, err))
	}
	w.Log.Info("destroyed VDI", "vdi", vdi)
	return nil
}
