package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/appkins-org/xen-bootdisk/internal/backend/xapi"
	"github.com/appkins-org/xen-bootdisk/internal/config"
	"github.com/appkins-org/xen-bootdisk/internal/provision"
	"github.com/appkins-org/xen-bootdisk/internal/telemetry"
	"github.com/appkins-org/xen-bootdisk/internal/upload"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(2)
	}

	if cfg.PrintConfig {
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
			os.Exit(1)
		}
		return
	}

	log := cfg.Logger(os.Stderr)

	if err := cfg.Validate(); err != nil {
		log.Error(err, "invalid configuration")
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(2)
	}

	ctx, done := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer done()

	uuid, err := run(ctx, log, cfg)
	if err != nil {
		log.Error(err, "provisioning failed")
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		done()
		os.Exit(1)
	}
	fmt.Println(uuid)
}

func run(ctx context.Context, log logr.Logger, cfg *config.Config) (uuid string, err error) {
	shutdown, err := telemetry.SetupTracing(ctx, log, cfg.Telemetry, version)
	if err != nil {
		log.Error(err, "tracing disabled")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Error(err, "flushing traces")
		}
	}()

	reg := prometheus.NewRegistry()
	defer func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := telemetry.PushMetrics(pctx, log, cfg.Telemetry, reg); err != nil {
			log.Error(err, "pushing metrics")
		}
	}()

	remote, err := xapi.NewRemote(log, cfg.Xapi)
	if err != nil {
		return "", err
	}

	p := &provision.Provisioner{
		Log: log,
		Uploader: &upload.Uploader{
			Log:             log,
			Control:         remote,
			Metrics:         upload.NewMetrics(reg),
			NameLabel:       cfg.VDI.NameLabel,
			NameDescription: cfg.VDI.NameDescription,
		},
		Output: cfg.Output,
	}

	if cfg.Device != "" {
		return p.RawDevice(ctx, cfg.Device)
	}
	return p.BootDisk(ctx, cfg.Kernel)
}
