// Package telemetry wires optional trace export and metrics push for a
// single provisioning run.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/appkins-org/xen-bootdisk/internal/config"
)

const serviceName = "xen-bootdisk"

// ShutdownFunc flushes and stops whatever Setup started.
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// SetupTracing installs a global tracer provider exporting over OTLP/gRPC.
// With no endpoint configured spans stay with the default no-op provider.
func SetupTracing(ctx context.Context, log logr.Logger, cfg config.TelemetryConfig, version string) (ShutdownFunc, error) {
	if cfg.OTLPEndpoint == "" {
		return noop, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("telemetry: creating exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		// conflicting schema URLs; fall back to our own attributes only
		res = resource.NewSchemaless(semconv.ServiceName(serviceName), semconv.ServiceVersion(version))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	log.V(1).Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)

	return tp.Shutdown, nil
}

// PushMetrics sends everything in g to the configured Pushgateway once.
// It does nothing when no gateway is configured.
func PushMetrics(ctx context.Context, log logr.Logger, cfg config.TelemetryConfig, g prometheus.Gatherer) error {
	if cfg.PushgatewayURL == "" {
		return nil
	}
	job := cfg.Job
	if job == "" {
		job = serviceName
	}
	if g == nil {
		return errors.New("telemetry: no metrics to push")
	}

	if err := push.New(cfg.PushgatewayURL, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("telemetry: pushing metrics: %w", err)
	}
	log.V(1).Info("pushed metrics", "gateway", cfg.PushgatewayURL, "job", job)
	return nil
}
