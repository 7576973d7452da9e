// Package telemetry wires optional OpenTelemetry trace, metric, and log
// providers to an OTLP gRPC collector. When no collector is configured the
// globals stay no-ops and the engine's instruments cost nothing.
//
// Call [Setup] once at startup and defer the returned shutdown func with a
// fresh context so pending telemetry is flushed on exit.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultServiceName = "calsnap"

// Config mirrors the telemetry block of the YAML configuration.
type Config struct {
	// OTLPEndpoint is the gRPC host:port of the collector, e.g. "localhost:4317".
	OTLPEndpoint string

	// Insecure disables TLS, for local collectors without a certificate.
	Insecure bool

	// ServiceName overrides the service.name resource attribute.
	ServiceName string

	// Headers is sent as gRPC metadata on every OTLP request, typically an
	// Authorization token.
	Headers map[string]string
}

// ShutdownFunc flushes and closes all providers. Call it with a fresh
// context; the main context is usually already cancelled during shutdown.
type ShutdownFunc func(context.Context) error

// Setup installs global trace, metric, and log providers sharing one gRPC
// connection to the collector. The returned ShutdownFunc is always non-nil so
// callers can defer it unconditionally.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	res, err := buildResource(cfg.ServiceName)
	if err != nil {
		return noopShutdown, err
	}

	conn, err := dial(cfg)
	if err != nil {
		return noopShutdown, err
	}

	var closers []func(context.Context) error
	cleanup := func() {
		shutdownCtx := context.Background()
		for _, c := range closers {
			_ = c(shutdownCtx)
		}
		_ = conn.Close()
	}

	tp, err := newTraceProvider(ctx, conn, res, cfg.Headers)
	if err != nil {
		cleanup()
		return noopShutdown, err
	}
	closers = append(closers, tp.Shutdown)
	otel.SetTracerProvider(tp)

	mp, err := newMeterProvider(ctx, conn, res, cfg.Headers)
	if err != nil {
		cleanup()
		return noopShutdown, err
	}
	closers = append(closers, mp.Shutdown)
	otel.SetMeterProvider(mp)

	lp, err := newLoggerProvider(ctx, conn, res, cfg.Headers)
	if err != nil {
		cleanup()
		return noopShutdown, err
	}
	closers = append(closers, lp.Shutdown)
	global.SetLoggerProvider(lp)

	return func(ctx context.Context) error {
		var errs []error
		for _, c := range closers {
			if err := c(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing OTLP connection: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

// buildResource describes this service instance. NewSchemaless avoids the
// schema URL clash between resource.Default() and our semconv version.
func buildResource(serviceName string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("building OTel resource: %w", err)
	}
	return res, nil
}

// dial opens the single gRPC connection all three exporters share.
func dial(cfg Config) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(nil) // system root CAs
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}
	return conn, nil
}

func newTraceProvider(ctx context.Context, conn *grpc.ClientConn, res *resource.Resource, headers map[string]string) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(ctx context.Context, conn *grpc.ClientConn, res *resource.Resource, headers map[string]string) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
		otlpmetricgrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	), nil
}

func newLoggerProvider(ctx context.Context, conn *grpc.ClientConn, res *resource.Resource, headers map[string]string) (*sdklog.LoggerProvider, error) {
	exp, err := otlploggrpc.New(ctx,
		otlploggrpc.WithGRPCConn(conn),
		otlploggrpc.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	), nil
}

// noopShutdown is returned on error so callers can always defer.
func noopShutdown(context.Context) error { return nil }
