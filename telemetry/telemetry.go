// Package telemetry wires optional OpenTelemetry tracing. Spans are created
// around tool calls, HelixDB queries and embedding requests; they are only
// exported when an OTLP endpoint is configured.
package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Settings are read from the environment.
type Settings struct {
	Endpoint string `env:"MEMORY_MCP_OTEL_ENDPOINT"`
	Enabled  string `env:"MEMORY_MCP_OTEL_ENABLED"`
}

// Active reports whether spans should be exported.
func (s Settings) Active() bool {
	return s.Endpoint != "" && !strings.EqualFold(s.Enabled, "false")
}

// CollectorAddr returns the host:port the exporter sends to. A URL without
// a port gets the scheme default.
func (s Settings) CollectorAddr() (string, error) {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return "", fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("telemetry: endpoint %q has no host", s.Endpoint)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Reachable dials the collector once.
func (s Settings) Reachable(ctx context.Context) error {
	addr, err := s.CollectorAddr()
	if err != nil {
		return err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("telemetry: collector unreachable: %w", err)
	}
	return conn.Close()
}

// FromEnv parses Settings from the process environment.
func FromEnv() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("telemetry: parse env: %w", err)
	}
	return s, nil
}

// Setup registers a global tracer provider that batches spans to the OTLP
// HTTP collector named in Settings, tagged with serviceName and version.
// Without an active endpoint nothing is registered and the returned
// shutdown does nothing. Callers defer shutdown to flush on exit.
func Setup(ctx context.Context, serviceName, version string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	settings, err := FromEnv()
	if err != nil {
		return noop, err
	}
	if !settings.Active() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(settings.Endpoint),
	)
	if err != nil {
		return noop, fmt.Errorf("telemetry: otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("telemetry: service resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
