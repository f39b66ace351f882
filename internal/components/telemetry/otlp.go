package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type OtlpConnConfig struct {
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

type OtlpConfig struct {
	Traces OtlpConnConfig `json:"traces"`
}

type Config struct {
	Otlp OtlpConfig `json:"otlp"`
}

// SetupTracing installs a global tracer provider exporting to the configured
// OTLP endpoint. Without an endpoint, the otel no-op provider stays in place
// and the returned shutdown does nothing.
func SetupTracing(ctx context.Context, serviceName string, config Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if config.Otlp.Traces.HttpEndpoint == "" {
		return noop, nil
	}

	r, err := newResource(serviceName)
	if err != nil {
		return noop, err
	}

	tracerProvider, err := newTraceProvider(ctx, r, config)
	if err != nil {
		return noop, err
	}
	otel.SetTracerProvider(tracerProvider)

	return tracerProvider.Shutdown, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

func newTraceProvider(ctx context.Context, r *resource.Resource, config Config) (*trace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()

	slog.Info(
		"tracer export initialized",
		"type", "http",
		"endpoint", config.Otlp.Traces.HttpEndpoint,
		"headers", len(config.Otlp.Traces.Headers) > 0,
	)
	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpointURL(config.Otlp.Traces.HttpEndpoint),
		otlptracehttp.WithHeaders(config.Otlp.Traces.Headers),
	)
	if err != nil {
		return nil, err
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	), nil
}
