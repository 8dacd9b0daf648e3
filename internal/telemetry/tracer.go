// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package telemetry wraps OpenTelemetry trace export for stage execution,
// and carries an active trace context into a spawned stage's container as
// environment variables so logs from that process line up with the span
// that launched it.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and where a pipeline's stage spans are exported.
// A nil *Config (or Enabled: false) yields a Tracer that hands back no-op
// spans, so call sites never need a feature-flag branch of their own.
type Config struct {
	Enabled  bool
	Endpoint string
	Headers  map[string]string
	Timeout  time.Duration
	Insecure bool
	Resource map[string]any
}

// Tracer wraps an optional *sdktrace.TracerProvider. Its zero value is not
// usable; always construct one with NewTracer.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// NewTracer builds a Tracer for serviceName. cfg == nil disables export
// entirely. The exporter transport is chosen from the endpoint shape: an
// endpoint containing "/v1/traces" or starting with "http" selects
// OTLP/HTTP, otherwise OTLP/gRPC.
func NewTracer(ctx context.Context, serviceName string, cfg *Config) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(serviceName), enabled: false}, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("telemetry: endpoint is required when tracing is enabled")
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building exporter: %w", err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	for k, v := range cfg.Resource {
		attrs = append(attrs, resourceAttribute(k, v))
	}
	res := resource.NewSchemaless(attrs...)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	InitializePropagators()

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		enabled:  true,
	}, nil
}

func newExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	if strings.Contains(cfg.Endpoint, "/v1/traces") || strings.HasPrefix(cfg.Endpoint, "http") {
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(endpointHost(cfg.Endpoint)),
			otlptracehttp.WithTimeout(timeout),
			otlptracehttp.WithHeaders(cfg.Headers),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(timeout),
		otlptracegrpc.WithHeaders(cfg.Headers),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// endpointHost strips a leading scheme and trailing path so the same
// user-supplied endpoint string works for both transports.
func endpointHost(endpoint string) string {
	e := endpoint
	e = strings.TrimPrefix(e, "https://")
	e = strings.TrimPrefix(e, "http://")
	if i := strings.Index(e, "/"); i >= 0 {
		e = e[:i]
	}
	return e
}

func resourceAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// IsEnabled reports whether spans from this Tracer are actually exported.
func (t *Tracer) IsEnabled() bool { return t.enabled }

// Start begins a span named name, or a no-op span when tracing is disabled.
func (t *Tracer) Start(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}

// Shutdown flushes and closes the exporter. Safe to call on a disabled Tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
