// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContextCarrier adapts a plain map to propagation.TextMapCarrier so a
// trace context can round-trip through environment variables: Inject
// writes into one, ToEnv renders it as KEY=VALUE pairs for a spawned
// process, and the inverse (os.Environ) feeds ExtractTraceContext.
type TraceContextCarrier struct {
	values map[string]string
}

// NewTraceContextCarrier returns an empty carrier.
func NewTraceContextCarrier() *TraceContextCarrier {
	return &TraceContextCarrier{values: map[string]string{}}
}

// Get implements propagation.TextMapCarrier.
func (c *TraceContextCarrier) Get(key string) string {
	return c.values[strings.ToUpper(key)]
}

// Set implements propagation.TextMapCarrier.
func (c *TraceContextCarrier) Set(key, value string) {
	c.values[strings.ToUpper(key)] = value
}

// Keys implements propagation.TextMapCarrier.
func (c *TraceContextCarrier) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	return keys
}

// ToEnv renders the carrier as KEY=VALUE strings suitable for
// executor.JobSpec.Env.
func (c *TraceContextCarrier) ToEnv() []string {
	env := make([]string, 0, len(c.values))
	for k, v := range c.values {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// InitializePropagators installs the W3C Trace Context propagator as the
// process-global default. Call once during startup, before any spans cross
// a process boundary.
func InitializePropagators() {
	otel.SetTextMapPropagator(propagation.TraceContext{})
}

// InjectTraceContext renders ctx's active span context as environment
// variables (TRACEPARENT, TRACESTATE) a spawned stage container can pick
// up, so its own instrumentation (if any) continues the same trace.
func InjectTraceContext(ctx context.Context) []string {
	carrier := NewTraceContextCarrier()
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.ToEnv()
}

// ExtractTraceContext reads TRACEPARENT/TRACESTATE from the process
// environment and returns a context carrying the resulting span context, if
// any, so a process that inherits trace context from whatever spawned it
// can continue that trace.
func ExtractTraceContext(ctx context.Context) context.Context {
	carrier := NewTraceContextCarrier()
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch strings.ToUpper(parts[0]) {
		case "TRACEPARENT", "TRACESTATE":
			carrier.Set(parts[0], parts[1])
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
