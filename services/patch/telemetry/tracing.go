// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by the patch runner.
const TracerName = "github.com/AleutianAI/anchorfix/services/patch"

var (
	// ErrUnknownExporter indicates an unsupported trace exporter name.
	ErrUnknownExporter = errors.New("unknown trace exporter")

	// ErrNilContext indicates InitTracing was called with a nil context.
	ErrNilContext = errors.New("nil context")
)

// TracingConfig selects where spans go.
type TracingConfig struct {
	// ServiceName identifies anchorfix in exported spans.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Exporter is "none" (default) or "stdout".
	Exporter string

	// Writer receives stdout spans. Default: os.Stderr, keeping stdout free
	// for diff output.
	Writer io.Writer
}

// InitTracing installs a global tracer provider per cfg.
//
// # Outputs
//
//   - shutdown: Flushes and stops the provider. Always non-nil on success;
//     a no-op when Exporter is "none".
//   - error: ErrUnknownExporter or exporter construction failure.
//
// Thread Safety: Call once at startup.
func InitTracing(ctx context.Context, cfg TracingConfig) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	noop := func(context.Context) error { return nil }

	switch cfg.Exporter {
	case "", "none":
		return noop, nil
	case "stdout":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "anchorfix"
	}
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", name),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	// Synchronous export: the process usually exits right after one run.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the runner's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
