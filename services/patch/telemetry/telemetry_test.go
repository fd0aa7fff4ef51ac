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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestMetrics_ObserveRun(t *testing.T) {
	m := NewMetrics()
	m.ObserveRun("splice", ResultApplied, 2*time.Millisecond)
	m.ObserveRun("splice", ResultApplied, time.Millisecond)
	m.ObserveRun("splice", ResultAnchor, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("splice", ResultApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("splice", ResultAnchor)))
}

func TestMetrics_Replacements(t *testing.T) {
	m := NewMetrics()
	m.AddReplacements("mojibake •", 3)
	m.AddReplacements("mojibake •", 0)
	m.MarkerStripped("bare")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.replacements.WithLabelValues("mojibake •")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.markersStripped.WithLabelValues("bare")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("clean", ResultError, time.Second)
		m.AddReplacements("x", 1)
		m.MarkerStripped("bare")
	})
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.ObserveRun("clean", ResultUnchanged, time.Millisecond)

	path := filepath.Join(t.TempDir(), "anchorfix.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `anchorfix_runs_total{op="clean",result="unchanged"} 1`)
	assert.Contains(t, string(data), "anchorfix_run_duration_seconds_count 1")
}

func TestInitTracing_None(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Exporter: "none"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_Unknown(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Exporter: "jaeger"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitTracing_Stdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{Exporter: "stdout", Writer: &buf})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "patch.test")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "patch.test")
}
