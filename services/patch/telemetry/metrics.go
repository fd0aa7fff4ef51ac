// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for
// anchorfix runs.
//
// anchorfix is a short-lived CLI, so metrics live in a private registry that
// can be dumped in node-exporter textfile format at exit instead of being
// scraped.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values for RunsTotal.
const (
	ResultApplied   = "applied"
	ResultUnchanged = "unchanged"
	ResultDryRun    = "dry_run"
	ResultAnchor    = "anchor_not_found"
	ResultLocked    = "locked"
	ResultError     = "error"
)

// Metrics holds the counters recorded by the patch runner.
//
// Thread Safety: Safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	replacements    *prometheus.CounterVec
	markersStripped *prometheus.CounterVec
	runDuration     prometheus.Histogram
}

// NewMetrics creates a Metrics with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Labels: op = "splice" | "clean" | "splice+clean"; result = Result* constants
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorfix_runs_total",
			Help: "Patch runs by operation and result",
		}, []string{"op", "result"}),

		replacements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorfix_cleanup_replacements_total",
			Help: "Substitutions made by cleanup rules",
		}, []string{"rule"}),

		markersStripped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorfix_markers_stripped_total",
			Help: "Trailing patch markers removed, by marker",
		}, []string{"marker"}),

		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "anchorfix_run_duration_seconds",
			Help:    "Wall time of a patch run including file I/O",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

// Registry exposes the underlying registry, e.g. for tests or a push gateway.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(op, result).Inc()
	m.runDuration.Observe(d.Seconds())
}

// AddReplacements records n substitutions by the named rule.
func (m *Metrics) AddReplacements(rule string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.replacements.WithLabelValues(rule).Add(float64(n))
}

// MarkerStripped records one truncation at the named marker.
func (m *Metrics) MarkerStripped(marker string) {
	if m == nil {
		return
	}
	m.markersStripped.WithLabelValues(marker).Inc()
}

// WriteTextfile writes all metrics to path in the node-exporter textfile
// collector format. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
