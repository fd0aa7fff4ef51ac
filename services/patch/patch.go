// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch composes the anchor splicer and artifact cleaner into one
// run against a single file.
//
// # Description
//
// A run reads the target under its declared encoding, optionally replaces
// the region between two anchors, optionally applies cleanup rules and
// strips a trailing patch marker, and writes the result back under the
// same encoding. The file is written only if the text changed, and never
// when any step fails.
//
// # Thread Safety
//
// Service is safe for concurrent use. With WithLocks, runs that write
// against the same file are serialized across processes; without it they
// are still guarded by textfile's hash check.
package patch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/anchorfix/pkg/logging"
	"github.com/AleutianAI/anchorfix/services/patch/cleanup"
	"github.com/AleutianAI/anchorfix/services/patch/lock"
	"github.com/AleutianAI/anchorfix/services/patch/preview"
	"github.com/AleutianAI/anchorfix/services/patch/splice"
	"github.com/AleutianAI/anchorfix/services/patch/telemetry"
	"github.com/AleutianAI/anchorfix/services/patch/textfile"
)

// Operation labels used in logs, spans and metrics.
const (
	OpSplice      = "splice"
	OpClean       = "clean"
	OpSpliceClean = "splice+clean"
)

var (
	// ErrNilContext indicates Apply was called with a nil context.
	ErrNilContext = errors.New("nil context")

	// ErrEmptyPath indicates a job without a target path.
	ErrEmptyPath = errors.New("job path must not be empty")

	// ErrNoSteps indicates a job that would neither splice nor clean.
	ErrNoSteps = errors.New("job has no splice, rules, mojibake repair or marker strip")
)

// SpliceStep replaces the region between two anchors.
type SpliceStep struct {
	Start       string
	End         string
	Replacement string
	Boundary    splice.Boundary
}

// Job describes one run against one file.
type Job struct {
	// Path is the target file. Relative paths resolve against the working
	// directory.
	Path string

	// Encoding is the declared encoding. Empty means utf-8.
	Encoding string

	// Splice, if set, runs before any cleanup.
	Splice *SpliceStep

	// Rules are applied in order after the splice.
	Rules []cleanup.Rule

	// Mojibake appends the Windows-1252 mojibake repair rules after Rules.
	Mojibake bool

	// StripMarker truncates at the first trailing patch marker, last.
	StripMarker bool

	// DryRun computes the result and diff without writing.
	DryRun bool
}

// Op returns the operation label for the job.
func (j Job) Op() string {
	cleans := len(j.Rules) > 0 || j.Mojibake || j.StripMarker
	switch {
	case j.Splice != nil && cleans:
		return OpSpliceClean
	case j.Splice != nil:
		return OpSplice
	default:
		return OpClean
	}
}

// Validate checks the job is runnable.
func (j Job) Validate() error {
	if j.Path == "" {
		return ErrEmptyPath
	}
	if j.Splice == nil && len(j.Rules) == 0 && !j.Mojibake && !j.StripMarker {
		return ErrNoSteps
	}
	return nil
}

// cleanupRules returns the rules the cleaner runs, user rules first.
func (j Job) cleanupRules() []cleanup.Rule {
	rules := make([]cleanup.Rule, 0, len(j.Rules))
	rules = append(rules, j.Rules...)
	if j.Mojibake {
		rules = append(rules, cleanup.MojibakeRules()...)
	}
	return rules
}

// Result reports what a run did.
type Result struct {
	// RunID correlates logs, spans and output for one run.
	RunID string

	// Path is the absolute target path.
	Path string

	// Encoding is the canonical encoding the file was read and written in.
	Encoding string

	// Changed is true if the output text differs from the input.
	Changed bool

	// Written is true if the file was replaced.
	Written bool

	// BytesWritten is the encoded size written, zero if not Written.
	BytesWritten int

	// Span is the spliced region, nil without a splice step.
	Span *splice.Span

	// Cleanup holds per-rule counts, nil without rules.
	Cleanup *cleanup.Report

	// Marker is the stripped marker, nil if none was found or stripping
	// was off.
	Marker *cleanup.Marker

	// Diff is the unified diff from input to output, empty if unchanged.
	Diff string

	// Stats summarizes Diff.
	Stats preview.Stats

	// Duration is the wall time of the run.
	Duration time.Duration
}

// Service runs jobs.
type Service struct {
	logger       *logging.Logger
	metrics      *telemetry.Metrics
	locks        *lock.Manager
	tracer       trace.Tracer
	contextLines int
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records run counters into m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLocks takes an advisory lock on the target for every writing run.
// Dry runs never lock.
func WithLocks(m *lock.Manager) Option {
	return func(s *Service) { s.locks = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithContextLines sets the diff context. Default: preview.DefaultContextLines.
func WithContextLines(n int) Option {
	return func(s *Service) { s.contextLines = n }
}

// NewService creates a Service. A nil logger uses logging.Default().
func NewService(logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		logger:       logger,
		tracer:       telemetry.Tracer(),
		contextLines: preview.DefaultContextLines,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply runs job.
//
// # Description
//
// Steps run in a fixed order: splice, cleanup rules (user rules then
// mojibake repair), marker strip. Each step sees the previous step's
// output. The file is written once, at the end.
//
// # Inputs
//
//   - ctx: Checked before the write. Cancellation leaves the file alone.
//   - job: Must pass Validate.
//
// # Outputs
//
//   - *Result: Non-nil on success.
//   - error: Returned unwrapped from the failing step, so
//     errors.Is(err, splice.ErrAnchorNotFound) and
//     errors.Is(err, textfile.ErrConflict) hold. lock.ErrLocked if another
//     run holds the target. Nothing is written.
//
// # Example
//
//	res, err := svc.Apply(ctx, patch.Job{
//	    Path:        "src/page.tsx",
//	    Splice:      &patch.SpliceStep{Start: "<section", End: "</section>", Replacement: block},
//	    StripMarker: true,
//	})
func (s *Service) Apply(ctx context.Context, job Job) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	start := time.Now()
	runID := uuid.NewString()
	op := job.Op()

	ctx, span := s.tracer.Start(ctx, "patch.Apply",
		trace.WithAttributes(
			attribute.String("patch.run_id", runID),
			attribute.String("patch.path", job.Path),
			attribute.String("patch.op", op),
			attribute.Bool("patch.dry_run", job.DryRun),
		),
	)
	defer span.End()

	log := s.logger.With("run_id", runID, "path", job.Path, "op", op)

	result, err := s.apply(ctx, job, runID)
	elapsed := time.Since(start)
	if err != nil {
		label := telemetry.ResultError
		switch {
		case errors.Is(err, splice.ErrAnchorNotFound):
			label = telemetry.ResultAnchor
			log.Error("anchor not found, file left unchanged", "error", err)
		case errors.Is(err, textfile.ErrConflict):
			log.Warn("file changed during run, not written", "error", err)
		case errors.Is(err, lock.ErrLocked):
			label = telemetry.ResultLocked
			log.Warn("target locked by another run", "error", err)
		default:
			log.Error("patch run failed", "error", err)
		}
		s.metrics.ObserveRun(op, label, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result.RunID = runID
	result.Duration = elapsed
	s.record(op, result)

	span.SetAttributes(
		attribute.Bool("patch.changed", result.Changed),
		attribute.Bool("patch.written", result.Written),
		attribute.Int("patch.bytes_written", result.BytesWritten),
	)
	span.SetStatus(codes.Ok, "")

	switch {
	case result.Written:
		log.Info("patch applied",
			"bytes", result.BytesWritten,
			"added", result.Stats.LinesAdded,
			"removed", result.Stats.LinesRemoved,
			"duration", elapsed)
	case result.Changed:
		log.Info("dry run, file left unchanged",
			"added", result.Stats.LinesAdded,
			"removed", result.Stats.LinesRemoved)
	default:
		log.Debug("no change")
	}
	return result, nil
}

// apply does the work of Apply without instrumentation.
func (s *Service) apply(ctx context.Context, job Job, runID string) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	var cleaner *cleanup.Cleaner
	if rules := job.cleanupRules(); len(rules) > 0 {
		c, err := cleanup.New(rules)
		if err != nil {
			return nil, err
		}
		cleaner = c
	}

	if s.locks != nil && !job.DryRun {
		held, err := s.locks.Acquire(job.Path, runID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := held.Release(); err != nil {
				s.logger.Warn("releasing lock", "path", job.Path, "error", err)
			}
		}()
	}

	doc, err := textfile.Read(job.Path, job.Encoding)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Path:     doc.Path,
		Encoding: doc.Encoding(),
	}
	text := doc.Text

	if st := job.Splice; st != nil {
		out, sp, err := splice.SpliceWith(text, st.Start, st.End, st.Replacement, splice.Options{Boundary: st.Boundary})
		if err != nil {
			return nil, err
		}
		text = out
		result.Span = &sp
	}

	if cleaner != nil {
		out, report := cleaner.Clean(text)
		text = out
		result.Cleanup = &report
	}

	if job.StripMarker {
		text, result.Marker = cleanup.StripMarker(text, cleanup.DefaultMarkers)
	}

	if text == doc.Text {
		return result, nil
	}
	result.Changed = true

	diff, stats, err := preview.Unified(doc.Path, doc.Text, text, s.contextLines)
	if err != nil {
		return nil, fmt.Errorf("building diff: %w", err)
	}
	result.Diff = diff
	result.Stats = stats

	if job.DryRun {
		// Surface unencodable output now rather than on the real run.
		if _, err := doc.Encode(text); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := textfile.Write(doc, text)
	if err != nil {
		return nil, err
	}
	result.Written = true
	result.BytesWritten = n
	return result, nil
}

// record updates metrics for a successful run.
func (s *Service) record(op string, r *Result) {
	if s.metrics == nil {
		return
	}
	label := telemetry.ResultUnchanged
	switch {
	case r.Written:
		label = telemetry.ResultApplied
	case r.Changed:
		label = telemetry.ResultDryRun
	}
	s.metrics.ObserveRun(op, label, r.Duration)

	if r.Cleanup != nil {
		for i, rule := range r.Cleanup.Rules {
			s.metrics.AddReplacements(rule.Label(), r.Cleanup.Counts[i])
		}
	}
	if r.Marker != nil {
		s.metrics.MarkerStripped(r.Marker.Name)
	}
}
