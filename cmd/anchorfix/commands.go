// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/anchorfix/pkg/logging"
	"github.com/AleutianAI/anchorfix/services/patch"
	"github.com/AleutianAI/anchorfix/services/patch/lock"
	"github.com/AleutianAI/anchorfix/services/patch/preview"
	"github.com/AleutianAI/anchorfix/services/patch/telemetry"
)

// envLogLevel overrides the default log level when --log-level is not set.
const envLogLevel = "ANCHORFIX_LOG_LEVEL"

// defaultLogLevel keeps routine runs quiet; results go to stdout.
const defaultLogLevel = "warn"

// app holds flag values and the services built from them.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// Persistent flags
	logLevel      string
	logJSON       bool
	logDir        string
	metricsFile   string
	traceExporter string
	colorMode     string
	lockDir       string
	noLock        bool
	confirm       bool

	logger          *logging.Logger
	metrics         *telemetry.Metrics
	shutdownTracing func(context.Context) error
	service         *patch.Service
	renderer        *preview.Renderer
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

// newRootCmd builds the command tree bound to a.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "anchorfix",
		Short: "Splice anchored regions of source files and clean up patch artifacts",
		Long: `anchorfix replaces the region between two literal anchors in a file,
applies literal or regexp substitutions, repairs Windows-1252 mojibake and
strips trailing "*** End Patch" markers. Files keep their encoding and are
written atomically, only when something changed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"log level: debug, info, warn, error (default $"+envLogLevel+" or "+defaultLogLevel+")")
	rootCmd.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "log JSON to stderr instead of text")
	rootCmd.PersistentFlags().StringVar(&a.logDir, "log-dir", "", "also append JSON logs to a daily file in this directory")
	rootCmd.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "",
		"write Prometheus metrics in textfile format to this path on exit")
	rootCmd.PersistentFlags().StringVar(&a.traceExporter, "trace", "none", "trace exporter: none or stdout")
	rootCmd.PersistentFlags().StringVar(&a.colorMode, "color", "auto", "color diffs: auto, always or never")
	rootCmd.PersistentFlags().StringVar(&a.lockDir, "lock-dir", lock.DefaultDir(), "directory for per-target lock files")
	rootCmd.PersistentFlags().BoolVar(&a.noLock, "no-lock", false, "do not lock the target while writing")
	rootCmd.PersistentFlags().BoolVar(&a.confirm, "confirm", false, "show the diff and ask before writing")

	rootCmd.AddCommand(
		newSpliceCmd(a),
		newCleanCmd(a),
		newApplyCmd(a),
		newWatchCmd(a),
	)
	return rootCmd
}

// setup builds the logger, telemetry and patch service from flags.
func (a *app) setup(ctx context.Context) error {
	level, err := resolveLogLevel(a.logLevel, os.Getenv(envLogLevel))
	if err != nil {
		return err
	}
	color, err := useColor(a.colorMode, a.stdout)
	if err != nil {
		return err
	}

	a.logger = logging.New(logging.Config{
		Level:   level,
		Service: "anchorfix",
		JSON:    a.logJSON,
		LogDir:  a.logDir,
		Writer:  a.stderr,
	})

	shutdown, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName:    "anchorfix",
		ServiceVersion: version,
		Exporter:       a.traceExporter,
		Writer:         a.stderr,
	})
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown

	a.metrics = telemetry.NewMetrics()
	opts := []patch.Option{patch.WithMetrics(a.metrics)}
	if !a.noLock {
		locks, err := lock.NewManager(a.lockDir)
		if err != nil {
			return err
		}
		opts = append(opts, patch.WithLocks(locks))
	}
	a.service = patch.NewService(a.logger, opts...)
	a.renderer = preview.NewRenderer(a.stdout, color)
	return nil
}

// teardown flushes spans and metrics and closes the logger. Safe to call
// when setup never ran.
func (a *app) teardown() error {
	var errs []error
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.shutdownTracing(ctx))
		cancel()
	}
	if a.metrics != nil && a.metricsFile != "" {
		errs = append(errs, a.metrics.WriteTextfile(a.metricsFile))
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

// resolveLogLevel picks the flag value, then the environment, then the default.
func resolveLogLevel(flagValue, envValue string) (logging.Level, error) {
	s := flagValue
	if s == "" {
		s = envValue
	}
	if s == "" {
		s = defaultLogLevel
	}
	level, err := logging.ParseLevel(s)
	if err != nil {
		return logging.LevelInfo, fmt.Errorf("--log-level: %w", err)
	}
	return level, nil
}

// useColor decides whether diffs written to w are colored.
func useColor(mode string, w io.Writer) (bool, error) {
	switch strings.ToLower(mode) {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "", "auto":
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			return false, nil
		}
		return isTerminal(w), nil
	default:
		return false, fmt.Errorf("--color: unknown mode %q (want auto, always or never)", mode)
	}
}

// report prints a run result to stdout.
//
// Dry runs print the diff. Applied runs print a one-line summary.
func (a *app) report(res *patch.Result, dryRun bool) {
	switch {
	case !res.Changed:
		fmt.Fprintf(a.stdout, "unchanged %s\n", res.Path)
	case dryRun:
		fmt.Fprint(a.stdout, a.renderer.Render(res.Diff))
	default:
		fmt.Fprintf(a.stdout, "patched %s (+%d -%d lines, %d bytes)\n",
			res.Path, res.Stats.LinesAdded, res.Stats.LinesRemoved, res.BytesWritten)
	}
}

// execute applies job, asking first when --confirm is set.
func (a *app) execute(ctx context.Context, job patch.Job) error {
	if a.confirm && !job.DryRun {
		return a.confirmApply(ctx, job)
	}
	return a.apply(ctx, job)
}

// apply runs job and reports it.
func (a *app) apply(ctx context.Context, job patch.Job) error {
	res, err := a.service.Apply(ctx, job)
	if err != nil {
		return err
	}
	a.report(res, job.DryRun)
	return nil
}

// isTerminal reports whether v is a terminal. Only *os.File can be one.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
