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
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/anchorfix/services/patch"
	"github.com/AleutianAI/anchorfix/services/patch/recipe"
	"github.com/AleutianAI/anchorfix/services/patch/watch"
)

func newApplyCmd(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply RECIPE",
		Short: "Run a YAML recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := loadJob(args[0], dryRun)
			if err != nil {
				return err
			}
			return a.execute(cmd.Context(), job)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the diff without writing, overriding the recipe")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	var runsPerSecond float64

	cmd := &cobra.Command{
		Use:   "watch RECIPE",
		Short: "Run a YAML recipe now and again whenever its target changes",
		Long: `Run the recipe once, then watch the target file and re-run the recipe
after each burst of changes settles. The recipe file is re-read on every run.
A run that changes nothing does not write, so the watcher's own writes settle
after one extra pass. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.confirm {
				return errConfirmWithWatch
			}
			path := args[0]
			job, err := loadJob(path, false)
			if err != nil {
				return err
			}

			runOnce := func(ctx context.Context) error {
				job, err := loadJob(path, false)
				if err != nil {
					return err
				}
				return a.apply(ctx, job)
			}

			w, err := watch.New(job.Path, runOnce, watch.Options{
				Debounce: debounce,
				RunLimit: rate.Limit(runsPerSecond),
				OnError: func(err error) {
					a.logger.Warn("watch run failed", "recipe", path, "error", err)
				},
			})
			if err != nil {
				return err
			}
			defer w.Stop()

			if err := a.apply(cmd.Context(), job); err != nil {
				a.logger.Warn("initial run failed", "recipe", path, "error", err)
			}
			a.logger.Info("watching", "target", w.Target(), "debounce", debounce)

			err = w.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before re-running")
	cmd.Flags().Float64Var(&runsPerSecond, "max-rate", float64(watch.DefaultRunLimit),
		"sustained re-runs per second before changes are skipped")
	return cmd
}

// loadJob loads the recipe at path. forceDryRun turns on dry run even if
// the recipe does not ask for it.
func loadJob(path string, forceDryRun bool) (patch.Job, error) {
	r, err := recipe.Load(path)
	if err != nil {
		return patch.Job{}, err
	}
	job, err := r.Job()
	if err != nil {
		return patch.Job{}, err
	}
	if forceDryRun {
		job.DryRun = true
	}
	return job, nil
}
