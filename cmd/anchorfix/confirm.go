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

	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/anchorfix/services/patch"
)

// errConfirmWithWatch rejects --confirm on watch, which has no one to ask.
var errConfirmWithWatch = errors.New("--confirm cannot be used with watch")

// confirmApply previews job, asks whether to write, and applies it on yes.
//
// # Description
//
// The preview is a dry run, so an anchor miss or an unencodable result is
// reported before anything is asked. A declined or aborted prompt leaves
// the file untouched and is not an error. The target may change between
// the preview and the write; textfile's hash check does not span the two
// runs, so the written result is recomputed from the file as it is then.
func (a *app) confirmApply(ctx context.Context, job patch.Job) error {
	dry := job
	dry.DryRun = true
	res, err := a.service.Apply(ctx, dry)
	if err != nil {
		return err
	}
	if !res.Changed {
		a.report(res, true)
		return nil
	}
	fmt.Fprint(a.stdout, a.renderer.Render(res.Diff))

	ok, err := a.ask(ctx, fmt.Sprintf("Write %s?", res.Path))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(a.stdout, "skipped %s\n", res.Path)
		return nil
	}
	return a.apply(ctx, job)
}

// ask shows a yes/no prompt on stderr. Without a terminal on stdin the
// prompt falls back to reading one line, so answers can be piped in.
func (a *app) ask(ctx context.Context, title string) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Write").
				Negative("Skip").
				Value(&ok),
		),
	).
		WithInput(a.stdin).
		WithOutput(a.stderr).
		WithAccessible(!isTerminal(a.stdin))

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("prompt: %w", err)
	}
	return ok, nil
}
