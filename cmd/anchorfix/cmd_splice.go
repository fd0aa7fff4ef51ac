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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/anchorfix/services/patch"
	"github.com/AleutianAI/anchorfix/services/patch/splice"
)

type spliceFlags struct {
	start           string
	end             string
	replacement     string
	replacementFile string
	keepStart       bool
	encoding        string
	dryRun          bool
}

func newSpliceCmd(a *app) *cobra.Command {
	var f spliceFlags

	cmd := &cobra.Command{
		Use:   "splice FILE",
		Short: "Replace the region between two anchors",
		Long: `Replace everything from the first occurrence of --start up to (not
including) the next occurrence of --end with the replacement text.

The start anchor itself is replaced, so the replacement usually restates it.
Pass --keep-start to keep the start anchor and replace only what follows.
If either anchor is missing the file is left untouched and the exit code is 2.`,
		Example: `  anchorfix splice page.tsx --start '<section id="hl"' --end '</section>' --replacement-file hl.tsx
  anchorfix splice notes.txt --start BEGIN --end $'\nEND' --replacement $'\nnew' --keep-start`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			replacement := f.replacement
			if cmd.Flags().Changed("replacement-file") {
				data, err := readReplacement(f.replacementFile, cmd.InOrStdin())
				if err != nil {
					return err
				}
				replacement = data
			}

			boundary := splice.BoundaryInclusiveStart
			if f.keepStart {
				boundary = splice.BoundaryKeepStart
			}

			return a.execute(cmd.Context(), patch.Job{
				Path:     args[0],
				Encoding: f.encoding,
				Splice: &patch.SpliceStep{
					Start:       f.start,
					End:         f.end,
					Replacement: replacement,
					Boundary:    boundary,
				},
				DryRun: f.dryRun,
			})
		},
	}

	cmd.Flags().StringVar(&f.start, "start", "", "start anchor (literal text)")
	cmd.Flags().StringVar(&f.end, "end", "", "end anchor (literal text)")
	cmd.Flags().StringVar(&f.replacement, "replacement", "", "replacement text")
	cmd.Flags().StringVar(&f.replacementFile, "replacement-file", "", "read the replacement from a file, or - for stdin")
	cmd.Flags().BoolVar(&f.keepStart, "keep-start", false, "keep the start anchor, replace only what follows it")
	cmd.Flags().StringVar(&f.encoding, "encoding", "utf-8", "file encoding, e.g. utf-8, latin-1, windows-1252")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the diff without writing")

	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	cmd.MarkFlagsMutuallyExclusive("replacement", "replacement-file")
	cmd.MarkFlagsOneRequired("replacement", "replacement-file")
	return cmd
}

// readReplacement reads path, or stdin when path is "-". Bytes are used
// verbatim.
func readReplacement(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading replacement: %w", err)
	}
	return string(data), nil
}
