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
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/anchorfix/services/patch"
	"github.com/AleutianAI/anchorfix/services/patch/cleanup"
)

// ruleSeparator splits a --rule value into match and replacement.
const ruleSeparator = "=>"

// errRuleSyntax indicates a --rule value without the separator.
var errRuleSyntax = errors.New("rule must be written as MATCH" + ruleSeparator + "REPLACEMENT")

type cleanFlags struct {
	rules         []string
	regexRules    []string
	noMojibake    bool
	noStripMarker bool
	encoding      string
	dryRun        bool
}

func newCleanCmd(a *app) *cobra.Command {
	var f cleanFlags

	cmd := &cobra.Command{
		Use:   "clean FILE",
		Short: "Apply substitutions, repair mojibake and strip trailing patch markers",
		Long: `Clean a file in one pass:

  1. --rule and --regex-rule substitutions, in the order given
  2. mojibake repair (UTF-8 punctuation mis-decoded as Windows-1252)
  3. truncation at the first trailing "*** End Patch" marker

Rules are applied sequentially, each to the output of the previous one.
Regexp replacements expand $1, ${name} and so on.`,
		Example: `  anchorfix clean page.tsx
  anchorfix clean page.tsx --rule './src/=>../' --dry-run
  anchorfix clean app.py --regex-rule 'print\((\w+)\)=>log($1)' --no-mojibake`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := buildRules(f.rules, f.regexRules)
			if err != nil {
				return err
			}
			return a.execute(cmd.Context(), patch.Job{
				Path:        args[0],
				Encoding:    f.encoding,
				Rules:       rules,
				Mojibake:    !f.noMojibake,
				StripMarker: !f.noStripMarker,
				DryRun:      f.dryRun,
			})
		},
	}

	cmd.Flags().StringArrayVar(&f.rules, "rule", nil, "literal substitution MATCH=>REPLACEMENT (repeatable)")
	cmd.Flags().StringArrayVar(&f.regexRules, "regex-rule", nil, "regexp substitution PATTERN=>REPLACEMENT (repeatable)")
	cmd.Flags().BoolVar(&f.noMojibake, "no-mojibake", false, "skip mojibake repair")
	cmd.Flags().BoolVar(&f.noStripMarker, "no-strip-marker", false, "keep trailing patch markers")
	cmd.Flags().StringVar(&f.encoding, "encoding", "utf-8", "file encoding, e.g. utf-8, latin-1, windows-1252")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the diff without writing")
	return cmd
}

// buildRules parses literal rules then regexp rules.
func buildRules(literal, regex []string) ([]cleanup.Rule, error) {
	rules := make([]cleanup.Rule, 0, len(literal)+len(regex))
	for _, v := range literal {
		r, err := parseRuleFlag(v, false)
		if err != nil {
			return nil, fmt.Errorf("--rule %q: %w", v, err)
		}
		rules = append(rules, r)
	}
	for _, v := range regex {
		r, err := parseRuleFlag(v, true)
		if err != nil {
			return nil, fmt.Errorf("--regex-rule %q: %w", v, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// parseRuleFlag splits "MATCH=>REPLACEMENT" at the first separator. The
// replacement may be empty; the match may not.
func parseRuleFlag(v string, isRegexp bool) (cleanup.Rule, error) {
	match, replace, ok := strings.Cut(v, ruleSeparator)
	if !ok {
		return cleanup.Rule{}, errRuleSyntax
	}
	if match == "" {
		return cleanup.Rule{}, cleanup.ErrEmptyMatch
	}
	return cleanup.Rule{Match: match, Replace: replace, Regexp: isRegexp}, nil
}
