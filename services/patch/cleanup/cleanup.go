// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cleanup removes artifacts that patch generators leave in text:
// mis-decoded punctuation and trailing end-of-patch boilerplate.
//
// Rules are applied in declared order, each one globally, in a single
// forward pass. A later rule sees the output of earlier rules; no rule is
// re-applied.
//
// Thread Safety: A compiled Cleaner is immutable and safe for concurrent use.
package cleanup

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrEmptyMatch indicates a rule with an empty match pattern.
	ErrEmptyMatch = errors.New("rule match must not be empty")

	// ErrBadPattern indicates a regexp rule that does not compile.
	ErrBadPattern = errors.New("rule pattern does not compile")
)

// Rule is one substitution: every occurrence of Match becomes Replace.
type Rule struct {
	// Name labels the rule in reports and metrics. Defaults to Match.
	Name string `yaml:"name,omitempty"`

	// Match is the literal text, or the pattern when Regexp is set.
	Match string `yaml:"match" validate:"required"`

	// Replace is the substitution. For regexp rules, $1 style references are
	// expanded.
	Replace string `yaml:"replace"`

	// Regexp switches Match from literal text to an RE2 pattern.
	Regexp bool `yaml:"regexp,omitempty"`
}

// Label returns Name, or Match if Name is empty.
func (r Rule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Match
}

// Report records what a Clean call did.
type Report struct {
	// Rules mirrors the rules applied, in order.
	Rules []Rule

	// Counts[i] is the number of replacements rule i made.
	Counts []int
}

// Total returns the sum of all rule counts.
func (r Report) Total() int {
	total := 0
	for _, c := range r.Counts {
		total += c
	}
	return total
}

// Cleaner applies a fixed, compiled list of rules.
type Cleaner struct {
	rules    []Rule
	compiled []*regexp.Regexp
}

// New validates and compiles rules.
//
// # Outputs
//
//   - *Cleaner: Ready to use.
//   - error: Wraps ErrEmptyMatch or ErrBadPattern, naming the rule index.
func New(rules []Rule) (*Cleaner, error) {
	c := &Cleaner{
		rules:    make([]Rule, len(rules)),
		compiled: make([]*regexp.Regexp, len(rules)),
	}
	copy(c.rules, rules)

	for i, rule := range rules {
		if rule.Match == "" {
			return nil, fmt.Errorf("rule %d: %w", i, ErrEmptyMatch)
		}
		if !rule.Regexp {
			continue
		}
		re, err := regexp.Compile(rule.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w: %v", i, rule.Label(), ErrBadPattern, err)
		}
		c.compiled[i] = re
	}
	return c, nil
}

// Rules returns a copy of the cleaner's rules.
func (c *Cleaner) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Clean applies every rule in order and returns the new buffer.
func (c *Cleaner) Clean(buffer string) (string, Report) {
	report := Report{
		Rules:  c.Rules(),
		Counts: make([]int, len(c.rules)),
	}

	for i, rule := range c.rules {
		if re := c.compiled[i]; re != nil {
			n := len(re.FindAllStringIndex(buffer, -1))
			if n > 0 {
				buffer = re.ReplaceAllString(buffer, rule.Replace)
			}
			report.Counts[i] = n
			continue
		}

		n := strings.Count(buffer, rule.Match)
		if n > 0 {
			buffer = strings.ReplaceAll(buffer, rule.Match, rule.Replace)
		}
		report.Counts[i] = n
	}

	return buffer, report
}

// Clean compiles rules and applies them to buffer.
func Clean(buffer string, rules []Rule) (string, Report, error) {
	c, err := New(rules)
	if err != nil {
		return "", Report{}, err
	}
	out, report := c.Clean(buffer)
	return out, report, nil
}
