// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package splice replaces the region between two literal anchors in a text
// buffer.
//
// Anchors are matched as plain substrings. There is no understanding of the
// buffer's syntax: the first occurrence of the start anchor wins, and the end
// anchor is the first occurrence after the start anchor's position. The end
// anchor may begin inside the start anchor's text.
//
// Thread Safety: All functions are pure and safe for concurrent use.
package splice

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Anchor roles reported in AnchorError.
const (
	RoleStart = "start"
	RoleEnd   = "end"
)

var (
	// ErrAnchorNotFound indicates a required anchor is absent from the buffer,
	// or absent after the start anchor.
	ErrAnchorNotFound = errors.New("anchor not found")

	// ErrEmptyAnchor indicates an anchor argument was the empty string.
	ErrEmptyAnchor = errors.New("anchor must not be empty")
)

// AnchorError names the anchor that could not be located.
type AnchorError struct {
	// Role is RoleStart or RoleEnd.
	Role string

	// Anchor is the literal text that was searched for.
	Anchor string

	// From is the byte offset the search started at.
	From int

	// Err is ErrAnchorNotFound or ErrEmptyAnchor.
	Err error
}

// Error implements the error interface.
func (e *AnchorError) Error() string {
	if errors.Is(e.Err, ErrEmptyAnchor) {
		return fmt.Sprintf("%s %v", e.Role, e.Err)
	}
	return fmt.Sprintf("%s %v: %q (searched from offset %d)", e.Role, e.Err, preview(e.Anchor), e.From)
}

// Unwrap returns the underlying error.
func (e *AnchorError) Unwrap() error {
	return e.Err
}

// Boundary selects whether the start anchor belongs to the replaced span.
type Boundary int

const (
	// BoundaryInclusiveStart replaces the start anchor along with the body.
	// The end anchor is always kept.
	BoundaryInclusiveStart Boundary = iota

	// BoundaryKeepStart keeps the start anchor and replaces only the text
	// between the two anchors.
	BoundaryKeepStart
)

// String returns "inclusive-start" or "keep-start".
func (b Boundary) String() string {
	switch b {
	case BoundaryKeepStart:
		return "keep-start"
	default:
		return "inclusive-start"
	}
}

// ParseBoundary accepts "", "inclusive", "inclusive-start", "keep" and
// "keep-start".
func ParseBoundary(s string) (Boundary, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inclusive", "inclusive-start":
		return BoundaryInclusiveStart, nil
	case "keep", "keep-start":
		return BoundaryKeepStart, nil
	default:
		return BoundaryInclusiveStart, fmt.Errorf("unknown boundary %q", s)
	}
}

// Options tunes Locate and SpliceWith. The zero value gives the default
// inclusive-start contract.
type Options struct {
	Boundary Boundary
}

// Span is the half-open byte interval [Start, End) a splice replaces.
type Span struct {
	// Start is the first replaced byte.
	Start int

	// End is the offset of the end anchor; bytes from End on are kept.
	End int

	// AnchorStart is where the start anchor matched. It equals Start unless
	// the boundary keeps the start anchor.
	AnchorStart int
}

// Len returns the number of replaced bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Locate finds the span between startAnchor and endAnchor.
//
// # Description
//
// The start anchor is the first occurrence scanning from offset 0. The end
// anchor is the first occurrence at or after one byte past the start
// anchor's position, so it may overlap the start anchor's text but the span
// is never empty. With BoundaryKeepStart the start anchor is preserved, so
// the end anchor is searched after the start anchor ends.
//
// # Outputs
//
//   - Span: The interval to replace.
//   - error: *AnchorError wrapping ErrAnchorNotFound or ErrEmptyAnchor.
func Locate(buffer, startAnchor, endAnchor string, opts Options) (Span, error) {
	if startAnchor == "" {
		return Span{}, &AnchorError{Role: RoleStart, Err: ErrEmptyAnchor}
	}
	if endAnchor == "" {
		return Span{}, &AnchorError{Role: RoleEnd, Err: ErrEmptyAnchor}
	}

	startIdx := strings.Index(buffer, startAnchor)
	if startIdx < 0 {
		return Span{}, &AnchorError{Role: RoleStart, Anchor: startAnchor, From: 0, Err: ErrAnchorNotFound}
	}

	searchFrom := startIdx + 1
	if opts.Boundary == BoundaryKeepStart {
		searchFrom = startIdx + len(startAnchor)
	}
	rel := strings.Index(buffer[searchFrom:], endAnchor)
	if rel < 0 {
		return Span{}, &AnchorError{Role: RoleEnd, Anchor: endAnchor, From: searchFrom, Err: ErrAnchorNotFound}
	}

	span := Span{
		Start:       startIdx,
		End:         searchFrom + rel,
		AnchorStart: startIdx,
	}
	if opts.Boundary == BoundaryKeepStart {
		span.Start = startIdx + len(startAnchor)
	}
	return span, nil
}

// Splice replaces [start anchor, end anchor) with replacement.
//
// Everything before the start anchor and everything from the end anchor on is
// preserved byte for byte. The replacement is inserted verbatim and is never
// re-scanned, even if it contains either anchor.
func Splice(buffer, startAnchor, endAnchor, replacement string) (string, error) {
	out, _, err := SpliceWith(buffer, startAnchor, endAnchor, replacement, Options{})
	return out, err
}

// SpliceWith is Splice with explicit Options, also returning the replaced span.
//
// On error the returned string is empty; callers must not persist it.
func SpliceWith(buffer, startAnchor, endAnchor, replacement string, opts Options) (string, Span, error) {
	span, err := Locate(buffer, startAnchor, endAnchor, opts)
	if err != nil {
		return "", Span{}, err
	}

	var b strings.Builder
	b.Grow(len(buffer) - span.Len() + len(replacement))
	b.WriteString(buffer[:span.Start])
	b.WriteString(replacement)
	b.WriteString(buffer[span.End:])
	return b.String(), span, nil
}

// preview shortens long anchors for error messages, cutting on a rune
// boundary.
func preview(s string) string {
	const limit = 60
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
