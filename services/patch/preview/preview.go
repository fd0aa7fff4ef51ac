// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package preview renders a planned buffer change as a unified diff.
//
// The diff is for display only; nothing in anchorfix ever applies it.
package preview

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// DefaultContextLines is the number of unchanged lines shown around a change.
const DefaultContextLines = 3

// Stats summarizes a diff.
type Stats struct {
	LinesAdded   int
	LinesRemoved int
}

// Identical reports whether nothing changed.
func (s Stats) Identical() bool {
	return s.LinesAdded == 0 && s.LinesRemoved == 0
}

// changeRegion is the smallest line range covering every difference.
type changeRegion struct {
	oldStart int
	oldCount int
	newStart int
	newCount int
}

// Unified returns a unified diff of oldText to newText for path.
//
// Differences are collapsed into a single hunk spanning the first through
// the last changed line, which matches how a splice or a cleanup pass
// rewrites one contiguous region or a set of scattered lines. An empty string
// is returned when the texts are identical.
func Unified(path, oldText, newText string, contextLines int) (string, Stats, error) {
	if contextLines < 0 {
		contextLines = DefaultContextLines
	}

	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	region, ok := findChange(oldLines, newLines)
	if !ok {
		return "", Stats{}, nil
	}

	ctxStart := max(0, region.oldStart-contextLines)
	oldEnd := region.oldStart + region.oldCount
	newEnd := region.newStart + region.newCount
	trailing := min(contextLines, len(oldLines)-oldEnd)

	var body strings.Builder
	for i := ctxStart; i < region.oldStart; i++ {
		writeLine(&body, ' ', oldLines[i])
	}
	for i := region.oldStart; i < oldEnd; i++ {
		writeLine(&body, '-', oldLines[i])
	}
	for i := region.newStart; i < newEnd; i++ {
		writeLine(&body, '+', newLines[i])
	}
	for i := oldEnd; i < oldEnd+trailing; i++ {
		writeLine(&body, ' ', oldLines[i])
	}

	origCount := (region.oldStart - ctxStart) + region.oldCount + trailing
	newCount := (region.newStart - ctxStart) + region.newCount + trailing

	hunk := &diff.Hunk{
		OrigStartLine: hunkStart(ctxStart, origCount),
		OrigLines:     int32(origCount),
		NewStartLine:  hunkStart(ctxStart, newCount),
		NewLines:      int32(newCount),
		Body:          []byte(body.String()),
	}

	fd := &diff.FileDiff{
		OrigName: "a/" + strings.TrimPrefix(path, "/"),
		NewName:  "b/" + strings.TrimPrefix(path, "/"),
		Hunks:    []*diff.Hunk{hunk},
	}

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", Stats{}, fmt.Errorf("printing diff: %w", err)
	}

	return string(out), Stats{LinesAdded: region.newCount, LinesRemoved: region.oldCount}, nil
}

// Parse reads a unified diff produced by Unified back into go-diff's model.
func Parse(unified string) (*diff.FileDiff, error) {
	return diff.ParseFileDiff([]byte(unified))
}

// findChange locates the first and last differing lines.
func findChange(oldLines, newLines []string) (changeRegion, bool) {
	minLen := min(len(oldLines), len(newLines))

	first := -1
	for i := 0; i < minLen; i++ {
		if oldLines[i] != newLines[i] {
			first = i
			break
		}
	}
	if first == -1 {
		if len(oldLines) == len(newLines) {
			return changeRegion{}, false
		}
		first = minLen
	}

	oldIdx := len(oldLines) - 1
	newIdx := len(newLines) - 1
	for oldIdx >= first && newIdx >= first {
		if oldLines[oldIdx] != newLines[newIdx] {
			break
		}
		oldIdx--
		newIdx--
	}

	return changeRegion{
		oldStart: first,
		oldCount: oldIdx - first + 1,
		newStart: first,
		newCount: newIdx - first + 1,
	}, true
}

// splitLines splits after each newline. A trailing newline does not produce
// an empty final line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writeLine(b *strings.Builder, prefix byte, line string) {
	b.WriteByte(prefix)
	b.WriteString(line)
	if !strings.HasSuffix(line, "\n") {
		b.WriteString("\n\\ No newline at end of file\n")
	}
}

// hunkStart follows the unified diff convention that an empty side starts at
// the line before the hunk.
func hunkStart(ctxStart, count int) int32 {
	if count == 0 {
		return int32(ctxStart)
	}
	return int32(ctxStart + 1)
}
