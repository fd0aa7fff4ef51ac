// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package preview

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Palette shared with the rest of the Aleutian CLIs.
var (
	colorAdded   = lipgloss.Color("#2CD7C7")
	colorRemoved = lipgloss.Color("#E74C3C")
	colorHunk    = lipgloss.Color("#1D9EA3")
	colorHeader  = lipgloss.Color("#F4D03F")
)

// Renderer colors unified diffs for a terminal.
type Renderer struct {
	enabled bool
	added   lipgloss.Style
	removed lipgloss.Style
	hunk    lipgloss.Style
	header  lipgloss.Style
}

// NewRenderer returns a Renderer targeting w. With color false, Render is
// the identity.
func NewRenderer(w io.Writer, color bool) *Renderer {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI256)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		enabled: color,
		added:   r.NewStyle().Foreground(colorAdded),
		removed: r.NewStyle().Foreground(colorRemoved),
		hunk:    r.NewStyle().Foreground(colorHunk),
		header:  r.NewStyle().Bold(true).Foreground(colorHeader),
	}
}

// Render styles each line of a unified diff by its prefix.
func (r *Renderer) Render(unified string) string {
	if !r.enabled || unified == "" {
		return unified
	}

	lines := strings.SplitAfter(unified, "\n")
	var b strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		text := strings.TrimSuffix(line, "\n")
		nl := len(text) != len(line)

		switch {
		case strings.HasPrefix(text, "+++"), strings.HasPrefix(text, "---"):
			text = r.header.Render(text)
		case strings.HasPrefix(text, "@@"):
			text = r.hunk.Render(text)
		case strings.HasPrefix(text, "+"):
			text = r.added.Render(text)
		case strings.HasPrefix(text, "-"):
			text = r.removed.Render(text)
		}

		b.WriteString(text)
		if nl {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
