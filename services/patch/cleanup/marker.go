// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cleanup

import "strings"

// Marker is a boilerplate sequence a patch generator appends after the real
// content.
type Marker struct {
	// Name identifies the marker in logs and metrics.
	Name string

	// Text is the literal sequence. Truncation happens at its first byte.
	Text string
}

// DefaultMarkers lists the known end-of-patch markers in priority order.
//
// Escaped variants come from generators that wrote the marker through a
// string literal, leaving a literal backslash-n or backslash-quote behind.
var DefaultMarkers = []Marker{
	{Name: "triple-quote-newline", Text: "\"\"\"\n*** End Patch"},
	{Name: "triple-quote-escaped-newline", Text: `"""\n*** End Patch`},
	{Name: "escaped-quotes-escaped-newline", Text: `\"\"\"\n*** End Patch`},
	{Name: "triple-quote", Text: "\"\"\"*** End Patch"},
	{Name: "bare", Text: "*** End Patch"},
}

// StripTrailingPatchMarker truncates buffer at the first DefaultMarkers entry
// it contains. A buffer without any marker is returned unchanged.
func StripTrailingPatchMarker(buffer string) string {
	out, _ := StripMarker(buffer, DefaultMarkers)
	return out
}

// StripMarker checks markers in order and truncates buffer at the first
// occurrence of the first one present. At most one truncation happens.
//
// The returned *Marker is the one applied, or nil if none matched; an absent
// marker is a normal outcome, not an error.
func StripMarker(buffer string, markers []Marker) (string, *Marker) {
	for i := range markers {
		m := markers[i]
		if m.Text == "" {
			continue
		}
		if idx := strings.Index(buffer, m.Text); idx >= 0 {
			return buffer[:idx], &m
		}
	}
	return buffer, nil
}
