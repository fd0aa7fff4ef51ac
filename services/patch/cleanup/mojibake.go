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

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// mojibakeGlyphs are the characters whose UTF-8 bytes commonly get decoded as
// Windows-1252 by generators. Order is preserved in MojibakeRules.
//
// Right double quote (E2 80 9D) is absent: 0x9D has no Windows-1252 mapping,
// so its mangled form is not stable across decoders.
var mojibakeGlyphs = []string{
	"•", // bullet
	"—", // em dash
	"–", // en dash
	"“", // left double quote
	"‘", // left single quote
	"’", // right single quote
	"…", // ellipsis
	"€", // euro sign
	"™", // trade mark
}

var mojibakeRules = buildMojibakeRules()

// MojibakeRules returns literal rules that turn Windows-1252 mis-decodings of
// common UTF-8 punctuation back into the intended glyph, e.g. "â€¢" to "•".
func MojibakeRules() []Rule {
	out := make([]Rule, len(mojibakeRules))
	copy(out, mojibakeRules)
	return out
}

// Mangle returns the text a Windows-1252 decoder produces from the UTF-8
// bytes of s. ok is false if any byte has no Windows-1252 mapping.
func Mangle(s string) (string, bool) {
	decoded, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		return "", false
	}
	for i := 0; i < len(decoded); {
		r, size := utf8.DecodeRuneInString(decoded[i:])
		if r == utf8.RuneError || (r >= 0x80 && r <= 0x9F) {
			return "", false
		}
		i += size
	}
	return decoded, true
}

func buildMojibakeRules() []Rule {
	rules := make([]Rule, 0, len(mojibakeGlyphs))
	for _, glyph := range mojibakeGlyphs {
		mangled, ok := Mangle(glyph)
		if !ok || mangled == glyph {
			continue
		}
		rules = append(rules, Rule{
			Name:    "mojibake " + glyph,
			Match:   mangled,
			Replace: glyph,
		})
	}
	return rules
}
