// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package splice

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const body = "HEAD\nSTART\nold-body\nEND\nTAIL"

func TestSplice_InclusiveStart(t *testing.T) {
	out, err := Splice(body, "START", "END", "NEW")
	require.NoError(t, err)
	assert.Equal(t, "HEAD\nNEWEND\nTAIL", out)
}

// The replacement may restate the start anchor, which is how callers keep it
// under the default boundary.
func TestSplice_ReplacementRestatesAnchor(t *testing.T) {
	out, err := Splice(body, "START", "\nEND", "START\nfresh-body")
	require.NoError(t, err)
	assert.Equal(t, "HEAD\nSTART\nfresh-body\nEND\nTAIL", out)
}

func TestSpliceWith_KeepStart(t *testing.T) {
	out, span, err := SpliceWith(body, "START", "\nEND", "NEW", Options{Boundary: BoundaryKeepStart})
	require.NoError(t, err)
	assert.Equal(t, "HEAD\nSTART"+"NEW"+"\nEND\nTAIL", out)
	assert.Equal(t, strings.Index(body, "START"), span.AnchorStart)
	assert.Equal(t, span.AnchorStart+len("START"), span.Start)
	assert.Equal(t, strings.Index(body, "\nEND"), span.End)
}

func TestSplice_PreservesPrefixAndSuffix(t *testing.T) {
	buffers := []string{
		body,
		"π≈3\n<<a>>\nx\ny\n<<b>>\nümlaut tail",
		"<<a>><<b>>",
		"lead<<a>>mid<<b>>mid<<b>>",
	}
	for _, buf := range buffers {
		t.Run(buf, func(t *testing.T) {
			startAnchor, endAnchor := "<<a>>", "<<b>>"
			if strings.Contains(buf, "START") {
				startAnchor, endAnchor = "START", "END"
			}
			span, err := Locate(buf, startAnchor, endAnchor, Options{})
			require.NoError(t, err)

			out, err := Splice(buf, startAnchor, endAnchor, "R")
			require.NoError(t, err)

			assert.Equal(t, buf[:span.Start], out[:span.Start], "prefix must be byte-identical")
			assert.Equal(t, buf[span.End:], out[span.Start+1:], "suffix must be byte-identical")
		})
	}
}

func TestSplice_FirstStartAnchorWins(t *testing.T) {
	buf := "A[x]B A[y]B"
	out, err := Splice(buf, "A[", "]", "Z")
	require.NoError(t, err)
	assert.Equal(t, "Z]B A[y]B", out)
}

func TestSplice_EndMayStartInsideStartAnchor(t *testing.T) {
	// "-->" first occurs inside the start anchor itself.
	out, err := Splice("pre <!--X--> body --> tail", "<!--X-->", "-->", "R")
	require.NoError(t, err)
	assert.Equal(t, "pre R--> body --> tail", out)
}

func TestLocate_EndSearchedFromStartPosition(t *testing.T) {
	// "END" before the start anchor never counts; the one inside it does.
	buf := "END pre STARTEND-ish body END tail"
	span, err := Locate(buf, "STARTEND", "END", Options{})
	require.NoError(t, err)
	assert.Equal(t, strings.Index(buf, "STARTEND"), span.Start)
	assert.Equal(t, strings.Index(buf, "STARTEND")+len("START"), span.End)
	assert.Greater(t, span.Len(), 0)
}

func TestLocate_IdenticalAnchorsNeverEmpty(t *testing.T) {
	buf := "a | b | c"
	span, err := Locate(buf, "|", "|", Options{})
	require.NoError(t, err)
	assert.Equal(t, strings.Index(buf, "|"), span.Start)
	assert.Equal(t, strings.LastIndex(buf, "|"), span.End)

	_, err = Locate("a | b", "|", "|", Options{})
	assert.ErrorIs(t, err, ErrAnchorNotFound)
}

func TestLocate_KeepStartSearchesAfterStartAnchor(t *testing.T) {
	buf := "pre <!--X--> body --> tail"
	span, err := Locate(buf, "<!--X-->", "-->", Options{Boundary: BoundaryKeepStart})
	require.NoError(t, err)
	assert.Equal(t, strings.Index(buf, "<!--X-->")+len("<!--X-->"), span.Start)
	assert.Equal(t, strings.LastIndex(buf, "-->"), span.End)
	assert.GreaterOrEqual(t, span.Len(), 0)
}

func TestSplice_ReplacementNotRescanned(t *testing.T) {
	out, err := Splice("s-old-e", "s", "e", "s e e")
	require.NoError(t, err)
	assert.Equal(t, "s e ee", out)
}

func TestSplice_EmptyReplacement(t *testing.T) {
	out, err := Splice(body, "START", "END", "")
	require.NoError(t, err)
	assert.Equal(t, "HEAD\nEND\nTAIL", out)
}

func TestSplice_StartMissing(t *testing.T) {
	out, err := Splice(body, "BEGIN", "END", "NEW")
	require.Error(t, err)
	assert.Empty(t, out)
	assert.True(t, errors.Is(err, ErrAnchorNotFound))

	var anchorErr *AnchorError
	require.True(t, errors.As(err, &anchorErr))
	assert.Equal(t, RoleStart, anchorErr.Role)
	assert.Equal(t, "BEGIN", anchorErr.Anchor)
	assert.Contains(t, err.Error(), `"BEGIN"`)
}

func TestSplice_EndMissingAfterStart(t *testing.T) {
	// END exists, but only before START.
	buf := "END\nSTART\nbody"
	_, err := Splice(buf, "START", "END", "NEW")
	require.Error(t, err)

	var anchorErr *AnchorError
	require.True(t, errors.As(err, &anchorErr))
	assert.Equal(t, RoleEnd, anchorErr.Role)
	assert.Equal(t, strings.Index(buf, "START")+1, anchorErr.From)
	assert.ErrorIs(t, err, ErrAnchorNotFound)
}

func TestSplice_EmptyAnchors(t *testing.T) {
	_, err := Splice(body, "", "END", "x")
	assert.ErrorIs(t, err, ErrEmptyAnchor)

	_, err = Splice(body, "START", "", "x")
	assert.ErrorIs(t, err, ErrEmptyAnchor)
	assert.NotErrorIs(t, err, ErrAnchorNotFound)
}

func TestSplice_Deterministic(t *testing.T) {
	first, err := Splice(body, "START", "END", "NEW")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Splice(body, "START", "END", "NEW")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestParseBoundary(t *testing.T) {
	tests := []struct {
		in      string
		want    Boundary
		wantErr bool
	}{
		{"", BoundaryInclusiveStart, false},
		{"inclusive-start", BoundaryInclusiveStart, false},
		{"Keep", BoundaryKeepStart, false},
		{"keep-start", BoundaryKeepStart, false},
		{"exclusive", BoundaryInclusiveStart, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBoundary(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "keep-start", BoundaryKeepStart.String())
}

func TestAnchorError_LongAnchorTruncated(t *testing.T) {
	long := strings.Repeat("x", 200)
	_, err := Splice("abc", long, "c", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "...")
	assert.Less(t, len(err.Error()), 150)
}

func TestAnchorError_TruncationKeepsRunesWhole(t *testing.T) {
	// 59 ASCII bytes then multi-byte runes: byte 60 falls inside "é".
	long := strings.Repeat("x", 59) + strings.Repeat("é", 20)
	_, err := Splice("abc", long, "c", "")
	require.Error(t, err)

	var anchorErr *AnchorError
	require.True(t, errors.As(err, &anchorErr))
	short := preview(anchorErr.Anchor)
	assert.True(t, utf8.ValidString(short))
	assert.Equal(t, strings.Repeat("x", 59)+"...", short)
	assert.NotContains(t, err.Error(), `\x`)
}
