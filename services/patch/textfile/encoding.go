// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package textfile

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is used when a caller declares no encoding.
const DefaultEncoding = "utf-8"

// Codec converts between stored bytes and in-memory text for one encoding.
type Codec struct {
	// Name is the canonical name, e.g. "utf-8" or "latin-1".
	Name string

	// enc is nil for UTF-8, which needs validation but no transcoding.
	enc encoding.Encoding
}

var aliases = map[string]string{
	"utf-8":        "utf-8",
	"utf8":         "utf-8",
	"latin-1":      "latin-1",
	"latin1":       "latin-1",
	"iso-8859-1":   "latin-1",
	"iso8859-1":    "latin-1",
	"l1":           "latin-1",
	"windows-1252": "windows-1252",
	"cp1252":       "windows-1252",
	"utf-16le":     "utf-16le",
	"utf-16be":     "utf-16be",
}

var builtin = map[string]encoding.Encoding{
	"latin-1":      charmap.ISO8859_1,
	"windows-1252": charmap.Windows1252,
	"utf-16le":     unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf-16be":     unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
}

// LookupCodec resolves an encoding name.
//
// Names are case-insensitive. Besides the built-in aliases, any name the IANA
// index knows is accepted and reported under its lowercased IANA name, so
// "latin2" resolves to "iso-8859-2". An empty name means DefaultEncoding.
func LookupCodec(name string) (*Codec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultEncoding
	}

	if canonical, ok := aliases[key]; ok {
		return &Codec{Name: canonical, enc: builtin[canonical]}, nil
	}

	enc, err := ianaindex.IANA.Encoding(key)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	canonical := key
	if n, err := ianaindex.IANA.Name(enc); err == nil {
		canonical = strings.ToLower(n)
	}
	return &Codec{Name: canonical, enc: enc}, nil
}

// Decode converts stored bytes to text.
func (c *Codec) Decode(data []byte) (string, error) {
	if c.enc == nil {
		if !utf8.Valid(data) {
			return "", &EncodingError{Encoding: c.Name, Op: "decode", Offset: invalidUTF8Offset(data), Err: ErrInvalidEncoding}
		}
		return string(data), nil
	}
	out, err := c.enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", &EncodingError{Encoding: c.Name, Op: "decode", Offset: -1, Err: fmt.Errorf("%w: %v", ErrInvalidEncoding, err)}
	}
	return string(out), nil
}

// Encode converts text to bytes. Characters the encoding cannot represent
// produce ErrUnencodable rather than a lossy substitute.
func (c *Codec) Encode(text string) ([]byte, error) {
	if c.enc == nil {
		if !utf8.ValidString(text) {
			return nil, &EncodingError{Encoding: c.Name, Op: "encode", Offset: invalidUTF8Offset([]byte(text)), Err: ErrUnencodable}
		}
		return []byte(text), nil
	}
	out, err := c.enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, &EncodingError{Encoding: c.Name, Op: "encode", Offset: firstUnencodable(c.enc, text), Err: fmt.Errorf("%w: %v", ErrUnencodable, err)}
	}
	return out, nil
}

func invalidUTF8Offset(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return -1
}

// firstUnencodable finds the byte offset of the first rune enc rejects.
func firstUnencodable(enc encoding.Encoding, text string) int {
	encoder := enc.NewEncoder()
	for i, r := range text {
		if _, err := encoder.String(string(r)); err != nil {
			return i
		}
	}
	return -1
}
