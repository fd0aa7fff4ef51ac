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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

func createTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0640); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// ============================================================================
// Read / Write
// ============================================================================

func TestReadWrite_UTF8RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "a.tsx", []byte("<p>• one</p>\n"))

	doc, err := Read(path, "")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if doc.Encoding() != "utf-8" {
		t.Errorf("expected utf-8, got %s", doc.Encoding())
	}
	if doc.Text != "<p>• one</p>\n" {
		t.Errorf("unexpected text %q", doc.Text)
	}

	n, err := Write(doc, "<p>• two</p>\n")
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "<p>• two</p>\n" || n != len(got) {
		t.Errorf("unexpected file content %q (n=%d)", got, n)
	}
}

func TestReadWrite_Latin1PreservesBytes(t *testing.T) {
	dir := t.TempDir()
	// 0xE9 is é and 0x92 is a C1 control in latin-1; both must survive.
	raw := []byte{'c', 'a', 'f', 0xE9, ' ', 0x92, '\n'}
	path := createTestFile(t, dir, "latin.txt", raw)

	doc, err := Read(path, "ISO-8859-1")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if doc.Encoding() != "latin-1" {
		t.Errorf("expected latin-1, got %s", doc.Encoding())
	}
	if !strings.HasPrefix(doc.Text, "café") {
		t.Errorf("unexpected decoded text %q", doc.Text)
	}

	if _, err := Write(doc, "[x] "+doc.Text); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	got, _ := os.ReadFile(path)
	want := append([]byte("[x] "), raw...)
	if !bytes.Equal(got, want) {
		t.Errorf("latin-1 bytes not preserved:\n got %v\nwant %v", got, want)
	}
}

func TestRead_InvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "bad.txt", []byte{'o', 'k', 0xFF, 'x'})

	_, err := Read(path, "utf-8")
	if !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("expected ErrInvalidEncoding, got %v", err)
	}
	var encErr *EncodingError
	if !errors.As(err, &encErr) || encErr.Offset != 2 {
		t.Errorf("expected EncodingError at offset 2, got %v", err)
	}
}

func TestRead_UnknownEncoding(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "a.txt", []byte("x"))

	if _, err := Read(path, "klingon-8"); !errors.Is(err, ErrUnknownEncoding) {
		t.Fatalf("expected ErrUnknownEncoding, got %v", err)
	}
}

func TestRead_Directory(t *testing.T) {
	if _, err := Read(t.TempDir(), "utf-8"); !errors.Is(err, ErrNotRegular) {
		t.Fatalf("expected ErrNotRegular, got %v", err)
	}
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.txt"), "utf-8")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestWrite_UnencodableLeavesFileAlone(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "latin.txt", []byte("plain\n"))

	doc, err := Read(path, "latin-1")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	_, err = Write(doc, "plain • bullet\n")
	if !errors.Is(err, ErrUnencodable) {
		t.Fatalf("expected ErrUnencodable, got %v", err)
	}
	var encErr *EncodingError
	if !errors.As(err, &encErr) || encErr.Offset != len("plain ") {
		t.Errorf("expected offset %d, got %v", len("plain "), err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "plain\n" {
		t.Errorf("file modified after failed write: %q", got)
	}
	if names := listDir(t, dir); len(names) != 1 {
		t.Errorf("temp files left behind: %v", names)
	}
}

func TestWrite_Conflict(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "a.txt", []byte("v1\n"))

	doc, err := Read(path, "utf-8")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	if err := os.WriteFile(path, []byte("someone else\n"), 0640); err != nil {
		t.Fatal(err)
	}

	if _, err := Write(doc, "v2\n"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "someone else\n" {
		t.Errorf("conflicting write clobbered file: %q", got)
	}
}

func TestWrite_ConflictLeavesNoSibling(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "a.txt", []byte("v1\n"))

	doc, err := Read(path, "utf-8")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if err := os.WriteFile(path, []byte("v1 edited\n"), 0640); err != nil {
		t.Fatal(err)
	}

	_, err = Write(doc, "v2\n")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error should name the file: %v", err)
	}
	if names := listDir(t, dir); len(names) != 1 {
		t.Errorf("temp files left behind: %v", names)
	}
}

func TestWrite_StaleDocumentAfterSecondWrite(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "a.txt", []byte("v1\n"))

	first, err := Read(path, "utf-8")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	second, err := Read(path, "utf-8")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	before := first.Hash()

	if _, err := Write(first, "v2\n"); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if first.Hash() == before {
		t.Error("hash not refreshed after write")
	}
	if _, err := Write(first, "v3\n"); err != nil {
		t.Errorf("document should stay writable after its own write: %v", err)
	}
	if _, err := Write(second, "other\n"); !errors.Is(err, ErrConflict) {
		t.Errorf("stale document: expected ErrConflict, got %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "v3\n" {
		t.Errorf("file = %q, want %q", got, "v3\n")
	}
}

func TestReplaceFile_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone", "a.txt")
	if err := replaceFile(path, []byte("x"), 0644); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestWrite_PreservesMode(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "script.sh", []byte("echo hi\n"))
	if err := os.Chmod(path, 0750); err != nil {
		t.Fatal(err)
	}

	doc, err := Read(path, "utf-8")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if _, err := Write(doc, "echo bye\n"); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0750 {
		t.Errorf("expected mode 0750, got %v", info.Mode().Perm())
	}
}

func TestWrite_SecondWriteAfterFirst(t *testing.T) {
	dir := t.TempDir()
	path := createTestFile(t, dir, "a.txt", []byte("1"))

	doc, err := Read(path, "utf-8")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if _, err := Write(doc, "2"); err != nil {
		t.Fatalf("first Write() error: %v", err)
	}
	// The document tracks its own write, so a follow-up write is not a conflict.
	if _, err := Write(doc, "3"); err != nil {
		t.Fatalf("second Write() error: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "3" {
		t.Errorf("expected 3, got %q", got)
	}
}

// ============================================================================
// Codecs
// ============================================================================

func TestLookupCodec(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "utf-8"},
		{"UTF8", "utf-8"},
		{"latin1", "latin-1"},
		{"cp1252", "windows-1252"},
		{"utf-16le", "utf-16le"},
		{"koi8-r", "koi8-r"},
		{"latin2", "iso-8859-2"},
		{"L2", "iso-8859-2"},
		{"ISO_8859-2", "iso-8859-2"},
		{"csKOI8R", "koi8-r"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := LookupCodec(tt.in)
			if err != nil {
				t.Fatalf("LookupCodec(%q) error: %v", tt.in, err)
			}
			if c.Name != tt.want {
				t.Errorf("LookupCodec(%q) = %q, want %q", tt.in, c.Name, tt.want)
			}
		})
	}
}

func TestCodec_UTF16RoundTrip(t *testing.T) {
	c, err := LookupCodec("utf-16le")
	if err != nil {
		t.Fatal(err)
	}
	data, err := c.Encode("hé•")
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if len(data) != 6 {
		t.Errorf("expected 6 bytes, got %d", len(data))
	}
	text, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if text != "hé•" {
		t.Errorf("round trip mismatch: %q", text)
	}
}
