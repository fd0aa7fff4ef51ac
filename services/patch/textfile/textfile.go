// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textfile reads and writes whole text files under a declared
// character encoding.
//
// Text read under encoding E is written back under E. Writes are atomic
// (temp file plus rename) and refuse to proceed if the file changed since it
// was read, so a failed or conflicting run never leaves a partial file.
package textfile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MaxFileSize caps the size of files this package will load.
const MaxFileSize = 10 * 1024 * 1024

var (
	// ErrUnknownEncoding indicates an encoding name that cannot be resolved.
	ErrUnknownEncoding = errors.New("unknown encoding")

	// ErrInvalidEncoding indicates stored bytes that are not valid in the
	// declared encoding.
	ErrInvalidEncoding = errors.New("content is not valid in the declared encoding")

	// ErrUnencodable indicates text containing characters the encoding
	// cannot represent.
	ErrUnencodable = errors.New("text cannot be represented in the declared encoding")

	// ErrConflict indicates the file changed between Read and Write.
	ErrConflict = errors.New("file was modified since it was read")

	// ErrTooLarge indicates a file above MaxFileSize.
	ErrTooLarge = errors.New("file too large")

	// ErrNotRegular indicates the path is a directory or special file.
	ErrNotRegular = errors.New("not a regular file")
)

// EncodingError reports where transcoding failed.
type EncodingError struct {
	// Encoding is the codec name.
	Encoding string

	// Op is "decode" or "encode".
	Op string

	// Offset is the byte offset of the first bad character, or -1 if unknown.
	Offset int

	// Err wraps ErrInvalidEncoding or ErrUnencodable.
	Err error
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s %s at byte %d: %v", e.Encoding, e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Encoding, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Document is a file's decoded text plus what is needed to write it back
// safely.
type Document struct {
	// Path is the absolute path the document was read from.
	Path string

	// Text is the decoded content.
	Text string

	codec  *Codec
	digest [sha256.Size]byte
	mode   os.FileMode
	size   int
}

// Encoding returns the canonical name of the document's encoding.
func (d *Document) Encoding() string {
	return d.codec.Name
}

// Hash returns the SHA-256 of the bytes as read.
func (d *Document) Hash() string {
	return hex.EncodeToString(d.digest[:])
}

// Size returns the number of bytes read.
func (d *Document) Size() int {
	return d.size
}

// Read loads path and decodes it under encodingName.
func Read(path, encodingName string) (*Document, error) {
	codec, err := LookupCodec(encodingName)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", absPath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", absPath, ErrNotRegular)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s: %w (%d bytes, max %d)", absPath, ErrTooLarge, info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", absPath, err)
	}

	text, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", absPath, err)
	}

	return &Document{
		Path:   absPath,
		Text:   text,
		codec:  codec,
		digest: sha256.Sum256(data),
		mode:   info.Mode().Perm(),
		size:   len(data),
	}, nil
}

// Encode returns text encoded under the document's encoding without writing.
func (d *Document) Encode(text string) ([]byte, error) {
	return d.codec.Encode(text)
}

// Write encodes text under the document's encoding and replaces the file.
//
// # Description
//
// Encoding happens before the file is touched, so unencodable text leaves
// the file as it was. The file is then re-hashed and compared with the hash
// taken at Read; on mismatch ErrConflict is returned. Finally the content is
// written to a temp file in the same directory and renamed over the target,
// keeping the original permissions.
//
// # Outputs
//
//   - int: Bytes written.
//   - error: ErrUnencodable, ErrConflict, or an I/O error.
func Write(doc *Document, text string) (int, error) {
	data, err := doc.codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encoding %s: %w", doc.Path, err)
	}
	if err := doc.checkUnchanged(); err != nil {
		return 0, err
	}
	if err := replaceFile(doc.Path, data, doc.mode); err != nil {
		return 0, fmt.Errorf("writing %s: %w", doc.Path, err)
	}
	doc.Text = text
	doc.digest = sha256.Sum256(data)
	doc.size = len(data)
	return len(data), nil
}

// checkUnchanged reports ErrConflict if the file on disk no longer holds the
// bytes the document was read from.
func (d *Document) checkUnchanged() error {
	onDisk, err := os.ReadFile(d.Path)
	if err != nil {
		return fmt.Errorf("re-reading %s: %w", d.Path, err)
	}
	if sha256.Sum256(onDisk) != d.digest {
		return fmt.Errorf("%s: %w", d.Path, ErrConflict)
	}
	return nil
}

// replaceFile swaps data in for path via a hidden sibling that is renamed
// over it. The sibling is removed on any failure.
func replaceFile(path string, data []byte, mode os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".anchorfix-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(mode); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
