// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock serializes anchorfix runs against the same target file across
// processes.
//
// # Description
//
// Locks are advisory OS locks (flock on Unix, LockFileEx on Windows) held on
// a sidecar file in a lock directory, never on the target itself: the
// target is replaced by rename on every write, which would orphan a lock
// held on its old inode. The sidecar name is a hash of the target's
// absolute path. The holder's PID and run ID are written into the sidecar
// so a blocked run can say who holds the lock.
//
// The OS drops the lock when the holding process exits, so a crashed run
// never leaves a stale lock behind; at worst it leaves an unlocked sidecar.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// acquireAttempts bounds retries when the sidecar is replaced between open
// and lock.
const acquireAttempts = 3

var (
	// ErrLocked indicates another run holds the lock.
	ErrLocked = errors.New("file is locked by another anchorfix run")

	// ErrReleased indicates Release was called on a lock already released.
	ErrReleased = errors.New("lock already released")

	// errWouldBlock is returned by the platform locker when the lock is held.
	errWouldBlock = errors.New("lock would block")
)

// Info describes a lock holder.
type Info struct {
	Path     string    `json:"path"`
	PID      int       `json:"pid"`
	RunID    string    `json:"run_id,omitempty"`
	LockedAt time.Time `json:"locked_at"`
}

// Error reports a lock conflict.
type Error struct {
	// Path is the target path.
	Path string

	// Holder is the current holder, nil if it could not be read.
	Holder *Info

	// Err is ErrLocked.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("%s: %v (pid %d, run %s, since %s)",
			e.Path, e.Err, e.Holder.PID, e.Holder.RunID, e.Holder.LockedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Manager hands out locks from one lock directory.
//
// Thread Safety: Safe for concurrent use. Two Acquire calls for the same
// path from one process conflict exactly like calls from two processes.
type Manager struct {
	dir string
}

// DefaultDir is the lock directory used when none is configured.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "anchorfix-locks")
}

// NewManager creates the lock directory if needed. An empty dir uses
// DefaultDir.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", dir, err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the lock directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Lock is a held lock. Release it exactly once.
type Lock struct {
	file     *os.File
	lockPath string
	info     Info
}

// Info returns what was recorded for this holder.
func (l *Lock) Info() Info {
	return l.info
}

// Acquire takes the lock for path without blocking.
//
// # Outputs
//
//   - *Lock: The held lock.
//   - error: *Error wrapping ErrLocked if another run holds it, or an I/O
//     error.
func (m *Manager) Acquire(path, runID string) (*Lock, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %s: %w", path, err)
	}
	lockPath := m.lockPath(absPath)

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening lock file: %w", err)
		}

		if err := lockFile(f); err != nil {
			holder := readInfo(f)
			f.Close()
			if errors.Is(err, errWouldBlock) {
				return nil, &Error{Path: absPath, Holder: holder, Err: ErrLocked}
			}
			return nil, fmt.Errorf("acquiring lock on %s: %w", absPath, err)
		}

		// A releasing holder may have removed the sidecar after we opened
		// it; our lock would then be on an unlinked inode.
		if !sameFile(f, lockPath) {
			_ = unlockFile(f)
			f.Close()
			continue
		}

		info := Info{
			Path:     absPath,
			PID:      os.Getpid(),
			RunID:    runID,
			LockedAt: time.Now().UTC(),
		}
		if err := writeInfo(f, info); err != nil {
			_ = unlockFile(f)
			f.Close()
			return nil, fmt.Errorf("writing lock info: %w", err)
		}
		return &Lock{file: f, lockPath: lockPath, info: info}, nil
	}
	return nil, &Error{Path: absPath, Err: ErrLocked}
}

// Release removes the sidecar and drops the lock.
func (l *Lock) Release() error {
	if l.file == nil {
		return ErrReleased
	}
	// Removed while still locked; Acquire re-checks the inode after locking.
	// A sidecar left behind (Windows refuses to delete open files) is
	// harmless.
	_ = os.Remove(l.lockPath)
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(unlockErr, closeErr)
}

// lockPath maps a target to its sidecar.
func (m *Manager) lockPath(absPath string) string {
	hash := sha256.Sum256([]byte(absPath))
	return filepath.Join(m.dir, hex.EncodeToString(hash[:])[:16]+".lock")
}

func sameFile(f *os.File, path string) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	pi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(fi, pi)
}

func writeInfo(f *os.File, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

// readInfo returns the holder recorded in f, or nil if unreadable.
func readInfo(f *os.File) *Info {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(f, 4096))
	if err != nil || len(data) == 0 {
		return nil
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}
