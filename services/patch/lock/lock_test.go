// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix || windows

package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "locks"))
	require.NoError(t, err)
	return m
}

func TestAcquire_ConflictNamesHolder(t *testing.T) {
	m := newTestManager(t)
	target := filepath.Join(t.TempDir(), "page.tsx")

	held, err := m.Acquire(target, "run-1")
	require.NoError(t, err)
	defer held.Release()

	_, err = m.Acquire(target, "run-2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)

	var lockErr *Error
	require.ErrorAs(t, err, &lockErr)
	require.NotNil(t, lockErr.Holder)
	assert.Equal(t, os.Getpid(), lockErr.Holder.PID)
	assert.Equal(t, "run-1", lockErr.Holder.RunID)
	assert.Contains(t, err.Error(), "run-1")
}

func TestAcquire_ReleaseThenReacquire(t *testing.T) {
	m := newTestManager(t)
	target := filepath.Join(t.TempDir(), "page.tsx")

	first, err := m.Acquire(target, "run-1")
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := m.Acquire(target, "run-2")
	require.NoError(t, err)
	assert.Equal(t, "run-2", second.Info().RunID)
	require.NoError(t, second.Release())
}

func TestAcquire_DistinctTargetsIndependent(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()

	a, err := m.Acquire(filepath.Join(dir, "a.txt"), "")
	require.NoError(t, err)
	defer a.Release()

	b, err := m.Acquire(filepath.Join(dir, "b.txt"), "")
	require.NoError(t, err)
	defer b.Release()
}

func TestRelease_Twice(t *testing.T) {
	m := newTestManager(t)
	l, err := m.Acquire(filepath.Join(t.TempDir(), "a.txt"), "")
	require.NoError(t, err)

	require.NoError(t, l.Release())
	assert.ErrorIs(t, l.Release(), ErrReleased)
}

func TestRelease_RemovesSidecar(t *testing.T) {
	m := newTestManager(t)
	target := filepath.Join(t.TempDir(), "a.txt")
	l, err := m.Acquire(target, "")
	require.NoError(t, err)

	sidecar := m.lockPath(l.Info().Path)
	_, err = os.Stat(sidecar)
	require.NoError(t, err)

	require.NoError(t, l.Release())
	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	if len(entries) > 0 {
		// Windows may keep the sidecar; it must at least be unlocked.
		again, err := m.Acquire(target, "")
		require.NoError(t, err)
		require.NoError(t, again.Release())
	}
}

func TestLockPath_Stable(t *testing.T) {
	m := &Manager{dir: "/locks"}
	p1 := m.lockPath("/src/a.txt")
	p2 := m.lockPath("/src/a.txt")
	p3 := m.lockPath("/src/b.txt")

	assert.Equal(t, p1, p2)
	assert.NotEqual(t, p1, p3)
	assert.Equal(t, ".lock", filepath.Ext(p1))
	assert.Len(t, filepath.Base(p1), 16+len(".lock"))
}

func TestNewManager_DefaultDir(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	assert.Equal(t, DefaultDir(), m.Dir())
}
