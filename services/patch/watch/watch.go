// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch re-runs a handler when a single file changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 200 * time.Millisecond

// DefaultRunLimit and DefaultRunBurst cap handler runs. A handler that
// writes the watched file triggers itself; a job that never reaches a fixed
// point would otherwise loop forever.
const (
	DefaultRunLimit = rate.Limit(1)
	DefaultRunBurst = 5
)

var (
	// ErrAlreadyRunning indicates Run was called twice on one Watcher.
	ErrAlreadyRunning = errors.New("watcher already running")

	// ErrRateLimited is reported through OnError when a settled change is
	// dropped because the handler ran too often.
	ErrRateLimited = errors.New("handler rate limit exceeded, change skipped")
)

// Handler is called from the watcher goroutine after changes settle.
// A returned error is passed to the error callback and watching continues.
type Handler func(ctx context.Context) error

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before Handler runs. Default: DefaultDebounce.
	Debounce time.Duration

	// OnError receives handler and fsnotify errors. Default: ignored.
	OnError func(error)

	// RunLimit is the sustained handler rate. Default: DefaultRunLimit.
	// rate.Inf disables limiting.
	RunLimit rate.Limit

	// RunBurst is the number of back-to-back runs allowed. Default:
	// DefaultRunBurst.
	RunBurst int
}

// Watcher watches one file and debounces its changes.
//
// # Description
//
// The file's parent directory is watched rather than the file itself:
// atomic writers (including textfile.Write) replace the file with a rename,
// which drops inode-level watches. Events for other names in the directory
// are ignored.
//
// # Thread Safety
//
// Handler runs on a single goroutine, never concurrently with itself.
// Stop is safe to call from any goroutine, more than once.
type Watcher struct {
	target   string
	watcher  *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	onError  func(error)
	limiter  *rate.Limiter

	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	running bool
}

// New creates a Watcher for path and subscribes to its directory. Changes
// made between New and Run are delivered once Run starts. Call Run to start
// it, or Stop to release it.
func New(path string, handler Handler, opts Options) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}
	if opts.RunLimit <= 0 {
		opts.RunLimit = DefaultRunLimit
	}
	if opts.RunBurst <= 0 {
		opts.RunBurst = DefaultRunBurst
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		target:   absPath,
		watcher:  fw,
		handler:  handler,
		debounce: opts.Debounce,
		onError:  opts.OnError,
		limiter:  rate.NewLimiter(opts.RunLimit, opts.RunBurst),
		done:     make(chan struct{}),
	}, nil
}

// Target returns the absolute path being watched.
func (w *Watcher) Target() string {
	return w.target
}

// Run watches until ctx is canceled or Stop is called. It blocks.
//
// # Outputs
//
//   - error: nil on Stop, ctx.Err() on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()
	defer w.Stop()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			// Reset or start debounce timer
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.onError(err)
		case <-timerC:
			timer = nil
			timerC = nil
			if !w.limiter.Allow() {
				w.onError(fmt.Errorf("%s: %w", w.target, ErrRateLimited))
				continue
			}
			if err := w.handler(ctx); err != nil {
				w.onError(err)
			}
		}
	}
}

// Stop ends Run and releases the fsnotify watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

// relevant reports whether event touches the target with content-changing ops.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.target {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
