// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch snapshots targets when their live files change on disk.
//
// Used when the host cannot call the save hook itself: the watcher turns
// bursts of filesystem events into one save per target once writes settle.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/engine"
	"golang.org/x/time/rate"
)

// Engine is the part of *engine.Engine the watcher drives.
type Engine interface {
	OnResourceSave(ctx context.Context, t engine.Target, at time.Time) (string, error)
	TargetBusy(t engine.Target) (bool, error)
	Player(name string) (engine.Target, error)
}

// Options configures a Watcher.
type Options struct {
	// Worlds are watched recursively.
	Worlds []engine.Target

	// PlayersDir, when set, is watched for "<name>.dat" changes.
	PlayersDir string

	// Debounce is how long a target must stay quiet before it is saved.
	// Default: 2s
	Debounce time.Duration

	// MinInterval spaces saves of one target. Zero disables the limit.
	MinInterval time.Duration

	// IgnorePatterns are base-name globs that never trigger a save.
	// Default: DefaultIgnorePatterns
	IgnorePatterns []string

	// BufferSize bounds queued events. Default: 1024
	BufferSize int

	Logger *slog.Logger

	// Now stamps snapshots. Default: time.Now
	Now func() time.Time
}

// DefaultIgnorePatterns skips files that change constantly without
// representing saved state.
var DefaultIgnorePatterns = []string{".git", "session.lock", "*.tmp", "*.swp", "*~"}

// Watcher debounces filesystem events into saves.
//
// # Thread Safety
//
// Start and Stop are safe for concurrent use. Saves run one at a time from
// the watcher's own goroutine.
type Watcher struct {
	eng     Engine
	opts    Options
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	targets map[string]engine.Target

	events   chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	limiters map[string]*rate.Limiter

	mu       sync.Mutex
	watching bool
}

// New creates a Watcher. Call Start to begin watching.
func New(eng Engine, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.IgnorePatterns == nil {
		opts.IgnorePatterns = DefaultIgnorePatterns
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		eng:      eng,
		opts:     opts,
		fsw:      fsw,
		logger:   opts.Logger.With("component", "watch"),
		targets:  make(map[string]engine.Target),
		events:   make(chan string, opts.BufferSize),
		done:     make(chan struct{}),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, t := range opts.Worlds {
		abs, err := filepath.Abs(t.LivePath)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		w.targets[abs] = t
	}
	if opts.PlayersDir != "" {
		abs, err := filepath.Abs(opts.PlayersDir)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		w.opts.PlayersDir = abs
	}
	return w, nil
}

// Start registers watches and starts the event goroutines.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil
	}

	for dir := range w.targets {
		if err := w.addRecursive(dir); err != nil {
			return err
		}
	}
	if w.opts.PlayersDir != "" {
		if err := w.fsw.Add(w.opts.PlayersDir); err != nil {
			return err
		}
	}
	w.watching = true

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	w.logger.Info("watching for changes", "worlds", len(w.targets), "players_dir", w.opts.PlayersDir)
	return nil
}

// Stop stops watching and waits for an in-flight save.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.opts.IgnorePatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.worldFor(event.Name) != nil {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watching new directory failed", "path", event.Name, "error", err)
					}
				}
			}
			select {
			case w.events <- event.Name:
			default:
				w.logger.Warn("event buffer full, dropping event", "path", event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// worldFor returns the world containing path, if any.
func (w *Watcher) worldFor(path string) *engine.Target {
	for dir, t := range w.targets {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return &t
		}
	}
	return nil
}

// targetFor maps an event path to the target it belongs to.
func (w *Watcher) targetFor(path string) (engine.Target, bool) {
	if t := w.worldFor(path); t != nil {
		return *t, true
	}
	if w.opts.PlayersDir != "" && filepath.Dir(path) == w.opts.PlayersDir {
		name, ok := strings.CutSuffix(filepath.Base(path), ".dat")
		if !ok || name == "" {
			return engine.Target{}, false
		}
		t, err := w.eng.Player(name)
		if err != nil {
			return engine.Target{}, false
		}
		return t, true
	}
	return engine.Target{}, false
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	pending := make(map[string]engine.Target)
	var timer *time.Timer
	var timerC <-chan time.Time

	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.opts.Debounce)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.opts.Debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.events:
			if t, ok := w.targetFor(path); ok {
				pending[t.String()] = t
				arm()
			}
		case <-timerC:
			timer, timerC = nil, nil
			w.flush(ctx, pending)
			if len(pending) > 0 {
				arm()
			}
		}
	}
}

// flush saves every pending target that is idle and not rate limited.
// Targets that are skipped stay pending.
func (w *Watcher) flush(ctx context.Context, pending map[string]engine.Target) {
	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		t := pending[key]
		busy, err := w.eng.TargetBusy(t)
		if err != nil {
			w.logger.Warn("checking target lock failed", "target", key, "error", err)
			continue
		}
		if busy {
			w.logger.Debug("target busy, deferring save", "target", key)
			continue
		}
		if !w.limiter(key).Allow() {
			continue
		}
		delete(pending, key)

		id, err := w.eng.OnResourceSave(ctx, t, w.opts.Now())
		if err != nil {
			w.logger.Error("snapshot after change failed", "target", key, "task_id", id, "error", err)
			continue
		}
		w.logger.Info("snapshot after change", "target", key, "task_id", id)
	}
}

func (w *Watcher) limiter(key string) *rate.Limiter {
	l, ok := w.limiters[key]
	if !ok {
		limit := rate.Inf
		if w.opts.MinInterval > 0 {
			limit = rate.Every(w.opts.MinInterval)
		}
		l = rate.NewLimiter(limit, 1)
		w.limiters[key] = l
	}
	return l
}
