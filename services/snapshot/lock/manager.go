// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides cross-process advisory locks on directories.
//
// The engine locks a repository for the duration of each task so two
// engine processes never mutate one repository at once, and the CLI host
// locks a live directory while a rollback has it detached. Each locked
// path maps to a lock file under the manager's directory holding JSON
// information about the holder.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrLocked indicates another process holds the lock.
	ErrLocked = errors.New("path is locked by another process")

	// ErrNotHeld indicates Release was called for a path this manager does
	// not hold.
	ErrNotHeld = errors.New("lock not held")
)

const lockFileExt = ".lock"

// A lock file with no holder info is either being checked by IsLocked or
// was just created by a holder that has not written its info yet. Both
// windows are short, so Acquire and IsLocked retry before deciding.
const (
	unclaimedRetries = 5
	unclaimedBackoff = 10 * time.Millisecond
)

// Info describes a lock holder.
type Info struct {
	Path     string    `json:"path"`
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname,omitempty"`
	Owner    string    `json:"owner,omitempty"`
	Reason   string    `json:"reason"`
	LockedAt time.Time `json:"locked_at"`
}

// LockError reports a lock held elsewhere.
type LockError struct {
	Path   string
	Holder *Info
}

func (e *LockError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("%s: %v", e.Path, ErrLocked)
	}
	return fmt.Sprintf("%s: %v (pid %d, %s, since %s)", e.Path, ErrLocked,
		e.Holder.PID, e.Holder.Reason, e.Holder.LockedAt.Format(time.RFC3339))
}

// Is matches ErrLocked.
func (e *LockError) Is(target error) bool {
	return target == ErrLocked
}

// Config configures a Manager.
type Config struct {
	// Dir holds the lock files. Created if missing.
	Dir string

	// Owner is recorded in lock info, e.g. "gitrollback serve".
	Owner string

	// CleanupOnInit removes abandoned lock files when the manager opens.
	CleanupOnInit bool

	Logger *slog.Logger
}

type entry struct {
	file *os.File
	info *Info
	refs int
}

// Manager acquires and releases path locks for this process.
//
// # Thread Safety
//
// Safe for concurrent use. Acquiring a path this manager already holds
// increments a reference count instead of blocking.
type Manager struct {
	dir      string
	owner    string
	hostname string
	locker   FileLocker
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*entry
}

// NewManager creates a Manager rooted at config.Dir.
func NewManager(config Config) (*Manager, error) {
	if config.Dir == "" {
		return nil, errors.New("lock directory is required")
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", config.Dir, err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hostname, _ := os.Hostname()

	m := &Manager{
		dir:      config.Dir,
		owner:    config.Owner,
		hostname: hostname,
		locker:   newPlatformLocker(),
		logger:   logger.With("component", "lock"),
		locks:    make(map[string]*entry),
	}

	if config.CleanupOnInit {
		cleaned, err := m.CleanupStale()
		if err != nil {
			m.logger.Warn("cleaning stale locks failed", "error", err)
		} else if cleaned > 0 {
			m.logger.Info("cleaned stale locks", "count", cleaned)
		}
	}
	return m, nil
}

// Acquire locks path without blocking.
//
// # Outputs
//
//   - error: *LockError (matching ErrLocked) when another process holds
//     the lock; I/O errors otherwise.
func (m *Manager) Acquire(path, reason string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.locks[absPath]; ok {
		e.refs++
		return nil
	}

	lockPath := m.lockPath(absPath)
	f, err := m.lockFile(lockPath)
	for attempt := 0; errors.Is(err, ErrLocked) && attempt < unclaimedRetries; attempt++ {
		if holder, _ := readInfo(lockPath); holder != nil {
			break
		}
		time.Sleep(unclaimedBackoff)
		f, err = m.lockFile(lockPath)
	}
	if errors.Is(err, ErrLocked) {
		holder, _ := readInfo(lockPath)
		return &LockError{Path: absPath, Holder: holder}
	}
	if err != nil {
		return fmt.Errorf("acquiring lock on %s: %w", absPath, err)
	}

	info := &Info{
		Path:     absPath,
		PID:      os.Getpid(),
		Hostname: m.hostname,
		Owner:    m.owner,
		Reason:   reason,
		LockedAt: time.Now().UTC(),
	}
	if err := writeInfo(f, info); err != nil {
		_ = m.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("writing lock info for %s: %w", absPath, err)
	}

	m.locks[absPath] = &entry{file: f, info: info, refs: 1}
	m.logger.Debug("acquired lock", "path", absPath, "reason", reason)
	return nil
}

// AcquireWait retries Acquire every poll interval until it succeeds, fails
// with something other than ErrLocked, or ctx ends.
func (m *Manager) AcquireWait(ctx context.Context, path, reason string, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		err := m.Acquire(path, reason)
		if err == nil || !errors.Is(err, ErrLocked) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (gave up: %v)", err, ctx.Err())
		case <-ticker.C:
		}
	}
}

// lockFile opens and locks lockPath, retrying when the file it locked was
// unlinked by a concurrent cleanup.
func (m *Manager) lockFile(lockPath string) (*os.File, error) {
	for attempt := 0; attempt < 5; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, err
		}
		if err := m.locker.Lock(f); err != nil {
			f.Close()
			return nil, err
		}
		if sameFile(f, lockPath) {
			return f, nil
		}
		_ = m.locker.Unlock(f)
		f.Close()
	}
	return nil, fmt.Errorf("lock file %s keeps being replaced", lockPath)
}

// Release drops one reference to path's lock, unlocking at zero.
func (m *Manager) Release(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[absPath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHeld, absPath)
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	return m.releaseEntry(absPath, e)
}

func (m *Manager) releaseEntry(absPath string, e *entry) error {
	delete(m.locks, absPath)
	// Unlink while still holding the lock so nobody reads a stale holder.
	if err := os.Remove(e.file.Name()); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("removing lock file failed", "path", e.file.Name(), "error", err)
	}
	err := m.locker.Unlock(e.file)
	e.file.Close()
	m.logger.Debug("released lock", "path", absPath)
	return err
}

// IsLocked reports whether any process holds path's lock.
//
// # Outputs
//
//   - bool: True when held by this manager or another process.
//   - *Info: Holder information when it could be read.
//   - error: I/O failures probing the lock file.
func (m *Manager) IsLocked(path string) (bool, *Info, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, nil, fmt.Errorf("resolving path %s: %w", path, err)
	}

	m.mu.Lock()
	if e, ok := m.locks[absPath]; ok {
		info := *e.info
		m.mu.Unlock()
		return true, &info, nil
	}
	m.mu.Unlock()

	lockPath := m.lockPath(absPath)
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0)
	if os.IsNotExist(err) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	defer f.Close()

	for attempt := 0; ; attempt++ {
		err = m.locker.Lock(f)
		if !errors.Is(err, ErrLocked) {
			break
		}
		holder, _ := readInfo(lockPath)
		if holder != nil || attempt >= unclaimedRetries {
			return true, holder, nil
		}
		time.Sleep(unclaimedBackoff)
	}
	if err != nil {
		return false, nil, err
	}
	_ = m.locker.Unlock(f)
	return false, nil, nil
}

// CleanupStale removes lock files no process holds.
func (m *Manager) CleanupStale() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading lock directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	held := make(map[string]bool, len(m.locks))
	for _, e := range m.locks {
		held[e.file.Name()] = true
	}

	cleaned := 0
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != lockFileExt {
			continue
		}
		lockPath := filepath.Join(m.dir, de.Name())
		if held[lockPath] {
			continue
		}
		f, err := os.OpenFile(lockPath, os.O_RDWR, 0)
		if err != nil {
			continue
		}
		if m.locker.Lock(f) != nil {
			f.Close()
			continue
		}
		holder, _ := readInfo(lockPath)
		if err := os.Remove(lockPath); err == nil {
			cleaned++
			if holder != nil {
				m.logger.Info("removed stale lock", "path", holder.Path, "pid", holder.PID,
					"holder_alive", IsProcessAlive(holder.PID))
			}
		}
		_ = m.locker.Unlock(f)
		f.Close()
	}
	return cleaned, nil
}

// Close releases every lock held by this manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for path, e := range m.locks {
		if err := m.releaseEntry(path, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// =============================================================================
// Lock file helpers
// =============================================================================

func (m *Manager) lockPath(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return filepath.Join(m.dir, hex.EncodeToString(sum[:])[:16]+lockFileExt)
}

func sameFile(f *os.File, path string) bool {
	open, err := f.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(open, onDisk)
}

func writeInfo(f *os.File, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func readInfo(lockPath string) (*Info, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
