// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jasonw4331/GitRollbacks/services/snapshot/storage/badger"
)

// ErrNotFound is returned by a Store for ids it does not hold.
var ErrNotFound = errors.New("task status not found")

// State is the lifecycle position of a task.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Status is the observable record of one task.
type Status struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Target      string    `json:"target"`
	State       State     `json:"state"`
	Error       string    `json:"error,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// Store persists task status.
type Store interface {
	Put(ctx context.Context, status Status) error
	Get(ctx context.Context, id string) (Status, error)
	List(ctx context.Context) ([]Status, error)
}

func sortNewestFirst(list []Status) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].SubmittedAt.After(list[j].SubmittedAt)
	})
}

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore keeps status in a map. Contents are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Status
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Status)}
}

func (m *MemoryStore) Put(_ context.Context, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[status.ID] = status
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.entries[id]
	if !ok {
		return Status{}, ErrNotFound
	}
	return status, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Status, error) {
	m.mu.RLock()
	list := make([]Status, 0, len(m.entries))
	for _, status := range m.entries {
		list = append(list, status)
	}
	m.mu.RUnlock()
	sortNewestFirst(list)
	return list, nil
}

// =============================================================================
// BadgerStore
// =============================================================================

const statusKeyPrefix = "task/"

// BadgerStore keeps status in the embedded task database so it survives a
// restart. Terminal records expire after Retention.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
}

// NewBadgerStore wraps an open database. A zero retention keeps finished
// records forever.
func NewBadgerStore(db *badger.DB, retention time.Duration) *BadgerStore {
	return &BadgerStore{db: db, retention: retention}
}

func (b *BadgerStore) Put(ctx context.Context, status Status) error {
	var ttl time.Duration
	if status.State.Terminal() {
		ttl = b.retention
	}
	return b.db.PutJSON(ctx, statusKeyPrefix+status.ID, status, ttl)
}

func (b *BadgerStore) Get(ctx context.Context, id string) (Status, error) {
	var status Status
	err := b.db.GetJSON(ctx, statusKeyPrefix+id, &status)
	if errors.Is(err, badger.ErrNotFound) {
		return Status{}, ErrNotFound
	}
	return status, err
}

func (b *BadgerStore) List(ctx context.Context) ([]Status, error) {
	var list []Status
	err := b.db.ScanPrefix(ctx, statusKeyPrefix, func(key string, raw []byte) error {
		var status Status
		if err := json.Unmarshal(raw, &status); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		list = append(list, status)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(list)
	return list, nil
}

// Recover marks tasks left queued or running by a previous process as
// failed and returns how many were changed.
func (b *BadgerStore) Recover(ctx context.Context) (int, error) {
	list, err := b.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, status := range list {
		if status.State.Terminal() {
			continue
		}
		status.State = StateFailed
		status.Error = "interrupted by process exit"
		status.FinishedAt = time.Now().UTC()
		if err := b.Put(ctx, status); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
