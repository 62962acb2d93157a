// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler runs snapshot and rollback tasks in the background.
//
// Submit never blocks the caller. At most Workers tasks execute at once,
// and tasks sharing a target key execute strictly one at a time in
// submission order, so a repository never sees interleaved git calls from
// this process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed indicates the scheduler no longer accepts tasks.
	ErrClosed = errors.New("scheduler closed")

	// ErrUnknownTask indicates the task id was never issued or has expired.
	ErrUnknownTask = errors.New("unknown task")
)

// Task is one unit of background work.
type Task interface {
	// Kind labels the task for status and metrics ("snapshot", "rollback").
	Kind() string

	// Target is the serialization key. Tasks with equal keys never overlap.
	Target() string

	// Run performs the work and returns a short human readable detail.
	Run(ctx context.Context) (string, error)
}

// Config configures a Scheduler.
type Config struct {
	// Workers bounds concurrently running tasks. Values below 1 mean 1.
	Workers int

	// TaskTimeout bounds a single task. Zero means no limit.
	TaskTimeout time.Duration

	// Store records task status. Nil uses a MemoryStore.
	Store Store

	Logger *slog.Logger
}

type job struct {
	id   string
	task Task
	ctx  context.Context
	done chan struct{}
}

// Scheduler is a bounded background executor with per-target FIFO order.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Scheduler struct {
	sem     *semaphore.Weighted
	store   Store
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	queues  map[string][]*job
	pending map[string]*job
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(config Config) *Scheduler {
	workers := config.Workers
	if workers < 1 {
		workers = 1
	}
	store := config.Store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sem:     semaphore.NewWeighted(int64(workers)),
		store:   store,
		timeout: config.TaskTimeout,
		logger:  logger.With("component", "scheduler"),
		queues:  make(map[string][]*job),
		pending: make(map[string]*job),
	}
}

// Submit queues task and returns its id immediately.
//
// # Description
//
// The task runs with a context detached from ctx's cancellation but
// carrying its values, so request-scoped trace spans propagate while the
// caller is free to return.
//
// # Outputs
//
//   - string: Task id usable with Status and Wait.
//   - error: ErrClosed after Close, or a status store failure.
func (s *Scheduler) Submit(ctx context.Context, task Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	j := &job{
		id:   uuid.NewString(),
		task: task,
		ctx:  context.WithoutCancel(ctx),
		done: make(chan struct{}),
	}
	status := Status{
		ID:          j.id,
		Kind:        task.Kind(),
		Target:      task.Target(),
		State:       StateQueued,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, status); err != nil {
		return "", fmt.Errorf("recording task %s: %w", j.id, err)
	}

	s.pending[j.id] = j
	queue, active := s.queues[task.Target()]
	s.queues[task.Target()] = append(queue, j)
	queuedTasks.WithLabelValues(task.Kind()).Inc()
	if !active {
		s.wg.Add(1)
		go s.drain(task.Target())
	}

	s.logger.Debug("task queued",
		slog.String("task_id", j.id),
		slog.String("kind", task.Kind()),
		slog.String("target", task.Target()))
	return j.id, nil
}

// drain runs the queue of one target until it is empty. Exactly one drain
// goroutine exists per target with queued work.
func (s *Scheduler) drain(target string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.queues[target]
		if len(queue) == 0 {
			delete(s.queues, target)
			s.mu.Unlock()
			return
		}
		j := queue[0]
		s.queues[target] = queue[1:]
		s.mu.Unlock()

		// Background context: a queued task always gets a slot eventually.
		_ = s.sem.Acquire(context.Background(), 1)
		s.execute(j)
		s.sem.Release(1)
	}
}

func (s *Scheduler) execute(j *job) {
	kind := j.task.Kind()
	queuedTasks.WithLabelValues(kind).Dec()
	runningTasks.Inc()
	defer runningTasks.Dec()

	logger := s.logger.With(slog.String("task_id", j.id), slog.String("kind", kind), slog.String("target", j.task.Target()))

	status, err := s.store.Get(j.ctx, j.id)
	if err != nil {
		status = Status{ID: j.id, Kind: kind, Target: j.task.Target()}
	}
	status.State = StateRunning
	status.StartedAt = time.Now().UTC()
	s.put(j.ctx, status, logger)

	ctx := j.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	detail, runErr := runTask(ctx, j.task)
	duration := time.Since(start)

	status.FinishedAt = time.Now().UTC()
	status.Detail = detail
	result := "succeeded"
	if runErr != nil {
		status.State = StateFailed
		status.Error = runErr.Error()
		result = "failed"
		logger.Warn("task failed", slog.String("error", runErr.Error()), slog.Duration("duration", duration))
	} else {
		status.State = StateSucceeded
		logger.Info("task finished", slog.String("detail", detail), slog.Duration("duration", duration))
	}
	tasksTotal.WithLabelValues(kind, result).Inc()
	taskDuration.WithLabelValues(kind).Observe(duration.Seconds())

	s.put(j.ctx, status, logger)

	s.mu.Lock()
	delete(s.pending, j.id)
	s.mu.Unlock()
	close(j.done)
}

func (s *Scheduler) put(ctx context.Context, status Status, logger *slog.Logger) {
	if err := s.store.Put(ctx, status); err != nil {
		logger.Error("recording task status failed", slog.String("state", string(status.State)), slog.String("error", err.Error()))
	}
}

// runTask converts a panic inside a task into a failure.
func runTask(ctx context.Context, task Task) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Run(ctx)
}

// Status returns the recorded status of a task.
func (s *Scheduler) Status(ctx context.Context, id string) (Status, error) {
	status, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return status, err
}

// List returns every recorded task status, newest first.
func (s *Scheduler) List(ctx context.Context) ([]Status, error) {
	return s.store.List(ctx)
}

// Wait blocks until the task finishes or ctx ends, then returns its status.
func (s *Scheduler) Wait(ctx context.Context, id string) (Status, error) {
	s.mu.Lock()
	j, ok := s.pending[id]
	s.mu.Unlock()
	if ok {
		select {
		case <-j.done:
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
	return s.Status(ctx, id)
}

// Close stops accepting tasks and waits for queued work to drain.
//
// Returns ctx.Err() if ctx ends first; queued tasks keep running in that
// case.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
