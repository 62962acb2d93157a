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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTask implements Task with a func field.
type fakeTask struct {
	kind   string
	target string
	run    func(ctx context.Context) (string, error)
}

func (f *fakeTask) Kind() string   { return f.kind }
func (f *fakeTask) Target() string { return f.target }
func (f *fakeTask) Run(ctx context.Context) (string, error) {
	return f.run(ctx)
}

// concurrencyGauge records the peak number of overlapping calls.
type concurrencyGauge struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (g *concurrencyGauge) enter() {
	n := g.current.Add(1)
	for {
		old := g.peak.Load()
		if n <= old || g.peak.CompareAndSwap(old, n) {
			return
		}
	}
}

func (g *concurrencyGauge) leave() { g.current.Add(-1) }

func TestSubmit_ReturnsBeforeTaskRuns(t *testing.T) {
	s := New(Config{Workers: 1})
	release := make(chan struct{})
	task := &fakeTask{kind: "snapshot", target: "/repo", run: func(context.Context) (string, error) {
		<-release
		return "done", nil
	}}

	id, err := s.Submit(context.Background(), task)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	status, err := s.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, []State{StateQueued, StateRunning}, status.State)

	close(release)
	status, err = s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, status.State)
	assert.Equal(t, "done", status.Detail)
	assert.False(t, status.FinishedAt.IsZero())
	require.NoError(t, s.Close(context.Background()))
}

func TestSameTargetNeverInterleaves(t *testing.T) {
	s := New(Config{Workers: 8})
	gauge := &concurrencyGauge{}
	var mu sync.Mutex
	var order []int

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		n := i
		id, err := s.Submit(context.Background(), &fakeTask{kind: "snapshot", target: "/worlds/world", run: func(context.Context) (string, error) {
			gauge.enter()
			defer gauge.leave()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return "", nil
		}})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := s.Wait(context.Background(), id)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), gauge.peak.Load())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order, "same target runs FIFO")
	require.NoError(t, s.Close(context.Background()))
}

func TestWorkersBoundConcurrency(t *testing.T) {
	s := New(Config{Workers: 2})
	gauge := &concurrencyGauge{}

	var ids []string
	for i := 0; i < 6; i++ {
		id, err := s.Submit(context.Background(), &fakeTask{kind: "snapshot", target: fmt.Sprintf("/worlds/w%d", i), run: func(context.Context) (string, error) {
			gauge.enter()
			defer gauge.leave()
			time.Sleep(10 * time.Millisecond)
			return "", nil
		}})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := s.Wait(context.Background(), id)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, gauge.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, gauge.peak.Load(), int32(1))
}

func TestFailedAndPanickingTasks(t *testing.T) {
	s := New(Config{Workers: 2})
	ctx := context.Background()

	failID, err := s.Submit(ctx, &fakeTask{kind: "rollback", target: "a", run: func(context.Context) (string, error) {
		return "", errors.New("resource busy")
	}})
	require.NoError(t, err)
	panicID, err := s.Submit(ctx, &fakeTask{kind: "rollback", target: "b", run: func(context.Context) (string, error) {
		panic("boom")
	}})
	require.NoError(t, err)

	status, err := s.Wait(ctx, failID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, "resource busy", status.Error)

	status, err = s.Wait(ctx, panicID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.Error, "boom")
}

func TestTaskTimeout(t *testing.T) {
	s := New(Config{Workers: 1, TaskTimeout: 20 * time.Millisecond})
	id, err := s.Submit(context.Background(), &fakeTask{kind: "snapshot", target: "a", run: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}})
	require.NoError(t, err)

	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.Error, "deadline")
}

func TestSubmitterCancellationDoesNotCancelTask(t *testing.T) {
	s := New(Config{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	id, err := s.Submit(ctx, &fakeTask{kind: "snapshot", target: "a", run: func(ctx context.Context) (string, error) {
		time.Sleep(10 * time.Millisecond)
		return "", ctx.Err()
	}})
	require.NoError(t, err)
	cancel()

	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, status.State)
}

func TestCloseDrainsAndRejects(t *testing.T) {
	s := New(Config{Workers: 1})
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		_, err := s.Submit(context.Background(), &fakeTask{kind: "snapshot", target: "a", run: func(context.Context) (string, error) {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
			return "", nil
		}})
		require.NoError(t, err)
	}

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, int32(3), ran.Load())

	_, err := s.Submit(context.Background(), &fakeTask{kind: "snapshot", target: "a"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseHonoursContext(t *testing.T) {
	s := New(Config{Workers: 1})
	release := make(chan struct{})
	defer close(release)
	_, err := s.Submit(context.Background(), &fakeTask{kind: "snapshot", target: "a", run: func(context.Context) (string, error) {
		<-release
		return "", nil
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)
}

func TestUnknownTask(t *testing.T) {
	s := New(Config{})
	_, err := s.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
	_, err = s.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestList(t *testing.T) {
	s := New(Config{Workers: 1})
	ctx := context.Background()
	first, err := s.Submit(ctx, &fakeTask{kind: "snapshot", target: "a", run: func(context.Context) (string, error) { return "", nil }})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := s.Submit(ctx, &fakeTask{kind: "rollback", target: "a", run: func(context.Context) (string, error) { return "", nil }})
	require.NoError(t, err)
	_, err = s.Wait(ctx, second)
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}
