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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Task Scheduler
// =============================================================================

var (
	// queuedTasks tracks tasks waiting for their target or a worker slot.
	// Labels: kind (snapshot, rollback)
	queuedTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gitrollback",
		Subsystem: "scheduler",
		Name:      "queued_tasks",
		Help:      "Tasks waiting to run",
	}, []string{"kind"})

	// runningTasks tracks tasks currently holding a worker slot.
	runningTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gitrollback",
		Subsystem: "scheduler",
		Name:      "running_tasks",
		Help:      "Tasks currently running",
	})

	// tasksTotal counts finished tasks.
	// Labels: kind, result (succeeded, failed)
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gitrollback",
		Subsystem: "scheduler",
		Name:      "tasks_total",
		Help:      "Finished tasks by kind and result",
	}, []string{"kind", "result"})

	// taskDuration measures wall time of task execution.
	// Labels: kind
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gitrollback",
		Subsystem: "scheduler",
		Name:      "task_duration_seconds",
		Help:      "Task execution time in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"kind"})
)
