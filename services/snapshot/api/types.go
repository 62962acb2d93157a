// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/jasonw4331/GitRollbacks/services/snapshot/gitcli"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/preview"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/scheduler"
)

// ServiceVersion is reported by the health endpoint.
var ServiceVersion = "dev"

// SnapshotRequest is the body of POST /v1/snapshots.
type SnapshotRequest struct {
	// Kind is "world" or "player". Ignored when All is set.
	Kind string `json:"kind" validate:"required_without=All"`

	// Name is the world or player name. Ignored when All is set.
	Name string `json:"name" validate:"required_without=All"`

	// All snapshots every configured world.
	All bool `json:"all"`
}

// RollbackRequest is the body of POST /v1/rollbacks.
type RollbackRequest struct {
	Kind string `json:"kind" validate:"required,oneof=world player"`
	Name string `json:"name" validate:"required"`

	// Selector is a commit id, "YYYY-MM-DD HH:MM:SS", a generation offset
	// or "latest".
	Selector string `json:"selector" validate:"required"`

	// Force proceeds when the live data is in use.
	Force bool `json:"force"`

	// Confirm must be set to roll back the default world.
	Confirm bool `json:"confirm"`
}

// TaskResponse carries the ids of queued tasks.
type TaskResponse struct {
	TaskID  string   `json:"task_id,omitempty"`
	TaskIDs []string `json:"task_ids,omitempty"`
}

// TaskListResponse lists task statuses.
type TaskListResponse struct {
	Tasks []scheduler.Status `json:"tasks"`
}

// SnapshotListResponse lists a target's snapshots, newest first.
type SnapshotListResponse struct {
	Target    string              `json:"target"`
	Snapshots []gitcli.CommitData `json:"snapshots"`
}

// PreviewResponse describes what a rollback would change.
type PreviewResponse struct {
	Target   string          `json:"target"`
	Selector string          `json:"selector"`
	Summary  preview.Summary `json:"summary"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
