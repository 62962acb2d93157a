// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes snapshot, rollback and task queries over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/engine"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/gitcli"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/preview"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/rollback"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/scheduler"
	"github.com/jasonw4331/GitRollbacks/services/snapshot/selector"
)

// Service is the engine surface the handlers use. *engine.Engine
// satisfies it.
type Service interface {
	Resolve(kind engine.Kind, name string) (engine.Target, error)
	IsDefaultWorld(t engine.Target) bool
	OnResourceSave(ctx context.Context, t engine.Target, at time.Time) (string, error)
	SnapshotAll(ctx context.Context, at time.Time) ([]string, error)
	Rollback(ctx context.Context, t engine.Target, sel selector.Selector, force bool, res rollback.Resource) (string, error)
	Status(ctx context.Context, id string) (scheduler.Status, error)
	Tasks(ctx context.Context) ([]scheduler.Status, error)
	Log(ctx context.Context, t engine.Target, n int) ([]gitcli.CommitData, error)
	Preview(ctx context.Context, t engine.Target, sel selector.Selector) (preview.Summary, error)
}

var validate = validator.New()

// Handlers holds the HTTP handlers.
type Handlers struct {
	svc    Service
	logger *slog.Logger
	now    func() time.Time
}

// NewHandlers creates handlers for svc.
func NewHandlers(svc Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger, now: time.Now}
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleSnapshot handles POST /v1/snapshots.
//
// Description:
//
//	Snapshots one target, or every world when All is set. Saves of a
//	single target return once the snapshot task is queued or finished,
//	depending on the engine's async_saves setting.
//
// Response:
//
//	202 Accepted: TaskResponse
//	400 Bad Request: Validation error
//	404 Not Found: Unknown target
func (h *Handlers) HandleSnapshot(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleSnapshot")

	var req SnapshotRequest
	if !h.bind(c, logger, &req) {
		return
	}

	ctx := c.Request.Context()
	at := h.now()

	if req.All {
		ids, err := h.svc.SnapshotAll(ctx, at)
		if err != nil {
			h.fail(c, logger, err)
			return
		}
		c.JSON(http.StatusAccepted, TaskResponse{TaskIDs: ids})
		return
	}

	target, ok := h.target(c, logger, req.Kind, req.Name)
	if !ok {
		return
	}
	id, err := h.svc.OnResourceSave(ctx, target, at)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	logger.Info("snapshot requested", "target", target.String(), "task_id", id)
	c.JSON(http.StatusAccepted, TaskResponse{TaskID: id})
}

// HandleRollback handles POST /v1/rollbacks.
//
// Description:
//
//	Queues a rollback. The default world additionally requires Confirm.
//
// Response:
//
//	202 Accepted: TaskResponse
//	400 Bad Request: Validation error or malformed selector
//	404 Not Found: Unknown target or no history
//	409 Conflict: Confirmation required
func (h *Handlers) HandleRollback(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleRollback")

	var req RollbackRequest
	if !h.bind(c, logger, &req) {
		return
	}
	target, ok := h.target(c, logger, req.Kind, req.Name)
	if !ok {
		return
	}
	sel, err := selector.Parse(req.Selector, h.now)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	if h.svc.IsDefaultWorld(target) && !req.Confirm {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "rolling back the default world requires confirm=true",
			Code:  "CONFIRMATION_REQUIRED",
		})
		return
	}

	id, err := h.svc.Rollback(c.Request.Context(), target, sel, req.Force, nil)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	logger.Info("rollback queued",
		"target", target.String(),
		"selector", sel.String(),
		"force", req.Force,
		"task_id", id)
	c.JSON(http.StatusAccepted, TaskResponse{TaskID: id})
}

// HandleGetTask handles GET /v1/tasks/:id.
func (h *Handlers) HandleGetTask(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleGetTask")
	status, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleListTasks handles GET /v1/tasks.
func (h *Handlers) HandleListTasks(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleListTasks")
	tasks, err := h.svc.Tasks(c.Request.Context())
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	if tasks == nil {
		tasks = []scheduler.Status{}
	}
	c.JSON(http.StatusOK, TaskListResponse{Tasks: tasks})
}

// HandleListSnapshots handles GET /v1/targets/:kind/:name/snapshots.
//
// Query Parameters:
//
//	limit - Maximum snapshots to return (default 20, max 1000)
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleListSnapshots")
	target, ok := h.target(c, logger, c.Param("kind"), c.Param("name"))
	if !ok {
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be between 1 and 1000",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		limit = n
	}

	commits, err := h.svc.Log(c.Request.Context(), target, limit)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	if commits == nil {
		commits = []gitcli.CommitData{}
	}
	c.JSON(http.StatusOK, SnapshotListResponse{Target: target.String(), Snapshots: commits})
}

// HandlePreview handles GET /v1/targets/:kind/:name/preview?selector=...
func (h *Handlers) HandlePreview(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandlePreview")
	target, ok := h.target(c, logger, c.Param("kind"), c.Param("name"))
	if !ok {
		return
	}
	sel, err := selector.Parse(c.Query("selector"), h.now)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	summary, err := h.svc.Preview(c.Request.Context(), target, sel)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, PreviewResponse{Target: target.String(), Selector: sel.String(), Summary: summary})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handlers) bind(c *gin.Context, logger *slog.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return false
	}
	if err := validate.Struct(req); err != nil {
		logger.Warn("Request failed validation", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Request failed validation",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return false
	}
	return true
}

func (h *Handlers) target(c *gin.Context, logger *slog.Logger, kind, name string) (engine.Target, bool) {
	k, err := engine.ParseKind(kind)
	if err == nil {
		var t engine.Target
		if t, err = h.svc.Resolve(k, name); err == nil {
			return t, true
		}
	}
	h.fail(c, logger, err)
	return engine.Target{}, false
}

// fail maps err to a status code and error code.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, engine.ErrUnknownTarget):
		status, code = http.StatusNotFound, "UNKNOWN_TARGET"
	case errors.Is(err, engine.ErrNoHistory):
		status, code = http.StatusNotFound, "NO_HISTORY"
	case errors.Is(err, rollback.ErrNoSuchRevision):
		status, code = http.StatusNotFound, "NO_SUCH_REVISION"
	case errors.Is(err, selector.ErrInvalidSelector):
		status, code = http.StatusBadRequest, "INVALID_SELECTOR"
	case errors.Is(err, scheduler.ErrUnknownTask):
		status, code = http.StatusNotFound, "TASK_NOT_FOUND"
	case errors.Is(err, scheduler.ErrClosed):
		status, code = http.StatusServiceUnavailable, "SHUTTING_DOWN"
	}
	if status >= 500 {
		logger.Error("Request failed", "error", err)
	} else {
		logger.Warn("Request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
