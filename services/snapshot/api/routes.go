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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /v1 endpoints on rg.
//
// Endpoints:
//
//	GET  /v1/health
//	POST /v1/snapshots
//	POST /v1/rollbacks
//	GET  /v1/tasks
//	GET  /v1/tasks/:id
//	GET  /v1/targets/:kind/:name/snapshots
//	GET  /v1/targets/:kind/:name/preview
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/health", h.HandleHealth)
	rg.POST("/snapshots", h.HandleSnapshot)
	rg.POST("/rollbacks", h.HandleRollback)
	rg.GET("/tasks", h.HandleListTasks)
	rg.GET("/tasks/:id", h.HandleGetTask)
	rg.GET("/targets/:kind/:name/snapshots", h.HandleListSnapshots)
	rg.GET("/targets/:kind/:name/preview", h.HandlePreview)
}

// NewRouter builds the service router with tracing middleware and, when
// metrics is non-nil, a /metrics endpoint.
func NewRouter(h *Handlers, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("gitrollback"))
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	RegisterRoutes(router.Group("/v1"), h)
	return router
}
