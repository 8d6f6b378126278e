// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the admin endpoints under rg.
//
// Endpoints:
//
//	GET    /v1/patchcache/health - Liveness
//	GET    /v1/patchcache/stats - Cache and worker pool statistics
//	DELETE /v1/patchcache/caches/:name - Drop one cache's memory tier
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	pc := rg.Group("/patchcache")
	pc.GET("/health", h.HandleHealth)
	pc.GET("/stats", h.HandleStats)
	pc.DELETE("/caches/:name", h.HandleClearCache)
}

// NewRouter builds the admin engine: recovery, the given middleware,
// /metrics served by metrics when non-nil, and the /v1 routes.
func NewRouter(h *Handlers, metrics http.Handler, middleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware...)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	RegisterRoutes(router.Group("/v1"), h)
	return router
}
