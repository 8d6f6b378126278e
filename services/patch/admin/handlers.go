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
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/patchcache/services/patch"
	"github.com/gin-gonic/gin"
)

// Source is the part of a patch.Service the handlers use.
type Source interface {
	Stats() patch.Stats
	ClearCache(name string) error
}

// Handlers serves the admin endpoints.
type Handlers struct {
	src    Source
	logger *slog.Logger
}

// NewHandlers creates handlers over src. A nil logger means slog.Default().
func NewHandlers(src Source, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{src: src, logger: logger}
}

// HandleHealth handles GET /v1/patchcache/health.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleStats handles GET /v1/patchcache/stats.
//
// Response:
//
//	200 OK: StatsResponse
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, toStatsResponse(h.src.Stats()))
}

// HandleClearCache handles DELETE /v1/patchcache/caches/:name.
//
// Description:
//
//	Drops the in-memory entries of one cache. Persisted entries survive
//	and refill the cache on the next miss.
//
// Response:
//
//	204 No Content: The cache was cleared.
//	404 Not Found: ErrorResponse - No cache has that name.
func (h *Handlers) HandleClearCache(c *gin.Context) {
	name := c.Param("name")
	if err := h.src.ClearCache(name); err != nil {
		if errors.Is(err, patch.ErrUnknownCache) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("clear cache failed", "cache", name, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
