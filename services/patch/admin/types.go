// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package admin exposes the operational HTTP endpoints of a patch cache:
// health, cache statistics and cache clearing.
package admin

import (
	"github.com/AleutianAI/patchcache/services/patch"
	"github.com/AleutianAI/patchcache/services/patch/cache"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// HealthResponse is returned by GET /v1/patchcache/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// CacheStats describes one cache.
type CacheStats struct {
	Name             string  `json:"name"`
	Entries          int     `json:"entries"`
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	HitRate          float64 `json:"hit_rate"`
	StoreHits        int64   `json:"store_hits"`
	Loads            int64   `json:"loads"`
	LoadErrors       int64   `json:"load_errors"`
	RememberedErrors int64   `json:"remembered_errors"`
	Evictions        int64   `json:"evictions"`
	MemoryEvictions  int64   `json:"memory_evictions"`
	WeightBytes      int64   `json:"weight_bytes"`
	MaxMemoryBytes   int64   `json:"max_memory_bytes"`
}

// StatsResponse is returned by GET /v1/patchcache/stats.
type StatsResponse struct {
	Caches         []CacheStats `json:"caches"`
	HeaderTimeouts int64        `json:"header_timeouts"`
	Intraline      PoolStats    `json:"intraline_workers"`
}

// PoolStats describes the intraline worker pool.
type PoolStats struct {
	Created int64 `json:"created"`
	Killed  int64 `json:"killed"`
	Idle    int   `json:"idle"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

func toCacheStats(s cache.Stats) CacheStats {
	return CacheStats{
		Name:             s.Name,
		Entries:          s.EntryCount,
		Hits:             s.Hits,
		Misses:           s.Misses,
		HitRate:          s.HitRate(),
		StoreHits:        s.StoreHits,
		Loads:            s.Loads,
		LoadErrors:       s.LoadErrors,
		RememberedErrors: s.RememberedErrors,
		Evictions:        s.Evictions,
		MemoryEvictions:  s.MemoryEvictions,
		WeightBytes:      s.WeightBytes,
		MaxMemoryBytes:   s.MaxMemoryBytes,
	}
}

func toStatsResponse(s patch.Stats) StatsResponse {
	resp := StatsResponse{
		Caches:         make([]CacheStats, 0, len(s.Caches)),
		HeaderTimeouts: s.HeaderTimeouts,
		Intraline: PoolStats{
			Created: s.IntralineWorkersCreated,
			Killed:  s.IntralineWorkersKilled,
			Idle:    s.IntralineWorkersIdle,
		},
	}
	for _, c := range s.Caches {
		resp.Caches = append(resp.Caches, toCacheStats(c))
	}
	return resp
}
