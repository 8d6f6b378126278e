// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("patchcache.loader")

var (
	// loadDuration tracks patch list computation time.
	// Labels: outcome (ok, too_large, not_available, timeout, error)
	loadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "patchcache",
		Subsystem: "loader",
		Name:      "load_duration_seconds",
		Help:      "Time to compute a patch list",
		Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	// headerTimeouts counts file diffs recomputed after a timeout.
	headerTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patchcache",
		Subsystem: "loader",
		Name:      "header_timeouts_total",
		Help:      "File diffs retried without fallback after a timeout",
	})

	// filesDiffed counts file entries produced.
	filesDiffed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchcache",
		Subsystem: "loader",
		Name:      "files_total",
		Help:      "File entries computed by patch type",
	}, []string{"patch_type"})
)

func recordLoad(start time.Time, outcome string) {
	loadDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
