// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intraline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestDuration measures time spent waiting for a refinement.
	// Labels: status (EDIT_LIST, TIMEOUT, ERROR)
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "patchcache",
		Subsystem: "intraline",
		Name:      "request_duration_seconds",
		Help:      "Intraline refinement wait time in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"status"})

	workersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patchcache",
		Subsystem: "intraline",
		Name:      "workers_created_total",
		Help:      "Total intraline workers started",
	})

	workersKilled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patchcache",
		Subsystem: "intraline",
		Name:      "workers_killed_total",
		Help:      "Total intraline workers killed after a timeout",
	})

	idleWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "patchcache",
		Subsystem: "intraline",
		Name:      "idle_workers",
		Help:      "Intraline workers waiting for a request",
	})
)

func recordRequest(status Status, d time.Duration) {
	requestDuration.WithLabelValues(status.String()).Observe(d.Seconds())
}
