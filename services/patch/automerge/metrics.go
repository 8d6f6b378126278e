// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package automerge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// merges counts auto-merge requests.
// Labels: outcome (cached, clean, conflict, failed, unsupported)
var merges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "patchcache",
	Subsystem: "automerge",
	Name:      "merges_total",
	Help:      "Auto-merge requests by outcome",
}, []string{"outcome"})

func recordMerge(outcome string) {
	merges.WithLabelValues(outcome).Inc()
}
