// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StageDuration records wall-clock time spent executing one stage,
// labeled by pipeline and outcome so a single dashboard can separate a
// slow "build" stage from a slow "deploy" stage. It is registered by
// NewRegistry; no component in this repository observes it.
var StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "buildit_stage_duration_seconds",
	Help:    "Time spent running a single stage, from spawn to a terminal job status.",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34m
}, []string{"pipeline", "stage", "outcome"})

// DroppedLogLines counts log lines the orchestrator's per-stage log buffer
// dropped because the run's event consumer fell behind. Non-zero here means a
// stage's live log view is missing output, not that the stage failed.
var DroppedLogLines = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "buildit_dropped_log_lines_total",
	Help: "Log lines dropped because a stage's log consumer fell behind.",
}, []string{"pipeline", "stage"})
