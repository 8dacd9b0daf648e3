// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics exposes a Prometheus collector over the job queue and
// run store, plus push-based metrics (StageDuration, DroppedLogLines); of
// these, the orchestrator updates DroppedLogLines as it executes stages.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/buildit-ci/buildit/internal/pipeline"
)

// QueueDepth is the subset of queue.Queue the collector pulls from.
type QueueDepth interface {
	Depth(ctx context.Context) (int64, error)
}

// RunStatusCounter is the subset of store.Store the collector pulls from.
type RunStatusCounter interface {
	RunStatusCounts(ctx context.Context) (map[pipeline.PipelineStatus]int64, error)
}

// Collector is a pull-based prometheus.Collector reporting queue depth and
// run counts by status. Register it alongside the push-based metrics below
// via NewRegistry.
type Collector struct {
	version   string
	queue     QueueDepth
	runs      RunStatusCounter
	startedAt time.Time

	info       *prometheus.Desc
	uptime     *prometheus.Desc
	queueDepth *prometheus.Desc
	runsTotal  *prometheus.Desc
}

// NewCollector builds a Collector. queue and runs may each be nil, in which
// case the metrics they back are simply not emitted on Collect.
func NewCollector(version string, queue QueueDepth, runs RunStatusCounter) *Collector {
	return &Collector{
		version:   version,
		queue:     queue,
		runs:      runs,
		startedAt: time.Now(),

		info:       prometheus.NewDesc("buildit_info", "Build metadata, always 1.", []string{"version"}, nil),
		uptime:     prometheus.NewDesc("buildit_uptime_seconds", "Seconds since this process started.", nil, nil),
		queueDepth: prometheus.NewDesc("buildit_queue_depth", "Pending entries in the job queue.", nil, nil),
		runsTotal:  prometheus.NewDesc("buildit_runs_total", "Current pipeline runs by status.", []string{"status"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.info
	ch <- c.uptime
	ch <- c.queueDepth
	ch <- c.runsTotal
}

// Collect implements prometheus.Collector. It never returns partial
// metrics as an error: a failed pull from the queue or store silently
// omits the metric it backs, so one backend outage doesn't blank the whole
// /metrics page.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1, c.version)
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, time.Since(c.startedAt).Seconds())

	if c.queue != nil {
		if depth, err := c.queue.Depth(context.Background()); err == nil {
			ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depth))
		}
	}

	if c.runs != nil {
		if counts, err := c.runs.RunStatusCounts(context.Background()); err == nil {
			for status, n := range counts {
				ch <- prometheus.MustNewConstMetric(c.runsTotal, prometheus.GaugeValue, float64(n), status.String())
			}
		}
	}
}

// NewRegistry builds a registry carrying collector, the push-based metrics
// in this package, and the standard Go/process collectors.
func NewRegistry(collector *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)
	reg.MustRegister(StageDuration, DroppedLogLines)
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return reg
}
