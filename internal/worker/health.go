// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package worker

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Health is a point-in-time resource snapshot of the worker's host. The
// worker does not publish it; its Redis heartbeat carries only a timestamp.
type Health struct {
	WorkerID       string
	CPUPercent     float64
	MemUsedPercent float64
}

// Health samples current CPU and memory utilization. A sampling failure on
// either metric degrades gracefully to 0 rather than failing the whole
// snapshot — a worker reporting partial health is more useful than one
// reporting none.
func (w *Worker) Health(ctx context.Context) Health {
	h := Health{WorkerID: w.id}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		h.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemUsedPercent = vm.UsedPercent
	}
	return h
}
