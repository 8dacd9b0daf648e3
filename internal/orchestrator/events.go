// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package orchestrator implements the pipeline orchestrator (C8): it walks
// a pipeline's stage DAG in topological order, dispatches each stage to an
// Executor, and streams progress as a channel of Events, grounded on the
// original implementation's PipelineOrchestrator
// (buildit-scheduler/src/orchestrator.rs).
package orchestrator

import "github.com/buildit-ci/buildit/internal/pipeline"

// EventKind discriminates Event variants.
type EventKind int

const (
	EventStageStarted EventKind = iota
	EventStageLog
	EventStageCompleted
	EventStageAwaitingApproval
	EventPipelineCompleted
)

// Event is one notification emitted onto a run's event channel.
type Event struct {
	Kind    EventKind
	Stage   string
	Line    string
	Success bool
}

// Result is the final outcome of one orchestrator.Execute call.
type Result struct {
	Success     bool
	StageStates map[string]pipeline.StageStatus
}
