// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package pipeline defines the pipeline configuration model and the parser
// that turns a KDL document into it, plus the validation (DAG cycle
// detection, unknown-dependency detection) that must pass before a pipeline
// is accepted.
package pipeline

import "time"

// Pipeline is the parsed, validated form of a pipeline configuration file.
type Pipeline struct {
	Name     string
	Triggers []Trigger
	Stages   []Stage
	Cache    *CacheConfig
	Env      map[string]string
}

// TriggerKind discriminates the Trigger variants.
type TriggerKind int

const (
	TriggerPush TriggerKind = iota
	TriggerPullRequest
	TriggerTag
	TriggerSchedule
	TriggerManual
	// TriggerRetry is a supplemental variant (not present in spec.md's
	// trigger list) carried over from the original implementation: a run
	// created by `buildit retry <run-id>` records which run it is retrying.
	TriggerRetry
)

// Trigger describes one `on <kind> { ... }` block. Only the fields relevant
// to Kind are populated.
type Trigger struct {
	Kind TriggerKind

	// Push / PullRequest
	Branches []string
	Paths    []string

	// Tag
	Pattern string

	// Schedule
	Cron string

	// Retry
	OriginalRunID string
}

// StageActionKind discriminates the StageAction variants. Only Run is fully
// implemented by the orchestrator. The parser produces only ActionRun; a
// stage carrying any other kind is rejected as a typed engineerr.Error at
// execution time.
type StageActionKind int

const (
	ActionRun StageActionKind = iota
	ActionImageBuild
	ActionDeploy
	ActionParallel
	ActionMatrix
)

// Stage is one node of the pipeline DAG.
type Stage struct {
	Name    string
	Image   string
	Needs   []string
	Manual  bool
	When    string // gojq filter; empty means "always run"
	Action  StageActionKind
	Run     []string // shell commands, joined with && at execution time
	Artifacts []string // glob patterns collected after a successful run
	Env     map[string]string
	Cache   *CacheConfig
}

// CacheConfig describes a cache directory keyed for restore/save around a
// stage. A top-level cache block is parsed into Pipeline.Cache, but the
// orchestrator restores and saves only stage-level caches.
type CacheConfig struct {
	Path        string
	Key         string
	RestoreKeys []string
}

// PipelineStatus mirrors the run-level status vocabulary from spec.md §6.
type PipelineStatus int

const (
	PipelineStatusQueued PipelineStatus = iota
	PipelineStatusRunning
	// PipelineStatusWaitingApproval marks a run blocked on a `manual: true`
	// stage awaiting an operator to resume it through the control surface's
	// approval callback. It is not terminal; the run resumes to Running (or
	// moves straight to Failed/Cancelled if the gate is rejected) once
	// ApprovalGate.Wait returns.
	PipelineStatusWaitingApproval
	PipelineStatusSucceeded
	PipelineStatusFailed
	PipelineStatusCancelled
)

func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case PipelineStatusSucceeded, PipelineStatusFailed, PipelineStatusCancelled:
		return true
	default:
		return false
	}
}

func (s PipelineStatus) String() string {
	switch s {
	case PipelineStatusQueued:
		return "queued"
	case PipelineStatusRunning:
		return "running"
	case PipelineStatusWaitingApproval:
		return "waiting_approval"
	case PipelineStatusSucceeded:
		return "succeeded"
	case PipelineStatusFailed:
		return "failed"
	case PipelineStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// GitInfo is the resolved git context for a run, populated by
// internal/variables from either the triggering event or a local clone.
type GitInfo struct {
	SHA        string
	ShortSHA   string
	Branch     string
	Tag        string
	RefName    string
	Message    string
	Author     string
	AuthorEmail string
}

// TriggerInfo records what started a run.
type TriggerInfo struct {
	Kind          TriggerKind
	OriginalRunID string
}

// Run is one execution of a Pipeline.
type Run struct {
	ID          string
	PipelineName string
	RunNumber   int64
	Status      PipelineStatus
	Trigger     TriggerInfo
	Git         GitInfo
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// StageStatus mirrors the per-stage status vocabulary.
type StageStatus int

const (
	StageStatusPending StageStatus = iota
	StageStatusRunning
	StageStatusSucceeded
	StageStatusFailed
	StageStatusSkipped
	// StageStatusWaitingApproval marks a `manual: true` stage that has
	// reached the front of the DAG walk and is blocked on an operator
	// resuming it through the control surface's approval callback.
	StageStatusWaitingApproval
)

func (s StageStatus) String() string {
	switch s {
	case StageStatusPending:
		return "pending"
	case StageStatusRunning:
		return "running"
	case StageStatusSucceeded:
		return "succeeded"
	case StageStatusFailed:
		return "failed"
	case StageStatusSkipped:
		return "skipped"
	case StageStatusWaitingApproval:
		return "waiting_approval"
	default:
		return "unknown"
	}
}

// StageResult is the persisted outcome of one stage within one run.
type StageResult struct {
	RunID     string
	StageName string
	Status    StageStatus
	JobID     string
	Message   string
	StartedAt *time.Time
	EndedAt   *time.Time
}

// StageByName returns the Stage with the given name, if present.
func (p Pipeline) StageByName(name string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}
