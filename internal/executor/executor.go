// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package executor defines the capability contract every job-execution
// backend (local Docker, cluster Kubernetes) implements. It is a contract,
// not a class hierarchy: callers depend on the Executor interface, never on
// a concrete backend type.
package executor

import (
	"context"
	"io"
	"time"

	"github.com/buildit-ci/buildit/internal/id"
)

// GitCloneSpec describes how a job's workspace should be populated before
// its commands run.
type GitCloneSpec struct {
	RepoURL string
	Ref     string
	Depth   int
}

// ResourceRequirements bounds CPU/memory for a job. Units follow Kubernetes
// quantity conventions ("500m", "256Mi") since that's the lowest common
// denominator between the local and cluster executors.
type ResourceRequirements struct {
	CPURequest    string
	CPULimit      string
	MemoryRequest string
	MemoryLimit   string
}

// VolumeMount attaches a named volume (e.g. a restored cache) into a job's
// container at Path.
type VolumeMount struct {
	Name string
	Path string
}

// JobSpec is everything an Executor needs to run one stage's work.
type JobSpec struct {
	ID         id.ID
	Image      string
	Command    []string
	Env        map[string]string
	WorkingDir string
	Git        *GitCloneSpec
	Resources  ResourceRequirements
	Volumes    []VolumeMount
}

// JobHandle identifies a spawned job to the executor that spawned it.
type JobHandle struct {
	ID           id.ID
	ExecutorID   string // container ID, k8s Job UID, ...
	ExecutorName string // "docker", "kubernetes"
}

// JobStatusKind is the lifecycle state of a spawned job.
type JobStatusKind int

const (
	JobPending JobStatusKind = iota
	JobRunning
	JobSucceeded
	JobFailed
	JobCancelled
)

// IsTerminal reports whether no further transitions are expected.
func (k JobStatusKind) IsTerminal() bool {
	switch k {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

func (k JobStatusKind) String() string {
	switch k {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// JobStatus is a point-in-time status snapshot.
type JobStatus struct {
	Kind      JobStatusKind
	StartedAt *time.Time
	ExitCode  *int
	Message   string
}

// JobResult is the outcome once a job reaches a terminal state.
type JobResult struct {
	Status   JobStatus
	Artifacts []ArtifactRef
}

// ArtifactRef points at a collected artifact's storage location.
type ArtifactRef struct {
	Name string
	URI  string
	Size int64
}

// LogStream discriminates which stream a LogLine came from. The cluster
// executor can only ever produce LogStreamStdout (see spec.md's Design
// Notes on the cluster log stream's stdout/stderr distinction loss).
type LogStream int

const (
	LogStreamStdout LogStream = iota
	LogStreamStderr
)

// LogLine is one line of job output.
type LogLine struct {
	Stream    LogStream
	Content   string
	Timestamp time.Time
}

// TerminalSession is returned by ExecInteractive for callers that need a
// live shell into a running job (debugging a stuck stage).
type TerminalSession struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader
	Resize func(rows, cols uint16) error
	Close  func() error
}

// Executor is the capability set a job execution backend provides. Every
// method takes a context so the caller can bound how long it waits without
// the executor needing its own timeout policy.
type Executor interface {
	// Name identifies the backend ("docker", "kubernetes") for logging and
	// for JobHandle.ExecutorName.
	Name() string

	// CanExecute reports whether the backend is currently reachable
	// (daemon socket present, API server responds).
	CanExecute(ctx context.Context) bool

	// Spawn starts spec running and returns as soon as the backend has
	// accepted it; it does not wait for completion.
	Spawn(ctx context.Context, spec JobSpec) (JobHandle, error)

	// Logs streams job output until the job reaches a terminal state or ctx
	// is cancelled. The returned channel is closed when streaming ends.
	Logs(ctx context.Context, handle JobHandle) (<-chan LogLine, error)

	// Status returns a point-in-time snapshot.
	Status(ctx context.Context, handle JobHandle) (JobStatus, error)

	// Wait blocks until the job reaches a terminal state and returns its
	// final status.
	Wait(ctx context.Context, handle JobHandle) (JobStatus, error)

	// Cancel requests termination of a running job. Calling Cancel on an
	// already-terminal job is a no-op, not an error.
	Cancel(ctx context.Context, handle JobHandle) error

	// ExecInteractive opens an interactive session into a running job.
	ExecInteractive(ctx context.Context, handle JobHandle, command []string) (*TerminalSession, error)
}
