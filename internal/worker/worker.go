// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package worker implements the long-running process (C9) that claims
// entries from the job queue and hands them to the orchestrator for
// execution, grounded on the original implementation's Worker
// (buildit-scheduler/src/worker.rs) — whose claim loop this completes: the
// original leaves job execution as a TODO and simply marks every claimed
// job complete, whereas this worker actually builds a JobSpec for the
// claimed stage and drives it through an Executor.
package worker

import (
	"context"
	"time"

	"github.com/buildit-ci/buildit/internal/id"
	"github.com/buildit-ci/buildit/internal/logger"
	"github.com/buildit-ci/buildit/internal/pipeline"
	"github.com/buildit-ci/buildit/internal/queue"
	"github.com/buildit-ci/buildit/internal/variables"
)

const (
	emptyQueuePollInterval = 1 * time.Second
	queueErrorPollInterval = 5 * time.Second
)

// queueClient is the subset of *queue.Queue the worker's claim loop drives.
type queueClient interface {
	Claim(ctx context.Context, workerID string) (*queue.Entry, error)
	Complete(ctx context.Context, entryID id.ID) error
	Fail(ctx context.Context, entryID id.ID, message string) error
}

// runStore is the subset of *store.Store the worker needs to resolve a
// claimed entry's run context and persist its outcome.
type runStore interface {
	RunByID(ctx context.Context, runID id.ID) (pipeline.Run, error)
	UpsertStageResult(ctx context.Context, r pipeline.StageResult) error
}

// PipelineProvider resolves a pipeline's parsed configuration by name, so
// the worker can find the Stage definition a claimed entry refers to.
type PipelineProvider interface {
	Pipeline(ctx context.Context, name string) (pipeline.Pipeline, error)
}

// stageRunner is the subset of *orchestrator.Orchestrator the worker drives
// a single claimed stage through.
type stageRunner interface {
	RunStage(ctx context.Context, stage pipeline.Stage, vars variables.Context) (pipeline.StageStatus, string, error)
}

// Worker repeatedly claims queue entries and dispatches each to the
// orchestrator. Its identity need not be stable across restarts.
type Worker struct {
	id        string
	queue     queueClient
	store     runStore
	pipelines PipelineProvider
	runner    stageRunner
	log       logger.Logger

	heartbeat *queue.HeartbeatPublisher
}

// New builds a Worker. id should be unique within the deployment (a
// hostname+pid combination is typical); it is used as the queue claimant
// and the heartbeat key.
func New(id string, q queueClient, s runStore, pipelines PipelineProvider, runner stageRunner, log logger.Logger) *Worker {
	if log == nil {
		log = logger.Default
	}
	return &Worker{id: id, queue: q, store: s, pipelines: pipelines, runner: runner, log: log}
}

// WithHeartbeat attaches a Redis heartbeat publisher, started alongside the
// claim loop by Run. Without one, the worker still functions but crash
// recovery's orphaned-claim sweep will never consider it live.
func (w *Worker) WithHeartbeat(h *queue.HeartbeatPublisher) *Worker {
	w.heartbeat = h
	return w
}

// Run blocks, claiming and dispatching queue entries until ctx is
// cancelled. Between empty claims it sleeps emptyQueuePollInterval;
// on a claim error it sleeps the longer queueErrorPollInterval, per the
// original worker's backoff policy.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Infof("worker %s starting", w.id)

	if w.heartbeat != nil {
		go func() {
			if err := w.heartbeat.Run(ctx); err != nil {
				w.log.Warnf("worker %s: heartbeat stopped: %v", w.id, err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Infof("worker %s stopping", w.id)
			return nil
		default:
		}

		entry, err := w.queue.Claim(ctx, w.id)
		if err != nil {
			w.log.Warnf("worker %s: claim failed: %v", w.id, err)
			if !sleepCtx(ctx, queueErrorPollInterval) {
				return nil
			}
			continue
		}
		if entry == nil {
			if !sleepCtx(ctx, emptyQueuePollInterval) {
				return nil
			}
			continue
		}

		w.log.Infof("worker %s: claimed job %s stage %q", w.id, entry.ID, entry.StageName)
		w.dispatch(ctx, entry)
	}
}

// dispatch resolves a claimed entry's run and stage definition, drives it
// through the orchestrator, and persists the outcome. Errors resolving the
// entry (unknown run, unknown stage, unparseable pipeline) fail the queue
// entry rather than crashing the worker loop — a single bad entry must not
// take the whole worker down.
func (w *Worker) dispatch(ctx context.Context, entry *queue.Entry) {
	run, err := w.store.RunByID(ctx, entry.PipelineRunID)
	if err != nil {
		w.failEntry(ctx, entry, "loading run: "+err.Error())
		return
	}

	p, err := w.pipelines.Pipeline(ctx, run.PipelineName)
	if err != nil {
		w.failEntry(ctx, entry, "loading pipeline: "+err.Error())
		return
	}

	stage, ok := p.StageByName(entry.StageName)
	if !ok {
		w.failEntry(ctx, entry, "unknown stage: "+entry.StageName)
		return
	}

	vars := variables.FromRun(p, run).WithStage(stage.Name)
	now := time.Now()
	status, message, err := w.runner.RunStage(ctx, stage, vars)
	ended := time.Now()

	result := pipeline.StageResult{
		RunID:     run.ID,
		StageName: stage.Name,
		Status:    status,
		JobID:     entry.ID.String(),
		Message:   message,
		StartedAt: &now,
		EndedAt:   &ended,
	}
	if persistErr := w.store.UpsertStageResult(ctx, result); persistErr != nil {
		w.log.Errorf("worker %s: persisting stage result for %s/%s: %v", w.id, run.ID, stage.Name, persistErr)
	}

	if err != nil {
		if failErr := w.queue.Fail(ctx, entry.ID, message); failErr != nil {
			w.log.Errorf("worker %s: marking job %s failed: %v", w.id, entry.ID, failErr)
		}
		return
	}
	if completeErr := w.queue.Complete(ctx, entry.ID); completeErr != nil {
		w.log.Errorf("worker %s: marking job %s complete: %v", w.id, entry.ID, completeErr)
	}
}

func (w *Worker) failEntry(ctx context.Context, entry *queue.Entry, message string) {
	w.log.Warnf("worker %s: job %s: %s", w.id, entry.ID, message)
	if err := w.queue.Fail(ctx, entry.ID, message); err != nil {
		w.log.Errorf("worker %s: marking job %s failed: %v", w.id, entry.ID, err)
	}
}

// sleepCtx waits for d or ctx cancellation, whichever comes first. It
// returns false when ctx was the reason it woke up.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
