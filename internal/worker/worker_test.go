// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildit-ci/buildit/internal/id"
	"github.com/buildit-ci/buildit/internal/pipeline"
	"github.com/buildit-ci/buildit/internal/queue"
	"github.com/buildit-ci/buildit/internal/variables"
)

var (
	errNotFound    = errors.New("not found")
	errStageFailed = errors.New("stage failed")
)

type fakeQueue struct {
	mu       sync.Mutex
	entries  []*queue.Entry
	claimErr error
	done     map[string]string // entry id -> "complete" or "fail:<message>"
}

func newFakeQueue(entries ...*queue.Entry) *fakeQueue {
	return &fakeQueue{entries: entries, done: map[string]string{}}
}

func (f *fakeQueue) Claim(ctx context.Context, workerID string) (*queue.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.entries) == 0 {
		return nil, nil
	}
	e := f.entries[0]
	f.entries = f.entries[1:]
	return e, nil
}

func (f *fakeQueue) Complete(ctx context.Context, entryID id.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[entryID.String()] = "complete"
	return nil
}

func (f *fakeQueue) Fail(ctx context.Context, entryID id.ID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[entryID.String()] = "fail:" + message
	return nil
}

func (f *fakeQueue) outcome(entryID id.ID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.done[entryID.String()]
	return v, ok
}

type fakeStore struct {
	mu      sync.Mutex
	runs    map[string]pipeline.Run
	results []pipeline.StageResult
}

func (f *fakeStore) RunByID(ctx context.Context, runID id.ID) (pipeline.Run, error) {
	run, ok := f.runs[runID.String()]
	if !ok {
		return pipeline.Run{}, errNotFound
	}
	return run, nil
}

func (f *fakeStore) UpsertStageResult(ctx context.Context, r pipeline.StageResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

type fakePipelines struct {
	byName map[string]pipeline.Pipeline
}

func (f *fakePipelines) Pipeline(ctx context.Context, name string) (pipeline.Pipeline, error) {
	p, ok := f.byName[name]
	if !ok {
		return pipeline.Pipeline{}, errNotFound
	}
	return p, nil
}

type fakeRunner struct {
	status  pipeline.StageStatus
	message string
	err     error
	calls   int
}

func (f *fakeRunner) RunStage(ctx context.Context, stage pipeline.Stage, vars variables.Context) (pipeline.StageStatus, string, error) {
	f.calls++
	return f.status, f.message, f.err
}

func TestWorker_DispatchesClaimedEntry(t *testing.T) {
	runID := id.New()
	entryID := id.New()
	run := pipeline.Run{ID: runID.String(), PipelineName: "example", RunNumber: 1}
	p := pipeline.Pipeline{
		Name:   "example",
		Stages: []pipeline.Stage{{Name: "build", Image: "golang:1.23", Action: pipeline.ActionRun, Run: []string{"go build ./..."}}},
	}

	q := newFakeQueue(&queue.Entry{ID: entryID, PipelineRunID: runID, StageName: "build"})
	st := &fakeStore{runs: map[string]pipeline.Run{runID.String(): run}}
	pipelines := &fakePipelines{byName: map[string]pipeline.Pipeline{"example": p}}
	runner := &fakeRunner{status: pipeline.StageStatusSucceeded}

	w := New("test-worker", q, st, pipelines, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		_, ok := q.outcome(entryID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	outcome, _ := q.outcome(entryID)
	require.Equal(t, "complete", outcome)
	require.Equal(t, 1, runner.calls)

	cancel()
	wg.Wait()
}

func TestWorker_FailedStageMarksQueueEntryFailed(t *testing.T) {
	runID := id.New()
	entryID := id.New()
	run := pipeline.Run{ID: runID.String(), PipelineName: "example", RunNumber: 1}
	p := pipeline.Pipeline{
		Name:   "example",
		Stages: []pipeline.Stage{{Name: "build", Image: "golang:1.23", Action: pipeline.ActionRun, Run: []string{"go build ./..."}}},
	}

	q := newFakeQueue(&queue.Entry{ID: entryID, PipelineRunID: runID, StageName: "build"})
	st := &fakeStore{runs: map[string]pipeline.Run{runID.String(): run}}
	pipelines := &fakePipelines{byName: map[string]pipeline.Pipeline{"example": p}}
	runner := &fakeRunner{status: pipeline.StageStatusFailed, message: "exit code 1", err: errStageFailed}

	w := New("test-worker", q, st, pipelines, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		_, ok := q.outcome(entryID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	outcome, _ := q.outcome(entryID)
	require.Equal(t, "fail:exit code 1", outcome)

	cancel()
	wg.Wait()
}

func TestWorker_UnknownStageFailsEntryWithoutCrashing(t *testing.T) {
	runID := id.New()
	entryID := id.New()
	run := pipeline.Run{ID: runID.String(), PipelineName: "example", RunNumber: 1}
	p := pipeline.Pipeline{Name: "example", Stages: []pipeline.Stage{{Name: "build", Image: "golang:1.23"}}}

	q := newFakeQueue(&queue.Entry{ID: entryID, PipelineRunID: runID, StageName: "does-not-exist"})
	st := &fakeStore{runs: map[string]pipeline.Run{runID.String(): run}}
	pipelines := &fakePipelines{byName: map[string]pipeline.Pipeline{"example": p}}
	runner := &fakeRunner{}

	w := New("test-worker", q, st, pipelines, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		_, ok := q.outcome(entryID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	outcome, _ := q.outcome(entryID)
	require.Contains(t, outcome, "fail:unknown stage")
	require.Equal(t, 0, runner.calls)

	cancel()
	wg.Wait()
}
