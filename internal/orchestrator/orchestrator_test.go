// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildit-ci/buildit/internal/executor"
	"github.com/buildit-ci/buildit/internal/pipeline"
)

// fakeExecutor is an in-memory Executor whose outcome per image name is
// scripted by the test, grounded on the orchestrator's need to drive stage
// completion without a real Docker or Kubernetes backend.
type fakeExecutor struct {
	mu        sync.Mutex
	outcomes  map[string]executor.JobStatusKind // keyed by image
	spawnCall int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{outcomes: map[string]executor.JobStatusKind{}}
}

func (f *fakeExecutor) Name() string                               { return "fake" }
func (f *fakeExecutor) CanExecute(ctx context.Context) bool         { return true }

func (f *fakeExecutor) Spawn(ctx context.Context, spec executor.JobSpec) (executor.JobHandle, error) {
	f.mu.Lock()
	f.spawnCall++
	f.mu.Unlock()
	return executor.JobHandle{ID: spec.ID, ExecutorName: "fake"}, nil
}

func (f *fakeExecutor) Logs(ctx context.Context, handle executor.JobHandle) (<-chan executor.LogLine, error) {
	ch := make(chan executor.LogLine, 1)
	ch <- executor.LogLine{Content: "hello from " + handle.ID.String()}
	close(ch)
	return ch, nil
}

func (f *fakeExecutor) Status(ctx context.Context, handle executor.JobHandle) (executor.JobStatus, error) {
	return f.Wait(ctx, handle)
}

func (f *fakeExecutor) Wait(ctx context.Context, handle executor.JobHandle) (executor.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kind, ok := f.outcomes[handle.ID.String()]
	if !ok {
		kind = executor.JobSucceeded
	}
	return executor.JobStatus{Kind: kind}, nil
}

func (f *fakeExecutor) Cancel(ctx context.Context, handle executor.JobHandle) error { return nil }

func (f *fakeExecutor) ExecInteractive(ctx context.Context, handle executor.JobHandle, command []string) (*executor.TerminalSession, error) {
	return nil, nil
}

// scriptedExecutor wraps fakeExecutor but resolves outcomes by stage image
// instead of the job ID minted fresh on every Spawn.
type scriptedExecutor struct {
	*fakeExecutor
	byImage map[string]executor.JobStatusKind
}

func newScriptedExecutor(byImage map[string]executor.JobStatusKind) *scriptedExecutor {
	return &scriptedExecutor{fakeExecutor: newFakeExecutor(), byImage: byImage}
}

func (s *scriptedExecutor) Spawn(ctx context.Context, spec executor.JobSpec) (executor.JobHandle, error) {
	s.mu.Lock()
	s.outcomes[spec.ID.String()] = s.byImage[spec.Image]
	s.mu.Unlock()
	return s.fakeExecutor.Spawn(ctx, spec)
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func simplePipeline() pipeline.Pipeline {
	return pipeline.Pipeline{
		Name: "example",
		Stages: []pipeline.Stage{
			{Name: "build", Image: "golang:1.23", Action: pipeline.ActionRun, Run: []string{"go build ./..."}},
			{Name: "test", Image: "golang:1.23", Needs: []string{"build"}, Action: pipeline.ActionRun, Run: []string{"go test ./..."}},
			{Name: "deploy", Image: "alpine", Needs: []string{"test"}, Action: pipeline.ActionRun, Run: []string{"echo deploy"}},
		},
	}
}

func TestExecute_AllStagesSucceed(t *testing.T) {
	exec := newScriptedExecutor(map[string]executor.JobStatusKind{
		"golang:1.23": executor.JobSucceeded,
		"alpine":      executor.JobSucceeded,
	})
	o := New(exec, nil)
	run := pipeline.Run{ID: "run-1", PipelineName: "example", RunNumber: 1}

	events, results := o.Execute(context.Background(), simplePipeline(), run)
	all := drain(t, events)
	res := <-results

	require.True(t, res.Success)
	require.Equal(t, pipeline.StageStatusSucceeded, res.StageStates["build"])
	require.Equal(t, pipeline.StageStatusSucceeded, res.StageStates["test"])
	require.Equal(t, pipeline.StageStatusSucceeded, res.StageStates["deploy"])

	require.Equal(t, EventPipelineCompleted, all[len(all)-1].Kind)
	require.True(t, all[len(all)-1].Success)
}

func TestExecute_DependencyFailureSkipsDownstreamWithEvent(t *testing.T) {
	exec := newScriptedExecutor(map[string]executor.JobStatusKind{
		"golang:1.23": executor.JobFailed,
		"alpine":      executor.JobSucceeded,
	})
	o := New(exec, nil)
	run := pipeline.Run{ID: "run-2", PipelineName: "example", RunNumber: 2}

	events, results := o.Execute(context.Background(), simplePipeline(), run)
	all := drain(t, events)
	res := <-results

	require.False(t, res.Success)
	require.Equal(t, pipeline.StageStatusFailed, res.StageStates["build"])
	require.Equal(t, pipeline.StageStatusSkipped, res.StageStates["test"])
	require.Equal(t, pipeline.StageStatusSkipped, res.StageStates["deploy"])

	// Unlike the original implementation, a dependency-failed skip still
	// gets an explicit StageCompleted{success=false} event.
	var testCompleted, deployCompleted *Event
	for i := range all {
		if all[i].Kind == EventStageCompleted && all[i].Stage == "test" {
			testCompleted = &all[i]
		}
		if all[i].Kind == EventStageCompleted && all[i].Stage == "deploy" {
			deployCompleted = &all[i]
		}
	}
	require.NotNil(t, testCompleted)
	require.False(t, testCompleted.Success)
	require.NotNil(t, deployCompleted)
	require.False(t, deployCompleted.Success)
}

func TestExecute_WhenConditionSkipsStage(t *testing.T) {
	p := pipeline.Pipeline{
		Name: "example",
		Stages: []pipeline.Stage{
			{Name: "build", Image: "golang:1.23", Action: pipeline.ActionRun, Run: []string{"go build ./..."}},
			{Name: "deploy", Image: "alpine", Needs: []string{"build"}, When: `.git.branch == "main"`, Action: pipeline.ActionRun, Run: []string{"echo deploy"}},
		},
	}
	exec := newScriptedExecutor(map[string]executor.JobStatusKind{
		"golang:1.23": executor.JobSucceeded,
	})
	o := New(exec, nil)
	run := pipeline.Run{ID: "run-3", PipelineName: "example", RunNumber: 3, Git: pipeline.GitInfo{Branch: "feature/x"}}

	_, results := o.Execute(context.Background(), p, run)
	res := <-results

	require.True(t, res.Success)
	require.Equal(t, pipeline.StageStatusSkipped, res.StageStates["deploy"])
	require.Equal(t, 1, exec.spawnCall)
}

func TestExecute_UnsupportedActionIsReportedAsFailure(t *testing.T) {
	p := pipeline.Pipeline{
		Name: "example",
		Stages: []pipeline.Stage{
			{Name: "build-image", Image: "docker:24", Action: pipeline.ActionImageBuild},
		},
	}
	exec := newScriptedExecutor(nil)
	o := New(exec, nil)
	run := pipeline.Run{ID: "run-4", PipelineName: "example", RunNumber: 4}

	_, results := o.Execute(context.Background(), p, run)
	res := <-results

	require.False(t, res.Success)
	require.Equal(t, pipeline.StageStatusFailed, res.StageStates["build-image"])
	require.Equal(t, 0, exec.spawnCall)
}

// capturingExecutor records the JobSpec of every Spawn call so tests can
// assert on interpolated fields, in addition to the scripted outcome every
// other fake executor here provides.
type capturingExecutor struct {
	*scriptedExecutor
	specs []executor.JobSpec
}

func (c *capturingExecutor) Spawn(ctx context.Context, spec executor.JobSpec) (executor.JobHandle, error) {
	c.specs = append(c.specs, spec)
	return c.scriptedExecutor.Spawn(ctx, spec)
}

type fakeSecretResolver struct {
	values map[string]string
}

func (f *fakeSecretResolver) Resolve(ctx context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = f.values[n]
	}
	return out, nil
}

func TestExecute_ResolvesSecretsBeforeInterpolating(t *testing.T) {
	p := pipeline.Pipeline{
		Name: "example",
		Stages: []pipeline.Stage{
			{
				Name:   "deploy",
				Image:  "alpine",
				Action: pipeline.ActionRun,
				Run:    []string{"echo deploying"},
				Env:    map[string]string{"TOKEN": "${secrets.DEPLOY_TOKEN}"},
			},
		},
	}
	exec := &capturingExecutor{scriptedExecutor: newScriptedExecutor(map[string]executor.JobStatusKind{
		"alpine": executor.JobSucceeded,
	})}
	resolver := &fakeSecretResolver{values: map[string]string{"DEPLOY_TOKEN": "s3cr3t"}}
	o := New(exec, nil, WithSecrets(resolver))
	run := pipeline.Run{ID: "run-5", PipelineName: "example", RunNumber: 5}

	_, results := o.Execute(context.Background(), p, run)
	res := <-results

	require.True(t, res.Success)
	require.Len(t, exec.specs, 1)
	require.Equal(t, "s3cr3t", exec.specs[0].Env["TOKEN"])
}
