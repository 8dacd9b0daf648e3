// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/trace"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/buildit-ci/buildit/internal/executor"
	"github.com/buildit-ci/buildit/internal/id"
	"github.com/buildit-ci/buildit/internal/logger"
	"github.com/buildit-ci/buildit/internal/metrics"
	"github.com/buildit-ci/buildit/internal/pipeline"
	"github.com/buildit-ci/buildit/internal/variables"
)

// eventBufferSize bounds the orchestrator's event channel. A slow consumer
// applies backpressure to the orchestrator (Execute blocks on send) rather
// than the orchestrator silently dropping events; forwardLogs additionally
// drops log lines specifically (oldest first, never lifecycle events) once
// its own per-stage ring buffer fills, per spec.md's Concurrency & Resource
// Model.
const eventBufferSize = 100

// CacheManager restores/saves a cache declaration around a stage run. Left
// unset, caching is a no-op.
type CacheManager interface {
	Restore(ctx context.Context, cache pipeline.CacheConfig, vars variables.Context) error
	Save(ctx context.Context, cache pipeline.CacheConfig, vars variables.Context) error
}

// ArtifactCollector uploads files matching a stage's `artifacts` globs
// after it succeeds. Left unset, artifact collection is a no-op.
type ArtifactCollector interface {
	Collect(ctx context.Context, runID, stageName string, patterns []string) ([]executor.ArtifactRef, error)
}

// Notifier is told about a run's final outcome. Left unset, no
// notification is sent.
type Notifier interface {
	NotifyPipelineCompleted(ctx context.Context, run pipeline.Run, success bool) error
}

// ApprovalGate blocks a `manual: true` stage until an operator resumes it
// through the control surface's approval callback. Left unset, manual
// stages run immediately, as if always pre-approved.
type ApprovalGate interface {
	// Wait blocks until runID's stageName is approved, ctx is cancelled, or
	// the run is rejected (returned as an error).
	Wait(ctx context.Context, runID, stageName string) error
}

// SecretResolver fetches the values of every `${secrets.*}` name a
// pipeline's stages reference, once per run, before the stage DAG walk
// begins. Left unset, `${secrets.*}` tokens are left uninterpolated in
// whatever they appear in (image, env, run commands).
type SecretResolver interface {
	Resolve(ctx context.Context, names []string) (map[string]string, error)
}

// Tracer opens a span around a stage's execution. Left unset, stages run
// without tracing.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, trace.Span)
}

// Orchestrator walks one pipeline's stage DAG to completion.
type Orchestrator struct {
	exec      executor.Executor
	log       logger.Logger
	cache     CacheManager
	artifacts ArtifactCollector
	notifier  Notifier
	approvals ApprovalGate
	secrets   SecretResolver
	tracer    Tracer
}

// Option configures optional Orchestrator collaborators.
type Option func(*Orchestrator)

func WithCache(c CacheManager) Option         { return func(o *Orchestrator) { o.cache = c } }
func WithArtifacts(a ArtifactCollector) Option { return func(o *Orchestrator) { o.artifacts = a } }
func WithNotifier(n Notifier) Option           { return func(o *Orchestrator) { o.notifier = n } }
func WithApprovals(a ApprovalGate) Option      { return func(o *Orchestrator) { o.approvals = a } }
func WithSecrets(r SecretResolver) Option      { return func(o *Orchestrator) { o.secrets = r } }
func WithTracer(t Tracer) Option              { return func(o *Orchestrator) { o.tracer = t } }

// New builds an Orchestrator bound to exec.
func New(exec executor.Executor, log logger.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logger.Default
	}
	o := &Orchestrator{exec: exec, log: log}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute walks p's stages in topological order, driving each through
// exec, and returns a channel of Events plus the final Result once the
// channel is closed. Callers must drain the channel; Execute applies
// backpressure against the caller via the bounded channel described by
// eventBufferSize.
func (o *Orchestrator) Execute(ctx context.Context, p pipeline.Pipeline, run pipeline.Run) (<-chan Event, <-chan Result) {
	events := make(chan Event, eventBufferSize)
	results := make(chan Result, 1)

	go func() {
		defer close(events)
		defer close(results)

		states := make(map[string]pipeline.StageStatus, len(p.Stages))
		for _, s := range p.Stages {
			states[s.Name] = pipeline.StageStatusPending
		}

		order := pipeline.TopologicalSort(p)
		vars := variables.FromRun(p, run)

		if o.secrets != nil {
			if names := secretNames(p); len(names) > 0 {
				resolved, err := o.secrets.Resolve(ctx, names)
				if err != nil {
					o.log.Warnf("resolving secrets for run %s: %v", run.ID, err)
				} else {
					vars.Secrets = resolved
				}
			}
		}

		for _, name := range order {
			stage, _ := p.StageByName(name)

			if ok, failedDeps := pipeline.DepsSatisfied(stage, states); !ok {
				states[name] = pipeline.StageStatusSkipped
				reason := fmt.Sprintf("dependencies failed: %s", strings.Join(failedDeps, ", "))
				o.log.Infof("skipping stage %q: %s", name, reason)
				// spec.md §4.8 requires a StageCompleted{success=false} for
				// stages skipped this way, even though no work was ever
				// started — unlike the original implementation, which
				// silently records the skip with no events at all (see
				// DESIGN.md's "Discrepancy resolved" note).
				events <- Event{Kind: EventStageCompleted, Stage: name, Success: false}
				continue
			}

			stageVars := vars.WithStage(name)
			runWhen, err := EvaluateCondition(stage.When, stageVars)
			if err != nil {
				o.log.Warnf("stage %q: when condition error, skipping: %v", name, err)
				runWhen = false
			}
			if !runWhen {
				states[name] = pipeline.StageStatusSkipped
				events <- Event{Kind: EventStageCompleted, Stage: name, Success: false}
				continue
			}

			if stage.Manual && o.approvals != nil {
				states[name] = pipeline.StageStatusWaitingApproval
				events <- Event{Kind: EventStageAwaitingApproval, Stage: name}
				if err := o.approvals.Wait(ctx, run.ID, name); err != nil {
					states[name] = pipeline.StageStatusFailed
					o.log.Warnf("stage %q: approval not granted: %v", name, err)
					events <- Event{Kind: EventStageCompleted, Stage: name, Success: false}
					continue
				}
			}

			events <- Event{Kind: EventStageStarted, Stage: name}
			states[name] = pipeline.StageStatusRunning

			success, _, err := o.executeStage(ctx, stage, stageVars, events)
			if err != nil {
				o.log.Errorf("stage %q failed: %v", name, err)
			}
			if success {
				states[name] = pipeline.StageStatusSucceeded
			} else {
				states[name] = pipeline.StageStatusFailed
			}
			events <- Event{Kind: EventStageCompleted, Stage: name, Success: success}
		}

		success := true
		for _, st := range states {
			if st != pipeline.StageStatusSucceeded && st != pipeline.StageStatusSkipped {
				success = false
				break
			}
		}
		events <- Event{Kind: EventPipelineCompleted, Success: success}

		if o.notifier != nil {
			if err := o.notifier.NotifyPipelineCompleted(ctx, run, success); err != nil {
				o.log.Warnf("notifying pipeline completion: %v", err)
			}
		}

		results <- Result{Success: success, StageStates: states}
	}()

	return events, results
}

// RunStage drives a single stage's action to completion through the
// orchestrator's executor, cache, and artifact collaborators, without
// requiring a full Execute DAG walk. The worker (C9) uses this directly:
// it claims one queue entry naming a single (run, stage) pair and hands it
// here rather than re-running the whole pipeline's scheduling logic.
func (o *Orchestrator) RunStage(ctx context.Context, stage pipeline.Stage, vars variables.Context) (pipeline.StageStatus, string, error) {
	success, message, err := o.executeStage(ctx, stage, vars, nil)
	if success {
		return pipeline.StageStatusSucceeded, message, nil
	}
	return pipeline.StageStatusFailed, message, err
}

// executeStage runs a single stage's action and forwards its logs as
// StageLog events on a separate goroutine so a slow log consumer never
// delays the orchestrator's wait on the job itself. events may be nil, in
// which case log lines are simply not forwarded (the RunStage entry point
// used by the worker has no per-run event channel to forward onto).
func (o *Orchestrator) executeStage(ctx context.Context, stage pipeline.Stage, vars variables.Context, events chan<- Event) (bool, string, error) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "stage:"+stage.Name)
		defer span.End()
	}

	if stage.Action != pipeline.ActionRun {
		return false, "", engineerr.Newf(engineerr.KindInvalidInput, "stage action %v is not yet implemented", stage.Action)
	}

	if o.cache != nil && stage.Cache != nil {
		if err := o.cache.Restore(ctx, *stage.Cache, vars); err != nil {
			o.log.Warnf("stage %q: cache restore failed: %v", stage.Name, err)
		}
	}

	spec := buildJobSpec(stage, vars)

	handle, err := o.exec.Spawn(ctx, spec)
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.KindExecutionFailed, "spawning job", err)
	}

	if events != nil {
		logs, err := o.exec.Logs(ctx, handle)
		if err != nil {
			o.log.Warnf("stage %q: opening logs failed: %v", stage.Name, err)
		} else {
			go forwardLogs(ctx, vars.Pipeline.Name, stage.Name, logs, events)
		}
	}

	status, err := o.exec.Wait(ctx, handle)
	if err != nil {
		return false, "", engineerr.Wrap(engineerr.KindExecutionFailed, "waiting on job", err)
	}

	switch status.Kind {
	case executor.JobSucceeded:
		if o.cache != nil && stage.Cache != nil {
			if err := o.cache.Save(ctx, *stage.Cache, vars); err != nil {
				o.log.Warnf("stage %q: cache save failed: %v", stage.Name, err)
			}
		}
		if o.artifacts != nil && len(stage.Artifacts) > 0 {
			if _, err := o.artifacts.Collect(ctx, vars.Run.ID, stage.Name, stage.Artifacts); err != nil {
				o.log.Warnf("stage %q: artifact collection failed: %v", stage.Name, err)
			}
		}
		return true, "", nil
	case executor.JobFailed:
		return false, status.Message, engineerr.New(engineerr.KindExecutionFailed, status.Message)
	case executor.JobCancelled:
		return false, "job cancelled", engineerr.New(engineerr.KindCancelled, "job cancelled")
	default:
		return false, "", engineerr.Newf(engineerr.KindInternal, "unexpected terminal job state %v", status.Kind)
	}
}

func buildJobSpec(stage pipeline.Stage, vars variables.Context) executor.JobSpec {
	env := vars.InterpolateMap(stage.Env)
	cmd := strings.Join(vars.InterpolateSlice(stage.Run), " && ")
	return executor.JobSpec{
		ID:         id.New(),
		Image:      vars.Interpolate(stage.Image),
		Command:    []string{"/bin/sh", "-c", cmd},
		Env:        env,
		WorkingDir: "/workspace",
	}
}

// secretNames collects every distinct `${secrets.*}` name referenced
// anywhere in p's stages, so a SecretResolver can fetch them all in one
// call rather than one round trip per stage per field.
func secretNames(p pipeline.Pipeline) []string {
	var names []string
	for _, stage := range p.Stages {
		names = append(names, variables.FindSecrets(stage.Image)...)
		for _, cmd := range stage.Run {
			names = append(names, variables.FindSecrets(cmd)...)
		}
		for _, v := range stage.Env {
			names = append(names, variables.FindSecrets(v)...)
		}
	}
	return lo.Uniq(names)
}

// logLineBufferSize bounds the per-stage ring buffer forwardLogs reads a
// job's raw log lines into. A stage that produces lines faster than the
// event consumer drains them fills this buffer; the oldest buffered line is
// then dropped to make room for the newest, and metrics.DroppedLogLines
// records it, per spec.md's Concurrency & Resource Model (lifecycle events
// always block; log lines specifically may be dropped, oldest first).
const logLineBufferSize = 256

// logRingBuffer is a fixed-capacity FIFO of pending log lines shared between
// the goroutine reading a job's log stream and the one draining it onto the
// orchestrator's event channel, decoupling the job's log production rate
// from however fast the event consumer keeps up.
type logRingBuffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	lines   []executor.LogLine
	closed  bool
	dropped func()
}

func newLogRingBuffer(dropped func()) *logRingBuffer {
	b := &logRingBuffer{dropped: dropped}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *logRingBuffer) push(line executor.LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= logLineBufferSize {
		b.lines = b.lines[1:]
		if b.dropped != nil {
			b.dropped()
		}
	}
	b.lines = append(b.lines, line)
	b.cond.Signal()
}

func (b *logRingBuffer) pop() (executor.LogLine, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.lines) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.lines) == 0 {
		return executor.LogLine{}, false
	}
	line := b.lines[0]
	b.lines = b.lines[1:]
	return line, true
}

func (b *logRingBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

func forwardLogs(ctx context.Context, pipelineName, stageName string, logs <-chan executor.LogLine, events chan<- Event) {
	counter := metrics.DroppedLogLines.WithLabelValues(pipelineName, stageName)
	buf := newLogRingBuffer(counter.Inc)

	go func() {
		for {
			select {
			case line, ok := <-logs:
				if !ok {
					buf.close()
					return
				}
				buf.push(line)
			case <-ctx.Done():
				buf.close()
				return
			}
		}
	}()

	for {
		line, ok := buf.pop()
		if !ok {
			return
		}
		select {
		case events <- Event{Kind: EventStageLog, Stage: stageName, Line: line.Content}:
		case <-ctx.Done():
			return
		}
	}
}
