// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/buildit-ci/buildit/internal/id"
	"github.com/buildit-ci/buildit/internal/pipeline"
)

// schedulerCmd runs only the cron trigger loop, for deployments that split
// triggering from execution: a fired schedule creates the run row and
// enqueues its entry stages (the ones with no `needs`) for workerCmd
// processes to claim. Unlike serverCmd's combined in-process walk, nothing
// here advances the DAG past that first wave — the worker subcommand
// understands a single claimed (run, stage) pair, not the run's dependency
// graph, so a pipeline with stages beyond the entry wave needs the
// combined "server" command instead. This mirrors the control surface's
// own stated scope: a thin operational layer, not the full scheduling
// engine.
func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "evaluate cron triggers and enqueue entry-stage runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			listenSignals(ctx, cancelOnSignal{cancel})

			pool, err := newPostgresPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			st := newStore(pool)
			q := newQueue(pool)
			reg := newRegistry(cfg)

			sched := cron.New()
			names, err := reg.List(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				p, err := reg.Pipeline(ctx, name)
				if err != nil {
					log.Warnf("pipeline %q: %v", name, err)
					continue
				}
				for _, trig := range p.Triggers {
					if trig.Kind != pipeline.TriggerSchedule {
						continue
					}
					pipelineName := p.Name
					if _, err := sched.AddFunc(trig.Cron, func() {
						triggerEntryWave(ctx, log, reg, st, q, pipelineName)
					}); err != nil {
						log.Warnf("pipeline %q: invalid schedule %q: %v", pipelineName, trig.Cron, err)
					}
				}
			}

			log.Infof("scheduler watching %d pipeline(s)", len(names))
			sched.Start()
			defer sched.Stop()

			<-ctx.Done()
			return nil
		},
	}
}

// triggerEntryWave creates a run for name and enqueues every stage that has
// no unmet dependency (an empty Needs list), so at least one worker can
// start making progress on the run immediately.
func triggerEntryWave(ctx context.Context, log interface {
	Warnf(string, ...any)
	Errorf(string, ...any)
}, reg interface {
	Pipeline(ctx context.Context, name string) (pipeline.Pipeline, error)
}, st interface {
	CreateRun(ctx context.Context, p pipeline.Pipeline, trigger pipeline.TriggerInfo, git pipeline.GitInfo) (pipeline.Run, error)
}, q interface {
	Enqueue(ctx context.Context, runID id.ID, stageName string, priority int) (id.ID, error)
}, name string) {
	p, err := reg.Pipeline(ctx, name)
	if err != nil {
		log.Warnf("pipeline %q: re-reading config at trigger time: %v", name, err)
		return
	}

	run, err := st.CreateRun(ctx, p, pipeline.TriggerInfo{Kind: pipeline.TriggerSchedule}, pipeline.GitInfo{})
	if err != nil {
		log.Errorf("pipeline %q: creating scheduled run: %v", name, err)
		return
	}

	runID := id.MustParse(run.ID)
	for _, stage := range p.Stages {
		if len(stage.Needs) > 0 {
			continue
		}
		if _, err := q.Enqueue(ctx, runID, stage.Name, 0); err != nil {
			log.Errorf("run %s: enqueueing entry stage %q: %v", run.ID, stage.Name, err)
		}
	}
}
