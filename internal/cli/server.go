// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/buildit-ci/buildit/internal/control"
	"github.com/buildit-ci/buildit/internal/id"
	"github.com/buildit-ci/buildit/internal/logger"
	"github.com/buildit-ci/buildit/internal/metrics"
	"github.com/buildit-ci/buildit/internal/orchestrator"
	"github.com/buildit-ci/buildit/internal/pipeline"
	"github.com/buildit-ci/buildit/internal/registry"
	"github.com/buildit-ci/buildit/internal/store"
)

// serverCmd runs the combined control-plane process: the cron trigger
// loop and the thin HTTP control surface (/healthz, manual approval,
// log-follow, /metrics) share one in-process orchestrator, so an
// operator's approve/reject calls and log follows reach the exact run that
// triggered them. This is the simplest complete deployment; the scheduler
// and worker subcommands split the same pieces across separate processes
// for horizontal scaling, at the cost of the orchestrator only progressing
// a queued run's entry stages (see scheduler.go).
func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "run the combined scheduler + control surface process",
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

			exec, err := newExecutor(cfg, log)
			if err != nil {
				return err
			}

			approvals := control.NewApprovals()
			logs := newLogBroadcaster()
			orch, tracer, err := buildOrchestrator(ctx, cfg, log, exec, approvals)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := tracer.Shutdown(shutdownCtx); err != nil {
					log.Warnf("shutting down tracer: %v", err)
				}
			}()

			collector := metrics.NewCollector(Version, q, st)
			promRegistry := metrics.NewRegistry(collector)

			mux := http.NewServeMux()
			mux.Handle("/", control.NewServer(approvals, logs, log))
			mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

			httpSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: mux}
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("control surface stopped: %v", err)
				}
			}()
			log.Infof("control surface listening on %s", httpSrv.Addr)

			sched := cron.New()
			names, err := reg.List(ctx)
			if err != nil {
				log.Warnf("listing pipelines: %v", err)
				names = nil
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
					pipelineName, cronExpr := p.Name, trig.Cron
					if _, err := sched.AddFunc(cronExpr, func() {
						runScheduledPipeline(ctx, log, reg, st, orch, logs, pipelineName)
					}); err != nil {
						log.Warnf("pipeline %q: invalid schedule %q: %v", pipelineName, cronExpr, err)
					}
				}
			}
			sched.Start()
			defer sched.Stop()

			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
}

// runScheduledPipeline creates a run for name and drives it to completion
// in-process, recording every stage result and forwarding log lines to the
// control surface's websocket followers.
func runScheduledPipeline(ctx context.Context, log logger.Logger, reg *registry.FileRegistry, st *store.Store, orch *orchestrator.Orchestrator, logs *logBroadcaster, name string) {
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
	if err := st.SetRunStatus(ctx, id.MustParse(run.ID), pipeline.PipelineStatusRunning); err != nil {
		log.Warnf("run %s: recording running status: %v", run.ID, err)
	}

	events, results := orch.Execute(ctx, p, run)
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventStageLog:
			logs.Publish(run.ID, ev.Stage, ev.Line)
		case orchestrator.EventStageAwaitingApproval:
			if err := st.SetRunStatus(ctx, id.MustParse(run.ID), pipeline.PipelineStatusWaitingApproval); err != nil {
				log.Warnf("run %s: recording waiting-approval status: %v", run.ID, err)
			}
		case orchestrator.EventStageStarted:
			if err := st.SetRunStatus(ctx, id.MustParse(run.ID), pipeline.PipelineStatusRunning); err != nil {
				log.Warnf("run %s: recording running status: %v", run.ID, err)
			}
		case orchestrator.EventStageCompleted:
			status := pipeline.StageStatusSucceeded
			if !ev.Success {
				status = pipeline.StageStatusFailed
			}
			if err := st.UpsertStageResult(ctx, pipeline.StageResult{RunID: run.ID, StageName: ev.Stage, Status: status}); err != nil {
				log.Warnf("run %s: recording stage %q result: %v", run.ID, ev.Stage, err)
			}
		}
	}

	result := <-results
	finalStatus := pipeline.PipelineStatusSucceeded
	if !result.Success {
		finalStatus = pipeline.PipelineStatusFailed
	}
	if err := st.SetRunStatus(ctx, id.MustParse(run.ID), finalStatus); err != nil {
		log.Warnf("run %s: recording final status: %v", run.ID, err)
	}
}
