// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildit-ci/buildit/internal/control"
	"github.com/buildit-ci/buildit/internal/id"
	"github.com/buildit-ci/buildit/internal/orchestrator"
	"github.com/buildit-ci/buildit/internal/pipeline"
)

// retryCmd re-runs a finished run in-process: a new run row is created
// carrying the original run's git metadata and a TriggerRetry trigger, then
// every stage runs again from scratch, grounded on the original CLI's run
// command draining a PipelineEvent channel into a final stage-summary table.
func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-id>",
		Short: "re-run a finished pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			originalID, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("cli: invalid run id %q: %w", args[0], err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			listenSignals(ctx, cancelOnSignal{cancel})

			pool, err := newPostgresPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			st := newStore(pool)

			original, err := st.RunByID(ctx, originalID)
			if err != nil {
				return err
			}

			reg := newRegistry(cfg)
			p, err := reg.Pipeline(ctx, original.PipelineName)
			if err != nil {
				return err
			}

			exec, err := newExecutor(cfg, log)
			if err != nil {
				return err
			}
			orch, tracer, err := buildOrchestrator(ctx, cfg, log, exec, control.NewApprovals())
			if err != nil {
				return err
			}
			defer tracer.Shutdown(context.Background())

			retryRun, err := st.CreateRun(ctx, p, pipeline.TriggerInfo{
				Kind:          pipeline.TriggerRetry,
				OriginalRunID: original.ID,
			}, original.Git)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "retrying %s as run #%d (%s)\n", original.ID, retryRun.RunNumber, retryRun.ID)

			if err := st.SetRunStatus(ctx, id.MustParse(retryRun.ID), pipeline.PipelineStatusRunning); err != nil {
				log.Warnf("run %s: recording running status: %v", retryRun.ID, err)
			}

			events, results := orch.Execute(ctx, p, retryRun)
			for ev := range events {
				switch ev.Kind {
				case orchestrator.EventStageAwaitingApproval:
					if err := st.SetRunStatus(ctx, id.MustParse(retryRun.ID), pipeline.PipelineStatusWaitingApproval); err != nil {
						log.Warnf("run %s: recording waiting-approval status: %v", retryRun.ID, err)
					}
				case orchestrator.EventStageStarted:
					if err := st.SetRunStatus(ctx, id.MustParse(retryRun.ID), pipeline.PipelineStatusRunning); err != nil {
						log.Warnf("run %s: recording running status: %v", retryRun.ID, err)
					}
				case orchestrator.EventStageCompleted:
					status := pipeline.StageStatusSucceeded
					if !ev.Success {
						status = pipeline.StageStatusFailed
					}
					if err := st.UpsertStageResult(ctx, pipeline.StageResult{RunID: retryRun.ID, StageName: ev.Stage, Status: status}); err != nil {
						log.Warnf("run %s: recording stage %q result: %v", retryRun.ID, ev.Stage, err)
					}
				}
			}

			result := <-results
			finalStatus := pipeline.PipelineStatusSucceeded
			if !result.Success {
				finalStatus = pipeline.PipelineStatusFailed
			}
			if err := st.SetRunStatus(ctx, id.MustParse(retryRun.ID), finalStatus); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("run #%d failed", retryRun.RunNumber)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run #%d succeeded\n", retryRun.RunNumber)
			return nil
		},
	}
}
