// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildit-ci/buildit/internal/queue"
	"github.com/buildit-ci/buildit/internal/worker"
)

// workerCmd runs a worker process (C9): it claims entries off the job
// queue and drives each through the orchestrator, independent of whatever
// process created the run, grounded on the teacher's long-running
// subcommand pattern (scheduler.go/start_all.go construct their services,
// then block on .Run(ctx) until a signal arrives).
func workerCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "claim and execute queued pipeline stages",
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

			exec, err := newExecutor(cfg, log)
			if err != nil {
				return err
			}
			orch, tracer, err := buildOrchestrator(ctx, cfg, log, exec, nil)
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

			workerID := id
			if workerID == "" {
				workerID = cfg.WorkerID
			}
			if workerID == "" {
				host, _ := os.Hostname()
				workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
			}

			w := worker.New(workerID, newQueue(pool), newStore(pool), newRegistry(cfg), orch, log)
			if cfg.RedisAddr != "" {
				rdb := newRedisClient(cfg)
				defer rdb.Close()
				w = w.WithHeartbeat(queue.NewHeartbeatPublisher(rdb, workerID))
			}

			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "worker identity; defaults to worker_id config or hostname-pid")
	return cmd
}
