// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package store persists pipeline runs and stage results in Postgres. Run
// numbering uses a row-locked counter table (resolving the run-number
// monotonicity Open Question from spec.md §9) rather than relying on
// transaction isolation level alone to rule out two concurrent triggers
// handing out the same run number.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/buildit-ci/buildit/internal/id"
	"github.com/buildit-ci/buildit/internal/pipeline"
)

// Store wraps a pgxpool.Pool with the persistence operations the
// orchestrator and CLI need against runs and stage results.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// CreateRun allocates the next run number for p.Name and inserts a new
// queued Run, atomically, so two triggers firing at once can never be
// handed the same run number.
func (s *Store) CreateRun(ctx context.Context, p pipeline.Pipeline, trigger pipeline.TriggerInfo, git pipeline.GitInfo) (pipeline.Run, error) {
	var run pipeline.Run
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var next int64
		const upsertCounter = `
			INSERT INTO pipeline_counters (pipeline_name, next_run_number)
			VALUES ($1, 2)
			ON CONFLICT (pipeline_name) DO UPDATE SET next_run_number = pipeline_counters.next_run_number + 1
			RETURNING next_run_number - 1`
		if err := tx.QueryRow(ctx, upsertCounter, p.Name).Scan(&next); err != nil {
			return err
		}

		runID := id.New()
		const insertRun = `
			INSERT INTO pipeline_runs (
				id, pipeline_name, run_number, status, trigger_kind, original_run_id,
				git_sha, git_branch, git_tag, git_ref_name, git_message, git_author, git_author_email,
				created_at
			) VALUES ($1,$2,$3,'queued',$4,$5,$6,$7,$8,$9,$10,$11,$12, NOW())
			RETURNING created_at`
		var createdAt time.Time
		originalRunID := nullableID(trigger.OriginalRunID)
		if err := tx.QueryRow(ctx, insertRun,
			runID, p.Name, next, triggerKindString(trigger.Kind), originalRunID,
			git.SHA, git.Branch, git.Tag, git.RefName, git.Message, git.Author, git.AuthorEmail,
		).Scan(&createdAt); err != nil {
			return err
		}

		run = pipeline.Run{
			ID:           runID.String(),
			PipelineName: p.Name,
			RunNumber:    next,
			Status:       pipeline.PipelineStatusQueued,
			Trigger:      trigger,
			Git:          git,
			CreatedAt:    createdAt,
		}
		return nil
	})
	if err != nil {
		return pipeline.Run{}, engineerr.Wrap(engineerr.KindInternal, "creating run", err)
	}
	return run, nil
}

func nullableID(s string) *id.ID {
	if s == "" {
		return nil
	}
	parsed, err := id.Parse(s)
	if err != nil {
		return nil
	}
	return &parsed
}

func triggerKindString(k pipeline.TriggerKind) string {
	switch k {
	case pipeline.TriggerPush:
		return "push"
	case pipeline.TriggerPullRequest:
		return "pull_request"
	case pipeline.TriggerTag:
		return "tag"
	case pipeline.TriggerSchedule:
		return "schedule"
	case pipeline.TriggerManual:
		return "manual"
	case pipeline.TriggerRetry:
		return "retry"
	default:
		return "manual"
	}
}

// RunByID loads one run's full record, for callers (like the worker) that
// only have a run ID and need the git/trigger context to build a JobSpec.
func (s *Store) RunByID(ctx context.Context, runID id.ID) (pipeline.Run, error) {
	const sql = `
		SELECT pipeline_name, run_number, status, trigger_kind, original_run_id,
			git_sha, git_branch, git_tag, git_ref_name, git_message, git_author, git_author_email,
			created_at, started_at, finished_at
		FROM pipeline_runs WHERE id = $1`
	var run pipeline.Run
	var statusStr, triggerStr string
	var originalRunID *id.ID
	run.ID = runID.String()
	err := s.pool.QueryRow(ctx, sql, runID).Scan(
		&run.PipelineName, &run.RunNumber, &statusStr, &triggerStr, &originalRunID,
		&run.Git.SHA, &run.Git.Branch, &run.Git.Tag, &run.Git.RefName, &run.Git.Message, &run.Git.Author, &run.Git.AuthorEmail,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	if err == pgx.ErrNoRows {
		return pipeline.Run{}, engineerr.New(engineerr.KindNotFound, "run not found")
	}
	if err != nil {
		return pipeline.Run{}, engineerr.Wrap(engineerr.KindInternal, "loading run", err)
	}
	run.Status = parsePipelineStatus(statusStr)
	run.Trigger.Kind = parseTriggerKind(triggerStr)
	if originalRunID != nil {
		run.Trigger.OriginalRunID = originalRunID.String()
	}
	return run, nil
}

func parsePipelineStatus(s string) pipeline.PipelineStatus {
	switch s {
	case "running":
		return pipeline.PipelineStatusRunning
	case "waiting_approval":
		return pipeline.PipelineStatusWaitingApproval
	case "succeeded":
		return pipeline.PipelineStatusSucceeded
	case "failed":
		return pipeline.PipelineStatusFailed
	case "cancelled":
		return pipeline.PipelineStatusCancelled
	default:
		return pipeline.PipelineStatusQueued
	}
}

func parseTriggerKind(s string) pipeline.TriggerKind {
	switch s {
	case "pull_request":
		return pipeline.TriggerPullRequest
	case "tag":
		return pipeline.TriggerTag
	case "schedule":
		return pipeline.TriggerSchedule
	case "retry":
		return pipeline.TriggerRetry
	case "manual":
		return pipeline.TriggerManual
	default:
		return pipeline.TriggerPush
	}
}

// SetRunStatus transitions a run's status, stamping started_at/finished_at
// as appropriate.
func (s *Store) SetRunStatus(ctx context.Context, runID id.ID, status pipeline.PipelineStatus) error {
	var sql string
	switch {
	case status == pipeline.PipelineStatusRunning:
		sql = `UPDATE pipeline_runs SET status = $2, started_at = NOW() WHERE id = $1`
	case status.IsTerminal():
		sql = `UPDATE pipeline_runs SET status = $2, finished_at = NOW() WHERE id = $1`
	default:
		sql = `UPDATE pipeline_runs SET status = $2 WHERE id = $1`
	}
	if _, err := s.pool.Exec(ctx, sql, runID, statusString(status)); err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "updating run status", err)
	}
	return nil
}

func statusString(s pipeline.PipelineStatus) string { return s.String() }

// RunStatusCounts tallies current runs by status, for the metrics collector
// to expose as a gauge per status label.
func (s *Store) RunStatusCounts(ctx context.Context) (map[pipeline.PipelineStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM pipeline_runs GROUP BY status`)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInternal, "counting runs by status", err)
	}
	defer rows.Close()

	counts := make(map[pipeline.PipelineStatus]int64)
	for rows.Next() {
		var statusStr string
		var n int64
		if err := rows.Scan(&statusStr, &n); err != nil {
			return nil, engineerr.Wrap(engineerr.KindInternal, "scanning run status count", err)
		}
		counts[parsePipelineStatus(statusStr)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, engineerr.Wrap(engineerr.KindInternal, "counting runs by status", err)
	}
	return counts, nil
}

// UpsertStageResult inserts or updates one stage's result for a run.
func (s *Store) UpsertStageResult(ctx context.Context, r pipeline.StageResult) error {
	const sql = `
		INSERT INTO stage_results (pipeline_run_id, stage_name, status, job_id, message, started_at, ended_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (pipeline_run_id, stage_name) DO UPDATE SET
			status = EXCLUDED.status, job_id = EXCLUDED.job_id, message = EXCLUDED.message,
			started_at = COALESCE(stage_results.started_at, EXCLUDED.started_at),
			ended_at = EXCLUDED.ended_at`
	runID, err := id.Parse(r.RunID)
	if err != nil {
		return engineerr.Wrap(engineerr.KindInvalidInput, "invalid run id", err)
	}
	_, err = s.pool.Exec(ctx, sql, runID, r.StageName, r.Status.String(), r.JobID, r.Message, r.StartedAt, r.EndedAt)
	if err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "upserting stage result", err)
	}
	return nil
}

// StageResults returns every stage result recorded for runID.
func (s *Store) StageResults(ctx context.Context, runID id.ID) ([]pipeline.StageResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stage_name, status, job_id, message, started_at, ended_at
		FROM stage_results WHERE pipeline_run_id = $1`, runID)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInternal, "listing stage results", err)
	}
	defer rows.Close()

	var out []pipeline.StageResult
	for rows.Next() {
		var r pipeline.StageResult
		var status string
		r.RunID = runID.String()
		if err := rows.Scan(&r.StageName, &status, &r.JobID, &r.Message, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		r.Status = parseStageStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseStageStatus(s string) pipeline.StageStatus {
	switch s {
	case "running":
		return pipeline.StageStatusRunning
	case "succeeded":
		return pipeline.StageStatusSucceeded
	case "failed":
		return pipeline.StageStatusFailed
	case "skipped":
		return pipeline.StageStatusSkipped
	case "waiting_approval":
		return pipeline.StageStatusWaitingApproval
	default:
		return pipeline.StageStatusPending
	}
}
