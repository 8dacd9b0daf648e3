// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package queue implements the job queue (C7): a Postgres-backed table that
// workers claim entries from with `SELECT ... FOR UPDATE SKIP LOCKED` so
// concurrent workers never double-claim an entry, grounded on the original
// implementation's JobQueue (buildit-scheduler/src/queue.rs) and the exact
// claim query in buildit-db-queries/src/queries/jobs.rs.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/buildit-ci/buildit/internal/id"
)

// Status is the queue-entry lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one row of job_queue.
type Entry struct {
	ID            id.ID
	PipelineRunID id.ID
	StageName     string
	Priority      int
	Status        Status
	ClaimedBy     *string
	ClaimedAt     *time.Time
	Error         string
	CreatedAt     time.Time
}

// Queue wraps a pgxpool.Pool with the claim/complete/fail/release
// operations every worker drives its loop through.
type Queue struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue inserts a new pending entry for stageName within run, ordered
// against other entries by priority (higher first) then creation order.
func (q *Queue) Enqueue(ctx context.Context, runID id.ID, stageName string, priority int) (id.ID, error) {
	entryID := id.New()
	const sql = `
		INSERT INTO job_queue (id, pipeline_run_id, stage_name, priority, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW())`
	if _, err := q.pool.Exec(ctx, sql, entryID, runID, stageName, priority); err != nil {
		return id.ID{}, engineerr.Wrap(engineerr.KindInternal, "enqueueing job", err)
	}
	return entryID, nil
}

// Claim atomically claims the highest-priority, oldest pending entry for
// workerID. It returns (nil, nil) when the queue has nothing to claim —
// that is not an error, just an empty queue.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Entry, error) {
	const sql = `
		UPDATE job_queue
		SET status = 'claimed', claimed_at = NOW(), claimed_by = $1
		WHERE id = (
			SELECT id FROM job_queue
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, pipeline_run_id, stage_name, priority, status, claimed_by, claimed_at, error, created_at`

	row := q.pool.QueryRow(ctx, sql, workerID)
	entry, err := scanEntry(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInternal, "claiming job", err)
	}
	return entry, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var status string
	if err := row.Scan(&e.ID, &e.PipelineRunID, &e.StageName, &e.Priority, &status, &e.ClaimedBy, &e.ClaimedAt, &e.Error, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	return &e, nil
}

// Complete marks entryID completed.
func (q *Queue) Complete(ctx context.Context, entryID id.ID) error {
	_, err := q.pool.Exec(ctx, `UPDATE job_queue SET status = 'completed' WHERE id = $1`, entryID)
	if err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "completing job", err)
	}
	return nil
}

// Fail marks entryID failed with the given message.
func (q *Queue) Fail(ctx context.Context, entryID id.ID, message string) error {
	_, err := q.pool.Exec(ctx, `UPDATE job_queue SET status = 'failed', error = $2 WHERE id = $1`, entryID, message)
	if err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "failing job", err)
	}
	return nil
}

// Release clears a claim and resets the entry to pending, so it can be
// claimed again. `buildit dequeue` uses it when no --reason is given;
// ReleaseOrphaned applies the same reset in bulk.
func (q *Queue) Release(ctx context.Context, entryID id.ID) error {
	const sql = `UPDATE job_queue SET status = 'pending', claimed_by = NULL, claimed_at = NULL WHERE id = $1`
	if _, err := q.pool.Exec(ctx, sql, entryID); err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "releasing job", err)
	}
	return nil
}

// ReleaseOrphaned releases every claimed entry whose claimant is not in
// liveWorkerIDs — the sweep half of the liveness contract described in
// SPEC_FULL.md's Open Question decisions (the other half is the worker
// heartbeat in internal/queue/heartbeat.go).
func (q *Queue) ReleaseOrphaned(ctx context.Context, liveWorkerIDs []string) (int64, error) {
	const sql = `
		UPDATE job_queue
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL
		WHERE status = 'claimed' AND NOT (claimed_by = ANY($1))`
	tag, err := q.pool.Exec(ctx, sql, liveWorkerIDs)
	if err != nil {
		return 0, engineerr.Wrap(engineerr.KindInternal, "releasing orphaned jobs", err)
	}
	return tag.RowsAffected(), nil
}

// Depth returns the number of pending entries, exposed as a gauge by
// internal/metrics.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx, `SELECT count(*) FROM job_queue WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: counting pending: %w", err)
	}
	return n, nil
}
