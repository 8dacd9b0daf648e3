// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	heartbeatInterval = 5 * time.Second
	heartbeatTTL      = 15 * time.Second
	heartbeatKeyPrefix = "heartbeat:"
)

// HeartbeatPublisher refreshes workerID's liveness key in Redis on a
// fixed interval until ctx is cancelled. This resolves the Open Question
// (spec.md §9) on how queue Release decides a claim is abandoned: rather
// than a fixed claim-age timeout, a claim is orphaned exactly when its
// claimant's heartbeat key has expired.
type HeartbeatPublisher struct {
	rdb      *redis.Client
	workerID string
}

func NewHeartbeatPublisher(rdb *redis.Client, workerID string) *HeartbeatPublisher {
	return &HeartbeatPublisher{rdb: rdb, workerID: workerID}
}

// Run blocks, refreshing the heartbeat key every heartbeatInterval, until
// ctx is cancelled. Callers run it in its own goroutine alongside the
// worker's claim loop.
func (h *HeartbeatPublisher) Run(ctx context.Context) error {
	if err := h.beat(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.rdb.Del(context.Background(), heartbeatKey(h.workerID))
			return nil
		case <-ticker.C:
			if err := h.beat(ctx); err != nil {
				return err
			}
		}
	}
}

func (h *HeartbeatPublisher) beat(ctx context.Context) error {
	return h.rdb.Set(ctx, heartbeatKey(h.workerID), time.Now().Unix(), heartbeatTTL).Err()
}

func heartbeatKey(workerID string) string {
	return fmt.Sprintf("%s%s", heartbeatKeyPrefix, workerID)
}

// LiveWorkerIDs scans Redis for every non-expired heartbeat key and returns
// the worker IDs behind them, for use by ReleaseOrphaned.
func LiveWorkerIDs(ctx context.Context, rdb *redis.Client) ([]string, error) {
	var ids []string
	iter := rdb.Scan(ctx, 0, heartbeatKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(heartbeatKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("queue: scanning heartbeat keys: %w", err)
	}
	return ids, nil
}
