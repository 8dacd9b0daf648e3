// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"context"
	"sync"
)

// logBroadcaster fans a run's stage log lines out to however many
// `GET .../logs` websocket followers are currently attached, implementing
// control.LogSource. Lines published before any follower subscribes are
// lost — this is a live tail, not a durable log store.
type logBroadcaster struct {
	mu   sync.Mutex
	subs map[string][]chan string
}

func newLogBroadcaster() *logBroadcaster {
	return &logBroadcaster{subs: make(map[string][]chan string)}
}

func logKey(runID, stage string) string { return runID + "/" + stage }

// Follow implements control.LogSource.
func (b *logBroadcaster) Follow(ctx context.Context, runID, stage string) (<-chan string, error) {
	key := logKey(runID, stage)
	ch := make(chan string, 16)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(key, ch)
	}()
	return ch, nil
}

func (b *logBroadcaster) unsubscribe(key string, ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[key]
	for i, c := range subs {
		if c == ch {
			b.subs[key] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish delivers line to every current follower of (runID, stage). A
// follower whose buffer is full has this line skipped rather than blocking
// the caller (runScheduledPipeline's event-draining loop) — a separate,
// best-effort drop from the bounded oldest-drop buffering
// internal/orchestrator.forwardLogs applies before a line ever reaches here;
// this relay has no pipeline name to label a internal/metrics.DroppedLogLines
// observation with, so a skipped line here is not counted.
func (b *logBroadcaster) Publish(runID, stage, line string) {
	key := logKey(runID, stage)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[key] {
		select {
		case ch <- line:
		default:
		}
	}
}
