// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogBroadcaster_PublishReachesFollower(t *testing.T) {
	b := newLogBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Follow(ctx, "run-1", "build")
	require.NoError(t, err)

	b.Publish("run-1", "build", "hello")

	select {
	case line := <-ch:
		require.Equal(t, "hello", line)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published line")
	}
}

func TestLogBroadcaster_PublishIgnoresOtherKeys(t *testing.T) {
	b := newLogBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Follow(ctx, "run-1", "build")
	require.NoError(t, err)

	b.Publish("run-1", "test", "unrelated")

	select {
	case line := <-ch:
		t.Fatalf("unexpected line on unrelated key: %q", line)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLogBroadcaster_UnsubscribeOnContextCancel(t *testing.T) {
	b := newLogBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Follow(ctx, "run-1", "build")
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestLogBroadcaster_DropsWhenSubscriberBufferFull(t *testing.T) {
	b := newLogBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := b.Follow(ctx, "run-1", "build")
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		b.Publish("run-1", "build", "line")
	}
}
