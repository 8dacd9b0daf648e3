// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApprovals_WaitUnblocksOnApprove(t *testing.T) {
	a := NewApprovals()

	done := make(chan error, 1)
	go func() {
		done <- a.Wait(context.Background(), "run-1", "deploy")
	}()

	require.Eventually(t, func() bool {
		return a.Approve("run-1", "deploy") == nil
	}, time.Second, time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Approve")
	}
}

func TestApprovals_WaitReturnsErrorOnReject(t *testing.T) {
	a := NewApprovals()

	done := make(chan error, 1)
	go func() {
		done <- a.Wait(context.Background(), "run-1", "deploy")
	}()

	require.Eventually(t, func() bool {
		return a.Reject("run-1", "deploy", "not today") == nil
	}, time.Second, time.Millisecond)

	select {
	case err := <-done:
		require.Error(t, err)
		require.Contains(t, err.Error(), "not today")
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Reject")
	}
}

func TestApprovals_WaitRespectsContextCancellation(t *testing.T) {
	a := NewApprovals()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := a.Wait(ctx, "run-2", "deploy")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestApprovals_ApproveWithoutPendingWaitIsNotAnError(t *testing.T) {
	a := NewApprovals()
	require.NoError(t, a.Approve("run-3", "deploy"))

	// A second Approve with no one waiting to consume it: the gate
	// channel already holds a value, so this one has nothing to resolve.
	err := a.Approve("run-3", "deploy")
	require.Error(t, err)
}
