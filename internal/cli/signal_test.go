// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	called int32
}

func (r *recordingListener) Signal(os.Signal) { atomic.StoreInt32(&r.called, 1) }

func TestListenSignals_NotifiesOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &recordingListener{}
	listenSignals(ctx, l)

	cancel()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&l.called) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCancelOnSignal_CancelsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	listener := cancelOnSignal{cancel: cancel}

	listener.Signal(os.Interrupt)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}
}
