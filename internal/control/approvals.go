// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package control is the thin HTTP surface named in spec.md §6 as staying
// out of scope for the full run/pipeline CRUD API: a liveness probe and
// the manual-approval resume callback a `manual: true` stage blocks on,
// plus a websocket relay for following a running stage's logs. It is not,
// and is never meant to become, the control-plane API.
package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/buildit-ci/buildit/internal/engineerr"
)

// Approvals implements orchestrator.ApprovalGate in memory: one pending
// gate per (run, stage), released by a call to Approve or Reject from the
// HTTP handlers in this package. It holds no state across a process
// restart, so a manual stage left pending across a deploy must be
// re-approved.
type Approvals struct {
	mu    sync.Mutex
	gates map[string]chan error
}

// NewApprovals builds an empty gate set.
func NewApprovals() *Approvals {
	return &Approvals{gates: make(map[string]chan error)}
}

func gateKey(runID, stage string) string { return runID + "/" + stage }

func (a *Approvals) gate(runID, stage string) chan error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := gateKey(runID, stage)
	ch, ok := a.gates[key]
	if !ok {
		ch = make(chan error, 1)
		a.gates[key] = ch
	}
	return ch
}

// Wait implements orchestrator.ApprovalGate.
func (a *Approvals) Wait(ctx context.Context, runID, stage string) error {
	ch := a.gate(runID, stage)
	select {
	case err := <-ch:
		a.clear(runID, stage)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Approve releases a pending stage to proceed.
func (a *Approvals) Approve(runID, stage string) error {
	return a.resolve(runID, stage, nil)
}

// Reject releases a pending stage as failed, with reason as its message.
func (a *Approvals) Reject(runID, stage, reason string) error {
	return a.resolve(runID, stage, engineerr.Newf(engineerr.KindCancelled, "rejected: %s", reason))
}

func (a *Approvals) resolve(runID, stage string, err error) error {
	ch := a.gate(runID, stage)
	select {
	case ch <- err:
		return nil
	default:
		return fmt.Errorf("control: %s/%s already resolved or has no pending approval", runID, stage)
	}
}

func (a *Approvals) clear(runID, stage string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.gates, gateKey(runID, stage))
}
