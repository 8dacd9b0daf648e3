// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package engineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindExecutionFailed, "spawn failed", cause)

	require.ErrorIs(t, err, ExecutionFailed)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection refused")
}

func TestKindOf_PlainError(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestIsNotFound(t *testing.T) {
	require.True(t, IsNotFound(New(KindNotFound, "pipeline missing")))
	require.False(t, IsNotFound(New(KindConflict, "already claimed")))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "timeout", KindTimeout.String())
	require.Equal(t, "internal", Kind(99).String())
}
