// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package docker

import (
	"testing"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/stretchr/testify/require"

	"github.com/buildit-ci/buildit/internal/id"
)

func TestContainerName_Deterministic(t *testing.T) {
	jobID := id.New()
	require.Equal(t, containerName(jobID), containerName(jobID))
	require.Equal(t, "buildit-job-"+jobID.String(), containerName(jobID))
}

func TestStatusFromInspect_Running(t *testing.T) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	inspect := container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			State: &container.State{Running: true, StartedAt: now},
		},
	}
	status := statusFromInspect(inspect)
	require.Equal(t, "running", status.Kind.String())
	require.NotNil(t, status.StartedAt)
}

func TestStatusFromInspect_SucceededAndFailed(t *testing.T) {
	ok := container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{State: &container.State{ExitCode: 0}}}
	require.Equal(t, "succeeded", statusFromInspect(ok).Kind.String())

	failed := container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{State: &container.State{ExitCode: 1, Error: "oom"}}}
	s := statusFromInspect(failed)
	require.Equal(t, "failed", s.Kind.String())
	require.Equal(t, "oom", s.Message)
}

func TestSplitTimestamp(t *testing.T) {
	ts, content := splitTimestamp(time.Now().Format(time.RFC3339Nano) + " hello")
	require.False(t, ts.IsZero())
	require.Equal(t, "hello", content)
}

func TestSplitTimestamp_NoTimestamp(t *testing.T) {
	ts, content := splitTimestamp("plain log line")
	require.True(t, ts.IsZero())
	require.Equal(t, "plain log line", content)
}
