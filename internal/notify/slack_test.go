// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package notify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildit-ci/buildit/internal/pipeline"
)

func testRun() pipeline.Run {
	return pipeline.Run{
		PipelineName: "web-app",
		RunNumber:    42,
		Git: pipeline.GitInfo{
			ShortSHA: "a1b2c3d",
			Branch:   "main",
		},
	}
}

func TestCompletionMessage_Success(t *testing.T) {
	text := completionMessage(testRun(), true)
	require.Contains(t, text, ":white_check_mark:")
	require.Contains(t, text, "succeeded")
	require.Contains(t, text, "web-app")
	require.Contains(t, text, "#42")
	require.Contains(t, text, "a1b2c3d")
	require.Contains(t, text, "main")
	require.NotContains(t, text, "failed")
}

func TestCompletionMessage_Failure(t *testing.T) {
	text := completionMessage(testRun(), false)
	require.Contains(t, text, ":x:")
	require.Contains(t, text, "failed")
	require.NotContains(t, text, "succeeded")
}
