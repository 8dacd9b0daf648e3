// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package k8s

import (
	"regexp"
	"testing"

	batchv1 "k8s.io/api/batch/v1"

	"github.com/buildit-ci/buildit/internal/id"
	"github.com/stretchr/testify/require"
)

var dnsLabelRe = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

func TestJobName_DeterministicAndValidDNSLabel(t *testing.T) {
	jobID := id.New()
	a := jobName(jobID)
	b := jobName(jobID)
	require.Equal(t, a, b)
	require.LessOrEqual(t, len(a), 63)
	require.Regexp(t, dnsLabelRe, a)
}

func TestJobName_UniquePerID(t *testing.T) {
	require.NotEqual(t, jobName(id.New()), jobName(id.New()))
}

func TestStatusFromJob_Succeeded(t *testing.T) {
	job := &batchv1.Job{Status: batchv1.JobStatus{Succeeded: 1}}
	status := statusFromJob(job)
	require.Equal(t, "succeeded", status.Kind.String())
}

func TestStatusFromJob_FailedUsesCondition(t *testing.T) {
	job := &batchv1.Job{Status: batchv1.JobStatus{
		Failed: 1,
		Conditions: []batchv1.JobCondition{
			{Type: batchv1.JobFailed, Message: "backoff limit exceeded"},
		},
	}}
	status := statusFromJob(job)
	require.Equal(t, "failed", status.Kind.String())
	require.Equal(t, "backoff limit exceeded", status.Message)
}

func TestStatusFromJob_PendingBeforeStart(t *testing.T) {
	job := &batchv1.Job{}
	status := statusFromJob(job)
	require.Equal(t, "pending", status.Kind.String())
}

func TestParseLeadingTimestamp_WithTimestamp(t *testing.T) {
	ts, content := parseLeadingTimestamp("2026-01-02T03:04:05.000000000Z hello world")
	require.False(t, ts.IsZero())
	require.Equal(t, "hello world", content)
}

func TestParseLeadingTimestamp_WithoutTimestamp(t *testing.T) {
	ts, content := parseLeadingTimestamp("hello world")
	require.True(t, ts.IsZero())
	require.Equal(t, "hello world", content)
}
