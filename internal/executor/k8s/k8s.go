// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package k8s implements the cluster Executor backend as Kubernetes Jobs,
// grounded on the original implementation's KubernetesExecutor
// (buildit-executor/src/kubernetes.rs).
package k8s

import (
	"context"
	"fmt"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/buildit-ci/buildit/internal/executor"
	"github.com/buildit-ci/buildit/internal/logger"
)

const (
	labelManagedBy = "app.kubernetes.io/managed-by"
	labelComponent = "app.kubernetes.io/component"
	labelJobID     = "buildit.io/job-id"

	managedByValue = "buildit"
	componentValue = "ci-job"

	pollInterval = 500 * time.Millisecond
)

// Executor runs jobs as Kubernetes batch/v1 Jobs in a single namespace.
type Executor struct {
	client    kubernetes.Interface
	namespace string
	log       logger.Logger
}

// New builds an Executor targeting namespace.
func New(client kubernetes.Interface, namespace string, log logger.Logger) *Executor {
	if log == nil {
		log = logger.Default
	}
	return &Executor{client: client, namespace: namespace, log: log}
}

func (e *Executor) Name() string { return "kubernetes" }

func jobName(id fmt.Stringer) string {
	return "buildit-job-" + strings.ToLower(id.String())
}

func (e *Executor) baseLabels() map[string]string {
	return map[string]string{
		labelManagedBy: managedByValue,
		labelComponent: componentValue,
	}
}

func (e *Executor) CanExecute(ctx context.Context) bool {
	_, err := e.client.Discovery().ServerVersion()
	return err == nil
}

func (e *Executor) Spawn(ctx context.Context, spec executor.JobSpec) (executor.JobHandle, error) {
	job := e.buildJob(spec)
	created, err := e.client.BatchV1().Jobs(e.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return executor.JobHandle{}, engineerr.Wrap(engineerr.KindExecutionFailed, "creating k8s job", err)
	}
	return executor.JobHandle{ID: spec.ID, ExecutorID: string(created.UID), ExecutorName: e.Name()}, nil
}

func (e *Executor) buildJob(spec executor.JobSpec) *batchv1.Job {
	var env []corev1.EnvVar
	for k, v := range spec.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	resources := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{},
		Limits:   corev1.ResourceList{},
	}
	setQuantity(resources.Requests, corev1.ResourceCPU, spec.Resources.CPURequest)
	setQuantity(resources.Requests, corev1.ResourceMemory, spec.Resources.MemoryRequest)
	setQuantity(resources.Limits, corev1.ResourceCPU, spec.Resources.CPULimit)
	setQuantity(resources.Limits, corev1.ResourceMemory, spec.Resources.MemoryLimit)

	labels := e.baseLabels()
	labels[labelJobID] = spec.ID.String()

	backoffLimit := int32(0)
	ttl := int32(3600)

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName(spec.ID),
			Namespace: e.namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:            "job",
							Image:           spec.Image,
							Command:         spec.Command,
							Env:             env,
							WorkingDir:      spec.WorkingDir,
							Resources:       resources,
							ImagePullPolicy: corev1.PullIfNotPresent,
						},
					},
				},
			},
		},
	}
}

func setQuantity(list corev1.ResourceList, name corev1.ResourceName, value string) {
	if value == "" {
		return
	}
	if q, err := resource.ParseQuantity(value); err == nil {
		list[name] = q
	}
}

// findPodForHandle waits up to 60s for a pod to appear for handle's job.
func (e *Executor) findPodForHandle(ctx context.Context, handle executor.JobHandle) (*corev1.Pod, error) {
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		pods, err := e.client.CoreV1().Pods(e.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: fmt.Sprintf("%s=%s", labelJobID, handle.ID.String()),
		})
		if err != nil {
			return nil, err
		}
		if len(pods.Items) > 0 {
			return &pods.Items[0], nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil, engineerr.New(engineerr.KindTimeout, "timed out waiting for pod to appear")
}

func (e *Executor) Logs(ctx context.Context, handle executor.JobHandle) (<-chan executor.LogLine, error) {
	pod, err := e.findPodForHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	out := make(chan executor.LogLine, 100)
	go e.pollLogs(ctx, pod.Name, out)
	return out, nil
}

// pollLogs re-reads the pod's (non-follow) logs every pollInterval and
// emits only newly-seen lines. Kubernetes interleaves stdout/stderr into a
// single stream with no separation, so every line is tagged
// LogStreamStdout — this is a protocol limitation, not an oversight (see
// spec.md's Design Notes).
func (e *Executor) pollLogs(ctx context.Context, podName string, out chan<- executor.LogLine) {
	defer close(out)
	lastSeen := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req := e.client.CoreV1().Pods(e.namespace).GetLogs(podName, &corev1.PodLogOptions{Timestamps: true})
		stream, err := req.Stream(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
				continue
			}
		}

		lines := readAllLines(stream)
		stream.Close()

		if len(lines) > lastSeen {
			for _, line := range lines[lastSeen:] {
				ts, content := parseLeadingTimestamp(line)
				select {
				case out <- executor.LogLine{Stream: executor.LogStreamStdout, Content: content, Timestamp: ts}:
				case <-ctx.Done():
					return
				}
			}
			lastSeen = len(lines)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

func readAllLines(r interface{ Read([]byte) (int, error) }) []string {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// parseLeadingTimestamp splits a line prefixed with an RFC3339 timestamp
// (as produced by PodLogOptions.Timestamps) from its content. The
// heuristic mirrors the original implementation: a well-formed timestamp
// prefix is at least 30 characters with a '-' at index 4.
func parseLeadingTimestamp(line string) (time.Time, string) {
	if len(line) >= 30 && line[4] == '-' {
		if idx := strings.IndexByte(line, ' '); idx > 0 {
			if ts, err := time.Parse(time.RFC3339Nano, line[:idx]); err == nil {
				return ts, line[idx+1:]
			}
		}
	}
	return time.Time{}, line
}

func (e *Executor) Status(ctx context.Context, handle executor.JobHandle) (executor.JobStatus, error) {
	job, err := e.client.BatchV1().Jobs(e.namespace).Get(ctx, jobNameFromHandle(handle), metav1.GetOptions{})
	if err != nil {
		return executor.JobStatus{}, engineerr.Wrap(engineerr.KindExecutionFailed, "getting k8s job", err)
	}
	return statusFromJob(job), nil
}

func jobNameFromHandle(handle executor.JobHandle) string {
	return jobName(handle.ID)
}

func statusFromJob(job *batchv1.Job) executor.JobStatus {
	switch {
	case job.Status.Succeeded > 0:
		return executor.JobStatus{Kind: executor.JobSucceeded}
	case job.Status.Failed > 0:
		msg := "job failed"
		for _, cond := range job.Status.Conditions {
			if cond.Type == batchv1.JobFailed {
				msg = cond.Message
				break
			}
		}
		return executor.JobStatus{Kind: executor.JobFailed, Message: msg}
	case job.Status.Active > 0:
		var started *time.Time
		if job.Status.StartTime != nil {
			t := job.Status.StartTime.Time
			started = &t
		}
		return executor.JobStatus{Kind: executor.JobRunning, StartedAt: started}
	case job.Status.StartTime == nil:
		return executor.JobStatus{Kind: executor.JobPending}
	default:
		return executor.JobStatus{Kind: executor.JobRunning}
	}
}

func (e *Executor) Wait(ctx context.Context, handle executor.JobHandle) (executor.JobStatus, error) {
	for {
		status, err := e.Status(ctx, handle)
		if err != nil {
			return executor.JobStatus{}, err
		}
		if status.Kind.IsTerminal() {
			return e.attachExitCode(ctx, handle, status), nil
		}
		select {
		case <-ctx.Done():
			return executor.JobStatus{}, engineerr.Wrap(engineerr.KindCancelled, "wait cancelled", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// attachExitCode reads the terminated container's exit code off the pod,
// since batch/v1.Job itself does not surface it.
func (e *Executor) attachExitCode(ctx context.Context, handle executor.JobHandle, status executor.JobStatus) executor.JobStatus {
	pods, err := e.client.CoreV1().Pods(e.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", labelJobID, handle.ID.String()),
	})
	if err != nil || len(pods.Items) == 0 {
		return status
	}
	cs := pods.Items[0].Status.ContainerStatuses
	if len(cs) == 0 || cs[0].State.Terminated == nil {
		return status
	}
	code := int(cs[0].State.Terminated.ExitCode)
	status.ExitCode = &code
	return status
}

func (e *Executor) Cancel(ctx context.Context, handle executor.JobHandle) error {
	policy := metav1.DeletePropagationBackground
	err := e.client.BatchV1().Jobs(e.namespace).Delete(ctx, jobNameFromHandle(handle), metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return engineerr.Wrap(engineerr.KindExecutionFailed, "deleting k8s job", err)
	}
	return nil
}

func (e *Executor) ExecInteractive(ctx context.Context, handle executor.JobHandle, command []string) (*executor.TerminalSession, error) {
	return nil, engineerr.New(engineerr.KindInvalidInput, "interactive exec is not yet implemented for the kubernetes executor")
}
