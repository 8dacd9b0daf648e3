// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package docker implements the local container Executor backend on top of
// the Docker Engine API, grounded on the original implementation's
// LocalDockerExecutor (buildit-executor/src/docker.rs).
package docker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	moby "github.com/moby/moby/client"
	"github.com/moby/moby/errdefs"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/buildit-ci/buildit/internal/executor"
	"github.com/buildit-ci/buildit/internal/logger"
)

// Executor runs jobs as local Docker containers.
type Executor struct {
	cli *moby.Client
	log logger.Logger
}

// New builds an Executor from a client configured the way the Docker CLI
// itself resolves its endpoint (DOCKER_HOST, TLS env vars, or the default
// local socket).
func New(cli *moby.Client, log logger.Logger) *Executor {
	if log == nil {
		log = logger.Default
	}
	return &Executor{cli: cli, log: log}
}

func (e *Executor) Name() string { return "docker" }

func containerName(jobID fmt.Stringer) string {
	return "buildit-job-" + jobID.String()
}

func (e *Executor) CanExecute(ctx context.Context) bool {
	_, err := e.cli.Ping(ctx)
	return err == nil
}

func (e *Executor) Spawn(ctx context.Context, spec executor.JobSpec) (executor.JobHandle, error) {
	rc, err := e.cli.ImageCreate(ctx, spec.Image, moby.ImageCreateOptions{})
	if err != nil {
		return executor.JobHandle{}, engineerr.Wrap(engineerr.KindExecutionFailed, "pulling image", err)
	}
	defer rc.Close()
	drainPullProgress(ctx, rc, e.log)

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	var cmd []string
	if len(spec.Command) > 0 {
		cmd = spec.Command
	}

	name := containerName(spec.ID)
	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Cmd:          cmd,
		Env:          env,
		WorkingDir:   spec.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}, &container.HostConfig{
		Binds: volumeBinds(spec.Volumes),
	}, nil, nil, name)
	if err != nil {
		return executor.JobHandle{}, engineerr.Wrap(engineerr.KindExecutionFailed, "creating container", err)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return executor.JobHandle{}, engineerr.Wrap(engineerr.KindExecutionFailed, "starting container", err)
	}

	return executor.JobHandle{ID: spec.ID, ExecutorID: resp.ID, ExecutorName: e.Name()}, nil
}

func volumeBinds(mounts []executor.VolumeMount) []string {
	binds := make([]string, 0, len(mounts))
	for _, m := range mounts {
		binds = append(binds, m.Name+":"+m.Path)
	}
	return binds
}

func drainPullProgress(ctx context.Context, rc io.Reader, log logger.Logger) {
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		log.Debugf("image pull: %s", scanner.Text())
	}
}

func (e *Executor) Logs(ctx context.Context, handle executor.JobHandle) (<-chan executor.LogLine, error) {
	rc, err := e.cli.ContainerLogs(ctx, handle.ExecutorID, container.LogsOptions{
		Follow:     true,
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindExecutionFailed, "opening container logs", err)
	}

	out := make(chan executor.LogLine, 100)
	go func() {
		defer close(out)
		defer rc.Close()
		scanLogLines(ctx, rc, out)
	}()
	return out, nil
}

// scanLogLines demultiplexes the Docker log stream. The wire format tags
// each frame with a stream byte; since the BuildIt LogLine model only needs
// stdout/stderr discrimination (not raw frame boundaries), lines are split
// on newline within each frame's payload.
func scanLogLines(ctx context.Context, rc io.Reader, out chan<- executor.LogLine) {
	reader := bufio.NewReader(rc)
	for {
		header := make([]byte, 8)
		if _, err := io.ReadFull(reader, header); err != nil {
			return
		}
		streamType := header[0]
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return
		}

		stream := executor.LogStreamStdout
		if streamType == 2 {
			stream = executor.LogStreamStderr
		}

		for _, line := range strings.Split(strings.TrimRight(string(payload), "\n"), "\n") {
			if line == "" {
				continue
			}
			ts, content := splitTimestamp(line)
			select {
			case out <- executor.LogLine{Stream: stream, Content: content, Timestamp: ts}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func splitTimestamp(line string) (time.Time, string) {
	idx := strings.IndexByte(line, ' ')
	if idx <= 0 {
		return time.Time{}, line
	}
	ts, err := time.Parse(time.RFC3339Nano, line[:idx])
	if err != nil {
		return time.Time{}, line
	}
	return ts, line[idx+1:]
}

func (e *Executor) Status(ctx context.Context, handle executor.JobHandle) (executor.JobStatus, error) {
	inspect, err := e.cli.ContainerInspect(ctx, handle.ExecutorID)
	if err != nil {
		return executor.JobStatus{}, engineerr.Wrap(engineerr.KindExecutionFailed, "inspecting container", err)
	}
	return statusFromInspect(inspect), nil
}

func statusFromInspect(inspect container.InspectResponse) executor.JobStatus {
	state := inspect.State
	if state == nil {
		return executor.JobStatus{Kind: executor.JobPending}
	}
	if state.Running {
		var started *time.Time
		if t, err := time.Parse(time.RFC3339Nano, state.StartedAt); err == nil {
			started = &t
		}
		return executor.JobStatus{Kind: executor.JobRunning, StartedAt: started}
	}
	if state.Paused {
		return executor.JobStatus{Kind: executor.JobPending}
	}
	exitCode := state.ExitCode
	if exitCode == 0 {
		return executor.JobStatus{Kind: executor.JobSucceeded, ExitCode: &exitCode}
	}
	return executor.JobStatus{Kind: executor.JobFailed, ExitCode: &exitCode, Message: state.Error}
}

func (e *Executor) Wait(ctx context.Context, handle executor.JobHandle) (executor.JobStatus, error) {
	waitC, errC := e.cli.ContainerWait(ctx, handle.ExecutorID, container.WaitConditionNotRunning)
	select {
	case err := <-errC:
		return executor.JobStatus{}, engineerr.Wrap(engineerr.KindExecutionFailed, "waiting on container", err)
	case <-waitC:
	case <-ctx.Done():
		return executor.JobStatus{}, engineerr.Wrap(engineerr.KindCancelled, "wait cancelled", ctx.Err())
	}
	return e.Status(ctx, handle)
}

func (e *Executor) Cancel(ctx context.Context, handle executor.JobHandle) error {
	timeout := 10
	if err := e.cli.ContainerStop(ctx, handle.ExecutorID, container.StopOptions{Timeout: &timeout}); err != nil {
		e.log.Warnf("stopping container %s: %v", handle.ExecutorID, err)
	}
	return e.cleanup(ctx, handle)
}

func (e *Executor) cleanup(ctx context.Context, handle executor.JobHandle) error {
	err := e.cli.ContainerRemove(ctx, handle.ExecutorID, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return engineerr.Wrap(engineerr.KindExecutionFailed, "removing container", err)
	}
	return nil
}

func (e *Executor) ExecInteractive(ctx context.Context, handle executor.JobHandle, command []string) (*executor.TerminalSession, error) {
	return nil, engineerr.New(engineerr.KindInvalidInput, "interactive exec is not yet implemented for the docker executor")
}
