package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const defaultRunTimeout = 5 * time.Minute

// Ensure DockerExecutor implements Executor.
var _ Executor = (*DockerExecutor)(nil)

// DockerExecutor runs the vendored computer-use demo inside its container
// via docker exec and decodes the NDJSON events it prints. The prompt is
// handed over through the AGENT_MESSAGE environment variable, which is the
// contract the demo's entry script expects.
type DockerExecutor struct {
	cli           *client.Client
	containerName string
	command       []string
	timeout       time.Duration
}

// NewDockerExecutor creates an executor targeting a running agent container.
func NewDockerExecutor(containerName string, command []string, timeout time.Duration) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	slog.Info("Agent executor initialized", "container", containerName)
	return &DockerExecutor{
		cli:           cli,
		containerName: containerName,
		command:       command,
		timeout:       timeout,
	}, nil
}

// Close releases the Docker client.
func (e *DockerExecutor) Close() error {
	if err := e.cli.Close(); err != nil {
		return fmt.Errorf("close docker client: %w", err)
	}
	return nil
}

// Run execs the agent command and yields its event stream. The invocation
// is bounded by the executor timeout on top of the caller's context.
func (e *DockerExecutor) Run(ctx context.Context, req Request) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		inspect, err := e.cli.ContainerInspect(ctx, e.containerName)
		if err != nil {
			if errdefs.IsNotFound(err) {
				yield(nil, fmt.Errorf("agent container %s not found", e.containerName))
				return
			}
			yield(nil, fmt.Errorf("inspect agent container %s: %w", e.containerName, err))
			return
		}
		if !inspect.State.Running {
			yield(nil, fmt.Errorf("agent container %s is not running", e.containerName))
			return
		}

		execConfig := container.ExecOptions{
			AttachStdout: true,
			AttachStderr: true,
			Tty:          true,
			Cmd:          e.command,
			Env:          []string{"AGENT_MESSAGE=" + req.Prompt},
		}

		resp, err := e.cli.ContainerExecCreate(ctx, e.containerName, execConfig)
		if err != nil {
			yield(nil, fmt.Errorf("create agent exec: %w", err))
			return
		}

		attach, err := e.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{Tty: true})
		if err != nil {
			yield(nil, fmt.Errorf("attach agent exec %s: %w", resp.ID, err))
			return
		}
		defer attach.Close()

		slog.Info("Agent invocation started",
			"session_id", req.SessionID, "exec_id", resp.ID, "history_len", len(req.History))

		for ev, err := range DecodeEvents(attach.Reader) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}

		execInspect, err := e.cli.ContainerExecInspect(ctx, resp.ID)
		if err != nil {
			slog.Warn("Failed to inspect agent exec", "exec_id", resp.ID, "error", err)
			return
		}
		if execInspect.ExitCode != 0 {
			yield(nil, fmt.Errorf("agent command exited with code %d", execInspect.ExitCode))
		}
	}
}
