package spawn

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerLauncher runs the agent as an exec inside an already-running
// container. The container is managed externally; this only attaches.
type DockerLauncher struct {
	client      *client.Client
	containerID string
}

func NewDockerLauncher(containerID string) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("spawn: create docker client: %w", err)
	}
	return &DockerLauncher{client: cli, containerID: containerID}, nil
}

func (l *DockerLauncher) Name() string {
	return "docker"
}

// Ping verifies connectivity to the Docker daemon.
func (l *DockerLauncher) Ping(ctx context.Context) error {
	_, err := l.client.Ping(ctx)
	return err
}

func (l *DockerLauncher) Close() error {
	return l.client.Close()
}

func (l *DockerLauncher) Launch(ctx context.Context, cmd []string, env []string, workDir string) (*Proc, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("spawn: empty command")
	}

	execConfig := dockercontainer.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  true,
		Tty:          false,
	}

	execResp, err := l.client.ContainerExecCreate(ctx, l.containerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("spawn: create exec: %w", err)
	}

	attachResp, err := l.client.ContainerExecAttach(ctx, execResp.ID, dockercontainer.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("spawn: attach exec: %w", err)
	}

	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	// Demux the multiplexed attach stream in the background.
	go func() {
		defer func() { _ = stdoutWriter.Close() }()
		defer func() { _ = stderrWriter.Close() }()
		_, _ = stdcopy.StdCopy(stdoutWriter, stderrWriter, attachResp.Reader)
	}()

	execID := execResp.ID
	wait := func() (int, error) {
		for {
			inspectResp, err := l.client.ContainerExecInspect(ctx, execID)
			if err != nil {
				return -1, fmt.Errorf("spawn: inspect exec: %w", err)
			}
			if !inspectResp.Running {
				return inspectResp.ExitCode, nil
			}
			select {
			case <-ctx.Done():
				return -1, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	// Docker has no exec kill API; closing the hijacked connection drops
	// stdin and lets the agent exit on EOF.
	kill := func() error {
		attachResp.Close()
		return nil
	}

	stdin := &hijackedWriteCloser{conn: attachResp}
	return NewProc(stdin, stdoutReader, stderrReader, wait, kill), nil
}

// hijackedWriteCloser wraps a HijackedResponse to implement io.WriteCloser.
type hijackedWriteCloser struct {
	conn types.HijackedResponse
}

func (h *hijackedWriteCloser) Write(p []byte) (n int, err error) {
	return h.conn.Conn.Write(p)
}

func (h *hijackedWriteCloser) Close() error {
	h.conn.Close()
	return nil
}
