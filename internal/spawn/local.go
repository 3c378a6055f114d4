package spawn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// LocalLauncher runs the agent directly on the host with os/exec.
type LocalLauncher struct{}

func NewLocalLauncher() *LocalLauncher {
	return &LocalLauncher{}
}

func (l *LocalLauncher) Name() string {
	return "local"
}

func (l *LocalLauncher) Launch(ctx context.Context, cmd []string, env []string, workDir string) (*Proc, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("spawn: empty command")
	}

	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Dir = workDir
	c.Env = append(os.Environ(), env...)

	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: stdin pipe: %w", err)
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: stdout pipe: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: stderr pipe: %w", err)
	}

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("spawn: start %s: %w", cmd[0], err)
	}

	wait := func() (int, error) {
		err := c.Wait()
		if err == nil {
			return 0, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	kill := func() error {
		if c.Process == nil {
			return nil
		}
		return c.Process.Kill()
	}

	return NewProc(stdin, stdout, stderr, wait, kill), nil
}
