// Package spawn launches the agent subprocess and exposes its stdio as
// pipes, either directly on the host or through an exec in a running
// Docker container.
package spawn

import (
	"context"
	"io"
)

// Proc is a running agent process with attached I/O streams.
type Proc struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	done chan struct{}
	wait func() (int, error)
	kill func() error
}

// NewProc wraps already-connected streams into a Proc. wait blocks until
// the process exits and returns its exit code; kill forces termination and
// may be nil when the launcher has no way to signal the process.
func NewProc(stdin io.WriteCloser, stdout, stderr io.ReadCloser, wait func() (int, error), kill func() error) *Proc {
	return &Proc{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		done:   make(chan struct{}),
		wait:   wait,
		kill:   kill,
	}
}

// Done returns a channel closed once Wait has observed process exit.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its exit code.
func (p *Proc) Wait() (int, error) {
	code, err := p.wait()
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	return code, err
}

// Kill forces the process to terminate.
func (p *Proc) Kill() error {
	if p.kill == nil {
		return nil
	}
	return p.kill()
}

// Close closes all I/O streams.
func (p *Proc) Close() error {
	if p.Stdin != nil {
		_ = p.Stdin.Close()
	}
	if p.Stdout != nil {
		_ = p.Stdout.Close()
	}
	if p.Stderr != nil {
		_ = p.Stderr.Close()
	}
	return nil
}

// Launcher starts agent processes. Implementations differ only in where
// the process runs; callers treat the returned Proc identically.
type Launcher interface {
	Launch(ctx context.Context, cmd []string, env []string, workDir string) (*Proc, error)
	Name() string
}
