// Package proc wraps a spawned agent process with the line protocol:
// correlated request/response over stdin/stdout plus an event stream.
package proc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/marrowlabs/ferryman/internal/logger"
	"github.com/marrowlabs/ferryman/internal/metrics"
	"github.com/marrowlabs/ferryman/internal/spawn"
	"github.com/marrowlabs/ferryman/internal/wire"
)

// ErrProcessExited is returned by in-flight and subsequent requests once
// the agent process has gone away.
var ErrProcessExited = errors.New("agent process exited")

// ErrRequestTimeout is returned when the agent does not answer a
// correlated command within the deadline.
var ErrRequestTimeout = errors.New("agent request timed out")

// ProtocolError is a command the agent answered with success=false.
type ProtocolError struct {
	Command string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent rejected %s", e.Command)
	}
	return fmt.Sprintf("agent rejected %s: %s", e.Command, e.Message)
}

// EventHandler receives unsolicited agent events in stdout order.
type EventHandler func(*wire.Event)

// ExitHandler is called once when the process exits, after all pending
// requests have been rejected.
type ExitHandler func(code int, err error)

const maxLineSize = 1024 * 1024

// Client drives one agent process. Writes are serialized; reads happen on
// a single goroutine so event order matches stdout order.
type Client struct {
	proc *spawn.Proc

	nextID  atomic.Int64
	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	pending map[string]chan *wire.Response
	exited  bool

	onEvent    EventHandler
	onExit     ExitHandler
	onResponse func(*wire.Response)

	// throttles malformed-line logging so a babbling process cannot
	// flood the log
	badLineLimit *rate.Limiter

	closeOnce sync.Once
}

// New starts the protocol loops over an already-launched process.
// onEvent and onExit may be nil.
func New(p *spawn.Proc, onEvent EventHandler, onExit ExitHandler) *Client {
	c := &Client{
		proc:         p,
		enc:          json.NewEncoder(p.Stdin),
		pending:      make(map[string]chan *wire.Response),
		onEvent:      onEvent,
		onExit:       onExit,
		badLineLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	go c.readLoop()
	go c.drainStderr()
	go c.waitLoop()
	return c
}

// ObserveResponses registers a handler that sees every response line after
// correlation dispatch. Call before the first line arrives.
func (c *Client) ObserveResponses(fn func(*wire.Response)) {
	c.onResponse = fn
}

// Send writes a fire-and-forget command without assigning a correlation ID.
func (c *Client) Send(cmd wire.Command) error {
	c.mu.Lock()
	exited := c.exited
	c.mu.Unlock()
	if exited {
		return ErrProcessExited
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(cmd); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Type, err)
	}
	return nil
}

// Request sends a command with a fresh correlation ID and blocks until the
// matching response arrives, the timeout fires, the context is cancelled,
// or the process exits.
func (c *Client) Request(ctx context.Context, cmd wire.Command, timeout time.Duration) (*wire.Response, error) {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	cmd.ID = id

	ch := make(chan *wire.Response, 1)
	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return nil, ErrProcessExited
	}
	c.pending[id] = ch
	c.mu.Unlock()
	metrics.PendingRequests.Inc()

	start := time.Now()
	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		metrics.PendingRequests.Dec()
	}

	if err := func() error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return c.enc.Encode(cmd)
	}(); err != nil {
		cleanup()
		metrics.RecordAgentRequest(cmd.Type, "write_error", time.Since(start).Seconds())
		return nil, fmt.Errorf("write %s: %w", cmd.Type, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		cleanup()
		if resp == nil {
			metrics.RecordAgentRequest(cmd.Type, "process_exit", time.Since(start).Seconds())
			return nil, ErrProcessExited
		}
		if !resp.Success {
			metrics.RecordAgentRequest(cmd.Type, "rejected", time.Since(start).Seconds())
			return nil, &ProtocolError{Command: cmd.Type, Message: resp.Error}
		}
		metrics.RecordAgentRequest(cmd.Type, "ok", time.Since(start).Seconds())
		return resp, nil
	case <-timer.C:
		cleanup()
		metrics.RecordAgentRequest(cmd.Type, "timeout", time.Since(start).Seconds())
		return nil, fmt.Errorf("%s after %s: %w", cmd.Type, timeout, ErrRequestTimeout)
	case <-ctx.Done():
		cleanup()
		metrics.RecordAgentRequest(cmd.Type, "cancelled", time.Since(start).Seconds())
		return nil, ctx.Err()
	}
}

// Close kills the process and closes its streams. Safe to call more than
// once and after exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.proc.Kill()
		_ = c.proc.Close()
	})
	return err
}

// Done returns a channel closed when the process has exited.
func (c *Client) Done() <-chan struct{} {
	return c.proc.Done()
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.proc.Stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		line, err := wire.DecodeLine(raw)
		if err != nil {
			metrics.MalformedLines.Inc()
			if c.badLineLimit.Allow() {
				logger.Error("agent: skipping malformed line: %v", err)
			}
			continue
		}

		if line.Response != nil {
			c.dispatchResponse(line.Response)
			// Responses are also observable for session-level logging.
			if c.onResponse != nil {
				c.onResponse(line.Response)
			}
			continue
		}
		metrics.RecordEvent(string(line.Event.Type))
		if c.onEvent != nil {
			c.onEvent(line.Event)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("agent: stdout read: %v", err)
	}
}

func (c *Client) dispatchResponse(resp *wire.Response) {
	// Remove the entry before sending so a duplicate id can never target
	// the same channel twice; the 1-buffered send then cannot block even
	// if the waiter has already timed out.
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if !ok {
		// Late response after timeout; nothing is waiting.
		logger.Info("agent: dropping response for unknown id %q (command %s)", resp.ID, resp.Command)
		return
	}
	ch <- resp
}

func (c *Client) drainStderr() {
	scanner := bufio.NewScanner(c.proc.Stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if text := scanner.Text(); text != "" {
			logger.Info("agent stderr: %s", text)
		}
	}
}

func (c *Client) waitLoop() {
	code, err := c.proc.Wait()

	c.mu.Lock()
	c.exited = true
	waiting := c.pending
	c.pending = make(map[string]chan *wire.Response)
	c.mu.Unlock()

	// Reject every in-flight request. The non-blocking send covers the
	// window where a response landed just before exit.
	for _, ch := range waiting {
		select {
		case ch <- nil:
		default:
		}
	}

	if c.onExit != nil {
		c.onExit(code, err)
	}
}
