package session

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/marrowlabs/ferryman/internal/proc"
	"github.com/marrowlabs/ferryman/internal/spawn"
	"github.com/marrowlabs/ferryman/internal/wire"
)

// recordingNotifier captures every outward update for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	updates []Update
}

func (n *recordingNotifier) Notify(_ string, u Update) {
	n.mu.Lock()
	n.updates = append(n.updates, u)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []Update {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Update, len(n.updates))
	copy(out, n.updates)
	return out
}

func (n *recordingNotifier) texts() string {
	var b []byte
	for _, u := range n.all() {
		if u.Kind == UpdateAgentText {
			b = append(b, u.Text...)
		}
	}
	return string(b)
}

// fakeAgent scripts the subprocess side: each correlated command is passed
// to respond, whose response is written back; events are emitted on demand.
type fakeAgent struct {
	t       *testing.T
	stdout  *io.PipeWriter
	respond func(cmd wire.Command) *wire.Response

	mu       sync.Mutex
	commands []wire.Command

	exitCode chan int
	proc     *spawn.Proc
}

func newFakeAgent(t *testing.T, respond func(cmd wire.Command) *wire.Response) *fakeAgent {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	_ = stderrW

	f := &fakeAgent{t: t, stdout: stdoutW, respond: respond, exitCode: make(chan int, 1)}
	wait := func() (int, error) { return <-f.exitCode, nil }
	kill := func() error { f.exit(137); return nil }
	f.proc = spawn.NewProc(stdinW, stdoutR, stderrR, wait, kill)

	go func() {
		scanner := bufio.NewScanner(stdinR)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var cmd wire.Command
			if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
				continue
			}
			f.mu.Lock()
			f.commands = append(f.commands, cmd)
			f.mu.Unlock()

			if cmd.ID == "" {
				continue
			}
			resp := &wire.Response{ID: cmd.ID, Type: "response", Command: cmd.Type, Success: true}
			if f.respond != nil {
				if r := f.respond(cmd); r != nil {
					r.ID = cmd.ID
					r.Type = "response"
					r.Command = cmd.Type
					resp = r
				}
			}
			f.writeJSON(resp)
		}
	}()
	return f
}

func (f *fakeAgent) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		f.t.Errorf("fake agent: marshal: %v", err)
		return
	}
	_, _ = f.stdout.Write(append(data, '\n'))
}

func (f *fakeAgent) emit(ev wire.Event) {
	f.writeJSON(ev)
}

func (f *fakeAgent) exit(code int) {
	select {
	case f.exitCode <- code:
		_ = f.stdout.Close()
	default:
	}
}

// sent returns the commands received so far, most recent last.
func (f *fakeAgent) sent() []wire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Command, len(f.commands))
	copy(out, f.commands)
	return out
}

// waitForCommand blocks until a command of the given type was received.
func (f *fakeAgent) waitForCommand(cmdType string) (wire.Command, bool) {
	deadline := time.After(2 * time.Second)
	for {
		for _, cmd := range f.sent() {
			if cmd.Type == cmdType {
				return cmd, true
			}
		}
		select {
		case <-deadline:
			return wire.Command{}, false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// newTestSession builds a session wired to a fake agent.
func newTestSession(t *testing.T, notifier Notifier, respond func(cmd wire.Command) *wire.Response) (*Session, *fakeAgent) {
	t.Helper()
	if notifier == nil {
		notifier = NopNotifier{}
	}
	f := newFakeAgent(t, respond)

	workDir := t.TempDir()
	s := &Session{
		ID:             "test-session",
		WorkDir:        workDir,
		notifier:       notifier,
		tools:          newToolTracker(workDir),
		models:         newModelCatalog(),
		requestTimeout: 2 * time.Second,
		replayTimeout:  5 * time.Second,
	}
	s.status = newStatusReporter(s.ID, notifier, true)
	s.setClient(proc.New(f.proc, s.handleEvent, s.handleExit))

	t.Cleanup(func() { s.Close() })
	return s, f
}

// argBool reads a bool field out of a command's data payload.
func argBool(t *testing.T, cmd wire.Command, key string) bool {
	t.Helper()
	data, ok := cmd.Data.(map[string]any)
	if !ok {
		// Data round-trips through JSON in the harness.
		t.Fatalf("command %s data = %T, want map", cmd.Type, cmd.Data)
	}
	v, ok := data[key].(bool)
	if !ok {
		t.Fatalf("command %s data[%q] = %v, want bool", cmd.Type, key, data[key])
	}
	return v
}
