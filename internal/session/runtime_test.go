package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/marrowlabs/ferryman/internal/wire"
)

func TestPromptResolvesAtAgentEnd(t *testing.T) {
	n := &recordingNotifier{}
	s, f := newTestSession(t, n, nil)

	result := make(chan StopReason, 1)
	errCh := make(chan error, 1)
	go func() {
		stop, err := s.Prompt(context.Background(), "hello agent", nil)
		result <- stop
		errCh <- err
	}()

	if _, ok := f.waitForCommand(wire.CmdPrompt); !ok {
		t.Fatal("prompt command never reached the agent")
	}

	// Several turns for one prompt; only agent_end resolves.
	f.emit(wire.Event{Type: wire.EventAgentStart})
	f.emit(wire.Event{Type: wire.EventTurnStart})
	f.emit(wire.Event{Type: wire.EventTurnEnd})
	f.emit(wire.Event{Type: wire.EventTurnStart})

	select {
	case <-result:
		t.Fatal("prompt resolved before agent_end")
	case <-time.After(50 * time.Millisecond):
	}

	f.emit(wire.Event{Type: wire.EventTurnEnd})
	f.emit(wire.Event{Type: wire.EventAgentEnd, StopReason: "stop"})

	select {
	case stop := <-result:
		if err := <-errCh; err != nil {
			t.Fatalf("Prompt() error = %v", err)
		}
		if stop != StopEndTurn {
			t.Errorf("Prompt() stop = %q, want %q", stop, StopEndTurn)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prompt did not resolve at agent_end")
	}

	// A duplicate terminal event must be a no-op.
	f.emit(wire.Event{Type: wire.EventAgentEnd, StopReason: "stop"})
	time.Sleep(20 * time.Millisecond)
}

func TestSecondPromptRejected(t *testing.T) {
	s, f := newTestSession(t, nil, nil)

	go func() {
		_, _ = s.Prompt(context.Background(), "first", nil)
	}()
	if _, ok := f.waitForCommand(wire.CmdPrompt); !ok {
		t.Fatal("first prompt never sent")
	}

	if _, err := s.Prompt(context.Background(), "second", nil); !errors.Is(err, ErrPromptInProgress) {
		t.Fatalf("second Prompt() error = %v, want ErrPromptInProgress", err)
	}

	// The first prompt is untouched and still resolves normally.
	f.emit(wire.Event{Type: wire.EventAgentEnd, StopReason: "stop"})
}

func TestCancelResolvesOnce(t *testing.T) {
	s, f := newTestSession(t, nil, nil)

	result := make(chan StopReason, 1)
	go func() {
		stop, err := s.Prompt(context.Background(), "long task", nil)
		if err != nil {
			t.Errorf("Prompt() error = %v", err)
		}
		result <- stop
	}()
	if _, ok := f.waitForCommand(wire.CmdPrompt); !ok {
		t.Fatal("prompt never sent")
	}

	s.Cancel()

	select {
	case stop := <-result:
		if stop != StopCancelled {
			t.Errorf("Prompt() stop = %q, want %q", stop, StopCancelled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not resolve the prompt")
	}

	if _, ok := f.waitForCommand(wire.CmdAbort); !ok {
		t.Error("abort command never sent to agent")
	}

	// The subprocess keeps emitting for the cancelled run; all ignored.
	f.emit(wire.Event{Type: wire.EventTurnEnd})
	f.emit(wire.Event{Type: wire.EventAgentEnd, StopReason: "aborted"})
	time.Sleep(20 * time.Millisecond)

	// Slot is free again.
	go func() {
		_, _ = s.Prompt(context.Background(), "next", nil)
	}()
	deadline := time.After(2 * time.Second)
	for {
		prompts := 0
		for _, cmd := range f.sent() {
			if cmd.Type == wire.CmdPrompt {
				prompts++
			}
		}
		if prompts == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("second prompt blocked after cancel")
		case <-time.After(5 * time.Millisecond):
		}
	}
	f.emit(wire.Event{Type: wire.EventAgentEnd, StopReason: "stop"})
}

func TestProcessExitRejectsPrompt(t *testing.T) {
	s, f := newTestSession(t, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Prompt(context.Background(), "doomed", nil)
		errCh <- err
	}()
	if _, ok := f.waitForCommand(wire.CmdPrompt); !ok {
		t.Fatal("prompt never sent")
	}

	f.exit(1)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Prompt() error = nil after process exit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prompt not rejected after process exit")
	}

	if st := s.Status(); st.State != "error" {
		t.Errorf("status = %q, want error", st.State)
	}
}

func TestStreamingDeltas(t *testing.T) {
	n := &recordingNotifier{}
	s, f := newTestSession(t, n, nil)
	_ = s

	f.emit(wire.Event{Type: wire.EventMessageUpdate,
		Delta: &wire.MessageDelta{Type: "thinking_delta", Thinking: "pondering"}})
	f.emit(wire.Event{Type: wire.EventMessageUpdate,
		Delta: &wire.MessageDelta{Type: "text_delta", Text: "part one "}})
	f.emit(wire.Event{Type: wire.EventMessageUpdate,
		Delta: &wire.MessageDelta{Type: "text_delta", Text: "part two"}})

	deadline := time.After(2 * time.Second)
	for {
		var text, thought string
		for _, u := range n.all() {
			switch u.Kind {
			case UpdateAgentText:
				text += u.Text
			case UpdateAgentThought:
				thought += u.Text
			}
		}
		if text == "part one part two" && thought == "pondering" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("streams not assembled: text=%q thought=%q", text, thought)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestConfigMutationRefetchesState(t *testing.T) {
	n := &recordingNotifier{}

	s, f := newTestSession(t, n, func(cmd wire.Command) *wire.Response {
		if cmd.Type == wire.CmdGetState {
			data, _ := json.Marshal(wire.SessionState{
				ThinkingLevel:         "medium",
				AutoCompactionEnabled: true,
			})
			return &wire.Response{Success: true, Data: data}
		}
		return nil
	})

	if err := s.SetOption(context.Background(), "auto_compaction", "on"); err != nil {
		t.Fatalf("SetOption() error = %v", err)
	}

	setCmd, ok := f.waitForCommand(wire.CmdSetAutoCompaction)
	if !ok {
		t.Fatal("set_auto_compaction never sent")
	}
	if !argBool(t, setCmd, "enabled") {
		t.Error("set_auto_compaction enabled = false, want true")
	}
	if _, ok := f.waitForCommand(wire.CmdGetState); !ok {
		t.Fatal("state not re-fetched after mutation")
	}

	var config []ConfigOption
	for _, u := range n.all() {
		if u.Kind == UpdateConfig {
			config = u.Config
		}
	}
	if config == nil {
		t.Fatal("no config broadcast after mutation")
	}
	found := false
	for _, opt := range config {
		if opt.ID == "auto_compaction" {
			found = true
			if opt.Value != "on" {
				t.Errorf("auto_compaction value = %q, want on", opt.Value)
			}
		}
	}
	if !found {
		t.Error("auto_compaction missing from config broadcast")
	}
}

func TestUnknownOptionRejected(t *testing.T) {
	s, f := newTestSession(t, nil, nil)

	err := s.SetOption(context.Background(), "paint_color", "blue")
	if !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("SetOption() error = %v, want ErrUnknownOption", err)
	}
	// Rejected before any subprocess interaction.
	for _, cmd := range f.sent() {
		t.Errorf("unexpected command sent: %s", cmd.Type)
	}
}

func TestReplayHistory(t *testing.T) {
	n := &recordingNotifier{}
	history := []wire.Message{
		{Role: "user", Content: []wire.ContentBlock{{Type: "text", Text: "question"}}},
		{Role: "assistant", Content: []wire.ContentBlock{
			{Type: "thinking", Thinking: "let me think"},
			{Type: "text", Text: "answer"},
		}},
	}

	s, _ := newTestSession(t, n, func(cmd wire.Command) *wire.Response {
		if cmd.Type == wire.CmdGetMessages {
			data, _ := json.Marshal(history)
			return &wire.Response{Success: true, Data: data}
		}
		return nil
	})

	if err := s.replayHistory(context.Background()); err != nil {
		t.Fatalf("replayHistory() error = %v", err)
	}

	var kinds []UpdateKind
	for _, u := range n.all() {
		kinds = append(kinds, u.Kind)
	}
	want := []UpdateKind{UpdateUserText, UpdateAgentThought, UpdateAgentText}
	if len(kinds) != len(want) {
		t.Fatalf("replay emitted %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("replay[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestSlashCommandShortCircuits(t *testing.T) {
	n := &recordingNotifier{}
	s, f := newTestSession(t, n, nil)

	stop, err := s.Prompt(context.Background(), "/help", nil)
	if err != nil {
		t.Fatalf("Prompt(/help) error = %v", err)
	}
	if stop != StopEndTurn {
		t.Errorf("stop = %q, want %q", stop, StopEndTurn)
	}
	for _, cmd := range f.sent() {
		if cmd.Type == wire.CmdPrompt {
			t.Error("slash command forwarded as prompt")
		}
	}
	if !strings.Contains(n.texts(), "/bash") {
		t.Errorf("help output missing commands: %q", n.texts())
	}
}

func TestUsageSummaryAppended(t *testing.T) {
	n := &recordingNotifier{}
	s, f := newTestSession(t, n, nil)

	go func() {
		_, _ = s.Prompt(context.Background(), "do it", nil)
	}()
	if _, ok := f.waitForCommand(wire.CmdPrompt); !ok {
		t.Fatal("prompt never sent")
	}
	f.emit(wire.Event{Type: wire.EventAgentEnd, StopReason: "stop",
		Usage: &wire.Usage{Input: 900, Output: 100, Total: 1000, Cost: 0.05}})

	deadline := time.After(2 * time.Second)
	for {
		if strings.Contains(n.texts(), "$0.0500") {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("usage summary missing from output: %q", n.texts())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTitleInference(t *testing.T) {
	s, f := newTestSession(t, nil, nil)

	long := strings.Repeat("x", 80)
	go func() {
		_, _ = s.Prompt(context.Background(), long+"\nmore text", nil)
	}()
	if _, ok := f.waitForCommand(wire.CmdPrompt); !ok {
		t.Fatal("prompt never sent")
	}

	title := s.Title()
	if !strings.HasSuffix(title, "…") {
		t.Errorf("title %q not truncated with ellipsis", title)
	}
	if len([]rune(title)) != maxTitleLen+1 {
		t.Errorf("title length = %d runes, want %d", len([]rune(title)), maxTitleLen+1)
	}
	f.emit(wire.Event{Type: wire.EventAgentEnd, StopReason: "stop"})
}
