// Package session implements the adapter core: per-session agent process
// ownership, event routing, tool-call tracking, prompt lifecycle, and the
// session directory with cross-restart persistence.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/marrowlabs/ferryman/internal/logger"
	"github.com/marrowlabs/ferryman/internal/metrics"
	"github.com/marrowlabs/ferryman/internal/proc"
	"github.com/marrowlabs/ferryman/internal/wire"
)

var (
	// ErrPromptInProgress is returned when a prompt arrives while
	// another is still pending. Prompts are never queued.
	ErrPromptInProgress = errors.New("prompt already in progress")

	// ErrUnknownSession is returned when a session id matches no live
	// session, no persisted mapping, and no transcript on disk.
	ErrUnknownSession = errors.New("unknown session")

	// ErrUnknownOption is returned for unrecognized config option ids.
	ErrUnknownOption = errors.New("unknown config option")
)

const maxTitleLen = 50

// TurnArchiver records completed turn usage. Implemented by the usage
// store; best-effort, never blocks prompt completion.
type TurnArchiver interface {
	ArchiveTurn(sessionID string, u wire.Usage, stopReason string)
}

// Session is one live conversation bound to an agent subprocess.
type Session struct {
	ID      string
	WorkDir string

	notifier Notifier
	tools    *toolTracker
	models   *modelCatalog
	status   *statusReporter
	archiver TurnArchiver

	requestTimeout time.Duration
	replayTimeout  time.Duration
	heartbeat      time.Duration

	mu             sync.Mutex
	client         *proc.Client
	pending        *pendingTurn
	title          string
	transcriptPath string
	state          wire.SessionState
	lastStats      *wire.SessionStats

	onTranscriptPath func(sessionID, path string)
}

// proc returns the client, which is set once shortly after construction.
func (s *Session) proc() *proc.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Session) setClient(c *proc.Client) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

// Title returns the inferred or agent-provided session title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// TranscriptPath returns the last-known on-disk transcript path.
func (s *Session) TranscriptPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptPath
}

// Status returns the current synthetic status.
func (s *Session) Status() Status {
	return s.status.Current()
}

// request issues a correlated subprocess command with the default timeout.
func (s *Session) request(ctx context.Context, cmd wire.Command) (*wire.Response, error) {
	c := s.proc()
	if c == nil {
		return nil, proc.ErrProcessExited
	}
	return c.Request(ctx, cmd, s.requestTimeout)
}

// requestSlow is for expensive commands like full-history replay.
func (s *Session) requestSlow(ctx context.Context, cmd wire.Command) (*wire.Response, error) {
	c := s.proc()
	if c == nil {
		return nil, proc.ErrProcessExited
	}
	return c.Request(ctx, cmd, s.replayTimeout)
}

// Prompt sends one user prompt and blocks until the agent finishes, the
// prompt is cancelled, or the process dies. A second prompt while one is
// pending is rejected, never queued.
func (s *Session) Prompt(ctx context.Context, text string, images []wire.ImageAttachment) (StopReason, error) {
	s.mu.Lock()
	busy := s.pending != nil
	s.mu.Unlock()
	if busy {
		return "", ErrPromptInProgress
	}

	// Slash commands short-circuit normal prompt handling entirely.
	if name, args, ok := parseSlashCommand(text); ok {
		s.runSlashCommand(ctx, name, args)
		return StopEndTurn, nil
	}

	s.inferTitle(text)

	p := newPendingTurn()
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return "", ErrPromptInProgress
	}
	s.pending = p
	s.mu.Unlock()

	stopHeartbeat := s.startHeartbeat()
	defer stopHeartbeat()

	if _, err := s.request(ctx, wire.Prompt(text, images)); err != nil {
		s.clearPending(p)
		return "", fmt.Errorf("send prompt: %w", err)
	}
	s.status.Set("running", "")

	stop, err := p.wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Caller went away mid-prompt; treat as a cancel.
			s.Cancel()
		}
		return "", err
	}
	metrics.PromptsCompleted.WithLabelValues(string(stop)).Inc()
	return stop, nil
}

// Steer delivers mid-run user input without touching the pending slot.
func (s *Session) Steer(text string) error {
	c := s.proc()
	if c == nil {
		return proc.ErrProcessExited
	}
	return c.Send(wire.Steer(text))
}

// FollowUp queues input for delivery after the current run completes.
func (s *Session) FollowUp(text string) error {
	c := s.proc()
	if c == nil {
		return proc.ErrProcessExited
	}
	return c.Send(wire.FollowUp(text))
}

// Cancel aborts the running prompt. The pending operation resolves as
// cancelled immediately; the subprocess is told to abort but not awaited,
// so late events for the cancelled prompt are expected and ignored.
func (s *Session) Cancel() {
	if c := s.proc(); c != nil {
		if err := c.Send(wire.Abort()); err != nil {
			logger.Error("session %s: send abort: %v", s.ID, err)
		}
	}

	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p != nil && p.resolve(StopCancelled) {
		s.status.Set("cancelled", "")
	}
}

// SetOption applies one recognized config option and re-broadcasts the
// fresh config state fetched from the subprocess.
func (s *Session) SetOption(ctx context.Context, option, value string) error {
	var cmd wire.Command
	switch option {
	case "thinking_level":
		cmd = wire.SetThinkingLevel(value)
	case "steering_mode":
		cmd = wire.SetSteeringMode(value)
	case "follow_up_mode":
		cmd = wire.SetFollowUpMode(value)
	case "auto_compaction":
		on, err := parseToggle(value)
		if err != nil {
			return err
		}
		cmd = wire.SetAutoCompaction(on)
	case "auto_retry":
		on, err := parseToggle(value)
		if err != nil {
			return err
		}
		cmd = wire.SetAutoRetry(on)
	case "model":
		return s.SetModel(ctx, value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOption, option)
	}

	if _, err := s.request(ctx, cmd); err != nil {
		return fmt.Errorf("set %s: %w", option, err)
	}
	// Never assume the mutation took; re-fetch and re-broadcast.
	if err := s.refreshState(ctx); err != nil {
		logger.Error("session %s: refresh after set %s: %v", s.ID, option, err)
	}
	s.notifyConfig()
	return nil
}

// SetModel resolves a model token and switches the subprocess to it.
func (s *Session) SetModel(ctx context.Context, token string) error {
	m, err := s.models.resolve(token)
	if err != nil {
		return err
	}
	if _, err := s.request(ctx, wire.SetModel(m.Provider, m.ID)); err != nil {
		return fmt.Errorf("set model %s: %w", EncodeModelKey(m), err)
	}
	s.models.setCurrent(m)
	if err := s.refreshState(ctx); err != nil {
		logger.Error("session %s: refresh after set model: %v", s.ID, err)
	}
	s.notifyConfig()
	return nil
}

// Models returns the known model descriptors.
func (s *Session) Models() []wire.ModelInfo {
	return s.models.list()
}

// CurrentModel returns the selected model, if known.
func (s *Session) CurrentModel() (wire.ModelInfo, bool) {
	return s.models.currentModel()
}

// bootstrap fetches the initial state and model catalog after spawn.
func (s *Session) bootstrap(ctx context.Context) error {
	if err := s.refreshState(ctx); err != nil {
		return fmt.Errorf("initial state: %w", err)
	}
	if err := s.refreshModels(ctx); err != nil {
		// Models can still arrive via later refreshes.
		logger.Error("session %s: fetch models: %v", s.ID, err)
	}
	return nil
}

func (s *Session) refreshState(ctx context.Context) error {
	resp, err := s.request(ctx, wire.GetState())
	if err != nil {
		return err
	}
	var state wire.SessionState
	if err := json.Unmarshal(resp.Data, &state); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	s.mu.Lock()
	s.state = state
	pathChanged := state.SessionFile != "" && state.SessionFile != s.transcriptPath
	if pathChanged {
		s.transcriptPath = state.SessionFile
	}
	if s.title == "" && state.SessionName != "" {
		s.title = state.SessionName
	}
	hook := s.onTranscriptPath
	s.mu.Unlock()

	if state.Model != nil {
		s.models.setCurrent(*state.Model)
	}
	if pathChanged && hook != nil {
		hook(s.ID, state.SessionFile)
	}
	return nil
}

func (s *Session) refreshModels(ctx context.Context) error {
	resp, err := s.request(ctx, wire.GetAvailableModels())
	if err != nil {
		return err
	}
	var models []wire.ModelInfo
	if err := json.Unmarshal(resp.Data, &models); err != nil {
		var wrapped struct {
			Models []wire.ModelInfo `json:"models"`
		}
		if err2 := json.Unmarshal(resp.Data, &wrapped); err2 != nil {
			return fmt.Errorf("decode models: %w", err)
		}
		models = wrapped.Models
	}

	s.mu.Lock()
	current := s.state.Model
	s.mu.Unlock()
	s.models.replace(models, current)
	return nil
}

// switchTranscript points the subprocess at an existing transcript file.
func (s *Session) switchTranscript(ctx context.Context, path string) error {
	if _, err := s.request(ctx, wire.SwitchSession(path)); err != nil {
		return fmt.Errorf("switch session: %w", err)
	}
	s.mu.Lock()
	s.transcriptPath = path
	s.mu.Unlock()
	return s.refreshState(ctx)
}

// replayHistory re-emits the full transcript through the live streaming
// channels so a freshly attached client can reconstruct the conversation.
func (s *Session) replayHistory(ctx context.Context) error {
	resp, err := s.requestSlow(ctx, wire.GetMessages())
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	var messages []wire.Message
	if err := json.Unmarshal(resp.Data, &messages); err != nil {
		var wrapped struct {
			Messages []wire.Message `json:"messages"`
		}
		if err2 := json.Unmarshal(resp.Data, &wrapped); err2 != nil {
			return fmt.Errorf("decode history: %w", err)
		}
		messages = wrapped.Messages
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case "user":
			if text := msg.Text(); text != "" {
				s.notifier.Notify(s.ID, Update{Kind: UpdateUserText, Text: text})
			}
		case "assistant":
			if thinking := msg.Thinking(); thinking != "" {
				s.notifier.Notify(s.ID, Update{Kind: UpdateAgentThought, Text: thinking})
			}
			if text := msg.Text(); text != "" {
				s.notifier.Notify(s.ID, Update{Kind: UpdateAgentText, Text: text})
			}
		}
	}
	return nil
}

// notifyConfig broadcasts the full current option set.
func (s *Session) notifyConfig() {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	options := []ConfigOption{
		{ID: "thinking_level", Name: "Thinking level", Value: state.ThinkingLevel,
			Choices: []string{"off", "minimal", "low", "medium", "high"}},
		{ID: "steering_mode", Name: "Steering delivery", Value: state.SteeringMode},
		{ID: "follow_up_mode", Name: "Follow-up delivery", Value: state.FollowUpMode},
		{ID: "auto_compaction", Name: "Auto compaction", Value: formatToggle(state.AutoCompactionEnabled),
			Choices: []string{"on", "off"}},
		{ID: "auto_retry", Name: "Auto retry", Value: formatToggle(state.AutoRetryEnabled),
			Choices: []string{"on", "off"}},
	}
	if m, ok := s.models.currentModel(); ok {
		options = append(options, ConfigOption{ID: "model", Name: "Model", Value: EncodeModelKey(m)})
	}
	s.notifier.Notify(s.ID, Update{Kind: UpdateConfig, Config: options})
}

// clearPending removes p from the slot only if it still owns it.
func (s *Session) clearPending(p *pendingTurn) {
	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	s.mu.Unlock()
}

// completePending resolves the pending operation, if any, and clears the
// slot so later triggers are no-ops.
func (s *Session) completePending(stop StopReason) {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p != nil {
		p.resolve(stop)
	}
}

// failPending rejects the pending operation, if any.
func (s *Session) failPending(err error) {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p != nil {
		p.reject(err)
	}
}

func (s *Session) inferTitle(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.title != "" {
		return
	}
	title := strings.TrimSpace(firstLine(text))
	if title == "" {
		return
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		runes := []rune(title)
		title = string(runes[:maxTitleLen]) + "…"
	}
	s.title = title
}

// startHeartbeat emits periodic still-alive status notifications for the
// duration of a pending prompt. Fixed interval, no backoff.
func (s *Session) startHeartbeat() func() {
	if s.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.status.Heartbeat()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func parseToggle(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid toggle value %q (want on or off)", value)
	}
}

func formatToggle(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// Close terminates the subprocess and releases streams.
func (s *Session) Close() {
	if c := s.proc(); c != nil {
		_ = c.Close()
	}
}
