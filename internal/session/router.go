package session

import (
	"context"
	"fmt"
	"time"

	"github.com/marrowlabs/ferryman/internal/logger"
	"github.com/marrowlabs/ferryman/internal/wire"
)

// handleEvent dispatches one subprocess event. Called synchronously from
// the process reader goroutine, so events for this session are handled in
// the exact order the subprocess emitted them.
func (s *Session) handleEvent(ev *wire.Event) {
	switch ev.Type {
	case wire.EventAgentStart, wire.EventTurnStart:
		s.status.Set("running", "")

	case wire.EventTurnEnd:
		// Turn end never resolves the pending prompt; an agent may run
		// several turns per prompt. Telemetry only.
		go s.reportStats(context.Background())

	case wire.EventAgentEnd:
		s.finishRun(ev)

	case wire.EventMessageStart, wire.EventMessageEnd:
		// Content arrives via deltas; nothing to forward here.

	case wire.EventMessageUpdate:
		s.handleDelta(ev.Delta)

	case wire.EventToolExecutionStart:
		payload := s.tools.start(ev)
		s.notifier.Notify(s.ID, Update{Kind: UpdateToolCall, ToolCall: payload})
		s.status.Set("running", runningDetail(ev.ToolName, payload.Title))

	case wire.EventToolExecutionUpdate:
		payload := s.tools.update(ev)
		s.notifier.Notify(s.ID, Update{Kind: UpdateToolCallEdit, ToolCall: payload})

	case wire.EventToolExecutionEnd:
		payload := s.tools.end(ev)
		s.notifier.Notify(s.ID, Update{Kind: UpdateToolCallEdit, ToolCall: payload})

	case wire.EventAutoCompactionStart:
		s.status.Set("running", "compacting context")

	case wire.EventAutoCompactionEnd:
		if ev.Error != "" {
			s.status.Set("running", "compaction failed: "+ev.Error)
		} else {
			s.status.Set("running", fmt.Sprintf("compacted %d -> %d tokens", ev.TokensBefore, ev.TokensAfter))
		}

	case wire.EventAutoRetryStart:
		detail := fmt.Sprintf("retrying (attempt %d)", ev.Attempt)
		if ev.DelayMs > 0 {
			detail = fmt.Sprintf("retrying in %s (attempt %d)",
				time.Duration(ev.DelayMs)*time.Millisecond, ev.Attempt)
		}
		s.status.Set("running", detail)

	case wire.EventAutoRetryEnd:
		if ev.Error != "" {
			s.status.Set("error", "retry failed: "+ev.Error)
		} else {
			s.status.Set("running", "")
		}

	case wire.EventExtensionError:
		logger.Error("session %s: agent extension error: %s", s.ID, ev.Error)
		s.status.Set("error", ev.Error)

	default:
		logger.Info("session %s: unhandled event %s", s.ID, ev.Type)
	}
}

func (s *Session) handleDelta(delta *wire.MessageDelta) {
	if delta == nil {
		return
	}
	switch delta.Type {
	case "text_delta":
		if delta.Text != "" {
			s.notifier.Notify(s.ID, Update{Kind: UpdateAgentText, Text: delta.Text})
		}
	case "thinking_delta":
		// Reasoning streams on its own channel, never mixed with text.
		if delta.Thinking != "" {
			s.notifier.Notify(s.ID, Update{Kind: UpdateAgentThought, Text: delta.Thinking})
		}
	}
}

// finishRun handles agent_end: append the usage summary, resolve the
// pending prompt exactly once, and settle status.
func (s *Session) finishRun(ev *wire.Event) {
	if ev.Usage != nil {
		if summary := usageSummary(ev.Usage, s.contextWindow()); summary != "" {
			s.notifier.Notify(s.ID, Update{Kind: UpdateAgentText, Text: "\n\n" + summary})
		}
		if s.archiver != nil {
			s.archiver.ArchiveTurn(s.ID, *ev.Usage, ev.StopReason)
		}
	}

	s.completePending(MapStopReason(ev.StopReason))
	s.status.Set("idle", "")
}

// handleExit reacts to subprocess death: any pending prompt is rejected
// and the error surfaces through status.
func (s *Session) handleExit(code int, err error) {
	switch {
	case err != nil:
		logger.Error("session %s: agent process failed: %v", s.ID, err)
		s.failPending(fmt.Errorf("agent process failed: %w", err))
		s.status.Set("error", err.Error())
	case code != 0:
		logger.Error("session %s: agent process exited with code %d", s.ID, code)
		s.failPending(fmt.Errorf("agent process exited with code %d", code))
		s.status.Set("error", fmt.Sprintf("agent exited with code %d", code))
	default:
		logger.Info("session %s: agent process exited", s.ID)
		s.failPending(fmt.Errorf("agent process exited"))
		s.status.Set("idle", "agent exited")
	}
}

func runningDetail(toolName, title string) string {
	if title != "" && title != toolName {
		return title
	}
	return "running: " + toolName
}

func (s *Session) contextWindow() int {
	if m, ok := s.models.currentModel(); ok {
		return m.ContextWindow
	}
	return 0
}
