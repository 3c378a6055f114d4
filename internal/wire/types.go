// Package wire defines the newline-delimited JSON dialect spoken by the
// backing agent subprocess: outbound commands, correlated responses, and
// unsolicited events.
//
// Lines are decoded exactly once, at the transport boundary, into a closed
// set of shapes; unknown discriminators are an explicit error rather than a
// silent fall-through.
package wire

import (
	"encoding/json"
	"strings"
)

// Command is one outbound line to the agent subprocess. ID is the
// correlation identifier; commands sent fire-and-forget leave it empty.
type Command struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Command type discriminators understood by the agent.
const (
	CmdPrompt               = "prompt"
	CmdSteer                = "steer"
	CmdFollowUp             = "follow_up"
	CmdAbort                = "abort"
	CmdNewSession           = "new_session"
	CmdGetState             = "get_state"
	CmdGetMessages          = "get_messages"
	CmdSetModel             = "set_model"
	CmdCycleModel           = "cycle_model"
	CmdGetAvailableModels   = "get_available_models"
	CmdSetThinkingLevel     = "set_thinking_level"
	CmdCycleThinkingLevel   = "cycle_thinking_level"
	CmdSetSteeringMode      = "set_steering_mode"
	CmdSetFollowUpMode      = "set_follow_up_mode"
	CmdCompact              = "compact"
	CmdSetAutoCompaction    = "set_auto_compaction"
	CmdSetAutoRetry         = "set_auto_retry"
	CmdAbortRetry           = "abort_retry"
	CmdBash                 = "bash"
	CmdAbortBash            = "abort_bash"
	CmdGetSessionStats      = "get_session_stats"
	CmdExportHTML           = "export_html"
	CmdSwitchSession        = "switch_session"
	CmdFork                 = "fork"
	CmdGetForkMessages      = "get_fork_messages"
	CmdGetLastAssistantText = "get_last_assistant_text"
)

// Response is an inbound line answering a correlated command.
type Response struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"` // always "response"
	Command string          `json:"command"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ImageAttachment is an inline image sent with a prompt.
type ImageAttachment struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// ContentBlock is one block of a message's content array.
type ContentBlock struct {
	Type     string `json:"type"` // text | thinking | image | toolCall
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// image
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// toolCall
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Usage holds token and cost counters reported by the agent.
type Usage struct {
	Input      int     `json:"input"`
	Output     int     `json:"output"`
	CacheRead  int     `json:"cacheRead"`
	CacheWrite int     `json:"cacheWrite"`
	Total      int     `json:"total"`
	Cost       float64 `json:"cost"`
}

// Message is an agent-dialect conversation message.
type Message struct {
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stopReason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
}

// Text returns the concatenation of all text blocks.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range m.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// Thinking returns the concatenation of all thinking blocks.
func (m *Message) Thinking() string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range m.Content {
		if block.Type == "thinking" {
			b.WriteString(block.Thinking)
		}
	}
	return b.String()
}

// ModelInfo describes one selectable backend model.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	API           string `json:"api"`
	Reasoning     bool   `json:"reasoning"`
	ContextWindow int    `json:"contextWindow,omitempty"`
	MaxTokens     int    `json:"maxTokens,omitempty"`
}

// SessionState is the agent's get_state payload.
type SessionState struct {
	Model                 *ModelInfo `json:"model,omitempty"`
	ThinkingLevel         string     `json:"thinkingLevel"`
	SteeringMode          string     `json:"steeringMode"`
	FollowUpMode          string     `json:"followUpMode"`
	AutoCompactionEnabled bool       `json:"autoCompactionEnabled"`
	AutoRetryEnabled      bool       `json:"autoRetryEnabled"`
	IsStreaming           bool       `json:"isStreaming"`
	SessionFile           string     `json:"sessionFile,omitempty"`
	SessionID             string     `json:"sessionId,omitempty"`
	SessionName           string     `json:"sessionName,omitempty"`
	MessageCount          int        `json:"messageCount"`
}

// SessionStats is the agent's get_session_stats payload.
type SessionStats struct {
	SessionFile       string  `json:"sessionFile"`
	SessionID         string  `json:"sessionId"`
	UserMessages      int     `json:"userMessages"`
	AssistantMessages int     `json:"assistantMessages"`
	ToolCalls         int     `json:"toolCalls"`
	TotalMessages     int     `json:"totalMessages"`
	Tokens            Usage   `json:"tokens"`
	Cost              float64 `json:"cost"`
	ContextWindow     int     `json:"contextWindow,omitempty"`
	ContextUsed       int     `json:"contextUsed,omitempty"`
}

// BashResult is the agent's bash command payload.
type BashResult struct {
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
}
