package wire

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates unsolicited agent events.
type EventType string

const (
	EventAgentStart          EventType = "agent_start"
	EventAgentEnd            EventType = "agent_end"
	EventTurnStart           EventType = "turn_start"
	EventTurnEnd             EventType = "turn_end"
	EventMessageStart        EventType = "message_start"
	EventMessageUpdate       EventType = "message_update"
	EventMessageEnd          EventType = "message_end"
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"
	EventAutoCompactionStart EventType = "auto_compaction_start"
	EventAutoCompactionEnd   EventType = "auto_compaction_end"
	EventAutoRetryStart      EventType = "auto_retry_start"
	EventAutoRetryEnd        EventType = "auto_retry_end"
	EventExtensionError      EventType = "extension_error"
)

var knownEvents = map[EventType]bool{
	EventAgentStart:          true,
	EventAgentEnd:            true,
	EventTurnStart:           true,
	EventTurnEnd:             true,
	EventMessageStart:        true,
	EventMessageUpdate:       true,
	EventMessageEnd:          true,
	EventToolExecutionStart:  true,
	EventToolExecutionUpdate: true,
	EventToolExecutionEnd:    true,
	EventAutoCompactionStart: true,
	EventAutoCompactionEnd:   true,
	EventAutoRetryStart:      true,
	EventAutoRetryEnd:        true,
	EventExtensionError:      true,
}

// MessageDelta is the incremental payload carried by message_update events.
// Exactly one of the content fields is set per delta.
type MessageDelta struct {
	Type          string `json:"type"` // text_delta | thinking_delta | toolcall_delta
	Text          string `json:"text,omitempty"`
	Thinking      string `json:"thinking,omitempty"`
	PartialJSON   string `json:"partialJson,omitempty"`
	ContentIndex  int    `json:"contentIndex,omitempty"`
}

// Event is one unsolicited line from the agent. Which fields are populated
// depends on Type; consumers switch on Type and read only the fields that
// event carries.
type Event struct {
	Type EventType `json:"type"`

	// message_start, message_end
	Message *Message `json:"message,omitempty"`

	// message_update
	Delta *MessageDelta `json:"assistantMessageEvent,omitempty"`

	// tool_execution_*
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       map[string]any  `json:"args,omitempty"`
	Partial    string          `json:"partial,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	IsError    bool            `json:"isError,omitempty"`

	// agent_end, turn_end
	StopReason string `json:"stopReason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`

	// auto_compaction_end
	TokensBefore int  `json:"tokensBefore,omitempty"`
	TokensAfter  int  `json:"tokensAfter,omitempty"`
	Aborted      bool `json:"aborted,omitempty"`

	// auto_retry_*
	Attempt int `json:"attempt,omitempty"`
	DelayMs int `json:"delayMs,omitempty"`

	// extension_error, auto_retry_end, auto_compaction_end
	Error string `json:"error,omitempty"`
}

// Line is the result of decoding one inbound line: exactly one of Response
// or Event is non-nil.
type Line struct {
	Response *Response
	Event    *Event
}

// UnknownTypeError reports a line whose type discriminator is not part of
// the dialect. Callers treat it as malformed input, not a fatal error.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("wire: unknown line type %q", e.Type)
}

// DecodeLine parses one inbound NDJSON line into a Response or Event.
// Lines missing a type, or carrying a type outside the dialect, fail with
// an error the caller can count and skip.
func DecodeLine(data []byte) (*Line, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("wire: invalid JSON line: %w", err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("wire: line missing type discriminator")
	}

	if probe.Type == "response" {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("wire: invalid response line: %w", err)
		}
		return &Line{Response: &resp}, nil
	}

	if !knownEvents[EventType(probe.Type)] {
		return nil, &UnknownTypeError{Type: probe.Type}
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("wire: invalid %s event: %w", probe.Type, err)
	}
	return &Line{Event: &ev}, nil
}
