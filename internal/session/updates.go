package session

// UpdateKind discriminates outward notifications produced by a session.
type UpdateKind string

const (
	UpdateAgentText    UpdateKind = "agent_message_chunk"
	UpdateAgentThought UpdateKind = "agent_thought_chunk"
	UpdateUserText     UpdateKind = "user_message_chunk"
	UpdateToolCall     UpdateKind = "tool_call"
	UpdateToolCallEdit UpdateKind = "tool_call_update"
	UpdateConfig       UpdateKind = "config_option_update"
	UpdateStatus       UpdateKind = "status"
)

// ToolStatus is the outward lifecycle state of a tool call.
type ToolStatus string

const (
	ToolPending    ToolStatus = "pending"
	ToolInProgress ToolStatus = "in_progress"
	ToolCompleted  ToolStatus = "completed"
	ToolFailed     ToolStatus = "failed"
)

// ToolKind classifies a tool by name for client-side presentation.
type ToolKind string

const (
	KindRead   ToolKind = "read"
	KindEdit   ToolKind = "edit"
	KindSearch ToolKind = "search"
	KindFetch  ToolKind = "fetch"
	KindDelete ToolKind = "delete"
	KindBash   ToolKind = "execute"
	KindOther  ToolKind = "other"
)

// Diff is a before/after pair for one file touched by a tool call.
type Diff struct {
	Path    string `json:"path"`
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// ToolCallUpdate is the outward payload for tool_call and tool_call_update.
type ToolCallUpdate struct {
	ID      string     `json:"toolCallId"`
	Title   string     `json:"title,omitempty"`
	Kind    ToolKind   `json:"kind,omitempty"`
	Status  ToolStatus `json:"status"`
	Content string     `json:"content,omitempty"`
	Diff    *Diff      `json:"diff,omitempty"`
}

// ConfigOption is one externally settable session option with its current
// value, broadcast after every successful mutation and at session start.
type ConfigOption struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Value   string   `json:"value"`
	Choices []string `json:"choices,omitempty"`
}

// Status is the synthetic per-session progress notification.
type Status struct {
	State  string `json:"state"` // idle | running | cancelled | error
	Detail string `json:"detail,omitempty"`
}

// Update is one outward notification. Kind selects which payload field is
// meaningful.
type Update struct {
	Kind     UpdateKind
	Text     string
	ToolCall *ToolCallUpdate
	Config   []ConfigOption
	Status   *Status
}

// Notifier delivers session updates to the connected client. Implemented
// by the outer protocol layer; sessions never block on it.
type Notifier interface {
	Notify(sessionID string, u Update)
}

// NopNotifier discards all updates. Used by tests and detached sessions.
type NopNotifier struct{}

func (NopNotifier) Notify(string, Update) {}
