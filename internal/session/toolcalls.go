package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marrowlabs/ferryman/internal/metrics"
	"github.com/marrowlabs/ferryman/internal/wire"
)

// Argument keys checked, in order, when looking for a file path in tool
// arguments.
var pathArgKeys = []string{"path", "file_path", "filePath", "file", "filename"}

// ClassifyToolKind buckets a tool by case-insensitive substring match on
// its name. First match in this order wins.
func ClassifyToolKind(name string) ToolKind {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "read"):
		return KindRead
	case strings.Contains(n, "edit"):
		return KindEdit
	case strings.Contains(n, "search"):
		return KindSearch
	case strings.Contains(n, "fetch"), strings.Contains(n, "http"):
		return KindFetch
	case strings.Contains(n, "delete"):
		return KindDelete
	case strings.Contains(n, "bash"), strings.Contains(n, "exec"):
		return KindBash
	default:
		return KindOther
	}
}

type toolInput struct {
	summary string
	command string // set only for shell-style tools
}

type fileSnapshot struct {
	path    string
	content string
}

// toolTracker translates tool lifecycle events into outward tool-call
// payloads and captures file snapshots for diff computation. Entries are
// keyed by tool-call id and removed individually at tool end.
type toolTracker struct {
	workDir string

	mu        sync.Mutex
	inputs    map[string]toolInput
	snapshots map[string]fileSnapshot
}

func newToolTracker(workDir string) *toolTracker {
	return &toolTracker{
		workDir:   workDir,
		inputs:    make(map[string]toolInput),
		snapshots: make(map[string]fileSnapshot),
	}
}

// start records the tool's input and best-effort file snapshot, returning
// the creation payload.
func (t *toolTracker) start(ev *wire.Event) *ToolCallUpdate {
	kind := ClassifyToolKind(ev.ToolName)

	in := toolInput{summary: summarizeArgs(ev.Args)}
	if kind == KindBash {
		if cmd, ok := ev.Args["command"].(string); ok && cmd != "" {
			in.command = cmd
			in.summary = cmd
		}
	}

	t.mu.Lock()
	t.inputs[ev.ToolCallID] = in
	t.mu.Unlock()

	if path := extractPath(ev.Args); path != "" {
		resolved := path
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(t.workDir, resolved)
		}
		// Best effort: a missing file just means no "before" state.
		if data, err := os.ReadFile(resolved); err == nil {
			t.mu.Lock()
			t.snapshots[ev.ToolCallID] = fileSnapshot{path: resolved, content: string(data)}
			t.mu.Unlock()
		}
	}

	return &ToolCallUpdate{
		ID:      ev.ToolCallID,
		Title:   toolTitle(ev.ToolName, in),
		Kind:    kind,
		Status:  ToolInProgress,
		Content: in.summary,
	}
}

// update re-emits the stored input plus any partial result.
func (t *toolTracker) update(ev *wire.Event) *ToolCallUpdate {
	t.mu.Lock()
	in := t.inputs[ev.ToolCallID]
	t.mu.Unlock()

	content := in.summary
	if ev.Partial != "" {
		content = in.summary + "\n" + ev.Partial
	}
	return &ToolCallUpdate{
		ID:      ev.ToolCallID,
		Status:  ToolInProgress,
		Content: content,
	}
}

// end consumes the stored entries and builds the final payload, attaching
// a diff only when a snapshot was captured and the file changed.
func (t *toolTracker) end(ev *wire.Event) *ToolCallUpdate {
	t.mu.Lock()
	in, hadInput := t.inputs[ev.ToolCallID]
	delete(t.inputs, ev.ToolCallID)
	snap, hadSnap := t.snapshots[ev.ToolCallID]
	delete(t.snapshots, ev.ToolCallID)
	t.mu.Unlock()

	var sections []string
	if in.command != "" {
		sections = append(sections, "$ "+in.command)
	} else if hadInput && in.summary != "" {
		sections = append(sections, in.summary)
	}
	if result := decodeResult(ev.Result); result != "" {
		sections = append(sections, result)
	}
	if len(ev.Details) > 0 {
		if pretty := prettyJSON(ev.Details); pretty != "" {
			sections = append(sections, "Details:\n"+pretty)
		}
	}

	status := ToolCompleted
	if ev.IsError {
		status = ToolFailed
	}

	out := &ToolCallUpdate{
		ID:      ev.ToolCallID,
		Status:  status,
		Content: strings.Join(sections, "\n\n"),
	}

	if hadSnap {
		// Re-read failure (deleted file, permissions) means no diff,
		// not a tool failure.
		if data, err := os.ReadFile(snap.path); err == nil && string(data) != snap.content {
			out.Diff = &Diff{Path: snap.path, OldText: snap.content, NewText: string(data)}
		}
	}

	metrics.RecordToolCall(string(ClassifyToolKind(ev.ToolName)), string(status))
	return out
}

func extractPath(args map[string]any) string {
	for _, key := range pathArgKeys {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}

func toolTitle(name string, in toolInput) string {
	if in.command != "" {
		return name + ": " + firstLine(in.command)
	}
	return name
}

// decodeResult renders the tool's result payload: JSON strings are
// unquoted, anything else is pretty-printed.
func decodeResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return prettyJSON(raw)
}

func prettyJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(data)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
