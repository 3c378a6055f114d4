package session

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marrowlabs/ferryman/internal/wire"
)

// slashCommand is one built-in command dispatched before any text is
// forwarded as a prompt.
type slashCommand struct {
	usage       string
	description string
	run         func(ctx context.Context, s *Session, args string) (string, error)
}

var slashCommands = map[string]*slashCommand{
	"compact": {
		usage:       "/compact",
		description: "Compact the conversation context",
		run:         cmdCompact,
	},
	"model": {
		usage:       "/model [provider:id]",
		description: "Show or switch the active model",
		run:         cmdModel,
	},
	"thinking": {
		usage:       "/thinking <level>",
		description: "Set the thinking level",
		run:         cmdThinking,
	},
	"bash": {
		usage:       "/bash <command>",
		description: "Run a shell command through the agent",
		run:         cmdBash,
	},
	"export": {
		usage:       "/export [path]",
		description: "Export the conversation as HTML",
		run:         cmdExport,
	},
	"stats": {
		usage:       "/stats",
		description: "Show session usage statistics",
		run:         cmdStats,
	},
}

// cmdHelp iterates slashCommands, so registering it in the literal above
// would create an initialization cycle.
func init() {
	slashCommands["help"] = &slashCommand{
		usage:       "/help",
		description: "List available commands",
		run:         cmdHelp,
	}
}

// CommandCatalog lists the built-in slash commands for capability
// advertisement: name to description.
func CommandCatalog() map[string]string {
	out := make(map[string]string, len(slashCommands))
	for name, cmd := range slashCommands {
		out[name] = cmd.description
	}
	return out
}

// parseSlashCommand reports whether text is a slash command, returning its
// name and trailing arguments.
func parseSlashCommand(text string) (name, args string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") || len(trimmed) < 2 {
		return "", "", false
	}
	rest := trimmed[1:]
	if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
		return rest[:i], strings.TrimSpace(rest[i+1:]), true
	}
	return rest, "", true
}

// runSlashCommand dispatches a command and emits its output as agent text.
// Failures become user-visible text, never errors to the prompt caller.
func (s *Session) runSlashCommand(ctx context.Context, name, args string) {
	cmd, ok := slashCommands[name]
	if !ok {
		s.notifier.Notify(s.ID, Update{Kind: UpdateAgentText,
			Text: fmt.Sprintf("Unknown command /%s. Try /help.", name)})
		return
	}
	out, err := cmd.run(ctx, s, args)
	if err != nil {
		out = fmt.Sprintf("/%s failed: %v", name, err)
	}
	if out != "" {
		s.notifier.Notify(s.ID, Update{Kind: UpdateAgentText, Text: out})
	}
}

func cmdHelp(_ context.Context, _ *Session, _ string) (string, error) {
	names := make([]string, 0, len(slashCommands))
	for name := range slashCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, name := range names {
		cmd := slashCommands[name]
		fmt.Fprintf(&b, "  %-24s %s\n", cmd.usage, cmd.description)
	}
	return b.String(), nil
}

func cmdCompact(ctx context.Context, s *Session, _ string) (string, error) {
	resp, err := s.requestSlow(ctx, wire.Compact())
	if err != nil {
		return "", err
	}
	var result struct {
		TokensBefore int `json:"tokensBefore"`
		TokensAfter  int `json:"tokensAfter"`
	}
	if err := json.Unmarshal(resp.Data, &result); err == nil && result.TokensBefore > 0 {
		return fmt.Sprintf("Compacted context: %d -> %d tokens.", result.TokensBefore, result.TokensAfter), nil
	}
	return "Context compacted.", nil
}

func cmdModel(ctx context.Context, s *Session, args string) (string, error) {
	if args == "" {
		models := s.Models()
		if len(models) == 0 {
			return "No models advertised by the agent.", nil
		}
		current, _ := s.CurrentModel()
		currentKey := EncodeModelKey(current)

		var b strings.Builder
		b.WriteString("Available models:\n")
		for _, m := range models {
			marker := "  "
			if EncodeModelKey(m) == currentKey {
				marker = "* "
			}
			fmt.Fprintf(&b, "%s%s (%s)\n", marker, EncodeModelKey(m), m.Name)
		}
		return b.String(), nil
	}

	if err := s.SetModel(ctx, args); err != nil {
		return "", err
	}
	m, _ := s.CurrentModel()
	return "Model set to " + EncodeModelKey(m) + ".", nil
}

func cmdThinking(ctx context.Context, s *Session, args string) (string, error) {
	if args == "" {
		return "", fmt.Errorf("usage: /thinking <off|minimal|low|medium|high>")
	}
	if err := s.SetOption(ctx, "thinking_level", args); err != nil {
		return "", err
	}
	return "Thinking level set to " + args + ".", nil
}

func cmdBash(ctx context.Context, s *Session, args string) (string, error) {
	if args == "" {
		return "", fmt.Errorf("usage: /bash <command>")
	}
	resp, err := s.requestSlow(ctx, wire.Bash(args))
	if err != nil {
		return "", err
	}
	var result wire.BashResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return "", fmt.Errorf("decode bash result: %w", err)
	}

	out := result.Output
	if result.Error != "" {
		out += "\n" + result.Error
	}
	if result.ExitCode != 0 {
		out += fmt.Sprintf("\n(exit code %d)", result.ExitCode)
	}
	return strings.TrimSpace("$ " + args + "\n" + out), nil
}

func cmdExport(ctx context.Context, s *Session, args string) (string, error) {
	path := args
	if path == "" {
		path = filepath.Join(s.WorkDir, s.ID+".html")
	}
	if _, err := s.requestSlow(ctx, wire.ExportHTML(path)); err != nil {
		return "", err
	}
	return "Exported conversation to " + path + ".", nil
}

func cmdStats(ctx context.Context, s *Session, _ string) (string, error) {
	stats, meta := s.Stats(ctx)
	if stats == nil {
		return "No statistics available yet.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Messages: %d (%d user, %d assistant, %d tool calls)\n",
		stats.TotalMessages, stats.UserMessages, stats.AssistantMessages, stats.ToolCalls)
	fmt.Fprintf(&b, "Tokens: %d in, %d out, %d cache read\n",
		stats.Tokens.Input, stats.Tokens.Output, stats.Tokens.CacheRead)
	fmt.Fprintf(&b, "Cost: $%.4f\n", stats.Cost)
	if stats.ContextWindow > 0 {
		fmt.Fprintf(&b, "Context: %d / %d (%d%%)\n",
			stats.ContextUsed, stats.ContextWindow, 100*stats.ContextUsed/stats.ContextWindow)
	}
	if meta != nil {
		if meta.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", meta.Title)
		}
		fmt.Fprintf(&b, "Transcript: %s\n", meta.Path)
	}
	return b.String(), nil
}
