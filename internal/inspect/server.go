package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/marrowlabs/ferryman/internal/logger"
	"github.com/marrowlabs/ferryman/internal/metrics"
	"github.com/marrowlabs/ferryman/internal/session"
	"github.com/marrowlabs/ferryman/internal/usage"
	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes a read-only MCP surface for poking at a running
// adapter: session listing and usage stats. It never mutates state.
type Server struct {
	sessions  *session.Manager
	store     *usage.Store
	mcpServer *mcp_sdk.Server
}

// NewServer builds the MCP server and registers the inspection tools.
func NewServer(mgr *session.Manager, store *usage.Store, version string) *Server {
	s := &Server{sessions: mgr, store: store}

	s.mcpServer = mcp_sdk.NewServer(&mcp_sdk.Implementation{
		Name:    "ferryman",
		Version: version,
	}, nil)

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(&mcp_sdk.Tool{
		Name:        "list_sessions",
		Description: "List all known sessions: live ones with their current status, plus sessions discovered on disk.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleListSessions)

	s.mcpServer.AddTool(&mcp_sdk.Tool{
		Name:        "session_stats",
		Description: "Report context and token usage for one session, combining live agent stats with archived per-turn totals.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": {Type: "string", Description: "Session identifier"},
			},
			Required: []string{"session_id"},
		},
	}, s.handleSessionStats)

	s.mcpServer.AddTool(&mcp_sdk.Tool{
		Name:        "recent_turns",
		Description: "List recently archived turns across all sessions, most recent first.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"limit": {Type: "integer", Description: "Maximum number of turns to return (default 20)"},
			},
		},
	}, s.handleRecentTurns)
}

func (s *Server) handleListSessions(ctx context.Context, req *mcp_sdk.CallToolRequest) (*mcp_sdk.CallToolResult, error) {
	infos := s.sessions.List()
	data, err := json.Marshal(map[string]any{
		"sessions": infos,
		"count":    len(infos),
	})
	if err != nil {
		return newErrorResult(err.Error()), nil
	}
	return newTextResult(string(data)), nil
}

type sessionStatsArgs struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSessionStats(ctx context.Context, req *mcp_sdk.CallToolRequest) (*mcp_sdk.CallToolResult, error) {
	var args sessionStatsArgs
	if err := decodeArgs(req, &args); err != nil {
		return newErrorResult(err.Error()), nil
	}
	if args.SessionID == "" {
		return newErrorResult("session_id is required"), nil
	}

	out := map[string]any{"id": args.SessionID}

	if sess, err := s.sessions.Get(args.SessionID); err == nil {
		stats, meta := sess.Stats(ctx)
		out["live"] = true
		if stats != nil {
			out["context"] = stats
		}
		if meta != nil {
			out["transcript"] = meta
		}
	} else {
		out["live"] = false
	}

	if s.store != nil {
		totals, err := s.store.SessionTotals(args.SessionID)
		if err != nil {
			return newErrorResult(fmt.Sprintf("usage totals: %v", err)), nil
		}
		out["archived"] = totals
	}

	data, err := json.Marshal(out)
	if err != nil {
		return newErrorResult(err.Error()), nil
	}
	return newTextResult(string(data)), nil
}

type recentTurnsArgs struct {
	Limit int `json:"limit"`
}

func (s *Server) handleRecentTurns(ctx context.Context, req *mcp_sdk.CallToolRequest) (*mcp_sdk.CallToolResult, error) {
	if s.store == nil {
		return newErrorResult("usage store is not configured"), nil
	}
	var args recentTurnsArgs
	if err := decodeArgs(req, &args); err != nil {
		return newErrorResult(err.Error()), nil
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}

	turns, err := s.store.RecentTurns(args.Limit)
	if err != nil {
		return newErrorResult(fmt.Sprintf("recent turns: %v", err)), nil
	}
	data, err := json.Marshal(map[string]any{"turns": turns})
	if err != nil {
		return newErrorResult(err.Error()), nil
	}
	return newTextResult(string(data)), nil
}

func decodeArgs(req *mcp_sdk.CallToolRequest, v any) error {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func newTextResult(text string) *mcp_sdk.CallToolResult {
	return &mcp_sdk.CallToolResult{
		Content: []mcp_sdk.Content{
			&mcp_sdk.TextContent{Text: text},
		},
	}
}

func newErrorResult(msg string) *mcp_sdk.CallToolResult {
	return &mcp_sdk.CallToolResult{
		IsError: true,
		Content: []mcp_sdk.Content{
			&mcp_sdk.TextContent{Text: msg},
		},
	}
}

// Serve blocks on the HTTP listener. The MCP endpoint supports stream
// resumption; /health and /metrics are plain HTTP.
func (s *Server) Serve(addr string) error {
	mcpHandler := mcp_sdk.NewStreamableHTTPHandler(func(req *http.Request) *mcp_sdk.Server {
		return s.mcpServer
	}, &mcp_sdk.StreamableHTTPOptions{
		EventStore: mcp_sdk.NewMemoryEventStore(nil),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/mcp", mcpHandler)
	mux.Handle("/mcp/", mcpHandler)

	logger.Info("inspect: listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
