package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/marrowlabs/ferryman/internal/logger"
	"github.com/marrowlabs/ferryman/internal/session"
	"github.com/marrowlabs/ferryman/internal/wire"
)

// Server frames the client protocol over one reader/writer pair, usually
// the adapter's stdin/stdout. It also implements session.Notifier so the
// manager's updates flow out as session/update notifications.
type Server struct {
	manager *session.Manager
	in      io.Reader

	writeMu sync.Mutex
	out     io.Writer

	statusUpdates bool
	badLineLimit  *rate.Limiter
}

// NewServer wires the façade. The manager must be constructed with this
// server as its notifier.
func NewServer(in io.Reader, out io.Writer, statusUpdates bool) *Server {
	return &Server{
		in:            in,
		out:           out,
		statusUpdates: statusUpdates,
		badLineLimit:  rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Bind attaches the session manager. Separate from NewServer because the
// manager needs the server as its notifier first.
func (s *Server) Bind(m *session.Manager) {
	s.manager = m
}

// Run reads requests until EOF. Each request is handled on its own
// goroutine so a long-running prompt cannot block a cancel.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var wg sync.WaitGroup
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil || req.Method == "" {
			if s.badLineLimit.Allow() {
				logger.Error("client: malformed request line: %v", err)
			}
			s.writeResponse(response{JSONRPC: "2.0", ID: req.ID,
				Error: &rpcError{Code: codeParseError, Message: "parse error"}})
			continue
		}

		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			s.dispatch(ctx, req)
		}(req)
	}
	wg.Wait()
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req request) {
	result, rpcErr := s.handle(ctx, req)
	if req.ID == nil {
		// Notification: nothing to answer, but surface failures in the log.
		if rpcErr != nil {
			logger.Error("client: notification %s failed: %s", req.Method, rpcErr.Message)
		}
		return
	}
	resp := response{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
	if rpcErr == nil && result == nil {
		resp.Result = struct{}{}
	}
	s.writeResponse(resp)
}

func (s *Server) handle(ctx context.Context, req request) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(), nil
	case "authenticate":
		return struct{}{}, nil
	case "session/new":
		return s.handleNew(ctx, req.Params)
	case "session/load":
		return s.handleLoad(ctx, req.Params)
	case "session/resume":
		return s.handleResume(ctx, req.Params)
	case "session/fork":
		return s.handleFork(ctx, req.Params)
	case "session/prompt":
		return s.handlePrompt(ctx, req.Params)
	case "session/cancel":
		return s.handleCancel(req.Params)
	case "session/set_model":
		return s.handleSetModel(ctx, req.Params)
	case "session/set_config":
		return s.handleSetConfig(ctx, req.Params)
	case "session/set_mode":
		return s.handleSetMode(ctx, req.Params)
	case "session/steer":
		return s.handleSteer(req.Params)
	case "session/follow_up":
		return s.handleFollowUp(req.Params)
	case "session/list":
		return map[string]any{"sessions": s.manager.List()}, nil
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func (s *Server) handleInitialize() initializeResult {
	var commands []commandBrief
	for name, desc := range session.CommandCatalog() {
		commands = append(commands, commandBrief{Name: name, Description: desc})
	}
	return initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: capabilities{
			LoadSession:   true,
			PromptImages:  true,
			StatusUpdates: s.statusUpdates,
			Commands:      commands,
		},
	}
}

func (s *Server) handleNew(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sess, err := s.manager.Create(ctx, p.Cwd)
	if err != nil {
		return nil, toRPCError(err)
	}
	return map[string]any{"sessionId": sess.ID}, nil
}

func (s *Server) handleLoad(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if _, err := s.manager.Load(ctx, p.SessionID, p.Cwd); err != nil {
		return nil, toRPCError(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleResume(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if _, err := s.manager.Resume(ctx, p.SessionID, p.Cwd); err != nil {
		return nil, toRPCError(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleFork(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sess, err := s.manager.Fork(ctx, p.SessionID, p.Cwd)
	if err != nil {
		return nil, toRPCError(err)
	}
	return map[string]any{"sessionId": sess.ID}, nil
}

func (s *Server) handlePrompt(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var text string
	var images []wire.ImageAttachment
	for _, block := range p.Prompt {
		switch block.Type {
		case "text":
			text += block.Text
		case "image":
			images = append(images, wire.ImageAttachment{Data: block.Data, MimeType: block.MimeType})
		}
	}
	if text == "" && len(images) == 0 {
		return nil, &rpcError{Code: codeInvalidParams, Message: "empty prompt"}
	}

	stop, err := s.manager.Prompt(ctx, p.SessionID, text, images)
	if err != nil {
		return nil, toRPCError(err)
	}
	return map[string]any{"stopReason": string(stop)}, nil
}

func (s *Server) handleCancel(params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.manager.Cancel(p.SessionID); err != nil {
		return nil, toRPCError(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleSetModel(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.manager.SetModel(ctx, p.SessionID, p.ModelID); err != nil {
		return nil, toRPCError(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleSetConfig(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.manager.SetOption(ctx, p.SessionID, p.OptionID, p.Value); err != nil {
		return nil, toRPCError(err)
	}
	return struct{}{}, nil
}

// handleSetMode maps the client's mode switch onto the agent's steering
// delivery mode.
func (s *Server) handleSetMode(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.manager.SetOption(ctx, p.SessionID, "steering_mode", p.ModeID); err != nil {
		return nil, toRPCError(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleSteer(params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.manager.Steer(p.SessionID, p.Text); err != nil {
		return nil, toRPCError(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleFollowUp(params json.RawMessage) (any, *rpcError) {
	p, rpcErr := decodeParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.manager.FollowUp(p.SessionID, p.Text); err != nil {
		return nil, toRPCError(err)
	}
	return struct{}{}, nil
}

// Notify implements session.Notifier: one session/update notification per
// update, written in emission order.
func (s *Server) Notify(sessionID string, u session.Update) {
	params := map[string]any{
		"sessionId": sessionID,
		"update":    updatePayload(u),
	}
	s.writeJSON(notification{JSONRPC: "2.0", Method: "session/update", Params: params})
}

func updatePayload(u session.Update) map[string]any {
	payload := map[string]any{"sessionUpdate": string(u.Kind)}
	switch u.Kind {
	case session.UpdateAgentText, session.UpdateAgentThought, session.UpdateUserText:
		payload["content"] = map[string]any{"type": "text", "text": u.Text}
	case session.UpdateToolCall, session.UpdateToolCallEdit:
		payload["toolCall"] = u.ToolCall
	case session.UpdateConfig:
		payload["options"] = u.Config
	case session.UpdateStatus:
		payload["status"] = u.Status
	}
	return payload
}

func (s *Server) writeResponse(resp response) {
	s.writeJSON(resp)
}

func (s *Server) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("client: marshal outbound message: %v", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		logger.Error("client: write: %v", err)
	}
}

func decodeParams(params json.RawMessage) (sessionParams, *rpcError) {
	var p sessionParams
	if len(params) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return p, &rpcError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return p, nil
}

func toRPCError(err error) *rpcError {
	code := codeInternalError
	switch {
	case errors.Is(err, session.ErrUnknownSession),
		errors.Is(err, session.ErrUnknownOption),
		errors.Is(err, session.ErrUnknownModel):
		code = codeInvalidParams
	case errors.Is(err, session.ErrPromptInProgress):
		code = codeInvalidRequest
	}
	return &rpcError{Code: code, Message: err.Error()}
}
