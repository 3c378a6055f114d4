package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/marrowlabs/ferryman/internal/config"
	"github.com/marrowlabs/ferryman/internal/session"
	"github.com/marrowlabs/ferryman/internal/spawn"
)

type noLauncher struct{}

func (noLauncher) Name() string { return "none" }

func (noLauncher) Launch(context.Context, []string, []string, string) (*spawn.Proc, error) {
	return nil, fmt.Errorf("no agent available")
}

// newTestServer wires a server over in-memory pipes with an agentless
// manager behind it.
func newTestServer(t *testing.T) (*Server, *io.PipeWriter, *bufio.Scanner) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	srv := NewServer(inR, outW, false)
	cfg := config.Default(t.TempDir())
	cfg.Agent.Command = "fake-agent"
	srv.Bind(session.NewManager(cfg, noLauncher{}, srv, nil))

	done := make(chan struct{})
	go func() {
		_ = srv.Run(context.Background())
		close(done)
	}()
	t.Cleanup(func() {
		_ = inW.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop at EOF")
		}
		_ = outW.Close()
	})

	scanner := bufio.NewScanner(outR)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return srv, inW, scanner
}

func send(t *testing.T, w io.Writer, line string) {
	t.Helper()
	if _, err := w.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

func readResponse(t *testing.T, scanner *bufio.Scanner) response {
	t.Helper()
	if !scanner.Scan() {
		t.Fatalf("no response line: %v", scanner.Err())
	}
	var resp response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", scanner.Text(), err)
	}
	return resp
}

func TestInitialize(t *testing.T) {
	_, in, out := newTestServer(t)

	send(t, in, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	resp := readResponse(t, out)
	if resp.Error != nil {
		t.Fatalf("initialize error = %+v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result initializeResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("protocolVersion = %d, want %d", result.ProtocolVersion, protocolVersion)
	}
	if !result.Capabilities.LoadSession {
		t.Error("loadSession capability not advertised")
	}
	if len(result.Capabilities.Commands) == 0 {
		t.Error("no slash commands advertised")
	}
}

func TestUnknownMethod(t *testing.T) {
	_, in, out := newTestServer(t)

	send(t, in, `{"jsonrpc":"2.0","id":2,"method":"session/launch_missiles"}`)
	resp := readResponse(t, out)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v, want method-not-found", resp.Error)
	}
}

func TestMalformedLine(t *testing.T) {
	_, in, out := newTestServer(t)

	send(t, in, `this is not json`)
	resp := readResponse(t, out)
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("error = %+v, want parse error", resp.Error)
	}

	// The stream survives a garbage line.
	send(t, in, `{"jsonrpc":"2.0","id":3,"method":"authenticate"}`)
	resp = readResponse(t, out)
	if resp.Error != nil {
		t.Fatalf("authenticate after garbage error = %+v", resp.Error)
	}
}

func TestPromptUnknownSession(t *testing.T) {
	_, in, out := newTestServer(t)

	send(t, in, `{"jsonrpc":"2.0","id":4,"method":"session/prompt","params":{"sessionId":"ghost","prompt":[{"type":"text","text":"hi"}]}}`)
	resp := readResponse(t, out)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v, want invalid-params for unknown session", resp.Error)
	}
}

func TestEmptyPromptRejected(t *testing.T) {
	_, in, out := newTestServer(t)

	send(t, in, `{"jsonrpc":"2.0","id":5,"method":"session/prompt","params":{"sessionId":"any","prompt":[]}}`)
	resp := readResponse(t, out)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v, want invalid-params for empty prompt", resp.Error)
	}
}

func TestSessionListEmpty(t *testing.T) {
	_, in, out := newTestServer(t)

	send(t, in, `{"jsonrpc":"2.0","id":6,"method":"session/list"}`)
	resp := readResponse(t, out)
	if resp.Error != nil {
		t.Fatalf("session/list error = %+v", resp.Error)
	}
}

func TestNotifyShapes(t *testing.T) {
	tests := []struct {
		name   string
		update session.Update
		check  func(t *testing.T, payload map[string]any)
	}{
		{
			name:   "text chunk",
			update: session.Update{Kind: session.UpdateAgentText, Text: "hello"},
			check: func(t *testing.T, payload map[string]any) {
				content, _ := payload["content"].(map[string]any)
				if content["text"] != "hello" {
					t.Errorf("content = %v", content)
				}
			},
		},
		{
			name: "tool call",
			update: session.Update{Kind: session.UpdateToolCall,
				ToolCall: &session.ToolCallUpdate{ID: "t1", Status: session.ToolInProgress}},
			check: func(t *testing.T, payload map[string]any) {
				tc, _ := payload["toolCall"].(map[string]any)
				if tc["toolCallId"] != "t1" {
					t.Errorf("toolCall = %v", tc)
				}
			},
		},
		{
			name: "status",
			update: session.Update{Kind: session.UpdateStatus,
				Status: &session.Status{State: "running", Detail: "compiling"}},
			check: func(t *testing.T, payload map[string]any) {
				st, _ := payload["status"].(map[string]any)
				if st["state"] != "running" {
					t.Errorf("status = %v", st)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := updatePayload(tt.update)
			if payload["sessionUpdate"] != string(tt.update.Kind) {
				t.Errorf("sessionUpdate = %v, want %s", payload["sessionUpdate"], tt.update.Kind)
			}
			// Round-trip through JSON like the real writer does.
			data, err := json.Marshal(payload)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			var decoded map[string]any
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("unmarshal payload: %v", err)
			}
			tt.check(t, decoded)
		})
	}
}
