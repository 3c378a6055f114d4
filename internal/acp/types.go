// Package acp speaks the line-delimited JSON-RPC client protocol on the
// adapter's own stdin/stdout: request dispatch into the session manager
// and outward session/update notifications.
package acp

import "encoding/json"

const protocolVersion = 1

// request is one inbound JSON-RPC 2.0 message. Notifications carry no id.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// contentBlock is one element of a prompt's content array.
type contentBlock struct {
	Type     string `json:"type"` // text | image
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type initializeResult struct {
	ProtocolVersion int          `json:"protocolVersion"`
	Capabilities    capabilities `json:"agentCapabilities"`
}

type capabilities struct {
	LoadSession   bool           `json:"loadSession"`
	PromptImages  bool           `json:"promptImages"`
	StatusUpdates bool           `json:"statusUpdates"`
	Commands      []commandBrief `json:"commands,omitempty"`
}

type commandBrief struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type sessionParams struct {
	SessionID string         `json:"sessionId"`
	Cwd       string         `json:"cwd,omitempty"`
	Prompt    []contentBlock `json:"prompt,omitempty"`
	Text      string         `json:"text,omitempty"`
	ModelID   string         `json:"modelId,omitempty"`
	OptionID  string         `json:"optionId,omitempty"`
	Value     string         `json:"value,omitempty"`
	ModeID    string         `json:"modeId,omitempty"`
}
