package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Package mcp implements the Model Context Protocol session runtime.
//
// Responsibilities:
//   - Frame and validate JSON-RPC 2.0 requests, notifications, and responses
//   - Maintain the session table and the per-session state machine
//   - Dispatch recognized methods to the tool registry and resource store
//   - Append server-initiated messages to resumable event streams
//
// The runtime is transport-neutral: the HTTP, WebSocket, and stdio
// surfaces all hand it raw frames plus whatever session id the client
// supplied and send back what it returns.

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeSessionError   = -32000
)

// Recognized methods.
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "notifications/initialized"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2025-03-26"

// Request is one inbound JSON-RPC frame. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the frame expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, []byte("null"))
}

// Response is one outbound JSON-RPC frame.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error member.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewResponse builds a success response correlated to a request id.
func NewResponse(id json.RawMessage, result interface{}) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds an error response correlated to a request id.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// Notification builds a server-initiated frame, which carries no id.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// NewNotification builds a server-initiated message.
func NewNotification(method string, params interface{}) *Notification {
	return &Notification{JSONRPC: "2.0", Method: method, Params: params}
}

// ParseRequest validates one inbound frame. The returned *RPCError carries
// -32700 for unparsable JSON and -32600 for structurally invalid frames.
func ParseRequest(raw []byte) (*Request, *RPCError) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &RPCError{Code: CodeParseError, Message: "Parse error"}
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "Invalid Request"}
	}
	return &req, nil
}
