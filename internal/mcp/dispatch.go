package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/mcp/tools"
	"github.com/webharvest/webharvest-mcp/internal/store"
)

// ErrNoValidSession is the message returned for a frame that is neither
// a valid initialize nor carries a known session id. Clients match on it,
// so the wording is load-bearing.
const ErrNoValidSession = "No valid session ID or not an initialization request"

// Runtime dispatches parsed frames for every transport. It owns the
// session table and the event store; the tool registry and resource store
// are shared process singletons.
type Runtime struct {
	Sessions *SessionManager
	Events   EventStore

	tools      *tools.Registry
	store      store.Store
	serverName string
	version    string
	logger     *zap.Logger
}

// RuntimeOptions configure a Runtime.
type RuntimeOptions struct {
	Tools      *tools.Registry
	Store      store.Store
	Events     EventStore
	ServerName string
	Version    string

	// IdleTimeout closes sessions with no activity. Zero disables it.
	IdleTimeout time.Duration

	Logger *zap.Logger
}

// NewRuntime builds the session runtime.
func NewRuntime(opts RuntimeOptions) *Runtime {
	if opts.Events == nil {
		opts.Events = NewMemoryEvents()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ServerName == "" {
		opts.ServerName = "webharvest-mcp"
	}
	return &Runtime{
		Sessions:   NewSessionManager(opts.IdleTimeout, opts.Events, opts.Logger),
		Events:     opts.Events,
		tools:      opts.Tools,
		store:      opts.Store,
		serverName: opts.ServerName,
		version:    opts.Version,
		logger:     opts.Logger,
	}
}

// Shutdown closes every session and the event store.
func (rt *Runtime) Shutdown() {
	rt.Sessions.Shutdown()
	_ = rt.Events.Close()
}

// HandleFrame processes one raw inbound frame. sessionID is whatever the
// transport extracted from the client ("" when absent). The returned
// response is nil for notifications; newSession is non-nil only when the
// frame was a valid initialize.
func (rt *Runtime) HandleFrame(ctx context.Context, sessionID string, raw []byte) (*Response, *Session) {
	req, perr := ParseRequest(raw)
	if perr != nil {
		return &Response{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: perr}, nil
	}

	if req.Method == MethodInitialize {
		if sessionID != "" {
			return NewErrorResponse(req.ID, CodeSessionError, ErrNoValidSession), nil
		}
		sess := rt.Sessions.Create()
		sess.transition(StateInitialized)
		return NewResponse(req.ID, rt.initializeResult()), sess
	}

	sess, ok := rt.Sessions.Get(sessionID)
	if sessionID == "" || !ok {
		return NewErrorResponse(req.ID, CodeSessionError, ErrNoValidSession), nil
	}
	sess.Touch()

	if req.Method == MethodInitialized {
		// Notifications get no reply even when the transition is a no-op.
		sess.transition(StateServing)
		return nil, nil
	}
	if req.IsNotification() {
		return nil, nil
	}

	// Tie the request lifetime to both the transport and the session, so
	// closing the session aborts whatever this request is doing.
	ctx, cancel := rt.sessionContext(ctx, sess)
	defer cancel()

	return rt.dispatch(ctx, sess, req), nil
}

// sessionContext derives a context cancelled by either the transport or
// the session closing.
func (rt *Runtime) sessionContext(ctx context.Context, sess *Session) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sess.Context(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (rt *Runtime) initializeResult() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": false},
			"resources": map[string]interface{}{"subscribe": false, "listChanged": false},
		},
		"serverInfo": map[string]interface{}{
			"name":    rt.serverName,
			"version": rt.version,
		},
	}
}

func (rt *Runtime) dispatch(ctx context.Context, sess *Session, req *Request) *Response {
	switch req.Method {
	case MethodPing:
		return NewResponse(req.ID, map[string]interface{}{})
	case MethodToolsList:
		return NewResponse(req.ID, map[string]interface{}{"tools": rt.tools.List()})
	case MethodToolsCall:
		return rt.callTool(ctx, req)
	case MethodResourcesList:
		return rt.listResources(req)
	case MethodResourcesRead:
		return rt.readResource(req)
	default:
		return NewErrorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (rt *Runtime) callTool(ctx context.Context, req *Request) *Response {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return NewErrorResponse(req.ID, CodeInvalidParams, "tools/call requires a tool name")
	}

	result, err := rt.tools.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		return NewErrorResponse(req.ID, CodeInvalidParams, err.Error())
	}
	return NewResponse(req.ID, result)
}

func (rt *Runtime) listResources(req *Request) *Response {
	headers := rt.store.List()
	resources := make([]map[string]interface{}, 0, len(headers))
	for _, h := range headers {
		resources = append(resources, map[string]interface{}{
			"uri":         h.URI,
			"name":        fmt.Sprintf("%s (%s)", h.URL, h.Tier),
			"mimeType":    h.MimeType,
			"description": resourceDescription(h),
		})
	}
	return NewResponse(req.ID, map[string]interface{}{"resources": resources})
}

func (rt *Runtime) readResource(req *Request) *Response {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return NewErrorResponse(req.ID, CodeInvalidParams, "resources/read requires a uri")
	}

	res, err := rt.store.Read(params.URI)
	if err != nil {
		return NewErrorResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("resource not found: %s", params.URI))
	}
	return NewResponse(req.ID, map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"uri":      res.URI,
				"mimeType": res.MimeType,
				"text":     res.Content,
			},
		},
	})
}

func resourceDescription(h store.ResourceHeader) string {
	desc := fmt.Sprintf("%s tier of %s, %d bytes, scraped %s",
		h.Tier, h.URL, h.ByteSize, h.Timestamp.UTC().Format(time.RFC3339))
	if h.SourceStrategy != "" {
		desc += " via " + h.SourceStrategy
	}
	return desc
}

// Notify appends a server-initiated message to a session's event stream
// and pushes it to any live listeners. Writes to one stream are serialized
// by the event store.
func (rt *Runtime) Notify(sessionID, method string, params interface{}) error {
	sess, ok := rt.Sessions.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}

	frame, err := json.Marshal(NewNotification(method, params))
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	id, err := rt.Events.Store(sessionID, frame)
	if err != nil {
		return fmt.Errorf("storing event: %w", err)
	}
	sess.publish(Event{ID: id, Stream: sessionID, Message: frame})
	return nil
}
