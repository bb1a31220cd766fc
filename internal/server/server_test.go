package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webharvest/webharvest-mcp/internal/config"
	"github.com/webharvest/webharvest-mcp/internal/mcp"
	"github.com/webharvest/webharvest-mcp/internal/mcp/tools"
	"github.com/webharvest/webharvest-mcp/internal/metrics"
	"github.com/webharvest/webharvest-mcp/internal/store"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	st := store.NewMemory(store.Options{})
	t.Cleanup(func() { st.Close() })

	reg := tools.NewRegistry(nil, nil)
	require.NoError(t, reg.Register(tools.Definition{
		Name:        "echo",
		Description: "test tool",
		InputSchema: map[string]interface{}{"type": "object"},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			return tools.TextResult("echo: %v", args["msg"]), nil
		},
	}))

	rt := mcp.NewRuntime(mcp.RuntimeOptions{
		Tools:   reg,
		Store:   st,
		Version: "test",
	})

	srv, err := New(Options{
		Config:    cfg,
		Runtime:   rt,
		Collector: metrics.New(16),
		Store:     st,
		Version:   "test",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		rt.Shutdown()
	})
	return srv, ts
}

func rpcFrame(id int, method string, params interface{}) []byte {
	body := map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		body["params"] = params
	}
	raw, _ := json.Marshal(body)
	return raw
}

func postMCP(t *testing.T, ts *httptest.Server, sessionID string, frame []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", bytes.NewReader(frame))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeRPC(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func initSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := postMCP(t, ts, "", rpcFrame(1, "initialize", map[string]interface{}{
		"protocolVersion": mcp.ProtocolVersion,
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get(SessionHeader)
	require.NotEmpty(t, sessionID)
	body := decodeRPC(t, resp)
	require.Nil(t, body["error"])
	return sessionID
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t, nil)

	// initialize mints a session and returns its id in the header.
	sessionID := initSession(t, ts)

	// notifications/initialized is accepted with no body.
	notif, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "method": "notifications/initialized",
	})
	resp := postMCP(t, ts, sessionID, notif)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	// tools/list works under the session.
	resp = postMCP(t, ts, sessionID, rpcFrame(2, "tools/list", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeRPC(t, resp)
	require.Nil(t, body["error"])
	result := body["result"].(map[string]interface{})
	assert.Len(t, result["tools"], 1)

	// tools/call dispatches to the handler.
	resp = postMCP(t, ts, sessionID, rpcFrame(3, "tools/call", map[string]interface{}{
		"name":      "echo",
		"arguments": map[string]interface{}{"msg": "hi"},
	}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeRPC(t, resp)
	require.Nil(t, body["error"])

	// DELETE closes the session; further calls are rejected.
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set(SessionHeader, sessionID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = postMCP(t, ts, sessionID, rpcFrame(4, "ping", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body = decodeRPC(t, resp)
	rpcErr := body["error"].(map[string]interface{})
	assert.Equal(t, mcp.ErrNoValidSession, rpcErr["message"])
}

func TestMCPRejectsWithoutSession(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postMCP(t, ts, "", rpcFrame(1, "tools/list", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeRPC(t, resp)
	rpcErr := body["error"].(map[string]interface{})
	assert.Equal(t, mcp.ErrNoValidSession, rpcErr["message"])
}

func TestMCPMalformedFrames(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp := postMCP(t, ts, "", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeRPC(t, resp)
	rpcErr := body["error"].(map[string]interface{})
	assert.Equal(t, float64(-32700), rpcErr["code"])

	resp = postMCP(t, ts, "", []byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body = decodeRPC(t, resp)
	rpcErr = body["error"].(map[string]interface{})
	assert.Equal(t, float64(-32600), rpcErr["code"])
}

func TestMCPBodyLimit(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.BodyLimitBytes = 1024
	})

	huge := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":%q}}`,
		strings.Repeat("x", 4096))
	resp := postMCP(t, ts, "", []byte(huge))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()
}

func TestHostGuardInProduction(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.Production = true
		cfg.Server.AllowedHosts = []string{"api.webharvest.dev", "*.internal.webharvest.dev"}
	})
	handler := srv.Handler()

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Host = "evil.com"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Host = "api.webharvest.dev:443"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Host = "node3.internal.webharvest.dev"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSExposesSessionHeader(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = []string{"https://app.webharvest.dev"}
	})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/mcp", nil)
	req.Header.Set("Origin", "https://app.webharvest.dev")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.webharvest.dev", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Mcp-Session-Id", resp.Header.Get("Access-Control-Expose-Headers"))
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body := decodeRPC(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "http", body["transport"])
}

func TestMetricsEndpoints(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	srv.collector.RecordRequest(12, false)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	resp2, err := http.Get(ts.URL + "/metrics/json")
	require.NoError(t, err)
	body := decodeRPC(t, resp2)
	m := body["metrics"].(map[string]interface{})
	assert.Equal(t, float64(1), m["requests_total"])

	// Reset without auth configured is open.
	resp3, err := http.Post(ts.URL+"/metrics/reset", "application/json", nil)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
	assert.Equal(t, int64(0), srv.collector.Snapshot().RequestsTotal)
}

func TestMetricsResetAuth(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Metrics.AuthEnabled = true
		cfg.Metrics.AuthKey = "sekrit"
	})

	resp, err := http.Post(ts.URL+"/metrics/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/metrics/reset", nil)
	req.Header.Set("X-Metrics-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/metrics/reset", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOAuthDisabled(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/register", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	body := decodeRPC(t, resp)
	assert.Equal(t, "OAuth is disabled", body["error"])

	resp2, err := http.Get(ts.URL + "/authorize")
	require.NoError(t, err)
	body = decodeRPC(t, resp2)
	assert.Equal(t, "OAuth is disabled", body["error"])
}

func TestRateLimitOnMCP(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimitPerMin = 2
	})

	sessionID := initSession(t, ts)

	resp := postMCP(t, ts, sessionID, rpcFrame(2, "ping", nil))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postMCP(t, ts, sessionID, rpcFrame(3, "ping", nil))
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Other endpoints are not limited.
	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestStdioTransportOneImplicitSession(t *testing.T) {
	st := store.NewMemory(store.Options{})
	t.Cleanup(func() { st.Close() })

	reg := tools.NewRegistry(nil, nil)
	require.NoError(t, reg.Register(tools.Definition{
		Name:        "echo",
		Description: "test tool",
		InputSchema: map[string]interface{}{"type": "object"},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			return tools.TextResult("echo"), nil
		},
	}))
	rt := mcp.NewRuntime(mcp.RuntimeOptions{Tools: reg, Store: st, Version: "test"})
	t.Cleanup(rt.Shutdown)

	in := bytes.NewBufferString(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n" +
			`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{}}}` + "\n")
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, RunStdio(ctx, rt, in, &out, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Nil(t, first["error"])
	assert.Nil(t, second["error"])
	assert.Equal(t, float64(2), second["id"])
}
