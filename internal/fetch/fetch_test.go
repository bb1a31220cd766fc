package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webharvest/webharvest-mcp/internal/errs"
	"github.com/webharvest/webharvest-mcp/internal/metrics"
	"github.com/webharvest/webharvest-mcp/internal/strategy"
)

// stubFetcher scripts one strategy's behaviour for cascade tests.
type stubFetcher struct {
	name   string
	result *Result
	err    error
	calls  int
}

func (s *stubFetcher) Name() string { return s.name }

func (s *stubFetcher) Scrape(ctx context.Context, url string, opts Options) (*Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestCascade(t *testing.T, native, enhanced Fetcher) (*Cascade, *strategy.Registry) {
	t.Helper()
	reg, err := strategy.New(strategy.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	c := NewCascade(CascadeOptions{
		Native:    native,
		Enhanced:  enhanced,
		Registry:  reg,
		Collector: metrics.New(16),
	})
	return c, reg
}

func TestNativeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>Hello</html>"))
	}))
	defer srv.Close()

	n := NewNative(nil)
	res, err := n.Scrape(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "<html>Hello</html>", res.Content)
	assert.Equal(t, "text/html", res.MimeType)
	assert.Equal(t, 200, res.Metadata["status_code"])
}

func TestNativeEmptyBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewNative(nil).Scrape(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	assert.Equal(t, errs.KindServer, errs.KindOf(err))
}

func TestNativeAuthStatuses(t *testing.T) {
	for _, status := range []int{401, 403} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		_, err := NewNative(nil).Scrape(context.Background(), srv.URL, Options{})
		srv.Close()
		require.Error(t, err)
		assert.True(t, errs.IsAuth(err), "status %d should map to an auth error", status)
	}
}

func TestNativeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewNative(nil).Scrape(context.Background(), srv.URL, Options{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, errs.KindNetwork, errs.KindOf(err))
}

func TestEnhancedScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/scrape", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com", req["url"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"markdown": "# Title",
				"links":    []string{"https://example.com/a"},
				"metadata": map[string]interface{}{"title": "Title"},
			},
		})
	}))
	defer srv.Close()

	e := NewEnhanced("test-key", srv.URL, nil)
	res, err := e.Scrape(context.Background(), "https://example.com", Options{})
	require.NoError(t, err)
	assert.Equal(t, "# Title", res.Content)
	assert.Equal(t, "text/markdown", res.MimeType)
	assert.Equal(t, []string{"https://example.com/a"}, res.Links)
}

func TestEnhancedScreenshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req["formats"], "screenshot")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"markdown":   "body",
				"screenshot": "aGVsbG8=",
			},
		})
	}))
	defer srv.Close()

	e := NewEnhanced("test-key", srv.URL, nil)
	res, err := e.Scrape(context.Background(), "https://example.com", Options{Formats: []string{"markdown", "screenshot"}})
	require.NoError(t, err)
	require.NotNil(t, res.Screenshot)
	assert.Equal(t, "aGVsbG8=", res.Screenshot.Base64)
	assert.Equal(t, "image/png", res.Screenshot.Format)
}

func TestEnhancedStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   errs.Kind
	}{
		{401, errs.KindAuth},
		{402, errs.KindPayment},
		{429, errs.KindRateLimit},
		{500, errs.KindServer},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tc.status == 429 {
				w.Header().Set("Retry-After", "30")
			}
			w.WriteHeader(tc.status)
		}))
		e := NewEnhanced("test-key", srv.URL, nil)
		_, err := e.Scrape(context.Background(), "https://example.com", Options{})
		srv.Close()

		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.kind, errs.KindOf(err), "status %d", tc.status)
		if tc.status == 429 {
			var e2 *errs.Error
			require.ErrorAs(t, err, &e2)
			assert.Equal(t, 30*time.Second, e2.RetryAfter)
		}
	}
}

func TestEnhancedUnconfigured(t *testing.T) {
	e := NewEnhanced("", "", nil)
	assert.False(t, e.Configured())
	_, err := e.Scrape(context.Background(), "https://example.com", Options{})
	assert.True(t, errs.IsAuth(err))
}

func TestCascadeNativeFirst(t *testing.T) {
	native := &stubFetcher{name: "native", result: &Result{Content: "hello"}}
	enhanced := &stubFetcher{name: "enhanced", result: &Result{Content: "never"}}
	c, reg := newTestCascade(t, native, enhanced)

	res, winner, err := c.Fetch(context.Background(), "https://example.com/page", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, "native", winner)
	assert.Equal(t, 0, enhanced.calls)

	// The winning strategy is learned for the URL's pattern.
	got, ok := reg.Get("https://example.com/other")
	require.True(t, ok)
	assert.Equal(t, strategy.Native, got)
}

func TestCascadeFallback(t *testing.T) {
	native := &stubFetcher{name: "native", err: errs.Server(500, "native got 500")}
	enhanced := &stubFetcher{name: "enhanced", result: &Result{Content: "# Title"}}
	c, reg := newTestCascade(t, native, enhanced)

	res, winner, err := c.Fetch(context.Background(), "https://example.com/page", Options{})
	require.NoError(t, err)
	assert.Equal(t, "# Title", res.Content)
	assert.Equal(t, "enhanced", winner)
	assert.Equal(t, 1, native.calls)

	got, ok := reg.Get("https://example.com/page")
	require.True(t, ok)
	assert.Equal(t, strategy.Enhanced, got)
}

func TestCascadeAuthAborts(t *testing.T) {
	native := &stubFetcher{name: "native", err: errs.Auth(401, "native got 401")}
	enhanced := &stubFetcher{name: "enhanced", result: &Result{Content: "never"}}
	c, _ := newTestCascade(t, native, enhanced)

	_, _, err := c.Fetch(context.Background(), "https://example.com/page", Options{})
	require.Error(t, err)

	var ce *CascadeError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Diagnostics.AuthError)
	assert.Equal(t, []string{"native"}, ce.Diagnostics.StrategiesAttempted)
	assert.Contains(t, ce.Diagnostics.StrategyErrors["native"], "401")
	assert.Equal(t, 0, enhanced.calls)
}

func TestCascadeAllFailDiagnostics(t *testing.T) {
	native := &stubFetcher{name: "native", err: errs.Server(500, "native down")}
	enhanced := &stubFetcher{name: "enhanced", err: errs.Network(errors.New("refused"), "enhanced down")}
	c, _ := newTestCascade(t, native, enhanced)

	_, _, err := c.Fetch(context.Background(), "https://example.com/page", Options{})
	var ce *CascadeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"native", "enhanced"}, ce.Diagnostics.StrategiesAttempted)
	assert.Len(t, ce.Diagnostics.StrategyErrors, 2)
	assert.Len(t, ce.Diagnostics.TimingMS, 2)
	assert.False(t, ce.Diagnostics.AuthError)
}

func TestCascadeRegistryOverride(t *testing.T) {
	native := &stubFetcher{name: "native", result: &Result{Content: "never"}}
	enhanced := &stubFetcher{name: "enhanced", result: &Result{Content: "rendered"}}
	c, reg := newTestCascade(t, native, enhanced)

	reg.Upsert("example.com/", strategy.Enhanced)

	_, winner, err := c.Fetch(context.Background(), "https://example.com/page", Options{})
	require.NoError(t, err)
	assert.Equal(t, "enhanced", winner)
	assert.Equal(t, 0, native.calls)
}

func TestCascadeSpeedMode(t *testing.T) {
	native := &stubFetcher{name: "native", result: &Result{Content: "never"}}
	enhanced := &stubFetcher{name: "enhanced", result: &Result{Content: "rendered"}}
	c := NewCascade(CascadeOptions{Native: native, Enhanced: enhanced, Mode: OptimizeSpeed})

	_, winner, err := c.Fetch(context.Background(), "https://example.com/page", Options{})
	require.NoError(t, err)
	assert.Equal(t, "enhanced", winner)
	assert.Equal(t, 0, native.calls)
}

func TestCascadeScreenshotBypassesNative(t *testing.T) {
	native := &stubFetcher{name: "native", result: &Result{Content: "never"}}
	enhanced := &stubFetcher{name: "enhanced", result: &Result{
		Content:    "rendered",
		Screenshot: &Screenshot{Base64: "aGVsbG8=", Format: "image/png"},
	}}
	c, _ := newTestCascade(t, native, enhanced)

	res, winner, err := c.Fetch(context.Background(), "https://example.com/page",
		Options{Formats: []string{"screenshot"}})
	require.NoError(t, err)
	assert.Equal(t, "enhanced", winner)
	assert.Equal(t, 0, native.calls)
	require.NotNil(t, res.Screenshot)
}
