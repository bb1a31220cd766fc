package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/errs"
)

// maxNativeBody caps how much a native fetch reads.
const maxNativeBody = 25 << 20 // 25 MiB

const nativeUserAgent = "Mozilla/5.0 (compatible; webharvest-mcp/1.0)"

// Native fetches a URL with a plain HTTP GET.
type Native struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNative builds the native fetcher. Timeouts come from the per-call
// context, not the client.
func NewNative(logger *zap.Logger) *Native {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Native{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (n *Native) Name() string { return "native" }

func (n *Native) Scrape(ctx context.Context, url string, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, errs.Validation("url", "invalid URL %q: %v", url, err)
	}
	req.Header.Set("User-Agent", nativeUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, errs.Network(err, "native fetch failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.Auth(resp.StatusCode,
			fmt.Sprintf("native fetch got %d for %s", resp.StatusCode, url))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errs.FromStatus(resp.StatusCode,
			fmt.Sprintf("native fetch got %d for %s", resp.StatusCode, url), 0)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxNativeBody))
	if err != nil {
		return nil, errs.Network(err, "reading native fetch body failed")
	}
	if len(body) == 0 {
		return nil, errs.Server(resp.StatusCode, "native fetch returned an empty body")
	}

	mimeType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if parsed, _, perr := mime.ParseMediaType(ct); perr == nil {
			mimeType = parsed
		}
	}

	return &Result{
		Content:  string(body),
		MimeType: mimeType,
		Metadata: map[string]interface{}{
			"status_code":  resp.StatusCode,
			"final_url":    resp.Request.URL.String(),
			"content_type": mimeType,
			"fetched_at":   time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}
