package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/errs"
	"github.com/webharvest/webharvest-mcp/internal/metrics"
)

// Upstream API constants.
const (
	enhancedBaseURL = "https://api.firecrawl.dev"
	screenshotMIME  = "image/png"
)

// Enhanced is the client for the upstream rendering API. Beyond the
// Fetcher scrape verb it exposes search, map, and crawl calls used by the
// corresponding tools.
type Enhanced struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewEnhanced builds the enhanced fetcher. An empty API key leaves it
// unconfigured; calls then fail with an auth error.
func NewEnhanced(apiKey, baseURL string, logger *zap.Logger) *Enhanced {
	if baseURL == "" {
		baseURL = enhancedBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enhanced{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (e *Enhanced) Name() string { return "enhanced" }

// Configured reports whether an API key is present.
func (e *Enhanced) Configured() bool { return e.apiKey != "" }

// SetBaseURL overrides the upstream base URL. Used in tests.
func (e *Enhanced) SetBaseURL(url string) { e.baseURL = url }

type scrapeRequest struct {
	URL             string                   `json:"url"`
	Formats         []string                 `json:"formats,omitempty"`
	OnlyMainContent *bool                    `json:"onlyMainContent,omitempty"`
	Timeout         int                      `json:"timeout,omitempty"`
	Actions         []map[string]interface{} `json:"actions,omitempty"`
	Location        map[string]interface{}   `json:"location,omitempty"`
	MaxAge          int                      `json:"maxAge,omitempty"`
}

type scrapeData struct {
	Markdown   string                 `json:"markdown,omitempty"`
	HTML       string                 `json:"html,omitempty"`
	RawHTML    string                 `json:"rawHtml,omitempty"`
	Links      []string               `json:"links,omitempty"`
	Images     []string               `json:"images,omitempty"`
	Screenshot string                 `json:"screenshot,omitempty"`
	Summary    string                 `json:"summary,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type scrapeResponse struct {
	Success bool       `json:"success"`
	Data    scrapeData `json:"data"`
	Error   string     `json:"error,omitempty"`
}

func (e *Enhanced) Scrape(ctx context.Context, url string, opts Options) (*Result, error) {
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []string{"markdown"}
	}
	req := scrapeRequest{
		URL:      url,
		Formats:  formats,
		Actions:  opts.Actions,
		Location: opts.Location,
		MaxAge:   opts.MaxAgeMS,
	}
	if opts.MainContentOnly {
		t := true
		req.OnlyMainContent = &t
	}
	if opts.Timeout > 0 {
		req.Timeout = int(opts.Timeout / time.Millisecond)
	}

	var resp scrapeResponse
	if err := e.call(ctx, "scrape", "POST", "/v2/scrape", req, opts.Timeout, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errs.Server(0, fmt.Sprintf("enhanced scrape failed: %s", resp.Error))
	}

	content := resp.Data.Markdown
	mimeType := "text/markdown"
	switch {
	case content != "":
	case resp.Data.HTML != "":
		content = resp.Data.HTML
		mimeType = "text/html"
	case resp.Data.RawHTML != "":
		content = resp.Data.RawHTML
		mimeType = "text/html"
	case resp.Data.Summary != "":
		content = resp.Data.Summary
		mimeType = "text/plain"
	}

	result := &Result{
		Content:  content,
		MimeType: mimeType,
		Metadata: resp.Data.Metadata,
		Links:    resp.Data.Links,
	}
	if resp.Data.Screenshot != "" {
		result.Screenshot = &Screenshot{
			Base64: resp.Data.Screenshot,
			Format: screenshotMIME,
		}
	}
	if len(resp.Data.Images) > 0 {
		if result.Metadata == nil {
			result.Metadata = map[string]interface{}{}
		}
		result.Metadata["images"] = resp.Data.Images
	}
	return result, nil
}

// SearchOptions tailor a search call.
type SearchOptions struct {
	Limit         int
	Sources       []string
	Categories    []string
	Country       string
	Lang          string
	Location      string
	TBS           string
	ScrapeOptions map[string]interface{}
}

// SearchItem is one hit in a search source group.
type SearchItem struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Position    int    `json:"position,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Date        string `json:"date,omitempty"`
}

// SearchData groups hits by source.
type SearchData struct {
	Web    []SearchItem `json:"web,omitempty"`
	Images []SearchItem `json:"images,omitempty"`
	News   []SearchItem `json:"news,omitempty"`
}

type searchRequest struct {
	Query         string                 `json:"query"`
	Limit         int                    `json:"limit,omitempty"`
	Sources       []string               `json:"sources,omitempty"`
	Categories    []string               `json:"categories,omitempty"`
	Country       string                 `json:"country,omitempty"`
	Lang          string                 `json:"lang,omitempty"`
	Location      string                 `json:"location,omitempty"`
	TBS           string                 `json:"tbs,omitempty"`
	ScrapeOptions map[string]interface{} `json:"scrapeOptions,omitempty"`
}

type searchResponse struct {
	Success bool       `json:"success"`
	Data    SearchData `json:"data"`
	Error   string     `json:"error,omitempty"`
}

// Search runs a web/images/news query upstream.
func (e *Enhanced) Search(ctx context.Context, query string, opts SearchOptions) (*SearchData, error) {
	req := searchRequest{
		Query:         query,
		Limit:         opts.Limit,
		Sources:       opts.Sources,
		Categories:    opts.Categories,
		Country:       opts.Country,
		Lang:          opts.Lang,
		Location:      opts.Location,
		TBS:           opts.TBS,
		ScrapeOptions: opts.ScrapeOptions,
	}
	var resp searchResponse
	if err := e.call(ctx, "search", "POST", "/v2/search", req, 0, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errs.Server(0, fmt.Sprintf("enhanced search failed: %s", resp.Error))
	}
	return &resp.Data, nil
}

// MapOptions tailor a map call.
type MapOptions struct {
	Search                string
	Limit                 int
	Sitemap               string
	IncludeSubdomains     *bool
	IgnoreQueryParameters *bool
	Location              map[string]interface{}
}

// MapLink is one page discovered by map.
type MapLink struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type mapRequest struct {
	URL                   string                 `json:"url"`
	Search                string                 `json:"search,omitempty"`
	Limit                 int                    `json:"limit,omitempty"`
	Sitemap               string                 `json:"sitemap,omitempty"`
	IncludeSubdomains     *bool                  `json:"includeSubdomains,omitempty"`
	IgnoreQueryParameters *bool                  `json:"ignoreQueryParameters,omitempty"`
	Location              map[string]interface{} `json:"location,omitempty"`
}

type mapResponse struct {
	Success bool      `json:"success"`
	Links   []MapLink `json:"links"`
	Error   string    `json:"error,omitempty"`
}

// Map lists the URLs of a site.
func (e *Enhanced) Map(ctx context.Context, url string, opts MapOptions) ([]MapLink, error) {
	req := mapRequest{
		URL:                   url,
		Search:                opts.Search,
		Limit:                 opts.Limit,
		Sitemap:               opts.Sitemap,
		IncludeSubdomains:     opts.IncludeSubdomains,
		IgnoreQueryParameters: opts.IgnoreQueryParameters,
		Location:              opts.Location,
	}
	var resp mapResponse
	if err := e.call(ctx, "map", "POST", "/v2/map", req, 0, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errs.Server(0, fmt.Sprintf("enhanced map failed: %s", resp.Error))
	}
	return resp.Links, nil
}

// CrawlOptions tailor a crawl submission.
type CrawlOptions struct {
	Limit             int
	MaxDepth          int
	IncludePaths      []string
	ExcludePaths      []string
	Sitemap           string
	AllowExternal     *bool
	CrawlEntireDomain *bool
	ScrapeOptions     map[string]interface{}
}

type crawlRequest struct {
	URL               string                 `json:"url"`
	Limit             int                    `json:"limit,omitempty"`
	MaxDepth          int                    `json:"maxDepth,omitempty"`
	IncludePaths      []string               `json:"includePaths,omitempty"`
	ExcludePaths      []string               `json:"excludePaths,omitempty"`
	Sitemap           string                 `json:"sitemap,omitempty"`
	AllowExternal     *bool                  `json:"allowExternalLinks,omitempty"`
	CrawlEntireDomain *bool                  `json:"crawlEntireDomain,omitempty"`
	ScrapeOptions     map[string]interface{} `json:"scrapeOptions,omitempty"`
}

type crawlSubmitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	URL     string `json:"url"`
	Error   string `json:"error,omitempty"`
}

// CrawlStatus is the upstream's word on a crawl job.
type CrawlStatus struct {
	Status      string                   `json:"status"`
	Total       int                      `json:"total"`
	Completed   int                      `json:"completed"`
	CreditsUsed int                      `json:"creditsUsed"`
	ExpiresAt   string                   `json:"expiresAt,omitempty"`
	Next        string                   `json:"next,omitempty"`
	Data        []map[string]interface{} `json:"data,omitempty"`
}

// CrawlStart submits a crawl job and returns the upstream job id.
func (e *Enhanced) CrawlStart(ctx context.Context, url string, opts CrawlOptions) (string, error) {
	req := crawlRequest{
		URL:               url,
		Limit:             opts.Limit,
		MaxDepth:          opts.MaxDepth,
		IncludePaths:      opts.IncludePaths,
		ExcludePaths:      opts.ExcludePaths,
		Sitemap:           opts.Sitemap,
		AllowExternal:     opts.AllowExternal,
		CrawlEntireDomain: opts.CrawlEntireDomain,
		ScrapeOptions:     opts.ScrapeOptions,
	}
	var resp crawlSubmitResponse
	if err := e.call(ctx, "crawl", "POST", "/v2/crawl", req, 0, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.ID == "" {
		return "", errs.Server(0, fmt.Sprintf("enhanced crawl submit failed: %s", resp.Error))
	}
	return resp.ID, nil
}

// CrawlCheck fetches a crawl job's progress and accumulated pages.
func (e *Enhanced) CrawlCheck(ctx context.Context, id string) (*CrawlStatus, error) {
	var resp CrawlStatus
	if err := e.call(ctx, "crawl", "GET", "/v2/crawl/"+id, nil, 0, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CrawlCancel asks the upstream to stop a crawl job.
func (e *Enhanced) CrawlCancel(ctx context.Context, id string) error {
	var resp struct {
		Status string `json:"status"`
	}
	return e.call(ctx, "crawl", "DELETE", "/v2/crawl/"+id, nil, 0, &resp)
}

// call runs one upstream request: marshal, bearer auth, status mapping,
// decode. A zero timeout falls back to DefaultTimeout.
func (e *Enhanced) call(ctx context.Context, verb, method, path string, body interface{}, timeout time.Duration, out interface{}) error {
	if !e.Configured() {
		return errs.Auth(401, "enhanced fetcher is not configured (missing API key)")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", verb, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return errs.Validation("url", "building %s request: %v", verb, err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues(verb, "network_error").Inc()
		return errs.Network(err, fmt.Sprintf("enhanced %s call failed", verb))
	}
	defer resp.Body.Close()

	metrics.UpstreamCallsTotal.WithLabelValues(verb, strconv.Itoa(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 100<<20))
	if err != nil {
		return errs.Network(err, fmt.Sprintf("reading enhanced %s response", verb))
	}

	if apiErr := errs.FromStatus(resp.StatusCode,
		fmt.Sprintf("enhanced %s returned %d: %s", verb, resp.StatusCode, truncateBody(raw, 200)),
		retryAfterOf(resp)); apiErr != nil {
		e.logger.Warn("enhanced call failed",
			zap.String("verb", verb),
			zap.Int("status", resp.StatusCode))
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Server(resp.StatusCode,
			fmt.Sprintf("decoding enhanced %s response: %v", verb, err))
	}
	return nil
}

// truncateBody clips an upstream error body for log and error text.
func truncateBody(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// retryAfterOf parses a Retry-After header given in seconds.
func retryAfterOf(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
