package fetch

import (
	"context"
	"time"
)

// Package fetch retrieves page content by one of two strategies and decides
// which to try first.
//
// Responsibilities:
//   - Native: plain HTTP GET with a per-call timeout
//   - Enhanced: client for the upstream rendering API (scrape, search,
//     map, crawl verbs)
//   - Cascade: strategy ordering, fallback, per-attempt diagnostics, and
//     feeding winners back to the strategy registry
//
// Auth failures abort the cascade instead of falling through: a second
// strategy cannot fix a bad credential and the caller needs to see it.

// DefaultTimeout applies when a call does not carry its own budget.
const DefaultTimeout = 60 * time.Second

// Options shape a single fetch.
type Options struct {
	// Timeout bounds the call. Zero means DefaultTimeout.
	Timeout time.Duration

	// Formats lists the content shapes requested from the enhanced
	// fetcher (markdown, html, rawHtml, links, images, screenshot,
	// summary, branding).
	Formats []string

	// MainContentOnly asks the upstream renderer to strip page chrome.
	MainContentOnly bool

	// Actions are page interactions executed before capture, passed
	// through to the enhanced fetcher verbatim.
	Actions []map[string]interface{}

	// Location tailors upstream geolocation, passed through verbatim.
	Location map[string]interface{}

	// MaxAgeMS accepts upstream-cached renders up to this age.
	MaxAgeMS int
}

// WantsScreenshot reports whether the screenshot format was requested.
func (o Options) WantsScreenshot() bool {
	for _, f := range o.Formats {
		if f == "screenshot" {
			return true
		}
	}
	return false
}

// Screenshot is a rendered page capture.
type Screenshot struct {
	// Base64 is the encoded image payload.
	Base64 string

	// Format tags the image MIME type, e.g. image/png.
	Format string
}

// Result is what a strategy produced for a URL.
type Result struct {
	Content    string
	MimeType   string
	Metadata   map[string]interface{}
	Screenshot *Screenshot
	Links      []string
}

// Fetcher is one content-retrieval strategy.
type Fetcher interface {
	// Name identifies the strategy in diagnostics and the registry.
	Name() string

	// Scrape retrieves the URL. Errors carry taxonomy kinds so the
	// cascade can distinguish auth failures from retryable ones.
	Scrape(ctx context.Context, url string, opts Options) (*Result, error)
}
