package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/content"
	"github.com/webharvest/webharvest-mcp/internal/fetch"
	"github.com/webharvest/webharvest-mcp/internal/metrics"
	"github.com/webharvest/webharvest-mcp/internal/store"
)

// Package pipeline orchestrates a single scrape call.
//
// Responsibilities:
//   - Serve repeat requests from the resource store when allowed
//   - Run the fetch cascade on a miss and persist the result tiers
//   - Apply cleaning and optional LLM extraction between fetch and persist
//   - Coalesce concurrent identical scrapes into one in-flight fetch
//
// The store is advisory: lookup and persistence errors log a warning and
// the call proceeds as if the cache were empty.

// Result handling modes.
const (
	SaveOnly      = "saveOnly"
	SaveAndReturn = "saveAndReturn"
	ReturnOnly    = "returnOnly"
)

// Options shape one scrape call.
type Options struct {
	// Fetch is passed through to the strategy cascade.
	Fetch fetch.Options

	// ResultHandling is saveOnly, saveAndReturn, or returnOnly. Empty
	// means saveAndReturn.
	ResultHandling string

	// ForceRescrape bypasses the cache lookup.
	ForceRescrape bool

	// CleanScrape converts HTML bodies to Markdown before persisting.
	CleanScrape bool

	// Extract, when non-empty and an LLM provider is configured, runs the
	// prompt over the cleaned content.
	Extract string
}

func (o Options) handling() string {
	if o.ResultHandling == "" {
		return SaveAndReturn
	}
	return o.ResultHandling
}

// Outcome is what one scrape produced.
type Outcome struct {
	// Content is the display text: extracted if present, else cleaned,
	// else raw.
	Content string

	// Tier names which processing stage Content came from.
	Tier store.Tier

	MimeType string

	// Source is the strategy that produced the content, or "cache".
	Source string

	Timestamp time.Time

	// Cached is true when the content came from the resource store.
	Cached bool

	// URI is the cache-hit resource; URIs are the tiers a fresh scrape
	// persisted. Both empty for returnOnly.
	URI  string
	URIs store.MultiURIs

	Screenshot *fetch.Screenshot
	Links      []string
	Metadata   map[string]interface{}

	// ExtractionErr carries the extraction failure message when the
	// pre-extraction text was returned instead. Never fatal.
	ExtractionErr string
}

// Pipeline wires the store, the cascade, and the content processors.
type Pipeline struct {
	store     store.Store
	cascade   *fetch.Cascade
	cleaner   *content.Cleaner
	extractor *content.Extractor
	collector *metrics.Collector
	logger    *zap.Logger

	flights *flightGroup
}

// New builds a Pipeline.
func New(st store.Store, cascade *fetch.Cascade, cleaner *content.Cleaner,
	extractor *content.Extractor, collector *metrics.Collector, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     st,
		cascade:   cascade,
		cleaner:   cleaner,
		extractor: extractor,
		collector: collector,
		logger:    logger,
		flights:   newFlightGroup(),
	}
}

// Scrape serves one scrape call. A *fetch.CascadeError is returned when
// every strategy failed; its diagnostics belong in the error response.
func (p *Pipeline) Scrape(ctx context.Context, url string, opts Options) (*Outcome, error) {
	if p.useCache(opts) {
		if out, ok := p.cacheLookup(url, opts.Extract); ok {
			return out, nil
		}
	}
	return p.flights.do(fingerprint(url, opts), func() (*Outcome, error) {
		return p.fetchAndProcess(ctx, url, opts)
	})
}

// useCache reports whether the cache lookup step runs at all. Screenshots
// bypass the cache: the image is more time-sensitive than the text.
func (p *Pipeline) useCache(opts Options) bool {
	if opts.ForceRescrape || opts.handling() == SaveOnly {
		return false
	}
	return !opts.Fetch.WantsScreenshot()
}

func (p *Pipeline) cacheLookup(url, extract string) (*Outcome, bool) {
	res, ok := p.store.BestFor(url, extract)
	if !ok {
		p.collector.RecordCache(metrics.CacheMiss)
		return nil, false
	}
	p.collector.RecordCache(metrics.CacheHit)
	return &Outcome{
		Content:   res.Content,
		Tier:      res.Tier,
		MimeType:  res.MimeType,
		Source:    res.SourceStrategy,
		Timestamp: res.Timestamp,
		Cached:    true,
		URI:       res.URI,
	}, true
}

func (p *Pipeline) fetchAndProcess(ctx context.Context, url string, opts Options) (*Outcome, error) {
	result, winner, err := p.cascade.Fetch(ctx, url, opts.Fetch)
	if err != nil {
		return nil, err
	}

	raw := result.Content
	mimeType := result.MimeType
	if mimeType == "" {
		mimeType = content.Detect(raw)
	}

	var cleaned *string
	if opts.CleanScrape {
		if c := p.cleaner.Clean(raw); c != raw {
			cleaned = &c
		}
	}

	var extracted *string
	var extractionErr string
	if opts.Extract != "" && p.extractor.Configured() {
		input := raw
		if cleaned != nil {
			input = *cleaned
		}
		out, exErr := p.extractor.Extract(ctx, input, opts.Extract)
		if exErr != nil {
			// The scrape still succeeded; the caller gets the
			// pre-extraction text with the failure attached.
			extractionErr = exErr.Error()
		} else {
			extracted = &out
		}
	}

	outcome := &Outcome{
		Tier:          store.TierRaw,
		MimeType:      mimeType,
		Source:        winner,
		Timestamp:     time.Now(),
		Screenshot:    result.Screenshot,
		Links:         result.Links,
		Metadata:      result.Metadata,
		ExtractionErr: extractionErr,
	}

	outcome.Content = raw
	if cleaned != nil {
		outcome.Content = *cleaned
		outcome.Tier = store.TierCleaned
		outcome.MimeType = "text/markdown"
	}
	if extracted != nil {
		outcome.Content = *extracted
		outcome.Tier = store.TierExtracted
		outcome.MimeType = "text/plain"
	}

	if opts.handling() != ReturnOnly {
		uris, werr := p.store.WriteMulti(url, raw, cleaned, extracted, store.Meta{
			MimeType:       mimeType,
			SourceStrategy: winner,
			ExtractPrompt:  opts.Extract,
		})
		if werr != nil {
			p.logger.Warn("persisting scrape result failed",
				zap.String("url", url), zap.Error(werr))
		} else {
			outcome.URIs = uris
		}
	}

	return outcome, nil
}

// fingerprint keys the coalescing table. Callers with different handling
// or extraction settings must not share an outcome.
func fingerprint(url string, opts Options) string {
	fp := url + "\x00" + opts.Extract + "\x00" + opts.handling()
	if opts.CleanScrape {
		fp += "\x00clean"
	}
	if opts.Fetch.WantsScreenshot() {
		fp += "\x00screenshot"
	}
	return fp
}
