package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/content"
	"github.com/webharvest/webharvest-mcp/internal/errs"
	"github.com/webharvest/webharvest-mcp/internal/fetch"
	"github.com/webharvest/webharvest-mcp/internal/pipeline"
	"github.com/webharvest/webharvest-mcp/internal/store"
)

// Deps are the collaborators the tool handlers share.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Store     store.Store
	Enhanced  *fetch.Enhanced
	Extractor *content.Extractor
	Logger    *zap.Logger
}

// RegisterAll wires the four tools into a registry.
func RegisterAll(r *Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	for _, def := range []Definition{
		scrapeDefinition(deps),
		mapDefinition(deps),
		searchDefinition(deps),
		crawlDefinition(deps),
	} {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Argument bounds and defaults for scrape.
const (
	defaultTimeoutMS = 60000
	defaultMaxChars  = 100000
	maxMaxChars      = 10_000_000
)

var scrapeFormats = []string{
	"markdown", "html", "rawHtml", "links", "images", "screenshot", "summary", "branding",
}

var scrapeActions = []string{
	"wait", "click", "write", "press", "scroll", "screenshot", "scrape", "executeJavascript",
}

func scrapeSchema(llmConfigured bool) map[string]interface{} {
	props := map[string]interface{}{
		"url": map[string]interface{}{
			"type":        "string",
			"description": "URL to scrape; https:// is assumed when the scheme is missing",
		},
		"timeout": map[string]interface{}{
			"type":        "integer",
			"description": "Fetch timeout in milliseconds",
			"default":     defaultTimeoutMS,
		},
		"maxChars": map[string]interface{}{
			"type":        "integer",
			"description": "Maximum characters returned per call",
			"default":     defaultMaxChars,
		},
		"startIndex": map[string]interface{}{
			"type":        "integer",
			"description": "Character offset to continue a truncated result",
			"default":     0,
		},
		"resultHandling": map[string]interface{}{
			"type":    "string",
			"enum":    []string{pipeline.SaveOnly, pipeline.SaveAndReturn, pipeline.ReturnOnly},
			"default": pipeline.SaveAndReturn,
		},
		"forceRescrape": map[string]interface{}{
			"type":        "boolean",
			"description": "Bypass the cache and fetch fresh content",
			"default":     false,
		},
		"cleanScrape": map[string]interface{}{
			"type":        "boolean",
			"description": "Convert HTML to Markdown, dropping page chrome",
			"default":     true,
		},
		"formats": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string", "enum": scrapeFormats},
			"description": "Content shapes to request from the enhanced fetcher",
		},
		"actions": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "object"},
			"description": fmt.Sprintf("Browser actions executed before capture (%v)", scrapeActions),
		},
		"location": map[string]interface{}{
			"type":        "object",
			"description": "Geolocation hint passed to the enhanced fetcher",
		},
		"maxAge": map[string]interface{}{
			"type":        "integer",
			"description": "Accept upstream-cached renders up to this age in milliseconds",
		},
	}
	if llmConfigured {
		props["extract"] = map[string]interface{}{
			"type":        "string",
			"description": "Natural-language extraction prompt applied to the scraped content",
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"url"},
	}
}

func scrapeDefinition(deps Deps) Definition {
	return Definition{
		Name: "scrape",
		Description: "Fetch a web page, clean it to Markdown, optionally run an extraction " +
			"prompt, and cache the result tiers. Repeat calls within the cache TTL are served " +
			"from the store.",
		InputSchema: scrapeSchema(deps.Extractor.Configured()),
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return handleScrape(ctx, deps, args)
		},
	}
}

type scrapeArgs struct {
	url            string
	timeout        time.Duration
	maxChars       int
	startIndex     int
	resultHandling string
	forceRescrape  bool
	cleanScrape    bool
	extract        string
	formats        []string
	actions        []map[string]interface{}
	location       map[string]interface{}
	maxAgeMS       int
}

func parseScrapeArgs(deps Deps, args map[string]interface{}) (*scrapeArgs, error) {
	var (
		sa  scrapeArgs
		err error
	)
	if sa.url, err = requiredStringArg(args, "url"); err != nil {
		return nil, err
	}
	sa.url = normalizeURL(sa.url)

	timeoutMS, err := intArg(args, "timeout", defaultTimeoutMS, 1, 600000)
	if err != nil {
		return nil, err
	}
	sa.timeout = time.Duration(timeoutMS) * time.Millisecond

	if sa.maxChars, err = intArg(args, "maxChars", defaultMaxChars, 1, maxMaxChars); err != nil {
		return nil, err
	}
	if sa.startIndex, err = intArg(args, "startIndex", 0, 0, maxMaxChars); err != nil {
		return nil, err
	}
	if sa.resultHandling, err = enumArg(args, "resultHandling", pipeline.SaveAndReturn,
		pipeline.SaveOnly, pipeline.SaveAndReturn, pipeline.ReturnOnly); err != nil {
		return nil, err
	}
	if sa.forceRescrape, err = boolArg(args, "forceRescrape", false); err != nil {
		return nil, err
	}
	if sa.cleanScrape, err = boolArg(args, "cleanScrape", true); err != nil {
		return nil, err
	}
	if sa.extract, err = stringArg(args, "extract", ""); err != nil {
		return nil, err
	}
	if sa.extract != "" && !deps.Extractor.Configured() {
		return nil, errs.Validation("extract",
			"extract requires an LLM provider; none is configured")
	}
	if sa.formats, err = subsetArg(args, "formats", scrapeFormats...); err != nil {
		return nil, err
	}
	if sa.actions, err = mapSliceArg(args, "actions"); err != nil {
		return nil, err
	}
	for _, action := range sa.actions {
		kind, _ := action["type"].(string)
		ok := false
		for _, a := range scrapeActions {
			if kind == a {
				ok = true
				break
			}
		}
		if !ok {
			return nil, errs.Validation("actions", "unknown action type %q", kind)
		}
	}
	if sa.location, err = mapArg(args, "location"); err != nil {
		return nil, err
	}
	if sa.maxAgeMS, err = intArg(args, "maxAge", 0, 0, 1<<31-1); err != nil {
		return nil, err
	}
	return &sa, nil
}

func handleScrape(ctx context.Context, deps Deps, args map[string]interface{}) (*Result, error) {
	sa, err := parseScrapeArgs(deps, args)
	if err != nil {
		return nil, err
	}

	out, err := deps.Pipeline.Scrape(ctx, sa.url, pipeline.Options{
		Fetch: fetch.Options{
			Timeout:         sa.timeout,
			Formats:         sa.formats,
			MainContentOnly: sa.cleanScrape,
			Actions:         sa.actions,
			Location:        sa.location,
			MaxAgeMS:        sa.maxAgeMS,
		},
		ResultHandling: sa.resultHandling,
		ForceRescrape:  sa.forceRescrape,
		CleanScrape:    sa.cleanScrape,
		Extract:        sa.extract,
	})
	if err != nil {
		var ce *fetch.CascadeError
		if errors.As(err, &ce) {
			return scrapeFailure(sa.url, ce), nil
		}
		return nil, err
	}

	return scrapeSuccess(sa, out), nil
}

// scrapeFailure renders the cascade diagnostics as an error envelope.
func scrapeFailure(url string, ce *fetch.CascadeError) *Result {
	d := ce.Diagnostics
	text := fmt.Sprintf("Failed to scrape %s.\n", url)
	for _, name := range d.StrategiesAttempted {
		text += fmt.Sprintf("  %s: %s (%d ms)\n", name, d.StrategyErrors[name], d.TimingMS[name])
	}
	if d.AuthError {
		text += "An authentication error stopped the fallback cascade; check the configured credentials.\n"
	}
	return ErrorResult("%s", text)
}

// scrapeSuccess assembles the response envelope for a served scrape.
func scrapeSuccess(sa *scrapeArgs, out *pipeline.Outcome) *Result {
	result := &Result{}

	if out.ExtractionErr != "" {
		result.Content = append(result.Content, TextBlock(
			"Extraction failed (%s); returning the %s content instead.",
			out.ExtractionErr, out.Tier))
	}
	if out.Screenshot != nil {
		result.Content = append(result.Content,
			ImageBlock(out.Screenshot.Base64, out.Screenshot.Format))
	}

	// saveOnly confirms persistence without shipping content; pagination
	// does not apply.
	if sa.resultHandling == pipeline.SaveOnly {
		text := fmt.Sprintf("Saved %s.", sa.url)
		for _, ref := range tierRefs(out) {
			text += fmt.Sprintf("\n  %s: %s", ref.tier, ref.uri)
		}
		result.Content = append(result.Content, TextBlock("%s", text))
		return result
	}

	display, next, perr := paginate(out.Content, sa.startIndex, sa.maxChars)
	if perr != nil {
		return envelopeFor(perr)
	}
	if next >= 0 {
		display += truncationMarker(next, len(out.Content))
	}

	uri := displayURI(out)
	if uri == "" {
		// Nothing was persisted, so the content travels as a bare text
		// block tagged with its origin.
		source := out.Source
		if out.Cached {
			source = "cache"
		}
		result.Content = append(result.Content,
			TextBlock("%s\n\n[source: %s]", display, source))
		return result
	}

	description := fmt.Sprintf("%s content for %s (source: %s, %s)",
		out.Tier, sa.url, out.Source, out.Timestamp.UTC().Format(time.RFC3339))
	if out.Cached {
		description = fmt.Sprintf("%s content for %s (cached, source: %s, %s)",
			out.Tier, sa.url, out.Source, out.Timestamp.UTC().Format(time.RFC3339))
	}
	result.Content = append(result.Content,
		ResourceBlock(uri, sa.url, out.MimeType, description, display))
	return result
}

type tierRef struct {
	tier store.Tier
	uri  string
}

// tierRefs lists the URIs a scrape persisted, display tier last.
func tierRefs(out *pipeline.Outcome) []tierRef {
	if out.Cached {
		return []tierRef{{out.Tier, out.URI}}
	}
	var refs []tierRef
	if out.URIs.RawURI != "" {
		refs = append(refs, tierRef{store.TierRaw, out.URIs.RawURI})
	}
	if out.URIs.CleanedURI != "" {
		refs = append(refs, tierRef{store.TierCleaned, out.URIs.CleanedURI})
	}
	if out.URIs.ExtractedURI != "" {
		refs = append(refs, tierRef{store.TierExtracted, out.URIs.ExtractedURI})
	}
	return refs
}

// displayURI is the persisted URI of the display tier, or "" when nothing
// was stored.
func displayURI(out *pipeline.Outcome) string {
	if out.Cached {
		return out.URI
	}
	switch out.Tier {
	case store.TierExtracted:
		return out.URIs.ExtractedURI
	case store.TierCleaned:
		return out.URIs.CleanedURI
	default:
		return out.URIs.RawURI
	}
}
