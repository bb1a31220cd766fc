package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/webharvest/webharvest-mcp/internal/fetch"
)

// Search argument bounds and defaults.
const (
	defaultSearchLimit = 5
	maxSearchLimit     = 100
)

var (
	searchSources    = []string{"web", "images", "news"}
	searchCategories = []string{"github", "research", "pdf"}
)

var searchSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"query": map[string]interface{}{
			"type":        "string",
			"description": "Search query",
		},
		"limit": map[string]interface{}{
			"type":    "integer",
			"minimum": 1,
			"maximum": maxSearchLimit,
			"default": defaultSearchLimit,
		},
		"sources": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string", "enum": searchSources},
			"description": "Result groups to request; defaults to web",
		},
		"categories": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string", "enum": searchCategories},
		},
		"country":  map[string]interface{}{"type": "string"},
		"lang":     map[string]interface{}{"type": "string", "default": "en"},
		"location": map[string]interface{}{"type": "string"},
		"tbs": map[string]interface{}{
			"type":        "string",
			"description": "Time-based search filter passed through to the upstream",
		},
		"scrapeOptions": map[string]interface{}{
			"type":        "object",
			"description": "Scrape options applied to each hit by the upstream",
		},
	},
	"required": []string{"query"},
}

func searchDefinition(deps Deps) Definition {
	return Definition{
		Name: "search",
		Description: "Run a query against the enhanced fetcher's search API. Returns one " +
			"JSON resource per requested source (web, images, news).",
		InputSchema: searchSchema,
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return handleSearch(ctx, deps, args)
		},
	}
}

func handleSearch(ctx context.Context, deps Deps, args map[string]interface{}) (*Result, error) {
	query, err := requiredStringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := intArg(args, "limit", defaultSearchLimit, 1, maxSearchLimit)
	if err != nil {
		return nil, err
	}
	sources, err := subsetArg(args, "sources", searchSources...)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		sources = []string{"web"}
	}
	categories, err := subsetArg(args, "categories", searchCategories...)
	if err != nil {
		return nil, err
	}
	country, err := stringArg(args, "country", "")
	if err != nil {
		return nil, err
	}
	lang, err := stringArg(args, "lang", "en")
	if err != nil {
		return nil, err
	}
	location, err := stringArg(args, "location", "")
	if err != nil {
		return nil, err
	}
	tbs, err := stringArg(args, "tbs", "")
	if err != nil {
		return nil, err
	}
	scrapeOptions, err := mapArg(args, "scrapeOptions")
	if err != nil {
		return nil, err
	}

	data, err := deps.Enhanced.Search(ctx, query, fetch.SearchOptions{
		Limit:         limit,
		Sources:       sources,
		Categories:    categories,
		Country:       country,
		Lang:          lang,
		Location:      location,
		TBS:           tbs,
		ScrapeOptions: scrapeOptions,
	})
	if err != nil {
		return nil, err
	}

	grouped := map[string][]fetch.SearchItem{
		"web":    data.Web,
		"images": data.Images,
		"news":   data.News,
	}

	ts := time.Now().UnixMicro()
	result := &Result{}
	total := 0
	for _, source := range sources {
		items := grouped[source]
		total += len(items)
		payload, merr := json.MarshalIndent(map[string]interface{}{
			"query":   query,
			"source":  source,
			"count":   len(items),
			"results": items,
		}, "", "  ")
		if merr != nil {
			return nil, fmt.Errorf("encoding search results: %w", merr)
		}
		result.Content = append(result.Content, ResourceBlock(
			fmt.Sprintf("%s://search/%s/%d", ProductScheme, source, ts),
			fmt.Sprintf("search %s: %q", source, query),
			"application/json",
			fmt.Sprintf("%d %s results for %q", len(items), source, query),
			string(payload)))
	}

	summary := TextBlock("Search %q returned %d results across %d sources.",
		query, total, len(sources))
	result.Content = append([]Block{summary}, result.Content...)
	return result, nil
}
