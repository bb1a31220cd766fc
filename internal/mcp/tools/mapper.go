package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/fetch"
	"github.com/webharvest/webharvest-mcp/internal/pipeline"
	"github.com/webharvest/webharvest-mcp/internal/store"
)

// ProductScheme prefixes the URIs of map, search, and crawl results.
const ProductScheme = "webharvest"

// Map argument bounds and defaults.
const (
	defaultMapResults = 200
	maxMapResults     = 5000
)

var mapSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"url": map[string]interface{}{
			"type":        "string",
			"description": "Site to map; https:// is assumed when the scheme is missing",
		},
		"search": map[string]interface{}{
			"type":        "string",
			"description": "Filter discovered URLs by this term",
		},
		"maxResults": map[string]interface{}{
			"type":    "integer",
			"minimum": 1,
			"maximum": maxMapResults,
			"default": defaultMapResults,
		},
		"sitemap": map[string]interface{}{
			"type":    "string",
			"enum":    []string{"skip", "include", "only"},
			"default": "include",
		},
		"includeSubdomains": map[string]interface{}{
			"type":    "boolean",
			"default": true,
		},
		"ignoreQueryParameters": map[string]interface{}{
			"type":    "boolean",
			"default": true,
		},
		"location": map[string]interface{}{
			"type":        "object",
			"description": "Geolocation hint passed to the enhanced fetcher",
		},
		"startIndex": map[string]interface{}{
			"type":    "integer",
			"default": 0,
		},
		"resultHandling": map[string]interface{}{
			"type":    "string",
			"enum":    []string{pipeline.SaveOnly, pipeline.SaveAndReturn, pipeline.ReturnOnly},
			"default": pipeline.SaveAndReturn,
		},
	},
	"required": []string{"url"},
}

func mapDefinition(deps Deps) Definition {
	return Definition{
		Name: "map",
		Description: "Discover the URLs of a site via the enhanced fetcher. Returns a " +
			"summary plus one JSON page of links; page through with startIndex.",
		InputSchema: mapSchema,
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return handleMap(ctx, deps, args)
		},
	}
}

func handleMap(ctx context.Context, deps Deps, args map[string]interface{}) (*Result, error) {
	rawURL, err := requiredStringArg(args, "url")
	if err != nil {
		return nil, err
	}
	siteURL := normalizeURL(rawURL)

	search, err := stringArg(args, "search", "")
	if err != nil {
		return nil, err
	}
	maxResults, err := intArg(args, "maxResults", defaultMapResults, 1, maxMapResults)
	if err != nil {
		return nil, err
	}
	sitemap, err := enumArg(args, "sitemap", "include", "skip", "include", "only")
	if err != nil {
		return nil, err
	}
	includeSubdomains, err := boolArg(args, "includeSubdomains", true)
	if err != nil {
		return nil, err
	}
	ignoreQuery, err := boolArg(args, "ignoreQueryParameters", true)
	if err != nil {
		return nil, err
	}
	location, err := mapArg(args, "location")
	if err != nil {
		return nil, err
	}
	startIndex, err := intArg(args, "startIndex", 0, 0, 1<<31-1)
	if err != nil {
		return nil, err
	}
	handling, err := enumArg(args, "resultHandling", pipeline.SaveAndReturn,
		pipeline.SaveOnly, pipeline.SaveAndReturn, pipeline.ReturnOnly)
	if err != nil {
		return nil, err
	}

	links, err := deps.Enhanced.Map(ctx, siteURL, fetch.MapOptions{
		Search:                search,
		Limit:                 maxMapResults,
		Sitemap:               sitemap,
		IncludeSubdomains:     &includeSubdomains,
		IgnoreQueryParameters: &ignoreQuery,
		Location:              location,
	})
	if err != nil {
		return nil, err
	}

	total := len(links)
	hosts := uniqueHosts(links)

	if startIndex > total {
		startIndex = total
	}
	end := startIndex + maxResults
	if end > total {
		end = total
	}
	page := links[startIndex:end]
	pageIndex := startIndex / maxResults

	payload, merr := json.MarshalIndent(map[string]interface{}{
		"url":        siteURL,
		"total":      total,
		"page":       pageIndex,
		"pageSize":   maxResults,
		"startIndex": startIndex,
		"links":      page,
	}, "", "  ")
	if merr != nil {
		return nil, fmt.Errorf("encoding map results: %w", merr)
	}

	ts := time.Now().UnixMicro()
	uri := fmt.Sprintf("%s://map/%s/%d/page-%d", ProductScheme, hostOf(siteURL), ts, pageIndex)

	summary := fmt.Sprintf("Mapped %s: %d URLs across %d hostnames.", siteURL, total, len(hosts))
	if len(hosts) > 0 {
		summary += "\nHostnames: " + strings.Join(hosts, ", ")
	}
	if end < total {
		summary += fmt.Sprintf("\nShowing %d-%d; continue with startIndex=%d.", startIndex, end-1, end)
	}

	if handling != pipeline.ReturnOnly {
		if _, werr := deps.Store.Write(siteURL, store.TierRaw, string(payload), store.Meta{
			MimeType:       "application/json",
			SourceStrategy: "enhanced",
		}); werr != nil {
			deps.Logger.Warn("persisting map results failed",
				zap.String("url", siteURL), zap.Error(werr))
		}
	}

	result := &Result{Content: []Block{TextBlock("%s", summary)}}
	if handling != pipeline.SaveOnly {
		result.Content = append(result.Content, ResourceBlock(
			uri,
			fmt.Sprintf("map of %s (page %d)", hostOf(siteURL), pageIndex),
			"application/json",
			fmt.Sprintf("URLs %d-%d of %d discovered on %s", startIndex, end-1, total, siteURL),
			string(payload)))
	}
	return result, nil
}

// hostOf extracts a URL's host for product URIs; unparsable URLs fall back
// to a sanitized form of the whole string.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return store.Sanitize(rawURL)
	}
	return u.Host
}

// uniqueHosts collects the distinct hostnames of the discovered links.
func uniqueHosts(links []fetch.MapLink) []string {
	seen := make(map[string]struct{})
	for _, l := range links {
		if u, err := url.Parse(l.URL); err == nil && u.Host != "" {
			seen[u.Host] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
