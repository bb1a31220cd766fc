package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/webharvest/webharvest-mcp/internal/errs"
	"github.com/webharvest/webharvest-mcp/internal/fetch"
)

var crawlSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"url": map[string]interface{}{
			"type":        "string",
			"description": "Start URL; required when submitting a new crawl",
		},
		"jobId": map[string]interface{}{
			"type":        "string",
			"description": "Existing job to poll or cancel; omit to start a new crawl",
		},
		"cancel": map[string]interface{}{
			"type":        "boolean",
			"description": "With jobId, cancel the job instead of polling it",
			"default":     false,
		},
		"limit": map[string]interface{}{
			"type":        "integer",
			"description": "Maximum pages to crawl",
		},
		"maxDepth": map[string]interface{}{
			"type": "integer",
		},
		"includePaths": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"excludePaths": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"sitemap": map[string]interface{}{
			"type": "string",
			"enum": []string{"skip", "include", "only"},
		},
		"allowExternalLinks": map[string]interface{}{"type": "boolean"},
		"crawlEntireDomain":  map[string]interface{}{"type": "boolean"},
		"scrapeOptions": map[string]interface{}{
			"type":        "object",
			"description": "Scrape options applied to each crawled page by the upstream",
		},
	},
}

func crawlDefinition(deps Deps) Definition {
	return Definition{
		Name: "crawl",
		Description: "Start an asynchronous site crawl, poll a running job for progress " +
			"and accumulated pages, or cancel it. Jobs are tracked by the upstream's id.",
		InputSchema: crawlSchema,
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return handleCrawl(ctx, deps, args)
		},
	}
}

func handleCrawl(ctx context.Context, deps Deps, args map[string]interface{}) (*Result, error) {
	jobID, err := stringArg(args, "jobId", "")
	if err != nil {
		return nil, err
	}
	cancel, err := boolArg(args, "cancel", false)
	if err != nil {
		return nil, err
	}

	switch {
	case jobID == "" && cancel:
		return nil, errs.Validation("jobId", "cancel requires a jobId")
	case jobID == "":
		return startCrawl(ctx, deps, args)
	case cancel:
		return cancelCrawl(ctx, deps, jobID)
	default:
		return checkCrawl(ctx, deps, jobID)
	}
}

func startCrawl(ctx context.Context, deps Deps, args map[string]interface{}) (*Result, error) {
	rawURL, err := requiredStringArg(args, "url")
	if err != nil {
		return nil, err
	}
	startURL := normalizeURL(rawURL)

	limit, err := intArg(args, "limit", 0, 0, 100000)
	if err != nil {
		return nil, err
	}
	maxDepth, err := intArg(args, "maxDepth", 0, 0, 100)
	if err != nil {
		return nil, err
	}
	includePaths, err := stringSliceArg(args, "includePaths")
	if err != nil {
		return nil, err
	}
	excludePaths, err := stringSliceArg(args, "excludePaths")
	if err != nil {
		return nil, err
	}
	sitemap, err := enumArg(args, "sitemap", "include", "skip", "include", "only")
	if err != nil {
		return nil, err
	}
	scrapeOptions, err := mapArg(args, "scrapeOptions")
	if err != nil {
		return nil, err
	}

	opts := fetch.CrawlOptions{
		Limit:         limit,
		MaxDepth:      maxDepth,
		IncludePaths:  includePaths,
		ExcludePaths:  excludePaths,
		Sitemap:       sitemap,
		ScrapeOptions: scrapeOptions,
	}
	if v, ok := args["allowExternalLinks"]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, errs.Validation("allowExternalLinks", "allowExternalLinks must be a boolean")
		}
		opts.AllowExternal = &b
	}
	if v, ok := args["crawlEntireDomain"]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, errs.Validation("crawlEntireDomain", "crawlEntireDomain must be a boolean")
		}
		opts.CrawlEntireDomain = &b
	}

	id, err := deps.Enhanced.CrawlStart(ctx, startURL, opts)
	if err != nil {
		return nil, err
	}
	return TextResult("Crawl started for %s.\nJob id: %s\nPoll with {\"jobId\": %q} or cancel with {\"jobId\": %q, \"cancel\": true}.",
		startURL, id, id, id), nil
}

func checkCrawl(ctx context.Context, deps Deps, jobID string) (*Result, error) {
	status, err := deps.Enhanced.CrawlCheck(ctx, jobID)
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Crawl %s: %s (%d/%d pages", jobID, status.Status,
		status.Completed, status.Total)
	if status.CreditsUsed > 0 {
		summary += fmt.Sprintf(", %d credits used", status.CreditsUsed)
	}
	summary += ")"
	if status.ExpiresAt != "" {
		summary += fmt.Sprintf("\nResults expire at %s.", status.ExpiresAt)
	}
	if status.Next != "" {
		summary += "\nMore result pages are pending upstream; poll again for the remainder."
	}

	result := &Result{Content: []Block{TextBlock("%s", summary)}}
	if len(status.Data) > 0 {
		payload, merr := json.MarshalIndent(map[string]interface{}{
			"jobId":     jobID,
			"status":    status.Status,
			"total":     status.Total,
			"completed": status.Completed,
			"pages":     status.Data,
		}, "", "  ")
		if merr != nil {
			return nil, fmt.Errorf("encoding crawl results: %w", merr)
		}
		result.Content = append(result.Content, ResourceBlock(
			fmt.Sprintf("%s://crawl/results/%d", ProductScheme, time.Now().UnixMicro()),
			fmt.Sprintf("crawl results %s", jobID),
			"application/json",
			fmt.Sprintf("%d pages accumulated by crawl %s", len(status.Data), jobID),
			string(payload)))
	}
	return result, nil
}

func cancelCrawl(ctx context.Context, deps Deps, jobID string) (*Result, error) {
	if err := deps.Enhanced.CrawlCancel(ctx, jobID); err != nil {
		return nil, err
	}
	// The upstream may take a while to fully stop; the job is treated as
	// cancelled from here on regardless.
	return TextResult("Crawl %s cancelled.", jobID), nil
}
