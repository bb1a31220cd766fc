package content

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Package content turns fetched bodies into something a model can use.
//
// Responsibilities:
//   - Classify bodies by content type from their leading bytes
//   - Convert HTML to Markdown, stripping navigation and page chrome
//   - Run LLM extraction when a prompt is supplied and a provider exists
//
// Cleaning never fails a scrape: any parse or conversion problem logs a
// warning and hands back the original body.

// dropSelectors name the page chrome removed before Markdown conversion.
var dropSelectors = []string{
	"script",
	"style",
	"noscript",
	"iframe",
	"svg",
	"nav",
	"header",
	"footer",
	"aside",
	"form",
	"[role=navigation]",
	"[role=banner]",
	"[role=complementary]",
	"[role=contentinfo]",
	".nav", ".navbar", ".menu", ".sidebar",
	".header", ".footer",
	".advertisement", ".ads", ".ad-container",
	"[class*=cookie-banner]", "[id*=cookie-banner]",
}

// Cleaner converts HTML bodies to Markdown.
type Cleaner struct {
	conv   *md.Converter
	logger *zap.Logger
}

// NewCleaner builds a Cleaner. The converter keeps headings, lists, tables,
// code blocks, and links through the Markdown translation.
func NewCleaner(logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		conv:   md.NewConverter("", true, nil),
		logger: logger,
	}
}

// Clean converts an HTML body to Markdown. Non-HTML bodies pass through
// unchanged, as does anything the converter cannot handle.
func (c *Cleaner) Clean(body string) string {
	if Detect(body) != "text/html" {
		return body
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		c.logger.Warn("html parse failed, returning original body", zap.Error(err))
		return body
	}
	for _, sel := range dropSelectors {
		doc.Find(sel).Remove()
	}
	pruned, err := doc.Html()
	if err != nil {
		c.logger.Warn("html serialize failed, returning original body", zap.Error(err))
		return body
	}

	markdown, err := c.conv.ConvertString(pruned)
	if err != nil {
		c.logger.Warn("markdown conversion failed, returning original body", zap.Error(err))
		return body
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		c.logger.Warn("cleaning produced empty output, returning original body")
		return body
	}
	return markdown
}
