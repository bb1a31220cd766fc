package content

import (
	"encoding/json"
	"strings"
)

// sniffLen bounds how much of the body the classifier inspects.
const sniffLen = 1024

// htmlMarkers are tags whose presence near the start of a body marks it as
// HTML.
var htmlMarkers = []string{
	"<!doctype html",
	"<html",
	"<head",
	"<body",
	"<div",
	"<article",
	"<section",
	"<title",
	"<p>",
	"<br",
	"<h1",
	"<meta",
}

// Detect classifies a body as text/html, application/json, application/xml,
// or text/plain from its leading bytes.
func Detect(body string) string {
	sniff := body
	if len(sniff) > sniffLen {
		sniff = sniff[:sniffLen]
	}
	low := strings.ToLower(sniff)
	for _, marker := range htmlMarkers {
		if strings.Contains(low, marker) {
			return "text/html"
		}
	}

	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if json.Valid([]byte(trimmed)) {
			return "application/json"
		}
	}
	if strings.HasPrefix(trimmed, "<?xml") || strings.HasPrefix(trimmed, "<") {
		return "application/xml"
	}
	return "text/plain"
}
