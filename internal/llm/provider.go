package llm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Package llm ships the text-completion providers used for extraction.
//
// Responsibilities:
//   - Define the provider contract the content extractor calls
//   - Implement Anthropic, OpenAI, and Ollama clients over their HTTP APIs
//   - Map upstream HTTP statuses onto the shared error taxonomy
//
// Providers are deliberately thin: one blocking completion call per
// extraction, no streaming, no tool use.

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 120 * time.Second

// Request is a single completion ask.
type Request struct {
	// System primes the model; empty means provider default behavior.
	System string

	// Prompt is the user content, typically page text plus instructions.
	Prompt string

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
}

// Provider is a configured LLM backend.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Complete returns the model's text output for a request.
	Complete(ctx context.Context, req Request) (string, error)
}

// New builds the provider named by the configuration. An empty name returns
// (nil, nil): extraction is simply unconfigured.
func New(provider, apiKey, model, baseURL string) (Provider, error) {
	switch provider {
	case "":
		return nil, nil
	case "anthropic":
		return NewAnthropic(apiKey, model, baseURL)
	case "openai":
		return NewOpenAI(apiKey, model, baseURL)
	case "ollama":
		return NewOllama(model, baseURL)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// truncate clips an error body so upstream HTML error pages do not flood
// the logs.
func truncate(b []byte, n int) string {
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
