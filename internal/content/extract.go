package content

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/errs"
	"github.com/webharvest/webharvest-mcp/internal/llm"
	"github.com/webharvest/webharvest-mcp/internal/metrics"
)

const extractSystem = "You extract information from web page content. " +
	"Answer the user's instruction using only the provided content. " +
	"Respond with the extracted information and nothing else."

// Extractor runs extraction prompts against a configured LLM provider.
type Extractor struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewExtractor wraps a provider. A nil provider produces an Extractor whose
// Configured method reports false.
func NewExtractor(provider llm.Provider, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{provider: provider, logger: logger}
}

// Configured reports whether extraction can run at all.
func (e *Extractor) Configured() bool {
	return e != nil && e.provider != nil
}

// Provider returns the provider name, or "" when unconfigured.
func (e *Extractor) Provider() string {
	if !e.Configured() {
		return ""
	}
	return e.provider.Name()
}

// Extract asks the provider to apply the prompt to the body. Failures come
// back as processing errors so callers can fall back to the input text.
func (e *Extractor) Extract(ctx context.Context, body, prompt string) (string, error) {
	if !e.Configured() {
		return "", errs.Processing(nil, "no LLM provider configured")
	}

	out, err := e.provider.Complete(ctx, llm.Request{
		System: extractSystem,
		Prompt: fmt.Sprintf("Content:\n%s\n\nInstruction: %s", body, prompt),
	})
	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues(e.provider.Name(), "failure").Inc()
		e.logger.Warn("extraction failed",
			zap.String("provider", e.provider.Name()),
			zap.Error(err))
		return "", errs.Processing(err, "extraction failed")
	}
	metrics.ExtractionsTotal.WithLabelValues(e.provider.Name(), "success").Inc()
	return out, nil
}
