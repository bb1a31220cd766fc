package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/errs"
	"github.com/webharvest/webharvest-mcp/internal/metrics"
)

// Package tools implements the four MCP tools: scrape, map, search, crawl.
//
// Responsibilities:
//   - Publish tool definitions with their input schemas as static data
//   - Validate arguments at handler entry with field-citing errors
//   - Assemble responses from the tagged content block variants
//   - Slice long content per the startIndex/maxChars pagination contract
//
// Handlers never return Go errors to the protocol layer for domain
// failures: those become envelopes with isError set so the client gets a
// structured answer either way.

// Handler executes one tool call.
type Handler func(ctx context.Context, args map[string]interface{}) (*Result, error)

// Definition is one registered tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
	Handler     Handler                `json:"-"`
}

// Registry maps tool names to definitions, preserving registration order
// for tools/list.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]*Definition
	order     []string
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(collector *metrics.Collector, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		defs:      make(map[string]*Definition),
		collector: collector,
		logger:    logger,
	}
}

// Register adds a tool. Duplicate names are a programming error.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("tool definition needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool %q is already registered", def.Name)
	}
	d := def
	r.defs[def.Name] = &d
	r.order = append(r.order, def.Name)
	return nil
}

// List returns every definition in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.defs[name])
	}
	return out
}

// Call dispatches one tool invocation, converting domain errors to error
// envelopes and recording request metrics.
func (r *Registry) Call(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	start := time.Now()
	result, err := def.Handler(ctx, args)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		result = envelopeFor(err)
	}
	if r.collector != nil {
		r.collector.RecordRequest(elapsed, result.IsError)
	}

	if result.IsError {
		r.logger.Warn("tool call failed",
			zap.String("tool", name),
			zap.Int64("duration_ms", elapsed))
	} else {
		r.logger.Debug("tool call served",
			zap.String("tool", name),
			zap.Int64("duration_ms", elapsed))
	}
	return result, nil
}

// envelopeFor renders a handler error as a client-facing envelope.
func envelopeFor(err error) *Result {
	var e *errs.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errs.KindValidation:
			if e.Field != "" {
				return ErrorResult("Invalid %s: %s", e.Field, e.Message)
			}
			return ErrorResult("Invalid arguments: %s", e.Message)
		case errs.KindAuth:
			return ErrorResult("Authentication failed (%d): %s. Check the configured API key.", e.Status, e.Message)
		case errs.KindRateLimit:
			if e.RetryAfter > 0 {
				return ErrorResult("Rate limited: %s. Retry after %s.", e.Message, e.RetryAfter)
			}
			return ErrorResult("Rate limited: %s", e.Message)
		case errs.KindPayment:
			return ErrorResult("Payment required: %s. Check the upstream billing status.", e.Message)
		}
	}
	return ErrorResult("%v", err)
}
