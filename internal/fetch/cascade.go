package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/errs"
	"github.com/webharvest/webharvest-mcp/internal/metrics"
	"github.com/webharvest/webharvest-mcp/internal/strategy"
)

// Optimization modes. Cost tries the free native fetch first; speed goes
// straight to the enhanced fetcher.
const (
	OptimizeCost  = "cost"
	OptimizeSpeed = "speed"
)

// DefaultPerHostLimit bounds concurrent fetches against one host.
const DefaultPerHostLimit = 8

// Diagnostics records what the cascade tried for a failed fetch.
type Diagnostics struct {
	StrategiesAttempted []string          `json:"strategies_attempted"`
	StrategyErrors      map[string]string `json:"strategy_errors"`
	TimingMS            map[string]int64  `json:"timing_ms"`
	AuthError           bool              `json:"auth_error"`
}

// CascadeError is the terminal failure of a fetch: every strategy failed,
// or an auth error cut the cascade short.
type CascadeError struct {
	Diagnostics Diagnostics
	Last        error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("all fetch strategies failed (%d attempted): %v",
		len(e.Diagnostics.StrategiesAttempted), e.Last)
}

func (e *CascadeError) Unwrap() error { return e.Last }

// Cascade orders the fetch strategies for each URL, falls back on
// retryable failures, and feeds winners to the strategy registry.
type Cascade struct {
	native    Fetcher
	enhanced  Fetcher
	registry  *strategy.Registry
	collector *metrics.Collector
	mode      string
	logger    *zap.Logger

	// hostSem caps in-flight fetches per host.
	hostMu    sync.Mutex
	hostSem   map[string]chan struct{}
	hostLimit int
}

// CascadeOptions configures a Cascade.
type CascadeOptions struct {
	Native   Fetcher
	Enhanced Fetcher
	Registry *strategy.Registry

	// Mode is OptimizeCost or OptimizeSpeed. Empty means cost.
	Mode string

	// PerHostLimit of zero takes DefaultPerHostLimit; negative disables
	// the bound.
	PerHostLimit int

	Collector *metrics.Collector
	Logger    *zap.Logger
}

// NewCascade builds the strategy cascade.
func NewCascade(opts CascadeOptions) *Cascade {
	if opts.Mode == "" {
		opts.Mode = OptimizeCost
	}
	if opts.PerHostLimit == 0 {
		opts.PerHostLimit = DefaultPerHostLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cascade{
		native:    opts.Native,
		enhanced:  opts.Enhanced,
		registry:  opts.Registry,
		collector: opts.Collector,
		mode:      opts.Mode,
		logger:    opts.Logger,
		hostSem:   make(map[string]chan struct{}),
		hostLimit: opts.PerHostLimit,
	}
}

// Fetch runs the cascade for one URL. On success it returns the result and
// the name of the winning strategy; on failure the returned error is a
// *CascadeError carrying per-attempt diagnostics.
func (c *Cascade) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, string, error) {
	if release, err := c.acquireHost(ctx, rawURL); err != nil {
		return nil, "", err
	} else if release != nil {
		defer release()
	}

	order := c.order(rawURL, opts)

	diag := Diagnostics{
		StrategyErrors: make(map[string]string),
		TimingMS:       make(map[string]int64),
	}
	var lastErr error

	for i, f := range order {
		fallback := i > 0
		start := time.Now()
		result, err := f.Scrape(ctx, rawURL, opts)
		elapsed := time.Since(start).Milliseconds()

		diag.StrategiesAttempted = append(diag.StrategiesAttempted, f.Name())
		diag.TimingMS[f.Name()] = elapsed

		if err == nil {
			c.collector.RecordStrategy(f.Name(), elapsed, true, fallback)
			if c.registry != nil {
				c.registry.Learn(rawURL, f.Name())
			}
			return result, f.Name(), nil
		}

		c.collector.RecordStrategy(f.Name(), elapsed, false, fallback)
		diag.StrategyErrors[f.Name()] = err.Error()
		lastErr = err

		if errs.IsAuth(err) {
			// A credential problem will not improve with a different
			// strategy; stop here so the caller sees it immediately.
			diag.AuthError = true
			c.logger.Warn("auth error, aborting cascade",
				zap.String("url", rawURL),
				zap.String("strategy", f.Name()))
			break
		}
		c.logger.Debug("strategy failed, trying next",
			zap.String("url", rawURL),
			zap.String("strategy", f.Name()),
			zap.Error(err))
	}

	return nil, "", &CascadeError{Diagnostics: diag, Last: lastErr}
}

// order decides which strategies to try and in what sequence.
func (c *Cascade) order(rawURL string, opts Options) []Fetcher {
	// Screenshots can only come from the enhanced renderer.
	if opts.WantsScreenshot() {
		return []Fetcher{c.enhanced}
	}
	if c.mode == OptimizeSpeed {
		return []Fetcher{c.enhanced}
	}
	if c.registry != nil {
		if preferred, ok := c.registry.Get(rawURL); ok && preferred == strategy.Enhanced {
			return []Fetcher{c.enhanced}
		}
	}
	return []Fetcher{c.native, c.enhanced}
}

// acquireHost claims a slot in the URL host's semaphore. The returned
// release function is nil when the bound is disabled or the host is
// unparsable.
func (c *Cascade) acquireHost(ctx context.Context, rawURL string) (func(), error) {
	if c.hostLimit < 0 {
		return nil, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, nil
	}
	host := u.Host

	c.hostMu.Lock()
	sem, ok := c.hostSem[host]
	if !ok {
		sem = make(chan struct{}, c.hostLimit)
		c.hostSem[host] = sem
	}
	c.hostMu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, errs.Network(ctx.Err(), "fetch cancelled waiting for host slot")
	}
}
