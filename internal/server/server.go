package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/config"
	"github.com/webharvest/webharvest-mcp/internal/mcp"
	"github.com/webharvest/webharvest-mcp/internal/metrics"
	"github.com/webharvest/webharvest-mcp/internal/middleware"
	"github.com/webharvest/webharvest-mcp/internal/store"
)

// Package server is the network surface: the /mcp endpoint in its POST,
// SSE, and DELETE forms, the WebSocket transport, the metrics and health
// endpoints, and the production host/origin guards in front of them all.

// DefaultBodyLimit caps POST /mcp request bodies.
const DefaultBodyLimit = 10 << 20

// Server owns the HTTP listener and routes requests into the session
// runtime.
type Server struct {
	cfg       *config.Config
	runtime   *mcp.Runtime
	collector *metrics.Collector
	store     store.Store
	limiter   *middleware.RateLimiter
	version   string
	logger    *zap.Logger

	httpServer *http.Server
	started    time.Time

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// Options carries the collaborators a Server needs.
type Options struct {
	Config    *config.Config
	Runtime   *mcp.Runtime
	Collector *metrics.Collector
	Store     store.Store
	Version   string
	Logger    *zap.Logger
}

// New builds a Server. The listener is not opened until Start.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if opts.Runtime == nil {
		return nil, fmt.Errorf("session runtime cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		cfg:       opts.Config,
		runtime:   opts.Runtime,
		collector: opts.Collector,
		store:     opts.Store,
		version:   opts.Version,
		logger:    opts.Logger,
		started:   time.Now(),
	}
	if n := opts.Config.Server.RateLimitPerMin; n > 0 {
		s.limiter = middleware.NewRateLimiter(n)
	}
	return s, nil
}

// Handler assembles the full route table with guards applied. Exposed so
// tests can drive the server through httptest without a real listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mcpHandler := http.Handler(http.HandlerFunc(s.handleMCP))
	if s.limiter != nil {
		mcpHandler = s.limiter.Middleware(mcpHandler)
	}
	mux.Handle("/mcp", mcpHandler)
	mux.HandleFunc("/mcp/ws", s.handleWebSocket)

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/json", s.handleMetricsJSON)
	mux.HandleFunc("/metrics/reset", s.handleMetricsReset)
	mux.Handle("/metrics/prometheus", prometheusHandler())

	mux.HandleFunc("/register", s.handleOAuthRegister)
	mux.HandleFunc("/authorize", s.handleOAuthAuthorize)

	return s.withGuards(mux)
}

// Start opens the listener and serves until Stop. A bind failure is
// returned synchronously so the caller can exit with the right code.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("production", s.cfg.Server.Production))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests, closes every session, and stops the
// rate limiter.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	var err error
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err = s.httpServer.Shutdown(shutdownCtx)
	}

	s.runtime.Shutdown()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.wg.Wait()
	s.logger.Info("http server stopped")
	return err
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
