package main

// Package main is the entry point for the webharvest MCP server.
//
// Responsibilities:
//   - Load and validate configuration from defaults, environment variables,
//     and an optional YAML file
//   - Build the component graph: store, strategy registry, fetch cascade,
//     content pipeline, tool registry, session runtime
//   - Serve MCP over streamable HTTP (POST/SSE/DELETE /mcp plus the
//     WebSocket endpoint) or over stdio per the -transport flag
//   - Expose health and metrics endpoints alongside the protocol surface
//   - Shut down gracefully on SIGINT/SIGTERM
//
// Exit codes:
//   0 clean shutdown
//   2 configuration invalid
//   3 resource or event store initialization failed
//   4 listener bind failed

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/config"
	"github.com/webharvest/webharvest-mcp/internal/content"
	"github.com/webharvest/webharvest-mcp/internal/fetch"
	"github.com/webharvest/webharvest-mcp/internal/llm"
	"github.com/webharvest/webharvest-mcp/internal/logging"
	"github.com/webharvest/webharvest-mcp/internal/mcp"
	"github.com/webharvest/webharvest-mcp/internal/mcp/tools"
	"github.com/webharvest/webharvest-mcp/internal/metrics"
	"github.com/webharvest/webharvest-mcp/internal/pipeline"
	"github.com/webharvest/webharvest-mcp/internal/server"
	"github.com/webharvest/webharvest-mcp/internal/store"
	"github.com/webharvest/webharvest-mcp/internal/strategy"
)

const version = "1.0.0"

const (
	exitOK          = 0
	exitConfig      = 2
	exitStoreInit   = 3
	exitListenerErr = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	transport := flag.String("transport", "http", "transport to serve: http or stdio")
	configPath := flag.String("config", "", "optional YAML configuration file")
	flag.Parse()

	if *transport != "http" && *transport != "stdio" {
		fmt.Fprintf(os.Stderr, "invalid -transport %q: must be http or stdio\n", *transport)
		return exitConfig
	}

	ctx := context.Background()

	mgr, err := config.NewManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration setup failed: %v\n", err)
		return exitConfig
	}
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "configuration load failed: %v\n", err)
		return exitConfig
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return exitConfig
	}
	cfg := mgr.Get(ctx)

	logger, err := logging.New(logging.Options{
		Format: cfg.Logging.Format,
		Debug:  cfg.Logging.Debug,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		return exitConfig
	}
	defer logger.Sync()

	collector := metrics.New(cfg.Metrics.RingSize)

	st, err := newStore(cfg, collector, logger)
	if err != nil {
		logger.Error("resource store initialization failed", zap.Error(err))
		return exitStoreInit
	}
	defer st.Close()

	events, err := mcp.NewEventStore(cfg.Events.Backend, cfg.Events.DBPath)
	if err != nil {
		logger.Error("event store initialization failed", zap.Error(err))
		return exitStoreInit
	}

	registry, err := strategy.New(strategy.Options{
		Path:     cfg.Strategy.RegistryPath,
		SeedPath: cfg.Strategy.SeedPath,
		Logger:   logger.Named("strategy"),
	})
	if err != nil {
		logger.Error("strategy registry initialization failed", zap.Error(err))
		return exitStoreInit
	}
	defer registry.Close()

	enhanced := fetch.NewEnhanced(cfg.Upstream.APIKey, cfg.Upstream.BaseURL, logger.Named("fetch"))
	cascade := fetch.NewCascade(fetch.CascadeOptions{
		Native:       fetch.NewNative(logger.Named("fetch")),
		Enhanced:     enhanced,
		Registry:     registry,
		Mode:         cfg.Pipeline.OptimizeFor,
		PerHostLimit: cfg.Pipeline.PerHostLimit,
		Collector:    collector,
		Logger:       logger.Named("fetch"),
	})

	var provider llm.Provider
	if cfg.LLM.Configured {
		provider, err = llm.New(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "llm provider configuration invalid: %v\n", err)
			return exitConfig
		}
	}
	extractor := content.NewExtractor(provider, logger.Named("extract"))

	pipe := pipeline.New(st, cascade,
		content.NewCleaner(logger.Named("clean")),
		extractor, collector, logger.Named("pipeline"))

	toolRegistry := tools.NewRegistry(collector, logger.Named("tools"))
	if err := tools.RegisterAll(toolRegistry, tools.Deps{
		Pipeline:  pipe,
		Store:     st,
		Enhanced:  enhanced,
		Extractor: extractor,
		Logger:    logger.Named("tools"),
	}); err != nil {
		logger.Error("tool registration failed", zap.Error(err))
		return exitConfig
	}

	runtime := mcp.NewRuntime(mcp.RuntimeOptions{
		Tools:       toolRegistry,
		Store:       st,
		Events:      events,
		ServerName:  "webharvest-mcp",
		Version:     version,
		IdleTimeout: time.Duration(cfg.Server.SessionIdleSeconds) * time.Second,
		Logger:      logger.Named("mcp"),
	})

	if *transport == "stdio" {
		return runStdio(runtime, logger)
	}
	return runHTTP(cfg, runtime, collector, st, logger)
}

func newStore(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (store.Store, error) {
	opts := store.Options{
		Backend:   cfg.Store.Backend,
		TTL:       time.Duration(cfg.Store.TTLSeconds) * time.Second,
		MaxItems:  cfg.Store.MaxItems,
		MaxBytes:  int64(cfg.Store.MaxSizeMB) << 20,
		Path:      cfg.Store.Path,
		Collector: collector,
		Logger:    logger.Named("store"),
	}
	switch cfg.Store.Backend {
	case "", "memory":
		return store.NewMemory(opts), nil
	case "filesystem":
		return store.NewFilesystem(opts)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func runHTTP(cfg *config.Config, runtime *mcp.Runtime, collector *metrics.Collector, st store.Store, logger *zap.Logger) int {
	srv, err := server.New(server.Options{
		Config:    cfg,
		Runtime:   runtime,
		Collector: collector,
		Store:     st,
		Version:   version,
		Logger:    logger.Named("server"),
	})
	if err != nil {
		logger.Error("server setup failed", zap.Error(err))
		return exitConfig
	}
	if err := srv.Start(); err != nil {
		logger.Error("listener bind failed", zap.Error(err))
		return exitListenerErr
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", zap.String("signal", s.String()))

	if err := srv.Stop(context.Background()); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return exitOK
}

func runStdio(runtime *mcp.Runtime, logger *zap.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	err := server.RunStdio(ctx, runtime, os.Stdin, os.Stdout, logger.Named("stdio"))
	runtime.Shutdown()
	if err != nil && err != context.Canceled {
		logger.Error("stdio transport failed", zap.Error(err))
	}
	return exitOK
}
