package config

import "context"

// Package config provides configuration management for webharvest-mcp.
//
// Responsibilities:
//   - Load configuration from an optional YAML file and environment variables
//   - Validate configuration on startup (invalid config is a categorized exit)
//   - Provide runtime access to all configuration
//   - Support reloading of the settings that can change at runtime
//   - Keep API keys out of config files via environment overrides
//   - Establish reasonable defaults
//
// Configuration sources (priority order, high to low):
//  1. Environment variables (exact names, no prefix; see bindEnvVars)
//  2. YAML config file (optional, -config flag)
//  3. Built-in defaults
//
// Main configuration sections:
//
//	server    — port, allowed hosts/origins, body cap, session idle timeout
//	store     — resource store backend, TTL, size and item caps, base path
//	events    — event store backend (memory or sqlite) and database path
//	strategy  — registry persistence path and optional seed file
//	upstream  — enhanced fetch provider API key and base URL
//	llm       — extraction provider kind, key, model, base URL
//	pipeline  — optimization mode, per-host fetch limit, fetch timeout
//	metrics   — reset-endpoint auth, latency ring size
//	logging   — format, debug flag, optional rotating file sink

// Config contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Port           int
		AllowedHosts   []string
		AllowedOrigins []string
		// Production enables the host/origin guards. Driven by NODE_ENV.
		Production         bool
		AllowCredentials   bool
		BodyLimitBytes     int64
		RateLimitPerMin    int
		SessionIdleSeconds int
		EnableOAuth        bool
	}

	// Resource store configuration
	Store struct {
		Backend    string // "memory" | "filesystem"
		TTLSeconds int    // 0 = never expire
		MaxSizeMB  int
		MaxItems   int
		Path       string // filesystem backend root
	}

	// Event store configuration
	Events struct {
		Backend string // "memory" | "sqlite"
		DBPath  string
	}

	// Strategy registry configuration
	Strategy struct {
		RegistryPath string
		SeedPath     string
	}

	// Upstream enhanced-fetch provider
	Upstream struct {
		APIKey  string
		BaseURL string
	}

	// LLM provider used for extraction
	LLM struct {
		Provider string // "anthropic" | "openai" | "ollama" | ""
		APIKey   string
		Model    string
		BaseURL  string
		// Configured is derived during validation: true when the chosen
		// provider has what it needs to serve extraction requests.
		Configured bool
	}

	// Pipeline configuration
	Pipeline struct {
		OptimizeFor    string // "cost" | "speed"
		PerHostLimit   int
		FetchTimeoutMS int
	}

	// Metrics configuration
	Metrics struct {
		AuthEnabled bool
		AuthKey     string
		RingSize    int
	}

	// Logging configuration
	Logging struct {
		Format string // "text" | "json"
		Debug  bool
		File   string
	}
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file for changes and emits reloaded configs.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads configuration from sources.
	Reload(ctx context.Context) error
}

// NewManager creates a configuration manager. configPath may be empty, in
// which case only defaults and environment variables apply.
func NewManager(configPath string) (Manager, error) {
	mgr := &viperManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}
