package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// envBindings maps viper keys to the environment variables the service
// documents. The names are fixed by the deployment contract, so no prefix
// or automatic replacement applies.
var envBindings = map[string]string{
	"server.port":                 "PORT",
	"server.allowed_hosts":        "ALLOWED_HOSTS",
	"server.allowed_origins":      "ALLOWED_ORIGINS",
	"server.allow_credentials":    "CORS_ALLOW_CREDENTIALS",
	"server.body_limit_bytes":     "MCP_BODY_LIMIT_BYTES",
	"server.rate_limit_per_min":   "RATE_LIMIT_PER_MIN",
	"server.session_idle_seconds": "SESSION_IDLE_TIMEOUT",
	"server.enable_oauth":         "ENABLE_OAUTH",
	"store.backend":               "MCP_RESOURCE_STORAGE",
	"store.ttl_seconds":           "MCP_RESOURCE_TTL",
	"store.max_size_mb":           "MCP_RESOURCE_MAX_SIZE",
	"store.max_items":             "MCP_RESOURCE_MAX_ITEMS",
	"store.path":                  "MCP_RESOURCE_PATH",
	"events.backend":              "MCP_EVENT_STORE",
	"events.db_path":              "MCP_EVENT_DB_PATH",
	"strategy.registry_path":      "STRATEGY_REGISTRY_PATH",
	"strategy.seed_path":          "STRATEGY_SEED_PATH",
	"upstream.api_key":            "FIRECRAWL_API_KEY",
	"upstream.base_url":           "FIRECRAWL_BASE_URL",
	"llm.provider":                "LLM_PROVIDER",
	"llm.api_key":                 "LLM_API_KEY",
	"llm.model":                   "LLM_MODEL",
	"llm.base_url":                "LLM_BASE_URL",
	"pipeline.optimize_for":       "OPTIMIZE_FOR",
	"pipeline.per_host_limit":     "FETCH_PER_HOST_LIMIT",
	"pipeline.fetch_timeout_ms":   "FETCH_TIMEOUT_MS",
	"metrics.auth_enabled":        "METRICS_AUTH_ENABLED",
	"metrics.auth_key":            "METRICS_AUTH_KEY",
	"metrics.ring_size":           "METRICS_RING_SIZE",
	"logging.format":              "LOG_FORMAT",
	"logging.debug":               "DEBUG",
	"logging.file":                "LOG_FILE",
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
		m.viper.SetConfigType("yaml")
	}

	for key, env := range envBindings {
		if err := m.viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("binding %s: %w", env, err)
		}
	}

	m.setDefaults()

	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			// A missing file is fine: defaults plus env vars carry the
			// whole configuration.
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			} else if os.IsNotExist(err) {
			} else {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	if m.configPath == "" {
		return m.watchChan
	}
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperManager) Reload(ctx context.Context) error {
	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_hosts", strings.Join(defaults.Server.AllowedHosts, ","))
	m.viper.SetDefault("server.allowed_origins", "")
	m.viper.SetDefault("server.allow_credentials", defaults.Server.AllowCredentials)
	m.viper.SetDefault("server.body_limit_bytes", defaults.Server.BodyLimitBytes)
	m.viper.SetDefault("server.rate_limit_per_min", defaults.Server.RateLimitPerMin)
	m.viper.SetDefault("server.session_idle_seconds", defaults.Server.SessionIdleSeconds)
	m.viper.SetDefault("server.enable_oauth", defaults.Server.EnableOAuth)

	// Store defaults
	m.viper.SetDefault("store.backend", defaults.Store.Backend)
	m.viper.SetDefault("store.ttl_seconds", defaults.Store.TTLSeconds)
	m.viper.SetDefault("store.max_size_mb", defaults.Store.MaxSizeMB)
	m.viper.SetDefault("store.max_items", defaults.Store.MaxItems)
	m.viper.SetDefault("store.path", defaults.Store.Path)

	// Event store defaults
	m.viper.SetDefault("events.backend", defaults.Events.Backend)
	m.viper.SetDefault("events.db_path", defaults.Events.DBPath)

	// Strategy defaults
	m.viper.SetDefault("strategy.registry_path", defaults.Strategy.RegistryPath)
	m.viper.SetDefault("strategy.seed_path", defaults.Strategy.SeedPath)

	// Upstream defaults
	m.viper.SetDefault("upstream.api_key", defaults.Upstream.APIKey)
	m.viper.SetDefault("upstream.base_url", defaults.Upstream.BaseURL)

	// LLM defaults
	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.api_key", defaults.LLM.APIKey)
	m.viper.SetDefault("llm.model", defaults.LLM.Model)
	m.viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)

	// Pipeline defaults
	m.viper.SetDefault("pipeline.optimize_for", defaults.Pipeline.OptimizeFor)
	m.viper.SetDefault("pipeline.per_host_limit", defaults.Pipeline.PerHostLimit)
	m.viper.SetDefault("pipeline.fetch_timeout_ms", defaults.Pipeline.FetchTimeoutMS)

	// Metrics defaults
	m.viper.SetDefault("metrics.auth_enabled", defaults.Metrics.AuthEnabled)
	m.viper.SetDefault("metrics.auth_key", defaults.Metrics.AuthKey)
	m.viper.SetDefault("metrics.ring_size", defaults.Metrics.RingSize)

	// Logging defaults
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.debug", defaults.Logging.Debug)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
}

// unmarshalConfig unmarshals viper config into the Config struct.
func (m *viperManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedHosts = splitList(m.viper.GetString("server.allowed_hosts"))
	cfg.Server.AllowedOrigins = splitList(m.viper.GetString("server.allowed_origins"))
	cfg.Server.AllowCredentials = m.viper.GetBool("server.allow_credentials")
	cfg.Server.BodyLimitBytes = m.viper.GetInt64("server.body_limit_bytes")
	cfg.Server.RateLimitPerMin = m.viper.GetInt("server.rate_limit_per_min")
	cfg.Server.SessionIdleSeconds = m.viper.GetInt("server.session_idle_seconds")
	cfg.Server.EnableOAuth = m.viper.GetBool("server.enable_oauth")

	// Store
	cfg.Store.Backend = m.viper.GetString("store.backend")
	cfg.Store.TTLSeconds = m.viper.GetInt("store.ttl_seconds")
	cfg.Store.MaxSizeMB = m.viper.GetInt("store.max_size_mb")
	cfg.Store.MaxItems = m.viper.GetInt("store.max_items")
	cfg.Store.Path = m.viper.GetString("store.path")

	// Events
	cfg.Events.Backend = m.viper.GetString("events.backend")
	cfg.Events.DBPath = m.viper.GetString("events.db_path")

	// Strategy
	cfg.Strategy.RegistryPath = m.viper.GetString("strategy.registry_path")
	cfg.Strategy.SeedPath = m.viper.GetString("strategy.seed_path")

	// Upstream
	cfg.Upstream.APIKey = m.viper.GetString("upstream.api_key")
	cfg.Upstream.BaseURL = m.viper.GetString("upstream.base_url")

	// LLM
	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.APIKey = m.viper.GetString("llm.api_key")
	cfg.LLM.Model = m.viper.GetString("llm.model")
	cfg.LLM.BaseURL = m.viper.GetString("llm.base_url")

	// Pipeline
	cfg.Pipeline.OptimizeFor = m.viper.GetString("pipeline.optimize_for")
	cfg.Pipeline.PerHostLimit = m.viper.GetInt("pipeline.per_host_limit")
	cfg.Pipeline.FetchTimeoutMS = m.viper.GetInt("pipeline.fetch_timeout_ms")

	// Metrics
	cfg.Metrics.AuthEnabled = m.viper.GetBool("metrics.auth_enabled")
	cfg.Metrics.AuthKey = m.viper.GetString("metrics.auth_key")
	cfg.Metrics.RingSize = m.viper.GetInt("metrics.ring_size")

	// Logging
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.Debug = m.viper.GetBool("logging.debug")
	cfg.Logging.File = m.viper.GetString("logging.file")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variables that do not map onto a
// single viper key.
func (m *viperManager) applyEnvOverrides() {
	// NODE_ENV selects the deployment mode; only "production" arms the
	// host and origin guards.
	if env := os.Getenv("NODE_ENV"); env != "" {
		m.config.Server.Production = strings.EqualFold(env, "production")
	}

	// Provider-specific key variables double as LLM_API_KEY for operators
	// who already export them.
	if m.config.LLM.APIKey == "" {
		switch m.config.LLM.Provider {
		case "anthropic":
			m.config.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			m.config.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// splitList parses a comma-separated value into trimmed entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
