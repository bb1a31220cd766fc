package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 3000
	cfg.Server.AllowedHosts = []string{"localhost", "127.0.0.1"}
	cfg.Server.AllowedOrigins = nil
	cfg.Server.Production = false
	cfg.Server.AllowCredentials = false
	cfg.Server.BodyLimitBytes = 10 << 20
	cfg.Server.RateLimitPerMin = 0 // disabled
	cfg.Server.SessionIdleSeconds = 1800
	cfg.Server.EnableOAuth = false

	// Resource store defaults
	cfg.Store.Backend = "memory"
	cfg.Store.TTLSeconds = 0 // never expire
	cfg.Store.MaxSizeMB = 512
	cfg.Store.MaxItems = 1000
	cfg.Store.Path = "./data/resources"

	// Event store defaults
	cfg.Events.Backend = "memory"
	cfg.Events.DBPath = "./data/events.db"

	// Strategy registry defaults
	cfg.Strategy.RegistryPath = "./data/strategies.jsonl"
	cfg.Strategy.SeedPath = ""

	// Upstream defaults
	cfg.Upstream.APIKey = ""
	cfg.Upstream.BaseURL = "https://api.firecrawl.dev"

	// LLM defaults: extraction is off until a provider is configured
	cfg.LLM.Provider = ""
	cfg.LLM.APIKey = ""
	cfg.LLM.Model = ""
	cfg.LLM.BaseURL = ""

	// Pipeline defaults
	cfg.Pipeline.OptimizeFor = "cost"
	cfg.Pipeline.PerHostLimit = 8
	cfg.Pipeline.FetchTimeoutMS = 60000

	// Metrics defaults
	cfg.Metrics.AuthEnabled = false
	cfg.Metrics.AuthKey = ""
	cfg.Metrics.RingSize = 1024

	// Logging defaults
	cfg.Logging.Format = "text"
	cfg.Logging.Debug = false
	cfg.Logging.File = ""

	return cfg
}
