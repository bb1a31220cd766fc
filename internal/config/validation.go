package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.Production && len(c.Server.AllowedHosts) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.allowed_hosts",
			Message: "ALLOWED_HOSTS must not be empty in production mode",
		})
	}

	for _, h := range c.Server.AllowedHosts {
		if strings.ContainsAny(h, " /") {
			errs = append(errs, &ValidationError{
				Field:   "server.allowed_hosts",
				Message: fmt.Sprintf("invalid host entry %q", h),
			})
		}
	}

	if c.Server.AllowCredentials {
		for _, o := range c.Server.AllowedOrigins {
			if o == "*" {
				errs = append(errs, &ValidationError{
					Field:   "server.allowed_origins",
					Message: "wildcard origin is forbidden when credentials are allowed",
				})
			}
		}
	}

	if c.Server.BodyLimitBytes < 1024 {
		errs = append(errs, &ValidationError{
			Field:   "server.body_limit_bytes",
			Message: fmt.Sprintf("body limit must be at least 1024 bytes, got %d", c.Server.BodyLimitBytes),
		})
	}

	if c.Server.SessionIdleSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.session_idle_seconds",
			Message: fmt.Sprintf("session idle timeout cannot be negative, got %d", c.Server.SessionIdleSeconds),
		})
	}

	// Store
	validBackends := map[string]bool{
		"memory":     true,
		"filesystem": true,
	}
	if !validBackends[c.Store.Backend] {
		errs = append(errs, &ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q, must be one of: memory, filesystem", c.Store.Backend),
		})
	}

	if c.Store.Backend == "filesystem" && c.Store.Path == "" {
		errs = append(errs, &ValidationError{
			Field:   "store.path",
			Message: "path is required when store backend is filesystem",
		})
	}

	if c.Store.TTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "store.ttl_seconds",
			Message: fmt.Sprintf("ttl_seconds cannot be negative, got %d", c.Store.TTLSeconds),
		})
	}

	if c.Store.MaxSizeMB < 0 {
		errs = append(errs, &ValidationError{
			Field:   "store.max_size_mb",
			Message: fmt.Sprintf("max_size_mb cannot be negative, got %d", c.Store.MaxSizeMB),
		})
	}

	if c.Store.MaxItems < 0 {
		errs = append(errs, &ValidationError{
			Field:   "store.max_items",
			Message: fmt.Sprintf("max_items cannot be negative, got %d", c.Store.MaxItems),
		})
	}

	// Events
	validEventBackends := map[string]bool{
		"memory": true,
		"sqlite": true,
	}
	if !validEventBackends[c.Events.Backend] {
		errs = append(errs, &ValidationError{
			Field:   "events.backend",
			Message: fmt.Sprintf("invalid backend %q, must be one of: memory, sqlite", c.Events.Backend),
		})
	}
	if c.Events.Backend == "sqlite" && c.Events.DBPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "events.db_path",
			Message: "db_path is required when event backend is sqlite",
		})
	}

	// LLM. An empty provider means extraction is disabled, which is a
	// supported degraded mode, not an error.
	validProviders := map[string]bool{
		"":          true,
		"anthropic": true,
		"openai":    true,
		"ollama":    true,
	}
	if !validProviders[c.LLM.Provider] {
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("invalid provider %q, must be one of: anthropic, openai, ollama", c.LLM.Provider),
		})
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
		c.LLM.Configured = c.LLM.APIKey != ""
	case "ollama":
		// Ollama needs no key; a reachable base URL suffices.
		c.LLM.Configured = true
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = "http://localhost:11434"
		}
	default:
		c.LLM.Configured = false
	}

	// Pipeline
	validModes := map[string]bool{
		"cost":  true,
		"speed": true,
	}
	if !validModes[c.Pipeline.OptimizeFor] {
		errs = append(errs, &ValidationError{
			Field:   "pipeline.optimize_for",
			Message: fmt.Sprintf("invalid mode %q, must be one of: cost, speed", c.Pipeline.OptimizeFor),
		})
	}

	if c.Pipeline.PerHostLimit < 1 {
		errs = append(errs, &ValidationError{
			Field:   "pipeline.per_host_limit",
			Message: fmt.Sprintf("per_host_limit must be at least 1, got %d", c.Pipeline.PerHostLimit),
		})
	}

	if c.Pipeline.FetchTimeoutMS < 1 {
		errs = append(errs, &ValidationError{
			Field:   "pipeline.fetch_timeout_ms",
			Message: fmt.Sprintf("fetch_timeout_ms must be at least 1, got %d", c.Pipeline.FetchTimeoutMS),
		})
	}

	// Metrics
	if c.Metrics.AuthEnabled && c.Metrics.AuthKey == "" {
		errs = append(errs, &ValidationError{
			Field:   "metrics.auth_key",
			Message: "METRICS_AUTH_KEY is required when METRICS_AUTH_ENABLED is true",
		})
	}

	if c.Metrics.RingSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "metrics.ring_size",
			Message: fmt.Sprintf("ring_size must be at least 1, got %d", c.Metrics.RingSize),
		})
	}

	// Logging
	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format %q, must be one of: text, json", c.Logging.Format),
		})
	}

	return errs
}
