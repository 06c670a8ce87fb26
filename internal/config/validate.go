package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}
	if cfg.Gateway.RateLimit.RPS > 0 && cfg.Gateway.RateLimit.Burst <= 0 {
		add("gateway.rateLimit.burst", "must be positive when rps is set, got %d", cfg.Gateway.RateLimit.Burst)
	}

	// Redis
	if cfg.Redis.Host == "" {
		add("redis.host", "host is required")
	}
	if cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535 {
		add("redis.port", "port must be 1-65535, got %d", cfg.Redis.Port)
	}
	if cfg.Redis.DB < 0 {
		add("redis.db", "must be non-negative, got %d", cfg.Redis.DB)
	}
	if cfg.Redis.ProfileDB < 0 {
		add("redis.profileDb", "must be non-negative, got %d", cfg.Redis.ProfileDB)
	}
	if cfg.Redis.DialTimeoutMs < 0 || cfg.Redis.ReadTimeoutMs < 0 || cfg.Redis.WriteTimeoutMs < 0 {
		add("redis", "timeouts must be non-negative")
	}

	// Memory
	if cfg.Memory.TTLSeconds <= 0 {
		add("memory.ttlSeconds", "must be positive, got %d", cfg.Memory.TTLSeconds)
	}
	if cfg.Memory.MaxTurns <= 0 {
		add("memory.maxTurns", "must be positive, got %d", cfg.Memory.MaxTurns)
	}

	// Profiles
	if cfg.Profiles.TTLSeconds <= 0 {
		add("profiles.ttlSeconds", "must be positive, got %d", cfg.Profiles.TTLSeconds)
	}
	if cfg.Profiles.ActivityMax < 1 || cfg.Profiles.ActivityMax > 1000 {
		add("profiles.activityMax", "must be 1-1000, got %d", cfg.Profiles.ActivityMax)
	}
	validPolicies := []string{MissingProfileCreate, MissingProfileReject}
	if !slices.Contains(validPolicies, cfg.Profiles.MissingProfile) {
		add("profiles.missingProfile", "must be one of %v, got %q", validPolicies, cfg.Profiles.MissingProfile)
	}

	// Agent
	if cfg.Agent.MaxIterations < 1 {
		add("agent.maxIterations", "must be at least 1, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.TimeoutSec <= 0 {
		add("agent.timeoutSec", "must be positive, got %d", cfg.Agent.TimeoutSec)
	}

	// Models
	validAPIs := []string{"openai", "ollama"}
	for name, p := range cfg.Models.Providers {
		if !slices.Contains(validAPIs, p.API) {
			add("models.providers."+name+".api", "must be one of %v, got %q", validAPIs, p.API)
		}
		if p.Model == "" {
			add("models.providers."+name+".model", "model is required")
		}
	}

	// Audit
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		add("audit.path", "path is required when audit is enabled")
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}
