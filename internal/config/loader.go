package config

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// secretRef matches a ${NAME} reference to an environment variable.
var secretRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars substitutes ${NAME} references. Unset variables expand to "".
func expandEnvVars(s string) string {
	return secretRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(secretRef.FindStringSubmatch(ref)[1])
	})
}

// expandSecrets resolves ${NAME} references in credential fields only.
func expandSecrets(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Redis.Password = expandEnvVars(cfg.Redis.Password)
	for name, p := range cfg.Models.Providers {
		p.APIKey = expandEnvVars(p.APIKey)
		p.BaseURL = expandEnvVars(p.BaseURL)
		cfg.Models.Providers[name] = p
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment. Existing variables win; missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &ConfigError{Message: "failed to load " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load builds the effective Config: defaults, then the YAML file at path if
// it exists, then environment overrides, then secret expansion.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
		applyDefaults(&cfg)
	}

	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(&cfg, v)
		}
	}
	expandSecrets(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file as an untyped tree for `askbot config`.
// A missing file yields an empty tree.
func LoadRaw(path string) (map[string]any, error) {
	raw := map[string]any{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes an untyped tree back as YAML, readable by the owner only.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults restores defaults for fields a config file left at zero.
func applyDefaults(cfg *Config) {
	d := Defaults()

	cfg.Gateway.Port = cmp.Or(cfg.Gateway.Port, d.Gateway.Port)
	cfg.Gateway.Bind = cmp.Or(cfg.Gateway.Bind, d.Gateway.Bind)

	cfg.Redis.Host = cmp.Or(cfg.Redis.Host, d.Redis.Host)
	cfg.Redis.Port = cmp.Or(cfg.Redis.Port, d.Redis.Port)
	cfg.Redis.DialTimeoutMs = cmp.Or(cfg.Redis.DialTimeoutMs, d.Redis.DialTimeoutMs)
	cfg.Redis.ReadTimeoutMs = cmp.Or(cfg.Redis.ReadTimeoutMs, d.Redis.ReadTimeoutMs)
	cfg.Redis.WriteTimeoutMs = cmp.Or(cfg.Redis.WriteTimeoutMs, d.Redis.WriteTimeoutMs)

	cfg.Memory.TTLSeconds = cmp.Or(cfg.Memory.TTLSeconds, d.Memory.TTLSeconds)
	cfg.Memory.MaxTurns = cmp.Or(cfg.Memory.MaxTurns, d.Memory.MaxTurns)

	cfg.Profiles.TTLSeconds = cmp.Or(cfg.Profiles.TTLSeconds, d.Profiles.TTLSeconds)
	cfg.Profiles.ActivityMax = cmp.Or(cfg.Profiles.ActivityMax, d.Profiles.ActivityMax)
	cfg.Profiles.MissingProfile = cmp.Or(cfg.Profiles.MissingProfile, d.Profiles.MissingProfile)
	cfg.Profiles.DefaultName = cmp.Or(cfg.Profiles.DefaultName, d.Profiles.DefaultName)

	cfg.Agent.Model = cmp.Or(cfg.Agent.Model, d.Agent.Model)
	cfg.Agent.MaxIterations = cmp.Or(cfg.Agent.MaxIterations, d.Agent.MaxIterations)
	cfg.Agent.TimeoutSec = cmp.Or(cfg.Agent.TimeoutSec, d.Agent.TimeoutSec)
	cfg.Agent.FallbackReply = cmp.Or(cfg.Agent.FallbackReply, d.Agent.FallbackReply)

	cfg.Tools.Wikipedia.BaseURL = cmp.Or(cfg.Tools.Wikipedia.BaseURL, d.Tools.Wikipedia.BaseURL)
	cfg.Tools.Wikipedia.MaxResults = cmp.Or(cfg.Tools.Wikipedia.MaxResults, d.Tools.Wikipedia.MaxResults)
	cfg.Tools.Weather.DefaultLocation = cmp.Or(cfg.Tools.Weather.DefaultLocation, d.Tools.Weather.DefaultLocation)

	cfg.Metrics.Namespace = cmp.Or(cfg.Metrics.Namespace, d.Metrics.Namespace)
	cfg.Logging.Level = cmp.Or(cfg.Logging.Level, d.Logging.Level)
	cfg.Logging.ConsoleStyle = cmp.Or(cfg.Logging.ConsoleStyle, d.Logging.ConsoleStyle)
}

// envOverride binds one environment variable to a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string)
}

func setString(field func(*Config) *string) func(*Config, string) {
	return func(cfg *Config, v string) { *field(cfg) = v }
}

// setInt ignores values that do not parse.
func setInt(field func(*Config) *int) func(*Config, string) {
	return func(cfg *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(cfg) = n
		}
	}
}

// envOverrides are applied in order, so the ASKBOT_REDIS_* names win over
// the bare REDIS_* names older deployments set.
var envOverrides = []envOverride{
	{"REDIS_HOST", setString(func(c *Config) *string { return &c.Redis.Host })},
	{"REDIS_PORT", setInt(func(c *Config) *int { return &c.Redis.Port })},
	{"REDIS_PASSWORD", setString(func(c *Config) *string { return &c.Redis.Password })},

	{"ASKBOT_GATEWAY_PORT", setInt(func(c *Config) *int { return &c.Gateway.Port })},
	{"ASKBOT_GATEWAY_BIND", setString(func(c *Config) *string { return &c.Gateway.Bind })},
	{"ASKBOT_GATEWAY_TOKEN", setString(func(c *Config) *string { return &c.Gateway.Auth.Token })},
	{"ASKBOT_REDIS_HOST", setString(func(c *Config) *string { return &c.Redis.Host })},
	{"ASKBOT_REDIS_PORT", setInt(func(c *Config) *int { return &c.Redis.Port })},
	{"ASKBOT_REDIS_PASSWORD", setString(func(c *Config) *string { return &c.Redis.Password })},
	{"ASKBOT_SESSION_TTL", setInt(func(c *Config) *int { return &c.Memory.TTLSeconds })},
	{"ASKBOT_MAX_TURNS", setInt(func(c *Config) *int { return &c.Memory.MaxTurns })},
	{"ASKBOT_AGENT_MODEL", setString(func(c *Config) *string { return &c.Agent.Model })},
	{"ASKBOT_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = strings.ToLower(v) }},
}
