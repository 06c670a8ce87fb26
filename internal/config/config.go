package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults, kept in one place so applyDefaults and the docs agree.
const (
	DefaultGatewayPort       = 8000
	DefaultRedisHost         = "localhost"
	DefaultRedisPort         = 6379
	DefaultRedisTimeoutMs    = 5000
	DefaultRedisMaxRetries   = 3
	DefaultSessionTTLSeconds = 86400
	DefaultMaxTurns          = 100
	DefaultProfileTTLSeconds = 30 * 24 * 60 * 60
	DefaultActivityMax       = 20
	DefaultAgentIterations   = 3
	DefaultAgentTimeoutSec   = 120
	DefaultFallbackReply     = "Sorry, something went wrong while processing your question."
	DefaultProfileName       = "User"
	DefaultWeatherLocation   = "Mexico City"
	DefaultWikipediaURL      = "https://en.wikipedia.org"
	DefaultWikipediaResults  = 3
	DefaultMetricsNamespace  = "askbot"
	MissingProfileCreate     = "create"
	MissingProfileReject     = "reject"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: DefaultGatewayPort,
			Bind: "loopback",
			RateLimit: RateLimitConfig{
				RPS:   5,
				Burst: 10,
			},
		},
		Redis: RedisConfig{
			Host:           DefaultRedisHost,
			Port:           DefaultRedisPort,
			DB:             0,
			ProfileDB:      1,
			DialTimeoutMs:  DefaultRedisTimeoutMs,
			ReadTimeoutMs:  DefaultRedisTimeoutMs,
			WriteTimeoutMs: DefaultRedisTimeoutMs,
			MaxRetries:     DefaultRedisMaxRetries,
		},
		Memory: MemoryConfig{
			TTLSeconds: DefaultSessionTTLSeconds,
			MaxTurns:   DefaultMaxTurns,
		},
		Profiles: ProfilesConfig{
			TTLSeconds:     DefaultProfileTTLSeconds,
			ActivityMax:    DefaultActivityMax,
			MissingProfile: MissingProfileCreate,
			DefaultName:    DefaultProfileName,
		},
		Agent: AgentConfig{
			Model:         "openai",
			MaxIterations: DefaultAgentIterations,
			TimeoutSec:    DefaultAgentTimeoutSec,
			FallbackReply: DefaultFallbackReply,
		},
		Models: ModelsConfig{
			Providers: map[string]ModelProviderEntry{
				"openai": {API: "openai", Model: "gpt-3.5-turbo", APIKey: "${OPENAI_API_KEY}"},
			},
		},
		Tools: ToolsConfig{
			Wikipedia: WikipediaConfig{
				BaseURL:    DefaultWikipediaURL,
				MaxResults: DefaultWikipediaResults,
			},
			Weather: WeatherConfig{DefaultLocation: DefaultWeatherLocation},
		},
		Metrics: MetricsConfig{Namespace: DefaultMetricsNamespace},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
			MaxSizeMB:    50,
			MaxBackups:   3,
			MaxAgeDays:   28,
		},
	}
}

// Addr returns the host:port address of the Redis server.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// SessionTTL returns the sliding expiry applied to chat history.
func (m MemoryConfig) SessionTTL() time.Duration {
	return time.Duration(m.TTLSeconds) * time.Second
}

// AtomicAppendEnabled reports whether appends run inside MULTI/EXEC.
func (m MemoryConfig) AtomicAppendEnabled() bool {
	return Enabled(m.AtomicAppend)
}

// TTL returns the profile expiry.
func (p ProfilesConfig) TTL() time.Duration {
	return time.Duration(p.TTLSeconds) * time.Second
}

// Timeout returns the deadline for one agent invocation.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}
