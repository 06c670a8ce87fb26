package config

// Config is the root configuration for askbot.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway,omitempty"`
	Redis    RedisConfig    `yaml:"redis,omitempty"`
	Memory   MemoryConfig   `yaml:"memory,omitempty"`
	Profiles ProfilesConfig `yaml:"profiles,omitempty"`
	Agent    AgentConfig    `yaml:"agent,omitempty"`
	Models   ModelsConfig   `yaml:"models,omitempty"`
	Tools    ToolsConfig    `yaml:"tools,omitempty"`
	Audit    AuditConfig    `yaml:"audit,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int             `yaml:"port,omitempty"`
	Bind           string          `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string          `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth     `yaml:"auth,omitempty"`
	TLS            GatewayTLS      `yaml:"tls,omitempty"`
	AllowedOrigins []string        `yaml:"allowedOrigins,omitempty"`
	RateLimit      RateLimitConfig `yaml:"rateLimit,omitempty"`
}

// GatewayAuth configures authentication for admin routes and the WebSocket.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// RateLimitConfig bounds ask requests per client IP. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps,omitempty"`
	Burst int     `yaml:"burst,omitempty"`
}

// RedisConfig describes the backing key-value store. Chat history and
// profiles live in separate logical databases.
type RedisConfig struct {
	Host           string `yaml:"host,omitempty"`
	Port           int    `yaml:"port,omitempty"`
	Password       string `yaml:"password,omitempty"`
	DB             int    `yaml:"db"`
	ProfileDB      int    `yaml:"profileDb"`
	DialTimeoutMs  int    `yaml:"dialTimeoutMs,omitempty"`
	ReadTimeoutMs  int    `yaml:"readTimeoutMs,omitempty"`
	WriteTimeoutMs int    `yaml:"writeTimeoutMs,omitempty"`
	MaxRetries     int    `yaml:"maxRetries,omitempty"`
	PoolSize       int    `yaml:"poolSize,omitempty"`
}

// MemoryConfig configures per-session chat history.
type MemoryConfig struct {
	TTLSeconds   int   `yaml:"ttlSeconds,omitempty"`
	MaxTurns     int   `yaml:"maxTurns,omitempty"`
	AtomicAppend *bool `yaml:"atomicAppend,omitempty"` // wrap push+trim+expire in MULTI/EXEC; defaults to true
}

// ProfilesConfig configures the user profile store.
type ProfilesConfig struct {
	TTLSeconds     int    `yaml:"ttlSeconds,omitempty"`
	ActivityMax    int    `yaml:"activityMax,omitempty"`
	MissingProfile string `yaml:"missingProfile,omitempty"` // "create" | "reject"
	DefaultName    string `yaml:"defaultName,omitempty"`
}

// AgentConfig configures the reasoning loop.
type AgentConfig struct {
	Model         string   `yaml:"model,omitempty"`
	Fallbacks     []string `yaml:"fallbacks,omitempty"`
	MaxTokens     int      `yaml:"maxTokens,omitempty"`
	Temperature   *float64 `yaml:"temperature,omitempty"`
	MaxIterations int      `yaml:"maxIterations,omitempty"`
	TimeoutSec    int      `yaml:"timeoutSec,omitempty"`
	ExtraPrompt   string   `yaml:"extraPrompt,omitempty"`
	FallbackReply string   `yaml:"fallbackReply,omitempty"`
}

// ModelsConfig defines model providers.
type ModelsConfig struct {
	Providers map[string]ModelProviderEntry `yaml:"providers,omitempty"`
}

// ModelProviderEntry defines a model provider.
type ModelProviderEntry struct {
	API     string   `yaml:"api"` // "openai" | "ollama"
	BaseURL string   `yaml:"baseUrl,omitempty"`
	APIKey  string   `yaml:"apiKey,omitempty"`
	Model   string   `yaml:"model"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// ToolsConfig configures the agent tools.
type ToolsConfig struct {
	Wikipedia WikipediaConfig `yaml:"wikipedia,omitempty"`
	Weather   WeatherConfig   `yaml:"weather,omitempty"`
	Time      TimeConfig      `yaml:"time,omitempty"`
}

// WikipediaConfig configures the encyclopedia lookup tool.
type WikipediaConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	BaseURL    string `yaml:"baseUrl,omitempty"` // e.g. https://en.wikipedia.org
	MaxResults int    `yaml:"maxResults,omitempty"`
}

// WeatherConfig configures the weather tool.
type WeatherConfig struct {
	DefaultLocation string `yaml:"defaultLocation,omitempty"`
}

// TimeConfig configures the time tool.
type TimeConfig struct {
	Zone string `yaml:"zone,omitempty"`
}

// AuditConfig configures the SQLite exchange log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
	MaxSizeMB    int    `yaml:"maxSizeMb,omitempty"`
	MaxBackups   int    `yaml:"maxBackups,omitempty"`
	MaxAgeDays   int    `yaml:"maxAgeDays,omitempty"`
}

// Enabled reports whether an optional boolean is unset or true.
func Enabled(b *bool) bool {
	return b == nil || *b
}
