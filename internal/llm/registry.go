package llm

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/logging"
)

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP-like status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry manages LLM provider clients and resolves model references to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model name/alias to a provider.
// e.g., Alias("gpt-4o", "openai") means "gpt-4o" resolves to the "openai" provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the default provider used when no model/provider match is found.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve maps a model reference to a client. The reference is tried as a
// provider name, then as an alias, then the fallback provider is used.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range []string{model, r.aliases[model], r.fallback} {
		if name == "" {
			continue
		}
		if c, ok := r.clients[name]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.clients))
}

var errNoCredentials = errors.New("no api key or base url")

// providerFactories builds a client for each supported provider api.
var providerFactories = map[string]func(config.ModelProviderEntry) (Client, error){
	"openai": func(p config.ModelProviderEntry) (Client, error) {
		if p.APIKey == "" && p.BaseURL == "" {
			return nil, errNoCredentials
		}
		return NewOpenAIClient(p.APIKey, p.BaseURL, p.Model), nil
	},
	"ollama": func(p config.ModelProviderEntry) (Client, error) {
		return NewOllamaClient(p.BaseURL, p.Model)
	},
}

// NewRegistryFromConfig registers every usable provider in cfg under its
// config name, aliased by its model and configured aliases. Providers that
// cannot be built are logged and skipped. primary, a provider name or alias,
// becomes the fallback when it resolves.
func NewRegistryFromConfig(cfg config.ModelsConfig, primary string, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		p := cfg.Providers[name]
		build, ok := providerFactories[strings.ToLower(p.API)]
		if !ok {
			reg.log.Warn().Str("provider", name).Str("api", p.API).Msg("unknown provider api")
			continue
		}
		client, err := build(p)
		if err != nil {
			reg.log.Debug().Err(err).Str("provider", name).Msg("provider skipped")
			continue
		}
		reg.Register(name, client)
		for _, alias := range append(slices.Clone(p.Aliases), p.Model) {
			if alias != "" {
				reg.Alias(alias, name)
			}
		}
	}

	switch {
	case reg.clients[primary] != nil:
		reg.SetFallback(primary)
	case reg.aliases[primary] != "":
		reg.SetFallback(reg.aliases[primary])
	}
	return reg
}
