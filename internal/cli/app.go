package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/soyeahso/askbot/internal/agent"
	"github.com/soyeahso/askbot/internal/assistant"
	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/llm"
	"github.com/soyeahso/askbot/internal/logging"
	"github.com/soyeahso/askbot/internal/memory"
	"github.com/soyeahso/askbot/internal/metrics"
	"github.com/soyeahso/askbot/internal/profile"
	"github.com/soyeahso/askbot/internal/store"
)

// app is the wired component graph shared by the commands.
type app struct {
	cfg      config.Config
	log      *logging.Logger
	redis    *store.Clients
	history  *memory.Store
	profiles *profile.Store
	registry *llm.Registry
	tools    *agent.ToolRegistry
	service  *assistant.Service
	metrics  *metrics.Metrics
	audit    *store.DB
}

// loadConfig reads the config file and applies the --log-level flag.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, fmt.Errorf("loading %s: %w", paths.Config, err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newApp connects the stores and builds the service. Redis is not dialed
// until the first command.
func newApp(cfg config.Config, log *logging.Logger) (*app, error) {
	clients := store.OpenClients(cfg.Redis, log)
	history := memory.New(clients.Chat, cfg.Memory, log)
	profiles := profile.New(clients.Profile, cfg.Profiles, log)

	registry := llm.NewRegistryFromConfig(cfg.Models, cfg.Agent.Model, log)
	tools := agent.DefaultTools(cfg.Tools)
	runner := agent.NewRunner(agent.RunnerConfigFrom(cfg.Agent), registry, tools, log)
	svc := assistant.NewService(assistant.ConfigFrom(cfg.Agent), history, profiles, runner, log)

	a := &app{
		cfg:      cfg,
		log:      log,
		redis:    clients,
		history:  history,
		profiles: profiles,
		registry: registry,
		tools:    tools,
		service:  svc,
	}

	if config.Enabled(cfg.Metrics.Enabled) {
		a.metrics = metrics.New(cfg.Metrics.Namespace)
		svc.WithMetrics(a.metrics)
	}

	if cfg.Audit.Enabled {
		db, err := store.Open(cfg.Audit.Path, log)
		if err != nil {
			clients.Close()
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		a.audit = db
		svc.WithAudit(db)
	}
	return a, nil
}

// openApp loads the config and builds the app in one step.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, log)
}

func (a *app) Close() error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	errs = append(errs, a.redis.Close())
	return errors.Join(errs...)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
