package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/llm"
	"github.com/soyeahso/askbot/internal/store"
	"github.com/soyeahso/askbot/internal/version"
)

const statusPingTimeout = 3 * time.Second

func newStatusCmd() *cobra.Command {
	var noPing bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show askbot status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, version.Info())
			fmt.Fprintln(out)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n", paths.Logs)
			if _, err := os.Stat(paths.Config); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(out, "          (config not found, using defaults)")
			}
			fmt.Fprintln(out)

			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config error: %v\n", err)
				return nil
			}

			auth := "none"
			if cfg.Gateway.Auth.Token != "" {
				auth = "token"
			}
			fmt.Fprintf(out, "Gateway:  port=%d bind=%s auth=%s tls=%v rate=%.1f/s burst=%d\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, auth, cfg.Gateway.TLS.Enabled,
				cfg.Gateway.RateLimit.RPS, cfg.Gateway.RateLimit.Burst)

			redisState := "not checked"
			if !noPing {
				redisState = pingRedis(cmd.Context(), cfg)
			}
			fmt.Fprintf(out, "Redis:    %s db=%d profileDb=%d (%s)\n",
				cfg.Redis.Addr(), cfg.Redis.DB, cfg.Redis.ProfileDB, redisState)
			fmt.Fprintf(out, "Memory:   maxTurns=%d ttl=%s atomic=%v\n",
				cfg.Memory.MaxTurns, cfg.Memory.SessionTTL(), cfg.Memory.AtomicAppendEnabled())
			fmt.Fprintf(out, "Profiles: ttl=%s activityMax=%d missing=%s\n",
				cfg.Profiles.TTL(), cfg.Profiles.ActivityMax, cfg.Profiles.MissingProfile)

			registry := llm.NewRegistryFromConfig(cfg.Models, cfg.Agent.Model, log)
			fmt.Fprintf(out, "LLM:      %s\n", listOrNone(registry.List()))
			models := providerModels(cfg.Models)
			names := make([]string, 0, len(models))
			for name := range models {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(out, "          %s -> %s\n", name, models[name])
			}
			fmt.Fprintf(out, "Agent:    model=%s iterations=%d timeout=%s\n",
				cfg.Agent.Model, cfg.Agent.MaxIterations, cfg.Agent.Timeout())

			if cfg.Audit.Enabled {
				fmt.Fprintf(out, "Audit:    %s\n", cfg.Audit.Path)
			} else {
				fmt.Fprintln(out, "Audit:    (disabled)")
			}
			if config.Enabled(cfg.Metrics.Enabled) {
				fmt.Fprintf(out, "Metrics:  namespace=%s\n", cfg.Metrics.Namespace)
			} else {
				fmt.Fprintln(out, "Metrics:  (disabled)")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noPing, "no-ping", false, "skip the Redis connectivity check")
	return cmd
}

func pingRedis(ctx context.Context, cfg config.Config) string {
	clients := store.OpenClients(cfg.Redis, log)
	defer clients.Close()

	ctx, cancel := context.WithTimeout(ctx, statusPingTimeout)
	defer cancel()
	if err := clients.Ping(ctx); err != nil {
		return "unreachable: " + err.Error()
	}
	return "ok"
}
