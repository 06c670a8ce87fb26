package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/gateway"
	"github.com/soyeahso/askbot/internal/logging"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				log.Warn().Err(err).Str("base", paths.Base).Msg("could not create data directories")
			}

			srvLog, closer := logging.Open(logging.Options{
				Level:        cfg.Logging.Level,
				ConsoleStyle: cfg.Logging.ConsoleStyle,
				File:         cfg.Logging.File,
				MaxSizeMB:    cfg.Logging.MaxSizeMB,
				MaxBackups:   cfg.Logging.MaxBackups,
				MaxAgeDays:   cfg.Logging.MaxAgeDays,
			})
			defer closer.Close()

			a, err := newApp(cfg, srvLog)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.redis.Ping(ctx); err != nil {
				srvLog.Warn().Err(err).Str("addr", cfg.Redis.Addr()).Msg("redis unreachable, answers will run without memory")
			}
			if providers := a.registry.List(); len(providers) > 0 {
				srvLog.Info().Strs("providers", providers).Strs("tools", a.tools.Names()).Msg("agent ready")
			} else {
				srvLog.Warn().Msg("no LLM providers configured, every question gets the fallback reply")
			}

			opts := []gateway.ServerOption{}
			if a.metrics != nil {
				opts = append(opts, gateway.WithMetrics(a.metrics))
			}
			if a.audit != nil {
				opts = append(opts, gateway.WithAudit(a.audit))
			}

			srv := gateway.New(cfg.Gateway, gateway.Deps{
				Service:  a.service,
				Sessions: a.history,
				Profiles: a.profiles,
				Health:   a.redis,
			}, srvLog, opts...)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}
