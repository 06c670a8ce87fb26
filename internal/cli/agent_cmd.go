package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/askbot/internal/agent"
	"github.com/soyeahso/askbot/internal/config"
	"github.com/soyeahso/askbot/internal/llm"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect the agent configuration",
	}

	cmd.AddCommand(newAgentInfoCmd())
	cmd.AddCommand(newAgentToolsCmd())
	return cmd
}

func newAgentInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show model, fallbacks, limits and detected providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			registry := llm.NewRegistryFromConfig(cfg.Models, cfg.Agent.Model, log)
			providers := registry.List()
			tools := agent.DefaultTools(cfg.Tools)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Model:       %s\n", cfg.Agent.Model)
			if len(cfg.Agent.Fallbacks) > 0 {
				fmt.Fprintf(out, "Fallbacks:   %s\n", strings.Join(cfg.Agent.Fallbacks, ", "))
			}
			fmt.Fprintf(out, "Iterations:  %d\n", cfg.Agent.MaxIterations)
			fmt.Fprintf(out, "Timeout:     %s\n", cfg.Agent.Timeout())
			if cfg.Agent.MaxTokens > 0 {
				fmt.Fprintf(out, "MaxTokens:   %d\n", cfg.Agent.MaxTokens)
			}
			if cfg.Agent.Temperature != nil {
				fmt.Fprintf(out, "Temp:        %.2f\n", *cfg.Agent.Temperature)
			}
			fmt.Fprintf(out, "Providers:   %s\n", listOrNone(providers))
			fmt.Fprintf(out, "Tools:       %s\n", listOrNone(tools.Names()))
			return nil
		},
	}
}

func newAgentToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, def := range agent.DefaultTools(cfg.Tools).Definitions() {
				fmt.Fprintf(out, "  %-12s %s\n", def.Name, def.Description)
			}
			return nil
		},
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

// providerModels maps each configured provider to the model it will call.
func providerModels(cfg config.ModelsConfig) map[string]string {
	out := make(map[string]string, len(cfg.Providers))
	for name, p := range cfg.Providers {
		out[name] = p.Model
	}
	return out
}
