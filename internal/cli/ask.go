package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/askbot/internal/assistant"
)

func newAskCmd() *cobra.Command {
	var (
		userID string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a question and print the answer",
		Long: "Runs one exchange through the full service: user context, chat history, " +
			"the agent and its tools. The exchange is stored like any other.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			resp := a.service.Ask(ctx, assistant.AskRequest{
				Question: strings.Join(args, " "),
				UserID:   userID,
			})
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
			if !resp.Success {
				return fmt.Errorf("ask failed: %s", resp.Error)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[session=%s memory=%d context=%v]\n",
				resp.SessionID, resp.MemoryLength, resp.UserContextUsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to personalize the answer")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response envelope")

	return cmd
}
