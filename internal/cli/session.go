package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/askbot/internal/domain"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and clear chat sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionSearchCmd())
	cmd.AddCommand(newSessionInfoCmd())
	cmd.AddCommand(newSessionClearCmd())
	return cmd
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live session ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := a.history.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "No sessions.")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
}

func newSessionShowCmd() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session's turns, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var turns []domain.ChatTurn
			if cmd.Flags().Changed("recent") {
				turns, err = a.history.ReadRecent(cmd.Context(), args[0], recent)
			} else {
				turns, err = a.history.ReadAll(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			printTurns(cmd.OutOrStdout(), turns)
			return nil
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 0, "only the last n turns")
	return cmd
}

func newSessionSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <id> <query>",
		Short: "Print the turns containing query, case-insensitively",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			turns, err := a.history.Search(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printTurns(cmd.OutOrStdout(), turns)
			return nil
		},
	}
}

func newSessionInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show length, TTL and bound of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.history.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newSessionClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <id>",
		Short: "Delete a session's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.history.DeleteSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "No session %s\n", args[0])
			}
			return nil
		},
	}
}

func printTurns(w io.Writer, turns []domain.ChatTurn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, t := range turns {
		fmt.Fprintf(w, "[%s] %-5s %s\n", t.Timestamp.Local().Format(time.DateTime), t.Role, t.Content)
	}
}
