package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/askbot/internal/domain"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user profiles",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserGetCmd())
	cmd.AddCommand(newUserDeleteCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserSessionsCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var (
		name  string
		email string
		prefs []string
	)

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a user profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preferences, err := parsePrefs(prefs)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.profiles.Create(cmd.Context(), domain.NewProfile{
				UserID:      args[0],
				Name:        name,
				Email:       email,
				Preferences: preferences,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringArrayVar(&prefs, "pref", nil, "preference as key=value (repeatable)")
	return cmd
}

// parsePrefs turns key=value pairs into a preferences map. Values are typed
// the same way config set types them.
func parsePrefs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid preference %q, expected key=value", pair)
		}
		out[k] = parseValue(strings.TrimSpace(v))
	}
	return out, nil
}

func newUserGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a user profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.profiles.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func newUserDeleteCmd() *cobra.Command {
	var cascade bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user profile and its activity log",
		Long: "Deletes the profile and its activity log. Chat history lives in the " +
			"session store and is kept unless --cascade is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service.DeleteUser(cmd.Context(), args[0], cascade)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().BoolVar(&cascade, "cascade", false, "also delete the user's chat history")
	return cmd
}

func newUserListCmd() *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List user profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			users, err := a.profiles.List(cmd.Context(), pattern)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, "No users.")
				return nil
			}
			for _, u := range users {
				fmt.Fprintf(out, "  %-20s %-20s sessions=%-4d last_active=%s\n",
					u.UserID, u.Name, u.SessionCount, u.LastActive.Local().Format(time.DateTime))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "*", "glob pattern on user ids")
	return cmd
}

func newUserSessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions <id>",
		Short: "Show a user's recent activity, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			return printActivity(cmd.Context(), cmd, a, args[0], limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum entries to show")
	return cmd
}

func printActivity(ctx context.Context, cmd *cobra.Command, a *app, userID string, limit int) error {
	acts, err := a.profiles.Sessions(ctx, userID, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(acts) == 0 {
		fmt.Fprintf(out, "No activity for %s.\n", userID)
		return nil
	}
	for _, act := range acts {
		fmt.Fprintf(out, "  %s  %-6s %-20s %s\n",
			act.Timestamp.Local().Format(time.DateTime), act.Type, act.SessionID, act.Question)
	}
	return nil
}
