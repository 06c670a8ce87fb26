package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var errAuditDisabled = errors.New("audit log is disabled (set audit.enabled and audit.path)")

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the exchange audit log",
	}

	cmd.AddCommand(newAuditTailCmd())
	cmd.AddCommand(newAuditPruneCmd())
	return cmd
}

func newAuditTailCmd() *cobra.Command {
	var (
		limit   int
		session string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest recorded exchanges, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.audit == nil {
				return errAuditDisabled
			}
			entries, err := a.audit.Recent(cmd.Context(), session, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				status := "ok"
				if !e.Success {
					status = "FAIL"
				}
				fmt.Fprintf(out, "%s  %-4s %-20s %5dms  %s\n",
					e.CreatedAt.Local().Format(time.DateTime), status, e.SessionID, e.DurationMs, e.Question)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	cmd.Flags().StringVar(&session, "session", "", "only this session")
	return cmd
}

func newAuditPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete exchanges older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive, got %s", olderThan)
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.audit == nil {
				return errAuditDisabled
			}
			n, err := a.audit.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the oldest entry to keep")
	return cmd
}
