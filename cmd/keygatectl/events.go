package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newEventsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Manage processed billing events",
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete processed billing event claims past retention",
		Long: `Delete processed billing event claims. Once a claim is gone a replay of
that event id is processed again, so keep the retention longer than the
processor's retry window.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				retention := olderThan
				if retention == 0 {
					retention = a.EventRetention
				}
				if retention <= 0 {
					return errors.New("retention must be positive: set --older-than or EVENT_RETENTION_DAYS")
				}

				n, err := a.Events.Purge(ctx, retention)
				if err != nil {
					return fmt.Errorf("purge events: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d processed event(s) older than %s\n", n, retention)
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window, e.g. 720h (default EVENT_RETENTION_DAYS)")

	cmd.AddCommand(purge)
	return cmd
}
