package main

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/keygate/internal/db"
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				applied, err := a.Migrator.Migrate(ctx)
				if err != nil {
					return fmt.Errorf("migration failed after %d applied: %w", applied, err)
				}
				version, err := a.Migrator.CurrentVersion(ctx)
				if err != nil {
					return fmt.Errorf("get schema version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s); schema version %d\n", applied, version)
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd, func(ctx context.Context, a *app) error {
					version, err := a.Migrator.CurrentVersion(ctx)
					if err != nil {
						return fmt.Errorf("get schema version: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Current schema version: %d\n", version)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List embedded migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				migrations, err := db.GetMigrations()
				if err != nil {
					return err
				}
				for _, m := range migrations {
					fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", m.Version, m.Name)
				}
				return nil
			},
		},
	)

	return cmd
}
