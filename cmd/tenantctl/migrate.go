package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tenantguard/internal/platform/postgres"
)

func newMigrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := postgres.OpenSQL(cmd.Context(), c.cfg.Database.MigrationURL)
			if err != nil {
				return err
			}
			defer db.Close()
			return postgres.Migrate(cmd.Context(), db, c.log)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := postgres.OpenSQL(cmd.Context(), c.cfg.Database.MigrationURL)
			if err != nil {
				return err
			}
			defer db.Close()
			return postgres.Rollback(cmd.Context(), db, c.log)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := postgres.OpenSQL(cmd.Context(), c.cfg.Database.MigrationURL)
			if err != nil {
				return err
			}
			defer db.Close()
			version, err := postgres.SchemaVersion(cmd.Context(), db)
			if err != nil {
				return err
			}
			return c.print(map[string]int64{"version": version}, func(w io.Writer) {
				fmt.Fprintf(w, "schema version %d\n", version)
			})
		},
	})
	return cmd
}
