package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tenantguard/internal/app"
	"tenantguard/internal/isolation/uow"
)

func newPartitionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Manage monthly audit partitions",
	}

	var lookahead int
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create the current and upcoming audit partitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("lookahead") {
				c.cfg.Audit.PartitionLookahead = lookahead
			}
			return c.withApp(cmd.Context(), func(a *app.App) error {
				m, err := a.PartitionMaintainer()
				if err != nil {
					return err
				}
				names, err := m.EnsureAhead(cmd.Context())
				if err != nil {
					return err
				}
				return c.print(map[string][]string{"partitions": names}, func(w io.Writer) {
					for _, n := range names {
						fmt.Fprintln(w, n)
					}
				})
			})
		},
	}
	ensure.Flags().IntVar(&lookahead, "lookahead", 0, "Months ahead of the current one (default from AUDIT_PARTITION_LOOKAHEAD)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List existing audit partitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				var names []string
				err := a.Manager.WithoutTenant(cmd.Context(), func(ctx context.Context, _ *uow.Session) error {
					var err error
					names, err = a.Audit.Partitions(ctx)
					return err
				})
				if err != nil {
					return err
				}
				return c.print(map[string][]string{"partitions": names}, func(w io.Writer) {
					for _, n := range names {
						fmt.Fprintln(w, n)
					}
				})
			})
		},
	}

	cmd.AddCommand(ensure, list)
	return cmd
}
