package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tenantguard/internal/app"
	"tenantguard/internal/tenant/models"
)

func newTenantCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Provision and change the status of tenants",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "provision <name> <admin-email>",
		Short: "Create a tenant and its first admin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				svc, err := a.TenantService()
				if err != nil {
					return err
				}
				tenant, admin, err := svc.Provision(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				out := map[string]any{"tenant": tenant, "admin": admin}
				return c.print(out, func(w io.Writer) {
					fmt.Fprintf(w, "tenant %s (%s)\nadmin  %s <%s>\n", tenant.ID, tenant.Name, admin.ID, admin.Email)
				})
			})
		},
	})

	for _, target := range []models.TenantStatus{models.TenantStatusSuspended, models.TenantStatusActive} {
		use, short := "suspend <tenant>", "Suspend a tenant; its units of work are refused"
		if target == models.TenantStatusActive {
			use, short = "reactivate <tenant>", "Reactivate a suspended tenant"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				tenantID, err := parseTenant(args[0])
				if err != nil {
					return err
				}
				return c.withApp(cmd.Context(), func(a *app.App) error {
					svc, err := a.TenantService()
					if err != nil {
						return err
					}
					var tenant *models.Tenant
					if target == models.TenantStatusSuspended {
						tenant, err = svc.Suspend(cmd.Context(), tenantID)
					} else {
						tenant, err = svc.Reactivate(cmd.Context(), tenantID)
					}
					if err != nil {
						return err
					}
					return c.print(tenant, func(w io.Writer) {
						fmt.Fprintf(w, "tenant %s is %s\n", tenant.ID, tenant.Status)
					})
				})
			},
		})
	}
	return cmd
}
