package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"tenantguard/internal/app"
	"tenantguard/internal/platform/config"
	"tenantguard/internal/platform/logger"
	id "tenantguard/pkg/domain"
)

// cli carries state resolved once in the root command's pre-run.
type cli struct {
	envFile string
	output  string
	cfg     config.Config
	log     *slog.Logger
	out     io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{out: os.Stdout}

	root := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Operate the tenant isolation core",
		Long:          "Migrations, isolation checks, audit verification and tenant lifecycle for a tenantguard database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var files []string
			if c.envFile != "" {
				files = append(files, c.envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Server.SlogLevel(), cfg.Server.LogFormat)
			c.out = cmd.OutOrStdout()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", "", "Load environment from this file before reading config")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "text", "Output format (text, json)")

	root.AddCommand(
		newMigrateCmd(c),
		newValidateCmd(c),
		newCrossCheckCmd(c),
		newAuditCmd(c),
		newPartitionsCmd(c),
		newTenantCmd(c),
	)
	return root
}

// withApp opens the pool for the duration of fn.
func (c *cli) withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := app.Open(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// print writes v as indented JSON, or calls text for the text format.
func (c *cli) print(v any, text func(w io.Writer)) error {
	if c.output == "json" {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(c.out)
	return nil
}

func parseTenant(arg string) (id.TenantID, error) {
	tenantID, err := id.ParseTenantID(arg)
	if err != nil {
		return id.TenantID{}, fmt.Errorf("invalid tenant id %q", arg)
	}
	return tenantID, nil
}
