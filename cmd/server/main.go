package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tenantguard/internal/app"
	"tenantguard/internal/platform/config"
	"tenantguard/internal/platform/health"
	"tenantguard/internal/platform/httpserver"
	"tenantguard/internal/platform/logger"
)

// main wires high-level dependencies, runs the startup isolation gate and
// serves the operational endpoints until a signal arrives.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tenantguard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.SlogLevel(), cfg.Server.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Migrate(ctx, cfg, log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	gate := &health.Gate{}
	if err := checkIsolation(ctx, a, gate); err != nil {
		return err
	}

	maintainer, err := a.PartitionMaintainer()
	if err != nil {
		return err
	}
	if err := maintainer.Start(ctx); err != nil {
		return err
	}
	defer maintainer.Stop(context.Background())

	handler := health.NewHandler(a.Manager, a.Pool, gate, a.Registry, health.WithLogger(log))
	srv := httpserver.New(cfg.Server.Addr, health.NewRouter(handler))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, srv, log)
	})
	log.Info("tenantguard started", "addr", cfg.Server.Addr, "isolation_gate", cfg.IsolationGate)
	return g.Wait()
}

// checkIsolation validates the live schema. In strict mode any violation
// stops startup; in warn mode the process runs but /ready stays closed.
func checkIsolation(ctx context.Context, a *app.App, gate *health.Gate) error {
	v, err := a.Validator()
	if err != nil {
		return err
	}
	report, err := v.ValidateIsolationConfiguration(ctx)
	if err != nil {
		return fmt.Errorf("isolation check: %w", err)
	}
	violations := report.Violations()
	gate.Set(violations)
	if len(violations) == 0 {
		a.Logger.Info("isolation check passed", "tables", len(report.Tables), "manifest_version", report.ManifestVersion)
		return nil
	}
	if a.Config.IsolationGate == config.GateStrict {
		return report.Err()
	}
	a.Logger.Warn("isolation check failed; serving with readiness closed", "violations", violations)
	return nil
}
