// Package app wires the isolation core from configuration. Both the server
// and tenantctl build on it so they enforce the same settings.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"tenantguard/internal/isolation/uow"
	"tenantguard/internal/isolation/validator"
	"tenantguard/internal/platform/config"
	"tenantguard/internal/platform/metrics"
	"tenantguard/internal/platform/postgres"
	resourceservice "tenantguard/internal/resource/service"
	resourcestore "tenantguard/internal/resource/store"
	tenantmetrics "tenantguard/internal/tenant/metrics"
	tenantservice "tenantguard/internal/tenant/service"
	principalstore "tenantguard/internal/tenant/store/principal"
	tenantstore "tenantguard/internal/tenant/store/tenant"
	audit "tenantguard/pkg/platform/audit"
	"tenantguard/pkg/platform/audit/partition"
	auditstore "tenantguard/pkg/platform/audit/store/postgres"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Pool     *pgxpool.Pool
	Manager  *uow.Manager
	Audit    *auditstore.Store
	Writer   *audit.Writer
}

// Migrate applies pending migrations over the migration URL.
func Migrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := postgres.OpenSQL(ctx, cfg.Database.MigrationURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return postgres.Migrate(ctx, db, logger)
}

// Open connects the pool and builds the unit-of-work manager and audit
// writer. Close releases the pool.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	pool, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	manager, err := uow.New(uow.NewPgxPool(pool),
		uow.WithAcquireTimeout(cfg.Database.AcquireTimeout),
		uow.WithTxTimeout(cfg.Database.TxTimeout),
		uow.WithLogger(logger),
		uow.WithMetrics(m),
		uow.WithTracer(otel.Tracer("tenantguard/uow")),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create unit of work manager: %w", err)
	}
	reg.MustRegister(metrics.NewPoolCollector(func() metrics.PoolGauges {
		st := manager.PoolStatus()
		return metrics.PoolGauges{Total: st.Total, Idle: st.Idle, InUse: st.InUse, Waiting: st.Waiting, Max: st.Max}
	}))

	store := auditstore.New()
	writer, err := audit.NewWriter(store, audit.WithLogger(logger), audit.WithMetrics(m))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create audit writer: %w", err)
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  m,
		Pool:     pool,
		Manager:  manager,
		Audit:    store,
		Writer:   writer,
	}, nil
}

func (a *App) Close() {
	a.Pool.Close()
}

// Validator checks the live schema against the default manifest as the
// pool's role.
func (a *App) Validator() (*validator.Validator, error) {
	return validator.New(
		validator.NewPgCatalog(a.Pool),
		validator.NewUnitOfWorkReader(a.Manager),
		validator.WithLogger(a.Logger),
		validator.WithMetrics(a.Metrics),
	)
}

// PartitionMaintainer keeps audit partitions ahead of the clock.
func (a *App) PartitionMaintainer() (*partition.Maintainer, error) {
	return partition.New(a.Pool,
		partition.WithSchedule(a.Config.Audit.PartitionSchedule),
		partition.WithLookahead(a.Config.Audit.PartitionLookahead),
		partition.WithLogger(a.Logger),
		partition.WithMetrics(a.Metrics),
	)
}

func (a *App) TenantService() (*tenantservice.Service, error) {
	return tenantservice.New(a.Manager, tenantstore.NewPostgres(), principalstore.NewPostgres(), a.Writer,
		tenantservice.WithLogger(a.Logger),
		tenantservice.WithMetrics(tenantmetrics.New(a.Registry)),
	)
}

func (a *App) ResourceService() (*resourceservice.Service, error) {
	return resourceservice.New(a.Manager, resourcestore.NewPostgres(), a.Writer,
		resourceservice.WithLogger(a.Logger),
	)
}
