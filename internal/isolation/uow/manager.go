// Package uow runs tenant-scoped units of work: acquire a pooled connection,
// open a transaction, bind the tenant transaction-locally, run business work,
// then commit or roll back and release the connection on every path.
package uow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	id "tenantguard/pkg/domain"
	dErrors "tenantguard/pkg/domain-errors"
	txcontext "tenantguard/pkg/platform/tx"
)

const (
	defaultAcquireTimeout = 2 * time.Second
	defaultTxTimeout      = 10 * time.Second
	rollbackTimeout       = 2 * time.Second
)

// Outcome labels reported to Metrics.
const (
	OutcomeCommitted     = "committed"
	OutcomeRolledBack    = "rolled_back"
	OutcomeInvalidTenant = "invalid_tenant"
	OutcomePoolExhausted = "pool_exhausted"
	OutcomeTimeout       = "timeout"
	OutcomePanicked      = "panicked"
	OutcomeFailed        = "failed"
)

const (
	// bindTenantSQL validates the id as a UUID server-side and binds it for
	// the current transaction only.
	bindTenantSQL   = "SELECT set_config('app.current_tenant', $1::uuid::text, true)"
	verifyTenantSQL = "SELECT status FROM tenants WHERE id = current_tenant()"
)

// Work is business logic run inside a unit of work.
type Work func(ctx context.Context, s *Session) error

// Metrics receives one observation per finished unit of work.
type Metrics interface {
	ObserveUnitOfWork(outcome string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveUnitOfWork(string, time.Duration) {}

// Manager runs units of work against a shared pool. It holds no tenant state;
// a Manager is safe for concurrent use.
type Manager struct {
	pool           Pool
	acquireTimeout time.Duration
	txTimeout      time.Duration
	isoLevel       pgx.TxIsoLevel
	verifyTenant   bool
	logger         *slog.Logger
	metrics        Metrics
	tracer         trace.Tracer
	waiting        atomic.Int32
}

// Option configures a Manager.
type Option func(*Manager)

// WithAcquireTimeout bounds how long a caller waits for a connection before
// PoolExhausted.
func WithAcquireTimeout(d time.Duration) Option {
	return func(m *Manager) { m.acquireTimeout = d }
}

// WithTxTimeout bounds a whole unit of work when the caller's context has no
// deadline of its own.
func WithTxTimeout(d time.Duration) Option {
	return func(m *Manager) { m.txTimeout = d }
}

// WithIsolationLevel sets the default transaction isolation level.
func WithIsolationLevel(level pgx.TxIsoLevel) Option {
	return func(m *Manager) { m.isoLevel = level }
}

// WithTenantVerification toggles the post-bind check that the tenant exists
// and is active. On by default.
func WithTenantVerification(enabled bool) Option {
	return func(m *Manager) { m.verifyTenant = enabled }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// New creates a Manager over pool.
func New(pool Pool, opts ...Option) (*Manager, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	m := &Manager{
		pool:           pool,
		acquireTimeout: defaultAcquireTimeout,
		txTimeout:      defaultTxTimeout,
		isoLevel:       pgx.ReadCommitted,
		verifyTenant:   true,
		logger:         slog.Default(),
		metrics:        noopMetrics{},
		tracer:         otel.Tracer("tenantguard/internal/isolation/uow"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type verifyMode int

const (
	verifyDefault verifyMode = iota
	verifyActive
	verifyExists
	verifyNone
)

type callConfig struct {
	txOptions pgx.TxOptions
	verify    verifyMode
}

// CallOption adjusts a single unit of work.
type CallOption func(*callConfig)

// Serializable runs the unit of work at SERIALIZABLE isolation.
func Serializable() CallOption {
	return func(c *callConfig) { c.txOptions.IsoLevel = pgx.Serializable }
}

// RepeatableRead runs the unit of work at REPEATABLE READ isolation.
func RepeatableRead() CallOption {
	return func(c *callConfig) { c.txOptions.IsoLevel = pgx.RepeatableRead }
}

// ReadOnly opens a read-only transaction.
func ReadOnly() CallOption {
	return func(c *callConfig) { c.txOptions.AccessMode = pgx.ReadOnly }
}

// ProvisioningTenant skips tenant verification. Used only when the work
// itself inserts the tenant row.
func ProvisioningTenant() CallOption {
	return func(c *callConfig) { c.verify = verifyNone }
}

// AllowSuspendedTenant verifies the tenant exists but accepts a suspended
// one. Used by lifecycle operations such as reactivation.
func AllowSuspendedTenant() CallOption {
	return func(c *callConfig) { c.verify = verifyExists }
}

// WithTenant runs work inside a transaction bound to tenantID.
//
// The tenant binding is transaction-local and therefore never outlives the
// unit of work. Errors are coded: InvalidTenantContext for a bad or unknown
// tenant, PoolExhausted when no connection frees up in time, Timeout on
// cancellation, and WorkFailed wrapping whatever work returned. A panic in
// work rolls back, releases the connection and propagates.
//
// A context already carrying a unit of work for the same tenant joins it; a
// different tenant is rejected.
func (m *Manager) WithTenant(ctx context.Context, tenantID id.TenantID, work Work, opts ...CallOption) error {
	if tenantID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidTenantContext, "tenant id is required")
	}
	if outer, ok := txcontext.From(ctx); ok {
		return m.join(ctx, outer, tenantID, work)
	}
	return m.run(ctx, "with_tenant", tenantID, work, opts)
}

// WithoutTenant runs work in a read-only transaction with no tenant bound.
// Every tenant-scoped table reads as empty; it exists for diagnostics and
// fail-closed checks.
func (m *Manager) WithoutTenant(ctx context.Context, work Work) error {
	if _, ok := txcontext.From(ctx); ok {
		return dErrors.New(dErrors.CodeInvalidTenantContext, "unbound unit of work cannot nest inside another unit of work")
	}
	return m.run(ctx, "without_tenant", id.TenantID{}, work, []CallOption{ReadOnly()})
}

func (m *Manager) join(ctx context.Context, outer txcontext.Scoped, tenantID id.TenantID, work Work) error {
	s, ok := outer.(*Session)
	if !ok {
		return dErrors.New(dErrors.CodeInvalidTenantContext, "context carries a foreign unit of work")
	}
	if s.TenantID() != tenantID {
		return dErrors.New(dErrors.CodeInvalidTenantContext,
			fmt.Sprintf("nested unit of work for tenant %s inside tenant %s", tenantID, s.TenantID()))
	}
	return work(ctx, s)
}

func (m *Manager) run(ctx context.Context, op string, tenantID id.TenantID, work Work, opts []CallOption) (err error) {
	cfg := callConfig{txOptions: pgx.TxOptions{IsoLevel: m.isoLevel}}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	outcome := OutcomeCommitted
	ctx, span := m.tracer.Start(ctx, "uow."+op, trace.WithAttributes(
		attribute.String("tenant.id", tenantID.String()),
		attribute.String("db.isolation_level", string(cfg.txOptions.IsoLevel)),
	))
	defer func() {
		m.metrics.ObserveUnitOfWork(outcome, time.Since(start))
		span.SetAttributes(attribute.String("uow.outcome", outcome))
		if err != nil {
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
			m.logger.Warn("unit of work failed",
				"operation", op,
				"tenant_id", tenantID.String(),
				"outcome", outcome,
				"code", string(dErrors.CodeOf(err)),
				"sqlstate", sqlState(err),
			)
		}
		span.End()
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		outcome = OutcomeTimeout
		return dErrors.Wrap(ctxErr, dErrors.CodeTimeout, "unit of work aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && m.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.txTimeout)
		defer cancel()
	}

	conn, err := m.acquire(ctx)
	if err != nil {
		outcome = outcomeFor(err)
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, cfg.txOptions)
	if err != nil {
		outcome, err = m.classify(ctx, err, dErrors.CodeInternal, "begin transaction")
		return err
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		if r := recover(); r != nil {
			outcome = OutcomePanicked
			m.rollback(ctx, tx, op, tenantID)
			m.logger.Error("unit of work panicked", "operation", op, "tenant_id", tenantID.String())
			span.SetStatus(codes.Error, "panic")
			panic(r)
		}
		m.rollback(ctx, tx, op, tenantID)
	}()

	s := &Session{tx: tx, tenantID: tenantID}
	if !tenantID.IsNil() {
		if err := m.bind(ctx, s, cfg.verify); err != nil {
			outcome, err = m.classify(ctx, err, dErrors.CodeInvalidTenantContext, "bind tenant context")
			return err
		}
	}

	if err := work(txcontext.With(ctx, s), s); err != nil {
		if ctx.Err() != nil {
			outcome = OutcomeTimeout
			return dErrors.Wrap(err, dErrors.CodeTimeout, fmt.Sprintf("%s for tenant %s cancelled", op, tenantID))
		}
		outcome = OutcomeRolledBack
		return dErrors.Wrap(err, dErrors.CodeWorkFailed, fmt.Sprintf("%s for tenant %s failed", op, tenantID))
	}

	if err := tx.Commit(ctx); err != nil {
		outcome, err = m.classify(ctx, err, dErrors.CodeWorkFailed, fmt.Sprintf("commit %s for tenant %s", op, tenantID))
		return err
	}
	finished = true
	return nil
}

func (m *Manager) acquire(ctx context.Context) (Conn, error) {
	acqCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.acquireTimeout > 0 {
		acqCtx, cancel = context.WithTimeout(ctx, m.acquireTimeout)
	}
	defer cancel()

	m.waiting.Add(1)
	conn, err := m.pool.Acquire(acqCtx)
	m.waiting.Add(-1)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "unit of work aborted while acquiring a connection")
	}
	if acqCtx.Err() != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePoolExhausted,
			fmt.Sprintf("no connection available within %s", m.acquireTimeout))
	}
	return nil, dErrors.Wrap(err, dErrors.CodeInternal, "acquire connection")
}

func (m *Manager) bind(ctx context.Context, s *Session, mode verifyMode) error {
	if _, err := s.tx.Exec(ctx, bindTenantSQL, s.tenantID.String()); err != nil {
		return err
	}
	if mode == verifyDefault {
		mode = verifyNone
		if m.verifyTenant {
			mode = verifyActive
		}
	}
	if mode == verifyNone {
		return nil
	}

	var status string
	err := s.tx.QueryRow(ctx, verifyTenantSQL).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return dErrors.New(dErrors.CodeInvalidTenantContext, fmt.Sprintf("tenant %s not found", s.tenantID))
	}
	if err != nil {
		return err
	}
	if mode == verifyActive && status != "active" {
		return dErrors.New(dErrors.CodeInvalidTenantContext, fmt.Sprintf("tenant %s is %s", s.tenantID, status))
	}
	return nil
}

// classify maps a failure after acquire to a coded error. Coded errors pass
// through unchanged; cancellation wins over fallback.
func (m *Manager) classify(ctx context.Context, err error, fallback dErrors.Code, msg string) (string, error) {
	if ctx.Err() != nil {
		return OutcomeTimeout, dErrors.Wrap(err, dErrors.CodeTimeout, msg+": context cancelled")
	}
	var coded *dErrors.Error
	if !errors.As(err, &coded) {
		err = dErrors.Wrap(err, fallback, msg)
	}
	return outcomeFor(err), err
}

func (m *Manager) rollback(ctx context.Context, tx Tx, op string, tenantID id.TenantID) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		m.logger.Warn("rollback failed",
			"operation", op,
			"tenant_id", tenantID.String(),
			"sqlstate", sqlState(err),
		)
	}
}

func outcomeFor(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInvalidTenantContext:
		return OutcomeInvalidTenant
	case dErrors.CodePoolExhausted:
		return OutcomePoolExhausted
	case dErrors.CodeTimeout:
		return OutcomeTimeout
	case dErrors.CodeWorkFailed:
		return OutcomeRolledBack
	default:
		return OutcomeFailed
	}
}

// sqlState extracts the Postgres error code. Messages are not logged since
// they may quote row values.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// PoolStatus is a point-in-time view of the pool.
type PoolStatus struct {
	Total     int32 `json:"total"`
	Idle      int32 `json:"idle"`
	InUse     int32 `json:"in_use"`
	Waiting   int32 `json:"waiting"`
	Max       int32 `json:"max"`
	Saturated bool  `json:"saturated"`
}

// PoolStatus reports pool counters plus the number of callers currently
// blocked waiting for a connection.
func (m *Manager) PoolStatus() PoolStatus {
	st := m.pool.Stat()
	waiting := m.waiting.Load()
	return PoolStatus{
		Total:     st.Total,
		Idle:      st.Idle,
		InUse:     st.Acquired,
		Waiting:   waiting,
		Max:       st.Max,
		Saturated: st.Max > 0 && st.Acquired >= st.Max && waiting > 0,
	}
}
