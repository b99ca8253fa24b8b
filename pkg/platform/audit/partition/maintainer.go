// Package partition keeps future audit_log partitions created ahead of need,
// so the in-transaction ensure path in the writer is rarely more than a
// catalog lookup.
package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"

	audit "tenantguard/pkg/platform/audit"
)

const (
	defaultSchedule  = "@daily"
	defaultLookahead = 2
	runTimeout       = 30 * time.Second
)

// Querier runs one statement outside any unit of work. *pgxpool.Pool
// satisfies it. ensure_audit_partition touches only the catalog, so no tenant
// binding is needed.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Metrics counts maintenance outcomes.
type Metrics interface {
	IncPartitionEnsured()
	IncPartitionFailure()
}

type noopMetrics struct{}

func (noopMetrics) IncPartitionEnsured() {}
func (noopMetrics) IncPartitionFailure() {}

// Maintainer creates the current month's partition and the next Lookahead
// months, once on Start and then on a cron schedule.
type Maintainer struct {
	db        Querier
	schedule  string
	lookahead int
	logger    *slog.Logger
	metrics   Metrics
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Maintainer.
type Option func(*Maintainer)

// WithSchedule sets the cron spec (standard five fields or a descriptor such
// as "@daily").
func WithSchedule(spec string) Option {
	return func(m *Maintainer) { m.schedule = spec }
}

// WithLookahead sets how many months past the current one to pre-create.
func WithLookahead(months int) Option {
	return func(m *Maintainer) { m.lookahead = months }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Maintainer) { m.logger = logger }
}

func WithMetrics(metrics Metrics) Option {
	return func(m *Maintainer) { m.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(m *Maintainer) { m.now = now }
}

// New creates a Maintainer.
func New(db Querier, opts ...Option) (*Maintainer, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	m := &Maintainer{
		db:        db,
		schedule:  defaultSchedule,
		lookahead: defaultLookahead,
		logger:    slog.Default(),
		metrics:   noopMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.lookahead < 0 {
		return nil, fmt.Errorf("lookahead must not be negative, got %d", m.lookahead)
	}
	return m, nil
}

// Months returns the first instant of the current UTC month and of each of
// the following lookahead months.
func Months(now time.Time, lookahead int) []time.Time {
	start := audit.MonthStart(now)
	out := make([]time.Time, 0, lookahead+1)
	for i := 0; i <= lookahead; i++ {
		out = append(out, start.AddDate(0, i, 0))
	}
	return out
}

// EnsureAhead creates any missing partitions in the window and returns their
// names. Each month is its own statement, so the advisory lock taken inside
// is held only briefly. Safe to call concurrently with writers and with other
// maintainers.
func (m *Maintainer) EnsureAhead(ctx context.Context) ([]string, error) {
	months := Months(m.now(), m.lookahead)
	names := make([]string, 0, len(months))
	for _, month := range months {
		var name string
		if err := m.db.QueryRow(ctx, `SELECT ensure_audit_partition($1)`, month).Scan(&name); err != nil {
			m.metrics.IncPartitionFailure()
			return names, fmt.Errorf("ensure partition %s: %w", audit.PartitionName(month), err)
		}
		m.metrics.IncPartitionEnsured()
		names = append(names, name)
	}
	return names, nil
}

// Start runs EnsureAhead once and then schedules it. The first run's error is
// returned; scheduled failures are logged.
func (m *Maintainer) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return errors.New("partition maintainer already started")
	}

	names, err := m.EnsureAhead(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("audit partitions ensured", "partitions", names)

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(m.schedule, m.runScheduled); err != nil {
		return fmt.Errorf("invalid partition schedule %q: %w", m.schedule, err)
	}
	c.Start()
	m.cron = c
	m.logger.Info("audit partition maintainer started", "schedule", m.schedule, "lookahead", m.lookahead)
	return nil
}

func (m *Maintainer) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	names, err := m.EnsureAhead(ctx)
	if err != nil {
		m.logger.Warn("scheduled audit partition maintenance failed", "error", err)
		return
	}
	m.logger.Debug("audit partitions ensured", "partitions", names)
}

// Stop halts the schedule and waits for a running job to finish or ctx to
// expire.
func (m *Maintainer) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	m.logger.Info("audit partition maintainer stopped")
}
