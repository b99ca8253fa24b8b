package partition

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestMonthsCrossesYearBoundary(t *testing.T) {
	now := time.Date(2026, 11, 30, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, []time.Time{
		time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}, Months(now, 2))
	assert.Len(t, Months(now, 0), 1)
}

func TestEnsureAheadCallsEachMonth(t *testing.T) {
	db := &fakeQuerier{}
	counts := &countingMetrics{}
	m, err := New(db,
		WithLookahead(1),
		WithLogger(quietLogger),
		WithMetrics(counts),
		WithClock(func() time.Time { return time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, err)

	names, err := m.EnsureAhead(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"audit_log_y2026m05", "audit_log_y2026m06"}, names)
	assert.Equal(t, []time.Time{
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}, db.args())
	assert.Equal(t, 2, counts.ensured)
}

func TestEnsureAheadStopsOnFailure(t *testing.T) {
	counts := &countingMetrics{}
	m, err := New(&fakeQuerier{err: errors.New("permission denied")}, WithLogger(quietLogger), WithMetrics(counts))
	require.NoError(t, err)

	names, err := m.EnsureAhead(context.Background())
	assert.Error(t, err)
	assert.Empty(t, names)
	assert.Equal(t, 1, counts.failed)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&fakeQuerier{}, WithLookahead(-1))
	assert.Error(t, err)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	m, err := New(&fakeQuerier{}, WithSchedule("every tuesday"), WithLogger(quietLogger))
	require.NoError(t, err)

	err = m.Start(context.Background())
	assert.ErrorContains(t, err, "invalid partition schedule")
}

func TestStartAndStop(t *testing.T) {
	m, err := New(&fakeQuerier{}, WithSchedule("@hourly"), WithLogger(quietLogger))
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()), "second start must fail")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Stop(ctx)
	m.Stop(ctx)
}

type fakeQuerier struct {
	mu   sync.Mutex
	seen []time.Time
	err  error
}

func (f *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	month := args[0].(time.Time)
	f.seen = append(f.seen, month)
	return nameRow{month: month, err: f.err}
}

func (f *fakeQuerier) args() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.seen...)
}

type nameRow struct {
	month time.Time
	err   error
}

func (r nameRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = "audit_log_y" + r.month.Format("2006") + "m" + r.month.Format("01")
	return nil
}

type countingMetrics struct {
	ensured int
	failed  int
}

func (c *countingMetrics) IncPartitionEnsured() { c.ensured++ }
func (c *countingMetrics) IncPartitionFailure() { c.failed++ }
