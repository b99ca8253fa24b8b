package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantguard/internal/isolation/uow"
	"tenantguard/pkg/testutil"
)

type fakePool struct{ status uow.PoolStatus }

func (f fakePool) PoolStatus() uow.PoolStatus { return f.status }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func passedGate() *Gate {
	g := &Gate{}
	g.Set(nil)
	return g
}

func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.DoRequest(NewRouter(h), testutil.NewRequest(t, http.MethodGet, path))
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealthReportsPoolStatus(t *testing.T) {
	pool := fakePool{status: uow.PoolStatus{Total: 4, Idle: 1, InUse: 3, Max: 10}}
	rec := serve(t, NewHandler(pool, fakePinger{}, passedGate(), nil, quiet()), "/health")

	testutil.AssertStatus(t, rec, http.StatusOK)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := testutil.UnmarshalResponse[healthResponse](t, rec)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, pool.status, body.Pool)
}

func TestReady(t *testing.T) {
	failedGate := &Gate{}
	failedGate.Set([]string{"documents: row security not forced"})

	tests := []struct {
		name        string
		pool        uow.PoolStatus
		ping        error
		gate        *Gate
		wantStatus  int
		wantReasons []string
	}{
		{
			name:       "all checks pass",
			pool:       uow.PoolStatus{Max: 10},
			gate:       passedGate(),
			wantStatus: http.StatusOK,
		},
		{
			name:        "ping fails",
			ping:        errors.New("dial tcp: connection refused"),
			gate:        passedGate(),
			wantStatus:  http.StatusServiceUnavailable,
			wantReasons: []string{"database unreachable"},
		},
		{
			name:        "pool saturated",
			pool:        uow.PoolStatus{InUse: 10, Max: 10, Waiting: 3, Saturated: true},
			gate:        passedGate(),
			wantStatus:  http.StatusServiceUnavailable,
			wantReasons: []string{"connection pool saturated"},
		},
		{
			name:        "isolation gate failed",
			gate:        failedGate,
			wantStatus:  http.StatusServiceUnavailable,
			wantReasons: []string{"documents: row security not forced"},
		},
		{
			name:        "isolation gate not yet checked",
			gate:        &Gate{},
			wantStatus:  http.StatusServiceUnavailable,
			wantReasons: []string{"isolation check pending"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(fakePool{status: tt.pool}, fakePinger{err: tt.ping}, tt.gate, nil, quiet())
			rec := serve(t, h, "/ready")

			require.Equal(t, tt.wantStatus, rec.Code)
			raw := rec.Body.String()
			var body readyResponse
			require.NoError(t, json.Unmarshal([]byte(raw), &body))
			assert.Equal(t, tt.wantReasons, body.Reasons)
			assert.NotContains(t, raw, "connection refused")
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "tenantguard_probe_total", Help: "probe"})
	reg.MustRegister(c)
	c.Inc()

	rec := serve(t, NewHandler(fakePool{}, fakePinger{}, passedGate(), reg, quiet()), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tenantguard_probe_total 1"))

	rec = serve(t, NewHandler(fakePool{}, fakePinger{}, passedGate(), nil, quiet()), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
