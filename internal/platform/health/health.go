// Package health serves liveness, readiness and metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tenantguard/internal/isolation/uow"
	"tenantguard/pkg/platform/middleware/requestscope"
)

const defaultPingTimeout = 2 * time.Second

// PoolReporter reports pool occupancy. *uow.Manager satisfies it.
type PoolReporter interface {
	PoolStatus() uow.PoolStatus
}

// Pinger checks the database is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Gate holds the result of the startup isolation check.
type Gate struct {
	mu         sync.RWMutex
	checked    bool
	violations []string
}

// Set records the outcome of an isolation check. An empty violations slice
// means the check passed.
func (g *Gate) Set(violations []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checked = true
	g.violations = append([]string(nil), violations...)
}

// Open reports whether a check has passed, and lists the reasons when not.
func (g *Gate) Open() (bool, []string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.checked {
		return false, []string{"isolation check pending"}
	}
	return len(g.violations) == 0, append([]string(nil), g.violations...)
}

// Handler serves the health endpoints.
type Handler struct {
	pool        PoolReporter
	db          Pinger
	gate        *Gate
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
	pingTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func WithPingTimeout(d time.Duration) Option {
	return func(h *Handler) { h.pingTimeout = d }
}

// NewHandler creates a Handler. gatherer may be nil to omit /metrics.
func NewHandler(pool PoolReporter, db Pinger, gate *Gate, gatherer prometheus.Gatherer, opts ...Option) *Handler {
	h := &Handler{
		pool:        pool,
		db:          db,
		gate:        gate,
		gatherer:    gatherer,
		logger:      slog.Default(),
		pingTimeout: defaultPingTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

// NewRouter returns a chi router with the health endpoints mounted.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestscope.Middleware)
	r.Use(chimw.Recoverer)
	h.Register(r)
	return r
}

type healthResponse struct {
	Status string         `json:"status"`
	Pool   uow.PoolStatus `json:"pool"`
}

type readyResponse struct {
	Status  string   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Pool: h.pool.PoolStatus()})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	var reasons []string

	ctx, cancel := context.WithTimeout(r.Context(), h.pingTimeout)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.logger.WarnContext(r.Context(), "readiness ping failed", "error", err)
		reasons = append(reasons, "database unreachable")
	}
	if h.pool.PoolStatus().Saturated {
		reasons = append(reasons, "connection pool saturated")
	}
	if open, why := h.gate.Open(); !open {
		reasons = append(reasons, why...)
	}

	if len(reasons) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "not_ready", Reasons: reasons})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
