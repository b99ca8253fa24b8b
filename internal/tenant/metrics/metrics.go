package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the tenant module.
// Tracks lifecycle transitions and the provisioning critical path.
type Metrics struct {
	TenantsProvisioned  prometheus.Counter
	TenantTransitions   *prometheus.CounterVec
	PrincipalsAdded     prometheus.Counter
	ProvisionDuration   prometheus.Histogram
	TransitionDurations *prometheus.HistogramVec
}

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// New creates a Metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TenantsProvisioned: f.NewCounter(prometheus.CounterOpts{
			Name: "tenantguard_tenants_provisioned_total",
			Help: "Total number of tenants provisioned",
		}),
		TenantTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantguard_tenant_transitions_total",
			Help: "Tenant status transitions by target status",
		}, []string{"status"}),
		PrincipalsAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "tenantguard_principals_added_total",
			Help: "Total number of principals added to tenants",
		}),
		ProvisionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenantguard_provision_duration_seconds",
			Help:    "Duration of Provision operations (tenant, admin and audit in one unit of work)",
			Buckets: durationBuckets,
		}),
		TransitionDurations: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenantguard_tenant_transition_duration_seconds",
			Help:    "Duration of Suspend and Reactivate operations",
			Buckets: durationBuckets,
		}, []string{"status"}),
	}
}

// ObserveProvision records a successful provisioning.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveProvision(start time.Time) {
	m.TenantsProvisioned.Inc()
	m.ProvisionDuration.Observe(time.Since(start).Seconds())
}

// ObserveTransition records a status change to status.
func (m *Metrics) ObserveTransition(status string, start time.Time) {
	m.TenantTransitions.WithLabelValues(status).Inc()
	m.TransitionDurations.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementPrincipalsAdded() {
	m.PrincipalsAdded.Inc()
}
