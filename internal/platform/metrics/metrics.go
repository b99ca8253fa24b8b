package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tenantguard"

// Metrics holds all Prometheus metrics for the isolation core.
type Metrics struct {
	UnitsOfWork        *prometheus.CounterVec
	UnitOfWorkDuration *prometheus.HistogramVec
	AuditRecords       *prometheus.CounterVec
	PartitionsEnsured  prometheus.Counter
	PartitionFailures  prometheus.Counter
	IsolationChecks    *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UnitsOfWork: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_of_work_total",
			Help:      "Units of work by outcome (committed, rolled_back, invalid_tenant, pool_exhausted, timeout, panicked, failed).",
		}, []string{"outcome"}),
		UnitOfWorkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_of_work_duration_seconds",
			Help:      "Wall time of a unit of work from acquire to release.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		AuditRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_total",
			Help:      "Audit records written, by category.",
		}, []string{"category"}),
		PartitionsEnsured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_partitions_ensured_total",
			Help:      "Audit partition ensure calls completed by the maintainer.",
		}),
		PartitionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_partition_failures_total",
			Help:      "Audit partition maintenance runs that failed.",
		}),
		IsolationChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "isolation_checks_total",
			Help:      "Isolation validator runs by result.",
		}, []string{"result"}),
	}
}

// ObserveUnitOfWork records one finished unit of work.
func (m *Metrics) ObserveUnitOfWork(outcome string, d time.Duration) {
	m.UnitsOfWork.WithLabelValues(outcome).Inc()
	m.UnitOfWorkDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncAuditRecord counts one audit record written in category.
func (m *Metrics) IncAuditRecord(category string) {
	m.AuditRecords.WithLabelValues(category).Inc()
}

// IncPartitionEnsured counts one partition ensure call.
func (m *Metrics) IncPartitionEnsured() {
	m.PartitionsEnsured.Inc()
}

// IncPartitionFailure counts one failed maintenance run.
func (m *Metrics) IncPartitionFailure() {
	m.PartitionFailures.Inc()
}

// ObserveIsolationCheck counts one validator run.
func (m *Metrics) ObserveIsolationCheck(ok bool) {
	result := "pass"
	if !ok {
		result = "violation"
	}
	m.IsolationChecks.WithLabelValues(result).Inc()
}

// PoolGauges is a point-in-time view of the connection pool.
type PoolGauges struct {
	Total   int32
	Idle    int32
	InUse   int32
	Waiting int32
	Max     int32
}

// PoolCollector reads pool gauges at scrape time.
type PoolCollector struct {
	read    func() PoolGauges
	total   *prometheus.Desc
	idle    *prometheus.Desc
	inUse   *prometheus.Desc
	waiting *prometheus.Desc
	max     *prometheus.Desc
}

// NewPoolCollector returns a collector backed by read. Register it with the
// same registry passed to New.
func NewPoolCollector(read func() PoolGauges) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, nil, nil)
	}
	return &PoolCollector{
		read:    read,
		total:   desc("connections_total", "Connections currently open."),
		idle:    desc("connections_idle", "Open connections not checked out."),
		inUse:   desc("connections_in_use", "Connections checked out by a unit of work."),
		waiting: desc("acquire_waiting", "Callers blocked waiting for a connection."),
		max:     desc("connections_max", "Configured pool size."),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.idle
	ch <- c.inUse
	ch <- c.waiting
	ch <- c.max
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	g := c.read()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(g.Total))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(g.Idle))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(g.InUse))
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(g.Waiting))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(g.Max))
}
