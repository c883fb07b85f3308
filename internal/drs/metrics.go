package drs

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/limiquantix/consolidator/internal/domain"
)

const metricsNamespace = "consolidator"

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	cycles        *prometheus.CounterVec
	migrations    *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	cycleVMs      *prometheus.GaugeVec
	simTime       *prometheus.GaugeVec
	sinkErrors    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Number of consolidation cycles run.",
		}, []string{"environment", "policy"}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "migrations_total",
			Help:      "Number of VM migrations decided, by reason and escalation level.",
		}, []string{"environment", "kind", "level"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock time spent deciding one cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"environment"}),
		cycleVMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cycle_vms",
			Help:      "Number of VMs considered in the last cycle.",
		}, []string{"environment"}),
		simTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "simulated_time_seconds",
			Help:      "Simulated time of the last cycle.",
		}, []string{"environment"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "report_errors_total",
			Help:      "Failures to store or publish cycle results.",
		}, []string{"sink"}),
	}

	for _, c := range []prometheus.Collector{m.cycles, m.migrations, m.cycleDuration, m.cycleVMs, m.simTime, m.sinkErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveCycle records one completed cycle.
func (m *Metrics) ObserveCycle(summary *domain.CycleSummary, records []*domain.MigrationRecord) {
	env := summary.Environment
	m.cycles.WithLabelValues(env, summary.Policy).Inc()
	m.cycleDuration.WithLabelValues(env).Observe(summary.Duration.Seconds())
	m.cycleVMs.WithLabelValues(env).Set(float64(summary.VMs))
	m.simTime.WithLabelValues(env).Set(summary.SimTime)
	for _, rec := range records {
		m.migrations.WithLabelValues(env, string(rec.Kind), strconv.Itoa(rec.Level)).Inc()
	}
}

func (m *Metrics) sinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}
