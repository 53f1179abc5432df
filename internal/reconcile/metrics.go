package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts viewer reconcile outcomes. A nil *Metrics is valid.
type Metrics struct {
	resolved *prometheus.CounterVec
	skipped  prometheus.Counter
	stale    prometheus.Counter
	applied  prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "reconcile_total",
			Help:      "Reconcile passes by the source that produced the body",
		}, []string{"source"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "reconcile_skipped_total",
			Help:      "Change notifications ignored because the signature was already applied",
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "reconcile_stale_total",
			Help:      "Records discarded because a newer version was already applied",
		}),
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      "reconcile_applied_total",
			Help:      "Bodies handed to the renderer",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.resolved, m.skipped, m.stale, m.applied)
	}
	return m
}

func (m *Metrics) ObserveResolve(src Source) {
	if m == nil {
		return
	}
	m.resolved.WithLabelValues(string(src)).Inc()
}

func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func (m *Metrics) IncStale() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

func (m *Metrics) IncApplied() {
	if m == nil {
		return
	}
	m.applied.Inc()
}
