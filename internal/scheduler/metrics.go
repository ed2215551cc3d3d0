package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports per-task outcomes. A nil *Metrics records nothing.
type Metrics struct {
	tasks     *prometheus.CounterVec
	duration  prometheus.Histogram
	discovery prometheus.Counter
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal status, by status and failure reason.",
		}, []string{"status", "reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forge",
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Wall-clock time of task attempts that reached a terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		discovery: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "scheduler",
			Name:      "implicit_recomputes_total",
			Help:      "Implicit input discovery steps run.",
		}),
	}
}

// Register exposes the collectors on reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.tasks, m.duration, m.discovery} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observe(status Status, reason FailureReason, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(status.String(), reason.String()).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) observeDiscovery() {
	if m == nil {
		return
	}
	m.discovery.Inc()
}
