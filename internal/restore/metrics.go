package restore

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	restored *prometheus.CounterVec
	absent   prometheus.Counter
	deletes  *prometheus.CounterVec
	pending  prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		restored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshstore",
			Subsystem: "restore",
			Name:      "restored_total",
			Help:      "Datastore snapshots handed out for restore.",
		}, []string{"type"}),
		absent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshstore",
			Subsystem: "restore",
			Name:      "absent_total",
			Help:      "Restore lookups that found no snapshot.",
		}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshstore",
			Subsystem: "restore",
			Name:      "artifact_deletes_total",
			Help:      "Attempts to delete the restore artifact, by result.",
		}, []string{"result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshstore",
			Subsystem: "restore",
			Name:      "pending_datastores",
			Help:      "Datastore snapshots loaded but not yet claimed.",
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.restored, m.absent, m.deletes, m.pending}
}
