package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/meshstore/internal/shard"
)

// StatusSource reports the shards of one datastore domain.
// *datastore.Manager implements it.
type StatusSource interface {
	Type() string
	Statuses() []shard.Status
}

// ShardCollector exports the raft position of every shard at scrape time.
type ShardCollector struct {
	sources []StatusSource

	leader  *prometheus.Desc
	term    *prometheus.Desc
	last    *prometheus.Desc
	applied *prometheus.Desc
}

// NewShardCollector creates a collector over the given domains.
func NewShardCollector(sources ...StatusSource) *ShardCollector {
	labels := []string{"datastore", "shard"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "shard", name), help, labels, nil)
	}
	return &ShardCollector{
		sources: sources,
		leader:  desc("leader", "Whether this node leads the shard."),
		term:    desc("term", "Current raft term."),
		last:    desc("last_index", "Last raft log index."),
		applied: desc("applied_index", "Last applied raft log index."),
	}
}

// Describe implements prometheus.Collector.
func (c *ShardCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.leader
	ch <- c.term
	ch <- c.last
	ch <- c.applied
}

// Collect implements prometheus.Collector.
func (c *ShardCollector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.sources {
		domain := src.Type()
		for _, st := range src.Statuses() {
			leader := 0.0
			if st.Leader {
				leader = 1
			}
			ch <- prometheus.MustNewConstMetric(c.leader, prometheus.GaugeValue, leader, domain, st.Name)
			ch <- prometheus.MustNewConstMetric(c.term, prometheus.GaugeValue, float64(st.Term), domain, st.Name)
			ch <- prometheus.MustNewConstMetric(c.last, prometheus.GaugeValue, float64(st.LastIndex), domain, st.Name)
			ch <- prometheus.MustNewConstMetric(c.applied, prometheus.GaugeValue, float64(st.AppliedIndex), domain, st.Name)
		}
	}
}
