package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats provides the collector access to worker pool state.
type PoolStats interface {
	Pending() int
	Active() int
	Capacity() int
}

// SubscriberCounter reports live event stream subscribers.
type SubscriberCounter interface {
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool PoolStats
	bus  SubscriberCounter

	queuePending   *prometheus.Desc
	queueCapacity  *prometheus.Desc
	activeAnalyses *prometheus.Desc
	subscribers    *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Either argument may be nil, in which case its gauges report 0.
func NewCollector(pool PoolStats, bus SubscriberCounter) *Collector {
	return &Collector{
		pool: pool,
		bus:  bus,
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "pending"),
			"Analyses waiting for a worker.",
			nil, nil,
		),
		queueCapacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "capacity"),
			"Maximum number of queued analyses.",
			nil, nil,
		),
		activeAnalyses: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_analyses"),
			"Analyses currently running.",
			nil, nil,
		),
		subscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "event_subscribers_active"),
			"Current number of event stream subscribers.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePending
	ch <- c.queueCapacity
	ch <- c.activeAnalyses
	ch <- c.subscribers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var pending, capacity, active, subs int
	if c.pool != nil {
		pending, capacity, active = c.pool.Pending(), c.pool.Capacity(), c.pool.Active()
	}
	if c.bus != nil {
		subs = c.bus.SubscriberCount()
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, float64(pending))
	ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(capacity))
	ch <- prometheus.MustNewConstMetric(c.activeAnalyses, prometheus.GaugeValue, float64(active))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(subs))
}
