package audit

import "github.com/prometheus/client_golang/prometheus"

// Collector exports Service counters to Prometheus.
//
// Metrics:
//   - convengine_audit_dispatched_total: events fanned out to listeners
//   - convengine_audit_dropped_total: events discarded by backpressure or after shutdown
//   - convengine_audit_rate_dropped_total: events rejected by the rate limiter
//   - convengine_audit_pending_events: events buffered for deferred persistence
//   - convengine_audit_queue_length: events waiting for a dispatch worker
//   - convengine_audit_tracked_buckets: live rate-limit buckets
type Collector struct {
	svc *Service

	dispatched  *prometheus.Desc
	dropped     *prometheus.Desc
	rateDropped *prometheus.Desc
	pending     *prometheus.Desc
	queueLength *prometheus.Desc
	buckets     *prometheus.Desc
}

// NewCollector returns a collector reading from svc on every scrape.
func NewCollector(svc *Service) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("convengine", "audit", name), help, nil, nil)
	}
	return &Collector{
		svc:         svc,
		dispatched:  desc("dispatched_total", "Total audit events fanned out to listeners"),
		dropped:     desc("dropped_total", "Total audit events discarded by backpressure or after shutdown"),
		rateDropped: desc("rate_dropped_total", "Total audit events rejected by the rate limiter"),
		pending:     desc("pending_events", "Audit events buffered for deferred persistence"),
		queueLength: desc("queue_length", "Audit events waiting for a dispatch worker"),
		buckets:     desc("tracked_buckets", "Live audit rate-limit buckets"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dispatched
	ch <- c.dropped
	ch <- c.rateDropped
	ch <- c.pending
	ch <- c.queueLength
	ch <- c.buckets
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.svc.Stats()
	ch <- prometheus.MustNewConstMetric(c.dispatched, prometheus.CounterValue, float64(st.Dispatched))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.Dropped))
	ch <- prometheus.MustNewConstMetric(c.rateDropped, prometheus.CounterValue, float64(st.RateDropped))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.Pending))
	ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(st.QueueLength))
	ch <- prometheus.MustNewConstMetric(c.buckets, prometheus.GaugeValue, float64(st.TrackedBuckets))
}
