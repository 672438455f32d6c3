package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "feedbackload"

// Collector exposes an Engine to Prometheus. Values are read from the engine
// on every scrape, so nothing is double-counted.
type Collector struct {
	engine *Engine

	requests   *prometheus.Desc
	failed     *prometheus.Desc
	iterations *prometheus.Desc
	checks     *prometheus.Desc
	vus        *prometheus.Desc
	duration   *prometheus.Desc
}

// NewCollector returns a prometheus.Collector backed by e.
func NewCollector(e *Engine) *Collector {
	return &Collector{
		engine: e,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "http_reqs_total"),
			"Total HTTP requests issued by virtual users.",
			nil, nil,
		),
		failed: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "http_req_failed_total"),
			"HTTP requests that failed at the transport level or returned status >= 400.",
			nil, nil,
		),
		iterations: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "iterations_total"),
			"Completed virtual user iterations.",
			nil, nil,
		),
		checks: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "checks_total"),
			"Check evaluations by check name and result.",
			[]string{"check", "result"}, nil,
		),
		vus: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "vus"),
			"Currently active virtual users.",
			nil, nil,
		),
		duration: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "http_req_duration_seconds"),
			"HTTP request duration.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.failed
	ch <- c.iterations
	ch <- c.checks
	ch <- c.vus
	ch <- c.duration
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.engine.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(snap.FailedRequests))
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(snap.Iterations))
	ch <- prometheus.MustNewConstMetric(c.vus, prometheus.GaugeValue, float64(snap.ActiveVUs))

	for _, s := range snap.Checks.ByName {
		ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(s.Passes), s.Name, "pass")
		ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(s.Fails), s.Name, "fail")
	}

	lat := snap.Latency
	ch <- prometheus.MustNewConstSummary(c.duration,
		uint64(lat.Count),
		lat.Mean.Seconds()*float64(lat.Count),
		map[float64]float64{
			0.5:  lat.P50.Seconds(),
			0.9:  lat.P90.Seconds(),
			0.95: lat.P95.Seconds(),
			0.99: lat.P99.Seconds(),
		},
	)
}

var _ prometheus.Collector = (*Collector)(nil)
