package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter adapts a Hub's snapshot into a prometheus.Collector.
// Every Collect call reads the aggregates fresh, so a scrape always sees
// the current counters without a separate update loop.
type PrometheusExporter struct {
	hub *Hub

	total     *prometheus.Desc
	status2xx *prometheus.Desc
	status4xx *prometheus.Desc
	status5xx *prometheus.Desc
	timeouts  *prometheus.Desc
	latency   *prometheus.Desc
	ttfb      *prometheus.Desc
	p50       *prometheus.Desc
	p95       *prometheus.Desc
	p99       *prometheus.Desc
}

// NewPrometheusExporter builds an exporter over hub. Register it with a
// prometheus.Registry to expose it on a scrape path.
func NewPrometheusExporter(hub *Hub) *PrometheusExporter {
	labels := []string{"backend"}
	return &PrometheusExporter{
		hub:       hub,
		total:     prometheus.NewDesc("anyclaude_requests_total", "Total requests forwarded per backend", labels, nil),
		status2xx: prometheus.NewDesc("anyclaude_requests_2xx_total", "Requests completed with a 2xx status", labels, nil),
		status4xx: prometheus.NewDesc("anyclaude_requests_4xx_total", "Requests completed with a 4xx status", labels, nil),
		status5xx: prometheus.NewDesc("anyclaude_requests_5xx_total", "Requests completed with a 5xx status", labels, nil),
		timeouts:  prometheus.NewDesc("anyclaude_requests_timeout_total", "Requests that ended in a timeout", labels, nil),
		latency:   prometheus.NewDesc("anyclaude_request_latency_ms_mean", "Running mean request latency in milliseconds", labels, nil),
		ttfb:      prometheus.NewDesc("anyclaude_request_ttfb_ms_mean", "Running mean time-to-first-byte in milliseconds", labels, nil),
		p50:       prometheus.NewDesc("anyclaude_request_latency_ms_p50", "p50 request latency computed from the ring buffer", labels, nil),
		p95:       prometheus.NewDesc("anyclaude_request_latency_ms_p95", "p95 request latency computed from the ring buffer", labels, nil),
		p99:       prometheus.NewDesc("anyclaude_request_latency_ms_p99", "p99 request latency computed from the ring buffer", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.total
	ch <- e.status2xx
	ch <- e.status4xx
	ch <- e.status5xx
	ch <- e.timeouts
	ch <- e.latency
	ch <- e.ttfb
	ch <- e.p50
	ch <- e.p95
	ch <- e.p99
}

// Collect implements prometheus.Collector: it reads a fresh Hub snapshot
// on every scrape rather than maintaining its own counters, so a restart
// of the exporter (but not the Hub) never loses history.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.hub.Snapshot()
	for backendID, agg := range snap.PerBackend {
		ch <- prometheus.MustNewConstMetric(e.total, prometheus.CounterValue, float64(agg.Total), backendID)
		ch <- prometheus.MustNewConstMetric(e.status2xx, prometheus.CounterValue, float64(agg.Status2xx), backendID)
		ch <- prometheus.MustNewConstMetric(e.status4xx, prometheus.CounterValue, float64(agg.Status4xx), backendID)
		ch <- prometheus.MustNewConstMetric(e.status5xx, prometheus.CounterValue, float64(agg.Status5xx), backendID)
		ch <- prometheus.MustNewConstMetric(e.timeouts, prometheus.CounterValue, float64(agg.Timeouts), backendID)
		ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue, agg.MeanLatencyMs, backendID)
		ch <- prometheus.MustNewConstMetric(e.ttfb, prometheus.GaugeValue, agg.MeanTTFBMs, backendID)

		pct := e.hub.Percentiles(backendID)
		ch <- prometheus.MustNewConstMetric(e.p50, prometheus.GaugeValue, pct.P50, backendID)
		ch <- prometheus.MustNewConstMetric(e.p95, prometheus.GaugeValue, pct.P95, backendID)
		ch <- prometheus.MustNewConstMetric(e.p99, prometheus.GaugeValue, pct.P99, backendID)
	}
}
