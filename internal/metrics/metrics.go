// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets covers inference latencies from 100ms to 5 minutes.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

// Stream unit kinds for StreamUnitsTotal.
const (
	UnitChunk      = "chunk"
	UnitTerminator = "terminator"
	UnitSkipped    = "skipped"
	UnitDiscarded  = "discarded"
)

var (
	// RequestsTotal counts HTTP requests by route and status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfgw_requests_total",
			Help: "Total requests",
		},
		[]string{"path", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hfgw_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"path"},
	)

	// StreamsActive tracks open client streams.
	StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hfgw_streams_active",
			Help: "Active streaming responses",
		},
	)

	// StreamUnitsTotal counts stream units by what happened to them.
	StreamUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfgw_stream_units_total",
			Help: "Stream units by outcome",
		},
		[]string{"kind"},
	)

	// UpstreamRequestsTotal counts calls to the upstream provider.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfgw_upstream_requests_total",
			Help: "Upstream requests",
		},
		[]string{"outcome"},
	)

	// UpstreamLatency records time until the upstream answered (headers for streams).
	UpstreamLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hfgw_upstream_latency_seconds",
			Help:    "Upstream latency",
			Buckets: LLMBuckets,
		},
	)

	// ErrorsTotal counts mapped errors by client error type.
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hfgw_errors_total",
			Help: "Mapped errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamsActive,
		StreamUnitsTotal,
		UpstreamRequestsTotal,
		UpstreamLatency,
		ErrorsTotal,
	)
}
