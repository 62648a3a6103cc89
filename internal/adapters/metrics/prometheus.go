package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_requests_total",
		Help: "Total turns processed, by stage",
	}, []string{"stage"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_errors_total",
		Help: "Total errors, by kind",
	}, []string{"kind"})

	LatencyMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentcore_latency_ms",
		Help:    "Per-stage latency in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000, 5000, 10000},
	}, []string{"stage"})

	ContextSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentcore_context_size",
		Help:    "Number of prior turns attached to a reasoning prompt",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentcore_sessions_active",
		Help: "Number of live voice sessions",
	})
)
