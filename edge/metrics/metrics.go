package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_conversions_total",
		Help: "Conversion requests by outcome.",
	}, []string{"outcome"})

	ConversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edge_conversion_duration_seconds",
		Help:    "Wall time of successful conversions.",
		Buckets: prometheus.DefBuckets,
	})

	ConversionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_conversions_in_flight",
		Help: "Conversions currently executing.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
