package serving

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the serving counters. Each Server owns its registry so that
// several servers can live in one process.
type Metrics struct {
	Registry    *prometheus.Registry
	Predictions *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
}

// NewMetrics registers the serving metrics and the Go runtime collectors on
// a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotelres_predictions_total",
				Help: "Predictions served, by predicted class.",
			},
			[]string{"label"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotelres_request_errors_total",
				Help: "Prediction requests that failed, by reason.",
			},
			[]string{"reason"},
		),
		Latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotelres_prediction_duration_seconds",
				Help:    "Time spent building the feature vector and scoring it.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"route"},
		),
	}
}
