package segment

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for backend calls.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	BackendHealthy  prometheus.Gauge
}

// NewMetrics registers the client metrics with the default registry once
// per process and returns the shared instance.
//
// Metrics:
//   - geosegment_client_requests_total{endpoint,outcome}
//   - geosegment_client_request_duration_seconds{endpoint}
//   - geosegment_backend_healthy (1 healthy, 0 unhealthy)
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "geosegment_client_requests_total",
					Help: "Total number of requests sent to the segmentation backend",
				},
				[]string{"endpoint", "outcome"}, // outcome: ok, http_error, format_error, network_error
			),
			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "geosegment_client_request_duration_seconds",
					Help:    "Duration of segmentation backend requests in seconds",
					Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
				},
				[]string{"endpoint"},
			),
			BackendHealthy: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "geosegment_backend_healthy",
					Help: "Result of the most recent health probe",
				},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) observe(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) setHealthy(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.BackendHealthy.Set(1)
	} else {
		m.BackendHealthy.Set(0)
	}
}
