package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the extraction request collectors
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the extraction collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receipt_extraction_requests_total",
			Help: "Extraction service calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "receipt_extraction_duration_seconds",
			Help:    "Latency of extraction service calls.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"provider"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Instrument wraps p so each Submit is counted and timed under name
func (m *Metrics) Instrument(p Provider, name string) Provider {
	return &instrumentedProvider{Provider: p, name: name, metrics: m}
}

type instrumentedProvider struct {
	Provider
	name    string
	metrics *Metrics
}

func (i *instrumentedProvider) Submit(ctx context.Context, req Request) (Envelope, error) {
	start := time.Now()
	env, err := i.Provider.Submit(ctx, req)
	i.metrics.duration.WithLabelValues(i.name).Observe(time.Since(start).Seconds())
	i.metrics.requests.WithLabelValues(i.name, outcome(err)).Inc()
	return env, err
}

// outcome labels a Submit result
func outcome(err error) string {
	var transportErr *TransportError
	var serviceErr *ServiceError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &transportErr):
		return "transport_error"
	case errors.As(err, &serviceErr):
		return "service_error"
	default:
		return "error"
	}
}
