package server

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jmylchreest/distill/pkg/distill"
	"github.com/jmylchreest/distill/pkg/extractor"
)

// Metrics records pipeline outcomes. It implements distill.Observer.
type Metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	acquisitions *prometheus.CounterVec
	rejected     prometheus.Counter
}

// NewMetrics registers the distill collectors on a fresh registry, plus the
// Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "distill_requests_total",
			Help: "Distill pipeline runs by extractor and outcome",
		}, []string{"extractor", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "distill_request_duration_seconds",
			Help:    "Distill pipeline duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"extractor"}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "distill_session_acquisitions_total",
			Help: "Browser handles obtained, by whether an idle session was reused",
		}, []string{"source"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distill_capacity_rejections_total",
			Help: "Requests rejected because the provider was at capacity",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.acquisitions,
		m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Acquired counts a browser acquisition.
func (m *Metrics) Acquired(reused bool) {
	source := "launch"
	if reused {
		source = "reuse"
	}
	m.acquisitions.WithLabelValues(source).Inc()
}

// Finished counts a pipeline run.
func (m *Metrics) Finished(choice extractor.Choice, _ bool, err error, elapsed time.Duration) {
	m.requests.WithLabelValues(choice.String(), outcome(err)).Inc()
	m.duration.WithLabelValues(choice.String()).Observe(elapsed.Seconds())
}

// Rejected counts a capacity rejection.
func (m *Metrics) Rejected() {
	m.rejected.Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, distill.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, distill.ErrNavigationFailed):
		return "navigation_failed"
	case errors.Is(err, distill.ErrExtractionFailed):
		return "extraction_failed"
	case errors.Is(err, distill.ErrConversionFailed):
		return "conversion_failed"
	default:
		return "error"
	}
}
