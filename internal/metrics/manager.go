// Package metrics exposes Prometheus metrics for the note session.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/notebox/internal/apperr"
)

// Manager implements session.Recorder.
type Manager struct {
	// counters
	CounterOps          *prometheus.CounterVec
	CounterHydratedURLs *prometheus.CounterVec

	// gauges
	GaugeNotes prometheus.Gauge

	// histograms
	HistHydrationDuration prometheus.Histogram
}

// NewRegistry returns a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewBuildInfoCollector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewManager registers the session metrics on reg.
func NewManager(namespace string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	return &Manager{
		CounterOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session operations by kind and result",
		}, []string{"op", "result"}),
		CounterHydratedURLs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "hydrated_urls_total",
			Help:      "Image URL resolutions by result",
		}, []string{"result"}),
		GaugeNotes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "notes",
			Help:      "Notes currently held in the session",
		}),
		HistHydrationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "hydration_duration_seconds",
			Help:      "Time to resolve all image URLs of a refresh",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveOp counts an operation outcome.
func (m *Manager) ObserveOp(op string, err error) {
	m.CounterOps.WithLabelValues(op, result(err)).Inc()
}

// ObserveHydration records one hydration pass.
func (m *Manager) ObserveHydration(d time.Duration, resolved, failed int) {
	m.HistHydrationDuration.Observe(d.Seconds())
	m.CounterHydratedURLs.WithLabelValues("ok").Add(float64(resolved))
	m.CounterHydratedURLs.WithLabelValues("error").Add(float64(failed))
}

// SetNotes sets the session size.
func (m *Manager) SetNotes(n int) {
	m.GaugeNotes.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, apperr.ErrHydration), errors.Is(err, apperr.ErrPartialDelete):
		return "partial"
	default:
		return "error"
	}
}
