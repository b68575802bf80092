// Package metrics provides Prometheus instrumentation for ingestion,
// the refresh batch, and the HTTP read API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the metric set and its registry.
type Manager struct {
	registry *prometheus.Registry

	gamesUpserted     prometheus.Counter
	snapshotsUpserted prometheus.Counter

	refreshRuns       prometheus.Counter
	refreshErrors     *prometheus.CounterVec
	refreshDuration   prometheus.Histogram
	trendRowsWritten  *prometheus.GaugeVec
	refreshLastUnix   prometheus.Gauge
	countriesRefreshed prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Manager with its own registry.
func New(namespace string) *Manager {
	if namespace == "" {
		namespace = "rankradar"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Manager{
		registry: reg,
		gamesUpserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "games_upserted_total",
			Help: "Game registry rows created or refreshed by ingestion.",
		}),
		snapshotsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "snapshots_upserted_total",
			Help: "Raw chart snapshots written by ingestion.",
		}),
		refreshRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "runs_total",
			Help: "Completed refresh cycles.",
		}),
		refreshErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "country_errors_total",
			Help: "Per-country refresh failures.",
		}, []string{"country"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "country_duration_seconds",
			Help:    "Wall time of a single country refresh.",
			Buckets: prometheus.DefBuckets,
		}),
		trendRowsWritten: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "trend_rows",
			Help: "Trend cache rows written on the latest refresh of a country.",
		}, []string{"country"}),
		refreshLastUnix: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "last_run_unix",
			Help: "Unix time of the last completed refresh cycle.",
		}),
		countriesRefreshed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "countries",
			Help: "Countries touched by the latest refresh cycle.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "API requests by path and status code.",
		}, []string{"path", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "API request latency by path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
	}
}

// Handler exposes the registry for a /metrics endpoint.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) IngestCounts(games, snapshots int) {
	if m == nil {
		return
	}
	m.gamesUpserted.Add(float64(games))
	m.snapshotsUpserted.Add(float64(snapshots))
}

// CountryRefreshed records the outcome of one country's refresh.
func (m *Manager) CountryRefreshed(country string, rows int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.refreshDuration.Observe(d.Seconds())
	if err != nil {
		m.refreshErrors.WithLabelValues(country).Inc()
		return
	}
	m.trendRowsWritten.WithLabelValues(country).Set(float64(rows))
}

// RefreshCycle records the end of a full refresh batch.
func (m *Manager) RefreshCycle(countries int) {
	if m == nil {
		return
	}
	m.refreshRuns.Inc()
	m.countriesRefreshed.Set(float64(countries))
	m.refreshLastUnix.SetToCurrentTime()
}

// InstrumentHTTP wraps a handler with request counting and timing.
func (m *Manager) InstrumentHTTP(path string, next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.httpRequests.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
