// Package metrics exposes poll cycle measurements to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nzbwatch"

// Recorder captures refresh metrics. A nil *Recorder is valid and records
// nothing, so callers never need to check whether metrics are enabled.
type Recorder struct {
	registry *prometheus.Registry

	refreshes   *prometheus.CounterVec
	completions prometheus.Counter
	duration    prometheus.Histogram
	history     prometheus.Gauge

	mu   sync.Mutex
	snap Snapshot
}

// Snapshot is a copy of the recorder's running totals.
type Snapshot struct {
	Refreshes       int           `json:"refreshes"`
	Failures        int           `json:"failures"`
	Completions     int           `json:"completions"`
	HistorySize     int           `json:"historySize"`
	LastRefreshTook time.Duration `json:"lastRefreshTook"`
}

// NewRecorder creates a recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newRecorder(reg)
}

func newRecorder(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		registry: reg,
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh cycles by result.",
		}, []string{"result"}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_complete_events_total",
			Help:      "download_complete events emitted.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of refresh cycles.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
		history: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_items",
			Help:      "History items returned by the last successful refresh.",
		}),
	}
	reg.MustRegister(r.refreshes, r.completions, r.duration, r.history)
	return r
}

// RecordRefresh tracks one refresh cycle and its outcome.
func (r *Recorder) RecordRefresh(duration time.Duration, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.refreshes.WithLabelValues(result).Inc()
	r.duration.Observe(duration.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Refreshes++
	if err != nil {
		r.snap.Failures++
	}
	r.snap.LastRefreshTook = duration
}

// RecordCompletions adds n emitted completion events.
func (r *Recorder) RecordCompletions(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.completions.Add(float64(n))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Completions += n
}

// RecordHistorySize sets the size of the last fetched history.
func (r *Recorder) RecordHistorySize(n int) {
	if r == nil {
		return
	}
	r.history.Set(float64(n))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.HistorySize = n
}

// Snapshot returns a copy of the running totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
