// Package metrics records installation attempts as Prometheus metrics on a
// private registry and writes them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "outfit"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Attempt summarises one installation attempt.
type Attempt struct {
	// Type is the resolved installation type, or "none" when the attempt
	// failed before resolution.
	Type         string
	Success      bool
	Duration     time.Duration
	FilesWritten int64
	BytesWritten int64
	CacheHits    int64
	Fallbacks    int64
}

// Metrics holds the installation collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	installs     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	filesWritten prometheus.Counter
	bytesWritten prometheus.Counter
	cacheHits    prometheus.Counter
	fallbacks    prometheus.Counter
	lastSuccess  prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		installs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_total",
				Help:      "Installation attempts by resolved type and result",
			},
			[]string{"type", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "install_duration_seconds",
				Help:      "Duration of installation attempts in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"type"},
		),
		filesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_written_total",
			Help:      "Files written into installation targets",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written into installation targets",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "File writes served from the content cache",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Incremental applies that fell back to a full copy",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful installation",
		}),
	}

	m.registry.MustRegister(
		m.installs,
		m.duration,
		m.filesWritten,
		m.bytesWritten,
		m.cacheHits,
		m.fallbacks,
		m.lastSuccess,
	)
	return m
}

// Observe records one attempt.
func (m *Metrics) Observe(a Attempt) {
	if m == nil {
		return
	}
	typ := a.Type
	if typ == "" {
		typ = "none"
	}
	result := ResultFailure
	if a.Success {
		result = ResultSuccess
		m.lastSuccess.SetToCurrentTime()
	}

	m.installs.WithLabelValues(typ, result).Inc()
	m.duration.WithLabelValues(typ).Observe(a.Duration.Seconds())
	m.filesWritten.Add(float64(max(a.FilesWritten, 0)))
	m.bytesWritten.Add(float64(max(a.BytesWritten, 0)))
	m.cacheHits.Add(float64(max(a.CacheHits, 0)))
	m.fallbacks.Add(float64(max(a.Fallbacks, 0)))
}

// Gatherer exposes the private registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.Gatherers{}
	}
	return m.registry
}

// WriteTextfile atomically writes every metric to path in the text
// exposition format, for collection by node-exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
