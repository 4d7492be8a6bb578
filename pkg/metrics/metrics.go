// Package metrics provides Prometheus metrics collection for HTTP handlers
// and sync operations.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lewisedginton/nutrisync/pkg/logger"
)

const subsystem = "nutrisync"

// Metrics holds the Prometheus registry and the collectors the application
// records into.
type Metrics struct {
	reg *prometheus.Registry

	TotalHTTPRequestsCounter prometheus.Counter
	HTTPRequestsCounters     map[int]prometheus.Counter
	// countersMu guards lazy registration into HTTPRequestsCounters. It is
	// a pointer so Metrics values share one lock when copied.
	countersMu            *sync.Mutex
	HTTPDurationHistogram prometheus.Histogram

	PullsCounter          *prometheus.CounterVec
	PushesCounter         *prometheus.CounterVec
	RecordsChangedCounter *prometheus.CounterVec
	SyncDurationHistogram prometheus.Histogram

	server *http.Server
	log    logger.Logger
}

// NewMetrics creates a Metrics instance. httpCounters enables the HTTP
// request collectors (used by the server); syncCounters enables the sync
// operation collectors (used by the daemon).
func NewMetrics(httpCounters, syncCounters bool, l logger.Logger) Metrics {
	m := Metrics{
		reg:        prometheus.NewRegistry(),
		countersMu: &sync.Mutex{},
		log:        l,
	}
	if httpCounters {
		m.TotalHTTPRequestsCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "total_http_requests",
			Help:      "Total HTTP requests",
		})
		m.reg.MustRegister(m.TotalHTTPRequestsCounter)
		m.HTTPRequestsCounters = make(map[int]prometheus.Counter)

		m.HTTPDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 1.0, 3.0, 5.0, 7.0, 10.0},
		})
		m.reg.MustRegister(m.HTTPDurationHistogram)
	}
	if syncCounters {
		m.PullsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "total_pulls",
			Help:      "Total pull operations by collection and outcome",
		}, []string{"collection", "outcome"})
		m.PushesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "total_pushes",
			Help:      "Total push operations by collection and outcome",
		}, []string{"collection", "outcome"})
		m.RecordsChangedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "total_records_changed",
			Help:      "Total local records rewritten by pull, by collection",
		}, []string{"collection"})
		m.SyncDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "full_sync_duration_seconds",
			Help:      "Full sync duration in seconds",
			Buckets:   []float64{0.1, 0.3, 0.5, 1.0, 3.0, 5.0, 10.0, 30.0},
		})
		m.reg.MustRegister(m.PullsCounter, m.PushesCounter, m.RecordsChangedCounter, m.SyncDurationHistogram)
	}
	return m
}

// ObservePull records one pull operation.
func (m *Metrics) ObservePull(collection string, changed int, err error) {
	if m.PullsCounter == nil {
		return
	}
	m.PullsCounter.WithLabelValues(collection, outcome(err)).Inc()
	if changed > 0 {
		m.RecordsChangedCounter.WithLabelValues(collection).Add(float64(changed))
	}
}

// ObservePush records one push operation.
func (m *Metrics) ObservePush(collection string, err error) {
	if m.PushesCounter == nil {
		return
	}
	m.PushesCounter.WithLabelValues(collection, outcome(err)).Inc()
}

// ObserveFullSync records the duration of a full sync pass.
func (m *Metrics) ObserveFullSync(d time.Duration) {
	if m.SyncDurationHistogram == nil {
		return
	}
	m.SyncDurationHistogram.Observe(d.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Listen starts the metrics HTTP server on the specified port.
func (m *Metrics) Listen(port int) {
	m.log.Info("Starting metrics listener", logger.IntField("port", port))
	mux := http.NewServeMux()
	mux.Handle("/", http.NotFoundHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Error("Metrics listener failed", logger.ErrorField(err))
		}
	}()
}

// Shutdown stops the metrics HTTP server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// IncrementHTTPResponseCounter increments the counter for the given HTTP
// status code, registering it lazily.
func (m *Metrics) IncrementHTTPResponseCounter(code int) {
	m.countersMu.Lock()
	counter, ok := m.HTTPRequestsCounters[code]
	if !ok {
		counter = prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      fmt.Sprintf("total_%d_http_responses", code),
			Help:      fmt.Sprintf("Total %s HTTP responses returned", http.StatusText(code)),
		})
		m.reg.MustRegister(counter)
		m.HTTPRequestsCounters[code] = counter
	}
	m.countersMu.Unlock()
	counter.Inc()
}

// HTTPMiddleware returns a chi-compatible middleware that tracks HTTP metrics.
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.TotalHTTPRequestsCounter.Inc()

			rw := &responseWriter{ResponseWriter: w, statusCode: 200}
			next.ServeHTTP(rw, r)

			m.HTTPDurationHistogram.Observe(time.Since(start).Seconds())
			m.IncrementHTTPResponseCounter(rw.statusCode)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
