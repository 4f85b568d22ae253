// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WagersPlaced counts committed wagers.
	WagersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predis_wagers_placed_total",
		Help: "Total number of wagers committed",
	})

	// WagersRejected counts wagers rejected at a precondition, by reason.
	WagersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predis_wagers_rejected_total",
		Help: "Wagers rejected before commit",
	}, []string{"reason"})

	// CoinsWagered counts total coins moved into market pools.
	CoinsWagered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predis_coins_wagered_total",
		Help: "Total coins wagered into pools",
	})

	// CoinsPaidOut counts total coins credited to winners.
	CoinsPaidOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predis_coins_paid_out_total",
		Help: "Total coins paid out to winning wagers",
	})

	// MarketsResolved counts resolutions and cancellations by outcome.
	MarketsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predis_markets_settled_total",
		Help: "Markets settled, partitioned by resolved/cancelled",
	}, []string{"outcome"})

	// MarketsLocked counts ACTIVE→LOCKED transitions by the sweep.
	MarketsLocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predis_markets_locked_total",
		Help: "Markets locked after passing their end date",
	})

	// ActiveMarkets tracks the number of markets accepting wagers.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predis_active_markets",
		Help: "Number of currently active markets",
	})

	// EventClients tracks connected event-stream clients.
	EventClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predis_event_clients",
		Help: "Number of connected event stream clients",
	})

	// ResolutionDuration tracks how long market settlement takes.
	ResolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "predis_resolution_duration_seconds",
		Help:    "Market resolution duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predis_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predis_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Cardinality stays bounded: the API surface is a fixed route set.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
