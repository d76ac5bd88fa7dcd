// Package metrics provides Prometheus instrumentation for the AMM engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts committed operations, partitioned by direction
	// (create, buy, sell).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amm_trades_total",
		Help: "Total number of committed trades and pool creations",
	}, []string{"direction"})

	// TradeLatency observes end-to-end settlement latency, retries included.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "amm_trade_latency_seconds",
		Help:    "Settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})

	// TradeRejections counts settlements that ended without commit, by
	// error reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amm_trade_rejections_total",
		Help: "Settlements rejected or failed, by reason",
	}, []string{"direction", "reason"})

	// OptimisticRetries counts attempts restarted after a pool version
	// conflict.
	OptimisticRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amm_optimistic_retries_total",
		Help: "Settlement attempts restarted after a pool version conflict",
	})

	// Rollbacks counts attempts whose applied steps were compensated.
	Rollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amm_rollbacks_total",
		Help: "Settlement attempts rolled back by compensation",
	})

	// IntegrityAlarms counts rollbacks that could not complete. Any
	// non-zero value needs operator attention.
	IntegrityAlarms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amm_integrity_alarms_total",
		Help: "Rollbacks that could not complete; state may be inconsistent",
	})

	// ActivePools is seeded at startup with the active pools in the store
	// and incremented for each pool this instance creates. Pools created by
	// other instances after startup are not counted.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "amm_active_pools",
		Help: "Number of active liquidity pools",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "amm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// PoolVolume tracks cumulative currency volume per pool.
	PoolVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amm_pool_volume_total",
		Help: "Cumulative currency volume traded",
	}, []string{"pool_id", "direction"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "amm_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the chi route pattern for the path label to avoid
// high cardinality from pool ids.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Unwrap lets http.ResponseController reach the underlying writer, which
// the WebSocket upgrade needs.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
