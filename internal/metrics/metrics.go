// Package metrics provides Prometheus instrumentation for the paper trading
// engine.
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
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeRejections counts trades rejected by ledger preconditions.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trade_rejections_total",
		Help: "Trades rejected before execution",
	}, []string{"reason"})

	// TradeLatency is a histogram of trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// ActiveAccounts tracks ledgers currently resident in memory.
	ActiveAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_active_accounts",
		Help: "Number of account ledgers loaded in memory",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// PersistenceFailures counts snapshot saves that failed. In-memory state
	// stays authoritative, so these are warnings rather than errors.
	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_persistence_failures_total",
		Help: "Snapshot saves that failed",
	})

	// QuoteUpdatesApplied counts price updates applied to positions.
	QuoteUpdatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_quote_updates_applied_total",
		Help: "Price updates applied to open positions",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_http_request_duration_seconds",
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

		// Use the raw path for the label; account IDs keep cardinality low
		// in practice (one per simulated account).
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
