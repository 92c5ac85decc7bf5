// Package metrics provides Prometheus instrumentation for the vault core.
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
	// DepositsTotal counts completed deposits, partitioned by asset symbol.
	DepositsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaave_deposits_total",
		Help: "Total number of completed deposits",
	}, []string{"asset"})

	// WithdrawalsTotal counts completed withdrawals, partitioned by asset symbol.
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaave_withdrawals_total",
		Help: "Total number of completed withdrawals",
	}, []string{"asset"})

	// OperationFailures counts failed deposit/withdraw operations by stage.
	OperationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaave_operation_failures_total",
		Help: "Failed vault operations by operation and failure stage",
	}, []string{"op", "stage"})

	// GatewayLatency tracks external gateway call duration.
	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gaave_gateway_latency_seconds",
		Help:    "External lending gateway call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"call"})

	// StaleQuoteRejections counts valuations rejected for quote staleness.
	StaleQuoteRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gaave_stale_quote_rejections_total",
		Help: "Valuations rejected because the oracle quote exceeded max age",
	})

	// BadgesIssued counts badges issued per tier.
	BadgesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaave_badges_issued_total",
		Help: "Achievement badges issued",
	}, []string{"tier"})

	// BadgeFailures counts failed badge issuance attempts.
	BadgeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gaave_badge_failures_total",
		Help: "Failed badge issuance attempts",
	})

	// BadgeDropped counts notifications dropped because the queue was full.
	BadgeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gaave_badge_notifications_dropped_total",
		Help: "Badge notifications dropped due to a full queue",
	})

	// WebSocketClients tracks connected event-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gaave_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaave_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gaave_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
