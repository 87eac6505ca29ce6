// Package metrics provides Prometheus instrumentation for the credit engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerTransactions counts applied ledger transactions by type and source.
	LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_ledger_transactions_total",
		Help: "Ledger transactions applied",
	}, []string{"type", "source"})

	// LedgerReplays counts requests answered from an existing idempotency key.
	LedgerReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_ledger_replays_total",
		Help: "Ledger requests deduplicated by idempotency key",
	})

	// WagersPlaced counts accepted wagers by confidence.
	WagersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_wagers_placed_total",
		Help: "Wagers accepted",
	}, []string{"confidence"})

	// WagerRejections counts rejected wagers by error kind.
	WagerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_wager_rejections_total",
		Help: "Wagers rejected",
	}, []string{"kind"})

	// PredictionsSettled counts resolved predictions by terminal status.
	PredictionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_predictions_settled_total",
		Help: "Predictions resolved",
	}, []string{"status"})

	// SettlementFailures counts predictions that could not be settled on a pass.
	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_settlement_failures_total",
		Help: "Per-prediction settlement failures",
	})

	// SettlementDuration tracks how long settling one match takes.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "credit_settlement_duration_seconds",
		Help:    "Match settlement duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// CoinsPaid tracks credits paid out to winning predictions.
	CoinsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_coins_paid_total",
		Help: "Credits paid to winning predictions",
	})

	// ModerationActions counts moderation verdicts by action.
	ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_moderation_actions_total",
		Help: "Moderation verdicts by action",
	}, []string{"action"})

	// BadgesAwarded counts badges awarded by rarity.
	BadgesAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_badges_awarded_total",
		Help: "Badges awarded",
	}, []string{"rarity"})

	// OrphanRefunds counts wager debits refunded by reconciliation.
	OrphanRefunds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_orphan_refunds_total",
		Help: "Orphaned wager debits refunded",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "credit_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credit_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
