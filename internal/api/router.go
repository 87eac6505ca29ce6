// Package api exposes the credit engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"credit-engine/internal/metrics"
	"credit-engine/internal/moderation"
	"credit-engine/internal/notify"
	"credit-engine/internal/service"
)

// Deps are the services the HTTP handlers call into.
type Deps struct {
	Ledger         *service.LedgerService
	Wagers         *service.WagerService
	Settlement     *service.SettlementService
	Achievements   *service.AchievementService
	Content        *service.ContentReviewService
	Gate           *moderation.Gate
	Hub            *notify.Hub
	Health         func(ctx context.Context) error
	RequestTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	deps Deps
}

// NewRouter builds the chi router for the engine API.
func NewRouter(deps Deps) http.Handler {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())
	if deps.Hub != nil {
		r.Get("/ws", deps.Hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(deps.RequestTimeout))

		r.Route("/accounts/{userID}", func(r chi.Router) {
			r.Post("/", s.openAccount)
			r.Get("/", s.getAccount)
			r.Get("/balance", s.getBalance)
			r.Get("/ledger", s.listLedger)
			r.Post("/transactions", s.applyTransaction)
			r.Get("/reconcile", s.reconcile)
			r.Get("/predictions", s.listPredictions)
			r.Get("/stats", s.predictionStats)
			r.Get("/badges", s.listUserBadges)
			r.Post("/badges", s.awardBadges)
			r.Get("/strikes", s.listStrikes)
		})

		r.Post("/wagers", s.placeWager)
		r.Post("/wagers/{predictionID}/cancel", s.cancelWager)
		r.Get("/leaderboard/daily", s.dailyLeaderboard)

		r.Post("/matches", s.upsertMatch)
		r.Post("/matches/settle-due", s.settleDue)
		r.Get("/matches/{matchID}", s.getMatch)
		r.Post("/matches/{matchID}/result", s.recordResult)
		r.Post("/matches/{matchID}/settle", s.settleMatch)
		r.Post("/matches/{matchID}/cancel", s.cancelMatch)

		r.Get("/badges", s.badgeCatalog)
		r.Post("/badges/evaluate", s.evaluateBadges)
		r.Post("/badges/next", s.nextBadges)

		r.Post("/reputation/score", s.reputationScore)
		r.Post("/reputation/safety", s.reputationSafety)

		r.Post("/moderation/evaluate", s.moderate)
		r.Post("/moderation/batch", s.moderateBatch)
		r.Post("/content/review", s.reviewContent)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "credit-engine"})
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
