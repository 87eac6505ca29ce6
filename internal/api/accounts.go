package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credit-engine/internal/apperr"
	"credit-engine/internal/badge"
	"credit-engine/internal/model"
	"credit-engine/internal/service"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

func (s *Server) openAccount(w http.ResponseWriter, r *http.Request) {
	a, created, err := s.deps.Ledger.OpenAccount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, a)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Ledger.GetAccount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	b, err := s.deps.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": b})
}

func (s *Server) listLedger(w http.ResponseWriter, r *http.Request) {
	const op = "api.listLedger"
	page, err := intQuery(r, op, "page", defaultPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intQuery(r, op, "limit", defaultLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	history, err := s.deps.Ledger.ListHistory(r.Context(), chi.URLParam(r, "userID"), page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type transactionRequest struct {
	Type           model.TxType `json:"type"`
	Amount         int64        `json:"amount"`
	Source         string       `json:"source"`
	RelatedID      string       `json:"related_id"`
	IdempotencyKey string       `json:"idempotency_key"`
}

// applyTransaction is the operator path for grants and corrections.
// Prediction sources are reserved for the wager and settlement flows.
func (s *Server) applyTransaction(w http.ResponseWriter, r *http.Request) {
	const op = "api.applyTransaction"
	var req transactionRequest
	if err := decode(r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	for _, src := range model.PredictionSources() {
		if req.Source == src {
			writeError(w, r, apperr.Validation(op, "source %q is reserved", src))
			return
		}
	}

	tx, err := s.deps.Ledger.ApplyTransaction(r.Context(), model.TransactionRequest{
		UserID:         chi.URLParam(r, "userID"),
		Type:           req.Type,
		Amount:         req.Amount,
		Source:         req.Source,
		RelatedID:      req.RelatedID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Ledger.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) dailyLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.dailyLeaderboard"
	limit, err := intQuery(r, op, "limit", 10)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var lb *service.Leaderboard
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, perr := time.Parse(time.DateOnly, raw)
		if perr != nil {
			writeError(w, r, apperr.Validation(op, "date must be YYYY-MM-DD"))
			return
		}
		lb, err = s.deps.Ledger.DailyLeaderboard(r.Context(), day, limit)
	} else {
		lb, err = s.deps.Ledger.Today(r.Context(), limit)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (s *Server) listUserBadges(w http.ResponseWriter, r *http.Request) {
	owned, err := s.deps.Achievements.ListBadges(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, owned)
}

func (s *Server) awardBadges(w http.ResponseWriter, r *http.Request) {
	var stats badge.Stats
	if err := decode(r, "api.awardBadges", &stats); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Achievements.Award(r.Context(), chi.URLParam(r, "userID"), stats)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listStrikes(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	strikes, err := s.deps.Content.Strikes(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	active, err := s.deps.Content.ActiveStrikes(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strikes": strikes, "active": active})
}
