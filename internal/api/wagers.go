package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credit-engine/internal/model"
	"credit-engine/internal/service"
)

func (s *Server) placeWager(w http.ResponseWriter, r *http.Request) {
	var req service.WagerRequest
	if err := decode(r, "api.placeWager", &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Wagers.PlaceWager(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type cancelWagerRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) cancelWager(w http.ResponseWriter, r *http.Request) {
	var req cancelWagerRequest
	if err := decode(r, "api.cancelWager", &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Wagers.CancelWager(r.Context(), req.UserID, chi.URLParam(r, "predictionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listPredictions(w http.ResponseWriter, r *http.Request) {
	const op = "api.listPredictions"
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
	out, err := s.deps.Wagers.ListUserPredictions(r.Context(), chi.URLParam(r, "userID"), page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) predictionStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Wagers.Stats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type matchRequest struct {
	ID          string            `json:"id"`
	HomeTeam    string            `json:"home_team"`
	AwayTeam    string            `json:"away_team"`
	Status      model.MatchStatus `json:"status"`
	ScheduledAt time.Time         `json:"scheduled_at"`
}

func (s *Server) upsertMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decode(r, "api.upsertMatch", &req); err != nil {
		writeError(w, r, err)
		return
	}
	m := &model.Match{
		ID:          req.ID,
		HomeTeam:    req.HomeTeam,
		AwayTeam:    req.AwayTeam,
		Status:      req.Status,
		ScheduledAt: req.ScheduledAt.UTC(),
	}
	if err := s.deps.Settlement.UpsertMatch(r.Context(), m); err != nil {
		writeError(w, r, err)
		return
	}
	stored, err := s.deps.Settlement.GetMatch(r.Context(), m.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) getMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Settlement.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type resultRequest struct {
	Result      model.Outcome `json:"result"`
	CompletedAt *time.Time    `json:"completed_at"`
	// Settle runs settlement right after recording the result.
	Settle bool `json:"settle"`
}

type resultResponse struct {
	Match  *model.Match              `json:"match"`
	Report *service.SettlementReport `json:"report,omitempty"`
}

func (s *Server) recordResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := decode(r, "api.recordResult", &req); err != nil {
		writeError(w, r, err)
		return
	}
	var completedAt time.Time
	if req.CompletedAt != nil {
		completedAt = req.CompletedAt.UTC()
	}

	matchID := chi.URLParam(r, "matchID")
	m, err := s.deps.Settlement.RecordResult(r.Context(), matchID, req.Result, completedAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := resultResponse{Match: m}
	if req.Settle {
		resp.Report, err = s.deps.Settlement.SettleMatch(r.Context(), matchID)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) settleMatch(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Settlement.SettleMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) cancelMatch(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Settlement.CancelMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) settleDue(w http.ResponseWriter, r *http.Request) {
	reports, err := s.deps.Settlement.SettleDue(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []*service.SettlementReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}
