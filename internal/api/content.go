package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"credit-engine/internal/apperr"
	"credit-engine/internal/badge"
	"credit-engine/internal/moderation"
	"credit-engine/internal/reputation"
)

// maxBatch bounds a single moderation batch request.
const maxBatch = 100

func (s *Server) badgeCatalog(w http.ResponseWriter, r *http.Request) {
	engine := s.deps.Achievements.Badges()
	if c := r.URL.Query().Get("category"); c != "" {
		writeJSON(w, http.StatusOK, engine.ByCategory(badge.Category(c)))
		return
	}
	writeJSON(w, http.StatusOK, engine.All())
}

func (s *Server) evaluateBadges(w http.ResponseWriter, r *http.Request) {
	var stats badge.Stats
	if err := decode(r, "api.evaluateBadges", &stats); err != nil {
		writeError(w, r, err)
		return
	}
	earned, err := s.deps.Achievements.Badges().Evaluate(stats)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if earned == nil {
		earned = []badge.Definition{}
	}
	writeJSON(w, http.StatusOK, earned)
}

func (s *Server) nextBadges(w http.ResponseWriter, r *http.Request) {
	const op = "api.nextBadges"
	limit, err := intQuery(r, op, "limit", 3)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var stats badge.Stats
	if err := decode(r, op, &stats); err != nil {
		writeError(w, r, err)
		return
	}
	next, err := s.deps.Achievements.Badges().Next(stats, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if next == nil {
		next = []badge.Progress{}
	}
	writeJSON(w, http.StatusOK, next)
}

type scoreResponse struct {
	*reputation.Breakdown
	Tier               string          `json:"tier"`
	EarningsMultiplier decimal.Decimal `json:"earnings_multiplier"`
	StrikeImpact       int             `json:"strike_impact"`
}

func (s *Server) reputationScore(w http.ResponseWriter, r *http.Request) {
	var in reputation.Inputs
	if err := decode(r, "api.reputationScore", &in); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := reputation.ComputeBreakdown(in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{
		Breakdown:          b,
		Tier:               reputation.Tier(b.Total),
		EarningsMultiplier: reputation.EarningsMultiplier(b.Total),
		StrikeImpact:       reputation.StrikeImpact(b.Total),
	})
}

type safetyRequest struct {
	Score      int  `json:"score"`
	Violations int  `json:"violations"`
	Verified   bool `json:"verified"`
}

type safetyResponse struct {
	reputation.SafetyScore
	Indicator reputation.Indicator `json:"indicator"`
}

func (s *Server) reputationSafety(w http.ResponseWriter, r *http.Request) {
	const op = "api.reputationSafety"
	var req safetyRequest
	if err := decode(r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Score < 0 || req.Score > 100 || req.Violations < 0 {
		writeError(w, r, apperr.Validation(op, "score must be between 0 and 100 and violations non-negative"))
		return
	}
	writeJSON(w, http.StatusOK, safetyResponse{
		SafetyScore: reputation.Safety(req.Score, req.Violations),
		Indicator:   reputation.TrustIndicator(req.Score, req.Violations, req.Verified),
	})
}

func (s *Server) moderate(w http.ResponseWriter, r *http.Request) {
	const op = "api.moderate"
	var c moderation.Content
	if err := decode(r, op, &c); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.deps.Gate.Evaluate(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type batchResponse struct {
	Verdicts map[string]*moderation.Verdict `json:"verdicts"`
	Stats    moderation.Stats               `json:"stats"`
}

func (s *Server) moderateBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.moderateBatch"
	var items []moderation.Content
	if err := decode(r, op, &items); err != nil {
		writeError(w, r, err)
		return
	}
	if len(items) > maxBatch {
		writeError(w, r, apperr.Validation(op, "at most %d items per batch", maxBatch))
		return
	}
	seen := make(map[string]bool, len(items))
	for _, c := range items {
		if c.ID == "" || seen[c.ID] {
			writeError(w, r, apperr.Validation(op, "every item needs a unique id"))
			return
		}
		seen[c.ID] = true
	}

	verdicts, err := s.deps.Gate.EvaluateBatch(r.Context(), items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	all := make([]*moderation.Verdict, 0, len(verdicts))
	for _, v := range verdicts {
		all = append(all, v)
	}
	writeJSON(w, http.StatusOK, batchResponse{Verdicts: verdicts, Stats: moderation.ComputeStats(all)})
}

type reviewRequest struct {
	UserID  string             `json:"user_id"`
	Content moderation.Content `json:"content"`
	Stats   *badge.Stats       `json:"stats"`
}

func (s *Server) reviewContent(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decode(r, "api.reviewContent", &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Content.Review(r.Context(), req.UserID, req.Content, req.Stats)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
