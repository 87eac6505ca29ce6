package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-engine/internal/apperr"
	"credit-engine/internal/badge"
	"credit-engine/internal/model"
	"credit-engine/internal/moderation"
	"credit-engine/internal/pkg/lock"
	"credit-engine/internal/repository"
	"credit-engine/internal/service"
)

func newTestRouter(t *testing.T, health func(context.Context) error) http.Handler {
	t.Helper()
	store := repository.NewMemoryStore()
	locker := lock.NewUserLock(time.Second)

	ledger := service.NewLedgerService(store, locker, nil, 100)
	achievements := service.NewAchievementService(store, ledger, badge.Default(), nil)
	gate := moderation.NewGate(nil)

	return NewRouter(Deps{
		Ledger:       ledger,
		Wagers:       service.NewWagerService(store, ledger, locker, 50, 500),
		Settlement:   service.NewSettlementService(store, ledger, locker, nil, 1, 50, service.RetryPolicy{MaxRetries: 1}),
		Achievements: achievements,
		Content:      service.NewContentReviewService(store, ledger, gate, achievements, 5),
		Gate:         gate,
		Health:       health,
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createMatch(t *testing.T, h http.Handler) *model.Match {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/v1/matches", map[string]any{
		"home_team":    "Harbor FC",
		"away_team":    "Mill Town",
		"scheduled_at": time.Now().Add(time.Hour).UTC(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody[*model.Match](t, w)
}

func TestHealth(t *testing.T) {
	w := do(t, newTestRouter(t, nil), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, w)["status"])

	down := newTestRouter(t, func(context.Context) error { return errors.New("db down") })
	w = do(t, down, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAccountLifecycle(t *testing.T) {
	h := newTestRouter(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/accounts/alice", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, int64(100), decodeBody[model.Account](t, w).Balance)

	w = do(t, h, http.MethodPost, "/api/v1/accounts/alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/accounts/alice/transactions", map[string]any{
		"type": "adjustment", "amount": 50, "source": model.SourceAdminGrant, "idempotency_key": "grant-1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/v1/accounts/alice/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 150, decodeBody[map[string]any](t, w)["balance"])

	w = do(t, h, http.MethodGet, "/api/v1/accounts/alice/ledger?page=1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeBody[service.HistoryPage](t, w)
	assert.Equal(t, 2, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 1)
	assert.Equal(t, model.TxTypeAdjustment, page.Items[0].Type)

	w = do(t, h, http.MethodGet, "/api/v1/accounts/alice/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[service.ReconcileReport](t, w).Consistent)
}

func TestWagerFlow(t *testing.T) {
	h := newTestRouter(t, nil)
	do(t, h, http.MethodPost, "/api/v1/accounts/alice", nil)
	m := createMatch(t, h)

	wager := service.WagerRequest{
		UserID: "alice", MatchID: m.ID, Outcome: model.OutcomeHomeWin, Confidence: model.ConfidenceMedium, CoinsWagered: 100,
	}
	w := do(t, h, http.MethodPost, "/api/v1/wagers", wager)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decodeBody[model.Prediction](t, w)
	assert.Equal(t, model.PredictionPending, p.Status)

	w = do(t, h, http.MethodPost, "/api/v1/wagers", wager)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.KindDuplicateWager, decodeBody[errorBody](t, w).Kind)

	w = do(t, h, http.MethodPost, "/api/v1/matches/"+m.ID+"/result", map[string]any{"result": "home_win", "settle": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[resultResponse](t, w)
	require.NotNil(t, res.Report)
	assert.Equal(t, 1, res.Report.Won)
	assert.Equal(t, int64(200), res.Report.CoinsPaid)

	w = do(t, h, http.MethodGet, "/api/v1/accounts/alice/balance", nil)
	assert.EqualValues(t, 200, decodeBody[map[string]any](t, w)["balance"])

	w = do(t, h, http.MethodGet, "/api/v1/accounts/alice/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[service.PredictionStats](t, w).CurrentStreak)

	w = do(t, h, http.MethodPost, "/api/v1/matches/"+m.ID+"/settle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[service.SettlementReport](t, w).AlreadyResolved)
}

func TestCancelFlow(t *testing.T) {
	h := newTestRouter(t, nil)
	do(t, h, http.MethodPost, "/api/v1/accounts/alice", nil)
	m := createMatch(t, h)

	w := do(t, h, http.MethodPost, "/api/v1/wagers", service.WagerRequest{
		UserID: "alice", MatchID: m.ID, Outcome: model.OutcomeDraw, Confidence: model.ConfidenceLow, CoinsWagered: 60,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/matches/"+m.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[service.SettlementReport](t, w).Refunded)

	w = do(t, h, http.MethodGet, "/api/v1/accounts/alice/balance", nil)
	assert.EqualValues(t, 100, decodeBody[map[string]any](t, w)["balance"])
}

func TestErrorMapping(t *testing.T) {
	h := newTestRouter(t, nil)
	do(t, h, http.MethodPost, "/api/v1/accounts/alice", nil)
	m := createMatch(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   apperr.Kind
	}{
		{"unknown account", http.MethodGet, "/api/v1/accounts/ghost/balance", nil, http.StatusNotFound, apperr.KindNotFound},
		{"unknown match", http.MethodGet, "/api/v1/matches/nope", nil, http.StatusNotFound, apperr.KindNotFound},
		{"malformed body", http.MethodPost, "/api/v1/wagers", "{", http.StatusBadRequest, apperr.KindValidation},
		{"unknown field", http.MethodPost, "/api/v1/wagers", `{"stake":1}`, http.StatusBadRequest, apperr.KindValidation},
		{"empty body", http.MethodPost, "/api/v1/wagers", nil, http.StatusBadRequest, apperr.KindValidation},
		{"bad page", http.MethodGet, "/api/v1/accounts/alice/ledger?page=x", nil, http.StatusBadRequest, apperr.KindValidation},
		{"bad date", http.MethodGet, "/api/v1/leaderboard/daily?date=yesterday", nil, http.StatusBadRequest, apperr.KindValidation},
		{
			"reserved source", http.MethodPost, "/api/v1/accounts/alice/transactions",
			map[string]any{"type": "earn", "amount": 10, "source": model.SourcePredictionWin},
			http.StatusBadRequest, apperr.KindValidation,
		},
		{
			"insufficient balance", http.MethodPost, "/api/v1/wagers",
			service.WagerRequest{UserID: "alice", MatchID: m.ID, Outcome: model.OutcomeDraw, Confidence: model.ConfidenceLow, CoinsWagered: 200},
			http.StatusUnprocessableEntity, apperr.KindInsufficientBalance,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, decodeBody[errorBody](t, w).Kind)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(apperr.KindValidation))
	assert.Equal(t, http.StatusConflict, statusFor(apperr.KindConcurrencyConflict))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(apperr.KindModerationSystem))
	assert.Equal(t, http.StatusInternalServerError, statusFor(apperr.KindPersistence))
}

func TestModerationEndpoints(t *testing.T) {
	h := newTestRouter(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/moderation/evaluate", moderation.Content{
		ID: "c1", Title: "Match notes", Description: "A calm look at the second half substitutions.",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, moderation.ActionApprove, decodeBody[moderation.Verdict](t, w).Action)

	w = do(t, h, http.MethodPost, "/api/v1/moderation/batch", []moderation.Content{
		{ID: "a", Title: "Match notes", Description: "A calm look at the second half substitutions."},
		{ID: "b", Title: "Win real money", Description: "Sign up now for the weekend special."},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	batch := decodeBody[batchResponse](t, w)
	assert.Equal(t, 2, batch.Stats.TotalChecked)
	assert.Equal(t, 1, batch.Stats.Rejected)
	assert.Equal(t, moderation.ActionRemove, batch.Verdicts["b"].Action)

	w = do(t, h, http.MethodPost, "/api/v1/moderation/batch", []moderation.Content{{ID: "a"}, {ID: "a"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/moderation/evaluate", moderation.Content{ID: "c2", LinkCount: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContentReviewEndpoint(t *testing.T) {
	h := newTestRouter(t, nil)
	do(t, h, http.MethodPost, "/api/v1/accounts/alice", nil)

	w := do(t, h, http.MethodPost, "/api/v1/content/review", map[string]any{
		"user_id": "alice",
		"content": moderation.Content{ID: "p1", Title: "Real team talk", Description: "Thoughts on the real team lineup this week."},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, decodeBody[service.ReviewResult](t, w).Strike)

	w = do(t, h, http.MethodGet, "/api/v1/accounts/alice/strikes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody[map[string]any](t, w)["active"])
}

func TestBadgeEndpoints(t *testing.T) {
	h := newTestRouter(t, nil)
	do(t, h, http.MethodPost, "/api/v1/accounts/alice", nil)

	w := do(t, h, http.MethodGet, "/api/v1/badges", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]badge.Definition](t, w), len(badge.Default().All()))

	w = do(t, h, http.MethodPost, "/api/v1/badges/evaluate", badge.Stats{TotalPosts: 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]badge.Definition](t, w), 2)

	w = do(t, h, http.MethodPost, "/api/v1/badges/next?limit=2", badge.Stats{TotalPosts: 4})
	require.Equal(t, http.StatusOK, w.Code)
	next := decodeBody[[]badge.Progress](t, w)
	require.Len(t, next, 2)
	assert.Equal(t, "content_creator", next[0].Badge.ID)

	w = do(t, h, http.MethodPost, "/api/v1/accounts/alice/badges", badge.Stats{TotalPosts: 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(10), decodeBody[service.AwardResult](t, w).Credited)

	w = do(t, h, http.MethodGet, "/api/v1/accounts/alice/badges", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]model.UserBadge](t, w), 1)
}

func TestReputationEndpoints(t *testing.T) {
	h := newTestRouter(t, nil)

	w := do(t, h, http.MethodPost, "/api/v1/reputation/score", map[string]int{
		"content_quality": 100, "consistency": 100, "community_rating": 100, "engagement_quality": 100, "follow_retention": 100,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	score := decodeBody[map[string]any](t, w)
	assert.EqualValues(t, 100, score["total"])
	assert.Equal(t, "Exemplary", score["tier"])

	w = do(t, h, http.MethodPost, "/api/v1/reputation/score", map[string]int{"content_quality": 101})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/reputation/safety", map[string]any{"score": 80, "violations": 1})
	require.Equal(t, http.StatusOK, w.Code)
	safety := decodeBody[safetyResponse](t, w)
	assert.Equal(t, 70, safety.Score)
	assert.Equal(t, "caution", safety.Indicator.Level)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, nil)
	do(t, h, http.MethodGet, "/health", nil)

	w := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "credit_http_requests_total")
}
