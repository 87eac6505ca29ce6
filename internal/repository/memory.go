package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"credit-engine/internal/model"
)

// MemoryStore implements Store in process memory. A single mutex makes
// every method atomic, which gives ApplyTransaction and ResolvePrediction
// the same all-or-nothing behaviour as their Postgres counterparts.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[string]*model.Account
	txs         []*model.Transaction
	txByKey     map[string]*model.Transaction
	predictions map[string]*model.Prediction
	predOrder   []string
	matches     map[string]*model.Match
	streaks     map[string]*model.StreakState
	badges      map[string]map[string]*model.UserBadge
	strikes     []*model.Strike
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*model.Account),
		txByKey:     make(map[string]*model.Transaction),
		predictions: make(map[string]*model.Prediction),
		matches:     make(map[string]*model.Match),
		streaks:     make(map[string]*model.StreakState),
		badges:      make(map[string]map[string]*model.UserBadge),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for created/updated timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// --- Ledger ---

func (s *MemoryStore) CreateAccount(_ context.Context, userID string) (*model.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[userID]; ok {
		cp := *a
		return &cp, false, nil
	}
	now := s.now()
	a := &model.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.accounts[userID] = a
	cp := *a
	return &cp, true, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ApplyTransaction(_ context.Context, req model.TransactionRequest) (*model.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if t, ok := s.txByKey[req.IdempotencyKey]; ok {
			cp := *t
			return &cp, true, nil
		}
	}

	a, ok := s.accounts[req.UserID]
	if !ok {
		return nil, false, ErrAccountNotFound
	}
	next := a.Balance + req.Type.Signed(req.Amount)
	if next < 0 {
		return nil, false, ErrInsufficientBalance
	}

	now := s.now()
	a.Balance = next
	a.Version++
	a.UpdatedAt = now

	t := &model.Transaction{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Type:           req.Type,
		Amount:         req.Amount,
		BalanceAfter:   next,
		Source:         req.Source,
		RelatedID:      nullable(req.RelatedID),
		Status:         model.TxStatusCompleted,
		IdempotencyKey: nullable(req.IdempotencyKey),
		CreatedAt:      now,
	}
	s.txs = append(s.txs, t)
	if req.IdempotencyKey != "" {
		s.txByKey[req.IdempotencyKey] = t
	}

	cp := *t
	return &cp, false, nil
}

func (s *MemoryStore) GetTransactionByKey(_ context.Context, key string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txByKey[key]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, offset, limit int) ([]*model.Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []*model.Transaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].UserID == userID {
			cp := *s.txs[i]
			mine = append(mine, &cp)
		}
	}
	return page(mine, offset, limit), len(mine), nil
}

func (s *MemoryStore) SumCompleted(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	for _, t := range s.txs {
		if t.UserID == userID && t.Status == model.TxStatusCompleted {
			sum += t.Type.Signed(t.Amount)
		}
	}
	return sum, nil
}

func (s *MemoryStore) DailyPredictionProfit(_ context.Context, from, to time.Time) ([]*model.DailyRank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sources := make(map[string]bool)
	for _, src := range model.PredictionSources() {
		sources[src] = true
	}

	totals := make(map[string]int64)
	for _, t := range s.txs {
		if !sources[t.Source] || t.Status != model.TxStatusCompleted {
			continue
		}
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		totals[t.UserID] += t.Type.Signed(t.Amount)
	}

	ranks := make([]*model.DailyRank, 0, len(totals))
	for userID, net := range totals {
		ranks = append(ranks, &model.DailyRank{UserID: userID, NetProfit: net})
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].NetProfit != ranks[j].NetProfit {
			return ranks[i].NetProfit > ranks[j].NetProfit
		}
		return ranks[i].UserID < ranks[j].UserID
	})
	return ranks, nil
}

func (s *MemoryStore) OrphanedWagerDebits(_ context.Context, olderThan time.Time, limit int) ([]*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refunded := make(map[string]bool)
	for _, t := range s.txs {
		if t.Type == model.TxTypeRefund && t.RelatedID != nil {
			refunded[*t.RelatedID] = true
		}
	}

	var out []*model.Transaction
	for _, t := range s.txs {
		if t.Source != model.SourcePredictionWager || t.Status != model.TxStatusCompleted || t.RelatedID == nil {
			continue
		}
		if !t.CreatedAt.Before(olderThan) {
			continue
		}
		if _, ok := s.predictions[*t.RelatedID]; ok || refunded[*t.RelatedID] {
			continue
		}
		cp := *t
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Predictions and streaks ---

func (s *MemoryStore) InsertPrediction(_ context.Context, p *model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[p.MatchID]
	if !ok {
		return ErrMatchNotFound
	}
	if m.Status == model.MatchCompleted || m.Status == model.MatchCancelled {
		return ErrMatchFinalized
	}
	for _, existing := range s.predictions {
		if existing.UserID == p.UserID && existing.MatchID == p.MatchID && existing.Status == model.PredictionPending {
			return ErrDuplicatePending
		}
	}
	a, ok := s.accounts[p.UserID]
	if !ok {
		return ErrAccountNotFound
	}

	cp := *p
	cp.Status = model.PredictionPending
	s.predictions[p.ID] = &cp
	s.predOrder = append(s.predOrder, p.ID)
	a.LockedCredits += p.CoinsWagered
	return nil
}

func (s *MemoryStore) GetPrediction(_ context.Context, id string) (*model.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[id]
	if !ok {
		return nil, ErrPredictionNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) FindPending(_ context.Context, userID, matchID string) (*model.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.predictions {
		if p.UserID == userID && p.MatchID == matchID && p.Status == model.PredictionPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPredictionNotFound
}

func (s *MemoryStore) ListPendingByMatch(_ context.Context, matchID string) ([]*model.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Prediction
	for _, id := range s.predOrder {
		p := s.predictions[id]
		if p.MatchID == matchID && p.Status == model.PredictionPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, offset, limit int) ([]*model.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []*model.Prediction
	for i := len(s.predOrder) - 1; i >= 0; i-- {
		p := s.predictions[s.predOrder[i]]
		if p.UserID == userID {
			cp := *p
			mine = append(mine, &cp)
		}
	}
	return page(mine, offset, limit), nil
}

func (s *MemoryStore) ResolvePrediction(_ context.Context, res model.Resolution) (*model.StreakState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[res.PredictionID]
	if !ok {
		return nil, ErrPredictionNotFound
	}
	if p.Status != model.PredictionPending {
		return nil, ErrAlreadyResolved
	}

	resolvedAt := res.ResolvedAt
	p.Status = res.Status
	p.ActualOutcome = res.ActualOutcome
	p.CoinsWon = res.CoinsWon
	p.ResolvedAt = &resolvedAt

	if a, ok := s.accounts[p.UserID]; ok {
		a.LockedCredits -= p.CoinsWagered
		if a.LockedCredits < 0 {
			a.LockedCredits = 0
		}
	}

	st, ok := s.streaks[p.UserID]
	if !ok {
		st = &model.StreakState{UserID: p.UserID}
	}
	switch res.Status {
	case model.PredictionWon:
		st.CurrentStreak++
		if st.CurrentStreak > st.LongestStreak {
			st.LongestStreak = st.CurrentStreak
		}
		st.LastResolvedAt = &resolvedAt
		s.streaks[p.UserID] = st
	case model.PredictionLost:
		st.CurrentStreak = 0
		st.LastResolvedAt = &resolvedAt
		s.streaks[p.UserID] = st
	}

	cp := *st
	return &cp, nil
}

func (s *MemoryStore) GetStreak(_ context.Context, userID string) (*model.StreakState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streaks[userID]
	if !ok {
		return &model.StreakState{UserID: userID}, nil
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) TopStreaks(_ context.Context, limit int) ([]*model.StreakState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.StreakState
	for _, st := range s.streaks {
		if st.CurrentStreak > 0 {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentStreak != out[j].CurrentStreak {
			return out[i].CurrentStreak > out[j].CurrentStreak
		}
		if out[i].LongestStreak != out[j].LongestStreak {
			return out[i].LongestStreak > out[j].LongestStreak
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Matches ---

func (s *MemoryStore) UpsertMatch(_ context.Context, m *model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.matches[m.ID]
	if !ok {
		cp := *m
		cp.CreatedAt = now
		cp.UpdatedAt = now
		s.matches[m.ID] = &cp
		*m = cp
		return nil
	}

	existing.HomeTeam = m.HomeTeam
	existing.AwayTeam = m.AwayTeam
	existing.ScheduledAt = m.ScheduledAt
	if existing.Status != model.MatchCompleted && existing.Status != model.MatchCancelled {
		existing.Status = m.Status
	}
	existing.UpdatedAt = now
	*m = *existing
	return nil
}

func (s *MemoryStore) GetMatch(_ context.Context, id string) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) CompleteMatch(_ context.Context, id string, result model.Outcome, completedAt time.Time) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	switch m.Status {
	case model.MatchScheduled, model.MatchInProgress:
		r := result
		at := completedAt
		m.Status = model.MatchCompleted
		m.Result = &r
		m.CompletedAt = &at
		m.UpdatedAt = s.now()
	case model.MatchCompleted:
		if m.Result == nil || *m.Result != result {
			return nil, ErrMatchFinalized
		}
	default:
		return nil, ErrMatchFinalized
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) CancelMatch(_ context.Context, id string) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	switch m.Status {
	case model.MatchScheduled, model.MatchInProgress:
		m.Status = model.MatchCancelled
		m.UpdatedAt = s.now()
	case model.MatchCancelled:
	default:
		return nil, ErrMatchFinalized
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) MarkResolved(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return ErrMatchNotFound
	}
	m.PredictionsResolved = true
	m.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ListUnresolved(_ context.Context, limit int) ([]*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Match
	for _, m := range s.matches {
		if m.PredictionsResolved {
			continue
		}
		if m.Status == model.MatchCompleted || m.Status == model.MatchCancelled {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := settleTime(out[i]), settleTime(out[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func settleTime(m *model.Match) time.Time {
	if m.CompletedAt != nil {
		return *m.CompletedAt
	}
	return m.UpdatedAt
}

// --- Badges and strikes ---

func (s *MemoryStore) ListUserBadges(_ context.Context, userID string) ([]*model.UserBadge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.UserBadge
	for _, b := range s.badges[userID] {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.Before(out[j].UnlockedAt)
		}
		return out[i].BadgeID < out[j].BadgeID
	})
	return out, nil
}

func (s *MemoryStore) InsertUserBadge(_ context.Context, b *model.UserBadge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned, ok := s.badges[b.UserID]
	if !ok {
		owned = make(map[string]*model.UserBadge)
		s.badges[b.UserID] = owned
	}
	if _, exists := owned[b.BadgeID]; exists {
		return false, nil
	}
	cp := *b
	owned[b.BadgeID] = &cp
	return true, nil
}

func (s *MemoryStore) InsertStrike(_ context.Context, st *model.Strike) (*model.Strike, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.strikes {
		if existing.UserID == st.UserID && existing.ContentID == st.ContentID {
			cp := *existing
			return &cp, false, nil
		}
	}
	stored := *st
	s.strikes = append(s.strikes, &stored)
	cp := stored
	return &cp, true, nil
}

func (s *MemoryStore) CountActiveStrikes(_ context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, st := range s.strikes {
		if st.UserID == userID && st.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListStrikes(_ context.Context, userID string) ([]*model.Strike, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Strike
	for i := len(s.strikes) - 1; i >= 0; i-- {
		if s.strikes[i].UserID == userID {
			cp := *s.strikes[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
