package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"credit-engine/internal/badge"
	"credit-engine/internal/model"
	"credit-engine/internal/moderation"
	"credit-engine/internal/notify"
	"credit-engine/internal/pkg/lock"
	"credit-engine/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *eventRecorder) Publish(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(typ string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// faultyStore injects failures into selected store operations.
type faultyStore struct {
	*repository.MemoryStore
	mu              sync.Mutex
	failInsert      bool
	resolveFailures int
	// beforeInsert runs ahead of InsertPrediction, after the service has
	// checked the match.
	beforeInsert func()
}

var errInjected = errors.New("injected failure")

func (f *faultyStore) InsertPrediction(ctx context.Context, p *model.Prediction) error {
	f.mu.Lock()
	fail, hook := f.failInsert, f.beforeInsert
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return errInjected
	}
	return f.MemoryStore.InsertPrediction(ctx, p)
}

func (f *faultyStore) ResolvePrediction(ctx context.Context, res model.Resolution) (*model.StreakState, error) {
	f.mu.Lock()
	if f.resolveFailures > 0 {
		f.resolveFailures--
		f.mu.Unlock()
		return nil, errInjected
	}
	f.mu.Unlock()
	return f.MemoryStore.ResolvePrediction(ctx, res)
}

type harness struct {
	mem          *repository.MemoryStore
	clock        *testClock
	events       *eventRecorder
	ledger       *LedgerService
	wagers       *WagerService
	settlement   *SettlementService
	achievements *AchievementService
	content      *ContentReviewService
}

var testRetry = RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxRetries: 3}

func newHarness(t *testing.T) *harness {
	mem := repository.NewMemoryStore()
	return newHarnessWith(t, mem, mem)
}

func newHarnessWith(t *testing.T, mem *repository.MemoryStore, store repository.Store) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem.SetClock(clock.Now)

	events := &eventRecorder{}
	locker := lock.NewUserLock(2 * time.Second)

	ledger := NewLedgerService(store, locker, events, 0)
	ledger.SetClock(clock.Now)
	wagers := NewWagerService(store, ledger, locker, 50, 500)
	wagers.SetClock(clock.Now)
	settlement := NewSettlementService(store, ledger, locker, events, 1, 50, testRetry)
	settlement.SetClock(clock.Now)
	achievements := NewAchievementService(store, ledger, badge.Default(), events)
	achievements.SetClock(clock.Now)
	content := NewContentReviewService(store, ledger, moderation.NewGate(nil), achievements, 5)
	content.SetClock(clock.Now)

	return &harness{
		mem:          mem,
		clock:        clock,
		events:       events,
		ledger:       ledger,
		wagers:       wagers,
		settlement:   settlement,
		achievements: achievements,
		content:      content,
	}
}

// fund opens an account holding exactly amount credits.
func (h *harness) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, _, err := h.ledger.OpenAccount(ctx, userID)
	require.NoError(t, err)
	if amount > 0 {
		_, err = h.ledger.ApplyTransaction(ctx, model.TransactionRequest{
			UserID: userID,
			Type:   model.TxTypeAdjustment,
			Amount: amount,
			Source: model.SourceAdminGrant,
		})
		require.NoError(t, err)
	}
}

// match schedules a match starting a day after the current test time.
func (h *harness) match(t *testing.T) *model.Match {
	t.Helper()
	m := &model.Match{HomeTeam: "Harbor FC", AwayTeam: "Mill Town", ScheduledAt: h.clock.Now().Add(24 * time.Hour)}
	require.NoError(t, h.settlement.UpsertMatch(context.Background(), m))
	return m
}

func (h *harness) wager(t *testing.T, userID, matchID string, outcome model.Outcome, conf model.Confidence, stake int64) *model.Prediction {
	t.Helper()
	p, err := h.wagers.PlaceWager(context.Background(), WagerRequest{
		UserID:       userID,
		MatchID:      matchID,
		Outcome:      outcome,
		Confidence:   conf,
		CoinsWagered: stake,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) finish(t *testing.T, matchID string, result model.Outcome) *SettlementReport {
	t.Helper()
	ctx := context.Background()
	_, err := h.settlement.RecordResult(ctx, matchID, result, h.clock.Now())
	require.NoError(t, err)
	r, err := h.settlement.SettleMatch(ctx, matchID)
	require.NoError(t, err)
	return r
}

func (h *harness) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := h.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}
