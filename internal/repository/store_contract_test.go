package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-engine/internal/model"
)

// storeFactory returns a fresh, empty Store for one subtest.
type storeFactory func(t *testing.T) Store

// runStoreContract exercises the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("CreateAccountIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		acct, created, err := s.CreateAccount(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(0), acct.Balance)

		acct, created, err = s.CreateAccount(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "alice", acct.UserID)

		_, err = s.GetAccount(ctx, "bob")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("ApplyTransactionUpdatesBalanceAndHistory", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustAccount(t, s, "alice")

		tx, replayed, err := s.ApplyTransaction(ctx, credit("alice", 200, ""))
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, int64(200), tx.BalanceAfter)
		assert.Equal(t, model.TxStatusCompleted, tx.Status)

		tx, _, err = s.ApplyTransaction(ctx, debit("alice", 50, ""))
		require.NoError(t, err)
		assert.Equal(t, int64(150), tx.BalanceAfter)

		acct, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(150), acct.Balance)
		assert.Equal(t, int64(2), acct.Version)

		sum, err := s.SumCompleted(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, acct.Balance, sum)

		txs, total, err := s.ListTransactions(ctx, "alice", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, txs, 2)
		assert.Equal(t, model.TxTypeSpend, txs[0].Type)

		txs, total, err = s.ListTransactions(ctx, "alice", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, txs, 1)
		assert.Equal(t, model.TxTypeEarn, txs[0].Type)
	})

	t.Run("InsufficientBalanceLeavesStateUntouched", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustAccount(t, s, "alice")
		_, _, err := s.ApplyTransaction(ctx, credit("alice", 100, ""))
		require.NoError(t, err)

		_, _, err = s.ApplyTransaction(ctx, debit("alice", 101, "debit-1"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		acct, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(100), acct.Balance)

		_, total, err := s.ListTransactions(ctx, "alice", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		// The failed key was never recorded, so a later retry can succeed.
		_, _, err = s.ApplyTransaction(ctx, credit("alice", 10, ""))
		require.NoError(t, err)
		tx, replayed, err := s.ApplyTransaction(ctx, debit("alice", 101, "debit-1"))
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, int64(9), tx.BalanceAfter)
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.ApplyTransaction(context.Background(), credit("ghost", 10, ""))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("IdempotencyKeyReplaysOriginal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustAccount(t, s, "alice")

		first, replayed, err := s.ApplyTransaction(ctx, credit("alice", 75, "badge_unlock:alice:first"))
		require.NoError(t, err)
		assert.False(t, replayed)

		second, replayed, err := s.ApplyTransaction(ctx, credit("alice", 75, "badge_unlock:alice:first"))
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, first.ID, second.ID)

		acct, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(75), acct.Balance)
	})

	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustAccount(t, s, "alice")
		_, _, err := s.ApplyTransaction(ctx, credit("alice", 100, ""))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := s.ApplyTransaction(ctx, debit("alice", 30, "")); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		acct, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 3, succeeded)
		assert.Equal(t, int64(10), acct.Balance)
	})

	t.Run("PendingPredictionUniquePerMatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustAccount(t, s, "alice")
		m := mustMatch(t, s)

		p := newPrediction("alice", m.ID, 100)
		require.NoError(t, s.InsertPrediction(ctx, p))

		acct, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(100), acct.LockedCredits)

		err = s.InsertPrediction(ctx, newPrediction("alice", m.ID, 50))
		assert.ErrorIs(t, err, ErrDuplicatePending)

		found, err := s.FindPending(ctx, "alice", m.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, found.ID)
		assert.True(t, decimal.RequireFromString("1.5").Equal(found.Odds))

		// Once resolved, a new pending prediction on the same match is allowed.
		_, err = s.ResolvePrediction(ctx, model.Resolution{
			PredictionID: p.ID, Status: model.PredictionCancelled, ResolvedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
		require.NoError(t, s.InsertPrediction(ctx, newPrediction("alice", m.ID, 50)))
	})

	t.Run("PredictionRejectedOnFinalizedMatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustAccount(t, s, "alice")

		completed := mustMatch(t, s)
		_, err := s.CompleteMatch(ctx, completed.ID, model.OutcomeDraw, time.Now().UTC())
		require.NoError(t, err)
		err = s.InsertPrediction(ctx, newPrediction("alice", completed.ID, 10))
		assert.ErrorIs(t, err, ErrMatchFinalized)

		cancelled := mustMatch(t, s)
		_, err = s.CancelMatch(ctx, cancelled.ID)
		require.NoError(t, err)
		err = s.InsertPrediction(ctx, newPrediction("alice", cancelled.ID, 10))
		assert.ErrorIs(t, err, ErrMatchFinalized)

		err = s.InsertPrediction(ctx, newPrediction("alice", uuid.NewString(), 10))
		assert.ErrorIs(t, err, ErrMatchNotFound)

		acct, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), acct.LockedCredits)
	})

	t.Run("ResolvePredictionTracksStreak", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustAccount(t, s, "alice")

		resolve := func(status model.PredictionStatus) *model.StreakState {
			m := mustMatch(t, s)
			p := newPrediction("alice", m.ID, 10)
			require.NoError(t, s.InsertPrediction(ctx, p))
			st, err := s.ResolvePrediction(ctx, model.Resolution{
				PredictionID: p.ID, UserID: "alice", Status: status, ResolvedAt: time.Now().UTC(),
			})
			require.NoError(t, err)
			return st
		}

		assert.Equal(t, 1, resolve(model.PredictionWon).CurrentStreak)
		assert.Equal(t, 2, resolve(model.PredictionWon).CurrentStreak)
		st := resolve(model.PredictionRefunded)
		assert.Equal(t, 2, st.CurrentStreak)
		st = resolve(model.PredictionLost)
		assert.Equal(t, 0, st.CurrentStreak)
		assert.Equal(t, 2, st.LongestStreak)

		acct, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), acct.LockedCredits)
	})

	t.Run("ResolvePredictionOnlyOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustAccount(t, s, "alice")
		m := mustMatch(t, s)
		p := newPrediction("alice", m.ID, 10)
		require.NoError(t, s.InsertPrediction(ctx, p))

		res := model.Resolution{PredictionID: p.ID, Status: model.PredictionWon, CoinsWon: 15, ResolvedAt: time.Now().UTC()}
		_, err := s.ResolvePrediction(ctx, res)
		require.NoError(t, err)
		_, err = s.ResolvePrediction(ctx, res)
		assert.ErrorIs(t, err, ErrAlreadyResolved)

		st, err := s.GetStreak(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, st.CurrentStreak)

		got, err := s.GetPrediction(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PredictionWon, got.Status)
		assert.Equal(t, int64(15), got.CoinsWon)
		assert.NotNil(t, got.ResolvedAt)
	})

	t.Run("MatchLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		m := mustMatch(t, s)

		done, err := s.CompleteMatch(ctx, m.ID, model.OutcomeHomeWin, time.Now().UTC())
		require.NoError(t, err)
		assert.Equal(t, model.MatchCompleted, done.Status)

		_, err = s.CompleteMatch(ctx, m.ID, model.OutcomeHomeWin, time.Now().UTC())
		require.NoError(t, err)
		_, err = s.CompleteMatch(ctx, m.ID, model.OutcomeDraw, time.Now().UTC())
		assert.ErrorIs(t, err, ErrMatchFinalized)
		_, err = s.CancelMatch(ctx, m.ID)
		assert.ErrorIs(t, err, ErrMatchFinalized)

		cancelled := mustMatch(t, s)
		_, err = s.CancelMatch(ctx, cancelled.ID)
		require.NoError(t, err)
		_, err = s.CancelMatch(ctx, cancelled.ID)
		require.NoError(t, err)

		unresolved, err := s.ListUnresolved(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, unresolved, 2)

		require.NoError(t, s.MarkResolved(ctx, m.ID))
		unresolved, err = s.ListUnresolved(ctx, 10)
		require.NoError(t, err)
		require.Len(t, unresolved, 1)
		assert.Equal(t, cancelled.ID, unresolved[0].ID)

		_, err = s.GetMatch(ctx, "missing")
		assert.ErrorIs(t, err, ErrMatchNotFound)
	})

	t.Run("OrphanedWagerDebits", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustAccount(t, s, "alice")
		_, _, err := s.ApplyTransaction(ctx, credit("alice", 500, ""))
		require.NoError(t, err)

		m := mustMatch(t, s)
		stored := newPrediction("alice", m.ID, 100)
		_, _, err = s.ApplyTransaction(ctx, wagerDebit("alice", stored.ID, 100))
		require.NoError(t, err)
		require.NoError(t, s.InsertPrediction(ctx, stored))

		orphanID := uuid.NewString()
		_, _, err = s.ApplyTransaction(ctx, wagerDebit("alice", orphanID, 50))
		require.NoError(t, err)

		orphans, err := s.OrphanedWagerDebits(ctx, time.Now().UTC().Add(time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		assert.Equal(t, orphanID, *orphans[0].RelatedID)

		_, _, err = s.ApplyTransaction(ctx, model.TransactionRequest{
			UserID: "alice", Type: model.TxTypeRefund, Amount: 50,
			Source: model.SourceReconcileRefund, RelatedID: orphanID,
		})
		require.NoError(t, err)

		orphans, err = s.OrphanedWagerDebits(ctx, time.Now().UTC().Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, orphans)
	})

	t.Run("DailyPredictionProfit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, id := range []string{"alice", "bob"} {
			mustAccount(t, s, id)
			_, _, err := s.ApplyTransaction(ctx, model.TransactionRequest{
				UserID: id, Type: model.TxTypeBonus, Amount: 1000, Source: model.SourceSignupBonus,
			})
			require.NoError(t, err)
		}
		_, _, err := s.ApplyTransaction(ctx, wagerDebit("alice", uuid.NewString(), 100))
		require.NoError(t, err)
		_, _, err = s.ApplyTransaction(ctx, model.TransactionRequest{
			UserID: "alice", Type: model.TxTypeEarn, Amount: 300, Source: model.SourcePredictionWin,
		})
		require.NoError(t, err)
		_, _, err = s.ApplyTransaction(ctx, wagerDebit("bob", uuid.NewString(), 200))
		require.NoError(t, err)

		now := time.Now().UTC()
		ranks, err := s.DailyPredictionProfit(ctx, now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, ranks, 2)
		assert.Equal(t, "alice", ranks[0].UserID)
		assert.Equal(t, int64(200), ranks[0].NetProfit)
		assert.Equal(t, "bob", ranks[1].UserID)
		assert.Equal(t, int64(-200), ranks[1].NetProfit)
	})

	t.Run("BadgesAndStrikes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		inserted, err := s.InsertUserBadge(ctx, &model.UserBadge{UserID: "alice", BadgeID: "first_prediction", Reward: 10, UnlockedAt: now})
		require.NoError(t, err)
		assert.True(t, inserted)
		inserted, err = s.InsertUserBadge(ctx, &model.UserBadge{UserID: "alice", BadgeID: "first_prediction", Reward: 10, UnlockedAt: now})
		require.NoError(t, err)
		assert.False(t, inserted)

		badges, err := s.ListUserBadges(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, badges, 1)

		for i, expires := range []time.Time{now.Add(-time.Hour), now.Add(time.Hour)} {
			_, created, err := s.InsertStrike(ctx, &model.Strike{
				ID: uuid.NewString(), UserID: "alice", ContentID: fmt.Sprintf("c%d", i), Severity: "minor",
				Reason: "spam", ExpiresAt: expires, CreatedAt: now,
			})
			require.NoError(t, err)
			assert.True(t, created)
		}
		active, err := s.CountActiveStrikes(ctx, "alice", now)
		require.NoError(t, err)
		assert.Equal(t, 1, active)

		// Same user and content keeps the first strike.
		again, created, err := s.InsertStrike(ctx, &model.Strike{
			ID: uuid.NewString(), UserID: "alice", ContentID: "c1", Severity: "severe",
			Reason: "again", ExpiresAt: now.Add(48 * time.Hour), CreatedAt: now,
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "minor", again.Severity)
		assert.Equal(t, "c1", again.ContentID)

		// Another user may be struck for the same content id.
		_, created, err = s.InsertStrike(ctx, &model.Strike{
			ID: uuid.NewString(), UserID: "bob", ContentID: "c1", Severity: "minor",
			Reason: "spam", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
		})
		require.NoError(t, err)
		assert.True(t, created)

		strikes, err := s.ListStrikes(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, strikes, 2)
		active, err = s.CountActiveStrikes(ctx, "alice", now)
		require.NoError(t, err)
		assert.Equal(t, 1, active)
	})
}

func mustAccount(t *testing.T, s Store, userID string) {
	t.Helper()
	_, _, err := s.CreateAccount(context.Background(), userID)
	require.NoError(t, err)
}

func mustMatch(t *testing.T, s Store) *model.Match {
	t.Helper()
	m := &model.Match{
		ID:          uuid.NewString(),
		HomeTeam:    "Home",
		AwayTeam:    "Away",
		Status:      model.MatchScheduled,
		ScheduledAt: time.Now().UTC().Add(24 * time.Hour),
	}
	require.NoError(t, s.UpsertMatch(context.Background(), m))
	return m
}

func newPrediction(userID, matchID string, stake int64) *model.Prediction {
	return &model.Prediction{
		ID:              uuid.NewString(),
		UserID:          userID,
		MatchID:         matchID,
		Outcome:         model.OutcomeHomeWin,
		Confidence:      model.ConfidenceLow,
		CoinsWagered:    stake,
		Odds:            decimal.RequireFromString("1.5"),
		PotentialReturn: stake * 3 / 2,
		Status:          model.PredictionPending,
		CreatedAt:       time.Now().UTC(),
	}
}

func credit(userID string, amount int64, key string) model.TransactionRequest {
	return model.TransactionRequest{
		UserID: userID, Type: model.TxTypeEarn, Amount: amount,
		Source: model.SourceAdminGrant, IdempotencyKey: key,
	}
}

func debit(userID string, amount int64, key string) model.TransactionRequest {
	return model.TransactionRequest{
		UserID: userID, Type: model.TxTypeSpend, Amount: amount,
		Source: model.SourceAdminGrant, IdempotencyKey: key,
	}
}

func wagerDebit(userID, predictionID string, amount int64) model.TransactionRequest {
	return model.TransactionRequest{
		UserID: userID, Type: model.TxTypeSpend, Amount: amount,
		Source: model.SourcePredictionWager, RelatedID: predictionID,
		IdempotencyKey: "prediction_wager:" + predictionID,
	}
}
