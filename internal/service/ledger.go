package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"credit-engine/internal/apperr"
	"credit-engine/internal/metrics"
	"credit-engine/internal/model"
	"credit-engine/internal/notify"
	"credit-engine/internal/pkg/lock"
	"credit-engine/internal/repository"
)

// LedgerService applies balance changes and answers balance queries.
type LedgerService struct {
	store       repository.Store
	locker      lock.Locker
	notifier    notify.Notifier
	signupBonus int64
	timezone    *time.Location
	now         func() time.Time
}

// NewLedgerService creates a new LedgerService instance.
func NewLedgerService(store repository.Store, locker lock.Locker, notifier notify.Notifier, signupBonus int64) *LedgerService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &LedgerService{
		store:       store,
		locker:      locker,
		notifier:    notifier,
		signupBonus: signupBonus,
		timezone:    time.UTC,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *LedgerService) SetClock(now func() time.Time) {
	s.now = now
}

// SetTimezone sets the zone used to cut leaderboard days.
func (s *LedgerService) SetTimezone(loc *time.Location) {
	if loc != nil {
		s.timezone = loc
	}
}

// ApplyTransaction validates and applies one balance change. Replaying an
// idempotency key returns the original transaction without applying again.
func (s *LedgerService) ApplyTransaction(ctx context.Context, req model.TransactionRequest) (*model.Transaction, error) {
	const op = "ledger.ApplyTransaction"

	switch {
	case req.UserID == "":
		return nil, apperr.Validation(op, "user id is required")
	case !req.Type.Valid():
		return nil, apperr.Validation(op, "unknown transaction type %q", req.Type)
	case req.Amount <= 0:
		return nil, apperr.Validation(op, "amount must be positive, got %d", req.Amount)
	case req.Source == "":
		return nil, apperr.Validation(op, "source is required")
	}

	tx, replayed, err := s.store.ApplyTransaction(ctx, req)
	if err != nil {
		return nil, classify(op, err)
	}
	if replayed {
		metrics.LedgerReplays.Inc()
		log.Debug().
			Str("user_id", req.UserID).
			Str("idempotency_key", req.IdempotencyKey).
			Msg("Transaction replayed")
		return tx, nil
	}

	metrics.LedgerTransactions.WithLabelValues(string(tx.Type), tx.Source).Inc()
	s.notifier.Publish(notify.Event{
		Type:    notify.EventTransactionApplied,
		UserID:  tx.UserID,
		Status:  string(tx.Type),
		Amount:  tx.Amount,
		Balance: tx.BalanceAfter,
		Time:    tx.CreatedAt.Format(time.RFC3339),
	})
	return tx, nil
}

// GetAccount returns the user's account.
func (s *LedgerService) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	a, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, classify("ledger.GetAccount", err)
	}
	return a, nil
}

// GetBalance returns the balance over completed transactions.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	a, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return 0, classify("ledger.GetBalance", err)
	}
	return a.Balance, nil
}

// HistoryPage is one page of a user's transactions, newest first.
type HistoryPage struct {
	Items   []*model.Transaction `json:"items"`
	Total   int                  `json:"total"`
	Page    int                  `json:"page"`
	Limit   int                  `json:"limit"`
	HasMore bool                 `json:"has_more"`
}

// ListHistory returns a page of the user's ledger. Pages start at 1.
func (s *LedgerService) ListHistory(ctx context.Context, userID string, page, limit int) (*HistoryPage, error) {
	const op = "ledger.ListHistory"
	offset, err := pageBounds(op, page, limit)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetAccount(ctx, userID); err != nil {
		return nil, classify(op, err)
	}

	items, total, err := s.store.ListTransactions(ctx, userID, offset, limit)
	if err != nil {
		return nil, classify(op, err)
	}
	if items == nil {
		items = []*model.Transaction{}
	}
	return &HistoryPage{
		Items:   items,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: offset+len(items) < total,
	}, nil
}

// OpenAccount creates the user's account and grants the signup bonus once.
// Calling it again is harmless and reports created=false.
func (s *LedgerService) OpenAccount(ctx context.Context, userID string) (*model.Account, bool, error) {
	const op = "ledger.OpenAccount"
	if userID == "" {
		return nil, false, apperr.Validation(op, "user id is required")
	}

	a, created, err := s.store.CreateAccount(ctx, userID)
	if err != nil {
		return nil, false, classify(op, err)
	}
	if s.signupBonus <= 0 {
		return a, created, nil
	}

	// Keyed per user, so a crash between the two steps is repaired by the
	// next call.
	if _, err := s.ApplyTransaction(ctx, model.TransactionRequest{
		UserID:         userID,
		Type:           model.TxTypeBonus,
		Amount:         s.signupBonus,
		Source:         model.SourceSignupBonus,
		IdempotencyKey: "signup_bonus:" + userID,
	}); err != nil {
		return nil, false, err
	}

	a, err = s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, false, classify(op, err)
	}
	if created {
		log.Info().Str("user_id", userID).Int64("bonus", s.signupBonus).Msg("Account opened")
	}
	return a, created, nil
}

// ReconcileReport compares the stored balance with the ledger.
type ReconcileReport struct {
	UserID     string `json:"user_id"`
	Balance    int64  `json:"balance"`
	LedgerSum  int64  `json:"ledger_sum"`
	Drift      int64  `json:"drift"`
	Consistent bool   `json:"consistent"`
}

// Reconcile checks that the balance equals the sum of completed transactions.
func (s *LedgerService) Reconcile(ctx context.Context, userID string) (*ReconcileReport, error) {
	const op = "ledger.Reconcile"
	a, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, classify(op, err)
	}
	sum, err := s.store.SumCompleted(ctx, userID)
	if err != nil {
		return nil, classify(op, err)
	}

	r := &ReconcileReport{
		UserID:     userID,
		Balance:    a.Balance,
		LedgerSum:  sum,
		Drift:      a.Balance - sum,
		Consistent: a.Balance == sum,
	}
	if !r.Consistent {
		log.Warn().
			Str("user_id", userID).
			Int64("balance", a.Balance).
			Int64("ledger_sum", sum).
			Msg("Balance drift detected")
	}
	return r, nil
}

// Leaderboard returns the day's net prediction results. Winners are users
// in profit ordered by profit; losers are users in loss, biggest loss first.
type Leaderboard struct {
	Day     string             `json:"day"`
	Winners []*model.DailyRank `json:"winners"`
	Losers  []*model.DailyRank `json:"losers"`
}

// DailyLeaderboard builds the leaderboard for the day containing day.
func (s *LedgerService) DailyLeaderboard(ctx context.Context, day time.Time, limit int) (*Leaderboard, error) {
	const op = "ledger.DailyLeaderboard"
	if limit < 1 || limit > maxPageSize {
		return nil, apperr.Validation(op, "limit must be between 1 and %d, got %d", maxPageSize, limit)
	}

	local := day.In(s.timezone)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.timezone)
	to := from.AddDate(0, 0, 1)

	ranks, err := s.store.DailyPredictionProfit(ctx, from, to)
	if err != nil {
		return nil, classify(op, err)
	}

	lb := &Leaderboard{Day: from.Format("2006-01-02"), Winners: []*model.DailyRank{}, Losers: []*model.DailyRank{}}
	for _, r := range ranks {
		if r.NetProfit > 0 && len(lb.Winners) < limit {
			lb.Winners = append(lb.Winners, r)
		}
	}
	for i := len(ranks) - 1; i >= 0; i-- {
		if ranks[i].NetProfit < 0 && len(lb.Losers) < limit {
			lb.Losers = append(lb.Losers, ranks[i])
		}
	}
	return lb, nil
}

// Today is DailyLeaderboard for the current day.
func (s *LedgerService) Today(ctx context.Context, limit int) (*Leaderboard, error) {
	return s.DailyLeaderboard(ctx, s.now(), limit)
}

// ReconcileOrphanedWagers refunds wager debits older than age whose
// prediction was never stored. It shares the compensation key used by
// PlaceWager, so a debit is refunded at most once.
func (s *LedgerService) ReconcileOrphanedWagers(ctx context.Context, age time.Duration, limit int) (int, error) {
	const op = "ledger.ReconcileOrphanedWagers"

	orphans, err := s.store.OrphanedWagerDebits(ctx, s.now().Add(-age), limit)
	if err != nil {
		return 0, classify(op, err)
	}

	refunded := 0
	for _, debit := range orphans {
		if debit.RelatedID == nil {
			continue
		}
		predictionID := *debit.RelatedID
		err := s.locker.WithLock(ctx, debit.UserID, func() error {
			// The wager may have completed while we waited for the lock.
			if _, err := s.store.GetPrediction(ctx, predictionID); err == nil {
				return nil
			} else if !errors.Is(err, repository.ErrPredictionNotFound) {
				return err
			}
			_, err := s.ApplyTransaction(ctx, model.TransactionRequest{
				UserID:         debit.UserID,
				Type:           model.TxTypeRefund,
				Amount:         debit.Amount,
				Source:         model.SourceReconcileRefund,
				RelatedID:      predictionID,
				IdempotencyKey: wagerRefundKey(predictionID),
			})
			if err == nil {
				refunded++
			}
			return err
		})
		if err != nil {
			log.Error().Err(err).
				Str("user_id", debit.UserID).
				Str("prediction_id", predictionID).
				Msg("Failed to refund orphaned wager")
			continue
		}
	}

	if refunded > 0 {
		metrics.OrphanRefunds.Add(float64(refunded))
		log.Info().Int("refunded", refunded).Msg("Orphaned wagers refunded")
	}
	return refunded, nil
}

// refundedEarlier reports whether the prediction's stake was already given
// back by an interrupted cancellation.
func refundedEarlier(ctx context.Context, store repository.Store, predictionID string) (bool, error) {
	_, err := store.GetTransactionByKey(ctx, refundKey(predictionID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrTransactionNotFound):
		return false, nil
	default:
		return false, err
	}
}

func wagerDebitKey(predictionID string) string  { return "prediction_wager:" + predictionID }
func wagerRefundKey(predictionID string) string { return "wager_refund:" + predictionID }
func winKey(predictionID string) string         { return "prediction_win:" + predictionID }
func refundKey(predictionID string) string      { return "prediction_refund:" + predictionID }
