package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"credit-engine/internal/apperr"
	"credit-engine/internal/metrics"
	"credit-engine/internal/model"
	"credit-engine/internal/payout"
	"credit-engine/internal/pkg/lock"
	"credit-engine/internal/repository"
)

// WagerRequest is a user's bet on a match outcome.
type WagerRequest struct {
	UserID       string           `json:"user_id"`
	MatchID      string           `json:"match_id"`
	Outcome      model.Outcome    `json:"outcome"`
	Confidence   model.Confidence `json:"confidence"`
	CoinsWagered int64            `json:"coins_wagered"`
}

// WagerService places and cancels predictions.
type WagerService struct {
	store    repository.Store
	ledger   *LedgerService
	locker   lock.Locker
	minWager int64
	maxWager int64
	now      func() time.Time
}

// NewWagerService creates a new WagerService instance.
func NewWagerService(store repository.Store, ledger *LedgerService, locker lock.Locker, minWager, maxWager int64) *WagerService {
	return &WagerService{
		store:    store,
		ledger:   ledger,
		locker:   locker,
		minWager: minWager,
		maxWager: maxWager,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for the deadline check.
func (s *WagerService) SetClock(now func() time.Time) {
	s.now = now
}

// PlaceWager debits the stake and records a pending prediction. If the
// prediction cannot be stored after the debit, the stake is refunded.
func (s *WagerService) PlaceWager(ctx context.Context, req WagerRequest) (*model.Prediction, error) {
	p, err := s.placeWager(ctx, req)
	if err != nil {
		metrics.WagerRejections.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}
	metrics.WagersPlaced.WithLabelValues(string(p.Confidence)).Inc()
	return p, nil
}

func (s *WagerService) placeWager(ctx context.Context, req WagerRequest) (*model.Prediction, error) {
	const op = "wager.PlaceWager"

	odds, err := s.validate(op, req)
	if err != nil {
		return nil, err
	}

	var placed *model.Prediction
	err = s.locker.WithLock(ctx, req.UserID, func() error {
		m, err := s.store.GetMatch(ctx, req.MatchID)
		if err != nil {
			return classify(op, err)
		}
		if !m.AcceptsWagers(s.now()) {
			return apperr.Validation(op, "match closed")
		}

		if _, err := s.store.FindPending(ctx, req.UserID, req.MatchID); err == nil {
			return apperr.New(apperr.KindDuplicateWager, op, "pending prediction already exists for match %s", req.MatchID)
		} else if !errors.Is(err, repository.ErrPredictionNotFound) {
			return classify(op, err)
		}

		account, err := s.store.GetAccount(ctx, req.UserID)
		if err != nil {
			return classify(op, err)
		}
		if account.Balance < req.CoinsWagered {
			return apperr.New(apperr.KindInsufficientBalance, op, "balance %d is below stake %d", account.Balance, req.CoinsWagered)
		}

		p := &model.Prediction{
			ID:              uuid.NewString(),
			UserID:          req.UserID,
			MatchID:         req.MatchID,
			Outcome:         req.Outcome,
			Confidence:      req.Confidence,
			CoinsWagered:    req.CoinsWagered,
			Odds:            odds,
			PotentialReturn: payout.PotentialReturn(req.CoinsWagered, odds),
			Status:          model.PredictionPending,
			CreatedAt:       s.now(),
		}

		if _, err := s.ledger.ApplyTransaction(ctx, model.TransactionRequest{
			UserID:         p.UserID,
			Type:           model.TxTypeSpend,
			Amount:         p.CoinsWagered,
			Source:         model.SourcePredictionWager,
			RelatedID:      p.ID,
			IdempotencyKey: wagerDebitKey(p.ID),
		}); err != nil {
			return err
		}

		if err := s.store.InsertPrediction(ctx, p); err != nil {
			s.compensate(ctx, p, err)
			return classify(op, err)
		}
		placed = p
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}

	log.Info().
		Str("user_id", placed.UserID).
		Str("match_id", placed.MatchID).
		Str("prediction_id", placed.ID).
		Str("outcome", string(placed.Outcome)).
		Int64("stake", placed.CoinsWagered).
		Msg("Wager placed")
	return placed, nil
}

func (s *WagerService) validate(op string, req WagerRequest) (odds decimal.Decimal, err error) {
	switch {
	case req.UserID == "":
		return odds, apperr.Validation(op, "user id is required")
	case req.MatchID == "":
		return odds, apperr.Validation(op, "match id is required")
	case !req.Outcome.Valid():
		return odds, apperr.Validation(op, "unknown outcome %q", req.Outcome)
	case req.CoinsWagered < s.minWager || req.CoinsWagered > s.maxWager:
		return odds, apperr.Validation(op, "stake must be between %d and %d, got %d", s.minWager, s.maxWager, req.CoinsWagered)
	}
	m, ok := req.Confidence.Multiplier()
	if !ok {
		return odds, apperr.Validation(op, "unknown confidence %q", req.Confidence)
	}
	return m, nil
}

// compensate refunds a debit whose prediction could not be stored. A
// failed refund is left to ReconcileOrphanedWagers.
func (s *WagerService) compensate(ctx context.Context, p *model.Prediction, cause error) {
	_, err := s.ledger.ApplyTransaction(ctx, model.TransactionRequest{
		UserID:         p.UserID,
		Type:           model.TxTypeRefund,
		Amount:         p.CoinsWagered,
		Source:         model.SourcePredictionRefund,
		RelatedID:      p.ID,
		IdempotencyKey: wagerRefundKey(p.ID),
	})
	if err != nil {
		log.Error().Err(err).
			AnErr("cause", cause).
			Str("user_id", p.UserID).
			Str("prediction_id", p.ID).
			Msg("Wager compensation failed, left for reconciliation")
		return
	}
	log.Warn().Err(cause).
		Str("user_id", p.UserID).
		Str("prediction_id", p.ID).
		Msg("Wager rolled back")
}

// CancelWager withdraws the user's own pending prediction before the match
// deadline and refunds the stake.
func (s *WagerService) CancelWager(ctx context.Context, userID, predictionID string) (*model.Prediction, error) {
	const op = "wager.CancelWager"
	if userID == "" || predictionID == "" {
		return nil, apperr.Validation(op, "user id and prediction id are required")
	}

	var cancelled *model.Prediction
	err := s.locker.WithLock(ctx, userID, func() error {
		p, err := s.store.GetPrediction(ctx, predictionID)
		if err != nil {
			return classify(op, err)
		}
		if p.UserID != userID {
			return apperr.NotFound(op, "prediction", predictionID)
		}
		if p.Status != model.PredictionPending {
			return apperr.Validation(op, "prediction is already %s", p.Status)
		}
		// A retry after a failed status update may run past the deadline;
		// the refund is already booked, so only the status is left.
		refunded, err := refundedEarlier(ctx, s.store, p.ID)
		if err != nil {
			return classify(op, err)
		}
		if !refunded {
			m, err := s.store.GetMatch(ctx, p.MatchID)
			if err != nil {
				return classify(op, err)
			}
			if !m.AcceptsWagers(s.now()) {
				return apperr.Validation(op, "match closed")
			}
		}

		if _, err := s.ledger.ApplyTransaction(ctx, model.TransactionRequest{
			UserID:         userID,
			Type:           model.TxTypeRefund,
			Amount:         p.CoinsWagered,
			Source:         model.SourcePredictionRefund,
			RelatedID:      p.ID,
			IdempotencyKey: refundKey(p.ID),
		}); err != nil {
			return err
		}

		now := s.now()
		if _, err := s.store.ResolvePrediction(ctx, model.Resolution{
			PredictionID: p.ID,
			UserID:       userID,
			Status:       model.PredictionCancelled,
			ResolvedAt:   now,
		}); err != nil {
			return classify(op, err)
		}
		p.Status = model.PredictionCancelled
		p.ResolvedAt = &now
		cancelled = p
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}

	log.Info().Str("user_id", userID).Str("prediction_id", predictionID).Msg("Wager cancelled")
	return cancelled, nil
}

// ListUserPredictions returns a page of the user's predictions, newest first.
func (s *WagerService) ListUserPredictions(ctx context.Context, userID string, page, limit int) ([]*model.Prediction, error) {
	const op = "wager.ListUserPredictions"
	offset, err := pageBounds(op, page, limit)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, classify(op, err)
	}
	if out == nil {
		out = []*model.Prediction{}
	}
	return out, nil
}

// PredictionStats summarizes a user's settled predictions.
type PredictionStats struct {
	Total         int     `json:"total"`
	Won           int     `json:"won"`
	Lost          int     `json:"lost"`
	Pending       int     `json:"pending"`
	WinRate       float64 `json:"win_rate"`
	CurrentStreak int     `json:"current_streak"`
	LongestStreak int     `json:"longest_streak"`
}

// Stats scans the user's predictions and streak.
func (s *WagerService) Stats(ctx context.Context, userID string) (*PredictionStats, error) {
	const op = "wager.Stats"
	st := &PredictionStats{}
	for offset := 0; ; offset += maxPageSize {
		batch, err := s.store.ListByUser(ctx, userID, offset, maxPageSize)
		if err != nil {
			return nil, classify(op, err)
		}
		for _, p := range batch {
			switch p.Status {
			case model.PredictionWon:
				st.Won++
			case model.PredictionLost:
				st.Lost++
			case model.PredictionPending:
				st.Pending++
			}
		}
		if len(batch) < maxPageSize {
			break
		}
	}
	st.Total = st.Won + st.Lost
	st.WinRate = payout.WinRate(st.Won, st.Total)

	streak, err := s.store.GetStreak(ctx, userID)
	if err != nil {
		return nil, classify(op, err)
	}
	st.CurrentStreak = streak.CurrentStreak
	st.LongestStreak = streak.LongestStreak
	return st, nil
}
