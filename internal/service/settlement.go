package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"credit-engine/internal/apperr"
	"credit-engine/internal/metrics"
	"credit-engine/internal/model"
	"credit-engine/internal/notify"
	"credit-engine/internal/payout"
	"credit-engine/internal/pkg/lock"
	"credit-engine/internal/repository"
)

// RetryPolicy bounds the exponential backoff around one match settlement.
// Zero fields keep the backoff package defaults.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.MaxElapsedTime > 0 {
		eb.MaxElapsedTime = p.MaxElapsedTime
	}
	var b backoff.BackOff = eb
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// SettlementReport is the outcome of one SettleMatch call.
type SettlementReport struct {
	MatchID         string            `json:"match_id"`
	Status          model.MatchStatus `json:"status"`
	Won             int               `json:"won"`
	Lost            int               `json:"lost"`
	Refunded        int               `json:"refunded"`
	Failed          int               `json:"failed"`
	CoinsPaid       int64             `json:"coins_paid"`
	Resolved        bool              `json:"resolved"`
	AlreadyResolved bool              `json:"already_resolved"`
}

// Settled is the number of predictions moved to a terminal state.
func (r *SettlementReport) Settled() int {
	return r.Won + r.Lost + r.Refunded
}

var errPartialSettlement = errors.New("some predictions failed to settle")

// SettlementService records match results and settles predictions.
type SettlementService struct {
	store       repository.Store
	ledger      *LedgerService
	locker      lock.Locker
	notifier    notify.Notifier
	concurrency int
	batchSize   int
	retry       RetryPolicy
	now         func() time.Time
}

// NewSettlementService creates a new SettlementService instance.
// concurrency bounds how many matches SettleDue works on at once.
func NewSettlementService(
	store repository.Store,
	ledger *LedgerService,
	locker lock.Locker,
	notifier notify.Notifier,
	concurrency, batchSize int,
	retry RetryPolicy,
) *SettlementService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &SettlementService{
		store:       store,
		ledger:      ledger,
		locker:      locker,
		notifier:    notifier,
		concurrency: max(concurrency, 1),
		batchSize:   max(batchSize, 1),
		retry:       retry,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *SettlementService) SetClock(now func() time.Time) {
	s.now = now
}

// UpsertMatch creates or updates a fixture. Completed and cancelled
// matches keep their status.
func (s *SettlementService) UpsertMatch(ctx context.Context, m *model.Match) error {
	const op = "settlement.UpsertMatch"
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = model.MatchScheduled
	}
	switch {
	case m.HomeTeam == "" || m.AwayTeam == "":
		return apperr.Validation(op, "home and away teams are required")
	case m.ScheduledAt.IsZero():
		return apperr.Validation(op, "scheduled_at is required")
	case m.Status != model.MatchScheduled && m.Status != model.MatchInProgress:
		return apperr.Validation(op, "status %q cannot be set directly", m.Status)
	}
	return classify(op, s.store.UpsertMatch(ctx, m))
}

// GetMatch returns a match by id.
func (s *SettlementService) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	m, err := s.store.GetMatch(ctx, id)
	if err != nil {
		return nil, classify("settlement.GetMatch", err)
	}
	return m, nil
}

// RecordResult marks the match completed with its result. Recording the
// same result twice is a no-op; a different result is rejected.
func (s *SettlementService) RecordResult(ctx context.Context, matchID string, result model.Outcome, completedAt time.Time) (*model.Match, error) {
	const op = "settlement.RecordResult"
	if !result.Valid() {
		return nil, apperr.Validation(op, "unknown outcome %q", result)
	}
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	m, err := s.store.CompleteMatch(ctx, matchID, result, completedAt)
	if err != nil {
		return nil, classify(op, err)
	}
	log.Info().Str("match_id", matchID).Str("result", string(result)).Msg("Match result recorded")
	return m, nil
}

// SettleMatch settles every pending prediction on a completed match, or
// refunds them on a cancelled one. Predictions that fail are logged and
// counted and leave the match unresolved for the next run. Calling it
// again after success is a no-op.
func (s *SettlementService) SettleMatch(ctx context.Context, matchID string) (*SettlementReport, error) {
	const op = "settlement.SettleMatch"
	start := time.Now()

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, classify(op, err)
	}
	report := &SettlementReport{MatchID: m.ID, Status: m.Status}
	if m.PredictionsResolved {
		report.Resolved = true
		report.AlreadyResolved = true
		return report, nil
	}

	switch m.Status {
	case model.MatchCompleted:
		if m.Result == nil {
			return nil, apperr.Validation(op, "match %s has no result", matchID)
		}
	case model.MatchCancelled:
	default:
		return nil, apperr.Validation(op, "match %s is %s, not completed", matchID, m.Status)
	}

	pending, err := s.store.ListPendingByMatch(ctx, m.ID)
	if err != nil {
		return nil, classify(op, err)
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		status, paid, err := s.settleOne(ctx, m, p)
		if err != nil {
			report.Failed++
			metrics.SettlementFailures.Inc()
			log.Error().Err(err).
				Str("match_id", m.ID).
				Str("prediction_id", p.ID).
				Str("user_id", p.UserID).
				Msg("Failed to settle prediction")
			continue
		}
		switch status {
		case model.PredictionWon:
			report.Won++
		case model.PredictionLost:
			report.Lost++
		case model.PredictionRefunded, model.PredictionCancelled:
			report.Refunded++
		}
		report.CoinsPaid += paid
	}

	if report.Failed == 0 {
		if err := s.store.MarkResolved(ctx, m.ID); err != nil {
			return report, classify(op, err)
		}
		report.Resolved = true
	}
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())

	log.Info().
		Str("match_id", m.ID).
		Str("status", string(m.Status)).
		Int("won", report.Won).
		Int("lost", report.Lost).
		Int("refunded", report.Refunded).
		Int("failed", report.Failed).
		Int64("coins_paid", report.CoinsPaid).
		Msg("Match settled")
	return report, nil
}

// settleOne settles a single prediction under its owner's lock. A
// prediction already settled by a concurrent run is skipped.
func (s *SettlementService) settleOne(ctx context.Context, m *model.Match, p *model.Prediction) (model.PredictionStatus, int64, error) {
	var (
		status model.PredictionStatus
		paid   int64
	)
	err := s.locker.WithLock(ctx, p.UserID, func() error {
		current, err := s.store.GetPrediction(ctx, p.ID)
		if err != nil {
			return err
		}
		if current.Status != model.PredictionPending {
			return nil
		}

		refunded, err := refundedEarlier(ctx, s.store, p.ID)
		if err != nil {
			return err
		}

		res := model.Resolution{PredictionID: p.ID, UserID: p.UserID, ResolvedAt: s.now()}
		var amount int64
		switch {
		case refunded && m.Status != model.MatchCancelled:
			// A wager cancellation refunded the stake but never recorded
			// the status. Finish it instead of paying out.
			res.Status = model.PredictionCancelled

		case m.Status == model.MatchCancelled:
			tx, err := s.ledger.ApplyTransaction(ctx, model.TransactionRequest{
				UserID:         p.UserID,
				Type:           model.TxTypeRefund,
				Amount:         p.CoinsWagered,
				Source:         model.SourcePredictionRefund,
				RelatedID:      p.ID,
				IdempotencyKey: refundKey(p.ID),
			})
			if err != nil {
				return err
			}
			res.Status = model.PredictionRefunded
			amount = tx.Amount

		case p.Outcome == *m.Result:
			streak, err := s.store.GetStreak(ctx, p.UserID)
			if err != nil {
				return err
			}
			reward := payout.Reward(p.CoinsWagered, p.Confidence, streak.CurrentStreak)
			if reward <= 0 {
				return fmt.Errorf("prediction %s has unknown confidence %q", p.ID, p.Confidence)
			}
			// On a retry the key replays the first credit, so the stored
			// amount is what the prediction records.
			tx, err := s.ledger.ApplyTransaction(ctx, model.TransactionRequest{
				UserID:         p.UserID,
				Type:           model.TxTypeEarn,
				Amount:         reward,
				Source:         model.SourcePredictionWin,
				RelatedID:      p.ID,
				IdempotencyKey: winKey(p.ID),
			})
			if err != nil {
				return err
			}
			res.Status = model.PredictionWon
			res.ActualOutcome = m.Result
			res.CoinsWon = tx.Amount
			amount = tx.Amount
			paid = tx.Amount

		default:
			res.Status = model.PredictionLost
			res.ActualOutcome = m.Result
		}

		if _, err := s.store.ResolvePrediction(ctx, res); err != nil {
			if errors.Is(err, repository.ErrAlreadyResolved) {
				paid = 0
				return nil
			}
			return err
		}
		status = res.Status

		metrics.PredictionsSettled.WithLabelValues(string(status)).Inc()
		if paid > 0 {
			metrics.CoinsPaid.Add(float64(paid))
		}
		s.notifier.Publish(notify.Event{
			Type:         notify.EventPredictionSettled,
			UserID:       p.UserID,
			MatchID:      m.ID,
			PredictionID: p.ID,
			Status:       string(status),
			Amount:       amount,
			Time:         res.ResolvedAt.Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		return "", 0, classify("settlement.settleOne", err)
	}
	return status, paid, nil
}

// CancelMatch cancels a match that has not completed and refunds every
// pending prediction. The streak is left untouched. Cancelling again
// retries any refunds that failed.
func (s *SettlementService) CancelMatch(ctx context.Context, matchID string) (*SettlementReport, error) {
	const op = "settlement.CancelMatch"
	m, err := s.store.CancelMatch(ctx, matchID)
	if err != nil {
		return nil, classify(op, err)
	}
	s.notifier.Publish(notify.Event{
		Type:    notify.EventMatchCancelled,
		MatchID: m.ID,
		Status:  string(m.Status),
		Time:    s.now().Format(time.RFC3339),
	})
	log.Info().Str("match_id", matchID).Msg("Match cancelled")
	return s.SettleMatch(ctx, matchID)
}

// settleWithRetry runs SettleMatch under the retry policy. Validation and
// not-found errors stop immediately.
func (s *SettlementService) settleWithRetry(ctx context.Context, matchID string) (*SettlementReport, error) {
	var report *SettlementReport
	operation := func() error {
		r, err := s.SettleMatch(ctx, matchID)
		if err != nil {
			if !apperr.IsRetriable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		report = r
		if r.Failed > 0 {
			return errPartialSettlement
		}
		return nil
	}

	err := backoff.RetryNotify(operation, s.retry.backOff(ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("match_id", matchID).Dur("retry_in", wait).Msg("Retrying settlement")
	})
	return report, err
}

// SettleDue settles every completed or cancelled match that still has
// unresolved predictions, oldest completion first, working on at most
// concurrency matches at once. One match failing does not stop the others.
func (s *SettlementService) SettleDue(ctx context.Context) ([]*SettlementReport, error) {
	const op = "settlement.SettleDue"
	due, err := s.store.ListUnresolved(ctx, s.batchSize)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(due) == 0 {
		return nil, nil
	}

	reports := make([]*SettlementReport, len(due))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, m := range due {
		eg.Go(func() error {
			r, err := s.settleWithRetry(egCtx, m.ID)
			if err != nil {
				log.Error().Err(err).Str("match_id", m.ID).Msg("Settlement gave up for this run")
			}
			reports[i] = r
			return nil
		})
	}
	_ = eg.Wait()

	out := reports[:0]
	for _, r := range reports {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, ctx.Err()
}
