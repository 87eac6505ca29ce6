package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"credit-engine/internal/apperr"
	"credit-engine/internal/badge"
	"credit-engine/internal/metrics"
	"credit-engine/internal/model"
	"credit-engine/internal/notify"
	"credit-engine/internal/repository"
)

// AwardResult lists the badges granted by one Award call.
type AwardResult struct {
	Unlocked []badge.Definition `json:"unlocked"`
	Credited int64              `json:"credited"`
}

// AchievementService grants badges and their rewards.
type AchievementService struct {
	store    repository.Store
	ledger   *LedgerService
	badges   *badge.Engine
	notifier notify.Notifier
	now      func() time.Time
}

// NewAchievementService creates a new AchievementService instance.
func NewAchievementService(store repository.Store, ledger *LedgerService, badges *badge.Engine, notifier notify.Notifier) *AchievementService {
	if badges == nil {
		badges = badge.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &AchievementService{
		store:    store,
		ledger:   ledger,
		badges:   badges,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for unlock times.
func (s *AchievementService) SetClock(now func() time.Time) {
	s.now = now
}

// Badges returns the badge engine.
func (s *AchievementService) Badges() *badge.Engine {
	return s.badges
}

// Award evaluates stats and grants every badge the user qualifies for but
// does not own yet. Each badge is credited exactly once, keyed by user and
// badge, so Award can be retried after a partial failure.
func (s *AchievementService) Award(ctx context.Context, userID string, stats badge.Stats) (*AwardResult, error) {
	const op = "achievement.Award"
	if userID == "" {
		return nil, apperr.Validation(op, "user id is required")
	}
	stats.UserID = userID

	earned, err := s.badges.Evaluate(stats)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetAccount(ctx, userID); err != nil {
		return nil, classify(op, err)
	}
	owned, err := s.store.ListUserBadges(ctx, userID)
	if err != nil {
		return nil, classify(op, err)
	}
	have := make(map[string]bool, len(owned))
	for _, b := range owned {
		have[b.BadgeID] = true
	}

	result := &AwardResult{Unlocked: []badge.Definition{}}
	for _, d := range earned {
		if have[d.ID] {
			continue
		}
		reward := d.Reward()
		// Credit before recording: a crash in between is repaired by the
		// next call, where the credit replays and the badge is recorded.
		if reward > 0 {
			if _, err := s.ledger.ApplyTransaction(ctx, model.TransactionRequest{
				UserID:         userID,
				Type:           model.TxTypeBonus,
				Amount:         reward,
				Source:         model.SourceBadgeUnlock,
				RelatedID:      d.ID,
				IdempotencyKey: badgeKey(userID, d.ID),
			}); err != nil {
				return result, err
			}
		}

		now := s.now()
		inserted, err := s.store.InsertUserBadge(ctx, &model.UserBadge{
			UserID:     userID,
			BadgeID:    d.ID,
			Reward:     reward,
			UnlockedAt: now,
		})
		if err != nil {
			return result, classify(op, err)
		}
		if !inserted {
			continue
		}

		result.Unlocked = append(result.Unlocked, d)
		result.Credited += reward
		metrics.BadgesAwarded.WithLabelValues(string(d.Rarity)).Inc()
		s.notifier.Publish(notify.Event{
			Type:    notify.EventBadgeUnlocked,
			UserID:  userID,
			BadgeID: d.ID,
			Amount:  reward,
			Time:    now.Format(time.RFC3339),
		})
		log.Info().Str("user_id", userID).Str("badge", d.ID).Int64("reward", reward).Msg("Badge unlocked")
	}
	return result, nil
}

// ListBadges returns the badges a user owns.
func (s *AchievementService) ListBadges(ctx context.Context, userID string) ([]*model.UserBadge, error) {
	out, err := s.store.ListUserBadges(ctx, userID)
	if err != nil {
		return nil, classify("achievement.ListBadges", err)
	}
	if out == nil {
		out = []*model.UserBadge{}
	}
	return out, nil
}

func badgeKey(userID, badgeID string) string {
	return "badge_unlock:" + userID + ":" + badgeID
}
