package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"credit-engine/internal/apperr"
	"credit-engine/internal/badge"
	"credit-engine/internal/model"
	"credit-engine/internal/moderation"
	"credit-engine/internal/repository"
	"credit-engine/internal/reputation"
)

// ReviewResult is the outcome of moderating one post.
type ReviewResult struct {
	Verdict *moderation.Verdict `json:"verdict"`
	Strike  *model.Strike       `json:"strike,omitempty"`
	Reward  int64               `json:"reward"`
	Badges  *AwardResult        `json:"badges,omitempty"`
}

// ContentReviewService moderates posts and applies the consequences:
// strikes for removed content, a reward for approved content.
type ContentReviewService struct {
	store          repository.Store
	ledger         *LedgerService
	gate           *moderation.Gate
	achievements   *AchievementService
	approvalReward int64
	now            func() time.Time
}

// NewContentReviewService creates a new ContentReviewService instance.
func NewContentReviewService(
	store repository.Store,
	ledger *LedgerService,
	gate *moderation.Gate,
	achievements *AchievementService,
	approvalReward int64,
) *ContentReviewService {
	return &ContentReviewService{
		store:          store,
		ledger:         ledger,
		gate:           gate,
		achievements:   achievements,
		approvalReward: approvalReward,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for strike expiry.
func (s *ContentReviewService) SetClock(now func() time.Time) {
	s.now = now
}

// Review moderates content written by userID. A removed post records one
// strike per content id however often it is reviewed; an approved post
// earns the approval reward once per content id.
// When stats is given, badges are re-evaluated with the user's active
// strike count as the violation total.
func (s *ContentReviewService) Review(ctx context.Context, userID string, c moderation.Content, stats *badge.Stats) (*ReviewResult, error) {
	const op = "content.Review"
	if userID == "" || c.ID == "" {
		return nil, apperr.Validation(op, "user id and content id are required")
	}

	verdict, err := s.gate.Evaluate(ctx, c)
	if err != nil {
		return nil, err
	}
	result := &ReviewResult{Verdict: verdict}

	switch verdict.Action {
	case moderation.ActionRemove:
		strike, err := s.recordStrike(ctx, userID, c.ID, verdict)
		if err != nil {
			return nil, err
		}
		result.Strike = strike

	case moderation.ActionApprove:
		if s.approvalReward > 0 {
			tx, err := s.ledger.ApplyTransaction(ctx, model.TransactionRequest{
				UserID:         userID,
				Type:           model.TxTypeEarn,
				Amount:         s.approvalReward,
				Source:         model.SourceContentApproved,
				RelatedID:      c.ID,
				IdempotencyKey: approvalKey(userID, c.ID),
			})
			if err != nil {
				return nil, err
			}
			result.Reward = tx.Amount
		}
	}

	if stats != nil && s.achievements != nil {
		active, err := s.store.CountActiveStrikes(ctx, userID, s.now())
		if err != nil {
			return nil, classify(op, err)
		}
		st := *stats
		st.Violations = active
		awarded, err := s.achievements.Award(ctx, userID, st)
		if err != nil {
			return nil, err
		}
		result.Badges = awarded
	}

	log.Info().
		Str("user_id", userID).
		Str("content_id", c.ID).
		Str("action", string(verdict.Action)).
		Int("risk_score", verdict.RiskScore).
		Msg("Content reviewed")
	return result, nil
}

func (s *ContentReviewService) recordStrike(ctx context.Context, userID, contentID string, v *moderation.Verdict) (*model.Strike, error) {
	const op = "content.recordStrike"
	severity := strikeSeverity(v.Violations)
	now := s.now()
	expires, err := reputation.StrikeExpiry(now, severity)
	if err != nil {
		return nil, err
	}

	strike := &model.Strike{
		ID:        uuid.NewString(),
		UserID:    userID,
		ContentID: contentID,
		Severity:  severity,
		Reason:    v.Summary,
		ExpiresAt: expires,
		CreatedAt: now,
	}
	stored, created, err := s.store.InsertStrike(ctx, strike)
	if err != nil {
		return nil, classify(op, err)
	}
	if created {
		log.Warn().Str("user_id", userID).Str("content_id", contentID).Str("severity", severity).Msg("Strike recorded")
	}
	return stored, nil
}

func approvalKey(userID, contentID string) string {
	return "content_approved:" + userID + ":" + contentID
}

// strikeSeverity maps the worst violation onto a strike severity.
func strikeSeverity(violations []moderation.Violation) string {
	worst := reputation.SeverityMinor
	for _, v := range violations {
		switch v.Severity {
		case moderation.SeverityHigh:
			return reputation.SeveritySevere
		case moderation.SeverityMedium:
			worst = reputation.SeverityModerate
		}
	}
	return worst
}

// Strikes returns the user's strikes, newest first.
func (s *ContentReviewService) Strikes(ctx context.Context, userID string) ([]*model.Strike, error) {
	out, err := s.store.ListStrikes(ctx, userID)
	if err != nil {
		return nil, classify("content.Strikes", err)
	}
	if out == nil {
		out = []*model.Strike{}
	}
	return out, nil
}

// ActiveStrikes counts the user's unexpired strikes.
func (s *ContentReviewService) ActiveStrikes(ctx context.Context, userID string) (int, error) {
	n, err := s.store.CountActiveStrikes(ctx, userID, s.now())
	if err != nil {
		return 0, classify("content.ActiveStrikes", err)
	}
	return n, nil
}
