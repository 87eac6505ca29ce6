// Package model defines the data models for the credit engine.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the per-user balance projection over completed ledger transactions.
type Account struct {
	UserID        string    `db:"user_id" json:"user_id"`
	Balance       int64     `db:"balance" json:"balance"`
	LockedCredits int64     `db:"locked_credits" json:"locked_credits"`
	Version       int64     `db:"version" json:"version"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// TxType classifies the direction of a ledger transaction.
type TxType string

// Ledger transaction types. Only spend debits the balance.
const (
	TxTypeEarn       TxType = "earn"
	TxTypeSpend      TxType = "spend"
	TxTypeRefund     TxType = "refund"
	TxTypeBonus      TxType = "bonus"
	TxTypeAdjustment TxType = "adjustment"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxTypeEarn, TxTypeSpend, TxTypeRefund, TxTypeBonus, TxTypeAdjustment:
		return true
	}
	return false
}

// IsDebit reports whether applying t subtracts from the balance.
func (t TxType) IsDebit() bool {
	return t == TxTypeSpend
}

// Signed returns amount with the sign it has on the balance.
func (t TxType) Signed(amount int64) int64 {
	if t.IsDebit() {
		return -amount
	}
	return amount
}

// TxStatus is the lifecycle state of a ledger transaction.
type TxStatus string

const (
	TxStatusCompleted TxStatus = "completed"
	TxStatusPending   TxStatus = "pending"
	TxStatusFailed    TxStatus = "failed"
	TxStatusRefunded  TxStatus = "refunded"
)

// Transaction sources.
const (
	SourcePredictionWager  = "prediction_wager"
	SourcePredictionWin    = "prediction_win"
	SourcePredictionRefund = "prediction_refund"
	SourceBadgeUnlock      = "badge_unlock"
	SourceContentApproved  = "content_approved"
	SourceSignupBonus      = "signup_bonus"
	SourceAdminGrant       = "admin_grant"
	SourceReconcileRefund  = "reconcile_refund"
)

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id"`
	Type           TxType    `db:"type" json:"type"`
	Amount         int64     `db:"amount" json:"amount"`
	BalanceAfter   int64     `db:"balance_after" json:"balance_after"`
	Source         string    `db:"source" json:"source"`
	RelatedID      *string   `db:"related_id" json:"related_id,omitempty"`
	Status         TxStatus  `db:"status" json:"status"`
	IdempotencyKey *string   `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// TransactionRequest describes a balance change to apply.
type TransactionRequest struct {
	UserID         string
	Type           TxType
	Amount         int64
	Source         string
	RelatedID      string
	IdempotencyKey string
}

// Outcome is a match result a prediction can pick.
type Outcome string

const (
	OutcomeHomeWin Outcome = "home_win"
	OutcomeDraw    Outcome = "draw"
	OutcomeAwayWin Outcome = "away_win"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeHomeWin || o == OutcomeDraw || o == OutcomeAwayWin
}

// Confidence is the stake multiplier tier chosen by the user.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

var confidenceMultipliers = map[Confidence]decimal.Decimal{
	ConfidenceLow:    decimal.RequireFromString("1.5"),
	ConfidenceMedium: decimal.RequireFromString("2.0"),
	ConfidenceHigh:   decimal.RequireFromString("3.0"),
}

// Multiplier returns the fixed payout multiplier for c.
func (c Confidence) Multiplier() (decimal.Decimal, bool) {
	m, ok := confidenceMultipliers[c]
	return m, ok
}

// PredictionStatus is the lifecycle state of a prediction.
type PredictionStatus string

const (
	PredictionPending   PredictionStatus = "pending"
	PredictionWon       PredictionStatus = "won"
	PredictionLost      PredictionStatus = "lost"
	PredictionRefunded  PredictionStatus = "refunded"
	PredictionCancelled PredictionStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s PredictionStatus) Terminal() bool {
	return s != PredictionPending
}

// Prediction is one wager on a match outcome.
type Prediction struct {
	ID              string           `db:"id" json:"id"`
	UserID          string           `db:"user_id" json:"user_id"`
	MatchID         string           `db:"match_id" json:"match_id"`
	Outcome         Outcome          `db:"outcome" json:"outcome"`
	Confidence      Confidence       `db:"confidence" json:"confidence"`
	CoinsWagered    int64            `db:"coins_wagered" json:"coins_wagered"`
	Odds            decimal.Decimal  `db:"odds" json:"odds"`
	PotentialReturn int64            `db:"potential_return" json:"potential_return"`
	Status          PredictionStatus `db:"status" json:"status"`
	ActualOutcome   *Outcome         `db:"actual_outcome" json:"actual_outcome,omitempty"`
	CoinsWon        int64            `db:"coins_won" json:"coins_won"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	ResolvedAt      *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
}

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

const (
	MatchScheduled  MatchStatus = "scheduled"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
	MatchCancelled  MatchStatus = "cancelled"
)

// Valid reports whether s is a known match status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchScheduled, MatchInProgress, MatchCompleted, MatchCancelled:
		return true
	}
	return false
}

// Match is a fixture predictions are placed against. ScheduledAt doubles as
// the prediction deadline.
type Match struct {
	ID                  string      `db:"id" json:"id"`
	HomeTeam            string      `db:"home_team" json:"home_team"`
	AwayTeam            string      `db:"away_team" json:"away_team"`
	Status              MatchStatus `db:"status" json:"status"`
	Result              *Outcome    `db:"result" json:"result,omitempty"`
	ScheduledAt         time.Time   `db:"scheduled_at" json:"scheduled_at"`
	CompletedAt         *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	PredictionsResolved bool        `db:"predictions_resolved" json:"predictions_resolved"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updated_at"`
}

// AcceptsWagers reports whether a wager may still be placed at now.
func (m *Match) AcceptsWagers(now time.Time) bool {
	return m.Status == MatchScheduled && now.Before(m.ScheduledAt)
}

// StreakState tracks consecutive correct predictions for a user.
type StreakState struct {
	UserID         string     `db:"user_id" json:"user_id"`
	CurrentStreak  int        `db:"current_streak" json:"current_streak"`
	LongestStreak  int        `db:"longest_streak" json:"longest_streak"`
	LastResolvedAt *time.Time `db:"last_resolved_at" json:"last_resolved_at,omitempty"`
}

// Resolution is the terminal transition applied to a pending prediction.
type Resolution struct {
	PredictionID  string
	UserID        string
	Status        PredictionStatus
	ActualOutcome *Outcome
	CoinsWon      int64
	ResolvedAt    time.Time
}

// UserBadge records a badge already awarded to a user.
type UserBadge struct {
	UserID     string    `db:"user_id" json:"user_id"`
	BadgeID    string    `db:"badge_id" json:"badge_id"`
	Reward     int64     `db:"reward" json:"reward"`
	UnlockedAt time.Time `db:"unlocked_at" json:"unlocked_at"`
}

// Strike is a moderation violation recorded against a user.
type Strike struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	ContentID string    `db:"content_id" json:"content_id"`
	Severity  string    `db:"severity" json:"severity"`
	Reason    string    `db:"reason" json:"reason"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DailyRank is a user's net prediction result for one day.
type DailyRank struct {
	UserID    string `db:"user_id" json:"user_id"`
	NetProfit int64  `db:"net_profit" json:"net_profit"`
}

// PredictionSources are the ledger sources counted towards prediction rankings.
func PredictionSources() []string {
	return []string{SourcePredictionWager, SourcePredictionWin, SourcePredictionRefund}
}
