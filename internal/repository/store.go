// Package repository provides the persistence layer: a Postgres
// implementation (source of truth) and an in-memory one for tests and
// single-process runs.
package repository

import (
	"context"
	"errors"
	"time"

	"credit-engine/internal/model"
)

// Common errors for repository operations.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMatchNotFound       = errors.New("match not found")
	ErrMatchFinalized      = errors.New("match already finalized")
	ErrPredictionNotFound  = errors.New("prediction not found")
	ErrDuplicatePending    = errors.New("pending prediction already exists for user and match")
	ErrAlreadyResolved     = errors.New("prediction already resolved")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// LedgerStore owns account balances and the append-only transaction log.
type LedgerStore interface {
	// CreateAccount opens a zero-balance account. Returns the account and
	// whether it was created by this call.
	CreateAccount(ctx context.Context, userID string) (*model.Account, bool, error)

	// GetAccount returns ErrAccountNotFound for unknown users.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// ApplyTransaction updates the balance and appends the transaction as one
	// atomic unit. A debit that would go negative fails with
	// ErrInsufficientBalance and records nothing. If req.IdempotencyKey was
	// already applied the stored transaction is returned with replayed=true.
	ApplyTransaction(ctx context.Context, req model.TransactionRequest) (tx *model.Transaction, replayed bool, err error)

	// GetTransactionByKey returns the transaction recorded under an
	// idempotency key or ErrTransactionNotFound.
	GetTransactionByKey(ctx context.Context, key string) (*model.Transaction, error)

	// ListTransactions returns a page of the user's transactions, newest
	// first, and the total count.
	ListTransactions(ctx context.Context, userID string, offset, limit int) ([]*model.Transaction, int, error)

	// SumCompleted returns the signed sum of completed transactions.
	SumCompleted(ctx context.Context, userID string) (int64, error)

	// DailyPredictionProfit returns per-user net prediction results in
	// [from, to), ordered by profit descending.
	DailyPredictionProfit(ctx context.Context, from, to time.Time) ([]*model.DailyRank, error)

	// OrphanedWagerDebits returns wager debits created before olderThan whose
	// prediction was never stored and that have not been refunded.
	OrphanedWagerDebits(ctx context.Context, olderThan time.Time, limit int) ([]*model.Transaction, error)
}

// PredictionStore owns predictions and the streak state updated with them.
type PredictionStore interface {
	// InsertPrediction stores a pending prediction and adds its stake to the
	// account's locked credits. Fails with ErrDuplicatePending if the user
	// already holds a pending prediction on the match, and with
	// ErrMatchFinalized once the match is completed or cancelled.
	InsertPrediction(ctx context.Context, p *model.Prediction) error

	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)

	// FindPending returns the user's pending prediction on a match or ErrPredictionNotFound.
	FindPending(ctx context.Context, userID, matchID string) (*model.Prediction, error)

	// ListPendingByMatch returns pending predictions ordered by creation time.
	ListPendingByMatch(ctx context.Context, matchID string) ([]*model.Prediction, error)

	ListByUser(ctx context.Context, userID string, offset, limit int) ([]*model.Prediction, error)

	// ResolvePrediction moves a pending prediction to a terminal status,
	// releases its locked stake and applies the streak effect (won
	// increments, lost resets, others leave it) in one atomic unit.
	// Returns ErrAlreadyResolved if the prediction is no longer pending.
	ResolvePrediction(ctx context.Context, res model.Resolution) (*model.StreakState, error)

	// GetStreak returns the user's streak, zero-valued if none recorded.
	GetStreak(ctx context.Context, userID string) (*model.StreakState, error)

	// TopStreaks returns the longest current streaks.
	TopStreaks(ctx context.Context, limit int) ([]*model.StreakState, error)
}

// MatchStore mirrors the fixtures fed in by the match-result collaborator.
type MatchStore interface {
	UpsertMatch(ctx context.Context, m *model.Match) error
	GetMatch(ctx context.Context, id string) (*model.Match, error)

	// CompleteMatch records the result. Fails with ErrMatchFinalized if the
	// match was cancelled or completed with a different result.
	CompleteMatch(ctx context.Context, id string, result model.Outcome, completedAt time.Time) (*model.Match, error)

	// CancelMatch sets status cancelled. Fails with ErrMatchFinalized for completed matches.
	CancelMatch(ctx context.Context, id string) (*model.Match, error)

	// MarkResolved sets predictions_resolved once every prediction is settled.
	MarkResolved(ctx context.Context, id string) error

	// ListUnresolved returns completed or cancelled matches with unsettled
	// predictions, oldest first.
	ListUnresolved(ctx context.Context, limit int) ([]*model.Match, error)
}

// BadgeStore records badges already awarded.
type BadgeStore interface {
	ListUserBadges(ctx context.Context, userID string) ([]*model.UserBadge, error)

	// InsertUserBadge returns false if the user already owned the badge.
	InsertUserBadge(ctx context.Context, b *model.UserBadge) (bool, error)
}

// StrikeStore records moderation strikes.
type StrikeStore interface {
	// InsertStrike records at most one strike per user and content id. If
	// one already exists it is returned with created=false.
	InsertStrike(ctx context.Context, s *model.Strike) (stored *model.Strike, created bool, err error)
	CountActiveStrikes(ctx context.Context, userID string, now time.Time) (int, error)
	ListStrikes(ctx context.Context, userID string) ([]*model.Strike, error)
}

// Store aggregates every persistence concern of the engine.
type Store interface {
	LedgerStore
	PredictionStore
	MatchStore
	BadgeStore
	StrikeStore
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
