package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"credit-engine/internal/model"
	"credit-engine/internal/pkg/db"
)

const pendingUniqueIndex = "uq_predictions_pending_user_match"

// PredictionRepository handles predictions and streak state.
type PredictionRepository struct {
	pool *pgxpool.Pool
}

// NewPredictionRepository creates a new PredictionRepository instance.
func NewPredictionRepository(pool *pgxpool.Pool) *PredictionRepository {
	return &PredictionRepository{pool: pool}
}

const predictionColumns = `id::TEXT, user_id, match_id, outcome, confidence, coins_wagered, odds::TEXT,
	potential_return, status, actual_outcome, coins_won, created_at, resolved_at`

func scanPrediction(row pgx.Row) (*model.Prediction, error) {
	var p model.Prediction
	var odds string
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.MatchID,
		&p.Outcome,
		&p.Confidence,
		&p.CoinsWagered,
		&odds,
		&p.PotentialReturn,
		&p.Status,
		&p.ActualOutcome,
		&p.CoinsWon,
		&p.CreatedAt,
		&p.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Odds, err = decimal.NewFromString(odds)
	if err != nil {
		return nil, fmt.Errorf("invalid odds %q: %w", odds, err)
	}
	return &p, nil
}

func collectPredictions(rows pgx.Rows) ([]*model.Prediction, error) {
	defer rows.Close()
	var out []*model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}
	return out, nil
}

// InsertPrediction stores a pending prediction and locks its stake on the account.
// The match row is share-locked so a concurrent CompleteMatch or CancelMatch
// waits for the insert, and settlement then sees the new prediction.
func (r *PredictionRepository) InsertPrediction(ctx context.Context, p *model.Prediction) error {
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status model.MatchStatus
		err := tx.QueryRow(ctx, `SELECT status FROM matches WHERE id = $1 FOR SHARE`, p.MatchID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrMatchNotFound
			}
			return fmt.Errorf("failed to check match: %w", err)
		}
		if status == model.MatchCompleted || status == model.MatchCancelled {
			return ErrMatchFinalized
		}

		const insert = `
			INSERT INTO predictions (id, user_id, match_id, outcome, confidence, coins_wagered, odds,
				potential_return, status, coins_won, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, 'pending', 0, $9)
		`
		_, err = tx.Exec(ctx, insert,
			p.ID, p.UserID, p.MatchID, p.Outcome, p.Confidence, p.CoinsWagered,
			p.Odds.String(), p.PotentialReturn, p.CreatedAt,
		)
		if err != nil {
			if db.IsUniqueViolation(err, pendingUniqueIndex) {
				return ErrDuplicatePending
			}
			return fmt.Errorf("failed to insert prediction: %w", err)
		}

		const lock = `UPDATE accounts SET locked_credits = locked_credits + $2, updated_at = NOW() WHERE user_id = $1`
		if _, err := tx.Exec(ctx, lock, p.UserID, p.CoinsWagered); err != nil {
			return fmt.Errorf("failed to lock stake: %w", err)
		}
		return nil
	})
}

// GetPrediction retrieves a prediction by ID.
func (r *PredictionRepository) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	const query = `SELECT ` + predictionColumns + ` FROM predictions WHERE id::TEXT = $1`

	p, err := scanPrediction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPredictionNotFound
		}
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return p, nil
}

// FindPending returns the user's pending prediction on a match.
func (r *PredictionRepository) FindPending(ctx context.Context, userID, matchID string) (*model.Prediction, error) {
	const query = `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE user_id = $1 AND match_id = $2 AND status = 'pending'
	`
	p, err := scanPrediction(r.pool.QueryRow(ctx, query, userID, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPredictionNotFound
		}
		return nil, fmt.Errorf("failed to find pending prediction: %w", err)
	}
	return p, nil
}

// ListPendingByMatch returns a match's pending predictions, oldest first.
func (r *PredictionRepository) ListPendingByMatch(ctx context.Context, matchID string) ([]*model.Prediction, error) {
	const query = `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE match_id = $1 AND status = 'pending'
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending predictions: %w", err)
	}
	return collectPredictions(rows)
}

// ListByUser returns a page of a user's predictions, newest first.
func (r *PredictionRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*model.Prediction, error) {
	const query = `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	return collectPredictions(rows)
}

// ResolvePrediction applies the terminal transition and the streak effect atomically.
func (r *PredictionRepository) ResolvePrediction(ctx context.Context, res model.Resolution) (*model.StreakState, error) {
	var streak *model.StreakState

	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		const resolve = `
			UPDATE predictions
			SET status = $2, actual_outcome = $3, coins_won = $4, resolved_at = $5
			WHERE id::TEXT = $1 AND status = 'pending'
			RETURNING user_id, coins_wagered
		`
		var userID string
		var stake int64
		err := tx.QueryRow(ctx, resolve,
			res.PredictionID, res.Status, res.ActualOutcome, res.CoinsWon, res.ResolvedAt,
		).Scan(&userID, &stake)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAlreadyResolved
			}
			return fmt.Errorf("failed to resolve prediction: %w", err)
		}

		const unlock = `
			UPDATE accounts SET locked_credits = GREATEST(locked_credits - $2, 0), updated_at = NOW()
			WHERE user_id = $1
		`
		if _, err := tx.Exec(ctx, unlock, userID, stake); err != nil {
			return fmt.Errorf("failed to release stake: %w", err)
		}

		var upsert string
		switch res.Status {
		case model.PredictionWon:
			upsert = `
				INSERT INTO streaks (user_id, current_streak, longest_streak, last_resolved_at)
				VALUES ($1, 1, 1, $2)
				ON CONFLICT (user_id) DO UPDATE
				SET current_streak = streaks.current_streak + 1,
					longest_streak = GREATEST(streaks.longest_streak, streaks.current_streak + 1),
					last_resolved_at = $2
				RETURNING user_id, current_streak, longest_streak, last_resolved_at`
		case model.PredictionLost:
			upsert = `
				INSERT INTO streaks (user_id, current_streak, longest_streak, last_resolved_at)
				VALUES ($1, 0, 0, $2)
				ON CONFLICT (user_id) DO UPDATE
				SET current_streak = 0, last_resolved_at = $2
				RETURNING user_id, current_streak, longest_streak, last_resolved_at`
		default:
			s, err := getStreak(ctx, tx, userID)
			if err != nil {
				return err
			}
			streak = s
			return nil
		}

		var s model.StreakState
		if err := tx.QueryRow(ctx, upsert, userID, res.ResolvedAt).Scan(
			&s.UserID, &s.CurrentStreak, &s.LongestStreak, &s.LastResolvedAt,
		); err != nil {
			return fmt.Errorf("failed to update streak: %w", err)
		}
		streak = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return streak, nil
}

func getStreak(ctx context.Context, q querier, userID string) (*model.StreakState, error) {
	const query = `
		SELECT user_id, current_streak, longest_streak, last_resolved_at
		FROM streaks WHERE user_id = $1
	`
	var s model.StreakState
	err := q.QueryRow(ctx, query, userID).Scan(&s.UserID, &s.CurrentStreak, &s.LongestStreak, &s.LastResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.StreakState{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get streak: %w", err)
	}
	return &s, nil
}

// GetStreak returns the user's streak, zero-valued if none is recorded.
func (r *PredictionRepository) GetStreak(ctx context.Context, userID string) (*model.StreakState, error) {
	return getStreak(ctx, r.pool, userID)
}

// TopStreaks returns users with the longest current streaks.
func (r *PredictionRepository) TopStreaks(ctx context.Context, limit int) ([]*model.StreakState, error) {
	const query = `
		SELECT user_id, current_streak, longest_streak, last_resolved_at
		FROM streaks
		WHERE current_streak > 0
		ORDER BY current_streak DESC, longest_streak DESC, user_id
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top streaks: %w", err)
	}
	defer rows.Close()

	var out []*model.StreakState
	for rows.Next() {
		var s model.StreakState
		if err := rows.Scan(&s.UserID, &s.CurrentStreak, &s.LongestStreak, &s.LastResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan streak: %w", err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streaks: %w", err)
	}
	return out, nil
}
