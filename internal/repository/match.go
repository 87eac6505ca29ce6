package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"credit-engine/internal/model"
)

// MatchRepository handles match data persistence.
type MatchRepository struct {
	pool *pgxpool.Pool
}

// NewMatchRepository creates a new MatchRepository instance.
func NewMatchRepository(pool *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

const matchColumns = `id, home_team, away_team, status, result, scheduled_at, completed_at,
	predictions_resolved, created_at, updated_at`

func scanMatch(row pgx.Row) (*model.Match, error) {
	var m model.Match
	err := row.Scan(
		&m.ID,
		&m.HomeTeam,
		&m.AwayTeam,
		&m.Status,
		&m.Result,
		&m.ScheduledAt,
		&m.CompletedAt,
		&m.PredictionsResolved,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMatch creates or updates fixture details. Status is only updated
// while the match has not been finalized.
func (r *MatchRepository) UpsertMatch(ctx context.Context, m *model.Match) error {
	const query = `
		INSERT INTO matches (id, home_team, away_team, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team,
			scheduled_at = EXCLUDED.scheduled_at,
			status = CASE WHEN matches.status IN ('completed', 'cancelled') THEN matches.status ELSE EXCLUDED.status END,
			updated_at = NOW()
		RETURNING ` + matchColumns

	stored, err := scanMatch(r.pool.QueryRow(ctx, query, m.ID, m.HomeTeam, m.AwayTeam, m.Status, m.ScheduledAt))
	if err != nil {
		return fmt.Errorf("failed to upsert match: %w", err)
	}
	*m = *stored
	return nil
}

// GetMatch retrieves a match by ID.
func (r *MatchRepository) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	const query = `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	m, err := scanMatch(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// CompleteMatch records the final result. Re-recording the same result is a no-op.
func (r *MatchRepository) CompleteMatch(ctx context.Context, id string, result model.Outcome, completedAt time.Time) (*model.Match, error) {
	const query = `
		UPDATE matches
		SET status = 'completed', result = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'in_progress')
		RETURNING ` + matchColumns

	m, err := scanMatch(r.pool.QueryRow(ctx, query, id, result, completedAt))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to complete match: %w", err)
	}

	existing, err := r.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == model.MatchCompleted && existing.Result != nil && *existing.Result == result {
		return existing, nil
	}
	return nil, ErrMatchFinalized
}

// CancelMatch marks a match cancelled. Cancelling twice is a no-op.
func (r *MatchRepository) CancelMatch(ctx context.Context, id string) (*model.Match, error) {
	const query = `
		UPDATE matches
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'in_progress')
		RETURNING ` + matchColumns

	m, err := scanMatch(r.pool.QueryRow(ctx, query, id))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel match: %w", err)
	}

	existing, err := r.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == model.MatchCancelled {
		return existing, nil
	}
	return nil, ErrMatchFinalized
}

// MarkResolved flags a match's predictions as fully settled.
func (r *MatchRepository) MarkResolved(ctx context.Context, id string) error {
	const query = `UPDATE matches SET predictions_resolved = TRUE, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark match resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMatchNotFound
	}
	return nil
}

// ListUnresolved returns finalized matches whose predictions are not yet settled.
func (r *MatchRepository) ListUnresolved(ctx context.Context, limit int) ([]*model.Match, error) {
	const query = `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE status IN ('completed', 'cancelled') AND predictions_resolved = FALSE
		ORDER BY COALESCE(completed_at, updated_at), id
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved matches: %w", err)
	}
	defer rows.Close()

	var out []*model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	return out, nil
}
