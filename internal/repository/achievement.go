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

// BadgeRepository records awarded badges.
type BadgeRepository struct {
	pool *pgxpool.Pool
}

// NewBadgeRepository creates a new BadgeRepository instance.
func NewBadgeRepository(pool *pgxpool.Pool) *BadgeRepository {
	return &BadgeRepository{pool: pool}
}

// ListUserBadges returns the badges a user owns, oldest first.
func (r *BadgeRepository) ListUserBadges(ctx context.Context, userID string) ([]*model.UserBadge, error) {
	const query = `
		SELECT user_id, badge_id, reward, unlocked_at
		FROM user_badges
		WHERE user_id = $1
		ORDER BY unlocked_at, badge_id
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user badges: %w", err)
	}
	defer rows.Close()

	var out []*model.UserBadge
	for rows.Next() {
		var b model.UserBadge
		if err := rows.Scan(&b.UserID, &b.BadgeID, &b.Reward, &b.UnlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user badge: %w", err)
		}
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user badges: %w", err)
	}
	return out, nil
}

// InsertUserBadge records a badge; returns false if it was already owned.
func (r *BadgeRepository) InsertUserBadge(ctx context.Context, b *model.UserBadge) (bool, error) {
	const query = `
		INSERT INTO user_badges (user_id, badge_id, reward, unlocked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query, b.UserID, b.BadgeID, b.Reward, b.UnlockedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert user badge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// StrikeRepository records moderation strikes.
type StrikeRepository struct {
	pool *pgxpool.Pool
}

// NewStrikeRepository creates a new StrikeRepository instance.
func NewStrikeRepository(pool *pgxpool.Pool) *StrikeRepository {
	return &StrikeRepository{pool: pool}
}

const strikeColumns = `id::TEXT, user_id, content_id, severity, reason, expires_at, created_at`

func scanStrike(row pgx.Row) (*model.Strike, error) {
	var s model.Strike
	if err := row.Scan(&s.ID, &s.UserID, &s.ContentID, &s.Severity, &s.Reason, &s.ExpiresAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertStrike records a strike unless the user already has one for the
// same content, in which case the existing strike is returned.
func (r *StrikeRepository) InsertStrike(ctx context.Context, s *model.Strike) (*model.Strike, bool, error) {
	const insert = `
		INSERT INTO strikes (id, user_id, content_id, severity, reason, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, content_id) DO NOTHING
		RETURNING ` + strikeColumns

	stored, err := scanStrike(r.pool.QueryRow(ctx, insert,
		s.ID, s.UserID, s.ContentID, s.Severity, s.Reason, s.ExpiresAt, s.CreatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert strike: %w", err)
	}

	const existing = `SELECT ` + strikeColumns + ` FROM strikes WHERE user_id = $1 AND content_id = $2`
	stored, err = scanStrike(r.pool.QueryRow(ctx, existing, s.UserID, s.ContentID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to get existing strike: %w", err)
	}
	return stored, false, nil
}

// CountActiveStrikes counts strikes that have not expired at now.
func (r *StrikeRepository) CountActiveStrikes(ctx context.Context, userID string, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM strikes WHERE user_id = $1 AND expires_at > $2`

	var n int
	if err := r.pool.QueryRow(ctx, query, userID, now).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count strikes: %w", err)
	}
	return n, nil
}

// ListStrikes returns all strikes for a user, newest first.
func (r *StrikeRepository) ListStrikes(ctx context.Context, userID string) ([]*model.Strike, error) {
	const query = `SELECT ` + strikeColumns + ` FROM strikes WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list strikes: %w", err)
	}
	defer rows.Close()

	var out []*model.Strike
	for rows.Next() {
		s, err := scanStrike(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strike: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strikes: %w", err)
	}
	return out, nil
}

// PostgresStore combines the Postgres repositories into a Store.
type PostgresStore struct {
	*LedgerRepository
	*PredictionRepository
	*MatchRepository
	*BadgeRepository
	*StrikeRepository
}

// NewPostgresStore creates a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		LedgerRepository:     NewLedgerRepository(pool),
		PredictionRepository: NewPredictionRepository(pool),
		MatchRepository:      NewMatchRepository(pool),
		BadgeRepository:      NewBadgeRepository(pool),
		StrikeRepository:     NewStrikeRepository(pool),
	}
}
