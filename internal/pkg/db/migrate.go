package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "accounts table",
		sql: `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id VARCHAR(64) PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			locked_credits BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_balance ON accounts(balance DESC);`,
	},
	{
		name: "ledger_transactions table",
		sql: `
		CREATE TABLE IF NOT EXISTS ledger_transactions (
			id UUID PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL REFERENCES accounts(user_id) ON DELETE CASCADE,
			type VARCHAR(20) NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			balance_after BIGINT NOT NULL,
			source VARCHAR(50) NOT NULL,
			related_id VARCHAR(64),
			status VARCHAR(20) NOT NULL DEFAULT 'completed',
			idempotency_key VARCHAR(160),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_ledger_idempotency_key UNIQUE (idempotency_key)
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_user_time ON ledger_transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_ledger_source_time ON ledger_transactions(source, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_ledger_related ON ledger_transactions(related_id);`,
	},
	{
		name: "matches table",
		sql: `
		CREATE TABLE IF NOT EXISTS matches (
			id VARCHAR(64) PRIMARY KEY,
			home_team VARCHAR(255) NOT NULL DEFAULT '',
			away_team VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'scheduled',
			result VARCHAR(20),
			scheduled_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			predictions_resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_matches_unresolved
			ON matches(completed_at) WHERE predictions_resolved = FALSE AND status IN ('completed', 'cancelled');`,
	},
	{
		name: "predictions table",
		sql: `
		CREATE TABLE IF NOT EXISTS predictions (
			id UUID PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL REFERENCES accounts(user_id) ON DELETE CASCADE,
			match_id VARCHAR(64) NOT NULL REFERENCES matches(id),
			outcome VARCHAR(20) NOT NULL,
			confidence VARCHAR(10) NOT NULL,
			coins_wagered BIGINT NOT NULL CHECK (coins_wagered > 0),
			odds NUMERIC(6, 2) NOT NULL,
			potential_return BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			actual_outcome VARCHAR(20),
			coins_won BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_predictions_pending_user_match
			ON predictions(user_id, match_id) WHERE status = 'pending';
		CREATE INDEX IF NOT EXISTS idx_predictions_match_status ON predictions(match_id, status);
		CREATE INDEX IF NOT EXISTS idx_predictions_user_time ON predictions(user_id, created_at DESC);`,
	},
	{
		name: "streaks table",
		sql: `
		CREATE TABLE IF NOT EXISTS streaks (
			user_id VARCHAR(64) PRIMARY KEY,
			current_streak INT NOT NULL DEFAULT 0,
			longest_streak INT NOT NULL DEFAULT 0,
			last_resolved_at TIMESTAMPTZ
		);`,
	},
	{
		name: "user_badges table",
		sql: `
		CREATE TABLE IF NOT EXISTS user_badges (
			user_id VARCHAR(64) NOT NULL,
			badge_id VARCHAR(64) NOT NULL,
			reward BIGINT NOT NULL,
			unlocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, badge_id)
		);`,
	},
	{
		name: "strikes table",
		sql: `
		CREATE TABLE IF NOT EXISTS strikes (
			id UUID PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			content_id VARCHAR(64) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			reason TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_strikes_user_expiry ON strikes(user_id, expires_at);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_strikes_user_content ON strikes(user_id, content_id);`,
	},
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return err
		}
		log.Info().Int("step", i+1).Str("migration", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
