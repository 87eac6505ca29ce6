package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"credit-engine/internal/model"
	"credit-engine/internal/pkg/db"
)

const idempotencyConstraint = "uq_ledger_idempotency_key"

// errReplay signals that a concurrent writer committed the same idempotency key first.
var errReplay = errors.New("idempotency key already applied")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerRepository handles accounts and ledger transactions.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

const accountColumns = `user_id, balance, locked_credits, version, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.UserID, &a.Balance, &a.LockedCredits, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount opens a zero-balance account if none exists.
func (r *LedgerRepository) CreateAccount(ctx context.Context, userID string) (*model.Account, bool, error) {
	const query = `
		INSERT INTO accounts (user_id, balance, locked_credits, version, created_at, updated_at)
		VALUES ($1, 0, 0, 0, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
		RETURNING ` + accountColumns

	acct, err := scanAccount(r.pool.QueryRow(ctx, query, userID))
	if err == nil {
		return acct, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create account: %w", err)
	}

	acct, err = r.GetAccount(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return acct, false, nil
}

// GetAccount retrieves an account by user ID.
func (r *LedgerRepository) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`

	acct, err := scanAccount(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

const txColumns = `id, user_id, type, amount, balance_after, source, related_id, status, idempotency_key, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Type,
		&t.Amount,
		&t.BalanceAfter,
		&t.Source,
		&t.RelatedID,
		&t.Status,
		&t.IdempotencyKey,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *LedgerRepository) getByKey(ctx context.Context, q querier, key string) (*model.Transaction, error) {
	const query = `SELECT ` + txColumns + ` FROM ledger_transactions WHERE idempotency_key = $1`

	t, err := scanTransaction(q.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by key: %w", err)
	}
	return t, nil
}

// GetTransactionByKey retrieves the transaction stored under an idempotency key.
func (r *LedgerRepository) GetTransactionByKey(ctx context.Context, key string) (*model.Transaction, error) {
	return r.getByKey(ctx, r.pool, key)
}

// ApplyTransaction applies a balance change and appends its ledger entry in
// one database transaction. The balance check is part of the UPDATE so two
// racing debits cannot both pass it.
func (r *LedgerRepository) ApplyTransaction(ctx context.Context, req model.TransactionRequest) (*model.Transaction, bool, error) {
	key := nullable(req.IdempotencyKey)
	relatedID := nullable(req.RelatedID)
	delta := req.Type.Signed(req.Amount)

	var out *model.Transaction
	replayed := false

	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if key != nil {
			existing, err := r.getByKey(ctx, tx, *key)
			if err == nil {
				out, replayed = existing, true
				return nil
			}
			if !errors.Is(err, ErrTransactionNotFound) {
				return err
			}
		}

		const update = `
			UPDATE accounts
			SET balance = balance + $2, version = version + 1, updated_at = NOW()
			WHERE user_id = $1 AND balance + $2 >= 0
			RETURNING balance
		`
		var balance int64
		if err := tx.QueryRow(ctx, update, req.UserID, delta).Scan(&balance); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("failed to update balance: %w", err)
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, req.UserID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check account: %w", err)
			}
			if !exists {
				return ErrAccountNotFound
			}
			return ErrInsufficientBalance
		}

		const insert = `
			INSERT INTO ledger_transactions (id, user_id, type, amount, balance_after, source, related_id, status, idempotency_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'completed', $8, NOW())
			RETURNING ` + txColumns

		t, err := scanTransaction(tx.QueryRow(ctx, insert,
			uuid.NewString(), req.UserID, req.Type, req.Amount, balance, req.Source, relatedID, key,
		))
		if err != nil {
			if db.IsUniqueViolation(err, idempotencyConstraint) {
				return errReplay
			}
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		out = t
		return nil
	})

	if errors.Is(err, errReplay) {
		existing, gerr := r.getByKey(ctx, r.pool, *key)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, replayed, nil
}

// ListTransactions returns a page of a user's transactions, newest first.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID string, offset, limit int) ([]*model.Transaction, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_transactions WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	const query = `
		SELECT ` + txColumns + `
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, total, nil
}

// SumCompleted returns the signed sum of a user's completed transactions.
func (r *LedgerRepository) SumCompleted(ctx context.Context, userID string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(CASE WHEN type = 'spend' THEN -amount ELSE amount END), 0)
		FROM ledger_transactions
		WHERE user_id = $1 AND status = 'completed'
	`
	var sum int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

// DailyPredictionProfit returns each user's net prediction result in [from, to).
func (r *LedgerRepository) DailyPredictionProfit(ctx context.Context, from, to time.Time) ([]*model.DailyRank, error) {
	const query = `
		SELECT user_id, COALESCE(SUM(CASE WHEN type = 'spend' THEN -amount ELSE amount END), 0) AS net_profit
		FROM ledger_transactions
		WHERE source = ANY($1)
		  AND status = 'completed'
		  AND created_at >= $2
		  AND created_at < $3
		GROUP BY user_id
		ORDER BY net_profit DESC, user_id
	`
	rows, err := r.pool.Query(ctx, query, model.PredictionSources(), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily profit: %w", err)
	}
	defer rows.Close()

	var ranks []*model.DailyRank
	for rows.Next() {
		var rank model.DailyRank
		if err := rows.Scan(&rank.UserID, &rank.NetProfit); err != nil {
			return nil, fmt.Errorf("failed to scan daily rank: %w", err)
		}
		ranks = append(ranks, &rank)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily ranks: %w", err)
	}
	return ranks, nil
}

// OrphanedWagerDebits finds wager debits with no stored prediction and no refund.
func (r *LedgerRepository) OrphanedWagerDebits(ctx context.Context, olderThan time.Time, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT ` + txColumns + `
		FROM ledger_transactions t
		WHERE t.source = 'prediction_wager'
		  AND t.status = 'completed'
		  AND t.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM predictions p WHERE p.id::TEXT = t.related_id)
		  AND NOT EXISTS (
			SELECT 1 FROM ledger_transactions r
			WHERE r.type = 'refund' AND r.related_id = t.related_id
		  )
		ORDER BY t.created_at
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned wagers: %w", err)
	}
	defer rows.Close()

	var orphans []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		orphans = append(orphans, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orphaned wagers: %w", err)
	}
	return orphans, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
