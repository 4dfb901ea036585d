package postgres

import (
	"context"
	"database/sql"

	"abbot/internal/domain/balance"
	"abbot/pkg/errors"
)

// Compile-time check
var _ balance.Repository = (*BalanceRepository)(nil)

// BalanceRepository implements balance.Repository using sqlx.
// Atomicity relies on single-statement conditional updates, not transactions:
// the WHERE clause on Debit makes concurrent over-draws impossible.
type BalanceRepository struct {
	db DBTX
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db DBTX) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Get returns the balance in sats. Unknown conversations return 0.
func (r *BalanceRepository) Get(ctx context.Context, conversationID string) (int64, error) {
	var sats int64

	query := `SELECT balance_sats FROM balances WHERE conversation_id = $1`

	err := r.db.GetContext(ctx, &sats, query, conversationID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get balance")
	}

	return sats, nil
}

// Debit reduces the balance only when sufficient funds exist. The guard and
// the decrement happen in one UPDATE, so two racing debits can never both
// pass the check against the same stale value.
func (r *BalanceRepository) Debit(ctx context.Context, conversationID string, sats int64) (bool, int64, error) {
	query := `
		UPDATE balances
		SET balance_sats = balance_sats - $2, updated_at = NOW()
		WHERE conversation_id = $1 AND balance_sats >= $2
		RETURNING balance_sats`

	var remaining int64
	err := r.db.QueryRowContext(ctx, query, conversationID, sats).Scan(&remaining)
	if err == sql.ErrNoRows {
		// Insufficient funds or unknown conversation. Report the current value.
		current, getErr := r.Get(ctx, conversationID)
		if getErr != nil {
			return false, 0, getErr
		}
		return false, current, nil
	}
	if err != nil {
		return false, 0, errors.Wrap(err, "failed to debit balance")
	}

	return true, remaining, nil
}

// Credit increases the balance, creating the row on first payment.
func (r *BalanceRepository) Credit(ctx context.Context, conversationID string, sats int64) (int64, error) {
	query := `
		INSERT INTO balances (conversation_id, balance_sats, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (conversation_id)
		DO UPDATE SET balance_sats = balances.balance_sats + $2, updated_at = NOW()
		RETURNING balance_sats`

	var newBalance int64
	err := r.db.QueryRowContext(ctx, query, conversationID, sats).Scan(&newBalance)
	if err != nil {
		return 0, errors.Wrap(err, "failed to credit balance")
	}

	return newBalance, nil
}
