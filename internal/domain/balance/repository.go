package balance

import "context"

// Repository defines atomic balance storage operations.
//
// Debit and Credit must be atomic per conversation key: two concurrent
// debits reading the same stale balance must never both succeed past the
// available amount. Implementations use a single conditional statement
// (postgres) or a per-key mutex (memory).
type Repository interface {
	// Get returns the balance in sats. Unknown conversations return 0, not an error.
	Get(ctx context.Context, conversationID string) (int64, error)

	// Debit reduces the balance if and only if sats <= current balance.
	// Returns ok=false and the unchanged balance otherwise.
	Debit(ctx context.Context, conversationID string, sats int64) (ok bool, remaining int64, err error)

	// Credit increases the balance, creating the record if needed.
	// Returns the new balance.
	Credit(ctx context.Context, conversationID string, sats int64) (int64, error)
}
