package memory

import (
	"context"
	"sync"
	"time"

	"abbot/internal/domain/balance"
)

// Compile-time check
var _ balance.Repository = (*BalanceRepository)(nil)

// BalanceRepository is an in-memory balance.Repository for tests and
// single-node deployments without Postgres. The check-and-decrement runs
// under one lock so concurrent debits see a consistent balance.
type BalanceRepository struct {
	mu       sync.Mutex
	balances map[string]*balance.Balance
}

// NewBalanceRepository creates an empty in-memory balance store
func NewBalanceRepository() *BalanceRepository {
	return &BalanceRepository{
		balances: make(map[string]*balance.Balance),
	}
}

// Get returns the balance in sats, zero for unknown conversations
func (r *BalanceRepository) Get(ctx context.Context, conversationID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.balances[conversationID]; ok {
		return b.Sats, nil
	}
	return 0, nil
}

// Debit reduces the balance only when sufficient funds exist
func (r *BalanceRepository) Debit(ctx context.Context, conversationID string, sats int64) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.balances[conversationID]
	if !ok || b.Sats < sats {
		var current int64
		if ok {
			current = b.Sats
		}
		return false, current, nil
	}

	b.Sats -= sats
	b.UpdatedAt = time.Now()
	return true, b.Sats, nil
}

// Credit increases the balance, creating the record if needed
func (r *BalanceRepository) Credit(ctx context.Context, conversationID string, sats int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.balances[conversationID]
	if !ok {
		b = &balance.Balance{ConversationID: conversationID}
		r.balances[conversationID] = b
	}

	b.Sats += sats
	b.UpdatedAt = time.Now()
	return b.Sats, nil
}
