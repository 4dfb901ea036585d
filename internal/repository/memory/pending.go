package memory

import (
	"context"
	"sync"
	"time"

	"abbot/internal/domain/invoice"
	"abbot/pkg/errors"
)

// Compile-time check
var _ invoice.PendingRegistry = (*PendingRegistry)(nil)

type pendingEntry struct {
	invoiceID string // empty while a creation is in flight
	expiresAt time.Time
}

// PendingRegistry is an in-memory invoice.PendingRegistry with lazy TTL
// expiry on read
type PendingRegistry struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
}

// NewPendingRegistry creates an empty in-memory pending registry
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{
		entries: make(map[string]pendingEntry),
	}
}

// Claim reserves the conversation's slot if it is free or expired. The check
// and write happen under one lock, matching the Redis SETNX guarantee.
func (r *PendingRegistry) Claim(ctx context.Context, conversationID string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[conversationID]; ok && time.Now().Before(entry.expiresAt) {
		return false, nil
	}

	r.entries[conversationID] = pendingEntry{
		expiresAt: time.Now().Add(ttl),
	}
	return true, nil
}

// Set records the pending invoice for a conversation
func (r *PendingRegistry) Set(ctx context.Context, conversationID, invoiceID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[conversationID] = pendingEntry{
		invoiceID: invoiceID,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Get returns the pending invoice ID or errors.ErrNotFound. A claim whose
// invoice does not exist yet is not a presentable invoice.
func (r *PendingRegistry) Get(ctx context.Context, conversationID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[conversationID]
	if !ok {
		return "", errors.ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		delete(r.entries, conversationID)
		return "", errors.ErrNotFound
	}
	if entry.invoiceID == "" {
		return "", errors.ErrNotFound
	}

	return entry.invoiceID, nil
}

// Clear removes the pending invoice mapping
func (r *PendingRegistry) Clear(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, conversationID)
	return nil
}
