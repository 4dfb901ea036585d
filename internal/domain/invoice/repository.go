package invoice

import (
	"context"
	"time"
)

// Repository defines invoice storage operations.
type Repository interface {
	// Create persists a new invoice in StatePending.
	Create(ctx context.Context, inv *Invoice) error

	// GetByID returns the invoice or errors.ErrNotFound.
	GetByID(ctx context.Context, id string) (*Invoice, error)

	// Transition atomically moves the invoice from StatePending to a terminal
	// state. Returns false if the invoice was not pending. This conditional
	// update is the at-most-once guard for balance credits: only the caller
	// that wins the Pending -> Paid transition applies the credit.
	Transition(ctx context.Context, id string, to State) (bool, error)

	// DeleteTerminalBefore removes terminal invoices closed before the cutoff.
	// Used by the janitor to enforce the audit grace period.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PendingRegistry maps a conversation to its single pending invoice so a
// bare cancel command can resolve the most recent pending invoice. Entries
// carry a TTL and are cleared when the invoice reaches a terminal state.
type PendingRegistry interface {
	// Claim atomically reserves the conversation's pending slot before the
	// processor invoice exists. Returns false when another pending invoice
	// or an in-flight creation already holds it.
	Claim(ctx context.Context, conversationID string, ttl time.Duration) (bool, error)

	// Set records the invoice id under the conversation's claim.
	Set(ctx context.Context, conversationID, invoiceID string, ttl time.Duration) error

	// Get returns errors.ErrNotFound when no pending invoice exists.
	Get(ctx context.Context, conversationID string) (string, error)

	// Clear releases the conversation's slot.
	Clear(ctx context.Context, conversationID string) error
}
