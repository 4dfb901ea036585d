package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"abbot/internal/domain/invoice"
	"abbot/pkg/errors"
)

// Compile-time check
var _ invoice.PendingRegistry = (*PendingInvoiceRegistry)(nil)

// claimSentinel marks a slot reserved for an in-flight invoice creation; the
// real invoice id replaces it once the processor responds.
const claimSentinel = "!claim"

// PendingInvoiceRegistry implements invoice.PendingRegistry using Redis.
// One key per conversation: a conversation can have at most one pending
// invoice, and a bare cancel command resolves through this mapping.
type PendingInvoiceRegistry struct {
	client *redis.Client
}

// NewPendingInvoiceRegistry creates a new pending invoice registry
func NewPendingInvoiceRegistry(client *redis.Client) *PendingInvoiceRegistry {
	return &PendingInvoiceRegistry{
		client: client,
	}
}

// Claim reserves the conversation's slot via SETNX, so concurrent funding
// requests resolve to exactly one winner server-side
func (r *PendingInvoiceRegistry) Claim(ctx context.Context, conversationID string, ttl time.Duration) (bool, error) {
	key := r.getKey(conversationID)

	ok, err := r.client.SetNX(ctx, key, claimSentinel, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim pending slot in redis: conversation_id=%s", conversationID)
	}

	return ok, nil
}

// Set records the pending invoice for a conversation with a TTL slightly
// past the invoice expiry so stale entries self-clean
func (r *PendingInvoiceRegistry) Set(ctx context.Context, conversationID, invoiceID string, ttl time.Duration) error {
	key := r.getKey(conversationID)

	if err := r.client.Set(ctx, key, invoiceID, ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to save pending invoice to redis: conversation_id=%s", conversationID)
	}

	return nil
}

// Get returns the pending invoice ID for a conversation
func (r *PendingInvoiceRegistry) Get(ctx context.Context, conversationID string) (string, error) {
	key := r.getKey(conversationID)

	invoiceID, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", errors.Wrapf(errors.ErrNotFound, "no pending invoice for conversation_id=%s", conversationID)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to get pending invoice from redis: conversation_id=%s", conversationID)
	}
	if invoiceID == claimSentinel {
		return "", errors.Wrapf(errors.ErrNotFound, "invoice creation in flight for conversation_id=%s", conversationID)
	}

	return invoiceID, nil
}

// Clear removes the pending invoice mapping
func (r *PendingInvoiceRegistry) Clear(ctx context.Context, conversationID string) error {
	key := r.getKey(conversationID)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "failed to clear pending invoice from redis: conversation_id=%s", conversationID)
	}

	return nil
}

func (r *PendingInvoiceRegistry) getKey(conversationID string) string {
	return fmt.Sprintf("pending_invoice:%s", conversationID)
}
