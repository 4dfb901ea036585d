package usage

import (
	"context"
	"time"
)

// Repository defines operations for usage tracking
type Repository interface {
	// Store saves a usage record (may be buffered)
	Store(ctx context.Context, rec *Record) error

	// GetConversationDailyCost returns total USD cost for a conversation on a day
	GetConversationDailyCost(ctx context.Context, conversationID string, date time.Time) (float64, error)
}
