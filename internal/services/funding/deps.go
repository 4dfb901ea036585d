package funding

import (
	"context"
)

// Notifier delivers workflow results back to the conversation. No
// platform-specific types cross this boundary.
type Notifier interface {
	SendText(conversationID string, text string) error
	SendImage(conversationID string, image []byte, caption string) error
}

// EventPublisher publishes payment lifecycle events for operators and audit.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}
