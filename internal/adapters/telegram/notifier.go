package telegram

import (
	"context"
	"strconv"
	"time"

	"abbot/internal/services/funding"
	"abbot/pkg/errors"
)

// Compile-time check
var _ funding.Notifier = (*Notifier)(nil)

// Notifier adapts the bot to funding.Notifier. Conversation IDs are decimal
// chat IDs; nothing Telegram-specific leaks into the workflow.
type Notifier struct {
	bot         *Bot
	sendTimeout time.Duration
}

// NewNotifier creates a funding notifier backed by the bot
func NewNotifier(bot *Bot) *Notifier {
	return &Notifier{
		bot:         bot,
		sendTimeout: 30 * time.Second,
	}
}

// SendText delivers a plain text message to the conversation
func (n *Notifier) SendText(conversationID string, text string) error {
	chatID, err := n.chatID(conversationID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
	defer cancel()

	return n.bot.SendMessageWithContext(ctx, chatID, text)
}

// SendImage delivers an image with a caption to the conversation
func (n *Notifier) SendImage(conversationID string, image []byte, caption string) error {
	chatID, err := n.chatID(conversationID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
	defer cancel()

	return n.bot.SendPhoto(ctx, chatID, image, caption)
}

func (n *Notifier) chatID(conversationID string) (int64, error) {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidInput, "bad conversation id %q", conversationID)
	}
	return chatID, nil
}
