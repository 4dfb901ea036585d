package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"abbot/internal/domain/invoice"
	"abbot/internal/services/chat"
	"abbot/internal/services/funding"
	"abbot/internal/services/ledger"
	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

const helpText = `Commands:
/balance - show your remaining sats
/fund <amount> <SAT|USD> - top up via Lightning invoice
/cancel - cancel your pending invoice
/reset - clear conversation history
/help - this message

Any other message is forwarded to the assistant. Replies are metered
against your balance.`

const outOfFundsText = "⚡ You're out of sats. Top up with /fund <amount> <SAT|USD> to continue."

// Handler routes Telegram updates to the chat and funding services
type Handler struct {
	bot     *Bot
	chat    *chat.Service
	funding *funding.Service
	ledger  *ledger.Service
	log     *logger.Logger

	requestTimeout time.Duration
}

// NewHandler creates a new telegram handler
func NewHandler(bot *Bot, chatSvc *chat.Service, fundingSvc *funding.Service, ledgerSvc *ledger.Service) *Handler {
	return &Handler{
		bot:            bot,
		chat:           chatSvc,
		funding:        fundingSvc,
		ledger:         ledgerSvc,
		log:            logger.Get().With("component", "telegram_handler"),
		requestTimeout: 2 * time.Minute,
	}
}

// HandleUpdate is the entry point for all updates
func (h *Handler) HandleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	msg := update.Message
	chatID := msg.Chat.ID
	conversationID := strconv.FormatInt(chatID, 10)

	h.log.Debugw("Processing message",
		"chat_id", chatID,
		"from_id", msg.From.ID,
		"is_command", msg.IsCommand(),
	)

	var err error
	if msg.IsCommand() {
		err = h.handleCommand(ctx, conversationID, msg)
	} else {
		err = h.handleChat(ctx, conversationID, msg)
	}

	if err != nil {
		h.log.Errorw("Failed to handle message",
			"chat_id", chatID,
			"error", err,
		)
		_ = h.bot.SendMessageWithContext(ctx, chatID, "❌ Something went wrong. Please try again.")
	}
}

func (h *Handler) handleCommand(ctx context.Context, conversationID string, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		return h.bot.SendMessageWithContext(ctx, chatID,
			"👋 Welcome! I'm a metered assistant: replies cost sats.\n\n"+helpText)

	case "help":
		return h.bot.SendMessageWithContext(ctx, chatID, helpText)

	case "balance":
		sats, err := h.ledger.Balance(ctx, conversationID)
		if err != nil {
			return err
		}
		return h.bot.SendMessageWithContext(ctx, chatID, fmt.Sprintf("Balance: %d sats", sats))

	case "fund":
		return h.handleFund(ctx, conversationID, msg)

	case "cancel":
		return h.handleCancel(ctx, conversationID, msg)

	case "reset":
		h.chat.Reset(conversationID)
		return h.bot.SendMessageWithContext(ctx, chatID, "Conversation history cleared.")

	default:
		return h.bot.SendMessageWithContext(ctx, chatID, "Unknown command. Use /help to see what I can do.")
	}
}

// handleFund parses "/fund <amount> <SAT|USD>" and starts the invoice workflow
func (h *Handler) handleFund(ctx context.Context, conversationID string, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID

	fields := strings.Fields(msg.CommandArguments())
	if len(fields) != 2 {
		return h.bot.SendMessageWithContext(ctx, chatID, "Usage: /fund <amount> <SAT|USD>\nExample: /fund 5000 SAT")
	}

	amount, err := decimal.NewFromString(fields[0])
	if err != nil {
		return h.bot.SendMessageWithContext(ctx, chatID, fmt.Sprintf("Invalid amount %q. Use a number like 5000 or 2.50.", fields[0]))
	}

	currency, ok := invoice.ParseCurrency(strings.ToUpper(fields[1]))
	if !ok {
		return h.bot.SendMessageWithContext(ctx, chatID, fmt.Sprintf("Invalid currency %q. Use SAT or USD.", fields[1]))
	}

	_, err = h.funding.RequestFunding(ctx, conversationID, amount, currency)
	switch {
	case err == nil:
		// The workflow presents the invoice itself.
		return nil

	case errors.Is(err, errors.ErrInvoicePending):
		return h.bot.SendMessageWithContext(ctx, chatID,
			"You already have a pending invoice. Pay it or /cancel it before requesting another.")

	case errors.IsValidationError(err):
		return h.bot.SendMessageWithContext(ctx, chatID, err.Error())

	default:
		// Creation failures are reported to the user by the workflow with a
		// fallback address; nothing more to say here.
		h.log.Errorw("Funding request failed",
			"conversation_id", conversationID,
			"error", err,
		)
		return nil
	}
}

func (h *Handler) handleCancel(ctx context.Context, conversationID string, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID

	err := h.funding.Cancel(ctx, conversationID)
	if errors.Is(err, errors.ErrNotFound) {
		return h.bot.SendMessageWithContext(ctx, chatID, "No pending invoice to cancel.")
	}
	return err
}

// handleChat forwards a plain message to the completion service
func (h *Handler) handleChat(ctx context.Context, conversationID string, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID

	_ = h.bot.SendTyping(chatID)

	reply, err := h.chat.Respond(ctx, conversationID, msg.From.ID, msg.Text)
	if err != nil {
		return err
	}

	if reply.Text != "" {
		if err := h.bot.SendMessageWithContext(ctx, chatID, reply.Text); err != nil {
			return err
		}
	}

	if reply.OutOfFunds {
		return h.bot.SendMessageWithContext(ctx, chatID, outOfFundsText)
	}

	return nil
}
