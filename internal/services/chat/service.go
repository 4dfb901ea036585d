package chat

import (
	"context"
	"sync"
	"time"

	"abbot/internal/adapters/llm"
	"abbot/internal/metrics"
	"abbot/internal/services/ledger"
	"abbot/internal/services/meter"
	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

// Config holds chat service configuration
type Config struct {
	// SystemPrompt is prepended to every conversation turn
	SystemPrompt string
	// MaxHistory bounds how many prior turns are replayed to the model
	MaxHistory int
}

// Reply is the outcome of one conversation turn.
type Reply struct {
	Text string
	// OutOfFunds signals the balance gate refused the turn, or the debit
	// after this turn emptied the balance.
	OutOfFunds bool
	// RemainingSats is the balance after metering.
	RemainingSats int64
}

// Service gates conversation turns on a positive balance, forwards them to
// the completion provider, and meters the result. The gate is checked before
// the completion and the debit applied after it, so a conversation can go
// negative by at most one turn.
type Service struct {
	completer llm.Completer
	ledger    *ledger.Service
	meter     *meter.Service
	cfg       Config
	log       *logger.Logger

	mu      sync.Mutex
	history map[string][]llm.Message
}

// NewService creates a new chat service
func NewService(completer llm.Completer, ledgerSvc *ledger.Service, meterSvc *meter.Service, cfg Config) *Service {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 20
	}
	return &Service{
		completer: completer,
		ledger:    ledgerSvc,
		meter:     meterSvc,
		cfg:       cfg,
		log:       logger.Get().With("component", "chat_service"),
		history:   make(map[string][]llm.Message),
	}
}

// Respond handles one user message in a conversation.
// Returns a Reply with OutOfFunds=true and no text when the balance gate
// refuses the turn.
func (s *Service) Respond(ctx context.Context, conversationID string, userID int64, text string) (*Reply, error) {
	balance, err := s.ledger.Balance(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "balance check failed")
	}
	if balance <= 0 {
		s.log.Debugf("Refusing turn for conversation %s: balance %d", conversationID, balance)
		return &Reply{OutOfFunds: true, RemainingSats: balance}, nil
	}

	messages := s.buildMessages(conversationID, text)

	start := time.Now()
	completion, err := s.completer.Complete(ctx, messages)
	latency := time.Since(start)
	if err != nil {
		return nil, errors.Wrap(err, "completion failed")
	}

	metrics.Completions.WithLabelValues(s.completer.Provider()).Inc()
	metrics.CompletionDuration.Observe(latency.Seconds())

	s.appendHistory(conversationID, text, completion.Text)

	result, err := s.meter.ComputeAndDebit(
		ctx,
		conversationID,
		userID,
		s.completer.Provider(),
		s.completer.Model(),
		completion.PromptTokens,
		completion.CompletionTokens,
		latency,
	)
	if err != nil {
		// The reply already exists; metering failure must not eat it.
		s.log.Errorf("Metering failed for conversation %s: %v", conversationID, err)
		return &Reply{Text: completion.Text, RemainingSats: balance}, nil
	}

	return &Reply{
		Text:          completion.Text,
		OutOfFunds:    result.Remaining <= 0,
		RemainingSats: result.Remaining,
	}, nil
}

// Reset discards the stored history for a conversation
func (s *Service) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, conversationID)
}

func (s *Service) buildMessages(conversationID, text string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]llm.Message, 0, len(s.history[conversationID])+2)
	if s.cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s.cfg.SystemPrompt})
	}
	messages = append(messages, s.history[conversationID]...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	return messages
}

func (s *Service) appendHistory(conversationID, userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[conversationID],
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: assistantText},
	)
	if len(h) > s.cfg.MaxHistory {
		h = h[len(h)-s.cfg.MaxHistory:]
	}
	s.history[conversationID] = h
}
