package meter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"abbot/internal/adapters/kafka"
	"abbot/internal/domain/usage"
	"abbot/internal/services/ledger"
	"abbot/internal/services/oracle"
	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

// Config holds the per-1K-token USD prices for the metered model.
type Config struct {
	InputUSDPer1K  decimal.Decimal
	OutputUSDPer1K decimal.Decimal
}

// Cost is the ephemeral cost of one completion, derived from its token
// counts and the current exchange rate.
type Cost struct {
	InputUSD  decimal.Decimal
	OutputUSD decimal.Decimal
	TotalUSD  decimal.Decimal
	Sats      int64
}

// EventPublisher publishes completion usage events for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// Result is the outcome of a metering attempt. OK=false means the
// conversation is out of funds and further completions must be refused
// until a new invoice is paid.
type Result struct {
	OK        bool
	Remaining int64
	Cost      Cost
}

// Service converts completion token counts into a sats cost and debits the
// ledger. Debits are post-hoc: the completion has already happened, so a
// conversation can overdraft by at most one completion before being cut off.
type Service struct {
	ledger    *ledger.Service
	oracle    *oracle.Service
	usageRepo usage.Repository
	events    EventPublisher
	cfg       Config
	log       *logger.Logger
}

// NewService creates a new usage meter. usageRepo and events may be nil when
// the respective back-ends are not configured.
func NewService(ledgerSvc *ledger.Service, oracleSvc *oracle.Service, usageRepo usage.Repository, events EventPublisher, cfg Config) *Service {
	return &Service{
		ledger:    ledgerSvc,
		oracle:    oracleSvc,
		usageRepo: usageRepo,
		events:    events,
		cfg:       cfg,
		log:       logger.Get().With("component", "usage_meter"),
	}
}

// ComputeAndDebit computes the cost of one completion and debits it.
// Usage is recorded regardless of the debit outcome.
func (s *Service) ComputeAndDebit(
	ctx context.Context,
	conversationID string,
	userID int64,
	provider, model string,
	promptTokens, completionTokens int64,
	latency time.Duration,
) (*Result, error) {
	if promptTokens < 0 || completionTokens < 0 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "negative token counts")
	}

	cost, err := s.computeCost(ctx, promptTokens, completionTokens)
	if err != nil {
		return nil, errors.Wrap(err, "cost computation failed")
	}

	debit, err := s.ledger.Debit(ctx, conversationID, cost.Sats)
	if err != nil {
		return nil, err
	}

	rec := &usage.Record{
		Timestamp:        time.Now(),
		EventID:          uuid.NewString(),
		ConversationID:   conversationID,
		UserID:           userID,
		Provider:         provider,
		ModelID:          model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		InputCostUSD:     cost.InputUSD.InexactFloat64(),
		OutputCostUSD:    cost.OutputUSD.InexactFloat64(),
		TotalCostUSD:     cost.TotalUSD.InexactFloat64(),
		CostSats:         cost.Sats,
		DebitOK:          debit.OK,
		BalanceAfter:     debit.Remaining,
		LatencyMs:        latency.Milliseconds(),
		CreatedAt:        time.Now(),
	}
	s.recordUsage(ctx, rec)
	s.publishUsage(ctx, rec)

	return &Result{OK: debit.OK, Remaining: debit.Remaining, Cost: cost}, nil
}

func (s *Service) computeCost(ctx context.Context, promptTokens, completionTokens int64) (Cost, error) {
	thousand := decimal.NewFromInt(1000)
	inputUSD := decimal.NewFromInt(promptTokens).Div(thousand).Mul(s.cfg.InputUSDPer1K)
	outputUSD := decimal.NewFromInt(completionTokens).Div(thousand).Mul(s.cfg.OutputUSDPer1K)
	totalUSD := inputUSD.Add(outputUSD)

	sats, err := s.oracle.ToSats(ctx, totalUSD)
	if err != nil {
		return Cost{}, err
	}

	return Cost{
		InputUSD:  inputUSD,
		OutputUSD: outputUSD,
		TotalUSD:  totalUSD,
		Sats:      sats,
	}, nil
}

// recordUsage is best effort: a failed usage log never blocks the reply path.
func (s *Service) recordUsage(ctx context.Context, rec *usage.Record) {
	if s.usageRepo == nil {
		return
	}
	if err := s.usageRepo.Store(ctx, rec); err != nil {
		s.log.Warnf("Failed to store usage record %s: %v", rec.EventID, err)
	}
}

// publishUsage is best effort, same as recordUsage.
func (s *Service) publishUsage(ctx context.Context, rec *usage.Record) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, kafka.TopicCompletions, rec.ConversationID, rec); err != nil {
		s.log.Warnf("Failed to publish usage event %s: %v", rec.EventID, err)
	}
}
