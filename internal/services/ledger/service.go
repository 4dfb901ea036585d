package ledger

import (
	"context"

	"abbot/internal/domain/balance"
	"abbot/internal/metrics"
	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

// DebitResult is the outcome of a debit attempt. Insufficient funds is a
// normal negative result, not an error.
type DebitResult struct {
	OK        bool
	Remaining int64
}

// Service is the balance ledger: per-conversation prepaid balances in sats.
// Atomicity lives in the repository; the service adds validation, logging
// and metrics.
type Service struct {
	repo balance.Repository
	log  *logger.Logger
}

// NewService creates a new ledger service
func NewService(repo balance.Repository) *Service {
	return &Service{
		repo: repo,
		log:  logger.Get().With("component", "ledger"),
	}
}

// Balance returns the conversation's balance in sats, 0 if unknown.
func (s *Service) Balance(ctx context.Context, conversationID string) (int64, error) {
	return s.repo.Get(ctx, conversationID)
}

// Debit atomically reduces the balance if the full amount is covered.
func (s *Service) Debit(ctx context.Context, conversationID string, sats int64) (DebitResult, error) {
	if sats < 0 {
		return DebitResult{}, errors.Wrapf(errors.ErrNegativeAmount, "debit of %d sats", sats)
	}

	ok, remaining, err := s.repo.Debit(ctx, conversationID, sats)
	if err != nil {
		return DebitResult{}, errors.Wrap(err, "debit failed")
	}

	if ok {
		metrics.LedgerDebits.WithLabelValues("ok").Inc()
		s.log.Debugw("Balance debited",
			"conversation_id", conversationID,
			"sats", sats,
			"remaining", remaining,
		)
	} else {
		metrics.LedgerDebits.WithLabelValues("insufficient").Inc()
		s.log.Infow("Debit refused, insufficient funds",
			"conversation_id", conversationID,
			"sats", sats,
			"balance", remaining,
		)
	}

	return DebitResult{OK: ok, Remaining: remaining}, nil
}

// Credit atomically increases the balance and returns the new total.
func (s *Service) Credit(ctx context.Context, conversationID string, sats int64) (int64, error) {
	if sats < 0 {
		return 0, errors.Wrapf(errors.ErrNegativeAmount, "credit of %d sats", sats)
	}

	newBalance, err := s.repo.Credit(ctx, conversationID, sats)
	if err != nil {
		return 0, errors.Wrap(err, "credit failed")
	}

	metrics.LedgerCredits.Inc()
	s.log.Infow("Balance credited",
		"conversation_id", conversationID,
		"sats", sats,
		"balance", newBalance,
	)

	return newBalance, nil
}
