package funding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"abbot/internal/adapters/kafka"
	"abbot/internal/adapters/payments"
	"abbot/internal/domain/invoice"
	"abbot/internal/metrics"
	"abbot/internal/services/ledger"
	"abbot/internal/services/oracle"
	"abbot/pkg/errors"
	"abbot/pkg/logger"
	"abbot/pkg/qr"
)

// Config configures the funding workflow.
type Config struct {
	// PollInterval is the payment poll cadence per pending invoice.
	PollInterval time.Duration

	// FailureThreshold is the number of consecutive failed poll ticks after
	// which an operator event is published. The loop itself keeps going.
	FailureThreshold int

	// FallbackAddress is the static receiving address offered when invoice
	// creation fails.
	FallbackAddress string

	// PendingGrace extends the pending-registry TTL beyond invoice expiry so
	// a cancel command still resolves during the expiry transition.
	PendingGrace time.Duration

	// InvoiceDescription is the memo attached to created invoices.
	InvoiceDescription string
}

// Service orchestrates the funding workflow: validate the request, create
// the processor invoice, present it, poll until payment or expiry, credit
// the ledger, notify the result.
//
// Each pending invoice is polled by its own goroutine so one conversation's
// wait never blocks another's. A user cancel signals the goroutine instead
// of waiting out the expiry.
type Service struct {
	processor payments.Processor
	oracle    *oracle.Service
	ledger    *ledger.Service
	invoices  invoice.Repository
	pending   invoice.PendingRegistry
	notifier  Notifier
	events    EventPublisher
	cfg       Config
	log       *logger.Logger

	mu      sync.Mutex
	pollers map[string]*poller // invoice id -> poller
	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type poller struct {
	cancelCh chan struct{}
	once     sync.Once
}

// signal requests cancellation; safe to call more than once.
func (p *poller) signal() {
	p.once.Do(func() { close(p.cancelCh) })
}

// creationClaimTTL bounds the pending-slot reservation held across invoice
// creation; the slot is re-set with the real expiry once the invoice exists.
const creationClaimTTL = 2 * time.Minute

// NewService creates a new funding workflow service
func NewService(
	processor payments.Processor,
	oracleSvc *oracle.Service,
	ledgerSvc *ledger.Service,
	invoices invoice.Repository,
	pending invoice.PendingRegistry,
	notifier Notifier,
	events EventPublisher,
	cfg Config,
) *Service {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.PendingGrace == 0 {
		cfg.PendingGrace = 10 * time.Minute
	}
	if cfg.InvoiceDescription == "" {
		cfg.InvoiceDescription = "Chat balance top-up"
	}

	return &Service{
		processor: processor,
		oracle:    oracleSvc,
		ledger:    ledgerSvc,
		invoices:  invoices,
		pending:   pending,
		notifier:  notifier,
		events:    events,
		cfg:       cfg,
		pollers:   make(map[string]*poller),
		log:       logger.Get().With("component", "funding", "processor", processor.Name()),
	}
}

// Start prepares the service for spawning pollers. The given context bounds
// every poller: on shutdown pollers exit without touching invoice state, so
// pending invoices stay pending for the processor to settle or expire.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootCtx, s.cancel = context.WithCancel(ctx)
}

// Stop signals all pollers and waits for them to finish.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Wrapf(errors.ErrTimeout, "funding pollers did not stop within %v", timeout)
	}
}

// RequestFunding runs the workflow for one funding request. Validation
// failures and a pending-invoice conflict are returned to the caller for
// user display; nothing external happens in those cases.
func (s *Service) RequestFunding(
	ctx context.Context,
	conversationID string,
	amount decimal.Decimal,
	currency invoice.Currency,
) (*invoice.Invoice, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.NewValidationError("amount", "must be greater than zero", amount.String())
	}
	if currency != invoice.CurrencySAT && currency != invoice.CurrencyUSD {
		return nil, errors.NewValidationError("currency", "must be SAT or USD", string(currency))
	}

	// One pending invoice per conversation: a second request is rejected
	// rather than superseding, so no poller is ever orphaned. The slot is
	// claimed atomically before the processor call, so two concurrent
	// requests cannot both create real invoices; the claim TTL bounds how
	// long a crashed creation can hold the slot.
	claimed, err := s.pending.Claim(ctx, conversationID, creationClaimTTL)
	if err != nil {
		return nil, errors.Wrap(err, "pending registry unavailable")
	}
	if !claimed {
		if existing, err := s.pending.Get(ctx, conversationID); err == nil && existing != "" {
			return nil, errors.Wrapf(errors.ErrInvoicePending, "invoice %s", existing)
		}
		return nil, errors.ErrInvoicePending
	}

	sats, fiat, err := s.denominate(ctx, amount, currency)
	if err != nil {
		s.releaseClaim(conversationID)
		return nil, err
	}

	correlationID := uuid.New()
	issued, err := s.processor.CreateInvoice(ctx, payments.CreateRequest{
		CorrelationID: correlationID,
		Description:   s.cfg.InvoiceDescription,
		FiatAmount:    fiat,
		AmountSats:    sats,
	})
	if err != nil {
		s.releaseClaim(conversationID)
		s.reportCreationFailure(ctx, conversationID, correlationID, err)
		return nil, err
	}

	now := time.Now()
	inv := &invoice.Invoice{
		ID:                issued.InvoiceID,
		CorrelationID:     correlationID,
		ConversationID:    conversationID,
		Processor:         s.processor.Name(),
		RequestedAmount:   amount,
		RequestedCurrency: currency,
		AmountSats:        sats,
		FiatAmount:        fiat,
		PaymentRequest:    issued.PaymentRequest,
		State:             invoice.StatePending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(issued.ExpiresIn),
	}

	if err := s.invoices.Create(ctx, inv); err != nil {
		s.releaseClaim(conversationID)
		return nil, errors.Wrap(err, "failed to persist invoice")
	}
	if err := s.pending.Set(ctx, conversationID, inv.ID, issued.ExpiresIn+s.cfg.PendingGrace); err != nil {
		s.log.Warnf("Failed to register pending invoice %s: %v", inv.ID, err)
	}

	metrics.InvoicesCreated.WithLabelValues(s.processor.Name()).Inc()
	s.log.Infow("Invoice created",
		"invoice_id", inv.ID,
		"correlation_id", correlationID.String(),
		"conversation_id", conversationID,
		"sats", sats,
		"fiat_usd", fiat.StringFixed(2),
		"expires_at", inv.ExpiresAt.Format(time.RFC3339),
	)

	s.present(conversationID, inv)
	s.spawnPoller(inv)

	return inv, nil
}

// Cancel resolves the conversation's pending invoice and signals its poller
// to stop before the deadline.
func (s *Service) Cancel(ctx context.Context, conversationID string) error {
	invoiceID, err := s.pending.Get(ctx, conversationID)
	if err != nil {
		return errors.Wrap(errors.ErrNotFound, "no pending invoice for this conversation")
	}

	s.mu.Lock()
	p, ok := s.pollers[invoiceID]
	s.mu.Unlock()

	if !ok {
		// No live poller (e.g. process restarted); close out directly.
		s.close(context.Background(), invoiceID, conversationID, invoice.StateCancelled, true)
		return nil
	}

	p.signal()
	return nil
}

// HandleExternalPayment settles an invoice reported paid by a payment
// stream, ahead of the next poll tick. The polling loop remains
// authoritative; this is only a fast path.
func (s *Service) HandleExternalPayment(invoiceID string) {
	inv, err := s.invoices.GetByID(context.Background(), invoiceID)
	if err != nil {
		return // not one of ours
	}

	s.settle(context.Background(), inv)

	s.mu.Lock()
	p, ok := s.pollers[invoiceID]
	s.mu.Unlock()
	if ok {
		p.signal()
	}
}

// denominate computes both denominations of the requested amount from one
// rate observation.
func (s *Service) denominate(ctx context.Context, amount decimal.Decimal, currency invoice.Currency) (int64, decimal.Decimal, error) {
	switch currency {
	case invoice.CurrencySAT:
		sats := amount.IntPart()
		fiat, err := s.oracle.ToFiat(ctx, sats)
		if err != nil {
			return 0, decimal.Zero, err
		}
		return sats, fiat, nil
	default:
		sats, err := s.oracle.ToSats(ctx, amount)
		if err != nil {
			return 0, decimal.Zero, err
		}
		return sats, amount.Round(2), nil
	}
}

// present hands the payable string and its QR rendering to the user.
func (s *Service) present(conversationID string, inv *invoice.Invoice) {
	caption := fmt.Sprintf("⚡ Invoice for %d sats (≈ $%s). Expires %s.",
		inv.AmountSats, inv.FiatAmount.StringFixed(2), inv.ExpiresAt.Format(time.Kitchen))

	if png, err := qr.Encode(inv.PaymentRequest); err == nil {
		if err := s.notifier.SendImage(conversationID, png, caption); err != nil {
			s.log.Warnf("Failed to send invoice QR: %v", err)
		}
	} else {
		s.log.Warnf("Failed to render invoice QR: %v", err)
	}

	if err := s.notifier.SendText(conversationID, inv.PaymentRequest); err != nil {
		s.log.Warnf("Failed to send payment request: %v", err)
	}
}

func (s *Service) spawnPoller(inv *invoice.Invoice) {
	p := &poller{cancelCh: make(chan struct{})}

	s.mu.Lock()
	root := s.rootCtx
	s.pollers[inv.ID] = p
	s.mu.Unlock()

	if root == nil {
		root = context.Background()
	}

	s.wg.Add(1)
	go s.poll(root, p, inv)
}

// poll queries payment status on a fixed cadence until payment, expiry or
// cancellation. Transient errors skip the tick; the loop continues.
func (s *Service) poll(root context.Context, p *poller, inv *invoice.Invoice) {
	defer s.wg.Done()
	defer s.removePoller(inv.ID)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-root.Done():
			// Process shutdown: leave the invoice pending, the processor
			// remains the system of record.
			return

		case <-p.cancelCh:
			s.close(context.Background(), inv.ID, inv.ConversationID, invoice.StateCancelled, true)
			return

		case <-ticker.C:
			if time.Now().After(inv.ExpiresAt) {
				s.close(root, inv.ID, inv.ConversationID, invoice.StateExpired, true)
				return
			}

			paid, err := s.processor.IsPaid(root, inv.ID)
			if err != nil {
				consecutiveFailures++
				metrics.PollTicks.WithLabelValues("error").Inc()
				s.log.Warnf("Poll tick failed for invoice %s (%d consecutive): %v",
					inv.ID, consecutiveFailures, err)
				if consecutiveFailures == s.cfg.FailureThreshold {
					s.publish(root, kafka.TopicOperatorAlerts, inv.ID, map[string]interface{}{
						"kind":            "poll_failures",
						"invoice_id":      inv.ID,
						"conversation_id": inv.ConversationID,
						"failures":        consecutiveFailures,
					})
				}
				continue
			}
			consecutiveFailures = 0

			if paid {
				metrics.PollTicks.WithLabelValues("paid").Inc()
				s.settle(root, inv)
				return
			}
			metrics.PollTicks.WithLabelValues("unpaid").Inc()
		}
	}
}

// settle applies the paid transition and credits the balance. The
// conditional repository transition guarantees the credit is applied at
// most once no matter how many ticks or streams observe the payment.
func (s *Service) settle(ctx context.Context, inv *invoice.Invoice) {
	changed, err := s.invoices.Transition(ctx, inv.ID, invoice.StatePaid)
	if err != nil {
		s.log.Errorf("Failed to mark invoice %s paid: %v", inv.ID, err)
		return
	}
	if !changed {
		return // someone else already settled it
	}

	metrics.InvoicesClosed.WithLabelValues(string(invoice.StatePaid)).Inc()

	newBalance, err := s.ledger.Credit(ctx, inv.ConversationID, inv.AmountSats)
	if err != nil {
		// The invoice is marked paid but the credit failed; this needs an
		// operator, not a retry loop that could double-credit.
		s.log.ErrorWithContext(ctx, errors.Wrapf(err, "credit failed for paid invoice %s", inv.ID),
			map[string]string{
				"invoice_id":      inv.ID,
				"conversation_id": inv.ConversationID,
				"correlation_id":  inv.CorrelationID.String(),
			})
		return
	}

	if err := s.pending.Clear(ctx, inv.ConversationID); err != nil {
		s.log.Warnf("Failed to clear pending registry for %s: %v", inv.ConversationID, err)
	}

	s.publish(ctx, kafka.TopicInvoicePaid, inv.ID, map[string]interface{}{
		"invoice_id":      inv.ID,
		"conversation_id": inv.ConversationID,
		"correlation_id":  inv.CorrelationID.String(),
		"amount_sats":     inv.AmountSats,
		"balance":         newBalance,
	})

	text := fmt.Sprintf("✅ Payment received! %d sats credited. Balance: %d sats.",
		inv.AmountSats, newBalance)
	if err := s.notifier.SendText(inv.ConversationID, text); err != nil {
		s.log.Warnf("Failed to notify payment for %s: %v", inv.ID, err)
	}
}

// close moves a pending invoice to EXPIRED or CANCELLED, attempting a
// best-effort processor-side expire first.
func (s *Service) close(ctx context.Context, invoiceID, conversationID string, to invoice.State, notify bool) {
	supported, err := s.processor.Expire(ctx, invoiceID)
	if err != nil {
		s.log.Warnf("Processor expire failed for %s: %v", invoiceID, err)
	} else if !supported {
		s.log.Debugw("Processor does not support cancellation, invoice will self-expire",
			"invoice_id", invoiceID)
	}

	changed, err := s.invoices.Transition(ctx, invoiceID, to)
	if err != nil {
		s.log.Errorf("Failed to close invoice %s as %s: %v", invoiceID, to, err)
		return
	}
	if !changed {
		return
	}

	metrics.InvoicesClosed.WithLabelValues(string(to)).Inc()

	if err := s.pending.Clear(ctx, conversationID); err != nil {
		s.log.Warnf("Failed to clear pending registry for %s: %v", conversationID, err)
	}

	topic := kafka.TopicInvoiceExpired
	text := "⌛ Your invoice expired before payment. Run /fund again to retry."
	if to == invoice.StateCancelled {
		topic = kafka.TopicInvoiceCancelled
		text = "🚫 Invoice cancelled."
	}

	s.publish(ctx, topic, invoiceID, map[string]interface{}{
		"invoice_id":      invoiceID,
		"conversation_id": conversationID,
		"state":           string(to),
	})

	if notify {
		if err := s.notifier.SendText(conversationID, text); err != nil {
			s.log.Warnf("Failed to notify close of %s: %v", invoiceID, err)
		}
	}
}

func (s *Service) reportCreationFailure(ctx context.Context, conversationID string, correlationID uuid.UUID, cause error) {
	metrics.InvoiceCreationFailures.Inc()
	s.log.ErrorWithContext(ctx, errors.Wrap(cause, "invoice creation failed"), map[string]string{
		"conversation_id": conversationID,
		"correlation_id":  correlationID.String(),
	})

	s.publish(ctx, kafka.TopicOperatorAlerts, conversationID, map[string]interface{}{
		"kind":            "creation_failed",
		"conversation_id": conversationID,
		"correlation_id":  correlationID.String(),
		"error":           cause.Error(),
	})

	text := "❌ Could not create an invoice right now. Please try again later."
	if s.cfg.FallbackAddress != "" {
		text += fmt.Sprintf("\nYou can also pay manually to: %s", s.cfg.FallbackAddress)
	}
	if err := s.notifier.SendText(conversationID, text); err != nil {
		s.log.Warnf("Failed to notify creation failure: %v", err)
	}
}

func (s *Service) publish(ctx context.Context, topic, key string, event interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, topic, key, event); err != nil {
		s.log.Warnf("Failed to publish %s event: %v", topic, err)
	}
}

// releaseClaim frees the conversation's pending slot after a failed creation.
// A fresh context: the request context may already be cancelled.
func (s *Service) releaseClaim(conversationID string) {
	if err := s.pending.Clear(context.Background(), conversationID); err != nil {
		s.log.Warnf("Failed to release pending claim for %s: %v", conversationID, err)
	}
}

func (s *Service) removePoller(invoiceID string) {
	s.mu.Lock()
	delete(s.pollers, invoiceID)
	s.mu.Unlock()
}
