package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies a concrete payment processor. The processor is a strategy
// chosen once at process start; callers never branch on processor identity.
type Kind string

const (
	KindStrike   Kind = "strike"
	KindLNbits   Kind = "lnbits"
	KindOpenNode Kind = "opennode"
)

// ParseKind validates a configured processor kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindStrike, KindLNbits, KindOpenNode:
		return Kind(s), true
	}
	return "", false
}

// CreateRequest describes one invoice creation attempt. The caller supplies
// both denominations, computed from the same exchange rate observation, so
// each processor can use whichever its API requires (Strike and OpenNode
// bill in fiat, LNbits in sats).
//
// CorrelationID must be unique per attempt: a processor-side invoice carries
// real monetary exposure if paid, and a reused id would make a retried
// request indistinguishable from a duplicate.
type CreateRequest struct {
	CorrelationID uuid.UUID
	Description   string
	FiatAmount    decimal.Decimal // USD
	AmountSats    int64
}

// Issued is the processor's answer to a successful creation.
type Issued struct {
	InvoiceID      string
	PaymentRequest string
	ExpiresIn      time.Duration
}

// Processor is the unified contract each payment back-end must satisfy.
//
// Transport errors are never retried inside a processor; retry policy belongs
// to the caller's polling loop, which re-queries on a fixed cadence.
type Processor interface {
	Name() string

	// CreateInvoice creates a processor-side invoice. A network failure or a
	// response missing the invoice id or payment request is reported as
	// errors.ErrInvoiceCreation.
	CreateInvoice(ctx context.Context, req CreateRequest) (*Issued, error)

	// IsPaid reports whether the invoice has settled. Pure query, safe to
	// call repeatedly.
	IsPaid(ctx context.Context, invoiceID string) (bool, error)

	// Expire requests processor-side cancellation, best effort. Processors
	// without a cancel endpoint return (false, nil); their invoices
	// self-expire and the caller still converges on a terminal local state.
	Expire(ctx context.Context, invoiceID string) (bool, error)
}
