package invoice

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is the local lifecycle state of an invoice. The processor is the
// system of record; local state is a cache refreshed by polling. The only
// legal transitions are Pending -> {Paid, Expired, Cancelled}.
type State string

const (
	StatePending   State = "PENDING"
	StatePaid      State = "PAID"
	StateExpired   State = "EXPIRED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether the state is immutable.
func (s State) Terminal() bool {
	return s == StatePaid || s == StateExpired || s == StateCancelled
}

// Currency is the denomination of a user funding request.
type Currency string

const (
	CurrencySAT Currency = "SAT"
	CurrencyUSD Currency = "USD"
)

// ParseCurrency validates a user-supplied currency string.
func ParseCurrency(s string) (Currency, bool) {
	switch Currency(s) {
	case CurrencySAT, CurrencyUSD:
		return Currency(s), true
	}
	return "", false
}

// Invoice represents one funding request and its processor-side invoice.
type Invoice struct {
	ID             string    `db:"id"` // processor-assigned, opaque
	CorrelationID  uuid.UUID `db:"correlation_id"`
	ConversationID string    `db:"conversation_id"`
	Processor      string    `db:"processor"`

	RequestedAmount   decimal.Decimal `db:"requested_amount"`
	RequestedCurrency Currency        `db:"requested_currency"`

	// AmountSats is the metering credit applied on payment.
	AmountSats int64 `db:"amount_sats"`
	// FiatAmount is the USD equivalent at creation time.
	FiatAmount decimal.Decimal `db:"fiat_amount"`

	PaymentRequest string `db:"payment_request"`

	State     State     `db:"state"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
	ClosedAt  time.Time `db:"closed_at"` // zero until terminal
}

// Expired reports whether the processor-supplied deadline has elapsed.
func (i *Invoice) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
