package rate

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate is a cached point-in-time exchange rate, always expressed as
// payment-currency units per one fiat unit (sats per USD) so conversion is
// multiplicative in both directions.
type ExchangeRate struct {
	SatsPerFiat decimal.Decimal
	Pair        string
	ObservedAt  time.Time
}

// Fresh reports whether the rate may be reused without a live refresh.
func (r ExchangeRate) Fresh(window time.Duration, now time.Time) bool {
	if r.ObservedAt.IsZero() {
		return false
	}
	return now.Sub(r.ObservedAt) < window
}

// IsZero reports whether the rate has never been observed.
func (r ExchangeRate) IsZero() bool {
	return r.ObservedAt.IsZero() || r.SatsPerFiat.IsZero()
}
