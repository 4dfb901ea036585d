package pricefeed

import (
	"context"

	"github.com/shopspring/decimal"
)

// Source fetches a live exchange rate from an external price API.
// Rates are expressed as sats per one USD.
type Source interface {
	Name() string
	SatsPerUSD(ctx context.Context) (decimal.Decimal, error)
}
