package workers

import (
	"context"
	"time"

	"abbot/internal/services/oracle"
)

// RateRefresherWorker keeps the exchange rate cache warm so user-facing
// conversions rarely hit the staleness path
type RateRefresherWorker struct {
	*BaseWorker
	oracle *oracle.Service
}

// NewRateRefresherWorker creates a new rate refresher
func NewRateRefresherWorker(oracleSvc *oracle.Service, interval time.Duration) *RateRefresherWorker {
	return &RateRefresherWorker{
		BaseWorker: NewBaseWorker("rate_refresher", interval, true),
		oracle:     oracleSvc,
	}
}

// Run refreshes the cached rate if it has gone stale
func (w *RateRefresherWorker) Run(ctx context.Context) error {
	r, err := w.oracle.Rate(ctx)
	if err != nil {
		return err
	}

	w.Log().Debugw("Exchange rate refreshed",
		"sats_per_usd", r.SatsPerFiat.StringFixed(2),
		"observed_at", r.ObservedAt.Format(time.RFC3339),
	)
	return nil
}
