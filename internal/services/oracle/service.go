package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"abbot/internal/adapters/pricefeed"
	"abbot/internal/domain/rate"
	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

// Config configures the price oracle.
type Config struct {
	// StalenessWindow is the maximum age at which a cached rate may be
	// reused without a live refresh.
	StalenessWindow time.Duration

	// FloorSats is the smallest metering amount a conversion may produce.
	// Guards against issuing zero-value invoices.
	FloorSats int64

	// FloorFiat is the smallest representable fiat amount.
	FloorFiat decimal.Decimal

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Service caches the sats-per-USD exchange rate and performs conversions.
//
// A stale cache triggers exactly one live fetch: concurrent callers await
// the in-flight fetch instead of issuing redundant ones. A failed fetch
// falls back to the prior rate (logged, degraded mode); with no prior rate
// it surfaces ErrRateUnavailable.
type Service struct {
	source pricefeed.Source
	cfg    Config
	log    *logger.Logger

	mu       sync.Mutex
	cached   rate.ExchangeRate
	inflight *fetch
}

type fetch struct {
	done chan struct{}
	rate rate.ExchangeRate
	err  error
}

// NewService creates a new price oracle backed by the given source.
func NewService(source pricefeed.Source, cfg Config) *Service {
	if cfg.StalenessWindow == 0 {
		cfg.StalenessWindow = 15 * time.Minute
	}
	if cfg.FloorSats == 0 {
		cfg.FloorSats = 50
	}
	if cfg.FloorFiat.IsZero() {
		cfg.FloorFiat = decimal.RequireFromString("0.01")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		source: source,
		cfg:    cfg,
		log:    logger.Get().With("component", "price_oracle", "source", source.Name()),
	}
}

// Rate returns the cached rate if fresh, otherwise refreshes it.
func (s *Service) Rate(ctx context.Context) (rate.ExchangeRate, error) {
	s.mu.Lock()

	if s.cached.Fresh(s.cfg.StalenessWindow, s.cfg.Now()) {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}

	if s.inflight != nil {
		// Another caller is already fetching; await its result.
		f := s.inflight
		s.mu.Unlock()

		select {
		case <-f.done:
			return f.rate, f.err
		case <-ctx.Done():
			return rate.ExchangeRate{}, ctx.Err()
		}
	}

	f := &fetch{done: make(chan struct{})}
	s.inflight = f
	s.mu.Unlock()

	f.rate, f.err = s.refresh(ctx)

	s.mu.Lock()
	s.inflight = nil
	if f.err == nil {
		s.cached = f.rate
	}
	s.mu.Unlock()

	close(f.done)
	return f.rate, f.err
}

// refresh performs the live fetch, falling back to a stale prior rate on
// failure. The fallback is explicit and logged, never a silent default.
func (s *Service) refresh(ctx context.Context) (rate.ExchangeRate, error) {
	satsPerUSD, err := s.source.SatsPerUSD(ctx)
	if err == nil {
		fresh := rate.ExchangeRate{
			SatsPerFiat: satsPerUSD,
			Pair:        "SAT/USD",
			ObservedAt:  s.cfg.Now(),
		}
		s.log.Debugw("Exchange rate refreshed", "sats_per_usd", satsPerUSD.String())
		return fresh, nil
	}

	s.mu.Lock()
	prior := s.cached
	s.mu.Unlock()

	if !prior.IsZero() {
		s.log.Warnf("Rate fetch failed, serving stale rate observed at %s: %v",
			prior.ObservedAt.Format(time.RFC3339), err)
		return prior, nil
	}

	return rate.ExchangeRate{}, errors.Wrap(errors.ErrRateUnavailable, err.Error())
}

// ToSats converts a fiat amount to sats at the current rate. A result of
// zero or less is clamped to the configured floor.
func (s *Service) ToSats(ctx context.Context, fiat decimal.Decimal) (int64, error) {
	r, err := s.Rate(ctx)
	if err != nil {
		return 0, err
	}

	sats := fiat.Mul(r.SatsPerFiat).IntPart()
	if sats <= 0 {
		sats = s.cfg.FloorSats
	}
	return sats, nil
}

// ToFiat converts a sats amount to fiat at the current rate, rounded to two
// places. A result below the smallest representable unit is clamped to it.
func (s *Service) ToFiat(ctx context.Context, sats int64) (decimal.Decimal, error) {
	r, err := s.Rate(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	fiat := decimal.NewFromInt(sats).Div(r.SatsPerFiat).Round(2)
	if fiat.LessThan(s.cfg.FloorFiat) {
		fiat = s.cfg.FloorFiat
	}
	return fiat, nil
}
