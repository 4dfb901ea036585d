package pricefeed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

const (
	defaultCoinGeckoURL = "https://api.coingecko.com"
	defaultHTTPTimeout  = 10 * time.Second
)

var satsPerBTC = decimal.NewFromInt(100_000_000)

// CoinGeckoConfig configures the CoinGecko price source.
type CoinGeckoConfig struct {
	BaseURL string

	// FetchTimeout bounds each price fetch; applied when HTTPClient is not
	// supplied.
	FetchTimeout time.Duration
	HTTPClient   *http.Client
}

// NewCoinGecko creates a CoinGecko price source. The simple-price endpoint
// is unauthenticated.
func NewCoinGecko(cfg CoinGeckoConfig) Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCoinGeckoURL
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = defaultHTTPTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.FetchTimeout}
	}

	return &coinGecko{
		cfg: cfg,
		log: logger.Get().With("component", "coingecko"),
	}
}

type coinGecko struct {
	cfg CoinGeckoConfig
	log *logger.Logger
}

func (c *coinGecko) Name() string {
	return "coingecko"
}

// SatsPerUSD fetches the BTC/USD spot price and inverts it to sats per USD.
func (c *coinGecko) SatsPerUSD(ctx context.Context) (decimal.Decimal, error) {
	url := c.cfg.BaseURL + "/api/v3/simple/price?ids=bitcoin&vs_currencies=usd"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, errors.Wrapf(errors.ErrUnavailable, "coingecko status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}

	var res struct {
		Bitcoin struct {
			USD json.Number `json:"usd"`
		} `json:"bitcoin"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return decimal.Zero, errors.Wrap(err, "unparseable price response")
	}

	usdPerBTC, err := decimal.NewFromString(res.Bitcoin.USD.String())
	if err != nil || usdPerBTC.IsZero() {
		return decimal.Zero, errors.Wrapf(errors.ErrUnavailable, "invalid BTC price %q", res.Bitcoin.USD)
	}

	return satsPerBTC.Div(usdPerBTC), nil
}
