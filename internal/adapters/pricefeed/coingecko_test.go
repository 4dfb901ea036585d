package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbot/pkg/errors"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) Source {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewCoinGecko(CoinGeckoConfig{BaseURL: srv.URL})
}

func TestSatsPerUSD_InvertsSpotPrice(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000}}`))
	})

	rate, err := src.SatsPerUSD(context.Background())
	require.NoError(t, err)

	// 100_000_000 sats per BTC at $65,000 per BTC
	expected := decimal.NewFromInt(100_000_000).Div(decimal.NewFromInt(65000))
	assert.True(t, rate.Equal(expected), "got %s", rate)
}

func TestSatsPerUSD_FractionalPrice(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64123.45}}`))
	})

	rate, err := src.SatsPerUSD(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.GreaterThan(decimal.NewFromInt(1500)))
	assert.True(t, rate.LessThan(decimal.NewFromInt(1600)))
}

func TestSatsPerUSD_ZeroPriceRejected(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":0}}`))
	})

	_, err := src.SatsPerUSD(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestSatsPerUSD_MissingPayloadRejected(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := src.SatsPerUSD(context.Background())
	require.Error(t, err)
}

func TestSatsPerUSD_FetchTimeoutBounds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000}}`))
	}))
	t.Cleanup(srv.Close)

	src := NewCoinGecko(CoinGeckoConfig{BaseURL: srv.URL, FetchTimeout: 50 * time.Millisecond})

	_, err := src.SatsPerUSD(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestSatsPerUSD_HTTPErrorSurfaces(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := src.SatsPerUSD(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}
