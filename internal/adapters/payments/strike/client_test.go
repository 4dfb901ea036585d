package strike

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbot/internal/adapters/payments"
	"abbot/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) payments.Processor {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestCreateInvoice_IssuesAndQuotes(t *testing.T) {
	correlationID := uuid.New()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, correlationID.String(), body["correlationId"])

		amount := body["amount"].(map[string]interface{})
		assert.Equal(t, "USD", amount["currency"])
		assert.Equal(t, "2.50", amount["amount"])

		_ = json.NewEncoder(w).Encode(map[string]string{"invoiceId": "abc-123"})
	})
	mux.HandleFunc("POST /v1/invoices/abc-123/quote", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"lnInvoice":       "lnbc25u1pexample",
			"expirationInSec": 900,
		})
	})

	c := newTestClient(t, mux)

	issued, err := c.CreateInvoice(context.Background(), payments.CreateRequest{
		CorrelationID: correlationID,
		Description:   "top-up",
		FiatAmount:    decimal.RequireFromString("2.50"),
		AmountSats:    3846,
	})
	require.NoError(t, err)

	assert.Equal(t, "abc-123", issued.InvoiceID)
	assert.Equal(t, "lnbc25u1pexample", issued.PaymentRequest)
	assert.Equal(t, 15*time.Minute, issued.ExpiresIn)
}

func TestCreateInvoice_MissingInvoiceID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))

	_, err := c.CreateInvoice(context.Background(), payments.CreateRequest{
		CorrelationID: uuid.New(),
		FiatAmount:    decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvoiceCreation))
}

func TestCreateInvoice_QuoteMissingPaymentRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"invoiceId": "abc-123"})
	})
	mux.HandleFunc("POST /v1/invoices/abc-123/quote", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{})
	})

	c := newTestClient(t, mux)

	_, err := c.CreateInvoice(context.Background(), payments.CreateRequest{
		CorrelationID: uuid.New(),
		FiatAmount:    decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvoiceCreation))
}

func TestCreateInvoice_ServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))

	_, err := c.CreateInvoice(context.Background(), payments.CreateRequest{
		CorrelationID: uuid.New(),
		FiatAmount:    decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvoiceCreation))
}

func TestIsPaid(t *testing.T) {
	state := "UNPAID"
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/invoices/abc-123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"state": state})
	}))

	paid, err := c.IsPaid(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.False(t, paid)

	state = "PAID"
	paid, err = c.IsPaid(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.True(t, paid)
}

func TestIsPaid_TransportErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.IsPaid(context.Background(), "abc-123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProcessorUnavailable))
}

func TestExpire(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/invoices/abc-123/cancel", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"state": "CANCELLED"})
	}))

	supported, err := c.Expire(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.True(t, supported)
}
