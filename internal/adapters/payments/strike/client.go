package strike

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"abbot/internal/adapters/payments"
	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

const (
	defaultBaseURL     = "https://api.strike.me"
	defaultHTTPTimeout = 10 * time.Second
)

// Config configures the Strike client.
type Config struct {
	APIKey  string
	BaseURL string

	HTTPClient *http.Client
}

// NewClient creates a new Strike adapter.
func NewClient(cfg Config) (payments.Processor, error) {
	if cfg.APIKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "strike api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &client{
		cfg: cfg,
		log: logger.Get().With("component", "strike"),
	}, nil
}

type client struct {
	cfg Config
	log *logger.Logger
}

func (c *client) Name() string {
	return string(payments.KindStrike)
}

// CreateInvoice issues the invoice and immediately requests a Lightning
// quote for it; the quote carries the payable bolt11 string and its expiry.
func (c *client) CreateInvoice(ctx context.Context, req payments.CreateRequest) (*payments.Issued, error) {
	body := map[string]interface{}{
		"correlationId": req.CorrelationID.String(),
		"description":   req.Description,
		"amount": map[string]string{
			"currency": "USD",
			"amount":   req.FiatAmount.StringFixed(2),
		},
	}

	data, err := c.do(ctx, http.MethodPost, "/v1/invoices", body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, err.Error())
	}

	var created struct {
		InvoiceID string `json:"invoiceId"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, "unparseable invoice response")
	}
	if created.InvoiceID == "" {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, "response missing invoiceId")
	}

	data, err = c.do(ctx, http.MethodPost, "/v1/invoices/"+created.InvoiceID+"/quote", nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, err.Error())
	}

	var quote struct {
		LnInvoice       string `json:"lnInvoice"`
		ExpirationInSec int64  `json:"expirationInSec"`
	}
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, "unparseable quote response")
	}
	if quote.LnInvoice == "" {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, "quote missing lnInvoice")
	}
	if quote.ExpirationInSec <= 0 {
		quote.ExpirationInSec = 3600
	}

	return &payments.Issued{
		InvoiceID:      created.InvoiceID,
		PaymentRequest: quote.LnInvoice,
		ExpiresIn:      time.Duration(quote.ExpirationInSec) * time.Second,
	}, nil
}

func (c *client) IsPaid(ctx context.Context, invoiceID string) (bool, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/invoices/"+invoiceID, nil)
	if err != nil {
		return false, err
	}

	var res struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return false, errors.Wrap(err, "unparseable invoice state")
	}

	return res.State == "PAID", nil
}

// Expire cancels the invoice processor-side. Strike rejects cancellation of
// already-settled invoices; that outcome is reported as (false, nil).
func (c *client) Expire(ctx context.Context, invoiceID string) (bool, error) {
	data, err := c.do(ctx, http.MethodPatch, "/v1/invoices/"+invoiceID+"/cancel", nil)
	if err != nil {
		return false, err
	}

	var res struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return false, errors.Wrap(err, "unparseable cancel response")
	}

	return res.State == "CANCELLED", nil
}

func (c *client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrProcessorUnavailable, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Wrapf(errors.ErrProcessorUnavailable,
			"strike %s %s: status %d: %s", method, path, resp.StatusCode, truncate(data, 256))
	}

	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s... (%d bytes)", b[:n], len(b))
}
