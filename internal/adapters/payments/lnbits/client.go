package lnbits

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"abbot/internal/adapters/payments"
	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

const defaultHTTPTimeout = 10 * time.Second

// Config configures the LNbits client.
type Config struct {
	BaseURL string // e.g. https://legend.lnbits.com
	APIKey  string // invoice/read key of the wallet

	// InvoiceExpiry is the expiry requested for created invoices.
	InvoiceExpiry time.Duration

	HTTPClient *http.Client
}

// NewClient creates a new LNbits adapter.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "lnbits base url is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "lnbits api key is required")
	}
	if cfg.InvoiceExpiry == 0 {
		cfg.InvoiceExpiry = time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{
		cfg: cfg,
		log: logger.Get().With("component", "lnbits"),
	}, nil
}

// Client implements payments.Processor against the LNbits wallet API.
// LNbits bills in sats and has no cancel endpoint; invoices self-expire.
type Client struct {
	cfg Config
	log *logger.Logger
}

var _ payments.Processor = (*Client)(nil)

func (c *Client) Name() string {
	return string(payments.KindLNbits)
}

func (c *Client) CreateInvoice(ctx context.Context, req payments.CreateRequest) (*payments.Issued, error) {
	body := map[string]interface{}{
		"out":    false,
		"amount": req.AmountSats,
		"memo":   req.Description,
		"expiry": int64(c.cfg.InvoiceExpiry.Seconds()),
		"extra": map[string]string{
			"correlation_id": req.CorrelationID.String(),
		},
	}

	data, err := c.do(ctx, http.MethodPost, "/api/v1/payments", body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, err.Error())
	}

	var res struct {
		PaymentHash    string `json:"payment_hash"`
		PaymentRequest string `json:"payment_request"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, "unparseable payment response")
	}
	if res.PaymentHash == "" || res.PaymentRequest == "" {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, "response missing payment_hash or payment_request")
	}

	return &payments.Issued{
		InvoiceID:      res.PaymentHash,
		PaymentRequest: res.PaymentRequest,
		ExpiresIn:      c.cfg.InvoiceExpiry,
	}, nil
}

func (c *Client) IsPaid(ctx context.Context, invoiceID string) (bool, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+invoiceID, nil)
	if err != nil {
		return false, err
	}

	var res struct {
		Paid bool `json:"paid"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return false, errors.Wrap(err, "unparseable payment status")
	}

	return res.Paid, nil
}

// Expire always reports unsupported: LNbits exposes no cancel endpoint, the
// invoice self-expires after its requested expiry.
func (c *Client) Expire(ctx context.Context, invoiceID string) (bool, error) {
	return false, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
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
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
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
			"lnbits %s %s: status %d", method, path, resp.StatusCode)
	}

	return data, nil
}
