package opennode

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

const (
	defaultBaseURL     = "https://api.opennode.com"
	defaultHTTPTimeout = 10 * time.Second
)

// Config configures the OpenNode client.
type Config struct {
	APIKey  string
	BaseURL string

	HTTPClient *http.Client
}

// NewClient creates a new OpenNode adapter.
func NewClient(cfg Config) (payments.Processor, error) {
	if cfg.APIKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "opennode api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &client{
		cfg: cfg,
		log: logger.Get().With("component", "opennode"),
	}, nil
}

type client struct {
	cfg Config
	log *logger.Logger
}

func (c *client) Name() string {
	return string(payments.KindOpenNode)
}

func (c *client) CreateInvoice(ctx context.Context, req payments.CreateRequest) (*payments.Issued, error) {
	body := map[string]interface{}{
		"amount":      req.FiatAmount.StringFixed(2),
		"currency":    "USD",
		"description": req.Description,
		"order_id":    req.CorrelationID.String(),
	}

	data, err := c.do(ctx, http.MethodPost, "/v1/charges", body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, err.Error())
	}

	var res struct {
		Data struct {
			ID               string `json:"id"`
			LightningInvoice struct {
				Payreq    string `json:"payreq"`
				ExpiresAt int64  `json:"expires_at"`
			} `json:"lightning_invoice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, "unparseable charge response")
	}
	if res.Data.ID == "" || res.Data.LightningInvoice.Payreq == "" {
		return nil, errors.Wrap(errors.ErrInvoiceCreation, "response missing charge id or payreq")
	}

	expiresIn := time.Hour
	if res.Data.LightningInvoice.ExpiresAt > 0 {
		if until := time.Until(time.Unix(res.Data.LightningInvoice.ExpiresAt, 0)); until > 0 {
			expiresIn = until
		}
	}

	return &payments.Issued{
		InvoiceID:      res.Data.ID,
		PaymentRequest: res.Data.LightningInvoice.Payreq,
		ExpiresIn:      expiresIn,
	}, nil
}

func (c *client) IsPaid(ctx context.Context, invoiceID string) (bool, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/charge/"+invoiceID, nil)
	if err != nil {
		return false, err
	}

	var res struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return false, errors.Wrap(err, "unparseable charge status")
	}

	return res.Data.Status == "paid", nil
}

// Expire always reports unsupported: OpenNode has no cancel endpoint,
// charges self-expire at their TTL.
func (c *client) Expire(ctx context.Context, invoiceID string) (bool, error) {
	return false, nil
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
	req.Header.Set("Authorization", c.cfg.APIKey)
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
			"opennode %s %s: status %d", method, path, resp.StatusCode)
	}

	return data, nil
}
