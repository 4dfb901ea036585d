package lnbits

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"

	"abbot/pkg/logger"
	"abbot/pkg/reconnect"
)

// PaymentWatcher subscribes to the LNbits wallet payment stream and invokes
// a callback per settled payment. An optional fast path beside polling: the
// polling loop remains authoritative, the watcher only shortens the wait.
type PaymentWatcher struct {
	cfg    Config
	onPaid func(paymentHash string)
	rm     *reconnect.Manager
	log    *logger.Logger
}

// NewPaymentWatcher creates a watcher for the wallet identified by cfg.APIKey.
func NewPaymentWatcher(cfg Config, onPaid func(paymentHash string)) *PaymentWatcher {
	log := logger.Get().With("component", "lnbits_watcher")
	return &PaymentWatcher{
		cfg:    cfg,
		onPaid: onPaid,
		rm:     reconnect.NewManager(reconnect.Config{}, log),
		log:    log,
	}
}

// Run connects and consumes payment events until the context is cancelled.
// Connection failures back off exponentially; a long failure streak opens
// the circuit and attempts pause until the reset window elapses.
func (w *PaymentWatcher) Run(ctx context.Context) {
	url := w.wsURL()

	for ctx.Err() == nil {
		if !w.rm.CanAttempt() {
			if err := reconnect.Wait(ctx, w.rm.RecordFailure()); err != nil {
				return
			}
			continue
		}

		if err := w.consume(ctx, url); err != nil && ctx.Err() == nil {
			w.log.Warnf("Payment stream disconnected: %v", err)
			if err := reconnect.Wait(ctx, w.rm.RecordFailure()); err != nil {
				return
			}
		}
	}
}

func (w *PaymentWatcher) consume(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	w.rm.RecordSuccess()
	w.log.Info("Payment stream connected")

	// Close the connection when the context is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event struct {
			Payment struct {
				PaymentHash string `json:"payment_hash"`
				Pending     bool   `json:"pending"`
			} `json:"payment"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			w.log.Debugf("Skipping unparseable stream message: %v", err)
			continue
		}

		if event.Payment.PaymentHash != "" && !event.Payment.Pending {
			w.onPaid(event.Payment.PaymentHash)
		}
	}
}

func (w *PaymentWatcher) wsURL() string {
	base := w.cfg.BaseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/api/v1/ws/" + w.cfg.APIKey
}
