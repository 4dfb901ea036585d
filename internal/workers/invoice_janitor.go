package workers

import (
	"context"
	"time"

	"abbot/internal/domain/invoice"
)

// InvoiceJanitorWorker removes terminal invoices past the audit retention
// window. Pending invoices are never touched.
type InvoiceJanitorWorker struct {
	*BaseWorker
	invoices  invoice.Repository
	retention time.Duration
}

// NewInvoiceJanitorWorker creates a new invoice janitor
func NewInvoiceJanitorWorker(invoices invoice.Repository, interval, retention time.Duration) *InvoiceJanitorWorker {
	return &InvoiceJanitorWorker{
		BaseWorker: NewBaseWorker("invoice_janitor", interval, true),
		invoices:   invoices,
		retention:  retention,
	}
}

// Run deletes terminal invoices closed before the retention cutoff
func (w *InvoiceJanitorWorker) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-w.retention)

	removed, err := w.invoices.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	if removed > 0 {
		w.Log().Infof("Removed %d terminal invoices closed before %s", removed, cutoff.Format(time.RFC3339))
	}
	return nil
}
