package memory

import (
	"context"
	"sync"
	"time"

	"abbot/internal/domain/invoice"
	"abbot/pkg/errors"
)

// Compile-time check
var _ invoice.Repository = (*InvoiceRepository)(nil)

// InvoiceRepository is an in-memory invoice.Repository. Transition holds the
// lock across the state check and write, preserving the at-most-once
// guarantee the Postgres conditional UPDATE provides.
type InvoiceRepository struct {
	mu       sync.Mutex
	invoices map[string]*invoice.Invoice
}

// NewInvoiceRepository creates an empty in-memory invoice store
func NewInvoiceRepository() *InvoiceRepository {
	return &InvoiceRepository{
		invoices: make(map[string]*invoice.Invoice),
	}
}

// Create persists a new pending invoice
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.invoices[inv.ID]; ok {
		return errors.ErrAlreadyExists
	}

	clone := *inv
	r.invoices[inv.ID] = &clone
	return nil
}

// GetByID returns a copy of the invoice or errors.ErrNotFound
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*invoice.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invoices[id]
	if !ok {
		return nil, errors.ErrNotFound
	}

	clone := *inv
	return &clone, nil
}

// Transition moves a pending invoice to a terminal state, reporting whether
// this call performed the transition
func (r *InvoiceRepository) Transition(ctx context.Context, id string, to invoice.State) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invoices[id]
	if !ok {
		return false, errors.ErrNotFound
	}
	if inv.State != invoice.StatePending {
		return false, nil
	}

	inv.State = to
	inv.ClosedAt = time.Now()
	return true, nil
}

// DeleteTerminalBefore removes terminal invoices closed before the cutoff
func (r *InvoiceRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, inv := range r.invoices {
		if inv.State.Terminal() && inv.ClosedAt.Before(cutoff) {
			delete(r.invoices, id)
			removed++
		}
	}

	return removed, nil
}
