package postgres

import (
	"context"
	"database/sql"
	"time"

	"abbot/internal/domain/invoice"
	"abbot/pkg/errors"
)

// Compile-time check
var _ invoice.Repository = (*InvoiceRepository)(nil)

// InvoiceRepository implements invoice.Repository using sqlx
type InvoiceRepository struct {
	db DBTX
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Create inserts a new pending invoice
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	query := `
		INSERT INTO invoices (
			id, correlation_id, conversation_id, processor,
			requested_amount, requested_currency,
			amount_sats, fiat_amount, payment_request,
			state, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := r.db.ExecContext(ctx, query,
		inv.ID, inv.CorrelationID, inv.ConversationID, inv.Processor,
		inv.RequestedAmount, inv.RequestedCurrency,
		inv.AmountSats, inv.FiatAmount, inv.PaymentRequest,
		inv.State, inv.CreatedAt, inv.ExpiresAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create invoice")
	}

	return nil
}

// GetByID retrieves an invoice by its processor-assigned ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*invoice.Invoice, error) {
	var row struct {
		invoice.Invoice
		ClosedAt sql.NullTime `db:"closed_at"`
	}

	query := `SELECT * FROM invoices WHERE id = $1`

	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get invoice")
	}

	inv := row.Invoice
	if row.ClosedAt.Valid {
		inv.ClosedAt = row.ClosedAt.Time
	}

	return &inv, nil
}

// Transition atomically moves a pending invoice to a terminal state.
// The state='PENDING' guard makes the transition at-most-once: concurrent
// settlers race on this UPDATE and exactly one observes a changed row.
func (r *InvoiceRepository) Transition(ctx context.Context, id string, to invoice.State) (bool, error) {
	query := `
		UPDATE invoices
		SET state = $2, closed_at = NOW()
		WHERE id = $1 AND state = 'PENDING'`

	res, err := r.db.ExecContext(ctx, query, id, to)
	if err != nil {
		return false, errors.Wrap(err, "failed to transition invoice")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}

	return affected == 1, nil
}

// DeleteTerminalBefore removes terminal invoices closed before the cutoff
func (r *InvoiceRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM invoices
		WHERE state != 'PENDING' AND closed_at < $1`

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete terminal invoices")
	}

	return res.RowsAffected()
}
