package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gravelroot/dispatch-core/internal/domain"
)

// InvoiceRepository persists domain.Invoice records.
type InvoiceRepository struct {
	db *Database
}

func NewInvoiceRepository(db *Database) *InvoiceRepository { return &InvoiceRepository{db: db} }

const invoiceColumns = `id, tenant_id, job_id, customer_id, amount, late_fee_amount, paid_amount,
	due_date, status, payment_method, lien_eligible, lien_warning_sent_at, lien_filed_date,
	created_at, updated_at`

func (r *InvoiceRepository) Create(ctx context.Context, inv *domain.Invoice) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO invoices (`+invoiceColumns+`) VALUES (
		:id, :tenant_id, :job_id, :customer_id, :amount, :late_fee_amount, :paid_amount,
		:due_date, :status, :payment_method, :lien_eligible, :lien_warning_sent_at, :lien_filed_date,
		:created_at, :updated_at)`, inv)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := r.db.GetContext(ctx, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, translateNotFound(err, "invoice")
	}
	return &inv, nil
}

func (r *InvoiceRepository) GetByJobID(ctx context.Context, tenantID, jobID uuid.UUID) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := r.db.GetContext(ctx, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE job_id = $1 AND tenant_id = $2`, jobID, tenantID)
	if err != nil {
		return nil, translateNotFound(err, "invoice")
	}
	return &inv, nil
}

func (r *InvoiceRepository) Update(ctx context.Context, inv *domain.Invoice) error {
	inv.UpdatedAt = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, `UPDATE invoices SET
		amount = :amount, late_fee_amount = :late_fee_amount, paid_amount = :paid_amount,
		due_date = :due_date, status = :status, payment_method = :payment_method,
		lien_eligible = :lien_eligible, lien_warning_sent_at = :lien_warning_sent_at,
		lien_filed_date = :lien_filed_date, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`, inv)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return nil
}

// ListLienWarningCandidates returns unpaid, lien-eligible invoices past
// the warning threshold that have not yet had a warning sent — the
// nightly worker's scan set, anchored to due_date.
func (r *InvoiceRepository) ListLienWarningCandidates(ctx context.Context, asOf time.Time, warningDays int) ([]*domain.Invoice, error) {
	var out []*domain.Invoice
	cutoff := asOf.AddDate(0, 0, -warningDays)
	err := r.db.SelectContext(ctx, &out, `SELECT `+invoiceColumns+` FROM invoices
		WHERE lien_eligible = true AND lien_warning_sent_at IS NULL AND status != 'paid' AND status != 'void'
		AND due_date <= $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list lien warning candidates: %w", err)
	}
	return out, nil
}

// ListOverdue returns every sent/viewed/partially_paid invoice whose
// due date has passed.
func (r *InvoiceRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]*domain.Invoice, error) {
	var out []*domain.Invoice
	err := r.db.SelectContext(ctx, &out, `SELECT `+invoiceColumns+` FROM invoices
		WHERE status IN ('sent', 'viewed', 'partially_paid') AND due_date < $1`, asOf)
	if err != nil {
		return nil, fmt.Errorf("list overdue invoices: %w", err)
	}
	return out, nil
}

// PaymentRepository persists domain.Payment records, the append-only
// ledger an invoice's paid_amount is derived from.
type PaymentRepository struct {
	db *Database
}

func NewPaymentRepository(db *Database) *PaymentRepository { return &PaymentRepository{db: db} }

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO payments
		(id, tenant_id, invoice_id, amount, method, paid_at)
		VALUES (:id, :tenant_id, :invoice_id, :amount, :method, :paid_at)`, p)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) ListForInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]*domain.Payment, error) {
	var out []*domain.Payment
	err := r.db.SelectContext(ctx, &out, `SELECT id, tenant_id, invoice_id, amount, method, paid_at
		FROM payments WHERE tenant_id = $1 AND invoice_id = $2 ORDER BY paid_at ASC`, tenantID, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list payments for invoice: %w", err)
	}
	return out, nil
}
