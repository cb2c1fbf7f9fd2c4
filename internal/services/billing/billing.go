// Package billing owns the invoice lifecycle: creation off a completed
// job, the payment ledger, late fees, overdue sweeps, and the
// mechanic's-lien warning/filing flow. Payment *processing* lives with
// an external collaborator; this module only records payments it is
// told about and keeps the ledger-derived paid amount consistent.
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/comms"
)

// Service applies invoice mutations and runs the periodic sweeps.
type Service struct {
	repos       *repository.Repositories
	comms       *comms.Service
	logger      *zap.SugaredLogger
	warningDays int
	clock       func() time.Time
}

func NewService(repos *repository.Repositories, commsService *comms.Service, logger *zap.SugaredLogger, warningDays int) *Service {
	return &Service{
		repos:       repos,
		comms:       commsService,
		logger:      logger,
		warningDays: warningDays,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateForJob drafts an invoice for a completed job using the job's
// price snapshot; lien eligibility comes from the service offering.
func (s *Service) CreateForJob(ctx context.Context, tenantID, jobID uuid.UUID, dueInDays int) (*domain.Invoice, error) {
	job, err := s.repos.Jobs.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobCompleted && job.Status != domain.JobClosed {
		return nil, apperr.StateRejectedf("job %s is not completed; cannot invoice", job.JobNumber)
	}
	offering, err := s.repos.ServiceOfferings.GetByID(ctx, tenantID, job.ServiceOfferingID)
	if err != nil {
		return nil, err
	}
	if dueInDays <= 0 {
		dueInDays = 30
	}
	now := s.clock()
	invoice := &domain.Invoice{
		ID:           uuid.New(),
		TenantID:     tenantID,
		JobID:        job.ID,
		CustomerID:   job.CustomerID,
		Amount:       job.PriceSnapshot,
		LateFeeAmount: decimal.Zero,
		PaidAmount:   decimal.Zero,
		DueDate:      now.AddDate(0, 0, dueInDays),
		Status:       domain.InvoiceDraft,
		LienEligible: offering.LienEligible,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repos.Invoices.Create(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// Transition moves an invoice along its lifecycle graph.
func (s *Service) Transition(ctx context.Context, tenantID, invoiceID uuid.UUID, next domain.InvoiceStatus) (*domain.Invoice, error) {
	invoice, err := s.repos.Invoices.GetByID(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.Status.CanTransition(next) {
		return nil, apperr.StateRejectedf("invoice cannot move from %s to %s", invoice.Status, next)
	}
	invoice.Status = next
	if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// RecordPayment appends a payment to the ledger, recomputes the paid
// amount from the full ledger, and advances the invoice status. An
// amount that would push the paid total past amount + late fee is
// rejected outright; the ledger never exceeds the total owed.
func (s *Service) RecordPayment(ctx context.Context, tenantID, invoiceID uuid.UUID, amount decimal.Decimal, method string) (*domain.Invoice, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("payment amount must be positive")
	}
	invoice, err := s.repos.Invoices.GetByID(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == domain.InvoicePaid || invoice.Status == domain.InvoiceVoid {
		return nil, apperr.StateRejectedf("invoice in status %s accepts no further payments", invoice.Status)
	}
	if invoice.PaidAmount.Add(amount).GreaterThan(invoice.Total()) {
		return nil, apperr.Validationf("payment of %s would exceed the invoice total %s",
			amount.StringFixed(2), invoice.Total().StringFixed(2))
	}

	payment := &domain.Payment{
		ID:        uuid.New(),
		TenantID:  tenantID,
		InvoiceID: invoice.ID,
		Amount:    amount,
		Method:    method,
		PaidAt:    s.clock(),
	}
	if err := s.repos.Payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	ledger, err := s.repos.Payments.ListForInvoice(ctx, tenantID, invoice.ID)
	if err != nil {
		return nil, err
	}
	paid := decimal.Zero
	for _, p := range ledger {
		paid = paid.Add(p.Amount)
	}
	invoice.PaidAmount = paid
	invoice.PaymentMethod = method

	switch {
	case invoice.IsPaidInFull() && invoice.Status.CanTransition(domain.InvoicePaid):
		invoice.Status = domain.InvoicePaid
	case !invoice.IsPaidInFull() && invoice.Status.CanTransition(domain.InvoicePartiallyPaid):
		invoice.Status = domain.InvoicePartiallyPaid
	}
	if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// ApplyLateFee sets the stored late fee on an unpaid invoice. The fee
// is stored, not recomputed, so the total a customer was quoted never
// drifts after the fact.
func (s *Service) ApplyLateFee(ctx context.Context, tenantID, invoiceID uuid.UUID, fee decimal.Decimal) (*domain.Invoice, error) {
	if fee.IsNegative() {
		return nil, apperr.Validation("late fee cannot be negative")
	}
	invoice, err := s.repos.Invoices.GetByID(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == domain.InvoicePaid || invoice.Status == domain.InvoiceVoid {
		return nil, apperr.StateRejectedf("cannot add a late fee to a %s invoice", invoice.Status)
	}
	invoice.LateFeeAmount = fee
	if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// FileLien records a lien filing date. Filing requires the invoice to
// be lien-eligible and a warning to have been sent first.
func (s *Service) FileLien(ctx context.Context, tenantID, invoiceID uuid.UUID, filedDate time.Time) (*domain.Invoice, error) {
	invoice, err := s.repos.Invoices.GetByID(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.LienEligible {
		return nil, apperr.StateRejected("invoice is not lien-eligible")
	}
	if invoice.LienWarningSentAt == nil {
		return nil, apperr.StateRejected("a lien warning must be sent before filing")
	}
	if invoice.LienFiledDate != nil {
		return nil, apperr.StateRejected("a lien has already been filed for this invoice")
	}
	invoice.LienFiledDate = &filedDate
	if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// MarkOverdueSweep flips every past-due open invoice to overdue and
// returns how many it touched. Run nightly by the worker.
func (s *Service) MarkOverdueSweep(ctx context.Context, asOf time.Time) (int, error) {
	overdue, err := s.repos.Invoices.ListOverdue(ctx, asOf)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, invoice := range overdue {
		if !invoice.Status.CanTransition(domain.InvoiceOverdue) {
			continue
		}
		invoice.Status = domain.InvoiceOverdue
		if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// LienWarningSweep sends the lien warning on every eligible unpaid
// invoice whose due date is at least warningDays in the past and has
// not been warned yet, stamping each on success. Returns the number of
// warnings sent. Run nightly by the worker.
func (s *Service) LienWarningSweep(ctx context.Context, asOf time.Time) (int, error) {
	candidates, err := s.repos.Invoices.ListLienWarningCandidates(ctx, asOf, s.warningDays)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, invoice := range candidates {
		if err := s.comms.SendLienWarning(ctx, invoice); err != nil {
			s.logger.Warnw("lien warning failed", "invoice_id", invoice.ID, "error", err)
			continue
		}
		now := s.clock()
		invoice.LienWarningSentAt = &now
		if err := s.repos.Invoices.Update(ctx, invoice); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
