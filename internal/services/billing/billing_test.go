package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/billing"
	"github.com/gravelroot/dispatch-core/internal/services/comms"
)

var invoiceCols = []string{
	"id", "tenant_id", "job_id", "customer_id", "amount", "late_fee_amount", "paid_amount",
	"due_date", "status", "payment_method", "lien_eligible", "lien_warning_sent_at",
	"lien_filed_date", "created_at", "updated_at",
}

func newBillingService(t *testing.T) (*billing.Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	wrapped := &repository.Database{DB: sqlx.NewDb(db, "sqlmock")}
	repos := repository.NewRepositories(wrapped)
	logger := zap.NewNop().Sugar()
	commsService := comms.NewService(&comms.LogSender{Logger: logger}, repos)
	return billing.NewService(repos, commsService, logger, 45), mock
}

func expectInvoice(mock sqlmock.Sqlmock, invoiceID, tenantID uuid.UUID, amount, lateFee, paid, status string) {
	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)SELECT (.+) FROM invoices WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(invoiceID, tenantID).
		WillReturnRows(sqlmock.NewRows(invoiceCols).AddRow(
			invoiceID, tenantID, uuid.New(), uuid.New(), amount, lateFee, paid,
			now.AddDate(0, 0, 30), status, "", false, nil,
			nil, now, now,
		))
}

func TestRecordPayment_RejectsOverpayment(t *testing.T) {
	svc, mock := newBillingService(t)
	invoiceID, tenantID := uuid.New(), uuid.New()
	expectInvoice(mock, invoiceID, tenantID, "100.00", "10.00", "0.00", "sent")

	_, err := svc.RecordPayment(context.Background(), tenantID, invoiceID,
		decimal.RequireFromString("110.01"), "check")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPayment_PartialThenStatus(t *testing.T) {
	svc, mock := newBillingService(t)
	invoiceID, tenantID := uuid.New(), uuid.New()
	expectInvoice(mock, invoiceID, tenantID, "100.00", "0.00", "0.00", "sent")

	mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`(?s)SELECT (.+) FROM payments WHERE tenant_id = \$1 AND invoice_id = \$2`).
		WithArgs(tenantID, invoiceID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "invoice_id", "amount", "method", "paid_at"}).
			AddRow(uuid.New(), tenantID, invoiceID, "40.00", "check", time.Now().UTC()))
	mock.ExpectExec(`UPDATE invoices SET`).WillReturnResult(sqlmock.NewResult(0, 1))

	invoice, err := svc.RecordPayment(context.Background(), tenantID, invoiceID,
		decimal.RequireFromString("40.00"), "check")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePartiallyPaid, invoice.Status)
	assert.True(t, invoice.PaidAmount.Equal(decimal.RequireFromString("40.00")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPayment_FullPaymentMarksPaid(t *testing.T) {
	svc, mock := newBillingService(t)
	invoiceID, tenantID := uuid.New(), uuid.New()
	expectInvoice(mock, invoiceID, tenantID, "100.00", "0.00", "60.00", "partially_paid")

	mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`(?s)SELECT (.+) FROM payments WHERE tenant_id = \$1 AND invoice_id = \$2`).
		WithArgs(tenantID, invoiceID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "invoice_id", "amount", "method", "paid_at"}).
			AddRow(uuid.New(), tenantID, invoiceID, "60.00", "check", time.Now().UTC()).
			AddRow(uuid.New(), tenantID, invoiceID, "40.00", "card", time.Now().UTC()))
	mock.ExpectExec(`UPDATE invoices SET`).WillReturnResult(sqlmock.NewResult(0, 1))

	invoice, err := svc.RecordPayment(context.Background(), tenantID, invoiceID,
		decimal.RequireFromString("40.00"), "card")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, invoice.Status)
	assert.True(t, invoice.IsPaidInFull())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPayment_RejectsTerminalStatuses(t *testing.T) {
	svc, mock := newBillingService(t)
	invoiceID, tenantID := uuid.New(), uuid.New()
	expectInvoice(mock, invoiceID, tenantID, "100.00", "0.00", "100.00", "paid")

	_, err := svc.RecordPayment(context.Background(), tenantID, invoiceID,
		decimal.RequireFromString("1.00"), "check")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindStateRejected, appErr.Kind)
}

func TestFileLien_RequiresPriorWarning(t *testing.T) {
	svc, mock := newBillingService(t)
	invoiceID, tenantID := uuid.New(), uuid.New()

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)SELECT (.+) FROM invoices WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(invoiceID, tenantID).
		WillReturnRows(sqlmock.NewRows(invoiceCols).AddRow(
			invoiceID, tenantID, uuid.New(), uuid.New(), "480.00", "0.00", "0.00",
			now.AddDate(0, 0, -60), "overdue", "", true, nil,
			nil, now, now,
		))

	_, err := svc.FileLien(context.Background(), tenantID, invoiceID, now)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindStateRejected, appErr.Kind)
}
