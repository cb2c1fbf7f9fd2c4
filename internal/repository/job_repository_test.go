package repository_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
)

func newMockDB(t *testing.T) (*repository.Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &repository.Database{DB: sqlx.NewDb(db, "sqlmock")}, mock
}

var jobCols = []string{
	"id", "tenant_id", "job_number", "customer_id", "property_id", "service_offering_id",
	"category", "status", "priority", "estimated_minutes", "required_equipment",
	"required_staff_count", "preferred_start", "preferred_end", "price_snapshot", "notes",
	"created_at", "updated_at",
}

func jobRowValues(id, tenantID uuid.UUID) []driver.Value {
	now := time.Now().UTC()
	return []driver.Value{
		id, tenantID, "JOB-2026-0007", uuid.New(), uuid.New(), uuid.New(),
		"seasonal", "approved", 0, 60, "{compressor}",
		1, nil, nil, "120.00", "",
		now, now,
	}
}

func TestJobRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repos := repository.NewRepositories(db)
	jobID, tenantID := uuid.New(), uuid.New()

	mock.ExpectQuery(`(?s)SELECT (.+) FROM jobs WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(jobID, tenantID).
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(jobRowValues(jobID, tenantID)...))

	job, err := repos.Jobs.GetByID(context.Background(), tenantID, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, domain.JobApproved, job.Status)
	assert.Equal(t, []string{"compressor"}, job.RequiredEquipment)
	assert.True(t, job.PriceSnapshot.Equal(job.PriceSnapshot.Truncate(2)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repos := repository.NewRepositories(db)
	jobID, tenantID := uuid.New(), uuid.New()

	mock.ExpectQuery(`(?s)SELECT (.+) FROM jobs WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(jobID, tenantID).
		WillReturnRows(sqlmock.NewRows(jobCols))

	_, err := repos.Jobs.GetByID(context.Background(), tenantID, jobID)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok, "expected a taxonomy error, got %v", err)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_NextJobNumber(t *testing.T) {
	db, mock := newMockDB(t)
	repos := repository.NewRepositories(db)
	tenantID := uuid.New()
	year := time.Now().UTC().Year()

	mock.ExpectQuery(`SELECT count\(\*\) FROM jobs WHERE tenant_id = \$1 AND job_number LIKE \$2`).
		WithArgs(tenantID, fmt.Sprintf("JOB-%d-%%", year)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(41))

	number, err := repos.Jobs.NextJobNumber(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("JOB-%d-0042", year), number)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_UpdateStatusTx_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repos := repository.NewRepositories(db)
	jobID, tenantID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs(domain.JobScheduled, jobID, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	err = repos.Jobs.UpdateStatusTx(context.Background(), tx, tenantID, jobID, domain.JobScheduled)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)
}

func TestInvoiceRepository_ListLienWarningCandidates(t *testing.T) {
	db, mock := newMockDB(t)
	repos := repository.NewRepositories(db)
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	invoiceCols := []string{
		"id", "tenant_id", "job_id", "customer_id", "amount", "late_fee_amount", "paid_amount",
		"due_date", "status", "payment_method", "lien_eligible", "lien_warning_sent_at",
		"lien_filed_date", "created_at", "updated_at",
	}
	due := asOf.AddDate(0, 0, -60)
	mock.ExpectQuery(`(?s)SELECT (.+) FROM invoices\s+WHERE lien_eligible = true AND lien_warning_sent_at IS NULL`).
		WithArgs(asOf.AddDate(0, 0, -45)).
		WillReturnRows(sqlmock.NewRows(invoiceCols).AddRow(
			uuid.New(), uuid.New(), uuid.New(), uuid.New(), "480.00", "0.00", "0.00",
			due, "overdue", "", true, nil,
			nil, due, due,
		))

	invoices, err := repos.Invoices.ListLienWarningCandidates(context.Background(), asOf, 45)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.True(t, invoices[0].LienEligible)
	assert.Nil(t, invoices[0].LienWarningSentAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslateNotFoundPassesThroughOtherErrors(t *testing.T) {
	db, mock := newMockDB(t)
	repos := repository.NewRepositories(db)
	jobID, tenantID := uuid.New(), uuid.New()

	boom := errors.New("connection reset")
	mock.ExpectQuery(`(?s)SELECT (.+) FROM jobs WHERE id`).WillReturnError(boom)

	_, err := repos.Jobs.GetByID(context.Background(), tenantID, jobID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	_, isAppErr := apperr.As(err)
	assert.False(t, isAppErr, "infrastructure errors stay out of the taxonomy")
}
