package conflict_test

import (
	"context"
	"database/sql/driver"
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
	"github.com/gravelroot/dispatch-core/internal/services/conflict"
)

var testDate = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.UTC)
}

func newResolver(t *testing.T) (*conflict.Resolver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	wrapped := &repository.Database{DB: sqlx.NewDb(db, "sqlmock")}
	return conflict.NewResolver(wrapped, repository.NewRepositories(wrapped)), mock
}

var apptCols = []string{
	"id", "tenant_id", "job_id", "staff_id", "group_id", "date", "start", "end", "status",
	"route_order", "arrived_at", "completed_at", "cancelled_at", "cancellation_reason",
	"rescheduled_from", "created_at", "updated_at",
}

func apptRow(id, tenantID, jobID, staffID uuid.UUID, day time.Time, start, end time.Time, status domain.AppointmentStatus) []driver.Value {
	return []driver.Value{
		id, tenantID, jobID, staffID, uuid.New(), day, start, end, string(status),
		0, nil, nil, nil, "",
		nil, day, day,
	}
}

var jobCols = []string{
	"id", "tenant_id", "job_number", "customer_id", "property_id", "service_offering_id",
	"category", "status", "priority", "estimated_minutes", "required_equipment",
	"required_staff_count", "preferred_start", "preferred_end", "price_snapshot", "notes",
	"created_at", "updated_at",
}

func expectJob(mock sqlmock.Sqlmock, tenantID, jobID uuid.UUID, status domain.JobStatus) {
	mock.ExpectQuery(`(?s)SELECT (.+) FROM jobs WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(jobID, tenantID).
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(
			jobID, tenantID, "JOB-2026-0002", uuid.New(), uuid.New(), uuid.New(),
			"repair", string(status), 1, 60, "{}",
			1, nil, nil, "95.00", "",
			testDate, testDate))
}

func expectDateLock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 1))
}

// Cancelling a confirmed appointment with add_to_waitlist creates one
// entry carrying the cancelled appointment's job and date.
func TestCancel_ConfirmedWithWaitlist(t *testing.T) {
	resolver, mock := newResolver(t)
	tenantID, apptID, jobID, staffID := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(apptID, tenantID).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(apptRow(apptID, tenantID, jobID, staffID, testDate, at(testDate, 9), at(testDate, 10), domain.ApptConfirmed)...))
	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND job_id = \$2 AND date = \$3`).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(apptRow(apptID, tenantID, jobID, staffID, testDate, at(testDate, 9), at(testDate, 10), domain.ApptConfirmed)...))

	mock.ExpectBegin()
	expectDateLock(mock)
	mock.ExpectExec(`UPDATE appointments SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectJob(mock, tenantID, jobID, domain.JobScheduled)
	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs(domain.JobApproved, jobID, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO job_status_history`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO schedule_waitlist`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := resolver.Cancel(context.Background(), tenantID, apptID, uuid.New(), conflict.CancelInput{
		Reason:        "customer travelling",
		AddToWaitlist: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ApptCancelled, result.Appointment.Status)
	require.NotNil(t, result.WaitlistEntry)
	assert.Equal(t, jobID, result.WaitlistEntry.JobID)
	assert.True(t, result.WaitlistEntry.PreferredDate.Equal(testDate))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_RejectsCompletedAppointment(t *testing.T) {
	resolver, mock := newResolver(t)
	tenantID, apptID := uuid.New(), uuid.New()

	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(apptID, tenantID).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(apptRow(apptID, tenantID, uuid.New(), uuid.New(), testDate, at(testDate, 9), at(testDate, 10), domain.ApptCompleted)...))

	_, err := resolver.Cancel(context.Background(), tenantID, apptID, uuid.New(), conflict.CancelInput{Reason: "too late"})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindStateRejected, appErr.Kind)
}

func TestCancel_RequiresReason(t *testing.T) {
	resolver, _ := newResolver(t)
	_, err := resolver.Cancel(context.Background(), uuid.New(), uuid.New(), uuid.New(), conflict.CancelInput{})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}

func expectAvailability(mock sqlmock.Sqlmock, tenantID, staffID uuid.UUID, day time.Time) {
	cols := []string{"id", "tenant_id", "staff_id", "date", "window_start", "window_end",
		"lunch_start", "lunch_duration_minutes", "available"}
	mock.ExpectQuery(`(?s)SELECT (.+) FROM staff_availability\s+WHERE tenant_id = \$1 AND staff_id = \$2 AND date = \$3`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			uuid.New(), tenantID, staffID, day, at(day, 8), at(day, 17), nil, 0, true))
}

// Rescheduling cancels the original and creates the replacement in one
// transaction, with the replacement chained to its predecessor.
func TestReschedule_ChainsReplacementToOriginal(t *testing.T) {
	resolver, mock := newResolver(t)
	tenantID, apptID, jobID, staffID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	newDate := testDate.AddDate(0, 0, 2)

	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(apptID, tenantID).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(apptRow(apptID, tenantID, jobID, staffID, testDate, at(testDate, 9), at(testDate, 10), domain.ApptScheduled)...))
	expectAvailability(mock, tenantID, staffID, newDate)
	// Once while validating the window, once to pick the route order.
	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND staff_id = \$2 AND date = \$3`).
		WillReturnRows(sqlmock.NewRows(apptCols))
	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND staff_id = \$2 AND date = \$3`).
		WillReturnRows(sqlmock.NewRows(apptCols))

	mock.ExpectBegin()
	expectDateLock(mock) // original date
	expectDateLock(mock) // target date
	mock.ExpectExec(`UPDATE appointments SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO appointments`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	replacement, err := resolver.Reschedule(context.Background(), tenantID, apptID, uuid.New(), conflict.RescheduleInput{
		NewDate:  newDate,
		NewStart: at(newDate, 11),
		NewEnd:   at(newDate, 12),
	})
	require.NoError(t, err)
	require.NotNil(t, replacement.RescheduledFrom)
	assert.Equal(t, apptID, *replacement.RescheduledFrom)
	assert.Equal(t, staffID, replacement.StaffID)
	assert.Equal(t, domain.ApptScheduled, replacement.Status)
	assert.True(t, replacement.Start.Equal(at(newDate, 11)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReschedule_RejectsOverlappingWindow(t *testing.T) {
	resolver, mock := newResolver(t)
	tenantID, apptID, jobID, staffID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	newDate := testDate.AddDate(0, 0, 2)

	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(apptID, tenantID).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(apptRow(apptID, tenantID, jobID, staffID, testDate, at(testDate, 9), at(testDate, 10), domain.ApptScheduled)...))
	expectAvailability(mock, tenantID, staffID, newDate)
	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND staff_id = \$2 AND date = \$3`).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(apptRow(uuid.New(), tenantID, uuid.New(), staffID, newDate, at(newDate, 11), at(newDate, 12), domain.ApptScheduled)...))

	_, err := resolver.Reschedule(context.Background(), tenantID, apptID, uuid.New(), conflict.RescheduleInput{
		NewDate:  newDate,
		NewStart: at(newDate, 11),
		NewEnd:   at(newDate, 12),
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindStateRejected, appErr.Kind)
}

func TestReschedule_RejectsInvertedWindow(t *testing.T) {
	resolver, _ := newResolver(t)
	newDate := testDate.AddDate(0, 0, 2)
	_, err := resolver.Reschedule(context.Background(), uuid.New(), uuid.New(), uuid.New(), conflict.RescheduleInput{
		NewDate:  newDate,
		NewStart: at(newDate, 12),
		NewEnd:   at(newDate, 11),
	})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}
