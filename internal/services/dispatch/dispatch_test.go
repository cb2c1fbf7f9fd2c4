package dispatch_test

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

	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/constraint"
	"github.com/gravelroot/dispatch-core/internal/services/dispatch"
	"github.com/gravelroot/dispatch-core/internal/services/traveltime"
)

var (
	denver   = traveltime.Coordinate{Latitude: 39.7392, Longitude: -104.9903}
	testDate = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
)

func at(hour int) time.Time {
	return time.Date(testDate.Year(), testDate.Month(), testDate.Day(), hour, 0, 0, 0, time.UTC)
}

// newEngine builds the engine over a mocked database. Expectations are
// matched out of order: these flows interleave reads and writes, and
// the tests assert the set of statements, not their exact sequence.
func newEngine(t *testing.T) (*dispatch.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	wrapped := &repository.Database{DB: sqlx.NewDb(db, "sqlmock")}
	repos := repository.NewRepositories(wrapped)
	// Zero travel floor and identical coordinates keep slot arithmetic
	// exact in the assertions below.
	oracle := traveltime.NewGreatCircleOracle(40, 0, 0)
	checker := constraint.NewChecker(oracle)
	return dispatch.NewEngine(wrapped, repos, checker, oracle), mock
}

var jobCols = []string{
	"id", "tenant_id", "job_number", "customer_id", "property_id", "service_offering_id",
	"category", "status", "priority", "estimated_minutes", "required_equipment",
	"required_staff_count", "preferred_start", "preferred_end", "price_snapshot", "notes",
	"created_at", "updated_at",
}

type jobFixture struct {
	id         uuid.UUID
	propertyID uuid.UUID
	offeringID uuid.UUID
	status     domain.JobStatus
	priority   domain.JobPriority
	minutes    int
}

func jobRow(j jobFixture, tenantID uuid.UUID) []driver.Value {
	return []driver.Value{
		j.id, tenantID, "JOB-2026-0001", uuid.New(), j.propertyID, j.offeringID,
		"repair", string(j.status), int(j.priority), j.minutes, "{}",
		1, nil, nil, "120.00", "",
		testDate, testDate,
	}
}

func expectJob(mock sqlmock.Sqlmock, tenantID uuid.UUID, j jobFixture) {
	mock.ExpectQuery(`(?s)SELECT (.+) FROM jobs WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(j.id, tenantID).
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(jobRow(j, tenantID)...))
}

func expectProperty(mock sqlmock.Sqlmock, tenantID, propertyID uuid.UUID) {
	cols := []string{"id", "tenant_id", "customer_id", "latitude", "longitude", "zone_count",
		"system_type", "access_notes", "address", "city", "is_primary", "created_at", "updated_at"}
	mock.ExpectQuery(`(?s)SELECT (.+) FROM properties WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(propertyID, tenantID).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			propertyID, tenantID, uuid.New(), denver.Latitude, denver.Longitude, nil,
			"", "", "1200 Acoma St", "Denver", false, testDate, testDate))
}

func expectOffering(mock sqlmock.Sqlmock, tenantID, offeringID uuid.UUID) {
	cols := []string{"id", "tenant_id", "name", "category", "pricing_model", "base_price",
		"per_zone_price", "base_duration_minutes", "per_zone_duration_minutes",
		"required_equipment", "required_staff_count", "buffer_minutes", "lien_eligible",
		"prepay", "active"}
	mock.ExpectQuery(`(?s)SELECT (.+) FROM service_offerings\s+WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(offeringID, tenantID).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			offeringID, tenantID, "Repair", "repair", "flat", "120.00",
			"0.00", 60, 0,
			"{}", 1, 0, false,
			false, true))
}

func expectAvailableStaff(mock sqlmock.Sqlmock, tenantID, staffID uuid.UUID, windowStart, windowEnd time.Time) {
	availCols := []string{"id", "tenant_id", "staff_id", "date", "window_start", "window_end",
		"lunch_start", "lunch_duration_minutes", "available"}
	mock.ExpectQuery(`(?s)SELECT (.+) FROM staff_availability sa`).
		WillReturnRows(sqlmock.NewRows(availCols).AddRow(
			uuid.New(), tenantID, staffID, testDate, windowStart, windowEnd, nil, 0, true))

	staffCols := []string{"id", "tenant_id", "name", "role", "skill_level", "certifications",
		"assigned_equipment", "start_latitude", "start_longitude", "login_email",
		"password_hash", "available", "created_at", "updated_at"}
	mock.ExpectQuery(`(?s)SELECT (.+) FROM staff\s+WHERE tenant_id = \$1 AND id = ANY\(\$2\)`).
		WillReturnRows(sqlmock.NewRows(staffCols).AddRow(
			staffID, tenantID, "Dale", "tech", 2, "{}",
			"{}", denver.Latitude, denver.Longitude, "",
			"", true, testDate, testDate))
}

var apptCols = []string{
	"id", "tenant_id", "job_id", "staff_id", "group_id", "date", "start", "end", "status",
	"route_order", "arrived_at", "completed_at", "cancelled_at", "cancellation_reason",
	"rescheduled_from", "created_at", "updated_at",
}

func apptRow(id, tenantID, jobID, staffID uuid.UUID, start, end time.Time, status domain.AppointmentStatus, order int) []driver.Value {
	return []driver.Value{
		id, tenantID, jobID, staffID, uuid.New(), testDate, start, end, string(status),
		order, nil, nil, nil, "",
		nil, testDate, testDate,
	}
}

func expectDateLock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 1))
}

// A 240-minute emergency on a roster whose only tech works a 3-hour
// window: the insert must fail with a duration violation, leaving the
// schedule untouched.
func TestEmergencyInsert_InfeasibleDurationViolation(t *testing.T) {
	engine, mock := newEngine(t)
	tenantID := uuid.New()
	staffID := uuid.New()
	job := jobFixture{
		id: uuid.New(), propertyID: uuid.New(), offeringID: uuid.New(),
		status: domain.JobApproved, priority: domain.PriorityEmergency, minutes: 240,
	}

	expectJob(mock, tenantID, job)
	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND date = \$2 AND status != 'cancelled'`).
		WillReturnRows(sqlmock.NewRows(apptCols))
	expectAvailableStaff(mock, tenantID, staffID, at(9), at(12))
	expectProperty(mock, tenantID, job.propertyID)
	expectOffering(mock, tenantID, job.offeringID)
	mock.ExpectBegin()
	expectDateLock(mock)
	mock.ExpectRollback()

	result, err := engine.EmergencyInsert(context.Background(), tenantID, job.id, testDate, uuid.New())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Nil(t, result.AssignedStaffID)
	assert.Empty(t, result.BumpedJobIDs)
	assert.Contains(t, result.ConstraintViolations, "duration")
	require.NoError(t, mock.ExpectationsWereMet())
}

// A fully packed day: the priority-3 job displaces the priority-0 job,
// which lands on the waitlist.
func TestEmergencyInsert_BumpsLowerPriorityJob(t *testing.T) {
	engine, mock := newEngine(t)
	tenantID := uuid.New()
	staffID := uuid.New()
	actorID := uuid.New()

	low := jobFixture{
		id: uuid.New(), propertyID: uuid.New(), offeringID: uuid.New(),
		status: domain.JobScheduled, priority: domain.PriorityNormal, minutes: 60,
	}
	emergency := jobFixture{
		id: uuid.New(), propertyID: uuid.New(), offeringID: uuid.New(),
		status: domain.JobApproved, priority: domain.PriorityEmergency, minutes: 60,
	}

	expectJob(mock, tenantID, emergency)
	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND date = \$2 AND status != 'cancelled'`).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(apptRow(uuid.New(), tenantID, low.id, staffID, at(9), at(10), domain.ApptScheduled, 0)...))
	expectJob(mock, tenantID, low)
	expectProperty(mock, tenantID, low.propertyID)
	expectOffering(mock, tenantID, low.offeringID)
	expectAvailableStaff(mock, tenantID, staffID, at(9), at(10))
	expectProperty(mock, tenantID, emergency.propertyID)
	expectOffering(mock, tenantID, emergency.offeringID)

	mock.ExpectBegin()
	expectDateLock(mock)
	// Displacement: cancel the low-priority appointment, return its job
	// to approved, park it on the waitlist.
	mock.ExpectExec(`UPDATE appointments SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectJob(mock, tenantID, low)
	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs(domain.JobApproved, low.id, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO job_status_history`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO schedule_waitlist`).WillReturnResult(sqlmock.NewResult(1, 1))
	// Placement of the emergency job.
	mock.ExpectExec(`INSERT INTO appointments`).WillReturnResult(sqlmock.NewResult(1, 1))
	expectJob(mock, tenantID, emergency)
	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs(domain.JobScheduled, emergency.id, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO job_status_history`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := engine.EmergencyInsert(context.Background(), tenantID, emergency.id, testDate, actorID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.AssignedStaffID)
	assert.Equal(t, staffID, *result.AssignedStaffID)
	assert.Equal(t, []uuid.UUID{low.id}, result.BumpedJobIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmergencyInsert_RejectsLowPriorityJob(t *testing.T) {
	engine, mock := newEngine(t)
	tenantID := uuid.New()
	job := jobFixture{
		id: uuid.New(), propertyID: uuid.New(), offeringID: uuid.New(),
		status: domain.JobApproved, priority: domain.PriorityNormal, minutes: 60,
	}
	expectJob(mock, tenantID, job)

	_, err := engine.EmergencyInsert(context.Background(), tenantID, job.id, testDate, uuid.New())
	assert.Error(t, err)
}

// Marking a staff member unavailable cancels each of their remaining
// appointments and frees the jobs back to the approved pool.
func TestMarkUnavailable_CancelsDayAndFreesJobs(t *testing.T) {
	engine, mock := newEngine(t)
	tenantID := uuid.New()
	staffID := uuid.New()
	jobs := []jobFixture{}
	rows := sqlmock.NewRows(apptCols)
	for i := 0; i < 3; i++ {
		j := jobFixture{
			id: uuid.New(), propertyID: uuid.New(), offeringID: uuid.New(),
			status: domain.JobScheduled, priority: domain.PriorityNormal, minutes: 60,
		}
		jobs = append(jobs, j)
		rows.AddRow(apptRow(uuid.New(), tenantID, j.id, staffID, at(9+2*i), at(10+2*i), domain.ApptScheduled, i)...)
	}

	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND staff_id = \$2 AND date = \$3 AND status != 'cancelled'`).
		WillReturnRows(rows)
	mock.ExpectBegin()
	expectDateLock(mock)
	mock.ExpectExec(`UPDATE staff_availability SET available = false`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, j := range jobs {
		mock.ExpectExec(`UPDATE appointments SET`).WillReturnResult(sqlmock.NewResult(0, 1))
		expectJob(mock, tenantID, j)
		mock.ExpectExec(`UPDATE jobs SET status = \$1`).
			WithArgs(domain.JobApproved, j.id, tenantID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO job_status_history`).WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	result, err := engine.MarkUnavailable(context.Background(), tenantID, staffID, testDate, "called in sick", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 3, result.AffectedAppointments)
	assert.Len(t, result.FreedJobIDs, 3)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUnavailable_RequiresReason(t *testing.T) {
	engine, _ := newEngine(t)
	_, err := engine.MarkUnavailable(context.Background(), uuid.New(), uuid.New(), testDate, "", uuid.New())
	assert.Error(t, err)
}

// The freed job fits on the covering tech's empty day, so reassignment
// moves it and records the audit row.
func TestReassign_MovesFreedJobOntoTarget(t *testing.T) {
	engine, mock := newEngine(t)
	tenantID := uuid.New()
	fromStaff, toStaff := uuid.New(), uuid.New()
	freed := jobFixture{
		id: uuid.New(), propertyID: uuid.New(), offeringID: uuid.New(),
		status: domain.JobApproved, priority: domain.PriorityElevated, minutes: 60,
	}

	staffCols := []string{"id", "tenant_id", "name", "role", "skill_level", "certifications",
		"assigned_equipment", "start_latitude", "start_longitude", "login_email",
		"password_hash", "available", "created_at", "updated_at"}
	mock.ExpectQuery(`(?s)SELECT (.+) FROM staff WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(toStaff, tenantID).
		WillReturnRows(sqlmock.NewRows(staffCols).AddRow(
			toStaff, tenantID, "Marta", "tech", 3, "{}",
			"{}", denver.Latitude, denver.Longitude, "",
			"", true, testDate, testDate))

	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND staff_id = \$2 AND date = \$3 AND status = 'cancelled'`).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(apptRow(uuid.New(), tenantID, freed.id, fromStaff, at(9), at(10), domain.ApptCancelled, 0)...))
	expectJob(mock, tenantID, freed)

	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND date = \$2 AND status != 'cancelled'`).
		WillReturnRows(sqlmock.NewRows(apptCols))
	expectAvailableStaff(mock, tenantID, toStaff, at(8), at(17))

	mock.ExpectBegin()
	expectDateLock(mock)
	expectProperty(mock, tenantID, freed.propertyID)
	expectOffering(mock, tenantID, freed.offeringID)
	mock.ExpectExec(`INSERT INTO appointments`).WillReturnResult(sqlmock.NewResult(1, 1))
	expectJob(mock, tenantID, freed)
	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs(domain.JobScheduled, freed.id, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO job_status_history`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO schedule_reassignments`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := engine.Reassign(context.Background(), tenantID, fromStaff, toStaff, testDate, "sick day", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, result.JobsReassigned)
	assert.Equal(t, []uuid.UUID{freed.id}, result.ReassignedJobs)
	assert.Empty(t, result.Waitlisted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReassign_RejectsSelfTarget(t *testing.T) {
	engine, _ := newEngine(t)
	staffID := uuid.New()
	_, err := engine.Reassign(context.Background(), uuid.New(), staffID, staffID, testDate, "x", uuid.New())
	assert.Error(t, err)
}

func TestCoverageOptions_ReportsRemainingCapacity(t *testing.T) {
	engine, mock := newEngine(t)
	tenantID := uuid.New()
	unavailable, cover := uuid.New(), uuid.New()
	freed := jobFixture{
		id: uuid.New(), propertyID: uuid.New(), offeringID: uuid.New(),
		status: domain.JobApproved, priority: domain.PriorityNormal, minutes: 120,
	}

	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND staff_id = \$2 AND date = \$3 AND status = 'cancelled'`).
		WillReturnRows(sqlmock.NewRows(apptCols).
			AddRow(apptRow(uuid.New(), tenantID, freed.id, unavailable, at(9), at(11), domain.ApptCancelled, 0)...))
	expectJob(mock, tenantID, freed)
	mock.ExpectQuery(`(?s)SELECT (.+) FROM appointments\s+WHERE tenant_id = \$1 AND date = \$2 AND status != 'cancelled'`).
		WillReturnRows(sqlmock.NewRows(apptCols))
	expectAvailableStaff(mock, tenantID, cover, at(8), at(17))
	staffCols := []string{"id", "tenant_id", "name", "role", "skill_level", "certifications",
		"assigned_equipment", "start_latitude", "start_longitude", "login_email",
		"password_hash", "available", "created_at", "updated_at"}
	mock.ExpectQuery(`(?s)SELECT (.+) FROM staff WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(cover, tenantID).
		WillReturnRows(sqlmock.NewRows(staffCols).AddRow(
			cover, tenantID, "Marta", "tech", 3, "{}",
			"{}", denver.Latitude, denver.Longitude, "",
			"", true, testDate, testDate))

	options, err := engine.CoverageOptions(context.Background(), tenantID, unavailable, testDate)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, cover, options[0].StaffID)
	assert.Equal(t, 9*60, options[0].RemainingMinutes)
	assert.True(t, options[0].CanCoverAll)
	require.NoError(t, mock.ExpectationsWereMet())
}
