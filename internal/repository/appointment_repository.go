package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/gravelroot/dispatch-core/internal/domain"
)

// AppointmentRepository persists domain.Appointment records.
type AppointmentRepository struct {
	db *Database
}

func NewAppointmentRepository(db *Database) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

const appointmentColumns = `id, tenant_id, job_id, staff_id, group_id, date, start, "end", status,
	route_order, arrived_at, completed_at, cancelled_at, cancellation_reason, rescheduled_from,
	created_at, updated_at`

func (r *AppointmentRepository) Create(ctx context.Context, a *domain.Appointment) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO appointments (`+appointmentColumns+`) VALUES (
		:id, :tenant_id, :job_id, :staff_id, :group_id, :date, :start, :end, :status,
		:route_order, :arrived_at, :completed_at, :cancelled_at, :cancellation_reason, :rescheduled_from,
		:created_at, :updated_at)`, a)
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// CreateTx is Create scoped to a caller-managed transaction, used by
// every mutating engine component so the whole write phase commits or
// rolls back atomically under the per-date advisory lock.
func (r *AppointmentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, a *domain.Appointment) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO appointments (`+appointmentColumns+`) VALUES (
		:id, :tenant_id, :job_id, :staff_id, :group_id, :date, :start, :end, :status,
		:route_order, :arrived_at, :completed_at, :cancelled_at, :cancellation_reason, :rescheduled_from,
		:created_at, :updated_at)`, a)
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

func (r *AppointmentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Appointment, error) {
	var a domain.Appointment
	err := r.db.GetContext(ctx, &a, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, translateNotFound(err, "appointment")
	}
	return &a, nil
}

// ListForDate returns every non-cancelled appointment on a date, the
// solver/conflict-resolver's working snapshot.
func (r *AppointmentRepository) ListForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]*domain.Appointment, error) {
	var out []*domain.Appointment
	err := r.db.SelectContext(ctx, &out, `SELECT `+appointmentColumns+` FROM appointments
		WHERE tenant_id = $1 AND date = $2 AND status != 'cancelled' ORDER BY staff_id, route_order`,
		tenantID, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list appointments for date: %w", err)
	}
	return out, nil
}

func (r *AppointmentRepository) ListForStaffDate(ctx context.Context, tenantID, staffID uuid.UUID, date time.Time) ([]*domain.Appointment, error) {
	var out []*domain.Appointment
	err := r.db.SelectContext(ctx, &out, `SELECT `+appointmentColumns+` FROM appointments
		WHERE tenant_id = $1 AND staff_id = $2 AND date = $3 AND status != 'cancelled' ORDER BY route_order`,
		tenantID, staffID, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list appointments for staff/date: %w", err)
	}
	return out, nil
}

func (r *AppointmentRepository) Update(ctx context.Context, a *domain.Appointment) error {
	a.UpdatedAt = time.Now().UTC()
	_, err := r.db.NamedExecContext(ctx, `UPDATE appointments SET
		staff_id = :staff_id, start = :start, "end" = :end, status = :status, route_order = :route_order,
		arrived_at = :arrived_at, completed_at = :completed_at, cancelled_at = :cancelled_at,
		cancellation_reason = :cancellation_reason, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`, a)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *AppointmentRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, a *domain.Appointment) error {
	a.UpdatedAt = time.Now().UTC()
	_, err := tx.NamedExecContext(ctx, `UPDATE appointments SET
		staff_id = :staff_id, start = :start, "end" = :end, status = :status, route_order = :route_order,
		arrived_at = :arrived_at, completed_at = :completed_at, cancelled_at = :cancelled_at,
		cancellation_reason = :cancellation_reason, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`, a)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

// ListForJobDate returns a job's non-cancelled appointments on a date.
// A multi-tech job has one row per covering staff, all sharing a group.
func (r *AppointmentRepository) ListForJobDate(ctx context.Context, tenantID, jobID uuid.UUID, date time.Time) ([]*domain.Appointment, error) {
	var out []*domain.Appointment
	err := r.db.SelectContext(ctx, &out, `SELECT `+appointmentColumns+` FROM appointments
		WHERE tenant_id = $1 AND job_id = $2 AND date = $3 AND status != 'cancelled' ORDER BY staff_id`,
		tenantID, jobID, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list appointments for job/date: %w", err)
	}
	return out, nil
}

// ListForDateIncludingCancelled returns every appointment row on a
// date regardless of status; the clear-and-audit store snapshots the
// full set before deleting it.
func (r *AppointmentRepository) ListForDateIncludingCancelled(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]*domain.Appointment, error) {
	var out []*domain.Appointment
	err := r.db.SelectContext(ctx, &out, `SELECT `+appointmentColumns+` FROM appointments
		WHERE tenant_id = $1 AND date = $2 ORDER BY staff_id, route_order`,
		tenantID, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list all appointments for date: %w", err)
	}
	return out, nil
}

// ListCancelledForStaffDate returns the appointments a mark-unavailable
// pass cancelled for one staff member's day, the input set for a
// follow-up reassignment.
func (r *AppointmentRepository) ListCancelledForStaffDate(ctx context.Context, tenantID, staffID uuid.UUID, date time.Time) ([]*domain.Appointment, error) {
	var out []*domain.Appointment
	err := r.db.SelectContext(ctx, &out, `SELECT `+appointmentColumns+` FROM appointments
		WHERE tenant_id = $1 AND staff_id = $2 AND date = $3 AND status = 'cancelled' ORDER BY route_order`,
		tenantID, staffID, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list cancelled appointments for staff/date: %w", err)
	}
	return out, nil
}

// DeleteByIDsTx removes specific appointment rows inside tx; the
// re-optimize path uses it to drop movable appointments it is about to
// regenerate while leaving confirmed ones alone.
func (r *AppointmentRepository) DeleteByIDsTx(ctx context.Context, tx *sqlx.Tx, tenantID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM appointments WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete appointments by id: %w", err)
	}
	return nil
}

// DeleteForDateTx removes every appointment on a date inside tx, used
// by the clear-and-audit store after snapshotting.
func (r *AppointmentRepository) DeleteForDateTx(ctx context.Context, tx *sqlx.Tx, tenantID uuid.UUID, date time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM appointments WHERE tenant_id = $1 AND date = $2`,
		tenantID, date.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("delete appointments for date: %w", err)
	}
	return res.RowsAffected()
}
