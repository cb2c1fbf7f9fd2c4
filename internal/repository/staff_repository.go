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

// StaffRepository persists domain.Staff records.
type StaffRepository struct {
	db *Database
}

func NewStaffRepository(db *Database) *StaffRepository { return &StaffRepository{db: db} }

const staffColumns = `id, tenant_id, name, role, skill_level, certifications, assigned_equipment,
	start_latitude, start_longitude, login_email, password_hash, available, created_at, updated_at`

type staffRow struct {
	domain.Staff
	Certifications    pq.StringArray `db:"certifications"`
	AssignedEquipment pq.StringArray `db:"assigned_equipment"`
}

func unwrapStaffRow(row staffRow) *domain.Staff {
	s := row.Staff
	s.Certifications = []string(row.Certifications)
	s.AssignedEquipment = []string(row.AssignedEquipment)
	return &s
}

func (r *StaffRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Staff, error) {
	var row staffRow
	err := r.db.GetContext(ctx, &row, `SELECT `+staffColumns+` FROM staff WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, translateNotFound(err, "staff")
	}
	return unwrapStaffRow(row), nil
}

// ListTechs returns every tech-role staff member for a tenant; only
// techs participate in routing.
func (r *StaffRepository) ListTechs(ctx context.Context, tenantID uuid.UUID) ([]*domain.Staff, error) {
	var rows []staffRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+staffColumns+` FROM staff
		WHERE tenant_id = $1 AND role = 'tech' ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list techs: %w", err)
	}
	out := make([]*domain.Staff, len(rows))
	for i := range rows {
		out[i] = unwrapStaffRow(rows[i])
	}
	return out, nil
}

func (r *StaffRepository) ListByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*domain.Staff, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []staffRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+staffColumns+` FROM staff
		WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list staff by id: %w", err)
	}
	out := make([]*domain.Staff, len(rows))
	for i := range rows {
		out[i] = unwrapStaffRow(rows[i])
	}
	return out, nil
}

func (r *StaffRepository) Update(ctx context.Context, s *domain.Staff) error {
	s.UpdatedAt = time.Now().UTC()
	row := staffRow{Staff: *s, Certifications: pq.StringArray(s.Certifications), AssignedEquipment: pq.StringArray(s.AssignedEquipment)}
	_, err := r.db.NamedExecContext(ctx, `UPDATE staff SET
		name = :name, role = :role, skill_level = :skill_level, certifications = :certifications,
		assigned_equipment = :assigned_equipment, start_latitude = :start_latitude,
		start_longitude = :start_longitude, available = :available, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`, row)
	if err != nil {
		return fmt.Errorf("update staff: %w", err)
	}
	return nil
}

// StaffAvailabilityRepository persists the per-(staff, date) working
// window and lunch interval, unique on (staff_id, date).
type StaffAvailabilityRepository struct {
	db *Database
}

func NewStaffAvailabilityRepository(db *Database) *StaffAvailabilityRepository {
	return &StaffAvailabilityRepository{db: db}
}

const staffAvailabilityColumns = `id, tenant_id, staff_id, date, window_start, window_end,
	lunch_start, lunch_duration_minutes, available`

func (r *StaffAvailabilityRepository) GetForDate(ctx context.Context, tenantID, staffID uuid.UUID, date time.Time) (*domain.StaffAvailability, error) {
	var a domain.StaffAvailability
	err := r.db.GetContext(ctx, &a, `SELECT `+staffAvailabilityColumns+` FROM staff_availability
		WHERE tenant_id = $1 AND staff_id = $2 AND date = $3`, tenantID, staffID, date.Format("2006-01-02"))
	if err != nil {
		return nil, translateNotFound(err, "staff availability")
	}
	return &a, nil
}

// ListAvailableForDate returns every available tech and their
// availability row for a date — the solver's staff input snapshot.
func (r *StaffAvailabilityRepository) ListAvailableForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]*domain.StaffAvailability, error) {
	var out []*domain.StaffAvailability
	err := r.db.SelectContext(ctx, &out, `SELECT sa.id, sa.tenant_id, sa.staff_id,
		sa.date, sa.window_start, sa.window_end, sa.lunch_start, sa.lunch_duration_minutes, sa.available
		FROM staff_availability sa
		JOIN staff s ON s.id = sa.staff_id
		WHERE sa.tenant_id = $1 AND sa.date = $2 AND sa.available = true
		AND s.role = 'tech' AND s.available = true`, tenantID, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list available staff for date: %w", err)
	}
	return out, nil
}

func (r *StaffAvailabilityRepository) Upsert(ctx context.Context, a *domain.StaffAvailability) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO staff_availability
		(id, tenant_id, staff_id, date, window_start, window_end, lunch_start, lunch_duration_minutes, available)
		VALUES (:id, :tenant_id, :staff_id, :date, :window_start, :window_end, :lunch_start, :lunch_duration_minutes, :available)
		ON CONFLICT (staff_id, date) DO UPDATE SET
			window_start = EXCLUDED.window_start, window_end = EXCLUDED.window_end,
			lunch_start = EXCLUDED.lunch_start, lunch_duration_minutes = EXCLUDED.lunch_duration_minutes,
			available = EXCLUDED.available`, a)
	if err != nil {
		return fmt.Errorf("upsert staff availability: %w", err)
	}
	return nil
}

// MarkUnavailable flips the availability bit for (staff, date), the
// first step of the mark-unavailable flow.
func (r *StaffAvailabilityRepository) MarkUnavailable(ctx context.Context, tenantID, staffID uuid.UUID, date time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE staff_availability SET available = false
		WHERE tenant_id = $1 AND staff_id = $2 AND date = $3`, tenantID, staffID, date.Format("2006-01-02"))
	if err != nil {
		return fmt.Errorf("mark staff unavailable: %w", err)
	}
	return checkRowsAffected(res, "staff availability")
}

// MarkUnavailableTx is MarkUnavailable inside a caller-managed
// transaction, so the availability flip and the cancellation of the
// staff member's appointments commit together.
func (r *StaffAvailabilityRepository) MarkUnavailableTx(ctx context.Context, tx *sqlx.Tx, tenantID, staffID uuid.UUID, date time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE staff_availability SET available = false
		WHERE tenant_id = $1 AND staff_id = $2 AND date = $3`, tenantID, staffID, date.Format("2006-01-02"))
	if err != nil {
		return fmt.Errorf("mark staff unavailable: %w", err)
	}
	return checkRowsAffected(res, "staff availability")
}
