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

// WaitlistRepository persists domain.WaitlistEntry records: where
// bumped and unplaceable jobs land, and the candidate pool for
// fill-gap suggestions.
type WaitlistRepository struct {
	db *Database
}

func NewWaitlistRepository(db *Database) *WaitlistRepository { return &WaitlistRepository{db: db} }

const waitlistColumns = `id, tenant_id, job_id, preferred_date, preferred_start, preferred_end,
	priority, notified_at, created_at`

func (r *WaitlistRepository) Create(ctx context.Context, w *domain.WaitlistEntry) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO schedule_waitlist (`+waitlistColumns+`) VALUES (
		:id, :tenant_id, :job_id, :preferred_date, :preferred_start, :preferred_end,
		:priority, :notified_at, :created_at)`, w)
	if err != nil {
		return fmt.Errorf("create waitlist entry: %w", err)
	}
	return nil
}

// CreateTx is Create scoped to a caller-managed transaction, so a
// displaced job and its waitlist entry commit atomically with the
// emergency insert that bumped it.
func (r *WaitlistRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, w *domain.WaitlistEntry) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO schedule_waitlist (`+waitlistColumns+`) VALUES (
		:id, :tenant_id, :job_id, :preferred_date, :preferred_start, :preferred_end,
		:priority, :notified_at, :created_at)`, w)
	if err != nil {
		return fmt.Errorf("create waitlist entry: %w", err)
	}
	return nil
}

func (r *WaitlistRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.WaitlistEntry, error) {
	var w domain.WaitlistEntry
	err := r.db.GetContext(ctx, &w, `SELECT `+waitlistColumns+` FROM schedule_waitlist
		WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, translateNotFound(err, "waitlist entry")
	}
	return &w, nil
}

// ListForDate returns every waitlist entry whose preferred_date matches,
// ordered priority-desc then FIFO, the fill-gap candidate ranking.
func (r *WaitlistRepository) ListForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]*domain.WaitlistEntry, error) {
	var out []*domain.WaitlistEntry
	err := r.db.SelectContext(ctx, &out, `SELECT `+waitlistColumns+` FROM schedule_waitlist
		WHERE tenant_id = $1 AND preferred_date = $2 ORDER BY priority DESC, created_at ASC`,
		tenantID, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list waitlist for date: %w", err)
	}
	return out, nil
}

// ListOpen returns every waitlist entry for a tenant regardless of date,
// the candidate set for a general fill-gap sweep.
func (r *WaitlistRepository) ListOpen(ctx context.Context, tenantID uuid.UUID) ([]*domain.WaitlistEntry, error) {
	var out []*domain.WaitlistEntry
	err := r.db.SelectContext(ctx, &out, `SELECT `+waitlistColumns+` FROM schedule_waitlist
		WHERE tenant_id = $1 ORDER BY priority DESC, created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list open waitlist entries: %w", err)
	}
	return out, nil
}

// MarkNotified stamps the time the customer was told a slot opened up.
func (r *WaitlistRepository) MarkNotified(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE schedule_waitlist SET notified_at = $1
		WHERE id = $2 AND tenant_id = $3`, at, id, tenantID)
	if err != nil {
		return fmt.Errorf("mark waitlist entry notified: %w", err)
	}
	return checkRowsAffected(res, "waitlist entry")
}

func (r *WaitlistRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schedule_waitlist WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}
	return checkRowsAffected(res, "waitlist entry")
}

func (r *WaitlistRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, tenantID, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM schedule_waitlist WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}
	return checkRowsAffected(res, "waitlist entry")
}

// ScheduleClearAuditRepository persists the snapshot-before-clear
// audit records.
type ScheduleClearAuditRepository struct {
	db *Database
}

func NewScheduleClearAuditRepository(db *Database) *ScheduleClearAuditRepository {
	return &ScheduleClearAuditRepository{db: db}
}

const scheduleClearAuditColumns = `id, tenant_id, date, snapshot, job_ids, appointment_count,
	cleared_by, notes, created_at`

type scheduleClearAuditRow struct {
	domain.ScheduleClearAudit
	JobIDs pq.StringArray `db:"job_ids"`
}

func (r *ScheduleClearAuditRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, a *domain.ScheduleClearAudit) error {
	jobIDs := make(pq.StringArray, len(a.JobIDs))
	for i, id := range a.JobIDs {
		jobIDs[i] = id.String()
	}
	row := scheduleClearAuditRow{ScheduleClearAudit: *a, JobIDs: jobIDs}
	_, err := tx.NamedExecContext(ctx, `INSERT INTO schedule_clear_audit (`+scheduleClearAuditColumns+`) VALUES (
		:id, :tenant_id, :date, :snapshot, :job_ids, :appointment_count, :cleared_by, :notes, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("create schedule clear audit: %w", err)
	}
	return nil
}

// ListRecent returns the most recently created clear-audit records,
// newest first, for GET /schedule/clears/recent.
func (r *ScheduleClearAuditRepository) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*domain.ScheduleClearAudit, error) {
	var rows []scheduleClearAuditRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+scheduleClearAuditColumns+` FROM schedule_clear_audit
		WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent clear audits: %w", err)
	}
	out := make([]*domain.ScheduleClearAudit, len(rows))
	for i := range rows {
		a := rows[i].ScheduleClearAudit
		jobIDs := make([]uuid.UUID, 0, len(rows[i].JobIDs))
		for _, s := range rows[i].JobIDs {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("parse job id in clear audit: %w", err)
			}
			jobIDs = append(jobIDs, id)
		}
		a.JobIDs = jobIDs
		out[i] = &a
	}
	return out, nil
}

// ScheduleReassignmentRepository persists the reassignment audit trail.
type ScheduleReassignmentRepository struct {
	db *Database
}

func NewScheduleReassignmentRepository(db *Database) *ScheduleReassignmentRepository {
	return &ScheduleReassignmentRepository{db: db}
}

func (r *ScheduleReassignmentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, rr *domain.ScheduleReassignment) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO schedule_reassignments
		(id, tenant_id, original_staff_id, new_staff_id, date, reason, jobs_reassigned, created_at)
		VALUES (:id, :tenant_id, :original_staff_id, :new_staff_id, :date, :reason, :jobs_reassigned, :created_at)`, rr)
	if err != nil {
		return fmt.Errorf("create schedule reassignment: %w", err)
	}
	return nil
}

func (r *ScheduleReassignmentRepository) ListForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]*domain.ScheduleReassignment, error) {
	var out []*domain.ScheduleReassignment
	err := r.db.SelectContext(ctx, &out, `SELECT id, tenant_id, original_staff_id, new_staff_id, date, reason,
		jobs_reassigned, created_at FROM schedule_reassignments WHERE tenant_id = $1 AND date = $2
		ORDER BY created_at DESC`, tenantID, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list schedule reassignments for date: %w", err)
	}
	return out, nil
}
