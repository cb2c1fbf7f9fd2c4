package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
)

// JobRepository persists domain.Job records.
type JobRepository struct {
	db *Database
}

func NewJobRepository(db *Database) *JobRepository { return &JobRepository{db: db} }

const jobColumns = `id, tenant_id, job_number, customer_id, property_id, service_offering_id,
	category, status, priority, estimated_minutes, required_equipment, required_staff_count,
	preferred_start, preferred_end, price_snapshot, notes, created_at, updated_at`

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (
		:id, :tenant_id, :job_number, :customer_id, :property_id, :service_offering_id,
		:category, :status, :priority, :estimated_minutes, :required_equipment, :required_staff_count,
		:preferred_start, :preferred_end, :price_snapshot, :notes, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, jobRow(job))
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// jobRow adapts a domain.Job's slice-typed fields (pq.Array) for
// named-parameter binding, since sqlx can't bind []string directly
// against a text[] column.
type jobRowStruct struct {
	domain.Job
	RequiredEquipment pq.StringArray `db:"required_equipment"`
}

func jobRow(j *domain.Job) jobRowStruct {
	return jobRowStruct{Job: *j, RequiredEquipment: pq.StringArray(j.RequiredEquipment)}
}

func (r *JobRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Job, error) {
	var row jobRowStruct
	err := r.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, translateNotFound(err, "job")
	}
	row.Job.RequiredEquipment = []string(row.RequiredEquipment)
	return &row.Job, nil
}

func (r *JobRepository) Update(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = time.Now().UTC()
	query := `UPDATE jobs SET
		status = :status, priority = :priority, estimated_minutes = :estimated_minutes,
		required_equipment = :required_equipment, required_staff_count = :required_staff_count,
		preferred_start = :preferred_start, preferred_end = :preferred_end,
		price_snapshot = :price_snapshot, notes = :notes, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`
	res, err := r.db.NamedExecContext(ctx, query, jobRow(job))
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return checkRowsAffected(res, "job")
}

// UpdateStatusTx flips a job's status inside a caller-managed
// transaction, for use by the engine packages whose whole write phase
// must commit or roll back together under the per-date advisory lock.
func (r *JobRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, tenantID, jobID uuid.UUID, status domain.JobStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1, updated_at = now()
		WHERE id = $2 AND tenant_id = $3`, status, jobID, tenantID)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return checkRowsAffected(res, "job")
}

// ListUnscheduled returns jobs eligible for the solver's input set:
// status approved (never scheduled) or scheduled (movable; the
// re-optimize caller applies that distinction itself).
func (r *JobRepository) ListUnscheduled(ctx context.Context, tenantID uuid.UUID, statuses []domain.JobStatus) ([]*domain.Job, error) {
	var rows []jobRowStruct
	err := r.db.SelectContext(ctx, &rows, `SELECT `+jobColumns+` FROM jobs
		WHERE tenant_id = $1 AND status = ANY($2) ORDER BY priority DESC, created_at ASC`,
		tenantID, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("list unscheduled jobs: %w", err)
	}
	return unwrapJobRows(rows), nil
}

func (r *JobRepository) ListByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []jobRowStruct
	err := r.db.SelectContext(ctx, &rows, `SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list jobs by id: %w", err)
	}
	return unwrapJobRows(rows), nil
}

func unwrapJobRows(rows []jobRowStruct) []*domain.Job {
	out := make([]*domain.Job, len(rows))
	for i := range rows {
		rows[i].Job.RequiredEquipment = []string(rows[i].RequiredEquipment)
		out[i] = &rows[i].Job
	}
	return out
}

// NextJobNumber generates a human-readable JOB-YYYY-NNNN identifier,
// one sequence per calendar year.
func (r *JobRepository) NextJobNumber(ctx context.Context, tenantID uuid.UUID) (string, error) {
	year := time.Now().UTC().Year()
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM jobs WHERE tenant_id = $1 AND job_number LIKE $2`,
		tenantID, fmt.Sprintf("JOB-%d-%%", year))
	if err != nil {
		return "", fmt.Errorf("next job number: %w", err)
	}
	return fmt.Sprintf("JOB-%d-%04d", year, count+1), nil
}

// JobStatusHistoryRepository persists the append-only transition log.
type JobStatusHistoryRepository struct {
	db *Database
}

func NewJobStatusHistoryRepository(db *Database) *JobStatusHistoryRepository {
	return &JobStatusHistoryRepository{db: db}
}

// AppendTx is Append inside a caller-managed transaction, so a status
// flip and its history entry commit atomically.
func (r *JobStatusHistoryRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, entry *domain.JobStatusHistory) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO job_status_history
		(id, job_id, previous_status, next_status, actor_id, note, timestamp)
		VALUES (:id, :job_id, :previous_status, :next_status, :actor_id, :note, :timestamp)`, entry)
	if err != nil {
		return fmt.Errorf("append job status history: %w", err)
	}
	return nil
}

func (r *JobStatusHistoryRepository) Append(ctx context.Context, entry *domain.JobStatusHistory) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO job_status_history
		(id, job_id, previous_status, next_status, actor_id, note, timestamp)
		VALUES (:id, :job_id, :previous_status, :next_status, :actor_id, :note, :timestamp)`, entry)
	if err != nil {
		return fmt.Errorf("append job status history: %w", err)
	}
	return nil
}

func (r *JobStatusHistoryRepository) ListForJob(ctx context.Context, jobID uuid.UUID) ([]*domain.JobStatusHistory, error) {
	var out []*domain.JobStatusHistory
	err := r.db.SelectContext(ctx, &out, `SELECT id, job_id, previous_status, next_status,
		actor_id, note, timestamp FROM job_status_history WHERE job_id = $1 ORDER BY timestamp ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job status history: %w", err)
	}
	return out, nil
}

// translateNotFound maps sql.ErrNoRows to the apperr not-found kind so
// callers never branch on the raw database/sql sentinel.
func translateNotFound(err error, entity string) error {
	if err == nil {
		return nil
	}
	if isNoRows(err) {
		return apperr.NotFoundf("%s not found", entity)
	}
	return fmt.Errorf("get %s: %w", entity, err)
}
