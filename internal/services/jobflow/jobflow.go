// Package jobflow enforces the job lifecycle state machine: every
// status change is validated against the legal transition graph and
// recorded as an append-only history entry, so a job's current status
// can always be reconstructed by replaying its history.
package jobflow

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
)

// Service applies job lifecycle transitions.
type Service struct {
	repos *repository.Repositories
	clock func() time.Time
}

func NewService(repos *repository.Repositories) *Service {
	return &Service{repos: repos, clock: func() time.Time { return time.Now().UTC() }}
}

// Transition moves a job to the next status, rejecting anything the
// transition graph does not allow, and appends the history entry.
func (s *Service) Transition(ctx context.Context, tenantID, jobID uuid.UUID, next domain.JobStatus, actorID uuid.UUID, note string) (*domain.Job, error) {
	job, err := s.repos.Jobs.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.CanTransition(next) {
		return nil, apperr.StateRejectedf("job %s cannot move from %s to %s", job.JobNumber, job.Status, next)
	}

	prev := job.Status
	job.Status = next
	if err := s.repos.Jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	entry := &domain.JobStatusHistory{
		ID:        uuid.New(),
		JobID:     job.ID,
		Previous:  &prev,
		Next:      next,
		ActorID:   actorID,
		Note:      note,
		Timestamp: s.clock(),
	}
	if err := s.repos.JobStatusHistory.Append(ctx, entry); err != nil {
		return nil, err
	}
	return job, nil
}

// History returns a job's transition log, oldest first.
func (s *Service) History(ctx context.Context, tenantID, jobID uuid.UUID) ([]*domain.JobStatusHistory, error) {
	if _, err := s.repos.Jobs.GetByID(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	return s.repos.JobStatusHistory.ListForJob(ctx, jobID)
}

// TransitionTx applies a validated transition inside a caller-managed
// transaction; the engine packages use it so status flips commit with
// the rest of their write phase. The passed job's Status field is
// updated in place on success.
func TransitionTx(ctx context.Context, tx *sqlx.Tx, repos *repository.Repositories, tenantID uuid.UUID, job *domain.Job, next domain.JobStatus, actorID uuid.UUID, note string) error {
	if !job.Status.CanTransition(next) {
		return apperr.StateRejectedf("job %s cannot move from %s to %s", job.JobNumber, job.Status, next)
	}
	if err := repos.Jobs.UpdateStatusTx(ctx, tx, tenantID, job.ID, next); err != nil {
		return err
	}
	prev := job.Status
	entry := &domain.JobStatusHistory{
		ID:        uuid.New(),
		JobID:     job.ID,
		Previous:  &prev,
		Next:      next,
		ActorID:   actorID,
		Note:      note,
		Timestamp: time.Now().UTC(),
	}
	if err := repos.JobStatusHistory.AppendTx(ctx, tx, entry); err != nil {
		return err
	}
	job.Status = next
	return nil
}

// ReplayHistory folds a job's history entries in timestamp order and
// returns the resulting status. The bool is false for an empty log.
func ReplayHistory(entries []*domain.JobStatusHistory) (domain.JobStatus, bool) {
	if len(entries) == 0 {
		return "", false
	}
	sorted := make([]*domain.JobStatusHistory, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return sorted[len(sorted)-1].Next, true
}
