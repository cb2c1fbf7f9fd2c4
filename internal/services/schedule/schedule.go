// Package schedule orchestrates full-day optimization runs: it loads
// the solver's input snapshot, runs the optimizer, and persists the
// resulting appointments in one transaction under the date's advisory
// lock. The solver itself stays pure; everything stateful happens here.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/metrics"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/jobflow"
	"github.com/gravelroot/dispatch-core/internal/services/snapshot"
	"github.com/gravelroot/dispatch-core/internal/services/solver"
	"github.com/gravelroot/dispatch-core/pkg/database"
)

// Service runs generate/re-optimize passes and serves capacity reads.
type Service struct {
	db            *repository.Database
	repos         *repository.Repositories
	solver        *solver.Solver
	metrics       *metrics.Metrics
	logger        *zap.SugaredLogger
	seed          int64
	maxIterations int
}

func NewService(db *repository.Database, repos *repository.Repositories, slv *solver.Solver, m *metrics.Metrics, logger *zap.SugaredLogger, seed int64, maxIterations int) *Service {
	return &Service{db: db, repos: repos, solver: slv, metrics: m, logger: logger, seed: seed, maxIterations: maxIterations}
}

// UnassignedJob pairs a job with the reason it stayed off the plan.
type UnassignedJob struct {
	JobID  uuid.UUID `json:"job_id"`
	Reason string    `json:"reason"`
}

// Result is the persisted outcome of a generate or re-optimize run.
type Result struct {
	Date           time.Time             `json:"date"`
	Appointments   []*domain.Appointment `json:"appointments"`
	UnassignedJobs []UnassignedJob       `json:"unassigned_jobs"`
	HardScore      int                   `json:"hard_score"`
	SoftScore      int                   `json:"soft_score"`
	Feasible       bool                  `json:"feasible"`
	ElapsedMillis  int64                 `json:"elapsed_millis"`
}

// Generate builds a day plan from the approved-job pool and the
// available roster, persists the assignments, and moves each placed
// job to scheduled.
func (s *Service) Generate(ctx context.Context, tenantID uuid.UUID, date time.Time, budget time.Duration, actorID uuid.UUID) (*Result, error) {
	staff, err := snapshot.LoadAvailableStaff(ctx, s.repos, tenantID, date)
	if err != nil {
		return nil, err
	}
	jobs, err := snapshot.LoadUnscheduledJobs(ctx, s.repos, tenantID, []domain.JobStatus{domain.JobApproved})
	if err != nil {
		return nil, err
	}

	solution, err := s.solver.Solve(ctx, solver.Input{
		Date: date, Jobs: jobs, Staff: staff, Budget: budget, Seed: s.seed,
		MaxIterations: s.maxIterations,
	})
	if err != nil {
		return nil, err
	}
	s.observe(solution)

	return s.persist(ctx, tenantID, date, solution, actorID, nil)
}

// Reoptimize re-plans a date that already has appointments. Confirmed
// and later appointments stay exactly where they are and act as fixed
// obstacles; only scheduled appointments return to the pool, together
// with any still-approved jobs.
func (s *Service) Reoptimize(ctx context.Context, tenantID uuid.UUID, date time.Time, budget time.Duration, actorID uuid.UUID) (*Result, error) {
	existing, err := snapshot.LoadExistingRoutes(ctx, s.repos, tenantID, date)
	if err != nil {
		return nil, err
	}

	pinned := make(map[uuid.UUID][]uuid.UUID)
	var movable []*domain.Appointment
	for staffID, route := range existing.RouteByStaff {
		for _, jobID := range route {
			appt := existing.AppointmentByJob[jobID]
			if appt == nil {
				continue
			}
			if appt.Status.IsMovable() {
				movable = append(movable, appt)
			} else {
				pinned[staffID] = append(pinned[staffID], jobID)
			}
		}
	}

	jobs, err := snapshot.LoadUnscheduledJobs(ctx, s.repos, tenantID, []domain.JobStatus{domain.JobApproved})
	if err != nil {
		return nil, err
	}
	// Jobs already on the day, pinned or movable, stay in the input so
	// the checker can compute their slots.
	for jobID, planJob := range existing.Jobs {
		jobs[jobID] = planJob
	}

	solution, err := s.solver.Solve(ctx, solver.Input{
		Date: date, Jobs: jobs, Staff: existing.Staff, Budget: budget, Seed: s.seed, Pinned: pinned,
		MaxIterations: s.maxIterations,
	})
	if err != nil {
		return nil, err
	}
	s.observe(solution)

	return s.persist(ctx, tenantID, date, solution, actorID, movable)
}

// persist writes a solution's assignments in one transaction under the
// date lock. replaced lists the previously scheduled appointments a
// re-optimize run supersedes; they are deleted before the new rows go
// in. Pinned appointments are recognized by job id and left untouched.
func (s *Service) persist(ctx context.Context, tenantID uuid.UUID, date time.Time, solution *solver.Solution, actorID uuid.UUID, replaced []*domain.Appointment) (*Result, error) {
	result := &Result{
		Date:          date,
		HardScore:     solution.Hard,
		SoftScore:     solution.Soft,
		Feasible:      solution.Hard == 0,
		ElapsedMillis: solution.Elapsed.Milliseconds(),
	}
	for _, u := range solution.UnassignedJobs {
		result.UnassignedJobs = append(result.UnassignedJobs, UnassignedJob{JobID: u.JobID, Reason: string(u.Reason)})
	}

	replacedByJob := make(map[uuid.UUID]*domain.Appointment, len(replaced))
	replacedIDs := make([]uuid.UUID, 0, len(replaced))
	for _, appt := range replaced {
		replacedByJob[appt.JobID] = appt
		replacedIDs = append(replacedIDs, appt.ID)
	}

	// Group assignments by job: a multi-tech job yields one appointment
	// per covering staff, all sharing a group id and window.
	byJob := make(map[uuid.UUID][]solver.Assignment)
	for _, a := range solution.Assignments {
		byJob[a.JobID] = append(byJob[a.JobID], a)
	}

	// Concurrent writers on the same date can trip a serialization
	// failure; the whole transaction retries before surfacing as
	// transient.
	err := database.RetrySerialization(3, func() error {
		result.Appointments = nil
		return s.persistOnce(ctx, tenantID, date, byJob, replacedByJob, replacedIDs, actorID, result)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result.Appointments, func(i, j int) bool {
		return result.Appointments[i].Start.Before(result.Appointments[j].Start)
	})
	return result, nil
}

func (s *Service) persistOnce(ctx context.Context, tenantID uuid.UUID, date time.Time, byJob map[uuid.UUID][]solver.Assignment, replacedByJob map[uuid.UUID]*domain.Appointment, replacedIDs []uuid.UUID, actorID uuid.UUID, result *Result) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schedule persist tx: %w", err)
	}
	defer tx.Rollback()

	err = database.WithDateLock(ctx, tx.Tx, date, func() error {
		if err := s.repos.Appointments.DeleteByIDsTx(ctx, tx, tenantID, replacedIDs); err != nil {
			return err
		}

		now := time.Now().UTC()
		jobIDs := make([]uuid.UUID, 0, len(byJob))
		for jobID := range byJob {
			jobIDs = append(jobIDs, jobID)
		}
		sort.Slice(jobIDs, func(i, j int) bool { return jobIDs[i].String() < jobIDs[j].String() })

		for _, jobID := range jobIDs {
			assignments := byJob[jobID]
			job, err := s.repos.Jobs.GetByID(ctx, tenantID, jobID)
			if err != nil {
				return err
			}
			if _, wasReplaced := replacedByJob[jobID]; !wasReplaced && job.Status != domain.JobApproved {
				// Pinned confirmed+ jobs keep their existing rows.
				continue
			}

			groupID := uuid.New()
			created := false
			for _, a := range assignments {
				if prior, ok := replacedByJob[jobID]; ok && prior.StaffID == a.StaffID &&
					prior.Start.Equal(a.Start) && prior.End.Equal(a.End) {
					// The plan kept this placement; re-create it so the
					// day's rows all come from this run.
					groupID = prior.GroupID
				}
				appt := &domain.Appointment{
					ID:         uuid.New(),
					TenantID:   tenantID,
					JobID:      jobID,
					StaffID:    a.StaffID,
					GroupID:    groupID,
					Date:       date,
					Start:      a.Start,
					End:        a.End,
					Status:     domain.ApptScheduled,
					RouteOrder: a.RouteOrder,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := s.repos.Appointments.CreateTx(ctx, tx, appt); err != nil {
					return err
				}
				result.Appointments = append(result.Appointments, appt)
				created = true
			}
			if created && job.Status == domain.JobApproved {
				if err := jobflow.TransitionTx(ctx, tx, s.repos, tenantID, job, domain.JobScheduled, actorID, "placed by optimizer"); err != nil {
					return err
				}
			}
		}

		// A previously scheduled job the new plan dropped goes back to
		// the approved pool with its reason on the result.
		for jobID := range replacedByJob {
			if _, stillPlaced := byJob[jobID]; stillPlaced {
				continue
			}
			job, err := s.repos.Jobs.GetByID(ctx, tenantID, jobID)
			if err != nil {
				return err
			}
			if job.Status == domain.JobScheduled {
				if err := jobflow.TransitionTx(ctx, tx, s.repos, tenantID, job, domain.JobApproved, actorID, "dropped by re-optimize"); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schedule persist: %w", err)
	}
	return nil
}

func (s *Service) observe(solution *solver.Solution) {
	if s.metrics == nil {
		return
	}
	outcome := "feasible"
	if solution.Hard != 0 {
		outcome = "infeasible"
	}
	s.metrics.SolverRuns.WithLabelValues(outcome).Inc()
	s.metrics.SolverDuration.Observe(solution.Elapsed.Seconds())
	s.metrics.SolverUnassigned.Observe(float64(len(solution.UnassignedJobs)))
}

// StaffCapacity is one roster member's load summary for a date.
type StaffCapacity struct {
	StaffID          uuid.UUID `json:"staff_id"`
	Name             string    `json:"name"`
	WindowMinutes    int       `json:"window_minutes"`
	ScheduledMinutes int       `json:"scheduled_minutes"`
	RemainingMinutes int       `json:"remaining_minutes"`
	AppointmentCount int       `json:"appointment_count"`
}

// CapacitySummary is the per-date capacity read.
type CapacitySummary struct {
	Date                  time.Time       `json:"date"`
	Staff                 []StaffCapacity `json:"staff"`
	TotalRemainingMinutes int             `json:"total_remaining_minutes"`
}

// Capacity reports each available staff member's working minutes,
// already-scheduled minutes, and what is left. Pure read; no lock.
func (s *Service) Capacity(ctx context.Context, tenantID uuid.UUID, date time.Time) (*CapacitySummary, error) {
	avails, err := s.repos.StaffAvailability.ListAvailableForDate(ctx, tenantID, date)
	if err != nil {
		return nil, err
	}
	summary := &CapacitySummary{Date: date}
	for _, avail := range avails {
		staff, err := s.repos.Staff.GetByID(ctx, tenantID, avail.StaffID)
		if err != nil {
			return nil, err
		}
		appts, err := s.repos.Appointments.ListForStaffDate(ctx, tenantID, avail.StaffID, date)
		if err != nil {
			return nil, err
		}
		scheduled := 0
		for _, appt := range appts {
			scheduled += int(appt.End.Sub(appt.Start).Minutes())
		}
		window := avail.AvailableMinutes()
		remaining := window - scheduled
		if remaining < 0 {
			remaining = 0
		}
		summary.Staff = append(summary.Staff, StaffCapacity{
			StaffID:          avail.StaffID,
			Name:             staff.Name,
			WindowMinutes:    window,
			ScheduledMinutes: scheduled,
			RemainingMinutes: remaining,
			AppointmentCount: len(appts),
		})
		summary.TotalRemainingMinutes += remaining
	}
	sort.Slice(summary.Staff, func(i, j int) bool { return summary.Staff[i].Name < summary.Staff[j].Name })
	return summary, nil
}

// Waitlist returns the date's waitlist, priority-ranked. Pure read.
func (s *Service) Waitlist(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]*domain.WaitlistEntry, error) {
	return s.repos.Waitlist.ListForDate(ctx, tenantID, date)
}
