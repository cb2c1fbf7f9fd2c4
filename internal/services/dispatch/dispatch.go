// Package dispatch implements the emergency inserter and the
// staff-reassignment engine: single-job insertion into an
// already-populated day, and the mark-unavailable/reassign/coverage
// flow that redistributes one staff member's jobs onto another.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/jmoiron/sqlx"

	"github.com/gravelroot/dispatch-core/internal/services/constraint"
	"github.com/gravelroot/dispatch-core/internal/services/jobflow"
	"github.com/gravelroot/dispatch-core/internal/services/snapshot"
	"github.com/gravelroot/dispatch-core/internal/services/traveltime"
	"github.com/gravelroot/dispatch-core/pkg/database"
)

// EmergencyInsertBudget and ReassignBudget bound the wall-clock time
// of an emergency insert and of a reassignment pass, respectively.
const (
	EmergencyInsertBudget = 15 * time.Second
	ReassignBudget        = 15 * time.Second
)

// Engine wires the constraint checker, travel oracle, and repositories
// the emergency-insert and reassignment flows share. It is a small
// request-scoped struct of collaborators, no singletons.
type Engine struct {
	db      *repository.Database
	repos   *repository.Repositories
	checker *constraint.Checker
	oracle  traveltime.Oracle
}

func NewEngine(db *repository.Database, repos *repository.Repositories, checker *constraint.Checker, oracle traveltime.Oracle) *Engine {
	return &Engine{db: db, repos: repos, checker: checker, oracle: oracle}
}

// InsertResult is the emergency inserter's response shape.
type InsertResult struct {
	Success              bool
	AssignedStaffID       *uuid.UUID
	Start, End            time.Time
	BumpedJobIDs          []uuid.UUID
	ConstraintViolations  []string
}

// EmergencyInsert places a single priority>=2 job onto an
// already-populated date, bumping lower-priority jobs to the waitlist
// if no hard-feasible gap exists outright. The whole operation runs
// under the date's advisory lock and leaves the schedule untouched on
// failure.
func (e *Engine) EmergencyInsert(ctx context.Context, tenantID, jobID uuid.UUID, date time.Time, actorID uuid.UUID) (*InsertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, EmergencyInsertBudget)
	defer cancel()

	job, err := e.repos.Jobs.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Priority < domain.PriorityHigh {
		return nil, apperr.Validationf("job priority %d is below the emergency-insert threshold", job.Priority)
	}

	plan, err := snapshot.LoadExistingRoutes(ctx, e.repos, tenantID, date)
	if err != nil {
		return nil, err
	}
	property, err := e.repos.Properties.GetByID(ctx, tenantID, job.PropertyID)
	if err != nil {
		return nil, err
	}
	offering, err := e.repos.ServiceOfferings.GetByID(ctx, tenantID, job.ServiceOfferingID)
	if err != nil {
		return nil, err
	}
	newJob := snapshot.BuildPlanJobWithBuffer(job, property, offering)
	plan.Jobs[jobID] = newJob

	result := &InsertResult{}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin emergency insert tx: %w", err)
	}
	defer tx.Rollback()

	err = database.WithDateLock(ctx, tx.Tx, date, func() error {
		candidateStaffID, pos, violations, feasible := e.findBestCandidate(ctx, plan, jobID)
		if feasible {
			result.Success = true
			result.AssignedStaffID = &candidateStaffID
			route := insertAt(plan.RouteByStaff[candidateStaffID], jobID, pos)
			plan.RouteByStaff[candidateStaffID] = route
			return e.commitPlacement(ctx, tx, tenantID, jobID, candidateStaffID, plan, date, actorID)
		}

		bumpedStaffID, bumped, ok := e.findDisplaceable(ctx, plan, jobID)
		if !ok {
			result.Success = false
			result.ConstraintViolations = violations
			return nil
		}

		for _, bumpedJobID := range bumped {
			if err := e.cancelAndWaitlist(ctx, tx, tenantID, bumpedJobID, date, plan, actorID); err != nil {
				return err
			}
			removeFromRoute(plan.RouteByStaff, bumpedStaffID, bumpedJobID)
		}
		route := append(plan.RouteByStaff[bumpedStaffID], jobID)
		plan.RouteByStaff[bumpedStaffID] = route
		result.Success = true
		result.AssignedStaffID = &bumpedStaffID
		result.BumpedJobIDs = bumped
		return e.commitPlacement(ctx, tx, tenantID, jobID, bumpedStaffID, plan, date, actorID)
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit emergency insert: %w", err)
	}

	finalResult, err := e.checker.Evaluate(ctx, constraint.PlanInput{Jobs: plan.Jobs, Staff: plan.Staff, RouteByStaff: plan.RouteByStaff})
	if err == nil {
		if slot, ok := findSlot(finalResult, jobID, *result.AssignedStaffID); ok {
			result.Start, result.End = slot.Start, slot.End
		}
	}
	return result, nil
}

// findBestCandidate enumerates (staff, position) placements for job
// and returns the lowest soft-delta hard-feasible one, if any.
func (e *Engine) findBestCandidate(ctx context.Context, plan *snapshot.DatePlan, jobID uuid.UUID) (uuid.UUID, int, []string, bool) {
	job := plan.Jobs[jobID]
	var best uuid.UUID
	bestPos := -1
	bestSoft := -1 << 30
	var lastViolations []string

	for staffID, staff := range plan.Staff {
		if !hasEquipment(staff.Equipment, job.RequiredEquipment) {
			continue
		}
		route := plan.RouteByStaff[staffID]
		base, err := e.checker.Evaluate(ctx, constraint.PlanInput{
			Jobs:         onlyJobs(plan.Jobs, route),
			Staff:        map[uuid.UUID]constraint.StaffContext{staffID: staff},
			RouteByStaff: map[uuid.UUID][]uuid.UUID{staffID: route},
		})
		if err != nil {
			continue
		}
		for pos := 0; pos <= len(route); pos++ {
			candidate := insertAt(route, jobID, pos)
			result, err := e.checker.Evaluate(ctx, constraint.PlanInput{
				Jobs:         onlyJobs(plan.Jobs, candidate),
				Staff:        map[uuid.UUID]constraint.StaffContext{staffID: staff},
				RouteByStaff: map[uuid.UUID][]uuid.UUID{staffID: candidate},
			})
			if err != nil {
				continue
			}
			if result.Hard != 0 {
				lastViolations = violationStrings(result)
				continue
			}
			if delta := result.Soft - base.Soft; delta > bestSoft {
				bestSoft = delta
				best = staffID
				bestPos = pos
			}
		}
	}
	return best, bestPos, lastViolations, bestPos >= 0
}

// findDisplaceable looks for the smallest set of lower-priority jobs on
// one staff's route whose removal makes room for job.
func (e *Engine) findDisplaceable(ctx context.Context, plan *snapshot.DatePlan, jobID uuid.UUID) (uuid.UUID, []uuid.UUID, bool) {
	job := plan.Jobs[jobID]
	for staffID, staff := range plan.Staff {
		if !hasEquipment(staff.Equipment, job.RequiredEquipment) {
			continue
		}
		route := plan.RouteByStaff[staffID]
		lower := make([]uuid.UUID, 0)
		for _, id := range route {
			if otherJob, ok := plan.Jobs[id]; ok && otherJob.Priority < job.Priority {
				lower = append(lower, id)
			}
		}
		// Try displacing one lower-priority job at a time, smallest
		// set first, until the remaining route plus job is feasible.
		for i := range lower {
			candidateRoute := removeJobs(route, lower[:i+1])
			candidateRoute = append(candidateRoute, jobID)
			result, err := e.checker.Evaluate(ctx, constraint.PlanInput{
				Jobs:         onlyJobs(plan.Jobs, append(append([]uuid.UUID{}, candidateRoute...), jobID)),
				Staff:        map[uuid.UUID]constraint.StaffContext{staffID: staff},
				RouteByStaff: map[uuid.UUID][]uuid.UUID{staffID: candidateRoute},
			})
			if err == nil && result.Hard == 0 {
				return staffID, lower[:i+1], true
			}
		}
	}
	return uuid.Nil, nil, false
}

func (e *Engine) commitPlacement(ctx context.Context, tx *sqlx.Tx, tenantID, jobID, staffID uuid.UUID, plan *snapshot.DatePlan, date time.Time, actorID uuid.UUID) error {
	final, err := e.checker.Evaluate(ctx, constraint.PlanInput{Jobs: plan.Jobs, Staff: plan.Staff, RouteByStaff: plan.RouteByStaff})
	if err != nil {
		return err
	}
	slot, ok := findSlot(final, jobID, staffID)
	if !ok {
		return apperr.Infeasiblef("could not compute a slot for job %s", jobID)
	}
	appt := &domain.Appointment{
		ID: uuid.New(), TenantID: tenantID, JobID: jobID, StaffID: staffID, GroupID: uuid.New(),
		Date: date, Start: slot.Start, End: slot.End, Status: domain.ApptScheduled,
		RouteOrder: slot.RouteOrder, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := e.repos.Appointments.CreateTx(ctx, tx, appt); err != nil {
		return err
	}
	job, err := e.repos.Jobs.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	return jobflow.TransitionTx(ctx, tx, e.repos, tenantID, job, domain.JobScheduled, actorID, "emergency insert")
}

func (e *Engine) cancelAndWaitlist(ctx context.Context, tx *sqlx.Tx, tenantID, jobID uuid.UUID, date time.Time, plan *snapshot.DatePlan, actorID uuid.UUID) error {
	appt, ok := plan.AppointmentByJob[jobID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	appt.Status = domain.ApptCancelled
	appt.CancelledAt = &now
	appt.CancellationReason = "displaced by higher-priority emergency insert"
	if err := e.repos.Appointments.UpdateTx(ctx, tx, appt); err != nil {
		return err
	}
	job, err := e.repos.Jobs.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if err := jobflow.TransitionTx(ctx, tx, e.repos, tenantID, job, domain.JobApproved, actorID, "displaced by emergency insert"); err != nil {
		return err
	}
	entry := &domain.WaitlistEntry{
		ID: uuid.New(), TenantID: tenantID, JobID: jobID, PreferredDate: date,
		Priority: job.Priority, CreatedAt: now,
	}
	return e.repos.Waitlist.CreateTx(ctx, tx, entry)
}

func insertAt(route []uuid.UUID, jobID uuid.UUID, pos int) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(route)+1)
	out = append(out, route[:pos]...)
	out = append(out, jobID)
	out = append(out, route[pos:]...)
	return out
}

func removeJobs(route []uuid.UUID, remove []uuid.UUID) []uuid.UUID {
	removeSet := make(map[uuid.UUID]bool, len(remove))
	for _, id := range remove {
		removeSet[id] = true
	}
	out := make([]uuid.UUID, 0, len(route))
	for _, id := range route {
		if !removeSet[id] {
			out = append(out, id)
		}
	}
	return out
}

func removeFromRoute(routes map[uuid.UUID][]uuid.UUID, staffID, jobID uuid.UUID) {
	routes[staffID] = removeJobs(routes[staffID], []uuid.UUID{jobID})
}

func onlyJobs(jobs map[uuid.UUID]constraint.PlanJob, ids []uuid.UUID) map[uuid.UUID]constraint.PlanJob {
	out := make(map[uuid.UUID]constraint.PlanJob, len(ids))
	for _, id := range ids {
		out[id] = jobs[id]
	}
	return out
}

func findSlot(result *constraint.Result, jobID, staffID uuid.UUID) (constraint.Slot, bool) {
	for _, slot := range result.Slots {
		if slot.JobID == jobID && slot.StaffID == staffID {
			return slot, true
		}
	}
	return constraint.Slot{}, false
}

func hasEquipment(have, required []string) bool {
	set := make(map[string]bool, len(have))
	for _, e := range have {
		set[e] = true
	}
	for _, r := range required {
		if !set[r] {
			return false
		}
	}
	return true
}

func violationStrings(result *constraint.Result) []string {
	if result.Violations == nil {
		return nil
	}
	out := make([]string, 0, len(result.Violations.Errors))
	for _, e := range result.Violations.Errors {
		if v, ok := e.(*constraint.Violation); ok {
			out = append(out, v.Kind)
		}
	}
	return out
}
