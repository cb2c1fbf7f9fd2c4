package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/services/constraint"
	"github.com/gravelroot/dispatch-core/internal/services/jobflow"
	"github.com/gravelroot/dispatch-core/internal/services/snapshot"
	"github.com/gravelroot/dispatch-core/pkg/database"
)

// MarkUnavailableResult reports what a mark-unavailable pass touched.
type MarkUnavailableResult struct {
	AffectedAppointments int
	FreedJobIDs          []uuid.UUID
}

// MarkUnavailable flips availability for (staff, date), cancels the
// staff member's remaining cancellable appointments for that date, and
// returns their jobs to the approved pool. Appointments already in
// progress or completed are left alone. The whole pass runs in one
// transaction under the date's advisory lock.
func (e *Engine) MarkUnavailable(ctx context.Context, tenantID, staffID uuid.UUID, date time.Time, reason string, actorID uuid.UUID) (*MarkUnavailableResult, error) {
	if reason == "" {
		return nil, apperr.Validation("a reason is required to mark staff unavailable")
	}
	appts, err := e.repos.Appointments.ListForStaffDate(ctx, tenantID, staffID, date)
	if err != nil {
		return nil, err
	}

	result := &MarkUnavailableResult{}
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mark-unavailable tx: %w", err)
	}
	defer tx.Rollback()

	err = database.WithDateLock(ctx, tx.Tx, date, func() error {
		if err := e.repos.StaffAvailability.MarkUnavailableTx(ctx, tx, tenantID, staffID, date); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, appt := range appts {
			if !appt.Status.IsCancellable() {
				continue
			}
			appt.Status = domain.ApptCancelled
			appt.CancelledAt = &now
			appt.CancellationReason = reason
			if err := e.repos.Appointments.UpdateTx(ctx, tx, appt); err != nil {
				return err
			}
			job, err := e.repos.Jobs.GetByID(ctx, tenantID, appt.JobID)
			if err != nil {
				return err
			}
			if job.Status == domain.JobScheduled {
				if err := jobflow.TransitionTx(ctx, tx, e.repos, tenantID, job, domain.JobApproved, actorID, "staff marked unavailable: "+reason); err != nil {
					return err
				}
			}
			result.AffectedAppointments++
			result.FreedJobIDs = append(result.FreedJobIDs, appt.JobID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mark-unavailable: %w", err)
	}
	return result, nil
}

// ReassignResult reports how a reassignment pass distributed the freed
// jobs: reassigned onto the target staff, or parked on the waitlist.
type ReassignResult struct {
	JobsReassigned int
	ReassignedJobs []uuid.UUID
	Waitlisted     []uuid.UUID
}

// Reassign takes the jobs freed by a prior MarkUnavailable on fromStaff
// and reinserts them onto toStaff one at a time, highest priority
// first, using the same placement search as an emergency insert. Jobs
// that do not fit land on the waitlist. A reassignment audit record is
// written with the count actually moved.
func (e *Engine) Reassign(ctx context.Context, tenantID, fromStaffID, toStaffID uuid.UUID, date time.Time, reason string, actorID uuid.UUID) (*ReassignResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ReassignBudget)
	defer cancel()

	if fromStaffID == toStaffID {
		return nil, apperr.Validation("cannot reassign a staff member's jobs to themselves")
	}
	if _, err := e.repos.Staff.GetByID(ctx, tenantID, toStaffID); err != nil {
		return nil, err
	}

	freed, err := e.freedJobs(ctx, tenantID, fromStaffID, date)
	if err != nil {
		return nil, err
	}

	plan, err := snapshot.LoadExistingRoutes(ctx, e.repos, tenantID, date)
	if err != nil {
		return nil, err
	}
	target, ok := plan.Staff[toStaffID]
	if !ok {
		return nil, apperr.StateRejectedf("staff %s is not available on %s", toStaffID, date.Format("2006-01-02"))
	}

	result := &ReassignResult{}
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reassign tx: %w", err)
	}
	defer tx.Rollback()

	err = database.WithDateLock(ctx, tx.Tx, date, func() error {
		now := time.Now().UTC()
		for _, job := range freed {
			property, err := e.repos.Properties.GetByID(ctx, tenantID, job.PropertyID)
			if err != nil {
				return err
			}
			offering, err := e.repos.ServiceOfferings.GetByID(ctx, tenantID, job.ServiceOfferingID)
			if err != nil {
				return err
			}
			plan.Jobs[job.ID] = snapshot.BuildPlanJobWithBuffer(job, property, offering)

			pos, placed := e.bestPositionOnStaff(ctx, plan, job.ID, toStaffID, target)
			if !placed {
				delete(plan.Jobs, job.ID)
				entry := &domain.WaitlistEntry{
					ID: uuid.New(), TenantID: tenantID, JobID: job.ID, PreferredDate: date,
					Priority: job.Priority, CreatedAt: now,
				}
				if err := e.repos.Waitlist.CreateTx(ctx, tx, entry); err != nil {
					return err
				}
				result.Waitlisted = append(result.Waitlisted, job.ID)
				continue
			}
			plan.RouteByStaff[toStaffID] = insertAt(plan.RouteByStaff[toStaffID], job.ID, pos)
			if err := e.commitPlacement(ctx, tx, tenantID, job.ID, toStaffID, plan, date, actorID); err != nil {
				return err
			}
			result.JobsReassigned++
			result.ReassignedJobs = append(result.ReassignedJobs, job.ID)
		}

		record := &domain.ScheduleReassignment{
			ID:              uuid.New(),
			TenantID:        tenantID,
			OriginalStaffID: &fromStaffID,
			NewStaffID:      &toStaffID,
			Date:            date,
			Reason:          reason,
			JobsReassigned:  result.JobsReassigned,
			CreatedAt:       now,
		}
		return e.repos.ScheduleReassign.CreateTx(ctx, tx, record)
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reassign: %w", err)
	}
	return result, nil
}

// freedJobs returns the approved jobs behind a staff member's cancelled
// appointments for a date, highest priority first.
func (e *Engine) freedJobs(ctx context.Context, tenantID, staffID uuid.UUID, date time.Time) ([]*domain.Job, error) {
	cancelled, err := e.repos.Appointments.ListCancelledForStaffDate(ctx, tenantID, staffID, date)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(cancelled))
	var out []*domain.Job
	for _, appt := range cancelled {
		if seen[appt.JobID] {
			continue
		}
		seen[appt.JobID] = true
		job, err := e.repos.Jobs.GetByID(ctx, tenantID, appt.JobID)
		if err != nil {
			return nil, err
		}
		if job.Status != domain.JobApproved {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// bestPositionOnStaff is the single-staff variant of the placement
// search: the lowest soft-cost position on one staff's route that
// keeps the route hard-feasible.
func (e *Engine) bestPositionOnStaff(ctx context.Context, plan *snapshot.DatePlan, jobID, staffID uuid.UUID, staff constraint.StaffContext) (int, bool) {
	job := plan.Jobs[jobID]
	if !hasEquipment(staff.Equipment, job.RequiredEquipment) {
		return -1, false
	}
	route := plan.RouteByStaff[staffID]
	bestPos := -1
	bestSoft := -1 << 30
	for pos := 0; pos <= len(route); pos++ {
		candidate := insertAt(route, jobID, pos)
		result, err := e.checker.Evaluate(ctx, constraint.PlanInput{
			Jobs:         onlyJobs(plan.Jobs, candidate),
			Staff:        map[uuid.UUID]constraint.StaffContext{staffID: staff},
			RouteByStaff: map[uuid.UUID][]uuid.UUID{staffID: candidate},
		})
		if err != nil || result.Hard != 0 {
			continue
		}
		if result.Soft > bestSoft {
			bestSoft = result.Soft
			bestPos = pos
		}
	}
	return bestPos, bestPos >= 0
}

// CoverageOption describes one staff member's remaining capacity for a
// date and whether they alone could absorb every freed job.
type CoverageOption struct {
	StaffID          uuid.UUID `json:"staff_id"`
	Name             string    `json:"name"`
	RemainingMinutes int       `json:"remaining_minutes"`
	CanCoverAll      bool      `json:"can_cover_all"`
}

// CoverageOptions computes, for each staff member other than the
// unavailable one, the working minutes left after their existing route
// (service, buffer, and travel included) and whether that slack plus
// their equipment could absorb all of the unavailable staff's freed
// jobs. Pure read; takes no lock.
func (e *Engine) CoverageOptions(ctx context.Context, tenantID, unavailableStaffID uuid.UUID, date time.Time) ([]CoverageOption, error) {
	freed, err := e.freedJobs(ctx, tenantID, unavailableStaffID, date)
	if err != nil {
		return nil, err
	}
	freedMinutes := 0
	var freedEquipment []string
	equipSeen := make(map[string]bool)
	for _, job := range freed {
		freedMinutes += job.EstimatedMinutes
		for _, eq := range job.RequiredEquipment {
			if !equipSeen[eq] {
				equipSeen[eq] = true
				freedEquipment = append(freedEquipment, eq)
			}
		}
	}

	plan, err := snapshot.LoadExistingRoutes(ctx, e.repos, tenantID, date)
	if err != nil {
		return nil, err
	}

	var options []CoverageOption
	for staffID, staff := range plan.Staff {
		if staffID == unavailableStaffID {
			continue
		}
		consumed, err := e.routeConsumedMinutes(ctx, staff, plan, staffID)
		if err != nil {
			return nil, err
		}
		window := int(staff.WindowEnd.Sub(staff.WindowStart).Minutes()) - staff.LunchDurationMinutes
		remaining := window - consumed
		if remaining < 0 {
			remaining = 0
		}
		staffRow, err := e.repos.Staff.GetByID(ctx, tenantID, staffID)
		if err != nil {
			return nil, err
		}
		options = append(options, CoverageOption{
			StaffID:          staffID,
			Name:             staffRow.Name,
			RemainingMinutes: remaining,
			CanCoverAll:      remaining >= freedMinutes && staffRow.HasEquipment(freedEquipment),
		})
	}
	sort.Slice(options, func(i, j int) bool { return options[i].RemainingMinutes > options[j].RemainingMinutes })
	return options, nil
}

// routeConsumedMinutes sums service, buffer, and travel minutes for a
// staff member's current route, travel measured leg by leg from their
// start location.
func (e *Engine) routeConsumedMinutes(ctx context.Context, staff constraint.StaffContext, plan *snapshot.DatePlan, staffID uuid.UUID) (int, error) {
	consumed := 0
	loc := staff.StartLocation
	for _, jobID := range plan.RouteByStaff[staffID] {
		job, ok := plan.Jobs[jobID]
		if !ok {
			continue
		}
		travel, err := e.oracle.Estimate(ctx, loc, job.Location)
		if err != nil {
			return 0, err
		}
		consumed += travel + job.DurationMinutes + job.BufferMinutes
		loc = job.Location
	}
	return consumed, nil
}
