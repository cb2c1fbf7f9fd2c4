// Package constraint implements the constraint checker: a stateless
// evaluator over a candidate day plan (a per-staff ordered
// job list) that computes exact time slots by walking each staff's
// route from their start location — travel, then service, then
// buffer, inserting the lunch interval and pushing successors when a
// job would otherwise cross it — and scores the result as a hard
// count (0 means feasible) and a weighted soft cost (higher is
// better, i.e. closer to zero).
package constraint

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/services/traveltime"
)

// Soft-cost weights, named so the solver and tests can reference them
// without magic numbers.
const (
	WeightTravelMinute      = 1
	WeightCityTransition     = 5
	WeightJobTypeTransition  = 3
	WeightUnassignedJob      = 1000
	WeightLateHighPriority   = 2 // per 30 minutes past noon
	LateThresholdNoon        = 12 * time.Hour
	HighPriorityThreshold    = domain.PriorityHigh
)

// UnassignedReason is a stable machine-readable reason a job could not
// be placed, surfaced on ScheduleSolution.UnassignedJobs.
type UnassignedReason string

const (
	ReasonNoStaff    UnassignedReason = "no_staff"
	ReasonEquipment  UnassignedReason = "equipment"
	ReasonDuration   UnassignedReason = "duration"
	ReasonInfeasible UnassignedReason = "infeasible"
)

// PlanJob is the subset of a job's data the checker needs: the
// denormalized fields a solver snapshot carries alongside the raw
// domain.Job, since location/city live on the property, not the job.
type PlanJob struct {
	JobID               uuid.UUID
	Category             domain.JobCategory
	Priority             domain.JobPriority
	DurationMinutes      int
	BufferMinutes        int
	RequiredEquipment    []string
	RequiredStaffCount   int
	PreferredStart       *time.Time
	PreferredEnd         *time.Time
	Location             traveltime.Coordinate
	City                 string
}

// StaffContext is the subset of a staff member's data the checker
// needs to walk their route for a single date.
type StaffContext struct {
	StaffID              uuid.UUID
	Equipment            []string
	StartLocation        traveltime.Coordinate
	WindowStart          time.Time
	WindowEnd            time.Time
	LunchStart           time.Time
	LunchDurationMinutes int
}

func (s StaffContext) lunchEnd() time.Time {
	return s.LunchStart.Add(time.Duration(s.LunchDurationMinutes) * time.Minute)
}

// PlanInput is a candidate day plan: the jobs under consideration, the
// staff available to work them, and the proposed per-staff ordered
// route (job IDs in route order; a multi-tech job appears once in
// each covering staff's route).
type PlanInput struct {
	Jobs         map[uuid.UUID]PlanJob
	Staff        map[uuid.UUID]StaffContext
	RouteByStaff map[uuid.UUID][]uuid.UUID
}

// Slot is a job's computed time window on a specific staff's route.
type Slot struct {
	JobID      uuid.UUID
	StaffID    uuid.UUID
	Start      time.Time
	End        time.Time
	RouteOrder int
}

// Violation is one hard-constraint failure found while evaluating a
// plan; Kind is stable and machine-checkable by tests.
type Violation struct {
	JobID   uuid.UUID
	StaffID uuid.UUID
	Kind    string
	Detail  string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: job=%s staff=%s: %s", v.Kind, v.JobID, v.StaffID, v.Detail)
}

// Result is the checker's evaluation of a PlanInput: a hard score
// (<= 0, 0 meaning feasible) and a soft score (<= 0, higher/closer to
// zero meaning better), along with the exact computed slots and the
// violation list driving the hard score.
type Result struct {
	Hard       int
	Soft       int
	Slots      map[uuid.UUID]Slot
	Violations *multierror.Error
	Unassigned map[uuid.UUID]UnassignedReason
}

// Checker evaluates candidate plans. It holds no mutable state beyond
// the travel-time oracle it was constructed with.
type Checker struct {
	oracle traveltime.Oracle
}

func NewChecker(oracle traveltime.Oracle) *Checker {
	return &Checker{oracle: oracle}
}

// Evaluate walks every staff's proposed route, computes exact slots,
// and scores the result.
func (c *Checker) Evaluate(ctx context.Context, plan PlanInput) (*Result, error) {
	result := &Result{
		Slots:      make(map[uuid.UUID]Slot),
		Unassigned: make(map[uuid.UUID]UnassignedReason),
	}

	travelTotal := 0
	cityTransitions := 0
	jobTypeTransitions := 0
	lateCost := 0

	assignedJobIDs := make(map[uuid.UUID]bool)

	staffIDs := make([]uuid.UUID, 0, len(plan.RouteByStaff))
	for id := range plan.RouteByStaff {
		staffIDs = append(staffIDs, id)
	}
	sort.Slice(staffIDs, func(i, j int) bool { return staffIDs[i].String() < staffIDs[j].String() })

	for _, staffID := range staffIDs {
		staff, ok := plan.Staff[staffID]
		if !ok {
			continue
		}
		route := plan.RouteByStaff[staffID]

		cursor := staff.WindowStart
		cursorLoc := staff.StartLocation
		lunchInserted := false
		prevCity := ""
		prevCategory := domain.JobCategory("")

		for i, jobID := range route {
			job, ok := plan.Jobs[jobID]
			if !ok {
				continue
			}
			assignedJobIDs[jobID] = true

			travel, err := c.oracle.Estimate(ctx, cursorLoc, job.Location)
			if err != nil {
				return nil, fmt.Errorf("estimate travel time: %w", err)
			}
			start := cursor.Add(time.Duration(travel) * time.Minute)

			lunchEnd := staff.lunchEnd()
			if !lunchInserted {
				jobEndBeforeLunch := start.Add(time.Duration(job.DurationMinutes) * time.Minute)
				if start.Before(lunchEnd) && jobEndBeforeLunch.After(staff.LunchStart) {
					start = lunchEnd
					lunchInserted = true
				}
			}

			end := start.Add(time.Duration(job.DurationMinutes) * time.Minute)
			cursor = end.Add(time.Duration(job.BufferMinutes) * time.Minute)
			cursorLoc = job.Location

			result.Slots[slotKey(jobID, staffID)] = Slot{
				JobID: jobID, StaffID: staffID, Start: start, End: end, RouteOrder: i,
			}

			if !hasAllEquipment(staff.Equipment, job.RequiredEquipment) {
				result.Violations = multierror.Append(result.Violations, &Violation{
					JobID: jobID, StaffID: staffID, Kind: "equipment",
					Detail: "staff lacks required equipment",
				})
			}

			if start.Before(staff.WindowStart) || end.After(staff.WindowEnd) {
				// A job longer than the staff's whole working day can
				// never fit, no matter where it lands; that is a
				// duration problem, not a placement problem.
				windowMinutes := int(staff.WindowEnd.Sub(staff.WindowStart).Minutes()) - staff.LunchDurationMinutes
				if job.DurationMinutes > windowMinutes {
					result.Violations = multierror.Append(result.Violations, &Violation{
						JobID: jobID, StaffID: staffID, Kind: "duration",
						Detail: "job duration exceeds the staff availability window",
					})
				} else {
					result.Violations = multierror.Append(result.Violations, &Violation{
						JobID: jobID, StaffID: staffID, Kind: "availability",
						Detail: "slot outside staff availability window",
					})
				}
			}
			if start.Before(lunchEnd) && end.After(staff.LunchStart) {
				result.Violations = multierror.Append(result.Violations, &Violation{
					JobID: jobID, StaffID: staffID, Kind: "lunch",
					Detail: "slot crosses lunch interval",
				})
			}

			withinPreferred := true
			if job.PreferredStart != nil && start.Before(*job.PreferredStart) {
				withinPreferred = false
			}
			if job.PreferredEnd != nil && end.After(*job.PreferredEnd) {
				withinPreferred = false
			}
			if !withinPreferred {
				if job.Priority >= HighPriorityThreshold {
					result.Violations = multierror.Append(result.Violations, &Violation{
						JobID: jobID, StaffID: staffID, Kind: "preferred_window",
						Detail: "high-priority job outside preferred window",
					})
				} else {
					lateCost++ // soft-only: counted generically below via travel/late cost
				}
			}

			travelTotal += travel
			if prevCity != "" && prevCity != job.City {
				cityTransitions++
			}
			if prevCategory != "" && prevCategory != job.Category {
				jobTypeTransitions++
			}
			prevCity = job.City
			prevCategory = job.Category

			if job.Priority >= HighPriorityThreshold {
				noon := time.Date(start.Year(), start.Month(), start.Day(), 12, 0, 0, 0, start.Location())
				if start.After(noon) {
					minutesPastNoon := start.Sub(noon).Minutes()
					lateCost += WeightLateHighPriority * int(minutesPastNoon/30)
				}
			}
		}
	}

	// Multi-tech co-assignment cardinality: every job
	// requiring N staff must have exactly N slots, all starting at the
	// same instant.
	for jobID, job := range plan.Jobs {
		if job.RequiredStaffCount <= 1 {
			continue
		}
		var starts []time.Time
		count := 0
		for _, slot := range result.Slots {
			if slot.JobID == jobID {
				count++
				starts = append(starts, slot.Start)
			}
		}
		if count > 0 && count < job.RequiredStaffCount {
			result.Violations = multierror.Append(result.Violations, &Violation{
				JobID: jobID, Kind: "staff_count",
				Detail: fmt.Sprintf("job requires %d staff, only %d assigned", job.RequiredStaffCount, count),
			})
		}
		for _, s := range starts {
			if !s.Equal(starts[0]) {
				result.Violations = multierror.Append(result.Violations, &Violation{
					JobID: jobID, Kind: "staff_count",
					Detail: "co-assignments do not share a start instant",
				})
				break
			}
		}
	}

	for jobID := range plan.Jobs {
		if !assignedJobIDs[jobID] {
			result.Unassigned[jobID] = ReasonInfeasible
		}
	}

	hardCount := 0
	if result.Violations != nil {
		hardCount = len(result.Violations.Errors)
	}
	result.Hard = -hardCount

	soft := travelTotal*WeightTravelMinute +
		cityTransitions*WeightCityTransition +
		jobTypeTransitions*WeightJobTypeTransition +
		len(result.Unassigned)*WeightUnassignedJob +
		lateCost
	result.Soft = -soft

	return result, nil
}

func hasAllEquipment(have, required []string) bool {
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

// slotKey lets a job appear once per covering staff (multi-tech jobs
// produce one slot per staff sharing the job's group).
func slotKey(jobID, staffID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(jobID, staffID[:])
}
