// Package snapshot assembles the in-memory plan inputs the engine
// packages operate on from persisted repository rows: jobs,
// properties, staff, availability, and a date's existing appointments.
// Centralizing the denormalization here keeps the checker and solver
// free of any repository dependency.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/constraint"
	"github.com/gravelroot/dispatch-core/internal/services/traveltime"
)

// BuildPlanJob denormalizes a job's routing-relevant fields plus its
// property's location/city into the shape the checker and solver need.
func BuildPlanJob(job *domain.Job, property *domain.Property) constraint.PlanJob {
	return constraint.PlanJob{
		JobID:              job.ID,
		Category:           job.Category,
		Priority:           job.Priority,
		DurationMinutes:    job.EstimatedMinutes,
		RequiredEquipment:  job.RequiredEquipment,
		RequiredStaffCount: job.RequiredStaffCount,
		PreferredStart:     job.PreferredStart,
		PreferredEnd:       job.PreferredEnd,
		Location:           traveltime.Coordinate{Latitude: property.Latitude, Longitude: property.Longitude},
		City:               property.City,
	}
}

// BuildPlanJobWithBuffer is BuildPlanJob plus a service offering's
// buffer minutes, used wherever the caller has the offering at hand
// (buffer is a catalog attribute, not stored on the job itself).
func BuildPlanJobWithBuffer(job *domain.Job, property *domain.Property, offering *domain.ServiceOffering) constraint.PlanJob {
	pj := BuildPlanJob(job, property)
	if offering != nil {
		pj.BufferMinutes = offering.BufferMinutes
	}
	return pj
}

// BuildStaffContext denormalizes a staff member and their (staff,date)
// availability row into the checker's working shape.
func BuildStaffContext(staff *domain.Staff, avail *domain.StaffAvailability) constraint.StaffContext {
	ctx := constraint.StaffContext{
		StaffID:       staff.ID,
		Equipment:     staff.AssignedEquipment,
		StartLocation: traveltime.Coordinate{Latitude: staff.StartLatitude, Longitude: staff.StartLongitude},
		WindowStart:   avail.WindowStart,
		WindowEnd:     avail.WindowEnd,
	}
	if avail.LunchStart != nil {
		ctx.LunchStart = *avail.LunchStart
		ctx.LunchDurationMinutes = avail.LunchDurationMins
	} else {
		// No lunch configured: pin a zero-length interval at the end of
		// the working window so no job inside the window crosses it.
		ctx.LunchStart = avail.WindowEnd
		ctx.LunchDurationMinutes = 0
	}
	return ctx
}

// DatePlan is everything a request handler/engine operation needs for
// one tenant/date: job and staff snapshots plus the routes implied by
// today's existing, non-cancelled appointments.
type DatePlan struct {
	Jobs         map[uuid.UUID]constraint.PlanJob
	Staff        map[uuid.UUID]constraint.StaffContext
	RouteByStaff map[uuid.UUID][]uuid.UUID
	// AppointmentByJob indexes the existing appointment backing each
	// routed job, for callers that need to update rather than create.
	AppointmentByJob map[uuid.UUID]*domain.Appointment
}

// LoadAvailableStaff returns the staff snapshot for a tenant/date:
// every available tech with their availability row for that date.
func LoadAvailableStaff(ctx context.Context, repos *repository.Repositories, tenantID uuid.UUID, date time.Time) (map[uuid.UUID]constraint.StaffContext, error) {
	avails, err := repos.StaffAvailability.ListAvailableForDate(ctx, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("list available staff: %w", err)
	}
	staffIDs := make([]uuid.UUID, 0, len(avails))
	byStaffID := make(map[uuid.UUID]*domain.StaffAvailability, len(avails))
	for _, a := range avails {
		staffIDs = append(staffIDs, a.StaffID)
		byStaffID[a.StaffID] = a
	}
	staffRows, err := repos.Staff.ListByIDs(ctx, tenantID, staffIDs)
	if err != nil {
		return nil, fmt.Errorf("list staff by id: %w", err)
	}

	out := make(map[uuid.UUID]constraint.StaffContext, len(staffRows))
	for _, s := range staffRows {
		avail := byStaffID[s.ID]
		if avail == nil {
			continue
		}
		out[s.ID] = BuildStaffContext(s, avail)
	}
	return out, nil
}

// LoadUnscheduledJobs returns every job in one of the given statuses
// (the schedule service passes approved for both generate and
// re-optimize), denormalized with their property's location.
func LoadUnscheduledJobs(ctx context.Context, repos *repository.Repositories, tenantID uuid.UUID, statuses []domain.JobStatus) (map[uuid.UUID]constraint.PlanJob, error) {
	jobs, err := repos.Jobs.ListUnscheduled(ctx, tenantID, statuses)
	if err != nil {
		return nil, fmt.Errorf("list unscheduled jobs: %w", err)
	}
	out := make(map[uuid.UUID]constraint.PlanJob, len(jobs))
	for _, job := range jobs {
		property, err := repos.Properties.GetByID(ctx, tenantID, job.PropertyID)
		if err != nil {
			return nil, fmt.Errorf("load property for job %s: %w", job.ID, err)
		}
		offering, err := repos.ServiceOfferings.GetByID(ctx, tenantID, job.ServiceOfferingID)
		if err != nil {
			return nil, fmt.Errorf("load service offering for job %s: %w", job.ID, err)
		}
		out[job.ID] = BuildPlanJobWithBuffer(job, property, offering)
	}
	return out, nil
}

// LoadExistingRoutes returns the per-staff route implied by a date's
// current non-cancelled appointments, ordered by route_order, along
// with the job snapshot for each, for callers that reason about jobs
// already on the day rather than the unscheduled pool.
func LoadExistingRoutes(ctx context.Context, repos *repository.Repositories, tenantID uuid.UUID, date time.Time) (*DatePlan, error) {
	appts, err := repos.Appointments.ListForDate(ctx, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments for date: %w", err)
	}

	plan := &DatePlan{
		Jobs:             make(map[uuid.UUID]constraint.PlanJob),
		RouteByStaff:     make(map[uuid.UUID][]uuid.UUID),
		AppointmentByJob: make(map[uuid.UUID]*domain.Appointment),
	}

	for _, appt := range appts {
		plan.RouteByStaff[appt.StaffID] = append(plan.RouteByStaff[appt.StaffID], appt.JobID)
		plan.AppointmentByJob[appt.JobID] = appt

		job, err := repos.Jobs.GetByID(ctx, tenantID, appt.JobID)
		if err != nil {
			return nil, fmt.Errorf("load job %s: %w", appt.JobID, err)
		}
		property, err := repos.Properties.GetByID(ctx, tenantID, job.PropertyID)
		if err != nil {
			return nil, fmt.Errorf("load property for job %s: %w", job.ID, err)
		}
		offering, err := repos.ServiceOfferings.GetByID(ctx, tenantID, job.ServiceOfferingID)
		if err != nil {
			return nil, fmt.Errorf("load service offering for job %s: %w", job.ID, err)
		}
		plan.Jobs[job.ID] = BuildPlanJobWithBuffer(job, property, offering)
	}

	staff, err := LoadAvailableStaff(ctx, repos, tenantID, date)
	if err != nil {
		return nil, err
	}
	plan.Staff = staff

	return plan, nil
}
