// Package conflict resolves individual appointment disturbances:
// cancellation, rescheduling, and gap-filling suggestions pulled from
// the waitlist and the approved-job pool. Each operation is a small
// state machine over the appointment's status.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/jobflow"
	"github.com/gravelroot/dispatch-core/pkg/database"
)

// Resolver performs cancel/reschedule/fill-gap operations.
type Resolver struct {
	db    *repository.Database
	repos *repository.Repositories
}

func NewResolver(db *repository.Database, repos *repository.Repositories) *Resolver {
	return &Resolver{db: db, repos: repos}
}

// CancelInput carries the cancellation request details.
type CancelInput struct {
	Reason                  string
	AddToWaitlist           bool
	PreferredRescheduleDate *time.Time
}

// CancelResult reports what a cancellation touched.
type CancelResult struct {
	Appointment   *domain.Appointment
	WaitlistEntry *domain.WaitlistEntry
}

// Cancel cancels an appointment still in a cancellable status, returns
// its job to the approved pool, and optionally parks the job on the
// waitlist for a later opening. A multi-tech job's sibling appointments
// (same group) are cancelled with it; the visit is a unit.
func (r *Resolver) Cancel(ctx context.Context, tenantID, apptID, actorID uuid.UUID, in CancelInput) (*CancelResult, error) {
	if in.Reason == "" {
		return nil, apperr.Validation("a cancellation reason is required")
	}
	appt, err := r.repos.Appointments.GetByID(ctx, tenantID, apptID)
	if err != nil {
		return nil, err
	}
	if !appt.Status.IsCancellable() {
		return nil, apperr.StateRejectedf("appointment in status %s cannot be cancelled", appt.Status)
	}
	siblings, err := r.repos.Appointments.ListForJobDate(ctx, tenantID, appt.JobID, appt.Date)
	if err != nil {
		return nil, err
	}

	result := &CancelResult{Appointment: appt}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback()

	err = database.WithDateLock(ctx, tx.Tx, appt.Date, func() error {
		now := time.Now().UTC()
		for _, sib := range siblings {
			if !sib.Status.IsCancellable() {
				continue
			}
			sib.Status = domain.ApptCancelled
			sib.CancelledAt = &now
			sib.CancellationReason = in.Reason
			if err := r.repos.Appointments.UpdateTx(ctx, tx, sib); err != nil {
				return err
			}
			if sib.ID == appt.ID {
				*appt = *sib
			}
		}

		job, err := r.repos.Jobs.GetByID(ctx, tenantID, appt.JobID)
		if err != nil {
			return err
		}
		if job.Status == domain.JobScheduled {
			if err := jobflow.TransitionTx(ctx, tx, r.repos, tenantID, job, domain.JobApproved, actorID, "appointment cancelled: "+in.Reason); err != nil {
				return err
			}
		}

		if in.AddToWaitlist {
			preferred := appt.Date
			if in.PreferredRescheduleDate != nil {
				preferred = *in.PreferredRescheduleDate
			}
			entry := &domain.WaitlistEntry{
				ID:            uuid.New(),
				TenantID:      tenantID,
				JobID:         appt.JobID,
				PreferredDate: preferred,
				Priority:      job.Priority,
				CreatedAt:     now,
			}
			if err := r.repos.Waitlist.CreateTx(ctx, tx, entry); err != nil {
				return err
			}
			result.WaitlistEntry = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}
	return result, nil
}

// RescheduleInput carries the target date/window and an optional new
// staff assignment (nil keeps the original staff).
type RescheduleInput struct {
	NewDate    time.Time
	NewStart   time.Time
	NewEnd     time.Time
	NewStaffID *uuid.UUID
}

// Reschedule atomically cancels the original appointment and creates a
// replacement on the new date/window, chaining the replacement back to
// the original through rescheduled_from. The chain stays linear: each
// appointment has at most one predecessor, so no cycle can form.
func (r *Resolver) Reschedule(ctx context.Context, tenantID, apptID, actorID uuid.UUID, in RescheduleInput) (*domain.Appointment, error) {
	if !in.NewStart.Before(in.NewEnd) {
		return nil, apperr.Validation("new time window start must precede its end")
	}
	old, err := r.repos.Appointments.GetByID(ctx, tenantID, apptID)
	if err != nil {
		return nil, err
	}
	if !old.Status.IsCancellable() {
		return nil, apperr.StateRejectedf("appointment in status %s cannot be rescheduled", old.Status)
	}

	staffID := old.StaffID
	if in.NewStaffID != nil {
		staffID = *in.NewStaffID
	}
	if err := r.validatePlacement(ctx, tenantID, staffID, old, in); err != nil {
		return nil, err
	}

	existing, err := r.repos.Appointments.ListForStaffDate(ctx, tenantID, staffID, in.NewDate)
	if err != nil {
		return nil, err
	}

	replacement := &domain.Appointment{
		ID:              uuid.New(),
		TenantID:        tenantID,
		JobID:           old.JobID,
		StaffID:         staffID,
		GroupID:         uuid.New(),
		Date:            in.NewDate,
		Start:           in.NewStart,
		End:             in.NewEnd,
		Status:          domain.ApptScheduled,
		RouteOrder:      len(existing),
		RescheduledFrom: &old.ID,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reschedule tx: %w", err)
	}
	defer tx.Rollback()

	// Lock both dates in a stable order so two opposite reschedules
	// cannot deadlock each other.
	first, second := old.Date, in.NewDate
	if second.Before(first) {
		first, second = second, first
	}
	err = database.WithDateLock(ctx, tx.Tx, first, func() error {
		inner := func() error {
			now := time.Now().UTC()
			old.Status = domain.ApptCancelled
			old.CancelledAt = &now
			old.CancellationReason = "rescheduled"
			if err := r.repos.Appointments.UpdateTx(ctx, tx, old); err != nil {
				return err
			}
			return r.repos.Appointments.CreateTx(ctx, tx, replacement)
		}
		if second.Equal(first) {
			return inner()
		}
		return database.WithDateLock(ctx, tx.Tx, second, inner)
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reschedule: %w", err)
	}
	return replacement, nil
}

// validatePlacement rejects a reschedule target that falls outside the
// staff member's working window, crosses their lunch, or overlaps one
// of their existing appointments.
func (r *Resolver) validatePlacement(ctx context.Context, tenantID, staffID uuid.UUID, old *domain.Appointment, in RescheduleInput) error {
	avail, err := r.repos.StaffAvailability.GetForDate(ctx, tenantID, staffID, in.NewDate)
	if err != nil {
		return err
	}
	if !avail.Available {
		return apperr.StateRejectedf("staff %s is not available on %s", staffID, in.NewDate.Format("2006-01-02"))
	}
	if in.NewStart.Before(avail.WindowStart) || in.NewEnd.After(avail.WindowEnd) {
		return apperr.StateRejected("new window falls outside the staff member's working hours").
			WithDetails(map[string]interface{}{
				"window_start": avail.WindowStart,
				"window_end":   avail.WindowEnd,
			})
	}
	if avail.LunchStart != nil && in.NewStart.Before(avail.LunchEnd()) && in.NewEnd.After(*avail.LunchStart) {
		return apperr.StateRejected("new window crosses the staff member's lunch interval")
	}

	existing, err := r.repos.Appointments.ListForStaffDate(ctx, tenantID, staffID, in.NewDate)
	if err != nil {
		return err
	}
	candidate := &domain.Appointment{Start: in.NewStart, End: in.NewEnd}
	for _, appt := range existing {
		if appt.ID == old.ID {
			continue
		}
		if candidate.Overlaps(appt) {
			return apperr.StateRejected("new window overlaps an existing appointment").
				WithDetails(map[string]interface{}{"conflicting_appointment_id": appt.ID})
		}
	}
	return nil
}

// GapCandidate is one ranked suggestion for an open time window.
type GapCandidate struct {
	JobID           uuid.UUID  `json:"job_id"`
	Source          string     `json:"source"` // waitlist | approved
	WaitlistEntryID *uuid.UUID `json:"waitlist_entry_id,omitempty"`
	Priority        domain.JobPriority `json:"priority"`
	DurationMinutes int        `json:"duration_minutes"`
	SlackMinutes    int        `json:"slack_minutes"`
}

// FillGapSuggestions ranks jobs that could fill an open window on a
// date: waitlist entries for the date first-class, plus approved jobs
// not yet on the waitlist. A job qualifies when its duration fits the
// gap and, if a staff member is named, their equipment covers it.
// Ranked by priority descending, then by smallest leftover slack.
// Pure read; no side effects.
func (r *Resolver) FillGapSuggestions(ctx context.Context, tenantID uuid.UUID, date, start, end time.Time, staffID *uuid.UUID) ([]GapCandidate, error) {
	if !start.Before(end) {
		return nil, apperr.Validation("gap start must precede gap end")
	}
	gapMinutes := int(end.Sub(start).Minutes())

	var staff *domain.Staff
	if staffID != nil {
		var err error
		staff, err = r.repos.Staff.GetByID(ctx, tenantID, *staffID)
		if err != nil {
			return nil, err
		}
	}

	var candidates []GapCandidate
	seen := make(map[uuid.UUID]bool)

	entries, err := r.repos.Waitlist.ListForDate(ctx, tenantID, date)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		job, err := r.repos.Jobs.GetByID(ctx, tenantID, entry.JobID)
		if err != nil {
			return nil, err
		}
		if c, ok := buildCandidate(job, gapMinutes, staff); ok {
			entryID := entry.ID
			c.Source = "waitlist"
			c.WaitlistEntryID = &entryID
			candidates = append(candidates, c)
			seen[job.ID] = true
		}
	}

	approved, err := r.repos.Jobs.ListUnscheduled(ctx, tenantID, []domain.JobStatus{domain.JobApproved})
	if err != nil {
		return nil, err
	}
	for _, job := range approved {
		if seen[job.ID] {
			continue
		}
		if c, ok := buildCandidate(job, gapMinutes, staff); ok {
			c.Source = "approved"
			candidates = append(candidates, c)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].SlackMinutes < candidates[j].SlackMinutes
	})
	return candidates, nil
}

func buildCandidate(job *domain.Job, gapMinutes int, staff *domain.Staff) (GapCandidate, bool) {
	if job.EstimatedMinutes > gapMinutes {
		return GapCandidate{}, false
	}
	if staff != nil && !staff.HasEquipment(job.RequiredEquipment) {
		return GapCandidate{}, false
	}
	return GapCandidate{
		JobID:           job.ID,
		Priority:        job.Priority,
		DurationMinutes: job.EstimatedMinutes,
		SlackMinutes:    gapMinutes - job.EstimatedMinutes,
	}, true
}
