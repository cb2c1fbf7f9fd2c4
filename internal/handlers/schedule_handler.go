package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/conflict"
	"github.com/gravelroot/dispatch-core/internal/services/dispatch"
	"github.com/gravelroot/dispatch-core/internal/services/schedule"
	"github.com/gravelroot/dispatch-core/internal/services/scheduleaudit"
)

// ScheduleHandler serves every /schedule/* endpoint plus the staff
// mark-unavailable mutation.
type ScheduleHandler struct {
	schedule *schedule.Service
	dispatch *dispatch.Engine
	conflict *conflict.Resolver
	audit    *scheduleaudit.Store
	repos    *repository.Repositories
	logger   *zap.SugaredLogger
}

func NewScheduleHandler(scheduleService *schedule.Service, engine *dispatch.Engine, resolver *conflict.Resolver, audit *scheduleaudit.Store, repos *repository.Repositories, logger *zap.SugaredLogger) *ScheduleHandler {
	return &ScheduleHandler{
		schedule: scheduleService,
		dispatch: engine,
		conflict: resolver,
		audit:    audit,
		repos:    repos,
		logger:   logger,
	}
}

// Generate handles POST /schedule/generate.
func (h *ScheduleHandler) Generate(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.GenerateScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := parseDate(req.ScheduleDate, "schedule_date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.schedule.Generate(r.Context(), tenantID, date, solveBudget(req.TimeoutSeconds), actorFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Reoptimize handles POST /schedule/reoptimize.
func (h *ScheduleHandler) Reoptimize(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.ReoptimizeScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := parseDate(req.TargetDate, "target_date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.schedule.Reoptimize(r.Context(), tenantID, date, solveBudget(req.TimeoutSeconds), actorFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Capacity handles GET /schedule/capacity?date=….
func (h *ScheduleHandler) Capacity(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := dateQuery(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	summary, err := h.schedule.Capacity(r.Context(), tenantID, date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// EmergencyInsert handles POST /schedule/emergency-insert.
func (h *ScheduleHandler) EmergencyInsert(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.EmergencyInsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := parseDate(req.TargetDate, "target_date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// An explicit priority_level escalates the job before insertion so
	// a normal job can be pushed through as an emergency.
	if req.PriorityLevel != nil {
		level := domain.JobPriority(*req.PriorityLevel)
		if level < domain.PriorityHigh || level > domain.PriorityEmergency {
			writeError(w, h.logger, apperr.Validationf("priority_level must be %d or %d", domain.PriorityHigh, domain.PriorityEmergency))
			return
		}
		job, err := h.repos.Jobs.GetByID(r.Context(), tenantID, req.JobID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if job.Priority < level {
			job.Priority = level
			if err := h.repos.Jobs.Update(r.Context(), job); err != nil {
				writeError(w, h.logger, err)
				return
			}
		}
	}

	result, err := h.dispatch.EmergencyInsert(r.Context(), tenantID, req.JobID, date, actorFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// Waitlist handles GET /schedule/waitlist?date=….
func (h *ScheduleHandler) Waitlist(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := dateQuery(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	entries, err := h.schedule.Waitlist(r.Context(), tenantID, date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// FillGap handles POST /schedule/fill-gap. It is a read in POST
// clothing: the window arrives in the body, no state changes.
func (h *ScheduleHandler) FillGap(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.FillGapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	candidates, err := h.conflict.FillGapSuggestions(r.Context(), tenantID, date, req.Start, req.End, req.StaffID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": candidates})
}

// MarkUnavailable handles POST /staff/{id}/mark-unavailable.
func (h *ScheduleHandler) MarkUnavailable(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	staffID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.MarkUnavailableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	result, err := h.dispatch.MarkUnavailable(r.Context(), tenantID, staffID, date, req.Reason, actorFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"affected_appointments": result.AffectedAppointments,
		"freed_job_ids":         result.FreedJobIDs,
	})
}

// ReassignStaff handles POST /schedule/reassign-staff.
func (h *ScheduleHandler) ReassignStaff(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.ReassignStaffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	result, err := h.dispatch.Reassign(r.Context(), tenantID, req.OriginalStaffID, req.NewStaffID, date, req.Reason, actorFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs_reassigned": result.JobsReassigned,
		"reassigned_jobs": result.ReassignedJobs,
		"waitlisted":      result.Waitlisted,
	})
}

// CoverageOptions handles GET /schedule/coverage-options/{date}?staff_id=….
func (h *ScheduleHandler) CoverageOptions(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := parseDate(muxVar(r, "date"), "date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	staffID, err := queryUUID(r, "staff_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	options, err := h.dispatch.CoverageOptions(r.Context(), tenantID, staffID, date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"options": options})
}

// Clear handles POST /schedule/clear.
func (h *ScheduleHandler) Clear(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.ClearScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	audit, err := h.audit.Clear(r.Context(), tenantID, date, actorFrom(r), req.Notes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

// RecentClears handles GET /schedule/clears/recent. Pass ?format=xlsx
// for the spreadsheet export.
func (h *ScheduleHandler) RecentClears(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	if r.URL.Query().Get("format") == "xlsx" {
		file, err := h.audit.ExportRecentXLSX(r.Context(), tenantID, limit)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="schedule-clears-`+time.Now().UTC().Format(dateLayout)+`.xlsx"`)
		if err := file.Write(w); err != nil {
			h.logger.Errorw("write xlsx export", "error", err)
		}
		return
	}

	audits, err := h.audit.ListRecent(r.Context(), tenantID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, audits)
}
