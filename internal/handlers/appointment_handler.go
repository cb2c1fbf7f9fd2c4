package handlers

import (
	"net/http"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/services/conflict"
	"github.com/gravelroot/dispatch-core/internal/worker"
)

// AppointmentHandler serves the per-appointment cancel/reschedule
// operations.
type AppointmentHandler struct {
	conflict    *conflict.Resolver
	asynqClient *asynq.Client
	logger      *zap.SugaredLogger
}

// NewAppointmentHandler builds the handler; asynqClient may be nil in
// deployments without a background worker, in which case waitlist
// notifications are simply skipped.
func NewAppointmentHandler(resolver *conflict.Resolver, asynqClient *asynq.Client, logger *zap.SugaredLogger) *AppointmentHandler {
	return &AppointmentHandler{conflict: resolver, asynqClient: asynqClient, logger: logger}
}

// Cancel handles POST /appointments/{id}/cancel.
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	apptID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.CancelAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	in := conflict.CancelInput{
		Reason:        req.Reason,
		AddToWaitlist: req.AddToWaitlist,
	}
	if req.PreferredRescheduleDate != nil {
		preferred, err := parseDate(*req.PreferredRescheduleDate, "preferred_reschedule_date")
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		in.PreferredRescheduleDate = &preferred
	}

	result, err := h.conflict.Cancel(r.Context(), tenantID, apptID, actorFrom(r), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if result.WaitlistEntry != nil && h.asynqClient != nil {
		task, err := worker.NewWaitlistNotifyTask(tenantID, result.WaitlistEntry.ID)
		if err == nil {
			if _, err := h.asynqClient.EnqueueContext(r.Context(), task); err != nil {
				h.logger.Warnw("enqueue waitlist notification", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"appointment":    result.Appointment,
		"waitlist_entry": result.WaitlistEntry,
	})
}

// Reschedule handles POST /appointments/{id}/reschedule.
func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	apptID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.RescheduleAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := parseDate(req.NewDate, "new_date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	replacement, err := h.conflict.Reschedule(r.Context(), tenantID, apptID, actorFrom(r), conflict.RescheduleInput{
		NewDate:    date,
		NewStart:   req.NewTimeStart,
		NewEnd:     req.NewTimeEnd,
		NewStaffID: req.NewStaffID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, replacement)
}
