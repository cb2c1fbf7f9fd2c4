package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/jobflow"
)

// JobHandler serves job creation, lookup, and lifecycle transitions.
type JobHandler struct {
	repos   *repository.Repositories
	jobflow *jobflow.Service
	logger  *zap.SugaredLogger
}

func NewJobHandler(repos *repository.Repositories, flow *jobflow.Service, logger *zap.SugaredLogger) *JobHandler {
	return &JobHandler{repos: repos, jobflow: flow, logger: logger}
}

// Create handles POST /jobs. Duration, price, category, and equipment
// derive from the offering and the property's zone count; the job
// starts its lifecycle in requested.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Priority < domain.PriorityNormal || req.Priority > domain.PriorityEmergency {
		writeError(w, h.logger, apperr.Validation("priority must be between 0 and 3"))
		return
	}
	if req.PreferredStart != nil && req.PreferredEnd != nil && !req.PreferredStart.Before(*req.PreferredEnd) {
		writeError(w, h.logger, apperr.Validation("preferred window start must precede its end"))
		return
	}

	property, err := h.repos.Properties.GetByID(r.Context(), tenantID, req.PropertyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if property.CustomerID != req.CustomerID {
		writeError(w, h.logger, apperr.Validation("property does not belong to the named customer"))
		return
	}
	offering, err := h.repos.ServiceOfferings.GetByID(r.Context(), tenantID, req.ServiceOfferingID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !offering.Active {
		writeError(w, h.logger, apperr.StateRejected("service offering is no longer active"))
		return
	}

	zones := 0
	if property.ZoneCount != nil {
		zones = *property.ZoneCount
	}
	jobNumber, err := h.repos.Jobs.NextJobNumber(r.Context(), tenantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		JobNumber:          jobNumber,
		CustomerID:         req.CustomerID,
		PropertyID:         req.PropertyID,
		ServiceOfferingID:  req.ServiceOfferingID,
		Category:           offering.Category,
		Status:             domain.JobRequested,
		Priority:           req.Priority,
		EstimatedMinutes:   offering.DurationFor(zones),
		RequiredEquipment:  offering.RequiredEquipment,
		RequiredStaffCount: offering.RequiredStaffCount,
		PreferredStart:     req.PreferredStart,
		PreferredEnd:       req.PreferredEnd,
		PriceSnapshot:      offering.PriceFor(zones),
		Notes:              req.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := h.repos.Jobs.Create(r.Context(), job); err != nil {
		writeError(w, h.logger, err)
		return
	}
	entry := &domain.JobStatusHistory{
		ID:        uuid.New(),
		JobID:     job.ID,
		Next:      domain.JobRequested,
		ActorID:   actorFrom(r),
		Timestamp: now,
	}
	if err := h.repos.JobStatusHistory.Append(r.Context(), entry); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// Get handles GET /jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	job, err := h.repos.Jobs.GetByID(r.Context(), tenantID, jobID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Transition handles POST /jobs/{id}/transition.
func (h *JobHandler) Transition(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.TransitionJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	job, err := h.jobflow.Transition(r.Context(), tenantID, jobID, req.Next, actorFrom(r), req.Note)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// History handles GET /jobs/{id}/history.
func (h *JobHandler) History(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	entries, err := h.jobflow.History(r.Context(), tenantID, jobID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
