package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/pkg/security"
)

// ReferenceHandler serves the narrow reference-entity surface this
// module needs: lead intake and conversion, property reads and the
// primary-property flip, and staff availability maintenance. Full CRUD
// for these entities lives with an external collaborator.
type ReferenceHandler struct {
	repos  *repository.Repositories
	logger *zap.SugaredLogger
}

func NewReferenceHandler(repos *repository.Repositories, logger *zap.SugaredLogger) *ReferenceHandler {
	return &ReferenceHandler{repos: repos, logger: logger}
}

// CreateLead handles POST /leads.
func (h *ReferenceHandler) CreateLead(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.CreateLeadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	name := security.SanitizeName(req.Name)
	if name == "" {
		writeError(w, h.logger, apperr.Validation("name is required"))
		return
	}
	phone, err := security.NormalizePhone(req.Phone)
	if err != nil {
		writeError(w, h.logger, apperr.Validationf("invalid phone: %v", err))
		return
	}

	lead := &domain.Lead{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		Phone:     phone,
		Email:     req.Email,
		Source:    req.Source,
		Status:    domain.LeadNew,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repos.Leads.Create(r.Context(), lead); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

// ConvertLead handles POST /leads/{id}/convert.
func (h *ReferenceHandler) ConvertLead(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	leadID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.ConvertLeadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	lead, err := h.repos.Leads.GetByID(r.Context(), tenantID, leadID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if lead.Status == domain.LeadConverted {
		writeError(w, h.logger, apperr.StateRejected("lead has already been converted"))
		return
	}

	name := security.SanitizeName(req.Name)
	if name == "" {
		name = lead.Name
	}
	phone := req.Phone
	if phone == "" {
		phone = lead.Phone
	}
	phone, err = security.NormalizePhone(phone)
	if err != nil {
		writeError(w, h.logger, apperr.Validationf("invalid phone: %v", err))
		return
	}
	email := req.Email
	if email == "" {
		email = lead.Email
	}

	customer := &domain.Customer{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     name,
		Phone:    phone,
		Email:    email,
	}
	created, err := h.repos.Leads.ConvertToCustomer(r.Context(), tenantID, leadID, customer)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// GetProperty handles GET /properties/{id}.
func (h *ReferenceHandler) GetProperty(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	propertyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	property, err := h.repos.Properties.GetByID(r.Context(), tenantID, propertyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, property)
}

// SetPrimaryProperty handles POST /properties/{id}/primary. The flip
// is atomic across the customer's properties: at most one primary.
func (h *ReferenceHandler) SetPrimaryProperty(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	propertyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	property, err := h.repos.Properties.GetByID(r.Context(), tenantID, propertyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.repos.Properties.SetPrimary(r.Context(), tenantID, property.CustomerID, propertyID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"property_id": propertyID, "is_primary": true})
}

// UpsertAvailability handles PUT /staff/{id}/availability.
func (h *ReferenceHandler) UpsertAvailability(w http.ResponseWriter, r *http.Request) {
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
	var req domain.UpsertAvailabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !req.WindowStart.Before(req.WindowEnd) {
		writeError(w, h.logger, apperr.Validation("window start must precede window end"))
		return
	}
	if req.LunchDurationMins < 0 || req.LunchDurationMins > 120 {
		writeError(w, h.logger, apperr.Validation("lunch duration must be between 0 and 120 minutes"))
		return
	}
	if _, err := h.repos.Staff.GetByID(r.Context(), tenantID, staffID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	avail := &domain.StaffAvailability{
		ID:                uuid.New(),
		TenantID:          tenantID,
		StaffID:           staffID,
		Date:              date,
		WindowStart:       req.WindowStart,
		WindowEnd:         req.WindowEnd,
		LunchStart:        req.LunchStart,
		LunchDurationMins: req.LunchDurationMins,
		Available:         req.Available,
	}
	if err := h.repos.StaffAvailability.Upsert(r.Context(), avail); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

// GetAvailability handles GET /staff/{id}/availability?date=….
func (h *ReferenceHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
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
	date, err := dateQuery(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	avail, err := h.repos.StaffAvailability.GetForDate(r.Context(), tenantID, staffID, date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}
