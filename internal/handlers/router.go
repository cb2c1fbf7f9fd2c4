package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gravelroot/dispatch-core/internal/middleware"
)

// Handlers aggregates the endpoint groups so cmd/api wires one value.
type Handlers struct {
	Schedule    *ScheduleHandler
	Appointment *AppointmentHandler
	Job         *JobHandler
	Billing     *BillingHandler
	Reference   *ReferenceHandler
}

// SetupRoutes builds the full route table. Reads require only a valid
// token; schedule mutations additionally require dispatch authority.
// CSRF protection wraps the authenticated subtree for browser-session
// clients.
func (h *Handlers) SetupRoutes(mw *middleware.EnhancedMiddleware) http.Handler {
	r := mux.NewRouter()
	r.Use(mw.RequestID, mw.SecurityHeaders, mw.EnhancedCORS, mw.EnhancedLogging)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(mw.JWTAuth, mw.RateLimit, mw.AuditLog)

	// Read surface.
	api.HandleFunc("/schedule/capacity", h.Schedule.Capacity).Methods(http.MethodGet)
	api.HandleFunc("/schedule/waitlist", h.Schedule.Waitlist).Methods(http.MethodGet)
	api.HandleFunc("/schedule/coverage-options/{date}", h.Schedule.CoverageOptions).Methods(http.MethodGet)
	api.HandleFunc("/schedule/clears/recent", h.Schedule.RecentClears).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", h.Job.Get).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/history", h.Job.History).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{id}", h.Billing.Get).Methods(http.MethodGet)
	api.HandleFunc("/properties/{id}", h.Reference.GetProperty).Methods(http.MethodGet)
	api.HandleFunc("/staff/{id}/availability", h.Reference.GetAvailability).Methods(http.MethodGet)

	// State-changing surface: dispatcher role plus CSRF for browser
	// sessions.
	writes := api.NewRoute().Subrouter()
	writes.Use(mw.RequireDispatcher, mw.CSRFProtection)

	writes.HandleFunc("/schedule/generate", h.Schedule.Generate).Methods(http.MethodPost)
	writes.HandleFunc("/schedule/reoptimize", h.Schedule.Reoptimize).Methods(http.MethodPost)
	writes.HandleFunc("/schedule/emergency-insert", h.Schedule.EmergencyInsert).Methods(http.MethodPost)
	writes.HandleFunc("/schedule/fill-gap", h.Schedule.FillGap).Methods(http.MethodPost)
	writes.HandleFunc("/schedule/reassign-staff", h.Schedule.ReassignStaff).Methods(http.MethodPost)
	writes.HandleFunc("/schedule/clear", h.Schedule.Clear).Methods(http.MethodPost)
	writes.HandleFunc("/staff/{id}/mark-unavailable", h.Schedule.MarkUnavailable).Methods(http.MethodPost)
	writes.HandleFunc("/staff/{id}/availability", h.Reference.UpsertAvailability).Methods(http.MethodPut)

	writes.HandleFunc("/appointments/{id}/cancel", h.Appointment.Cancel).Methods(http.MethodPost)
	writes.HandleFunc("/appointments/{id}/reschedule", h.Appointment.Reschedule).Methods(http.MethodPost)

	writes.HandleFunc("/jobs", h.Job.Create).Methods(http.MethodPost)
	writes.HandleFunc("/jobs/{id}/transition", h.Job.Transition).Methods(http.MethodPost)

	writes.HandleFunc("/invoices", h.Billing.Create).Methods(http.MethodPost)
	writes.HandleFunc("/invoices/{id}/payments", h.Billing.RecordPayment).Methods(http.MethodPost)
	writes.HandleFunc("/invoices/{id}/late-fee", h.Billing.ApplyLateFee).Methods(http.MethodPost)
	writes.HandleFunc("/invoices/{id}/file-lien", h.Billing.FileLien).Methods(http.MethodPost)

	writes.HandleFunc("/leads", h.Reference.CreateLead).Methods(http.MethodPost)
	writes.HandleFunc("/leads/{id}/convert", h.Reference.ConvertLead).Methods(http.MethodPost)
	writes.HandleFunc("/properties/{id}/primary", h.Reference.SetPrimaryProperty).Methods(http.MethodPost)

	return r
}
