package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/billing"
)

// BillingHandler serves the invoice surface.
type BillingHandler struct {
	billing *billing.Service
	repos   *repository.Repositories
	logger  *zap.SugaredLogger
}

func NewBillingHandler(billingService *billing.Service, repos *repository.Repositories, logger *zap.SugaredLogger) *BillingHandler {
	return &BillingHandler{billing: billingService, repos: repos, logger: logger}
}

// Create handles POST /invoices.
func (h *BillingHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.CreateInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	invoice, err := h.billing.CreateForJob(r.Context(), tenantID, req.JobID, req.DueInDays)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

// Get handles GET /invoices/{id}.
func (h *BillingHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	invoiceID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	invoice, err := h.repos.Invoices.GetByID(r.Context(), tenantID, invoiceID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	payments, err := h.repos.Payments.ListForInvoice(r.Context(), tenantID, invoiceID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invoice":  invoice,
		"payments": payments,
		"total":    invoice.Total(),
	})
}

// RecordPayment handles POST /invoices/{id}/payments.
func (h *BillingHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	invoiceID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.RecordPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	invoice, err := h.billing.RecordPayment(r.Context(), tenantID, invoiceID, req.Amount, req.Method)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// ApplyLateFee handles POST /invoices/{id}/late-fee.
func (h *BillingHandler) ApplyLateFee(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	invoiceID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.ApplyLateFeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	invoice, err := h.billing.ApplyLateFee(r.Context(), tenantID, invoiceID, req.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// FileLien handles POST /invoices/{id}/file-lien.
func (h *BillingHandler) FileLien(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	invoiceID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req domain.FileLienRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	filedDate, err := parseDate(req.FiledDate, "filed_date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	invoice, err := h.billing.FileLien(r.Context(), tenantID, invoiceID, filedDate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}
