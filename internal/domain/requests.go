package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Date-only fields travel as "YYYY-MM-DD" strings; instants travel as
// RFC 3339 timestamps.

// GenerateScheduleRequest is the payload for POST /schedule/generate.
type GenerateScheduleRequest struct {
	ScheduleDate   string `json:"schedule_date"`
	TimeoutSeconds *int   `json:"timeout_seconds,omitempty"`
}

// ReoptimizeScheduleRequest is the payload for POST /schedule/reoptimize.
type ReoptimizeScheduleRequest struct {
	TargetDate     string `json:"target_date"`
	TimeoutSeconds *int   `json:"timeout_seconds,omitempty"`
}

// EmergencyInsertRequest is the payload for POST /schedule/emergency-insert.
type EmergencyInsertRequest struct {
	JobID         uuid.UUID `json:"job_id"`
	TargetDate    string    `json:"target_date"`
	PriorityLevel *int      `json:"priority_level,omitempty"`
}

// CancelAppointmentRequest is the payload for POST /appointments/{id}/cancel.
type CancelAppointmentRequest struct {
	Reason                  string  `json:"reason"`
	AddToWaitlist           bool    `json:"add_to_waitlist,omitempty"`
	PreferredRescheduleDate *string `json:"preferred_reschedule_date,omitempty"`
}

// RescheduleAppointmentRequest is the payload for POST /appointments/{id}/reschedule.
type RescheduleAppointmentRequest struct {
	NewDate      string     `json:"new_date"`
	NewTimeStart time.Time  `json:"new_time_start"`
	NewTimeEnd   time.Time  `json:"new_time_end"`
	NewStaffID   *uuid.UUID `json:"new_staff_id,omitempty"`
}

// MarkUnavailableRequest is the payload for POST /staff/{id}/mark-unavailable.
type MarkUnavailableRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// ReassignStaffRequest is the payload for POST /schedule/reassign-staff.
type ReassignStaffRequest struct {
	OriginalStaffID uuid.UUID `json:"original_staff_id"`
	NewStaffID      uuid.UUID `json:"new_staff_id"`
	Date            string    `json:"date"`
	Reason          string    `json:"reason"`
}

// FillGapRequest is the payload for POST /schedule/fill-gap.
type FillGapRequest struct {
	Date    string     `json:"date"`
	Start   time.Time  `json:"start"`
	End     time.Time  `json:"end"`
	StaffID *uuid.UUID `json:"staff_id,omitempty"`
}

// ClearScheduleRequest is the payload for POST /schedule/clear.
type ClearScheduleRequest struct {
	Date  string `json:"date"`
	Notes string `json:"notes,omitempty"`
}

// CreateJobRequest is the payload for POST /jobs. Duration, price, and
// equipment requirements derive from the service offering and the
// property's zone count; they are never client-supplied.
type CreateJobRequest struct {
	CustomerID        uuid.UUID   `json:"customer_id"`
	PropertyID        uuid.UUID   `json:"property_id"`
	ServiceOfferingID uuid.UUID   `json:"service_offering_id"`
	Priority          JobPriority `json:"priority"`
	PreferredStart    *time.Time  `json:"preferred_start,omitempty"`
	PreferredEnd      *time.Time  `json:"preferred_end,omitempty"`
	Notes             string      `json:"notes,omitempty"`
}

// TransitionJobRequest drives an explicit job lifecycle transition.
type TransitionJobRequest struct {
	Next JobStatus `json:"next"`
	Note string    `json:"note,omitempty"`
}

// UpsertAvailabilityRequest is the payload for PUT /staff/{id}/availability.
type UpsertAvailabilityRequest struct {
	Date              string     `json:"date"`
	WindowStart       time.Time  `json:"window_start"`
	WindowEnd         time.Time  `json:"window_end"`
	LunchStart        *time.Time `json:"lunch_start,omitempty"`
	LunchDurationMins int        `json:"lunch_duration_minutes,omitempty"`
	Available         bool       `json:"available"`
}

// CreateInvoiceRequest is the payload for POST /invoices.
type CreateInvoiceRequest struct {
	JobID     uuid.UUID `json:"job_id"`
	DueInDays int       `json:"due_in_days,omitempty"`
}

// RecordPaymentRequest is the payload for POST /invoices/{id}/payments.
type RecordPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

// ApplyLateFeeRequest is the payload for POST /invoices/{id}/late-fee.
type ApplyLateFeeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// FileLienRequest is the payload for POST /invoices/{id}/file-lien.
type FileLienRequest struct {
	FiledDate string `json:"filed_date"`
}

// CreateLeadRequest is the payload for POST /leads.
type CreateLeadRequest struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email,omitempty"`
	Source string `json:"source,omitempty"`
}

// ConvertLeadRequest is the payload for POST /leads/{id}/convert.
// Name/phone/email default to the lead's own values when omitted.
type ConvertLeadRequest struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// PaginatedResponse wraps a page of results with paging metadata.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	Total      int         `json:"total"`
	TotalPages int         `json:"total_pages"`
}
