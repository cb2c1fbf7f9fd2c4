// Package domain holds the core entities of the scheduling and dispatch
// system: jobs, properties, staff, appointments, invoices, and the
// supporting audit/waitlist/reassignment records. Entities are plain
// records; enum-typed columns get their own string-constant type instead
// of a shared "status" string, matching the table-per-entity shape the
// data model was distilled from.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JobStatus is the job lifecycle state. Only the transitions named in
// JobTransitions are legal.
type JobStatus string

const (
	JobRequested  JobStatus = "requested"
	JobApproved   JobStatus = "approved"
	JobScheduled  JobStatus = "scheduled"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobClosed     JobStatus = "closed"
	JobCancelled  JobStatus = "cancelled"
)

// JobTransitions is the directed graph of legal job status changes.
// Cancelled is reachable from any non-terminal state; CanTransition
// allows it for every status that is not IsTerminal.
var JobTransitions = map[JobStatus][]JobStatus{
	JobRequested:  {JobApproved, JobCancelled},
	JobApproved:   {JobScheduled, JobCancelled},
	JobScheduled:  {JobInProgress, JobApproved, JobCancelled}, // JobApproved: appointment cancelled, job falls back
	JobInProgress: {JobCompleted, JobCancelled},
	JobCompleted:  {JobClosed},
	JobClosed:     {},
	JobCancelled:  {},
}

func (s JobStatus) IsTerminal() bool {
	return s == JobClosed || s == JobCancelled
}

// CanTransition reports whether next is a legal transition from s.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if next == JobCancelled {
		return !s.IsTerminal()
	}
	for _, candidate := range JobTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// JobCategory classifies the kind of work a job represents.
type JobCategory string

const (
	CategoryInstallation JobCategory = "installation"
	CategoryRepair       JobCategory = "repair"
	CategoryDiagnostic   JobCategory = "diagnostic"
	CategorySeasonal     JobCategory = "seasonal"
	CategoryLandscaping  JobCategory = "landscaping"
)

// JobPriority ranges 0 (normal) through 3 (emergency).
type JobPriority int

const (
	PriorityNormal    JobPriority = 0
	PriorityElevated  JobPriority = 1
	PriorityHigh      JobPriority = 2
	PriorityEmergency JobPriority = 3
)

// Job is the unit of work dispatched onto the schedule.
type Job struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	TenantID           uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	JobNumber          string          `json:"job_number" db:"job_number"`
	CustomerID         uuid.UUID       `json:"customer_id" db:"customer_id"`
	PropertyID         uuid.UUID       `json:"property_id" db:"property_id"`
	ServiceOfferingID  uuid.UUID       `json:"service_offering_id" db:"service_offering_id"`
	Category           JobCategory     `json:"category" db:"category"`
	Status             JobStatus       `json:"status" db:"status"`
	Priority           JobPriority     `json:"priority" db:"priority"`
	EstimatedMinutes   int             `json:"estimated_minutes" db:"estimated_minutes"`
	RequiredEquipment  []string        `json:"required_equipment" db:"required_equipment"`
	RequiredStaffCount int             `json:"required_staff_count" db:"required_staff_count"`
	PreferredStart     *time.Time      `json:"preferred_start,omitempty" db:"preferred_start"`
	PreferredEnd       *time.Time      `json:"preferred_end,omitempty" db:"preferred_end"`
	PriceSnapshot      decimal.Decimal `json:"price_snapshot" db:"price_snapshot"`
	Notes              string          `json:"notes,omitempty" db:"notes"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// JobStatusHistory is an append-only, timestamp-monotone record of every
// status transition a job has undergone.
type JobStatusHistory struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	JobID     uuid.UUID  `json:"job_id" db:"job_id"`
	Previous  *JobStatus `json:"previous,omitempty" db:"previous_status"`
	Next      JobStatus  `json:"next" db:"next_status"`
	ActorID   uuid.UUID  `json:"actor_id" db:"actor_id"`
	Note      string     `json:"note,omitempty" db:"note"`
	Timestamp time.Time  `json:"timestamp" db:"timestamp"`
}

// Property is a geo-located service site owned by a customer.
type Property struct {
	ID          uuid.UUID `json:"id" db:"id"`
	TenantID    uuid.UUID `json:"tenant_id" db:"tenant_id"`
	CustomerID  uuid.UUID `json:"customer_id" db:"customer_id"`
	Latitude    float64   `json:"latitude" db:"latitude"`
	Longitude   float64   `json:"longitude" db:"longitude"`
	ZoneCount   *int      `json:"zone_count,omitempty" db:"zone_count"`
	SystemType  string    `json:"system_type,omitempty" db:"system_type"`
	AccessNotes string    `json:"access_notes,omitempty" db:"access_notes"`
	Address     string    `json:"address" db:"address"`
	City        string    `json:"city" db:"city"`
	IsPrimary   bool      `json:"is_primary" db:"is_primary"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ValidZoneCount reports whether a present zone count is in [1, 50].
func (p *Property) ValidZoneCount() bool {
	if p.ZoneCount == nil {
		return true
	}
	return *p.ZoneCount >= 1 && *p.ZoneCount <= 50
}

// PricingModel selects how a service offering's price and duration scale.
type PricingModel string

const (
	PricingFlat       PricingModel = "flat"
	PricingZoneBased  PricingModel = "zone_based"
	PricingHourly     PricingModel = "hourly"
	PricingCustom     PricingModel = "custom"
)

// ServiceOffering is a catalog item a job is booked against.
type ServiceOffering struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	TenantID           uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Name               string          `json:"name" db:"name"`
	Category           JobCategory     `json:"category" db:"category"`
	PricingModel       PricingModel    `json:"pricing_model" db:"pricing_model"`
	BasePrice          decimal.Decimal `json:"base_price" db:"base_price"`
	PerZonePrice       decimal.Decimal `json:"per_zone_price" db:"per_zone_price"`
	BaseDurationMins   int             `json:"base_duration_minutes" db:"base_duration_minutes"`
	PerZoneDurationMin int             `json:"per_zone_duration_minutes" db:"per_zone_duration_minutes"`
	RequiredEquipment  []string        `json:"required_equipment" db:"required_equipment"`
	RequiredStaffCount int             `json:"required_staff_count" db:"required_staff_count"`
	BufferMinutes      int             `json:"buffer_minutes" db:"buffer_minutes"`
	LienEligible       bool            `json:"lien_eligible" db:"lien_eligible"`
	Prepay             bool            `json:"prepay" db:"prepay"`
	Active             bool            `json:"active" db:"active"`
}

// DurationFor computes a job's estimated duration for the given zone
// count: base plus per-zone times zone count when zone_based.
func (s *ServiceOffering) DurationFor(zoneCount int) int {
	if s.PricingModel != PricingZoneBased {
		return s.BaseDurationMins
	}
	return s.BaseDurationMins + s.PerZoneDurationMin*zoneCount
}

// PriceFor computes the price snapshot for the given zone count.
func (s *ServiceOffering) PriceFor(zoneCount int) decimal.Decimal {
	if s.PricingModel != PricingZoneBased {
		return s.BasePrice
	}
	return s.BasePrice.Add(s.PerZonePrice.Mul(decimal.NewFromInt(int64(zoneCount))))
}

// StaffRole distinguishes techs (who route) from sales/admin staff.
type StaffRole string

const (
	RoleTech  StaffRole = "tech"
	RoleSales StaffRole = "sales"
	RoleAdmin StaffRole = "admin"
)

// Staff is a worker who may be dispatched onto the schedule.
type Staff struct {
	ID               uuid.UUID `json:"id" db:"id"`
	TenantID         uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Name             string    `json:"name" db:"name"`
	Role             StaffRole `json:"role" db:"role"`
	SkillLevel       int       `json:"skill_level" db:"skill_level"`
	Certifications   []string  `json:"certifications" db:"certifications"`
	AssignedEquipment []string `json:"assigned_equipment" db:"assigned_equipment"`
	StartLatitude    float64   `json:"start_latitude" db:"start_latitude"`
	StartLongitude   float64   `json:"start_longitude" db:"start_longitude"`
	LoginEmail       string    `json:"login_email,omitempty" db:"login_email"`
	PasswordHash     string    `json:"-" db:"password_hash"`
	Available        bool      `json:"available" db:"available"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// RoutesSchedule reports whether this staff member participates in
// routing; only techs do.
func (s *Staff) RoutesSchedule() bool { return s.Role == RoleTech }

// HasEquipment reports whether the staff's assigned equipment set is a
// superset of required.
func (s *Staff) HasEquipment(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(s.AssignedEquipment))
	for _, e := range s.AssignedEquipment {
		have[e] = true
	}
	for _, need := range required {
		if !have[need] {
			return false
		}
	}
	return true
}

// StaffAvailability is one row per (staff, date): the working window and
// optional lunch interval.
type StaffAvailability struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	TenantID            uuid.UUID `json:"tenant_id" db:"tenant_id"`
	StaffID             uuid.UUID `json:"staff_id" db:"staff_id"`
	Date                time.Time `json:"date" db:"date"`
	WindowStart         time.Time `json:"window_start" db:"window_start"`
	WindowEnd           time.Time `json:"window_end" db:"window_end"`
	LunchStart          *time.Time `json:"lunch_start,omitempty" db:"lunch_start"`
	LunchDurationMins   int       `json:"lunch_duration_minutes" db:"lunch_duration_minutes"`
	Available           bool      `json:"available" db:"available"`
}

// LunchEnd returns the lunch interval's end, or zero time if no lunch.
func (a *StaffAvailability) LunchEnd() time.Time {
	if a.LunchStart == nil {
		return time.Time{}
	}
	return a.LunchStart.Add(time.Duration(a.LunchDurationMins) * time.Minute)
}

// AvailableMinutes returns total working minutes excluding lunch.
func (a *StaffAvailability) AvailableMinutes() int {
	total := int(a.WindowEnd.Sub(a.WindowStart).Minutes())
	if a.LunchStart != nil {
		total -= a.LunchDurationMins
	}
	return total
}

// AppointmentStatus is the appointment lifecycle state.
type AppointmentStatus string

const (
	ApptScheduled  AppointmentStatus = "scheduled"
	ApptConfirmed  AppointmentStatus = "confirmed"
	ApptInProgress AppointmentStatus = "in_progress"
	ApptCompleted  AppointmentStatus = "completed"
	ApptCancelled  AppointmentStatus = "cancelled"
)

// IsMovable reports whether re-optimize is allowed to relocate an
// appointment in this status; only "scheduled" appointments may move,
// confirmed and later stay put.
func (s AppointmentStatus) IsMovable() bool { return s == ApptScheduled }

// IsCancellable reports whether an appointment in this status may still
// be cancelled or rescheduled; work already underway or finished may not.
func (s AppointmentStatus) IsCancellable() bool {
	return s == ApptScheduled || s == ApptConfirmed
}

// Appointment is a concrete assignment of a job to a staff member on a
// date, within a time window. A job requiring N > 1 staff produces N
// appointments sharing GroupID, one per (job, staff) pair.
type Appointment struct {
	ID                uuid.UUID          `json:"id" db:"id"`
	TenantID          uuid.UUID          `json:"tenant_id" db:"tenant_id"`
	JobID             uuid.UUID          `json:"job_id" db:"job_id"`
	StaffID           uuid.UUID          `json:"staff_id" db:"staff_id"`
	GroupID           uuid.UUID          `json:"group_id" db:"group_id"`
	Date              time.Time          `json:"date" db:"date"`
	Start             time.Time          `json:"start" db:"start"`
	End               time.Time          `json:"end" db:"end"`
	Status            AppointmentStatus  `json:"status" db:"status"`
	RouteOrder        int                `json:"route_order" db:"route_order"`
	ArrivedAt         *time.Time         `json:"arrived_at,omitempty" db:"arrived_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt       *time.Time         `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason string            `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	RescheduledFrom   *uuid.UUID         `json:"rescheduled_from,omitempty" db:"rescheduled_from"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

// Overlaps reports whether two appointments' windows intersect.
// Appointments sharing GroupID (same multi-tech job, same window) are by
// definition not considered conflicting with each other.
func (a *Appointment) Overlaps(other *Appointment) bool {
	if a.GroupID != uuid.Nil && a.GroupID == other.GroupID {
		return false
	}
	return a.Start.Before(other.End) && other.Start.Before(a.End)
}

// WaitlistEntry is a job awaiting a schedule slot.
type WaitlistEntry struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	TenantID         uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	JobID            uuid.UUID  `json:"job_id" db:"job_id"`
	PreferredDate    time.Time  `json:"preferred_date" db:"preferred_date"`
	PreferredStart   *time.Time `json:"preferred_start,omitempty" db:"preferred_start"`
	PreferredEnd     *time.Time `json:"preferred_end,omitempty" db:"preferred_end"`
	Priority         JobPriority `json:"priority" db:"priority"`
	NotifiedAt       *time.Time `json:"notified_at,omitempty" db:"notified_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// InvoiceStatus is the invoice lifecycle state.
type InvoiceStatus string

const (
	InvoiceDraft          InvoiceStatus = "draft"
	InvoiceSent           InvoiceStatus = "sent"
	InvoiceViewed         InvoiceStatus = "viewed"
	InvoicePartiallyPaid  InvoiceStatus = "partially_paid"
	InvoicePaid           InvoiceStatus = "paid"
	InvoiceOverdue        InvoiceStatus = "overdue"
	InvoiceVoid           InvoiceStatus = "void"
)

// InvoiceTransitions is the directed graph of legal invoice status
// changes. Void is reachable from any unpaid state.
var InvoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceDraft:         {InvoiceSent, InvoiceVoid},
	InvoiceSent:          {InvoiceViewed, InvoicePartiallyPaid, InvoicePaid, InvoiceOverdue, InvoiceVoid},
	InvoiceViewed:        {InvoicePartiallyPaid, InvoicePaid, InvoiceOverdue, InvoiceVoid},
	InvoicePartiallyPaid: {InvoicePaid, InvoiceOverdue, InvoiceVoid},
	InvoiceOverdue:       {InvoicePartiallyPaid, InvoicePaid, InvoiceVoid},
	InvoicePaid:          {},
	InvoiceVoid:          {},
}

// CanTransition reports whether next is a legal transition from s.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	for _, candidate := range InvoiceTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Invoice tracks amounts owed for a job, including lien metadata.
type Invoice struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	TenantID           uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	JobID              uuid.UUID       `json:"job_id" db:"job_id"`
	CustomerID         uuid.UUID       `json:"customer_id" db:"customer_id"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`
	LateFeeAmount      decimal.Decimal `json:"late_fee_amount" db:"late_fee_amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	DueDate            time.Time       `json:"due_date" db:"due_date"`
	Status             InvoiceStatus   `json:"status" db:"status"`
	PaymentMethod      string          `json:"payment_method,omitempty" db:"payment_method"`
	LienEligible       bool            `json:"lien_eligible" db:"lien_eligible"`
	LienWarningSentAt  *time.Time      `json:"lien_warning_sent_at,omitempty" db:"lien_warning_sent_at"`
	LienFiledDate      *time.Time      `json:"lien_filed_date,omitempty" db:"lien_filed_date"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Total is amount + late fee.
func (i *Invoice) Total() decimal.Decimal {
	return i.Amount.Add(i.LateFeeAmount)
}

// IsPaidInFull reports whether paid_amount has reached total.
func (i *Invoice) IsPaidInFull() bool {
	return i.PaidAmount.GreaterThanOrEqual(i.Total())
}

// Payment is one payment applied against an invoice.
type Payment struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	TenantID  uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	InvoiceID uuid.UUID       `json:"invoice_id" db:"invoice_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Method    string          `json:"method" db:"method"`
	PaidAt    time.Time       `json:"paid_at" db:"paid_at"`
}

// ScheduleClearAudit records an atomic schedule wipe for a date. The
// cleared_by reference is nullable so deleting a staff account never
// erases the audit trail it produced.
type ScheduleClearAudit struct {
	ID               uuid.UUID `json:"id" db:"id"`
	TenantID         uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Date             time.Time `json:"date" db:"date"`
	Snapshot         []byte    `json:"snapshot" db:"snapshot"` // versioned JSON envelope of cleared appointments
	JobIDs           []uuid.UUID `json:"job_ids" db:"job_ids"`
	AppointmentCount int        `json:"appointment_count" db:"appointment_count"`
	ClearedBy        *uuid.UUID `json:"cleared_by,omitempty" db:"cleared_by"`
	Notes            string     `json:"notes,omitempty" db:"notes"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// ScheduleReassignment records a staff-to-staff job redistribution.
// Staff references are nullable for the same audit-survival reason as
// ScheduleClearAudit.ClearedBy.
type ScheduleReassignment struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	TenantID        uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	OriginalStaffID *uuid.UUID `json:"original_staff_id,omitempty" db:"original_staff_id"`
	NewStaffID      *uuid.UUID `json:"new_staff_id,omitempty" db:"new_staff_id"`
	Date            time.Time  `json:"date" db:"date"`
	Reason          string     `json:"reason" db:"reason"`
	JobsReassigned  int        `json:"jobs_reassigned" db:"jobs_reassigned"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Customer and Lead are reference entities this module reads but does
// not own; kept here only with the fields the scheduling core actually
// consumes.
type Customer struct {
	ID        uuid.UUID `json:"id" db:"id"`
	TenantID  uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email,omitempty" db:"email"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadContacted LeadStatus = "contacted"
	LeadConverted LeadStatus = "converted"
	LeadLost      LeadStatus = "lost"
)

// Lead is a prospective customer; converting it creates the Customer
// record and links back to it.
type Lead struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	TenantID   uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Name       string     `json:"name" db:"name"`
	Phone      string     `json:"phone" db:"phone"`
	Email      string     `json:"email,omitempty" db:"email"`
	Source     string     `json:"source,omitempty" db:"source"`
	Status     LeadStatus `json:"status" db:"status"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty" db:"customer_id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// SentMessage is the audit trail for anything dispatched through the
// CommunicationService narrow collaborator (waitlist-opening SMS, lien
// warnings, appointment reminders).
type SentMessage struct {
	ID         uuid.UUID `json:"id" db:"id"`
	TenantID   uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Channel    string    `json:"channel" db:"channel"` // sms | email
	Recipient  string    `json:"recipient" db:"recipient"`
	Template   string    `json:"template" db:"template"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id" db:"entity_id"`
	Status     string    `json:"status" db:"status"`
	SentAt     time.Time `json:"sent_at" db:"sent_at"`
}
