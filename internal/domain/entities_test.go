package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/gravelroot/dispatch-core/internal/domain"
)

func TestJobStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.JobStatus
		want     bool
	}{
		{domain.JobRequested, domain.JobApproved, true},
		{domain.JobApproved, domain.JobScheduled, true},
		{domain.JobScheduled, domain.JobApproved, true}, // appointment cancelled, job falls back
		{domain.JobScheduled, domain.JobInProgress, true},
		{domain.JobInProgress, domain.JobCompleted, true},
		{domain.JobCompleted, domain.JobClosed, true},
		{domain.JobRequested, domain.JobScheduled, false},
		{domain.JobApproved, domain.JobCompleted, false},
		{domain.JobClosed, domain.JobApproved, false},
		// Cancellation is reachable from any non-terminal state only.
		{domain.JobRequested, domain.JobCancelled, true},
		{domain.JobInProgress, domain.JobCancelled, true},
		{domain.JobClosed, domain.JobCancelled, false},
		{domain.JobCancelled, domain.JobCancelled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestInvoiceStatus_CanTransition(t *testing.T) {
	assert.True(t, domain.InvoiceDraft.CanTransition(domain.InvoiceSent))
	assert.True(t, domain.InvoiceSent.CanTransition(domain.InvoiceOverdue))
	assert.True(t, domain.InvoiceOverdue.CanTransition(domain.InvoicePaid))
	assert.False(t, domain.InvoicePaid.CanTransition(domain.InvoiceVoid))
	assert.False(t, domain.InvoiceVoid.CanTransition(domain.InvoiceSent))
	assert.False(t, domain.InvoiceDraft.CanTransition(domain.InvoicePaid))
}

func TestInvoice_TotalAndPaidInFull(t *testing.T) {
	inv := &domain.Invoice{
		Amount:        decimal.RequireFromString("250.00"),
		LateFeeAmount: decimal.RequireFromString("25.50"),
		PaidAmount:    decimal.RequireFromString("275.49"),
	}
	assert.True(t, inv.Total().Equal(decimal.RequireFromString("275.50")))
	assert.False(t, inv.IsPaidInFull())

	inv.PaidAmount = decimal.RequireFromString("275.50")
	assert.True(t, inv.IsPaidInFull())
}

func TestAppointment_Overlaps(t *testing.T) {
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	a := &domain.Appointment{GroupID: uuid.New(), Start: base, End: base.Add(time.Hour)}
	b := &domain.Appointment{GroupID: uuid.New(), Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)}
	c := &domain.Appointment{GroupID: uuid.New(), Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
	assert.False(t, a.Overlaps(c), "touching windows do not overlap")

	// Two halves of a multi-tech visit share a group and never
	// conflict with each other.
	shared := uuid.New()
	d := &domain.Appointment{GroupID: shared, Start: base, End: base.Add(time.Hour)}
	e := &domain.Appointment{GroupID: shared, Start: base, End: base.Add(time.Hour)}
	assert.False(t, d.Overlaps(e))
}

func TestStaffAvailability_AvailableMinutes(t *testing.T) {
	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	lunch := date.Add(12 * time.Hour)
	avail := &domain.StaffAvailability{
		WindowStart:       date.Add(8 * time.Hour),
		WindowEnd:         date.Add(17 * time.Hour),
		LunchStart:        &lunch,
		LunchDurationMins: 30,
	}
	assert.Equal(t, 9*60-30, avail.AvailableMinutes())
	assert.Equal(t, lunch.Add(30*time.Minute), avail.LunchEnd())

	avail.LunchStart = nil
	assert.Equal(t, 9*60, avail.AvailableMinutes())
}

func TestServiceOffering_ZoneBasedDurationAndPrice(t *testing.T) {
	offering := &domain.ServiceOffering{
		PricingModel:       domain.PricingZoneBased,
		BasePrice:          decimal.RequireFromString("80.00"),
		PerZonePrice:       decimal.RequireFromString("12.00"),
		BaseDurationMins:   30,
		PerZoneDurationMin: 5,
	}
	assert.Equal(t, 30+5*8, offering.DurationFor(8))
	assert.True(t, offering.PriceFor(8).Equal(decimal.RequireFromString("176.00")))

	offering.PricingModel = domain.PricingFlat
	assert.Equal(t, 30, offering.DurationFor(8))
	assert.True(t, offering.PriceFor(8).Equal(decimal.RequireFromString("80.00")))
}

func TestProperty_ValidZoneCount(t *testing.T) {
	p := &domain.Property{}
	assert.True(t, p.ValidZoneCount(), "absent zone count is valid")

	for count, want := range map[int]bool{0: false, 1: true, 50: true, 51: false} {
		c := count
		p.ZoneCount = &c
		assert.Equal(t, want, p.ValidZoneCount(), "zone count %d", count)
	}
}

func TestStaff_HasEquipment(t *testing.T) {
	s := &domain.Staff{AssignedEquipment: []string{"compressor", "trencher"}}
	assert.True(t, s.HasEquipment(nil))
	assert.True(t, s.HasEquipment([]string{"compressor"}))
	assert.False(t, s.HasEquipment([]string{"compressor", "backhoe"}))
}

func TestAppointmentStatus_Predicates(t *testing.T) {
	assert.True(t, domain.ApptScheduled.IsMovable())
	assert.False(t, domain.ApptConfirmed.IsMovable())
	assert.True(t, domain.ApptScheduled.IsCancellable())
	assert.True(t, domain.ApptConfirmed.IsCancellable())
	assert.False(t, domain.ApptInProgress.IsCancellable())
	assert.False(t, domain.ApptCompleted.IsCancellable())
}
