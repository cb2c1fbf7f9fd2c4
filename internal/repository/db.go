// Package repository implements Postgres-backed persistence for every
// entity in internal/domain, using sqlx for struct scanning. Each
// repository exposes concrete methods; callers declare their own
// narrow interfaces over the subset they need rather than importing a
// shared interface here.
package repository

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Database wraps the sqlx handle shared by every repository.
type Database struct {
	*sqlx.DB
}

// NewDatabase opens and pings a Postgres connection pool.
func NewDatabase(databaseURL string) (*Database, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &Database{DB: db}, nil
}

// NewDatabaseFromConn wraps an already-configured *sql.DB (the shared
// pool from pkg/database) with sqlx scanning.
func NewDatabaseFromConn(db *sql.DB) *Database {
	return &Database{DB: sqlx.NewDb(db, "postgres")}
}

// Repositories aggregates every concrete repository over one Database
// so cmd binaries wire a single value.
type Repositories struct {
	Jobs               *JobRepository
	JobStatusHistory   *JobStatusHistoryRepository
	Properties         *PropertyRepository
	ServiceOfferings   *ServiceOfferingRepository
	Staff              *StaffRepository
	StaffAvailability  *StaffAvailabilityRepository
	Appointments       *AppointmentRepository
	Waitlist           *WaitlistRepository
	Invoices           *InvoiceRepository
	Payments           *PaymentRepository
	ScheduleClearAudit *ScheduleClearAuditRepository
	ScheduleReassign   *ScheduleReassignmentRepository
	Customers          *CustomerRepository
	Leads              *LeadRepository
	SentMessages       *SentMessageRepository
}

// NewRepositories constructs every repository over a shared Database.
func NewRepositories(db *Database) *Repositories {
	return &Repositories{
		Jobs:               NewJobRepository(db),
		JobStatusHistory:   NewJobStatusHistoryRepository(db),
		Properties:         NewPropertyRepository(db),
		ServiceOfferings:   NewServiceOfferingRepository(db),
		Staff:              NewStaffRepository(db),
		StaffAvailability:  NewStaffAvailabilityRepository(db),
		Appointments:       NewAppointmentRepository(db),
		Waitlist:           NewWaitlistRepository(db),
		Invoices:           NewInvoiceRepository(db),
		Payments:           NewPaymentRepository(db),
		ScheduleClearAudit: NewScheduleClearAuditRepository(db),
		ScheduleReassign:   NewScheduleReassignmentRepository(db),
		Customers:          NewCustomerRepository(db),
		Leads:              NewLeadRepository(db),
		SentMessages:       NewSentMessageRepository(db),
	}
}
