package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gravelroot/dispatch-core/internal/domain"
)

// CustomerRepository is a narrow, read-mostly view onto the customer
// record this module consumes but does not own; full customer CRUD
// lives with an external collaborator, and scheduling only needs to
// look customers up when working against their properties.
type CustomerRepository struct {
	db *Database
}

func NewCustomerRepository(db *Database) *CustomerRepository { return &CustomerRepository{db: db} }

const customerColumns = `id, tenant_id, name, email, phone, created_at`

func (r *CustomerRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Customer, error) {
	var c domain.Customer
	err := r.db.GetContext(ctx, &c, `SELECT `+customerColumns+` FROM customers WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, translateNotFound(err, "customer")
	}
	return &c, nil
}

// Create inserts a customer record. LeadRepository.ConvertToCustomer
// does not use it; it inserts its customer inside its own transaction.
func (r *CustomerRepository) Create(ctx context.Context, c *domain.Customer) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO customers
		(id, tenant_id, name, email, phone, created_at)
		VALUES (:id, :tenant_id, :name, :email, :phone, :created_at)`, c)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	return nil
}

// LeadRepository owns the lead-to-customer conversion flow.
type LeadRepository struct {
	db *Database
}

func NewLeadRepository(db *Database) *LeadRepository { return &LeadRepository{db: db} }

const leadColumns = `id, tenant_id, name, phone, email, source, status, customer_id, created_at`

func (r *LeadRepository) Create(ctx context.Context, l *domain.Lead) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO leads (`+leadColumns+`) VALUES (
		:id, :tenant_id, :name, :phone, :email, :source, :status, :customer_id, :created_at)`, l)
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

func (r *LeadRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Lead, error) {
	var l domain.Lead
	err := r.db.GetContext(ctx, &l, `SELECT `+leadColumns+` FROM leads WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, translateNotFound(err, "lead")
	}
	return &l, nil
}

func (r *LeadRepository) ListByStatus(ctx context.Context, tenantID uuid.UUID, status domain.LeadStatus) ([]*domain.Lead, error) {
	var out []*domain.Lead
	err := r.db.SelectContext(ctx, &out, `SELECT `+leadColumns+` FROM leads
		WHERE tenant_id = $1 AND status = $2 ORDER BY created_at ASC`, tenantID, status)
	if err != nil {
		return nil, fmt.Errorf("list leads by status: %w", err)
	}
	return out, nil
}

// ConvertToCustomer transitions a lead to converted and links it to a
// newly created (or supplied) customer record, inside a single
// transaction so the lead and customer rows commit together.
func (r *LeadRepository) ConvertToCustomer(ctx context.Context, tenantID, leadID uuid.UUID, customer *domain.Customer) (*domain.Customer, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin convert-lead tx: %w", err)
	}
	defer tx.Rollback()

	var lead domain.Lead
	if err := tx.GetContext(ctx, &lead, `SELECT `+leadColumns+` FROM leads
		WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, leadID, tenantID); err != nil {
		return nil, translateNotFound(err, "lead")
	}
	if lead.Status == domain.LeadConverted {
		return nil, fmt.Errorf("lead already converted")
	}

	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO customers
		(id, tenant_id, name, email, phone, created_at)
		VALUES (:id, :tenant_id, :name, :email, :phone, :created_at)`, customer); err != nil {
		return nil, fmt.Errorf("create customer from lead: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE leads SET status = $1, customer_id = $2
		WHERE id = $3 AND tenant_id = $4`, domain.LeadConverted, customer.ID, leadID, tenantID); err != nil {
		return nil, fmt.Errorf("mark lead converted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit convert-lead tx: %w", err)
	}
	return customer, nil
}
