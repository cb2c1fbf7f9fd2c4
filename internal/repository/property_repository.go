package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gravelroot/dispatch-core/internal/domain"
)

// PropertyRepository persists domain.Property records.
type PropertyRepository struct {
	db *Database
}

func NewPropertyRepository(db *Database) *PropertyRepository { return &PropertyRepository{db: db} }

const propertyColumns = `id, tenant_id, customer_id, latitude, longitude, zone_count,
	system_type, access_notes, address, city, is_primary, created_at, updated_at`

func (r *PropertyRepository) Create(ctx context.Context, p *domain.Property) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO properties (`+propertyColumns+`) VALUES (
		:id, :tenant_id, :customer_id, :latitude, :longitude, :zone_count,
		:system_type, :access_notes, :address, :city, :is_primary, :created_at, :updated_at)`, p)
	if err != nil {
		return fmt.Errorf("create property: %w", err)
	}
	return nil
}

func (r *PropertyRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Property, error) {
	var p domain.Property
	err := r.db.GetContext(ctx, &p, `SELECT `+propertyColumns+` FROM properties WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, translateNotFound(err, "property")
	}
	return &p, nil
}

func (r *PropertyRepository) ListByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]*domain.Property, error) {
	var out []*domain.Property
	err := r.db.SelectContext(ctx, &out, `SELECT `+propertyColumns+` FROM properties
		WHERE tenant_id = $1 AND customer_id = $2 ORDER BY is_primary DESC, created_at ASC`, tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("list properties by customer: %w", err)
	}
	return out, nil
}

// SetPrimary flips is_primary atomically across the customer's
// properties (at most one primary per customer) inside a single
// transaction — clearing every other row before setting the target.
func (r *PropertyRepository) SetPrimary(ctx context.Context, tenantID, customerID, propertyID uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set-primary tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE properties SET is_primary = false, updated_at = now()
		WHERE tenant_id = $1 AND customer_id = $2 AND is_primary = true`, tenantID, customerID); err != nil {
		return fmt.Errorf("clear existing primary: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE properties SET is_primary = true, updated_at = now()
		WHERE tenant_id = $1 AND customer_id = $2 AND id = $3`, tenantID, customerID, propertyID)
	if err != nil {
		return fmt.Errorf("set new primary: %w", err)
	}
	if err := checkRowsAffected(res, "property"); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PropertyRepository) Update(ctx context.Context, p *domain.Property) error {
	_, err := r.db.NamedExecContext(ctx, `UPDATE properties SET
		latitude = :latitude, longitude = :longitude, zone_count = :zone_count,
		system_type = :system_type, access_notes = :access_notes, address = :address,
		city = :city, updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`, p)
	if err != nil {
		return fmt.Errorf("update property: %w", err)
	}
	return nil
}

// ServiceOfferingRepository persists the service catalog jobs book
// against. Catalog CRUD beyond these reads is owned by an external
// collaborator.
type ServiceOfferingRepository struct {
	db *Database
}

func NewServiceOfferingRepository(db *Database) *ServiceOfferingRepository {
	return &ServiceOfferingRepository{db: db}
}

const serviceOfferingColumns = `id, tenant_id, name, category, pricing_model, base_price, per_zone_price,
	base_duration_minutes, per_zone_duration_minutes, required_equipment, required_staff_count,
	buffer_minutes, lien_eligible, prepay, active`

type serviceOfferingRow struct {
	domain.ServiceOffering
	RequiredEquipment pq.StringArray `db:"required_equipment"`
}

func (r *ServiceOfferingRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.ServiceOffering, error) {
	var row serviceOfferingRow
	err := r.db.GetContext(ctx, &row, `SELECT `+serviceOfferingColumns+` FROM service_offerings
		WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, translateNotFound(err, "service offering")
	}
	row.ServiceOffering.RequiredEquipment = []string(row.RequiredEquipment)
	return &row.ServiceOffering, nil
}
