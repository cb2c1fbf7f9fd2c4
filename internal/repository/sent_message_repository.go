package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gravelroot/dispatch-core/internal/domain"
)

// SentMessageRepository persists the audit trail for anything routed
// through the narrow CommunicationService collaborator.
type SentMessageRepository struct {
	db *Database
}

func NewSentMessageRepository(db *Database) *SentMessageRepository {
	return &SentMessageRepository{db: db}
}

func (r *SentMessageRepository) Create(ctx context.Context, m *domain.SentMessage) error {
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO sent_messages
		(id, tenant_id, channel, recipient, template, entity_type, entity_id, status, sent_at)
		VALUES (:id, :tenant_id, :channel, :recipient, :template, :entity_type, :entity_id, :status, :sent_at)`, m)
	if err != nil {
		return fmt.Errorf("create sent message: %w", err)
	}
	return nil
}

func (r *SentMessageRepository) ListForEntity(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]*domain.SentMessage, error) {
	var out []*domain.SentMessage
	err := r.db.SelectContext(ctx, &out, `SELECT id, tenant_id, channel, recipient, template, entity_type,
		entity_id, status, sent_at FROM sent_messages
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 ORDER BY sent_at DESC`,
		tenantID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list sent messages for entity: %w", err)
	}
	return out, nil
}
