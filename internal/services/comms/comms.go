// Package comms is the narrow collaborator boundary for outbound
// customer messaging. The real SMS/email provider lives outside this
// module; everything here goes through the Sender capability, and
// every dispatch is recorded as a SentMessage row regardless of the
// provider behind it.
package comms

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
)

// Message template identifiers, stable so the audit trail stays
// queryable across provider changes.
const (
	TemplateWaitlistOpening     = "waitlist_opening"
	TemplateLienWarning         = "lien_warning"
	TemplateAppointmentReminder = "appointment_reminder"
)

// Sender delivers one message through the external provider.
type Sender interface {
	Send(ctx context.Context, channel, recipient, template, body string) error
}

// LogSender is the in-module Sender used in development and tests: it
// logs instead of delivering.
type LogSender struct {
	Logger *zap.SugaredLogger
}

func (s *LogSender) Send(ctx context.Context, channel, recipient, template, body string) error {
	s.Logger.Infow("outbound message (log sender)",
		"channel", channel,
		"recipient", recipient,
		"template", template,
	)
	return nil
}

// Service sends domain notifications and records the audit trail.
type Service struct {
	sender Sender
	repos  *repository.Repositories
}

func NewService(sender Sender, repos *repository.Repositories) *Service {
	return &Service{sender: sender, repos: repos}
}

// NotifyWaitlistOpening tells the customer behind a waitlist entry that
// a slot opened up, records the message, and stamps the entry.
func (s *Service) NotifyWaitlistOpening(ctx context.Context, tenantID uuid.UUID, entry *domain.WaitlistEntry) error {
	job, err := s.repos.Jobs.GetByID(ctx, tenantID, entry.JobID)
	if err != nil {
		return err
	}
	customer, err := s.repos.Customers.GetByID(ctx, tenantID, job.CustomerID)
	if err != nil {
		return err
	}
	if customer.Phone == "" {
		return fmt.Errorf("customer %s has no phone on file", customer.ID)
	}

	body := fmt.Sprintf("A slot opened up on %s for your %s service. Reply YES to book it.",
		entry.PreferredDate.Format("Jan 2"), job.Category)
	if err := s.send(ctx, tenantID, "sms", customer.Phone, TemplateWaitlistOpening, body, "waitlist_entry", entry.ID); err != nil {
		return err
	}
	return s.repos.Waitlist.MarkNotified(ctx, tenantID, entry.ID, time.Now().UTC())
}

// SendLienWarning notifies the customer on a lien-eligible overdue
// invoice that a lien filing is coming, and records the message.
func (s *Service) SendLienWarning(ctx context.Context, invoice *domain.Invoice) error {
	customer, err := s.repos.Customers.GetByID(ctx, invoice.TenantID, invoice.CustomerID)
	if err != nil {
		return err
	}
	if customer.Phone == "" {
		return fmt.Errorf("customer %s has no phone on file", customer.ID)
	}
	body := fmt.Sprintf("Your invoice for $%s is past due. A mechanic's lien may be filed if payment is not received.",
		invoice.Total().StringFixed(2))
	return s.send(ctx, invoice.TenantID, "sms", customer.Phone, TemplateLienWarning, body, "invoice", invoice.ID)
}

func (s *Service) send(ctx context.Context, tenantID uuid.UUID, channel, recipient, template, body, entityType string, entityID uuid.UUID) error {
	status := "sent"
	sendErr := s.sender.Send(ctx, channel, recipient, template, body)
	if sendErr != nil {
		status = "failed"
	}
	record := &domain.SentMessage{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Channel:    channel,
		Recipient:  recipient,
		Template:   template,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     status,
		SentAt:     time.Now().UTC(),
	}
	if err := s.repos.SentMessages.Create(ctx, record); err != nil {
		return err
	}
	return sendErr
}
