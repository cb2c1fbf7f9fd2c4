// Package worker holds the asynq task handlers behind cmd/worker: the
// nightly lien-warning and overdue-invoice sweeps, and one-off waitlist
// opening notifications enqueued by the conflict resolver's callers.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/metrics"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/billing"
	"github.com/gravelroot/dispatch-core/internal/services/comms"
)

// Task type names, namespaced by the service that owns the work.
const (
	TaskLienWarningScan = "billing:lien_warning_scan"
	TaskOverdueScan     = "billing:overdue_scan"
	TaskWaitlistNotify  = "schedule:waitlist_notify"
)

// WaitlistNotifyPayload identifies the entry to notify.
type WaitlistNotifyPayload struct {
	TenantID uuid.UUID `json:"tenant_id"`
	EntryID  uuid.UUID `json:"entry_id"`
}

// NewWaitlistNotifyTask builds the task an API-side caller enqueues
// after a cancellation opens a slot.
func NewWaitlistNotifyTask(tenantID, entryID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(WaitlistNotifyPayload{TenantID: tenantID, EntryID: entryID})
	if err != nil {
		return nil, fmt.Errorf("encode waitlist notify payload: %w", err)
	}
	return asynq.NewTask(TaskWaitlistNotify, payload), nil
}

// Processor wires task handlers to the services that do the work.
type Processor struct {
	repos   *repository.Repositories
	billing *billing.Service
	comms   *comms.Service
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

func NewProcessor(repos *repository.Repositories, billingService *billing.Service, commsService *comms.Service, m *metrics.Metrics, logger *zap.SugaredLogger) *Processor {
	return &Processor{repos: repos, billing: billingService, comms: commsService, metrics: m, logger: logger}
}

// Register attaches every handler to the asynq mux.
func (p *Processor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskLienWarningScan, p.handleLienWarningScan)
	mux.HandleFunc(TaskOverdueScan, p.handleOverdueScan)
	mux.HandleFunc(TaskWaitlistNotify, p.handleWaitlistNotify)
}

func (p *Processor) handleLienWarningScan(ctx context.Context, t *asynq.Task) error {
	sent, err := p.billing.LienWarningSweep(ctx, time.Now().UTC())
	p.observe(TaskLienWarningScan, err)
	if err != nil {
		return fmt.Errorf("lien warning sweep: %w", err)
	}
	p.logger.Infow("lien warning sweep finished", "warnings_sent", sent)
	return nil
}

func (p *Processor) handleOverdueScan(ctx context.Context, t *asynq.Task) error {
	flipped, err := p.billing.MarkOverdueSweep(ctx, time.Now().UTC())
	p.observe(TaskOverdueScan, err)
	if err != nil {
		return fmt.Errorf("overdue sweep: %w", err)
	}
	p.logger.Infow("overdue sweep finished", "invoices_marked", flipped)
	return nil
}

func (p *Processor) handleWaitlistNotify(ctx context.Context, t *asynq.Task) error {
	var payload WaitlistNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode waitlist notify payload: %v: %w", err, asynq.SkipRetry)
	}
	entry, err := p.repos.Waitlist.GetByID(ctx, payload.TenantID, payload.EntryID)
	if err != nil {
		p.observe(TaskWaitlistNotify, err)
		return fmt.Errorf("load waitlist entry: %w", err)
	}
	if entry.NotifiedAt != nil {
		return nil
	}
	err = p.comms.NotifyWaitlistOpening(ctx, payload.TenantID, entry)
	p.observe(TaskWaitlistNotify, err)
	return err
}

func (p *Processor) observe(task string, err error) {
	if p.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.metrics.WorkerTasks.WithLabelValues(task, outcome).Inc()
}
