// Package scheduleaudit implements the atomic schedule wipe for a
// date: snapshot every appointment row into a versioned JSON blob,
// reset the affected jobs to approved, delete the appointments, and
// write one audit record holding everything needed to reconstruct the
// day. Newer code keeps decoding older snapshot versions.
package scheduleaudit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/gravelroot/dispatch-core/internal/domain"
	"github.com/gravelroot/dispatch-core/internal/repository"
	"github.com/gravelroot/dispatch-core/internal/services/jobflow"
	"github.com/gravelroot/dispatch-core/pkg/database"
)

// snapshotVersion is bumped whenever the envelope shape changes; the
// decoder keys off the stored value, never the current constant.
const snapshotVersion = 1

// SnapshotEnvelope is the stable on-disk shape of a clear snapshot.
type SnapshotEnvelope struct {
	Version      int                  `json:"version"`
	Date         string               `json:"date"`
	Appointments []domain.Appointment `json:"appointments"`
}

// Store performs clears and serves the audit trail.
type Store struct {
	db    *repository.Database
	repos *repository.Repositories
}

func NewStore(db *repository.Database, repos *repository.Repositories) *Store {
	return &Store{db: db, repos: repos}
}

// Clear wipes a date's schedule in one transaction under the date's
// advisory lock: snapshot, job resets, deletion, audit row. On any
// error the transaction rolls back and the schedule is untouched.
func (s *Store) Clear(ctx context.Context, tenantID uuid.UUID, date time.Time, clearedBy uuid.UUID, notes string) (*domain.ScheduleClearAudit, error) {
	appts, err := s.repos.Appointments.ListForDateIncludingCancelled(ctx, tenantID, date)
	if err != nil {
		return nil, err
	}

	envelope := SnapshotEnvelope{
		Version: snapshotVersion,
		Date:    date.Format("2006-01-02"),
	}
	jobSeen := make(map[uuid.UUID]bool)
	var jobIDs []uuid.UUID
	for _, appt := range appts {
		envelope.Appointments = append(envelope.Appointments, *appt)
		if appt.Status != domain.ApptCancelled && !jobSeen[appt.JobID] {
			jobSeen[appt.JobID] = true
			jobIDs = append(jobIDs, appt.JobID)
		}
	}
	blob, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode clear snapshot: %w", err)
	}

	actor := clearedBy
	audit := &domain.ScheduleClearAudit{
		ID:               uuid.New(),
		TenantID:         tenantID,
		Date:             date,
		Snapshot:         blob,
		JobIDs:           jobIDs,
		AppointmentCount: len(appts),
		ClearedBy:        &actor,
		Notes:            notes,
		CreatedAt:        time.Now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin clear tx: %w", err)
	}
	defer tx.Rollback()

	err = database.WithDateLock(ctx, tx.Tx, date, func() error {
		for _, jobID := range jobIDs {
			job, err := s.repos.Jobs.GetByID(ctx, tenantID, jobID)
			if err != nil {
				return err
			}
			if job.Status != domain.JobScheduled && job.Status != domain.JobInProgress {
				continue
			}
			if err := jobflow.TransitionTx(ctx, tx, s.repos, tenantID, job, domain.JobApproved, clearedBy, "schedule cleared"); err != nil {
				return err
			}
		}
		if _, err := s.repos.Appointments.DeleteForDateTx(ctx, tx, tenantID, date); err != nil {
			return err
		}
		return s.repos.ScheduleClearAudit.CreateTx(ctx, tx, audit)
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit clear: %w", err)
	}
	return audit, nil
}

// ListRecent returns the newest clear-audit records.
func (s *Store) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*domain.ScheduleClearAudit, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repos.ScheduleClearAudit.ListRecent(ctx, tenantID, limit)
}

// DecodeSnapshot restores the appointments stored in an audit blob,
// handling every snapshot version ever written. Blobs from before the
// envelope existed are a bare appointment array.
func DecodeSnapshot(blob []byte) (*SnapshotEnvelope, error) {
	var envelope SnapshotEnvelope
	if err := json.Unmarshal(blob, &envelope); err == nil && envelope.Version >= 1 {
		return &envelope, nil
	}
	var bare []domain.Appointment
	if err := json.Unmarshal(blob, &bare); err != nil {
		return nil, fmt.Errorf("decode clear snapshot: %w", err)
	}
	return &SnapshotEnvelope{Version: 0, Appointments: bare}, nil
}

// ReplayRoutes rebuilds the per-staff ordered routes a snapshot
// captured, the shape the optimizer consumes, so a cleared day can be
// fed straight back through scheduling.
func ReplayRoutes(envelope *SnapshotEnvelope) map[uuid.UUID][]uuid.UUID {
	byStaff := make(map[uuid.UUID][]domain.Appointment)
	for _, appt := range envelope.Appointments {
		if appt.Status == domain.ApptCancelled {
			continue
		}
		byStaff[appt.StaffID] = append(byStaff[appt.StaffID], appt)
	}
	routes := make(map[uuid.UUID][]uuid.UUID, len(byStaff))
	for staffID, appts := range byStaff {
		ordered := append([]domain.Appointment(nil), appts...)
		for i := 1; i < len(ordered); i++ {
			for j := i; j > 0 && ordered[j].RouteOrder < ordered[j-1].RouteOrder; j-- {
				ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
			}
		}
		for _, appt := range ordered {
			routes[staffID] = append(routes[staffID], appt.JobID)
		}
	}
	return routes
}

// ExportRecentXLSX renders the recent clear audits as a spreadsheet
// for dispatch supervisors who review wipes offline.
func (s *Store) ExportRecentXLSX(ctx context.Context, tenantID uuid.UUID, limit int) (*excelize.File, error) {
	audits, err := s.ListRecent(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	const sheet = "Schedule Clears"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Date", "Appointments", "Jobs Reset", "Cleared By", "Notes", "Cleared At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("write export header: %w", err)
		}
	}
	for row, audit := range audits {
		clearedBy := ""
		if audit.ClearedBy != nil {
			clearedBy = audit.ClearedBy.String()
		}
		values := []interface{}{
			audit.Date.Format("2006-01-02"),
			audit.AppointmentCount,
			strconv.Itoa(len(audit.JobIDs)),
			clearedBy,
			audit.Notes,
			audit.CreatedAt.Format(time.RFC3339),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("write export row: %w", err)
			}
		}
	}
	return f, nil
}
