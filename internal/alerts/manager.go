// Package alerts implements the alert lifecycle: a small monotonic state
// machine over persisted alerts with optimistic concurrency on every
// transition.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Manager drives alert transitions. All mutations go through the repository's
// version-checked update; a lost race surfaces as ErrConcurrentModification
// and the caller re-reads and retries.
type Manager struct {
	repo domain.Repository
	bus  domain.EventBus
}

func NewManager(repo domain.Repository, bus domain.EventBus) *Manager {
	return &Manager{repo: repo, bus: bus}
}

// Get returns one alert by id.
func (m *Manager) Get(ctx context.Context, id int64) (*domain.Alert, error) {
	return m.repo.GetAlert(ctx, id)
}

// List returns alerts matching the filter.
func (m *Manager) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	return m.repo.ListAlerts(ctx, filter)
}

// Stats returns the count of alerts per status.
func (m *Manager) Stats(ctx context.Context) (map[domain.AlertStatus]int, error) {
	return m.repo.AlertStats(ctx)
}

// Assign moves an open alert to assigned, or reassigns an already-assigned
// one. Closed alerts reject assignment with ErrInvalidAssignment.
func (m *Manager) Assign(ctx context.Context, id, analystID int64) (*domain.Alert, error) {
	if analystID == 0 {
		return nil, fmt.Errorf("%w: analyst id is required", domain.ErrInvalidAssignment)
	}
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Terminal() {
		return nil, fmt.Errorf("%w: alert %d is closed", domain.ErrInvalidAssignment, id)
	}
	if alert.Status != domain.AlertOpen && alert.Status != domain.AlertAssigned {
		return nil, transitionErr(alert.Status, domain.AlertAssigned)
	}

	alert.Status = domain.AlertAssigned
	alert.AssignedTo = &analystID
	return m.save(ctx, alert, "assign")
}

// StartInvestigation moves an assigned alert to investigating.
func (m *Manager) StartInvestigation(ctx context.Context, id int64) (*domain.Alert, error) {
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status != domain.AlertAssigned {
		return nil, transitionErr(alert.Status, domain.AlertInvestigating)
	}

	alert.Status = domain.AlertInvestigating
	return m.save(ctx, alert, "investigate")
}

// Resolve moves an investigating alert to resolved. A non-empty resolution
// summary is required.
func (m *Manager) Resolve(ctx context.Context, id int64, summary string) (*domain.Alert, error) {
	if strings.TrimSpace(summary) == "" {
		return nil, fmt.Errorf("%w: resolution summary is required", domain.ErrValidation)
	}
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status != domain.AlertInvestigating {
		return nil, transitionErr(alert.Status, domain.AlertResolved)
	}

	alert.Status = domain.AlertResolved
	alert.ResolutionNotes = &summary
	return m.save(ctx, alert, "resolve")
}

// Close moves an alert to its terminal state. Any non-closed status may close
// directly; closing notes are required. Closed is absorbing.
func (m *Manager) Close(ctx context.Context, id int64, notes string) (*domain.Alert, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, fmt.Errorf("%w: closing notes are required", domain.ErrValidation)
	}
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Terminal() {
		return nil, transitionErr(alert.Status, domain.AlertClosed)
	}

	alert.Status = domain.AlertClosed
	alert.ClosingNotes = &notes
	return m.save(ctx, alert, "close")
}

func (m *Manager) save(ctx context.Context, alert *domain.Alert, action string) (*domain.Alert, error) {
	alert.UpdatedAt = time.Now().UTC()
	if err := m.repo.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}

	slog.Info("alert transitioned", "alert_id", alert.ID, "action", action, "status", alert.Status)

	if m.bus != nil {
		if payload, err := json.Marshal(alert); err == nil {
			if err := m.bus.Publish(ctx, domain.TopicAlertUpdated, payload); err != nil {
				slog.Warn("failed to publish alert update", "alert_id", alert.ID, "error", err)
			}
		}
	}
	return alert, nil
}

func transitionErr(from, to domain.AlertStatus) error {
	return fmt.Errorf("%w: alert cannot move from %s to %s", domain.ErrInvalidStateTransition, from, to)
}
