// Package cases implements formal investigations opened from alerts: case
// creation with date-scoped sequential numbering, append-only follow-up
// notes, and closure with a fixed resolution enumeration.
package cases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Manager owns the case lifecycle. It holds a non-owning back-reference to
// each case's alert: closing a case never touches the alert, and closing the
// alert leaves any case behind as history.
type Manager struct {
	repo domain.Repository
	bus  domain.EventBus
}

func NewManager(repo domain.Repository, bus domain.EventBus) *Manager {
	return &Manager{repo: repo, bus: bus}
}

// Open creates a case from a non-closed alert. An alert carries at most one
// open case at a time; a second open attempt fails until the first closes,
// after which a fresh case may be opened and the prior one stays as history.
func (m *Manager) Open(ctx context.Context, alertID int64, title, description, priority string) (*domain.Case, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: case title is required", domain.ErrValidation)
	}

	alert, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Terminal() {
		return nil, fmt.Errorf("%w: cannot open a case for closed alert %d", domain.ErrInvalidStateTransition, alertID)
	}
	if existing, err := m.repo.OpenCaseForAlert(ctx, alertID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: alert %d already has open case %s",
			domain.ErrInvalidStateTransition, alertID, existing.CaseNumber)
	}

	now := time.Now().UTC()
	number, err := m.nextCaseNumber(ctx, now)
	if err != nil {
		return nil, err
	}

	c := &domain.Case{
		AlertID:     alertID,
		CaseNumber:  number,
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      domain.CaseOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := m.repo.CreateCase(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: create case: %v", domain.ErrPersistenceFailure, err)
	}
	c.ID = id

	slog.Info("case opened", "case_id", id, "case_number", number, "alert_id", alertID)
	m.publish(ctx, c)
	return c, nil
}

// Get returns one case by id.
func (m *Manager) Get(ctx context.Context, id int64) (*domain.Case, error) {
	return m.repo.GetCase(ctx, id)
}

// List returns cases matching the filter.
func (m *Manager) List(ctx context.Context, filter domain.CaseFilter) ([]*domain.Case, error) {
	return m.repo.ListCases(ctx, filter)
}

// Assign moves an open case to assigned, or reassigns an assigned one.
func (m *Manager) Assign(ctx context.Context, id, analystID int64) (*domain.Case, error) {
	if analystID == 0 {
		return nil, fmt.Errorf("%w: analyst id is required", domain.ErrInvalidAssignment)
	}
	c, err := m.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Terminal() {
		return nil, fmt.Errorf("%w: case %d is closed", domain.ErrInvalidAssignment, id)
	}
	if c.Status != domain.CaseOpen && c.Status != domain.CaseAssigned {
		return nil, transitionErr(c.Status, domain.CaseAssigned)
	}

	c.Status = domain.CaseAssigned
	c.AssignedTo = &analystID
	return m.save(ctx, c, "assign")
}

// StartInvestigation moves an assigned case to investigating.
func (m *Manager) StartInvestigation(ctx context.Context, id int64) (*domain.Case, error) {
	c, err := m.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CaseAssigned {
		return nil, transitionErr(c.Status, domain.CaseInvestigating)
	}

	c.Status = domain.CaseInvestigating
	return m.save(ctx, c, "investigate")
}

// AppendFollowUp adds one note to a non-closed case. Follow-ups are
// append-only; a closed case rejects the note and its sequence is unchanged.
func (m *Manager) AppendFollowUp(ctx context.Context, caseID, author int64, noteType, note string) (*domain.CaseFollowUp, error) {
	if strings.TrimSpace(note) == "" {
		return nil, fmt.Errorf("%w: follow-up note is required", domain.ErrValidation)
	}
	c, err := m.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Terminal() {
		return nil, fmt.Errorf("%w: case %s is closed", domain.ErrInvalidStateTransition, c.CaseNumber)
	}

	f := &domain.CaseFollowUp{
		CaseID:    caseID,
		Author:    author,
		Type:      noteType,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	id, err := m.repo.AddFollowUp(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: add follow-up: %v", domain.ErrPersistenceFailure, err)
	}
	f.ID = id
	return f, nil
}

// FollowUps returns a case's notes in insertion order.
func (m *Manager) FollowUps(ctx context.Context, caseID int64) ([]domain.CaseFollowUp, error) {
	if _, err := m.repo.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return m.repo.ListFollowUps(ctx, caseID)
}

// Close ends a case with one of the fixed resolution outcomes. Closing the
// case does not transition its alert.
func (m *Manager) Close(ctx context.Context, id int64, resolution domain.CaseResolution) (*domain.Case, error) {
	if !domain.ValidResolution(resolution) {
		return nil, fmt.Errorf("%w: unknown resolution %q", domain.ErrValidation, resolution)
	}
	c, err := m.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Terminal() {
		return nil, transitionErr(c.Status, domain.CaseClosed)
	}

	now := time.Now().UTC()
	c.Status = domain.CaseClosed
	c.Resolution = &resolution
	c.ClosedAt = &now
	return m.save(ctx, c, "close")
}

// nextCaseNumber builds CASE-YYYYMMDD-NNN from the count of cases already
// created today. Uniqueness is enforced by the case_number unique index; a
// racing creation surfaces as a persistence error and the caller retries.
func (m *Manager) nextCaseNumber(ctx context.Context, now time.Time) (string, error) {
	n, err := m.repo.CountCasesCreatedOn(ctx, now)
	if err != nil {
		return "", fmt.Errorf("%w: count cases: %v", domain.ErrPersistenceFailure, err)
	}
	return fmt.Sprintf("CASE-%s-%03d", now.Format("20060102"), n+1), nil
}

func (m *Manager) save(ctx context.Context, c *domain.Case, action string) (*domain.Case, error) {
	c.UpdatedAt = time.Now().UTC()
	if err := m.repo.UpdateCase(ctx, c); err != nil {
		return nil, err
	}

	slog.Info("case transitioned", "case_id", c.ID, "case_number", c.CaseNumber, "action", action, "status", c.Status)
	m.publish(ctx, c)
	return c, nil
}

func (m *Manager) publish(ctx context.Context, c *domain.Case) {
	if m.bus == nil {
		return
	}
	if payload, err := json.Marshal(c); err == nil {
		if err := m.bus.Publish(ctx, domain.TopicCaseUpdated, payload); err != nil {
			slog.Warn("failed to publish case update", "case_id", c.ID, "error", err)
		}
	}
}

func transitionErr(from, to domain.CaseStatus) error {
	return fmt.Errorf("%w: case cannot move from %s to %s", domain.ErrInvalidStateTransition, from, to)
}
