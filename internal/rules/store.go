package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store owns the rule records and publishes an immutable snapshot of the
// active set after every committed mutation. Checks started after a mutation
// see the new snapshot; in-flight evaluations keep the one they captured.
type Store struct {
	repo domain.Repository

	mu      sync.RWMutex
	snap    *Snapshot
	version int64
}

// NewStore creates a rule store over the repository.
func NewStore(repo domain.Repository) *Store {
	return &Store{repo: repo}
}

// Load publishes the initial snapshot from persisted rules.
func (s *Store) Load(ctx context.Context) error {
	return s.republish(ctx)
}

// Snapshot returns the current active-rule snapshot, loading it on first use.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}
	if err := s.republish(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, nil
}

// Create validates and persists a new rule. Unknown condition types are
// rejected here, never at evaluation time; custom expressions must compile.
func (s *Store) Create(ctx context.Context, rule *domain.Rule) (*domain.Rule, error) {
	if err := s.validate(rule); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	id, err := s.repo.CreateRule(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	rule.ID = id
	if err := s.republish(ctx); err != nil {
		return nil, err
	}
	slog.Info("rule created", "rule_id", id, "condition_type", rule.ConditionType, "active", rule.IsActive)
	return rule, nil
}

// Update replaces a rule's definition and republishes the snapshot.
func (s *Store) Update(ctx context.Context, rule *domain.Rule) error {
	if err := s.validate(rule); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return fmt.Errorf("update rule %d: %w", rule.ID, err)
	}
	return s.republish(ctx)
}

// Delete removes a rule and republishes the snapshot.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	return s.republish(ctx)
}

// Toggle flips a rule's active flag independently of a full update.
// Deactivation excludes the rule from the very next check.
func (s *Store) Toggle(ctx context.Context, id int64, active bool) error {
	if err := s.repo.SetRuleActive(ctx, id, active); err != nil {
		return fmt.Errorf("toggle rule %d: %w", id, err)
	}
	slog.Info("rule toggled", "rule_id", id, "active", active)
	return s.republish(ctx)
}

// Get returns one rule by id.
func (s *Store) Get(ctx context.Context, id int64) (*domain.Rule, error) {
	return s.repo.GetRule(ctx, id)
}

// List returns all rules, active and inactive.
func (s *Store) List(ctx context.Context) ([]*domain.Rule, error) {
	return s.repo.ListRules(ctx, false)
}

func (s *Store) validate(rule *domain.Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: rule name is required", domain.ErrValidation)
	}
	if !Registered(rule.ConditionType) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownRuleType, rule.ConditionType)
	}
	if rule.ConditionType == domain.CondCustomExpression {
		if _, err := compileExpression(rule.Params.String(domain.ParamExpression, "")); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) republish(ctx context.Context) error {
	active, err := s.repo.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("%w: list active rules: %v", domain.ErrPersistenceFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.snap = Compile(s.version, active)
	return nil
}
