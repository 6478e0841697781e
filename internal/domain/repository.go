// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. Implementations
// provide at-least read-your-writes consistency for the writing process.
type Repository interface {
	// Rule store. Mutations must be visible to subsequently started checks.
	CreateRule(ctx context.Context, rule *Rule) (int64, error)
	UpdateRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, id int64) error
	SetRuleActive(ctx context.Context, id int64, active bool) error
	GetRule(ctx context.Context, id int64) (*Rule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]*Rule, error)

	// Subject facts consumed during context assembly.
	IsBlacklisted(ctx context.Context, nationalID string) (bool, error)
	AddBlacklistEntry(ctx context.Context, nationalID, reason string) error
	HasActiveLoan(ctx context.Context, userID int64) (bool, error)
	SaveApplication(ctx context.Context, rec *ApplicationRecord) (int64, error)
	RecentApplications(ctx context.Context, userID int64, since time.Time) ([]ApplicationRecord, error)

	// SaveDecision persists the fraud log and, when alert is non-nil, the
	// alert it raises, atomically in one transaction. Returns the alert id
	// (0 when no alert was created).
	SaveDecision(ctx context.Context, log *FraudLog, alert *Alert) (int64, error)
	GetFraudLog(ctx context.Context, id string) (*FraudLog, error)

	// Alerts. UpdateAlert performs an optimistic version check and returns
	// ErrConcurrentModification on a lost race.
	GetAlert(ctx context.Context, id int64) (*Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)
	UpdateAlert(ctx context.Context, alert *Alert) error
	AlertStats(ctx context.Context) (map[AlertStatus]int, error)

	// Cases. UpdateCase follows the same optimistic-locking contract.
	CreateCase(ctx context.Context, c *Case) (int64, error)
	GetCase(ctx context.Context, id int64) (*Case, error)
	OpenCaseForAlert(ctx context.Context, alertID int64) (*Case, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]*Case, error)
	UpdateCase(ctx context.Context, c *Case) error
	CountCasesCreatedOn(ctx context.Context, day time.Time) (int, error)
	AddFollowUp(ctx context.Context, f *CaseFollowUp) (int64, error)
	ListFollowUps(ctx context.Context, caseID int64) ([]CaseFollowUp, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
