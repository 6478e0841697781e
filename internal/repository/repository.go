// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// --- Rules ---

// CreateRule stores a rule and returns its assigned id.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.Rule) (int64, error) {
	params, _ := json.Marshal(rule.Params)

	query := `
		INSERT INTO rules (name, description, condition_type, params, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	return r.insertReturningID(ctx, query,
		rule.Name, rule.Description, rule.ConditionType,
		string(params), boolToInt(rule.IsActive),
		rule.CreatedAt, rule.UpdatedAt,
	)
}

// UpdateRule replaces a rule's mutable fields.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	params, _ := json.Marshal(rule.Params)

	query := `
		UPDATE rules
		SET name = ?, description = ?, condition_type = ?, params = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, rule.ConditionType,
		string(params), boolToInt(rule.IsActive), rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// DeleteRule removes a rule permanently.
func (r *SQLRepository) DeleteRule(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rules WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// SetRuleActive toggles a rule without touching its definition.
func (r *SQLRepository) SetRuleActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE rules SET is_active = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), boolToInt(active), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// GetRule retrieves one rule by id.
func (r *SQLRepository) GetRule(ctx context.Context, id int64) (*domain.Rule, error) {
	query := `
		SELECT id, name, description, condition_type, params, is_active, created_at, updated_at
		FROM rules
		WHERE id = ?
	`
	return scanRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// ListRules retrieves rules ordered by ascending id.
func (r *SQLRepository) ListRules(ctx context.Context, activeOnly bool) ([]*domain.Rule, error) {
	query := `
		SELECT id, name, description, condition_type, params, is_active, created_at, updated_at
		FROM rules
	`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var params string
	var active int

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.ConditionType,
		&params, &active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.IsActive = active == 1
	if params != "" {
		json.Unmarshal([]byte(params), &rule.Params)
	}
	return &rule, nil
}

// --- Subject facts ---

// IsBlacklisted reports whether a national id has a blacklist entry.
func (r *SQLRepository) IsBlacklisted(ctx context.Context, nationalID string) (bool, error) {
	var n int
	query := `SELECT COUNT(1) FROM blacklist WHERE national_id = ?`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), nationalID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddBlacklistEntry records a national id as known-fraudulent. Re-adding an
// existing entry is a no-op.
func (r *SQLRepository) AddBlacklistEntry(ctx context.Context, nationalID, reason string) error {
	query := `
		INSERT INTO blacklist (national_id, reason, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(national_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), nationalID, reason, time.Now().UTC())
	return err
}

// HasActiveLoan reports whether the user carries a loan in active status.
func (r *SQLRepository) HasActiveLoan(ctx context.Context, userID int64) (bool, error) {
	var n int
	query := `SELECT COUNT(1) FROM loans WHERE user_id = ? AND status = 'active'`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddLoan records a loan row. Not part of domain.Repository; used for seeding
// and tests against the concrete type.
func (r *SQLRepository) AddLoan(ctx context.Context, userID int64, amount float64, status string) error {
	query := `INSERT INTO loans (user_id, amount, status, created_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), userID, amount, status, time.Now().UTC())
	return err
}

// SaveApplication records one application row and returns its id.
func (r *SQLRepository) SaveApplication(ctx context.Context, rec *domain.ApplicationRecord) (int64, error) {
	query := `
		INSERT INTO applications (user_id, amount, phone, name, gender, ip_address, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	return r.insertReturningID(ctx, query,
		rec.UserID, rec.Amount, rec.Phone, rec.Name, rec.Gender, rec.IPAddress, rec.Timestamp,
	)
}

// RecentApplications returns a user's applications since the cutoff, most
// recent first.
func (r *SQLRepository) RecentApplications(ctx context.Context, userID int64, since time.Time) ([]domain.ApplicationRecord, error) {
	query := `
		SELECT id, user_id, amount, phone, name, gender, ip_address, timestamp
		FROM applications
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.ApplicationRecord
	for rows.Next() {
		var rec domain.ApplicationRecord
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Amount, &rec.Phone,
			&rec.Name, &rec.Gender, &rec.IPAddress, &rec.Timestamp,
		); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Decisions ---

// SaveDecision persists the fraud log and its alert, when present, in one
// transaction. Returns the alert id (0 when no alert was raised).
func (r *SQLRepository) SaveDecision(ctx context.Context, log *domain.FraudLog, alert *domain.Alert) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	reasons, _ := json.Marshal(log.Reasons)
	ml, _ := json.Marshal(log.ML)

	logQuery := `
		INSERT INTO fraud_logs (
			id, user_id, national_id, event_type, amount, ip_address,
			outcome, risk_score, reasons, ml, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(logQuery),
		log.ID, log.UserID, log.NationalID, log.EventType, log.Amount, log.IPAddress,
		string(log.Outcome), log.RiskScore, string(reasons), string(ml), log.CreatedAt,
	); err != nil {
		return 0, err
	}

	var alertID int64
	if alert != nil {
		alertQuery := `
			INSERT INTO alerts (
				fraud_log_id, user_id, severity, status, description,
				assigned_to, resolution_notes, closing_notes, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`
		alertID, err = insertReturningIDTx(ctx, tx, r.driver, alertQuery,
			alert.FraudLogID, alert.UserID, string(alert.Severity), string(alert.Status),
			alert.Description, alert.AssignedTo, alert.ResolutionNotes, alert.ClosingNotes,
			alert.CreatedAt, alert.UpdatedAt,
		)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return alertID, nil
}

// GetFraudLog retrieves one audit record by id.
func (r *SQLRepository) GetFraudLog(ctx context.Context, id string) (*domain.FraudLog, error) {
	query := `
		SELECT id, user_id, national_id, event_type, amount, ip_address,
			   outcome, risk_score, reasons, ml, created_at
		FROM fraud_logs
		WHERE id = ?
	`
	var log domain.FraudLog
	var outcome, reasons, ml string

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&log.ID, &log.UserID, &log.NationalID, &log.EventType, &log.Amount, &log.IPAddress,
		&outcome, &log.RiskScore, &reasons, &ml, &log.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	log.Outcome = domain.Outcome(outcome)
	json.Unmarshal([]byte(reasons), &log.Reasons)
	json.Unmarshal([]byte(ml), &log.ML)
	return &log, nil
}

// --- Alerts ---

// GetAlert retrieves one alert by id.
func (r *SQLRepository) GetAlert(ctx context.Context, id int64) (*domain.Alert, error) {
	query := `
		SELECT id, fraud_log_id, user_id, severity, status, description,
			   assigned_to, resolution_notes, closing_notes, version, created_at, updated_at
		FROM alerts
		WHERE id = ?
	`
	return scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	query := `
		SELECT id, fraud_log_id, user_id, severity, status, description,
			   assigned_to, resolution_notes, closing_notes, version, created_at, updated_at
		FROM alerts
	`
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.AssignedTo != 0 {
		conds = append(conds, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// UpdateAlert writes an alert's mutable fields guarded by its version. The
// version the caller read must still be current; a lost race returns
// ErrConcurrentModification and the stored row is untouched.
func (r *SQLRepository) UpdateAlert(ctx context.Context, alert *domain.Alert) error {
	query := `
		UPDATE alerts
		SET status = ?, assigned_to = ?, resolution_notes = ?, closing_notes = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(alert.Status), alert.AssignedTo, alert.ResolutionNotes, alert.ClosingNotes,
		alert.UpdatedAt, alert.ID, alert.Version,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetAlert(ctx, alert.ID); err != nil {
			return err
		}
		return domain.ErrConcurrentModification
	}
	alert.Version++
	return nil
}

// AlertStats returns the count of alerts per status.
func (r *SQLRepository) AlertStats(ctx context.Context) (map[domain.AlertStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM alerts GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[domain.AlertStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[domain.AlertStatus(status)] = n
	}
	return stats, rows.Err()
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var alert domain.Alert
	var severity, status string

	err := row.Scan(
		&alert.ID, &alert.FraudLogID, &alert.UserID, &severity, &status, &alert.Description,
		&alert.AssignedTo, &alert.ResolutionNotes, &alert.ClosingNotes,
		&alert.Version, &alert.CreatedAt, &alert.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	alert.Severity = domain.AlertSeverity(severity)
	alert.Status = domain.AlertStatus(status)
	return &alert, nil
}

// --- Cases ---

// CreateCase stores a case and returns its assigned id.
func (r *SQLRepository) CreateCase(ctx context.Context, c *domain.Case) (int64, error) {
	query := `
		INSERT INTO cases (
			alert_id, case_number, title, description, priority,
			status, assigned_to, resolution, version, created_at, updated_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
	`
	id, err := r.insertReturningID(ctx, query,
		c.AlertID, c.CaseNumber, c.Title, c.Description, c.Priority,
		string(c.Status), c.AssignedTo, resolutionString(c.Resolution),
		c.CreatedAt, c.UpdatedAt, c.ClosedAt,
	)
	if err != nil && isUniqueViolation(err) {
		// Case-number race with a concurrent creation on the same day.
		return 0, domain.ErrConcurrentModification
	}
	return id, err
}

// GetCase retrieves one case by id.
func (r *SQLRepository) GetCase(ctx context.Context, id int64) (*domain.Case, error) {
	query := caseSelect + ` WHERE id = ?`
	return scanCase(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// OpenCaseForAlert returns the alert's non-closed case, or nil when every
// case for the alert has closed.
func (r *SQLRepository) OpenCaseForAlert(ctx context.Context, alertID int64) (*domain.Case, error) {
	query := caseSelect + ` WHERE alert_id = ? AND status != 'closed' ORDER BY created_at DESC LIMIT 1`
	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// ListCases retrieves cases matching the filter, newest first.
func (r *SQLRepository) ListCases(ctx context.Context, filter domain.CaseFilter) ([]*domain.Case, error) {
	query := caseSelect
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.AssignedTo != 0 {
		conds = append(conds, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}
	if filter.AlertID != 0 {
		conds = append(conds, "alert_id = ?")
		args = append(args, filter.AlertID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// UpdateCase writes a case's mutable fields under the same optimistic
// version check as UpdateAlert.
func (r *SQLRepository) UpdateCase(ctx context.Context, c *domain.Case) error {
	query := `
		UPDATE cases
		SET title = ?, description = ?, priority = ?, status = ?, assigned_to = ?,
			resolution = ?, version = version + 1, updated_at = ?, closed_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		c.Title, c.Description, c.Priority, string(c.Status), c.AssignedTo,
		resolutionString(c.Resolution), c.UpdatedAt, c.ClosedAt,
		c.ID, c.Version,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetCase(ctx, c.ID); err != nil {
			return err
		}
		return domain.ErrConcurrentModification
	}
	c.Version++
	return nil
}

// CountCasesCreatedOn counts cases created on the given calendar day (UTC),
// backing the daily case-number sequence.
func (r *SQLRepository) CountCasesCreatedOn(ctx context.Context, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var n int
	query := `SELECT COUNT(1) FROM cases WHERE created_at >= ? AND created_at < ?`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), start, end).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// AddFollowUp appends one note row and returns its id.
func (r *SQLRepository) AddFollowUp(ctx context.Context, f *domain.CaseFollowUp) (int64, error) {
	query := `
		INSERT INTO case_followups (case_id, author, type, note, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	return r.insertReturningID(ctx, query, f.CaseID, f.Author, f.Type, f.Note, f.CreatedAt)
}

// ListFollowUps returns a case's notes in insertion order.
func (r *SQLRepository) ListFollowUps(ctx context.Context, caseID int64) ([]domain.CaseFollowUp, error) {
	query := `
		SELECT id, case_id, author, type, note, created_at
		FROM case_followups
		WHERE case_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followUps []domain.CaseFollowUp
	for rows.Next() {
		var f domain.CaseFollowUp
		if err := rows.Scan(&f.ID, &f.CaseID, &f.Author, &f.Type, &f.Note, &f.CreatedAt); err != nil {
			return nil, err
		}
		followUps = append(followUps, f)
	}
	return followUps, rows.Err()
}

const caseSelect = `
	SELECT id, alert_id, case_number, title, description, priority,
		   status, assigned_to, resolution, version, created_at, updated_at, closed_at
	FROM cases
`

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var status string
	var resolution sql.NullString

	err := row.Scan(
		&c.ID, &c.AlertID, &c.CaseNumber, &c.Title, &c.Description, &c.Priority,
		&status, &c.AssignedTo, &resolution,
		&c.Version, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Status = domain.CaseStatus(status)
	if resolution.Valid && resolution.String != "" {
		res := domain.CaseResolution(resolution.String)
		c.Resolution = &res
	}
	return &c, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// --- helpers ---

// insertReturningID runs an INSERT and returns the generated key, branching
// on driver since PostgreSQL has no LastInsertId.
func (r *SQLRepository) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	return insertReturningIDTx(ctx, r.db, r.driver, query, args...)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertReturningIDTx(ctx context.Context, q execQuerier, driver, query string, args ...any) (int64, error) {
	if driver == "postgres" {
		var id int64
		err := q.QueryRowContext(ctx, rebindFor(driver, query)+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	return rebindFor(r.driver, query)
}

func rebindFor(driver, query string) string {
	if driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}

func resolutionString(r *domain.CaseResolution) any {
	if r == nil {
		return nil
	}
	return string(*r)
}
