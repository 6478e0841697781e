package repository

import "strings"

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL; the BIGSERIAL placeholder is
// substituted per driver since the two disagree on auto-increment keys.

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id {{SERIAL}} PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    condition_type TEXT NOT NULL,
    params TEXT NOT NULL DEFAULT '{}',
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(is_active);
`

const schemaBlacklist = `
CREATE TABLE IF NOT EXISTS blacklist (
    national_id TEXT PRIMARY KEY,
    reason TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaLoans = `
CREATE TABLE IF NOT EXISTS loans (
    id {{SERIAL}} PRIMARY KEY,
    user_id BIGINT NOT NULL,
    amount REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_loans_user_status ON loans(user_id, status);
`

const schemaApplications = `
CREATE TABLE IF NOT EXISTS applications (
    id {{SERIAL}} PRIMARY KEY,
    user_id BIGINT NOT NULL,
    amount REAL NOT NULL DEFAULT 0,
    phone TEXT,
    name TEXT,
    gender TEXT,
    ip_address TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_user_ts ON applications(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_applications_phone ON applications(phone);
`

const schemaFraudLogs = `
CREATE TABLE IF NOT EXISTS fraud_logs (
    id TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    national_id TEXT,
    event_type TEXT NOT NULL,
    amount REAL,
    ip_address TEXT,
    outcome TEXT NOT NULL,
    risk_score REAL NOT NULL,
    reasons TEXT NOT NULL DEFAULT '[]',
    ml TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_logs_user ON fraud_logs(user_id);
CREATE INDEX IF NOT EXISTS idx_fraud_logs_outcome ON fraud_logs(outcome);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id {{SERIAL}} PRIMARY KEY,
    fraud_log_id TEXT NOT NULL,
    user_id BIGINT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    description TEXT,
    assigned_to BIGINT,
    resolution_notes TEXT,
    closing_notes TEXT,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_assigned ON alerts(assigned_to);
CREATE INDEX IF NOT EXISTS idx_alerts_fraud_log ON alerts(fraud_log_id);
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id {{SERIAL}} PRIMARY KEY,
    alert_id BIGINT NOT NULL,
    case_number TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    description TEXT,
    priority TEXT,
    status TEXT NOT NULL,
    assigned_to BIGINT,
    resolution TEXT,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    closed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cases_alert ON cases(alert_id);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_cases_created ON cases(created_at);
`

const schemaFollowUps = `
CREATE TABLE IF NOT EXISTS case_followups (
    id {{SERIAL}} PRIMARY KEY,
    case_id BIGINT NOT NULL,
    author BIGINT NOT NULL,
    type TEXT,
    note TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_followups_case ON case_followups(case_id);
`

// AllSchemas returns all schema statements in dependency order with the
// serial key type resolved for the given driver.
func AllSchemas(driver string) []string {
	serial := "INTEGER"
	if driver == "postgres" {
		serial = "BIGSERIAL"
	}
	raw := []string{
		schemaRules,
		schemaBlacklist,
		schemaLoans,
		schemaApplications,
		schemaFraudLogs,
		schemaAlerts,
		schemaCases,
		schemaFollowUps,
	}
	out := make([]string, len(raw))
	for i, s := range raw {
		out[i] = strings.ReplaceAll(s, "{{SERIAL}}", serial)
	}
	return out
}
