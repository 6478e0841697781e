package domain

import "time"

// AlertStatus tracks an alert through its investigation lifecycle.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertAssigned      AlertStatus = "assigned"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertClosed        AlertStatus = "closed"
)

// AlertSeverity is a display classification derived from the triggering
// reasons at creation time.
type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// Alert is an actionable flag raised from a block or review decision. Alerts
// are mutated only through defined transitions and never deleted; closed
// alerts are retained for audit.
type Alert struct {
	ID         int64         `json:"id"`
	FraudLogID string        `json:"fraudLogId"`
	UserID     int64         `json:"userId"`
	Severity   AlertSeverity `json:"severity"`
	Status     AlertStatus   `json:"status"`

	Description string `json:"description"`

	AssignedTo      *int64  `json:"assignedTo,omitempty"`
	ResolutionNotes *string `json:"resolutionNotes,omitempty"`
	ClosingNotes    *string `json:"closingNotes,omitempty"`

	// Version backs the optimistic concurrency check on transitions.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Terminal reports whether the alert is in its absorbing state.
func (a *Alert) Terminal() bool {
	return a.Status == AlertClosed
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Status     AlertStatus
	AssignedTo int64 // 0 = any analyst
}
