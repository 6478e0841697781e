package domain

import "time"

// CaseStatus mirrors the alert lifecycle without the resolved intermediate;
// a case closes directly with a resolution outcome.
type CaseStatus string

const (
	CaseOpen          CaseStatus = "open"
	CaseAssigned      CaseStatus = "assigned"
	CaseInvestigating CaseStatus = "investigating"
	CaseClosed        CaseStatus = "closed"
)

// CaseResolution is the fixed enumeration of closing outcomes.
type CaseResolution string

const (
	ResolutionConfirmedFraud CaseResolution = "confirmed-fraud"
	ResolutionFalsePositive  CaseResolution = "false-positive"
	ResolutionInconclusive   CaseResolution = "inconclusive"
)

// ValidResolution reports whether r is one of the closing outcomes.
func ValidResolution(r CaseResolution) bool {
	switch r {
	case ResolutionConfirmedFraud, ResolutionFalsePositive, ResolutionInconclusive:
		return true
	}
	return false
}

// Case is a formal investigation opened from exactly one alert. An alert has
// at most one open case at a time but may be reopened into a new case after
// closure; prior cases are retained as history.
type Case struct {
	ID         int64  `json:"id"`
	AlertID    int64  `json:"alertId"`
	CaseNumber string `json:"caseNumber"` // CASE-YYYYMMDD-NNN

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`

	Status     CaseStatus      `json:"status"`
	AssignedTo *int64          `json:"assignedTo,omitempty"`
	Resolution *CaseResolution `json:"resolution,omitempty"`

	Version int64 `json:"version"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// Terminal reports whether the case is closed.
func (c *Case) Terminal() bool {
	return c.Status == CaseClosed
}

// CaseFollowUp is one append-only note on a case. Entries are never edited or
// reordered.
type CaseFollowUp struct {
	ID        int64     `json:"id"`
	CaseID    int64     `json:"caseId"`
	Author    int64     `json:"author"`
	Type      string    `json:"type,omitempty"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

// CaseFilter narrows case listings.
type CaseFilter struct {
	Status     CaseStatus
	AssignedTo int64
	AlertID    int64
}
