package domain

import "time"

// Outcome is the final classification of a fraud check.
type Outcome string

const (
	OutcomeAllow  Outcome = "allow"
	OutcomeReview Outcome = "review"
	OutcomeBlock  Outcome = "block"
)

// Event types recorded on fraud logs.
const (
	EventTransaction     = "transaction"
	EventLoanApplication = "loan_application"
)

// MLSignal records whether and how the external anomaly score participated in
// a decision. Fallback is set when the scorer was unreachable and the decision
// proceeded on rules alone.
type MLSignal struct {
	Consulted bool    `json:"consulted"`
	Score     float64 `json:"score,omitempty"`
	Fallback  bool    `json:"fallback,omitempty"`
	Note      string  `json:"note,omitempty"`
}

// FraudLog is the immutable audit record of one completed decision. Created
// exactly once per orchestrated check, never mutated.
type FraudLog struct {
	ID         string          `json:"id"`
	UserID     int64           `json:"userId"`
	NationalID string          `json:"nationalId,omitempty"`
	EventType  string          `json:"eventType"`
	Amount     *float64        `json:"amount,omitempty"`
	IPAddress  string          `json:"ipAddress,omitempty"`
	Outcome    Outcome         `json:"outcome"`
	RiskScore  float64         `json:"riskScore"`
	Reasons    []MatchedReason `json:"reasons"` // insertion order = evaluation order
	ML         MLSignal        `json:"ml"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Decision is the result returned to the caller of a fraud check.
type Decision struct {
	Outcome    Outcome         `json:"outcome"`
	RiskScore  float64         `json:"riskScore"`
	RiskLevel  string          `json:"riskLevel"`
	Reasons    []MatchedReason `json:"reasons,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
	AuditLogID string          `json:"auditLogId"`
	AlertID    *int64          `json:"alertId,omitempty"`
}
