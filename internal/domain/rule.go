package domain

import "time"

// Rule is a named, parameterized, toggleable fraud condition.
type Rule struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// ConditionType identifies the registered evaluator for this rule.
	// Unknown types are rejected at creation, never at evaluation time.
	ConditionType string `json:"conditionType"`

	// Params holds evaluator configuration (thresholds, time windows).
	Params Params `json:"params,omitempty"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Params is the parameter mapping attached to a rule.
type Params map[string]any

// Float returns a numeric parameter, falling back to def when absent or of the
// wrong shape. JSON round-trips deliver numbers as float64.
func (p Params) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

// Int returns an integer parameter, falling back to def.
func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return def
	}
}

// String returns a string parameter, falling back to def.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// Duration returns a parameter expressed in hours, falling back to def.
func (p Params) Duration(key string, def time.Duration) time.Duration {
	v, ok := p[key]
	if !ok {
		return def
	}
	if n, ok := v.(float64); ok {
		return time.Duration(n * float64(time.Hour))
	}
	return def
}

// Built-in condition types.
const (
	CondActiveLoan       = "active_loan"
	CondDuplicatePhone   = "duplicate_phone"
	CondRapidReapply     = "rapid_reapply"
	CondExcessiveReapply = "excessive_reapply"
	CondFraudDBMatch     = "fraud_db_match"
	CondTINMismatch      = "tin_mismatch"
	CondNIDKYCMismatch   = "nid_kyc_mismatch"
	CondNIDExpired       = "nid_expired"
	CondNIDSuspended     = "nid_suspended"
	CondHighAmount       = "high_amount"
	CondCustomExpression = "custom_expression"
)

// Well-known parameter keys shared by the built-in evaluators.
const (
	ParamRiskWeight      = "risk_weight"      // per-rule risk contribution, default DefaultRiskWeight
	ParamWindowHours     = "window_hours"     // rapid_reapply window, default 24
	ParamMaxPerDay       = "max_per_day"      // excessive_reapply threshold, default 2
	ParamNameSimilarity  = "name_similarity"  // tin_mismatch threshold on the 0-100 scale, default 85
	ParamAmountThreshold = "amount_threshold" // high_amount threshold
	ParamExpression      = "expression"       // custom_expression CEL source
)

// DefaultRiskWeight is the contribution of a matched rule that carries no
// explicit risk_weight. Chosen so a single clear match reaches the default
// block threshold on its own.
const DefaultRiskWeight = 0.7

// MatchedReason records one rule match inside a decision, in evaluation order.
type MatchedReason struct {
	RuleID       int64   `json:"ruleId"`
	Reason       string  `json:"reason"`
	Contribution float64 `json:"contribution"`
}
