package domain

import "time"

// Subject identifies the person a fraud check runs against.
type Subject struct {
	UserID     int64  `json:"userId"`
	NationalID string `json:"nationalId,omitempty"`
	TIN        string `json:"tin,omitempty"`
	Name       string `json:"name,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// ApplicationRecord is one prior application or transaction of a subject,
// used by the history-window rules.
type ApplicationRecord struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Amount    float64   `json:"amount"`
	Phone     string    `json:"phone,omitempty"`
	Name      string    `json:"name,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IdentityStatus is the registry-reported state of a national ID.
type IdentityStatus string

const (
	IdentityActive    IdentityStatus = "active"
	IdentityExpired   IdentityStatus = "expired"
	IdentitySuspended IdentityStatus = "suspended"
)

// VerifiedIdentity carries the identity-registry outcome attached to a check.
// Available is false when the adapter failed or was skipped; rules that depend
// on verified attributes then simply do not match.
type VerifiedIdentity struct {
	Available       bool           `json:"available"`
	Valid           bool           `json:"valid"`
	MatchedName     string         `json:"matchedName,omitempty"`
	Status          IdentityStatus `json:"status,omitempty"`
	SimilarityScore int            `json:"similarityScore,omitempty"`
	KYCMatch        bool           `json:"kycMatch"`
	ExpiryDate      time.Time      `json:"expiryDate,omitempty"`
}

// TINVerification carries the tax-registry outcome attached to a check.
type TINVerification struct {
	Available       bool   `json:"available"`
	RegisteredName  string `json:"registeredName,omitempty"`
	Status          string `json:"status,omitempty"`
	SimilarityScore int    `json:"similarityScore,omitempty"`
}

// FraudCheckContext is the assembled set of facts a single fraud check is
// evaluated against. It is built per request and never persisted. Timestamp is
// injected by the orchestrator so evaluation stays deterministic under test.
type FraudCheckContext struct {
	Subject   Subject
	Amount    *float64
	Timestamp time.Time
	IPAddress string

	// History holds the subject's recent applications, most recent first.
	History []ApplicationRecord

	Identity VerifiedIdentity
	TIN      TINVerification

	HasActiveLoan  bool
	BlacklistMatch bool

	// SameDayCounter carries the cache's submission counter for the check's
	// calendar day. Zero means the counter was unavailable and the count
	// falls back to scanning History.
	SameDayCounter int64
}

// SameDayCount returns how many prior submissions fall on the same calendar
// day as the check itself. The cached counter is the fast path; when it is
// absent the History window is scanned in the check's location.
func (fc *FraudCheckContext) SameDayCount() int {
	if fc.SameDayCounter > 0 {
		return int(fc.SameDayCounter)
	}
	y, m, d := fc.Timestamp.Date()
	n := 0
	for _, rec := range fc.History {
		ry, rm, rd := rec.Timestamp.In(fc.Timestamp.Location()).Date()
		if ry == y && rm == m && rd == d {
			n++
		}
	}
	return n
}
