// Package decision implements the fraud orchestrator: it resolves external
// verification, assembles the check context, runs the rule engine, merges the
// optional ML signal, and renders one final decision with its audit trail.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/ml"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/verify"
)

// CheckRequest is the raw input to one fraud check.
type CheckRequest struct {
	Subject   domain.Subject `json:"subject"`
	EventType string         `json:"eventType,omitempty"` // transaction | loan_application
	Amount    *float64       `json:"amount,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`

	// Timestamp is injected rather than read from the wall clock inside the
	// pipeline, so evaluation is deterministic and testable. Zero means now.
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Features optionally carries the ML model's feature vector.
	Features []float64 `json:"features,omitempty"`
}

// Orchestrator wires the decisioning pipeline together. Each check is an
// independent unit of work; the only shared state is the rule store's
// published snapshot.
type Orchestrator struct {
	cfg      domain.DecisionConfig
	repo     domain.Repository
	store    *rules.Store
	hist     *history.Service
	identity verify.IdentityVerifier
	tax      verify.TaxVerifier
	scorer   ml.Scorer
	bus      domain.EventBus
}

// New creates an orchestrator. identity, tax, scorer and bus may be nil; a
// nil collaborator disables that signal and the pipeline degrades around it.
func New(cfg domain.DecisionConfig, repo domain.Repository, store *rules.Store, hist *history.Service,
	identity verify.IdentityVerifier, tax verify.TaxVerifier, scorer ml.Scorer, bus domain.EventBus) *Orchestrator {
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = 0.7
	}
	if cfg.ReviewThreshold <= 0 || cfg.ReviewThreshold >= cfg.BlockThreshold {
		cfg.ReviewThreshold = cfg.BlockThreshold * 4 / 7
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 30 * 24 * time.Hour
	}
	return &Orchestrator{
		cfg:      cfg,
		repo:     repo,
		store:    store,
		hist:     hist,
		identity: identity,
		tax:      tax,
		scorer:   scorer,
		bus:      bus,
	}
}

// Decide runs one fraud check end to end. Exactly one FraudLog and at most
// one Alert are created per call; both are written in a single repository
// transaction, so a persistence failure leaves nothing behind and the caller
// retries the whole check.
func (o *Orchestrator) Decide(ctx context.Context, req *CheckRequest) (*domain.Decision, error) {
	started := time.Now()

	if req == nil || req.Subject.UserID == 0 {
		return nil, fmt.Errorf("%w: subject user id is required", domain.ErrValidation)
	}
	if req.Amount != nil && *req.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", domain.ErrValidation)
	}
	eventType := req.EventType
	if eventType == "" {
		eventType = domain.EventTransaction
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	fc := &domain.FraudCheckContext{
		Subject:   req.Subject,
		Amount:    req.Amount,
		Timestamp: ts,
		IPAddress: req.IPAddress,
	}

	var warnings []string

	// 1. External verification, degrading on adapter failure.
	warnings = append(warnings, o.resolveIdentity(ctx, fc)...)
	warnings = append(warnings, o.resolveTIN(ctx, fc)...)

	// 2. Subject facts and history window.
	if err := o.assembleFacts(ctx, fc); err != nil {
		return nil, err
	}

	// 3. Rule evaluation against an immutable snapshot captured here.
	snap, err := o.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	res := rules.Evaluate(fc, snap)
	warnings = append(warnings, res.Warnings...)
	o.countMatches(snap, res.Matched)

	ruleScore := res.Score
	// A blacklist rule match is conclusive on its own, whatever weight the
	// administrator configured on it.
	if matchedCondition(snap, res.Matched, domain.CondFraudDBMatch) {
		ruleScore = 1.0
	}

	// 4. Optional ML signal; strict maximum when both are present.
	final, mlSignal, mlWarnings := o.mergeML(ctx, req, ts, ruleScore)
	warnings = append(warnings, mlWarnings...)

	// 5. Classification.
	outcome := o.classify(final)

	// 6-7. Audit log plus alert, atomically.
	log := &domain.FraudLog{
		ID:         uuid.New().String(),
		UserID:     req.Subject.UserID,
		NationalID: req.Subject.NationalID,
		EventType:  eventType,
		Amount:     req.Amount,
		IPAddress:  req.IPAddress,
		Outcome:    outcome,
		RiskScore:  final,
		Reasons:    res.Matched,
		ML:         mlSignal,
		CreatedAt:  ts,
	}

	var alert *domain.Alert
	if outcome == domain.OutcomeBlock || (outcome == domain.OutcomeReview && o.cfg.AlertOnReview) {
		alert = o.buildAlert(snap, log)
	}

	alertID, err := o.repo.SaveDecision(ctx, log, alert)
	if err != nil {
		return nil, fmt.Errorf("%w: save decision: %v", domain.ErrPersistenceFailure, err)
	}

	// Record the application after deciding, so the in-flight submission is
	// not counted against itself by the reapply rules.
	o.recordApplication(ctx, req, ts)

	o.publish(ctx, log, alert, alertID)

	metrics.ObserveCheck(string(outcome), final, started)
	if alert != nil {
		metrics.AlertsRaisedTotal.WithLabelValues(string(alert.Severity)).Inc()
	}

	slog.Info("decision rendered",
		"audit_log_id", log.ID,
		"user_id", req.Subject.UserID,
		"outcome", outcome,
		"risk_score", final,
		"reasons", len(res.Matched),
		"rule_snapshot", snap.Version,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	dec := &domain.Decision{
		Outcome:    outcome,
		RiskScore:  final,
		RiskLevel:  ml.RiskLevel(final),
		Reasons:    res.Matched,
		Warnings:   warnings,
		AuditLogID: log.ID,
	}
	if alertID != 0 {
		dec.AlertID = &alertID
	}
	return dec, nil
}

// resolveIdentity attaches the identity-registry outcome. Adapter failures
// degrade to "verification unavailable"; downstream rules that depend on
// verified attributes simply do not match.
func (o *Orchestrator) resolveIdentity(ctx context.Context, fc *domain.FraudCheckContext) []string {
	if o.identity == nil || fc.Subject.NationalID == "" {
		return nil
	}
	res, err := o.identity.Verify(ctx, verify.IdentityRequest{
		NationalID: fc.Subject.NationalID,
		Name:       fc.Subject.Name,
		Gender:     fc.Subject.Gender,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			// A malformed id is a fact about the applicant, not an outage:
			// leave verification unavailable and let format-independent
			// rules run.
			return []string{fmt.Sprintf("identity verification skipped: %v", err)}
		}
		metrics.AdapterFailuresTotal.WithLabelValues("identity").Inc()
		slog.Warn("identity verification degraded", "user_id", fc.Subject.UserID, "error", err)
		return []string{"identity verification unavailable"}
	}
	fc.Identity = *res
	return nil
}

// resolveTIN attaches the tax-registry outcome plus the fuzzy similarity of
// the registered name to the subject's name.
func (o *Orchestrator) resolveTIN(ctx context.Context, fc *domain.FraudCheckContext) []string {
	if o.tax == nil || fc.Subject.TIN == "" {
		return nil
	}
	rec, err := o.tax.Lookup(ctx, fc.Subject.TIN)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			fc.TIN = domain.TINVerification{Available: true, SimilarityScore: 0}
			return nil
		}
		metrics.AdapterFailuresTotal.WithLabelValues("tax_registry").Inc()
		slog.Warn("tax registry lookup degraded", "user_id", fc.Subject.UserID, "error", err)
		return []string{"tax registry verification unavailable"}
	}
	fc.TIN = domain.TINVerification{
		Available:       true,
		RegisteredName:  rec.RegisteredName,
		Status:          rec.Status,
		SimilarityScore: verify.NameSimilarity(rec.RegisteredName, fc.Subject.Name),
	}
	return nil
}

func (o *Orchestrator) assembleFacts(ctx context.Context, fc *domain.FraudCheckContext) error {
	if fc.Subject.NationalID != "" {
		matched, err := o.repo.IsBlacklisted(ctx, fc.Subject.NationalID)
		if err != nil {
			return fmt.Errorf("%w: blacklist lookup: %v", domain.ErrPersistenceFailure, err)
		}
		fc.BlacklistMatch = matched
	}

	active, err := o.repo.HasActiveLoan(ctx, fc.Subject.UserID)
	if err != nil {
		return fmt.Errorf("%w: loan lookup: %v", domain.ErrPersistenceFailure, err)
	}
	fc.HasActiveLoan = active

	window, err := o.hist.Window(ctx, fc.Subject.UserID, fc.Timestamp.Add(-o.cfg.HistoryWindow))
	if err != nil {
		return err
	}
	fc.History = window

	// Cached counter first; a zero read falls back to scanning the window.
	fc.SameDayCounter = o.hist.SameDayCount(ctx, fc.Subject.UserID, fc.Timestamp)
	return nil
}

// mergeML combines the rule score with the anomaly score via a strict
// maximum: either subsystem independently crossing the block threshold must
// block. An unavailable scorer is a logged fallback, never an error.
func (o *Orchestrator) mergeML(ctx context.Context, req *CheckRequest, ts time.Time, ruleScore float64) (float64, domain.MLSignal, []string) {
	if o.scorer == nil {
		return ruleScore, domain.MLSignal{}, nil
	}

	amount := 0.0
	if req.Amount != nil {
		amount = *req.Amount
	}
	score, err := o.scorer.Score(ctx, req.Features, amount, ts)
	if err != nil {
		metrics.AdapterFailuresTotal.WithLabelValues("ml").Inc()
		slog.Warn("ml scorer unavailable, falling back to rule score", "user_id", req.Subject.UserID, "error", err)
		return ruleScore, domain.MLSignal{Fallback: true, Note: "ml scorer unavailable"},
			[]string{"ml scorer unavailable, rule score used"}
	}

	final := ruleScore
	if score > final {
		final = score
	}
	return final, domain.MLSignal{Consulted: true, Score: score}, nil
}

func (o *Orchestrator) classify(score float64) domain.Outcome {
	switch {
	case score >= o.cfg.BlockThreshold:
		return domain.OutcomeBlock
	case score >= o.cfg.ReviewThreshold:
		return domain.OutcomeReview
	default:
		return domain.OutcomeAllow
	}
}

// buildAlert derives the alert raised by a block or review decision.
func (o *Orchestrator) buildAlert(snap *rules.Snapshot, log *domain.FraudLog) *domain.Alert {
	texts := make([]string, 0, len(log.Reasons))
	for _, r := range log.Reasons {
		texts = append(texts, r.Reason)
	}
	desc := "Fraud detected"
	if len(texts) > 0 {
		desc = "Fraud detected: " + strings.Join(texts, "; ")
	} else if log.ML.Consulted {
		desc = fmt.Sprintf("Fraud detected: anomaly score %.2f", log.ML.Score)
	}

	severity := domain.SeverityMedium
	if matchedCondition(snap, log.Reasons, domain.CondFraudDBMatch) ||
		matchedCondition(snap, log.Reasons, domain.CondNIDExpired) ||
		matchedCondition(snap, log.Reasons, domain.CondNIDSuspended) {
		severity = domain.SeverityHigh
	}

	return &domain.Alert{
		FraudLogID:  log.ID,
		UserID:      log.UserID,
		Severity:    severity,
		Status:      domain.AlertOpen,
		Description: desc,
		CreatedAt:   log.CreatedAt,
		UpdatedAt:   log.CreatedAt,
	}
}

func (o *Orchestrator) recordApplication(ctx context.Context, req *CheckRequest, ts time.Time) {
	amount := 0.0
	if req.Amount != nil {
		amount = *req.Amount
	}
	rec := &domain.ApplicationRecord{
		UserID:    req.Subject.UserID,
		Amount:    amount,
		Phone:     req.Subject.Phone,
		Name:      req.Subject.Name,
		Gender:    req.Subject.Gender,
		IPAddress: req.IPAddress,
		Timestamp: ts,
	}
	if _, err := o.hist.Record(ctx, rec); err != nil {
		slog.Warn("failed to record application history", "user_id", req.Subject.UserID, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, log *domain.FraudLog, alert *domain.Alert, alertID int64) {
	if o.bus == nil {
		return
	}
	if payload, err := json.Marshal(log); err == nil {
		if err := o.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
			slog.Warn("failed to publish decision event", "audit_log_id", log.ID, "error", err)
		}
	}
	if alert != nil {
		alert.ID = alertID
		if payload, err := json.Marshal(alert); err == nil {
			if err := o.bus.Publish(ctx, domain.TopicAlertRaised, payload); err != nil {
				slog.Warn("failed to publish alert event", "alert_id", alertID, "error", err)
			}
		}
	}
}

func (o *Orchestrator) countMatches(snap *rules.Snapshot, matched []domain.MatchedReason) {
	types := conditionTypes(snap)
	for _, m := range matched {
		if t, ok := types[m.RuleID]; ok {
			metrics.RuleMatchesTotal.WithLabelValues(t).Inc()
		}
	}
}

// matchedCondition reports whether any matched reason belongs to a rule of
// the given condition type.
func matchedCondition(snap *rules.Snapshot, matched []domain.MatchedReason, conditionType string) bool {
	types := conditionTypes(snap)
	for _, m := range matched {
		if types[m.RuleID] == conditionType {
			return true
		}
	}
	return false
}

func conditionTypes(snap *rules.Snapshot) map[int64]string {
	types := make(map[int64]string, len(snap.Rules))
	for _, cr := range snap.Rules {
		types[cr.Rule.ID] = cr.Rule.ConditionType
	}
	return types
}
