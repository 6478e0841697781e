package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("RuleCRUD", func(t *testing.T) {
		rule := &domain.Rule{
			Name:          "high-amount",
			Description:   "Unusually large amount",
			ConditionType: domain.CondHighAmount,
			Params:        domain.Params{"amount_threshold": 50000.0, "risk_weight": 0.4},
			IsActive:      true,
			CreatedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		}

		id, err := repo.CreateRule(ctx, rule)
		if err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}
		if id == 0 {
			t.Fatal("expected non-zero rule id")
		}

		got, err := repo.GetRule(ctx, id)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Name != rule.Name || got.ConditionType != rule.ConditionType {
			t.Errorf("rule mismatch: got %+v", got)
		}
		if got.Params.Float("amount_threshold", 0) != 50000.0 {
			t.Errorf("params not round-tripped: %+v", got.Params)
		}
		if !got.IsActive {
			t.Error("expected active rule")
		}

		got.Name = "high-amount-v2"
		got.IsActive = false
		got.UpdatedAt = time.Now().UTC()
		if err := repo.UpdateRule(ctx, got); err != nil {
			t.Fatalf("UpdateRule failed: %v", err)
		}

		updated, _ := repo.GetRule(ctx, id)
		if updated.Name != "high-amount-v2" || updated.IsActive {
			t.Errorf("update not persisted: %+v", updated)
		}

		if err := repo.SetRuleActive(ctx, id, true); err != nil {
			t.Fatalf("SetRuleActive failed: %v", err)
		}
		active, _ := repo.ListRules(ctx, true)
		if len(active) != 1 {
			t.Errorf("expected 1 active rule, got %d", len(active))
		}

		if err := repo.DeleteRule(ctx, id); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if _, err := repo.GetRule(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("ListRulesOrderedByID", func(t *testing.T) {
		for _, name := range []string{"r1", "r2", "r3"} {
			_, err := repo.CreateRule(ctx, &domain.Rule{
				Name:          name,
				ConditionType: domain.CondActiveLoan,
				IsActive:      true,
				CreatedAt:     time.Now().UTC(),
				UpdatedAt:     time.Now().UTC(),
			})
			if err != nil {
				t.Fatalf("CreateRule failed: %v", err)
			}
		}

		list, err := repo.ListRules(ctx, false)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		for i := 1; i < len(list); i++ {
			if list[i].ID <= list[i-1].ID {
				t.Errorf("rules not in ascending id order: %d after %d", list[i].ID, list[i-1].ID)
			}
		}
	})

	t.Run("GetMissingRule", func(t *testing.T) {
		if _, err := repo.GetRule(ctx, 424242); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Blacklist", func(t *testing.T) {
		matched, err := repo.IsBlacklisted(ctx, "123456789012")
		if err != nil {
			t.Fatalf("IsBlacklisted failed: %v", err)
		}
		if matched {
			t.Error("unexpected blacklist hit")
		}

		if err := repo.AddBlacklistEntry(ctx, "123456789012", "confirmed fraud"); err != nil {
			t.Fatalf("AddBlacklistEntry failed: %v", err)
		}
		// Re-adding is a no-op, not an error.
		if err := repo.AddBlacklistEntry(ctx, "123456789012", "again"); err != nil {
			t.Fatalf("duplicate AddBlacklistEntry failed: %v", err)
		}

		matched, _ = repo.IsBlacklisted(ctx, "123456789012")
		if !matched {
			t.Error("expected blacklist hit after insert")
		}
	})

	t.Run("Loans", func(t *testing.T) {
		sqlRepo := repo.(*SQLRepository)

		active, err := repo.HasActiveLoan(ctx, 7)
		if err != nil || active {
			t.Fatalf("expected no active loan, got active=%v err=%v", active, err)
		}

		if err := sqlRepo.AddLoan(ctx, 7, 15000, "active"); err != nil {
			t.Fatalf("AddLoan failed: %v", err)
		}
		if err := sqlRepo.AddLoan(ctx, 8, 9000, "repaid"); err != nil {
			t.Fatalf("AddLoan failed: %v", err)
		}

		active, _ = repo.HasActiveLoan(ctx, 7)
		if !active {
			t.Error("expected active loan for user 7")
		}
		active, _ = repo.HasActiveLoan(ctx, 8)
		if active {
			t.Error("repaid loan must not count as active")
		}
	})

	t.Run("Applications", func(t *testing.T) {
		now := time.Now().UTC()
		for i, offset := range []time.Duration{-72 * time.Hour, -2 * time.Hour, -1 * time.Hour} {
			_, err := repo.SaveApplication(ctx, &domain.ApplicationRecord{
				UserID:    11,
				Amount:    float64(1000 * (i + 1)),
				Phone:     "+251911000011",
				Name:      "Sara Tesfaye",
				Gender:    "female",
				Timestamp: now.Add(offset),
			})
			if err != nil {
				t.Fatalf("SaveApplication failed: %v", err)
			}
		}

		recs, err := repo.RecentApplications(ctx, 11, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("RecentApplications failed: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 records inside the window, got %d", len(recs))
		}
		if !recs[0].Timestamp.After(recs[1].Timestamp) {
			t.Error("records not ordered most recent first")
		}
	})
}

func TestSaveDecision(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	amount := 2500.0

	t.Run("LogWithoutAlert", func(t *testing.T) {
		log := &domain.FraudLog{
			ID:        "log-0001",
			UserID:    21,
			EventType: domain.EventTransaction,
			Amount:    &amount,
			Outcome:   domain.OutcomeAllow,
			RiskScore: 0.1,
			CreatedAt: now,
		}
		alertID, err := repo.SaveDecision(ctx, log, nil)
		if err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}
		if alertID != 0 {
			t.Errorf("expected no alert id, got %d", alertID)
		}

		got, err := repo.GetFraudLog(ctx, "log-0001")
		if err != nil {
			t.Fatalf("GetFraudLog failed: %v", err)
		}
		if got.Outcome != domain.OutcomeAllow || *got.Amount != amount {
			t.Errorf("fraud log mismatch: %+v", got)
		}
	})

	t.Run("LogWithAlert", func(t *testing.T) {
		log := &domain.FraudLog{
			ID:         "log-0002",
			UserID:     22,
			NationalID: "123456789012",
			EventType:  domain.EventLoanApplication,
			Outcome:    domain.OutcomeBlock,
			RiskScore:  1.0,
			Reasons: []domain.MatchedReason{
				{RuleID: 1, Reason: "Known fraudster", Contribution: 0.7},
			},
			ML:        domain.MLSignal{Consulted: true, Score: 0.3},
			CreatedAt: now,
		}
		alert := &domain.Alert{
			FraudLogID:  "log-0002",
			UserID:      22,
			Severity:    domain.SeverityHigh,
			Status:      domain.AlertOpen,
			Description: "Fraud detected: Known fraudster",
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		alertID, err := repo.SaveDecision(ctx, log, alert)
		if err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}
		if alertID == 0 {
			t.Fatal("expected alert id")
		}

		got, err := repo.GetFraudLog(ctx, "log-0002")
		if err != nil {
			t.Fatalf("GetFraudLog failed: %v", err)
		}
		if len(got.Reasons) != 1 || got.Reasons[0].Reason != "Known fraudster" {
			t.Errorf("reasons not round-tripped: %+v", got.Reasons)
		}
		if !got.ML.Consulted || got.ML.Score != 0.3 {
			t.Errorf("ml signal not round-tripped: %+v", got.ML)
		}

		storedAlert, err := repo.GetAlert(ctx, alertID)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if storedAlert.FraudLogID != "log-0002" || storedAlert.Status != domain.AlertOpen {
			t.Errorf("alert mismatch: %+v", storedAlert)
		}
		if storedAlert.Version != 1 {
			t.Errorf("expected initial version 1, got %d", storedAlert.Version)
		}
	})

	t.Run("MissingLog", func(t *testing.T) {
		if _, err := repo.GetFraudLog(ctx, "no-such-log"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func seedAlert(t *testing.T, repo domain.Repository, userID int64) int64 {
	t.Helper()
	now := time.Now().UTC()
	logID := "seed-log-" + time.Now().Format("150405.000000000")

	alertID, err := repo.SaveDecision(context.Background(),
		&domain.FraudLog{
			ID:        logID,
			UserID:    userID,
			EventType: domain.EventTransaction,
			Outcome:   domain.OutcomeBlock,
			RiskScore: 0.9,
			CreatedAt: now,
		},
		&domain.Alert{
			FraudLogID:  logID,
			UserID:      userID,
			Severity:    domain.SeverityMedium,
			Status:      domain.AlertOpen,
			Description: "Fraud detected",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	)
	if err != nil {
		t.Fatalf("failed to seed alert: %v", err)
	}
	return alertID
}

func TestAlertOptimisticLocking(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alertID := seedAlert(t, repo, 31)

	first, _ := repo.GetAlert(ctx, alertID)
	second, _ := repo.GetAlert(ctx, alertID)

	analyst := int64(100)
	first.Status = domain.AlertAssigned
	first.AssignedTo = &analyst
	first.UpdatedAt = time.Now().UTC()
	if err := repo.UpdateAlert(ctx, first); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("expected version bump to 2, got %d", first.Version)
	}

	// The stale copy loses the race.
	second.Status = domain.AlertClosed
	second.UpdatedAt = time.Now().UTC()
	err := repo.UpdateAlert(ctx, second)
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}

	// The stored row kept the winner's state.
	stored, _ := repo.GetAlert(ctx, alertID)
	if stored.Status != domain.AlertAssigned {
		t.Errorf("loser's write leaked through: %+v", stored)
	}
}

func TestUpdateMissingAlert(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.UpdateAlert(context.Background(), &domain.Alert{
		ID:      555,
		Status:  domain.AlertAssigned,
		Version: 1,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing alert, got %v", err)
	}
}

func TestAlertListingAndStats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a1 := seedAlert(t, repo, 41)
	seedAlert(t, repo, 42)

	analyst := int64(9)
	alert, _ := repo.GetAlert(ctx, a1)
	alert.Status = domain.AlertAssigned
	alert.AssignedTo = &analyst
	alert.UpdatedAt = time.Now().UTC()
	if err := repo.UpdateAlert(ctx, alert); err != nil {
		t.Fatalf("UpdateAlert failed: %v", err)
	}

	open, err := repo.ListAlerts(ctx, domain.AlertFilter{Status: domain.AlertOpen})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("expected 1 open alert, got %d", len(open))
	}

	mine, _ := repo.ListAlerts(ctx, domain.AlertFilter{AssignedTo: analyst})
	if len(mine) != 1 || mine[0].ID != a1 {
		t.Errorf("assignee filter failed: %+v", mine)
	}

	stats, err := repo.AlertStats(ctx)
	if err != nil {
		t.Fatalf("AlertStats failed: %v", err)
	}
	if stats[domain.AlertOpen] != 1 || stats[domain.AlertAssigned] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCases(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alertID := seedAlert(t, repo, 51)
	now := time.Now().UTC()

	t.Run("CreateAndGet", func(t *testing.T) {
		c := &domain.Case{
			AlertID:    alertID,
			CaseNumber: "CASE-20260830-001",
			Title:      "Investigate blocked transaction",
			Status:     domain.CaseOpen,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		id, err := repo.CreateCase(ctx, c)
		if err != nil {
			t.Fatalf("CreateCase failed: %v", err)
		}

		got, err := repo.GetCase(ctx, id)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if got.CaseNumber != "CASE-20260830-001" || got.Status != domain.CaseOpen {
			t.Errorf("case mismatch: %+v", got)
		}
		if got.Version != 1 {
			t.Errorf("expected initial version 1, got %d", got.Version)
		}
	})

	t.Run("DuplicateCaseNumber", func(t *testing.T) {
		_, err := repo.CreateCase(ctx, &domain.Case{
			AlertID:    alertID,
			CaseNumber: "CASE-20260830-001",
			Title:      "Racing creation",
			Status:     domain.CaseOpen,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if !errors.Is(err, domain.ErrConcurrentModification) {
			t.Errorf("expected ErrConcurrentModification on duplicate number, got %v", err)
		}
	})

	t.Run("OpenCaseForAlert", func(t *testing.T) {
		c, err := repo.OpenCaseForAlert(ctx, alertID)
		if err != nil {
			t.Fatalf("OpenCaseForAlert failed: %v", err)
		}
		if c == nil || c.CaseNumber != "CASE-20260830-001" {
			t.Errorf("expected the open case, got %+v", c)
		}

		// An alert with no cases yields nil, nil.
		none, err := repo.OpenCaseForAlert(ctx, 98765)
		if err != nil || none != nil {
			t.Errorf("expected nil, nil for caseless alert, got %+v, %v", none, err)
		}
	})

	t.Run("CountCasesCreatedOn", func(t *testing.T) {
		n, err := repo.CountCasesCreatedOn(ctx, now)
		if err != nil {
			t.Fatalf("CountCasesCreatedOn failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 case today, got %d", n)
		}

		n, _ = repo.CountCasesCreatedOn(ctx, now.Add(-48*time.Hour))
		if n != 0 {
			t.Errorf("expected 0 cases two days ago, got %d", n)
		}
	})

	t.Run("UpdateWithVersionCheck", func(t *testing.T) {
		c, _ := repo.OpenCaseForAlert(ctx, alertID)

		stale := *c
		c.Status = domain.CaseAssigned
		c.UpdatedAt = time.Now().UTC()
		if err := repo.UpdateCase(ctx, c); err != nil {
			t.Fatalf("UpdateCase failed: %v", err)
		}

		stale.Status = domain.CaseInvestigating
		if err := repo.UpdateCase(ctx, &stale); !errors.Is(err, domain.ErrConcurrentModification) {
			t.Errorf("expected ErrConcurrentModification on stale version, got %v", err)
		}
	})

	t.Run("CloseWithResolution", func(t *testing.T) {
		c, _ := repo.OpenCaseForAlert(ctx, alertID)
		res := domain.ResolutionConfirmedFraud
		closedAt := time.Now().UTC()
		c.Status = domain.CaseClosed
		c.Resolution = &res
		c.ClosedAt = &closedAt
		c.UpdatedAt = closedAt
		if err := repo.UpdateCase(ctx, c); err != nil {
			t.Fatalf("UpdateCase failed: %v", err)
		}

		got, _ := repo.GetCase(ctx, c.ID)
		if got.Resolution == nil || *got.Resolution != domain.ResolutionConfirmedFraud {
			t.Errorf("resolution not persisted: %+v", got)
		}
		if got.ClosedAt == nil {
			t.Error("closed_at not persisted")
		}

		// Closing the only case empties the open-case slot.
		open, _ := repo.OpenCaseForAlert(ctx, alertID)
		if open != nil {
			t.Errorf("closed case still reported open: %+v", open)
		}
	})

	t.Run("FollowUps", func(t *testing.T) {
		c, _ := repo.GetCase(ctx, 1)
		for i, note := range []string{"first note", "second note"} {
			id, err := repo.AddFollowUp(ctx, &domain.CaseFollowUp{
				CaseID:    c.ID,
				Author:    int64(i + 1),
				Type:      "note",
				Note:      note,
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				t.Fatalf("AddFollowUp failed: %v", err)
			}
			if id == 0 {
				t.Fatal("expected follow-up id")
			}
		}

		followUps, err := repo.ListFollowUps(ctx, c.ID)
		if err != nil {
			t.Fatalf("ListFollowUps failed: %v", err)
		}
		if len(followUps) != 2 {
			t.Fatalf("expected 2 follow-ups, got %d", len(followUps))
		}
		if followUps[0].Note != "first note" || followUps[1].Note != "second note" {
			t.Errorf("follow-ups not in insertion order: %+v", followUps)
		}
	})

	t.Run("GetMissingCase", func(t *testing.T) {
		if _, err := repo.GetCase(ctx, 424242); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver string
		in     string
		want   string
	}{
		{"sqlite", "SELECT * FROM rules WHERE id = ?", "SELECT * FROM rules WHERE id = ?"},
		{"postgres", "SELECT * FROM rules WHERE id = ?", "SELECT * FROM rules WHERE id = $1"},
		{"postgres", "INSERT INTO loans (user_id, amount) VALUES (?, ?)", "INSERT INTO loans (user_id, amount) VALUES ($1, $2)"},
		{"postgres", "UPDATE alerts SET status = ? WHERE id = ? AND version = ?", "UPDATE alerts SET status = $1 WHERE id = $2 AND version = $3"},
	}

	for _, tt := range tests {
		if got := rebindFor(tt.driver, tt.in); got != tt.want {
			t.Errorf("rebindFor(%q, %q) = %q, want %q", tt.driver, tt.in, got, tt.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Error("nil error reported as unique violation")
	}
	if !isUniqueViolation(errors.New("UNIQUE constraint failed: cases.case_number")) {
		t.Error("sqlite unique violation not detected")
	}
	if !isUniqueViolation(errors.New(`pq: duplicate key value violates unique constraint "cases_case_number_key"`)) {
		t.Error("postgres unique violation not detected")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Error("unrelated error reported as unique violation")
	}
}
