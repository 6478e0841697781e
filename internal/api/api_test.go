package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpFile.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(128)
	store := rules.NewStore(repo)
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	hist := history.NewService(repo, lru)
	orchestrator := decision.New(domain.DecisionConfig{}, repo, store, hist, nil, nil, nil, nil)
	alertMgr := alerts.NewManager(repo, nil)
	caseMgr := cases.NewManager(repo, nil)

	srv := NewServer(domain.ServerConfig{}, repo, lru, store, orchestrator, alertMgr, caseMgr, "test")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response for %s %s: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	status, body := do(t, ts, http.MethodGet, "/health", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("expected version 'test', got %v", body["version"])
	}

	status, body = do(t, ts, http.MethodGet, "/ready", nil)
	if status != http.StatusOK || body["ready"] != "true" {
		t.Errorf("expected ready, got %d %v", status, body)
	}
}

func TestCheckEndpoint(t *testing.T) {
	ts := newTestServer(t)

	t.Run("AllowWithEmptyRuleSet", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/check", map[string]any{
			"subject": map[string]any{"userId": 101, "name": "Abebe Kebede"},
			"amount":  5000.0,
		})
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", status, body)
		}
		if body["outcome"] != "allow" {
			t.Errorf("expected allow, got %v", body["outcome"])
		}

		auditLogID, _ := body["auditLogId"].(string)
		if auditLogID == "" {
			t.Fatal("expected audit log id")
		}

		meta, _ := body["metadata"].(map[string]any)
		if meta == nil || meta["version"] != "test" {
			t.Errorf("expected response metadata with version, got %v", body["metadata"])
		}

		status, logBody := do(t, ts, http.MethodGet, "/fraud-logs/"+auditLogID, nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200 fetching audit log, got %d", status)
		}
		if logBody["outcome"] != "allow" {
			t.Errorf("expected persisted outcome allow, got %v", logBody["outcome"])
		}
	})

	t.Run("MissingSubjectRejected", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/check", map[string]any{"amount": 100.0})
		if status != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", status)
		}
	})

	t.Run("NegativeAmountRejected", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/check", map[string]any{
			"subject": map[string]any{"userId": 101},
			"amount":  -1.0,
		})
		if status != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", status)
		}
	})

	t.Run("MalformedBodyRejected", func(t *testing.T) {
		resp, err := ts.Client().Post(ts.URL+"/check", "application/json", strings.NewReader("{not json"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("MissingFraudLogIs404", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodGet, "/fraud-logs/nonexistent", nil)
		if status != http.StatusNotFound {
			t.Errorf("expected 404, got %d", status)
		}
	})
}

func TestRulesAPI(t *testing.T) {
	ts := newTestServer(t)

	var ruleID string

	t.Run("Create", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/rules", map[string]any{
			"name":          "large amounts",
			"conditionType": "high_amount",
			"params":        map[string]any{"threshold": 100000, "risk_weight": 0.6},
		})
		if status != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %v", status, body)
		}
		id, ok := body["id"].(float64)
		if !ok || id <= 0 {
			t.Fatalf("expected assigned rule id, got %v", body["id"])
		}
		ruleID = fmt.Sprintf("%d", int64(id))
	})

	t.Run("UnknownConditionTypeRejected", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/rules", map[string]any{
			"name":          "bad",
			"conditionType": "quantum_entanglement",
		})
		if status != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", status)
		}
	})

	t.Run("List", func(t *testing.T) {
		status, body := do(t, ts, http.MethodGet, "/rules", nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if count, _ := body["count"].(float64); count != 1 {
			t.Errorf("expected 1 rule, got %v", body["count"])
		}
	})

	t.Run("Get", func(t *testing.T) {
		status, body := do(t, ts, http.MethodGet, "/rules/"+ruleID, nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if body["name"] != "large amounts" {
			t.Errorf("expected rule name, got %v", body["name"])
		}
	})

	t.Run("Update", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPut, "/rules/"+ruleID, map[string]any{
			"name":          "very large amounts",
			"conditionType": "high_amount",
			"params":        map[string]any{"threshold": 200000},
		})
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", status, body)
		}
		if body["name"] != "very large amounts" {
			t.Errorf("expected updated name, got %v", body["name"])
		}
	})

	t.Run("Toggle", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/rules/"+ruleID+"/toggle", map[string]any{
			"isActive": false,
		})
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if active, _ := body["isActive"].(bool); active {
			t.Error("expected rule deactivated")
		}
	})

	t.Run("BadPathID", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodGet, "/rules/abc", nil)
		if status != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", status)
		}
	})

	t.Run("MissingRuleIs404", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodGet, "/rules/9999", nil)
		if status != http.StatusNotFound {
			t.Errorf("expected 404, got %d", status)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodDelete, "/rules/"+ruleID, nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		status, _ = do(t, ts, http.MethodGet, "/rules/"+ruleID, nil)
		if status != http.StatusNotFound {
			t.Errorf("expected 404 after delete, got %d", status)
		}
	})
}

func TestBlacklistAPI(t *testing.T) {
	ts := newTestServer(t)

	t.Run("RequiresNationalID", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/blacklist", map[string]any{"reason": "stolen identity"})
		if status != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", status)
		}
	})

	t.Run("Add", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/blacklist", map[string]any{
			"nationalId": "123456789012",
			"reason":     "confirmed fraud ring",
		})
		if status != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %v", status, body)
		}
	})
}

// blockedCheck sets up a blacklist hit and runs a check that raises an alert,
// returning the alert id.
func blockedCheck(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	status, _ := do(t, ts, http.MethodPost, "/blacklist", map[string]any{
		"nationalId": "987654321098",
		"reason":     "chargeback fraud",
	})
	if status != http.StatusCreated {
		t.Fatalf("blacklist add failed with %d", status)
	}

	status, _ = do(t, ts, http.MethodPost, "/rules", map[string]any{
		"name":          "known fraud identity",
		"conditionType": "fraud_db_match",
	})
	if status != http.StatusCreated {
		t.Fatalf("rule create failed with %d", status)
	}

	status, body := do(t, ts, http.MethodPost, "/check", map[string]any{
		"subject": map[string]any{"userId": 501, "nationalId": "987654321098", "name": "Chaltu Bekele"},
		"amount":  25000.0,
	})
	if status != http.StatusOK {
		t.Fatalf("check failed with %d: %v", status, body)
	}
	if body["outcome"] != "block" {
		t.Fatalf("expected block, got %v", body["outcome"])
	}

	alertID, ok := body["alertId"].(float64)
	if !ok || alertID <= 0 {
		t.Fatalf("expected alert id on blocked decision, got %v", body["alertId"])
	}
	return fmt.Sprintf("%d", int64(alertID))
}

func TestAlertAPI(t *testing.T) {
	ts := newTestServer(t)
	alertID := blockedCheck(t, ts)

	t.Run("ListOpen", func(t *testing.T) {
		status, body := do(t, ts, http.MethodGet, "/alerts?status=open", nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if count, _ := body["count"].(float64); count != 1 {
			t.Errorf("expected 1 open alert, got %v", body["count"])
		}
	})

	t.Run("Get", func(t *testing.T) {
		status, body := do(t, ts, http.MethodGet, "/alerts/"+alertID, nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if body["status"] != "open" {
			t.Errorf("expected open alert, got %v", body["status"])
		}
		if body["severity"] != "high" {
			t.Errorf("expected high severity, got %v", body["severity"])
		}
	})

	t.Run("ResolveBeforeInvestigationIsConflict", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/alerts/"+alertID+"/resolve", map[string]any{
			"summary": "too early",
		})
		if status != http.StatusConflict {
			t.Errorf("expected 409, got %d", status)
		}
	})

	t.Run("AssignWithoutAnalystIsConflict", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/alerts/"+alertID+"/assign", map[string]any{
			"analystId": 0,
		})
		if status != http.StatusConflict {
			t.Errorf("expected 409, got %d", status)
		}
	})

	t.Run("Lifecycle", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/alerts/"+alertID+"/assign", map[string]any{
			"analystId": 42,
		})
		if status != http.StatusOK {
			t.Fatalf("assign failed with %d: %v", status, body)
		}
		if body["status"] != "assigned" {
			t.Errorf("expected assigned, got %v", body["status"])
		}

		status, body = do(t, ts, http.MethodPost, "/alerts/"+alertID+"/investigate", nil)
		if status != http.StatusOK || body["status"] != "investigating" {
			t.Fatalf("investigate failed: %d %v", status, body)
		}

		status, body = do(t, ts, http.MethodPost, "/alerts/"+alertID+"/resolve", map[string]any{
			"summary": "verified with issuing bank, fraud confirmed",
		})
		if status != http.StatusOK || body["status"] != "resolved" {
			t.Fatalf("resolve failed: %d %v", status, body)
		}

		status, body = do(t, ts, http.MethodPost, "/alerts/"+alertID+"/close", map[string]any{
			"notes": "handed off to recovery team",
		})
		if status != http.StatusOK || body["status"] != "closed" {
			t.Fatalf("close failed: %d %v", status, body)
		}
	})

	t.Run("ClosedAlertRejectsTransitions", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/alerts/"+alertID+"/assign", map[string]any{
			"analystId": 42,
		})
		if status != http.StatusConflict {
			t.Errorf("expected 409, got %d", status)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		status, body := do(t, ts, http.MethodGet, "/alerts/stats", nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if closed, _ := body["closed"].(float64); closed != 1 {
			t.Errorf("expected 1 closed alert in stats, got %v", body)
		}
	})

	t.Run("MissingAlertIs404", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodGet, "/alerts/9999", nil)
		if status != http.StatusNotFound {
			t.Errorf("expected 404, got %d", status)
		}
	})
}

func TestCaseAPI(t *testing.T) {
	ts := newTestServer(t)
	alertID := blockedCheck(t, ts)

	var caseID string

	t.Run("Create", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/cases", map[string]any{
			"alertId":     mustInt(t, alertID),
			"title":       "chargeback ring follow-up",
			"description": "subject matched the fraud database",
			"priority":    "high",
		})
		if status != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %v", status, body)
		}
		number, _ := body["caseNumber"].(string)
		if !strings.HasPrefix(number, "CASE-") || !strings.HasSuffix(number, "-001") {
			t.Errorf("unexpected case number %q", number)
		}
		id, _ := body["id"].(float64)
		caseID = fmt.Sprintf("%d", int64(id))
	})

	t.Run("SecondOpenCaseIsConflict", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/cases", map[string]any{
			"alertId": mustInt(t, alertID),
			"title":   "duplicate",
		})
		if status != http.StatusConflict {
			t.Errorf("expected 409, got %d", status)
		}
	})

	t.Run("MissingAlertIs404", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/cases", map[string]any{
			"alertId": 9999,
			"title":   "orphan",
		})
		if status != http.StatusNotFound {
			t.Errorf("expected 404, got %d", status)
		}
	})

	t.Run("ListByAlert", func(t *testing.T) {
		status, body := do(t, ts, http.MethodGet, "/cases?alertId="+alertID, nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if count, _ := body["count"].(float64); count != 1 {
			t.Errorf("expected 1 case, got %v", body["count"])
		}
	})

	t.Run("FollowUps", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/cases/"+caseID+"/follow-ups", map[string]any{
			"author": 42,
			"type":   "note",
			"note":   "requested bank statements from the subject",
		})
		if status != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %v", status, body)
		}

		status, _ = do(t, ts, http.MethodPost, "/cases/"+caseID+"/follow-ups", map[string]any{
			"author": 42,
			"note":   "   ",
		})
		if status != http.StatusBadRequest {
			t.Errorf("expected 400 for blank note, got %d", status)
		}

		status, body = do(t, ts, http.MethodGet, "/cases/"+caseID+"/follow-ups", nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if count, _ := body["count"].(float64); count != 1 {
			t.Errorf("expected 1 follow-up, got %v", body["count"])
		}
	})

	t.Run("CloseRejectsUnknownResolution", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/cases/"+caseID+"/close", map[string]any{
			"resolution": "maybe-fraud",
		})
		if status != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", status)
		}
	})

	t.Run("Close", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/cases/"+caseID+"/close", map[string]any{
			"resolution": "confirmed-fraud",
		})
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d: %v", status, body)
		}
		if body["status"] != "closed" {
			t.Errorf("expected closed case, got %v", body["status"])
		}
		if body["resolution"] != "confirmed-fraud" {
			t.Errorf("expected recorded resolution, got %v", body["resolution"])
		}
	})

	t.Run("ClosedCaseRejectsFollowUps", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/cases/"+caseID+"/follow-ups", map[string]any{
			"author": 42,
			"note":   "late note",
		})
		if status != http.StatusConflict {
			t.Errorf("expected 409, got %d", status)
		}
	})

	t.Run("ReopenAfterClose", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/cases", map[string]any{
			"alertId": mustInt(t, alertID),
			"title":   "reopened after new evidence",
		})
		if status != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %v", status, body)
		}
		number, _ := body["caseNumber"].(string)
		if !strings.HasSuffix(number, "-002") {
			t.Errorf("expected sequence -002, got %q", number)
		}
	})
}

func mustInt(t *testing.T, s string) int64 {
	t.Helper()
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		t.Fatalf("bad integer %q: %v", s, err)
	}
	return n
}
