package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	store        *rules.Store
	orchestrator *decision.Orchestrator
	alerts       *alerts.Manager
	cases        *cases.Manager
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, store *rules.Store, orchestrator *decision.Orchestrator, alertMgr *alerts.Manager, caseMgr *cases.Manager, version string) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		store:        store,
		orchestrator: orchestrator,
		alerts:       alertMgr,
		cases:        caseMgr,
		version:      version,
	}
}

// CheckResponse is the response for POST /check.
type CheckResponse struct {
	*domain.Decision
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Check handles POST /check requests.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req decision.CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = r.RemoteAddr
	}

	dec, err := h.orchestrator.Decide(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := CheckResponse{Decision: dec}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetFraudLog retrieves one audit record by id.
func (h *Handler) GetFraudLog(w http.ResponseWriter, r *http.Request) {
	log, err := h.repo.GetFraudLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// --- Rules ---

// RuleRequest is the request body for creating or updating a rule.
type RuleRequest struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	ConditionType string        `json:"conditionType"`
	Params        domain.Params `json:"params,omitempty"`
	IsActive      *bool         `json:"isActive,omitempty"`
}

// ListRules returns all rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule retrieves a rule by id.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and stores a rule; it is live for subsequently
// started checks as soon as the call returns.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rule := &domain.Rule{
		Name:          req.Name,
		Description:   req.Description,
		ConditionType: req.ConditionType,
		Params:        req.Params,
		IsActive:      active,
	}

	created, err := h.store.Create(r.Context(), rule)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule created", "id", created.ID, "name", created.Name, "condition_type", created.ConditionType)
	writeJSON(w, http.StatusCreated, created)
}

// UpdateRule replaces a rule's definition.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	existing, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.ConditionType = req.ConditionType
	existing.Params = req.Params
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}

	if err := h.store.Update(r.Context(), existing); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule updated", "id", id, "name", existing.Name)
	writeJSON(w, http.StatusOK, existing)
}

// DeleteRule removes a rule permanently.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "rule deleted"})
}

// ToggleRule activates or deactivates a rule in place.
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		IsActive bool `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.store.Toggle(r.Context(), id, req.IsActive); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule toggled", "id", id, "is_active", req.IsActive)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "isActive": req.IsActive})
}

// --- Blacklist ---

// AddBlacklistEntry records a national id as known-fraudulent.
func (h *Handler) AddBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NationalID string `json:"nationalId"`
		Reason     string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NationalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "nationalId is required",
		})
		return
	}

	if err := h.repo.AddBlacklistEntry(r.Context(), req.NationalID, req.Reason); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("blacklist entry added", "national_id", req.NationalID)
	writeJSON(w, http.StatusCreated, map[string]string{"nationalId": req.NationalID})
}

// --- Alerts ---

// ListAlerts returns alerts, optionally filtered by status and assignee.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := domain.AlertFilter{
		Status: domain.AlertStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("assignedTo"); v != "" {
		filter.AssignedTo, _ = strconv.ParseInt(v, 10, 64)
	}

	list, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// GetAlert retrieves one alert.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	alert, err := h.alerts.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// AlertStats returns the count of alerts per status.
func (h *Handler) AlertStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.alerts.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// AssignAlert handles POST /alerts/{id}/assign.
func (h *Handler) AssignAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		AnalystID int64 `json:"analystId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	alert, err := h.alerts.Assign(r.Context(), id, req.AnalystID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// InvestigateAlert handles POST /alerts/{id}/investigate.
func (h *Handler) InvestigateAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	alert, err := h.alerts.StartInvestigation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// ResolveAlert handles POST /alerts/{id}/resolve.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	alert, err := h.alerts.Resolve(r.Context(), id, req.Summary)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// CloseAlert handles POST /alerts/{id}/close.
func (h *Handler) CloseAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	alert, err := h.alerts.Close(r.Context(), id, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// --- Cases ---

// CreateCase handles POST /cases.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlertID     int64  `json:"alertId"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
		Priority    string `json:"priority,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.cases.Open(r.Context(), req.AlertID, req.Title, req.Description, req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCases returns cases, optionally filtered.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	filter := domain.CaseFilter{
		Status: domain.CaseStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("assignedTo"); v != "" {
		filter.AssignedTo, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("alertId"); v != "" {
		filter.AlertID, _ = strconv.ParseInt(v, 10, 64)
	}

	list, err := h.cases.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": list,
		"count": len(list),
	})
}

// GetCase retrieves one case.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.cases.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AssignCase handles POST /cases/{id}/assign.
func (h *Handler) AssignCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		AnalystID int64 `json:"analystId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.cases.Assign(r.Context(), id, req.AnalystID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// InvestigateCase handles POST /cases/{id}/investigate.
func (h *Handler) InvestigateCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.cases.StartInvestigation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AddFollowUp handles POST /cases/{id}/follow-ups.
func (h *Handler) AddFollowUp(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Author int64  `json:"author"`
		Type   string `json:"type,omitempty"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	f, err := h.cases.AppendFollowUp(r.Context(), id, req.Author, req.Type, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// ListFollowUps handles GET /cases/{id}/follow-ups.
func (h *Handler) ListFollowUps(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	followUps, err := h.cases.FollowUps(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"followUps": followUps,
		"count":     len(followUps),
	})
}

// CloseCase handles POST /cases/{id}/close.
func (h *Handler) CloseCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.cases.Close(r.Context(), id, domain.CaseResolution(req.Resolution))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- Health ---

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// --- helpers ---

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps the domain error taxonomy to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnknownRuleType):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrInvalidAssignment),
		errors.Is(err, domain.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAdapterFailure):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
