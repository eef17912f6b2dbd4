package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/callguard-ai/callguard/internal/analysis"
	"github.com/callguard-ai/callguard/internal/domain"
	"github.com/callguard-ai/callguard/internal/repository"
	"github.com/callguard-ai/callguard/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	service *analysis.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, service *analysis.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  engine,
		service: service,
		version: version,
	}
}

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	Transcript   string             `json:"transcript,omitempty"`
	Acoustic     map[string]float64 `json:"acousticFeatures,omitempty"`
	Linguistic   map[string]float64 `json:"linguisticFeatures,omitempty"`
	Language     string             `json:"language,omitempty"`
	CallerNumber string             `json:"callerNumber,omitempty"`
	Duration     float64            `json:"durationSeconds,omitempty"`
}

// AnalyzeResponse is the response for the analysis endpoints.
type AnalyzeResponse struct {
	AnalysisID string                `json:"analysisId"`
	CallID     string                `json:"callId"`
	Result     domain.AnalysisResult `json:"result"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Analyze handles POST /analyze requests: full call analysis from a
// transcript, acoustic features, or both.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	h.runAnalysis(w, r, h.service.AnalyzeCall)
}

// AnalyzeText handles POST /analyze/text: text-only analysis. Acoustic
// features in the body are ignored so the endpoint stays deterministic
// over the transcript alone.
func (h *Handler) AnalyzeText(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Transcript == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transcript is required",
		})
		return
	}

	result, err := h.service.AnalyzeCall(ctx, tenantID, &analysis.Request{
		Transcript:      req.Transcript,
		Linguistic:      req.Linguistic,
		LanguageHint:    req.Language,
		CallerNumber:    req.CallerNumber,
		DurationSeconds: req.Duration,
	})
	if err != nil {
		h.writeAnalysisError(w, err)
		return
	}

	h.writeAnalysis(w, ctx, result, start)
}

// AnalyzeAsync handles POST /analyze/async: the call is queued on the
// event bus and a worker runs the pipeline. The response carries the
// trace ID so the caller can correlate the completed-analysis event.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "async ingestion requires an event bus",
		})
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Transcript == "" && len(req.Acoustic) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transcript or acousticFeatures is required",
		})
		return
	}

	msg := domain.CallMessage{
		TenantID:     tenantID,
		TraceID:      GetTraceID(ctx),
		Transcript:   req.Transcript,
		Acoustic:     req.Acoustic,
		Linguistic:   req.Linguistic,
		Language:     req.Language,
		CallerNumber: req.CallerNumber,
		Duration:     req.Duration,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal call message", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue call",
		})
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicCallIngested, payload); err != nil {
		slog.Error("failed to publish ingested call", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue call",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"traceId": msg.TraceID,
	})
}

// DetectVoice handles POST /voice/detect: AI-voice classification from
// acoustic features.
func (h *Handler) DetectVoice(w http.ResponseWriter, r *http.Request) {
	h.runAnalysis(w, r, h.service.DetectVoice)
}

func (h *Handler) runAnalysis(w http.ResponseWriter, r *http.Request,
	run func(ctx context.Context, tenantID string, req *analysis.Request) (*domain.Analysis, error)) {

	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := run(ctx, tenantID, &analysis.Request{
		Transcript:      req.Transcript,
		Acoustic:        req.Acoustic,
		Linguistic:      req.Linguistic,
		LanguageHint:    req.Language,
		CallerNumber:    req.CallerNumber,
		DurationSeconds: req.Duration,
	})
	if err != nil {
		h.writeAnalysisError(w, err)
		return
	}

	h.writeAnalysis(w, ctx, result, start)
}

func (h *Handler) writeAnalysis(w http.ResponseWriter, ctx context.Context, a *domain.Analysis, start time.Time) {
	resp := AnalyzeResponse{
		AnalysisID: a.ID,
		CallID:     a.CallID,
		Result:     a.Result,
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// writeAnalysisError maps pipeline errors to HTTP status codes.
// Invalid input and unsupported languages are client errors; an
// unavailable collaborator means the request cannot be served here.
func (h *Handler) writeAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedLanguage):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrCollaboratorUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		slog.Error("analysis failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "analysis failed"})
	}
}

// GetAnalysis retrieves an analysis by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")

	if analysisID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id is required",
		})
		return
	}

	a, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get analysis", "id", analysisID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// GetCall retrieves a call record by ID.
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	callID := chi.URLParam(r, "id")

	if callID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "call id is required",
		})
		return
	}

	call, err := h.repo.GetCall(ctx, tenantID, callID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get call", "id", callID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "call not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, call)
}

// ListRules returns all rules currently loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Pattern     string              `json:"pattern"`
	Category    domain.RuleCategory `json:"category"`
	Label       domain.RiskCategory `json:"label"`
	Severity    domain.Severity     `json:"severity"`
	ScoreImpact int                 `json:"scoreImpact"`
	Language    string              `json:"language,omitempty"`
	Active      bool                `json:"isActive"`
}

// CreateRule validates and persists a detection rule. A malformed
// pattern or expression is rejected here, before it can reach the
// engine. Call POST /rules/reload to apply the new rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Name == "" || req.Pattern == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and pattern are required",
		})
		return
	}

	rule := &domain.DetectionRule{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Pattern:     req.Pattern,
		Category:    req.Category,
		Label:       req.Label,
		Severity:    req.Severity,
		ScoreImpact: req.ScoreImpact,
		Language:    req.Language,
		Active:      req.Active,
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// UpdateRule replaces an existing rule. The rule ID comes from the
// URL; an ID in the body is ignored. Like CreateRule, changes take
// effect on the next reload.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if _, err := h.repo.GetRule(ctx, tenantID, ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to load rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rule",
		})
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Name == "" || req.Pattern == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and pattern are required",
		})
		return
	}

	rule := &domain.DetectionRule{
		ID:          ruleID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Pattern:     req.Pattern,
		Category:    req.Category,
		Label:       req.Label,
		Severity:    req.Severity,
		ScoreImpact: req.ScoreImpact,
		Language:    req.Language,
		Active:      req.Active,
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule updated", "id", rule.ID, "name", rule.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rule":    rule,
		"message": "Rule updated. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule soft-deletes a rule and reloads the engine so the rule
// stops firing immediately.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if err := h.repo.DeleteRule(ctx, tenantID, ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to delete rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete rule",
		})
		return
	}

	count, err := h.service.ReloadRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to reload rules after delete", "error", err)
	}

	slog.Info("rule deleted", "id", ruleID, "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rule deleted and engine reloaded.",
		"count":   count,
	})
}

// ReloadRules reloads all active rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	count, err := h.service.ReloadRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

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

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
