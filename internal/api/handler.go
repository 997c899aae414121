package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		version: version,
	}
}

// DecideRequest is the request body for POST /decide. Facts are keyed
// by parameter id.
type DecideRequest struct {
	Facts map[string]string `json:"facts"`
}

// Decide handles POST /decide: the raw cascade without mandatory gate
// or enrichment.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Facts) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "facts are required",
		})
		return
	}

	facts := make(domain.Facts, len(req.Facts))
	for key, value := range req.Facts {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "fact keys must be parameter ids, got " + strconv.Quote(key),
			})
			return
		}
		facts[id] = value
	}

	result, err := h.engine.Decide(ctx, tenantID, facts)
	if err != nil {
		slog.Error("decision failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "decision failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DecideEnrichedRequest is the request body for POST /decide/enriched.
// Facts are keyed by parameter name; list-typed parameters arrive as
// <Name>Code / <Name>Name pairs.
type DecideEnrichedRequest struct {
	RequestID string            `json:"requestId,omitempty"`
	Facts     map[string]string `json:"facts"`
}

// DecideEnriched handles POST /decide/enriched: the full pipeline with
// the mandatory gate, external enrichment, and rejection reasons.
func (h *Handler) DecideEnriched(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req DecideEnrichedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Facts) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "facts are required",
		})
		return
	}

	resp, err := h.engine.DecideWithEnrichment(ctx, tenantID, req.Facts, req.RequestID)
	if err != nil {
		slog.Error("enriched decision failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "decision failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
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

// GetEvaluation retrieves an evaluation audit record by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluation id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, tenantID, evalID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get evaluation",
		})
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// ListProducts returns the tenant's configured products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	cfg, err := h.repo.LoadTenantConfig(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load tenant config", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load configuration",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"products": cfg.Products,
		"count":    len(cfg.Products),
	})
}

// ListRules returns the tenant's rule masters and rule versions.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	cfg, err := h.repo.LoadTenantConfig(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load tenant config", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load configuration",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"masters": cfg.RuleMasters,
		"rules":   cfg.Rules,
		"count":   len(cfg.Rules),
	})
}

// ReloadConfig drops the tenant's cached configuration snapshot so the
// next decision reloads from the repository, and announces the reload.
func (h *Handler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if err := h.engine.InvalidateConfig(ctx, tenantID); err != nil {
		slog.Error("failed to invalidate config", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to invalidate configuration",
		})
		return
	}

	if h.bus != nil {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicConfigReloaded, []byte(`{}`)); err != nil {
			slog.Warn("failed to publish config reload event", "tenant_id", tenantID, "error", err)
		}
	}

	slog.Info("configuration snapshot invalidated", "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "configuration reloaded",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
