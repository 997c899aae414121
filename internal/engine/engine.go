// Package engine orchestrates the full decision pipeline: fact binding,
// enrichment, rule matching, the card cascade, capping, exception
// overrides, diagnostics, and audit.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/eligibility"
	"github.com/opensource-finance/kestrel/internal/enrich"
	"github.com/opensource-finance/kestrel/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("kestrel-engine")

// Generic rejection codes used when a parameter carries no configured
// rejection reason.
const (
	rejectionCodeGeneric = "GEN-001"
	rejectionCodeCapping = "CAP-001"
)

// Engine runs eligibility decisions for a tenant.
type Engine struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	orchestrator *enrich.Orchestrator

	validator  *rules.Validator
	matcher    *rules.Matcher
	exceptions *eligibility.ExceptionEngine

	snapshotTTL time.Duration
	now         func() time.Time

	// rng backs probability-of-default generation. Seeded explicitly so
	// decisions are reproducible under test.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a decision engine. cache, bus, and orchestrator may be
// nil; the engine then loads configuration directly, publishes nothing,
// and skips enrichment.
func New(repo domain.Repository, cache domain.Cache, bus domain.EventBus, orchestrator *enrich.Orchestrator, cfg domain.EngineConfig) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	validator := rules.NewValidator(repo)
	return &Engine{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		orchestrator: orchestrator,
		validator:    validator,
		matcher:      rules.NewMatcher(validator),
		exceptions:   eligibility.NewExceptionEngine(validator),
		snapshotTTL:  ttl,
		now:          time.Now,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// Decide runs the pure cascade, calculator, and exception merge against
// facts keyed by parameter id. No enrichment, no mandatory gate.
func (e *Engine) Decide(ctx context.Context, tenantID string, facts domain.Facts) (*domain.DecisionResult, error) {
	ctx, span := tracer.Start(ctx, "engine.Decide")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	cfg, err := e.loadConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	score := e.scoreFromFacts(cfg, facts)
	products := e.evaluate(ctx, cfg, facts, score)

	return &domain.DecisionResult{Score: score, Products: products}, nil
}

// DecideWithEnrichment runs the full pipeline against facts keyed by
// parameter name. Business failures (missing mandatory parameters,
// malformed list pairs) resolve to a structured response, never an
// error; an error is returned only when configuration cannot be loaded.
func (e *Engine) DecideWithEnrichment(ctx context.Context, tenantID string, named map[string]string, requestID string) (*domain.EnrichedDecision, error) {
	start := e.now()
	ctx, span := tracer.Start(ctx, "engine.DecideWithEnrichment")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	if requestID == "" {
		requestID = uuid.New().String()
	}

	cfg, err := e.loadConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	history := e.openHistory(ctx, tenantID, requestID, named)

	resp := &domain.EnrichedDecision{
		RequestID: requestID,
		Timestamp: start.UTC(),
	}

	// Mandatory-field gate and list-pair validation run before any
	// enrichment or cascade work.
	facts, missing, listErrs := e.bindNamedFacts(ctx, cfg, named)
	if len(missing) > 0 {
		resp.MandatoryParameters = missing
		resp.Message = "missing mandatory parameters"
		e.finish(ctx, cfg, history, resp, domain.OutcomeRejected, resp.Message, start)
		return resp, nil
	}
	if len(listErrs) > 0 {
		resp.Message = strings.Join(listErrs, "; ")
		e.finish(ctx, cfg, history, resp, domain.OutcomeRejected, resp.Message, start)
		return resp, nil
	}

	if e.orchestrator != nil {
		result := e.orchestrator.Enrich(ctx, cfg, requestID, facts)
		if len(result.Errors) > 0 {
			resp.EnrichmentErrors = result.Errors
			slog.Warn("partial enrichment",
				"tenant_id", tenantID,
				"request_id", requestID,
				"failed_apis", len(result.Errors),
			)
		}
	}

	score := e.scoreFromFacts(cfg, facts)
	resp.CustomerScore = score
	resp.ProbabilityOfDefault = e.probabilityOfDefault()

	for _, d := range e.evaluate(ctx, cfg, facts, score) {
		if d.IsEligible {
			resp.EligibleProducts = append(resp.EligibleProducts, d)
			continue
		}
		resp.NonEligibleProducts = append(resp.NonEligibleProducts, domain.NonEligibleProduct{
			ProductCode:      d.ProductCode,
			ProductName:      d.ProductName,
			RejectionReasons: e.rejectionReasons(cfg, &d),
		})
	}

	e.finish(ctx, cfg, history, resp, domain.OutcomeDecided, "", start)
	return resp, nil
}

// InvalidateConfig drops the cached snapshot for a tenant.
func (e *Engine) InvalidateConfig(ctx context.Context, tenantID string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.InvalidateTenantConfig(ctx, tenantID)
}

// evaluate runs matcher, cascade, exceptions, calculator, and
// diagnostics, producing one decision per configured product.
func (e *Engine) evaluate(ctx context.Context, cfg *domain.TenantConfig, facts domain.Facts, score float64) []domain.ProductDecision {
	now := e.now()

	ruleResults := e.matcher.Match(ctx, cfg, facts, now)
	cascade := rules.ResolveCascade(cfg, ruleResults)
	excDecisions := e.exceptions.Evaluate(ctx, cfg, facts, cascade.ValidProducts, score, now)

	valid := make(map[int64]bool, len(cascade.ValidProducts))
	for _, id := range cascade.ValidProducts {
		valid[id] = true
	}

	bands := e.applicantBands(cfg, facts)

	decisions := make([]domain.ProductDecision, 0, len(cfg.Products))
	for i := range cfg.Products {
		product := &cfg.Products[i]
		if valid[product.ID] {
			decisions = append(decisions, eligibility.Calculate(product, cfg.ProductCapAmounts, cfg.ProductCaps, bands, score))
			continue
		}
		decisions = append(decisions, domain.ProductDecision{
			ProductID:          product.ID,
			ProductName:        product.Name,
			ProductCode:        product.Code,
			MaxEligibleAmount:  product.MaxEligibleAmount,
			Message:            strings.Join(rules.Diagnose(cfg, product.ID, ruleResults), "; "),
			FailedParameterIDs: rules.FailedParameters(cfg, product.ID, ruleResults),
		})
	}

	merged := eligibility.Merge(decisions, excDecisions)
	for i := range merged {
		merged[i].ProbabilityOfDefault = e.probabilityOfDefault()
	}
	return merged
}

// bindNamedFacts maps name-keyed input onto parameter ids. List-type
// parameters (those referenced by In List / Not In List factors) must
// arrive as a <Base>Code/<Base>Name pair; the pair is validated for
// completeness and code/name consistency against existing list items,
// and the code becomes the bound fact value.
func (e *Engine) bindNamedFacts(ctx context.Context, cfg *domain.TenantConfig, named map[string]string) (domain.Facts, []string, []string) {
	normalized := make(map[string]string, len(named))
	for k, v := range named {
		normalized[normalizeName(k)] = v
	}

	listNames := e.listParameterNames(cfg)

	facts := make(domain.Facts)
	var missing, listErrs []string

	for i := range cfg.Parameters {
		param := &cfg.Parameters[i]

		listName, isList := listNames[param.ID]
		if !isList {
			v, ok := normalized[normalizeName(param.Name)]
			if !ok || v == "" {
				if param.Mandatory {
					missing = append(missing, param.Name)
				}
				continue
			}
			facts[param.ID] = v
			continue
		}

		pair := domain.ListValue{
			Code: normalized[normalizeName(param.Name+"Code")],
			Name: normalized[normalizeName(param.Name+"Name")],
		}
		if pair.Code == "" && pair.Name == "" {
			if param.Mandatory {
				missing = append(missing, param.Name)
			}
			continue
		}
		if pair.Code == "" || pair.Name == "" {
			listErrs = append(listErrs, param.Name+" requires both "+param.Name+"Code and "+param.Name+"Name")
			continue
		}
		if err := e.checkListPair(ctx, cfg, listName, pair); err != "" {
			listErrs = append(listErrs, param.Name+": "+err)
			continue
		}
		facts[param.ID] = pair.Code
	}

	return facts, missing, listErrs
}

// checkListPair verifies code/name consistency against persisted items.
// An unknown code is acceptable here; membership itself is decided by
// the condition validator during matching.
func (e *Engine) checkListPair(ctx context.Context, cfg *domain.TenantConfig, listName string, pair domain.ListValue) string {
	list, err := e.repo.GetManagedList(ctx, cfg.TenantID, listName)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("managed list lookup failed",
				"tenant_id", cfg.TenantID,
				"list", listName,
				"error", err,
			)
		}
		return ""
	}
	item, err := e.repo.GetListItem(ctx, cfg.TenantID, list.ID, pair.Code)
	if err != nil {
		slog.Error("list item lookup failed",
			"tenant_id", cfg.TenantID,
			"list", listName,
			"code", pair.Code,
			"error", err,
		)
		return ""
	}
	if item == nil {
		return ""
	}
	if !strings.EqualFold(item.Name, pair.Name) {
		return "code " + pair.Code + " does not match name " + pair.Name
	}
	return ""
}

// listParameterNames maps parameter id to the managed list name of its
// first list-membership factor.
func (e *Engine) listParameterNames(cfg *domain.TenantConfig) map[int64]string {
	out := make(map[int64]string)
	for _, f := range cfg.Factors {
		cond := cfg.ConditionByID(f.ConditionID)
		if cond == nil {
			continue
		}
		if cond.Value != domain.CondInList && cond.Value != domain.CondNotInList {
			continue
		}
		if _, ok := out[f.ParameterID]; !ok {
			out[f.ParameterID] = f.Value1
		}
	}
	return out
}

func (e *Engine) applicantBands(cfg *domain.TenantConfig, facts domain.Facts) eligibility.ApplicantBands {
	var bands eligibility.ApplicantBands
	if id, ok := cfg.Binding(domain.BindingAge); ok {
		bands.Age = facts[id]
	}
	if id, ok := cfg.Binding(domain.BindingSalary); ok {
		bands.Salary = facts[id]
	}
	return bands
}

func (e *Engine) scoreFromFacts(cfg *domain.TenantConfig, facts domain.Facts) float64 {
	id, ok := cfg.Binding(domain.BindingScore)
	if !ok {
		return 0
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(facts[id]), 64)
	if err != nil {
		return 0
	}
	return score
}

func (e *Engine) rejectionReasons(cfg *domain.TenantConfig, d *domain.ProductDecision) []domain.RejectionDetail {
	// Capping failures carry their own reason, distinct from cascade ones.
	if d.Message == eligibility.ReasonNoAmountCap || d.Message == eligibility.ReasonNoScoreBand {
		return []domain.RejectionDetail{{Code: rejectionCodeCapping, Description: d.Message}}
	}

	var details []domain.RejectionDetail
	seen := make(map[string]bool)
	for _, paramID := range d.FailedParameterIDs {
		param := cfg.ParameterByID(paramID)
		if param == nil || param.RejectionReasonID == 0 {
			continue
		}
		for _, reason := range cfg.RejectionReasons {
			if reason.ID == param.RejectionReasonID && !seen[reason.Code] {
				seen[reason.Code] = true
				details = append(details, domain.RejectionDetail{Code: reason.Code, Description: reason.Description})
			}
		}
	}

	if len(details) == 0 {
		msg := d.Message
		if msg == "" {
			msg = "not eligible"
		}
		details = []domain.RejectionDetail{{Code: rejectionCodeGeneric, Description: msg}}
	}
	return details
}

func (e *Engine) probabilityOfDefault() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

func (e *Engine) loadConfig(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	if e.cache != nil {
		if cfg, err := e.cache.GetTenantConfig(ctx, tenantID); err == nil && cfg != nil {
			return cfg, nil
		}
	}

	cfg, err := e.repo.LoadTenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.SetTenantConfig(ctx, tenantID, cfg, e.snapshotTTL); err != nil {
			slog.Warn("failed to cache tenant config", "tenant_id", tenantID, "error", err)
		}
	}
	return cfg, nil
}

func (e *Engine) openHistory(ctx context.Context, tenantID, requestID string, named map[string]string) *domain.EvaluationHistory {
	factsJSON, _ := json.Marshal(named)
	history := &domain.EvaluationHistory{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		RequestID: requestID,
		Facts:     string(factsJSON),
		Outcome:   domain.OutcomePending,
		CreatedAt: e.now().UTC(),
	}
	if err := e.repo.SaveEvaluation(ctx, tenantID, history); err != nil {
		slog.Error("failed to open evaluation history",
			"tenant_id", tenantID,
			"request_id", requestID,
			"error", err,
		)
	}
	return history
}

// finish stamps processing time, finalizes the audit record, and
// publishes the completion event.
func (e *Engine) finish(ctx context.Context, cfg *domain.TenantConfig, history *domain.EvaluationHistory, resp *domain.EnrichedDecision, outcome, failureReason string, start time.Time) {
	resp.ProcessingTimeMs = e.now().Sub(start).Milliseconds()

	respJSON, _ := json.Marshal(resp)
	completed := e.now().UTC()
	history.Response = string(respJSON)
	history.Score = resp.CustomerScore
	history.Outcome = outcome
	history.FailureReason = failureReason
	history.CompletedAt = &completed

	if err := e.repo.FinalizeEvaluation(ctx, cfg.TenantID, history); err != nil {
		slog.Error("failed to finalize evaluation history",
			"tenant_id", cfg.TenantID,
			"request_id", resp.RequestID,
			"error", err,
		)
	}

	if e.bus != nil {
		if err := e.bus.Publish(ctx, cfg.TenantID, domain.TopicDecisionCompleted, respJSON); err != nil {
			slog.Warn("failed to publish decision event",
				"tenant_id", cfg.TenantID,
				"request_id", resp.RequestID,
				"error", err,
			)
		}
	}
}

// normalizeName lowercases and strips non-alphanumerics for tolerant
// parameter-name matching on the named entry point.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
