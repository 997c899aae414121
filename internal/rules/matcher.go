package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/expr"
)

// Matcher selects and evaluates the live rules for a fact set.
type Matcher struct {
	validator *Validator
}

// NewMatcher creates a rule matcher backed by the given validator.
func NewMatcher(validator *Validator) *Matcher {
	return &Matcher{validator: validator}
}

// Match evaluates every candidate rule against the facts and returns one
// RuleResult per evaluated rule, keyed by rule id.
//
// Candidates are the live rules (highest version, active master, valid
// window) whose referenced factors all bind to parameters present in the
// fact set; rules over absent parameters are excluded up front, not
// failed. A malformed rule expression degrades the rule to non-matching
// with a diagnostic.
func (m *Matcher) Match(ctx context.Context, cfg *domain.TenantConfig, facts domain.Facts, now time.Time) map[int64]*domain.RuleResult {
	results := make(map[int64]*domain.RuleResult)

	for _, rule := range cfg.LiveRules(now) {
		parsed, err := expr.Parse(rule.Expression)
		if err != nil {
			results[rule.ID] = &domain.RuleResult{
				RuleID:   rule.ID,
				MasterID: rule.MasterID,
				Errors:   []string{fmt.Sprintf("malformed expression: %v", err)},
			}
			continue
		}

		if !m.factsCover(cfg, parsed.Leaves(), facts) {
			// Absent-parameter rules never participate.
			continue
		}

		results[rule.ID] = m.evaluate(ctx, cfg, &rule, parsed, facts)
	}

	return results
}

// factsCover reports whether every factor referenced by the expression
// binds to a parameter present in the fact set.
func (m *Matcher) factsCover(cfg *domain.TenantConfig, factorIDs []int64, facts domain.Facts) bool {
	for _, id := range factorIDs {
		factor := cfg.FactorByID(id)
		if factor == nil {
			// Unknown factor: leave it to evaluation, which degrades
			// the rule with a diagnostic instead of excluding it.
			continue
		}
		if _, ok := facts[factor.ParameterID]; !ok {
			return false
		}
	}
	return true
}

func (m *Matcher) evaluate(ctx context.Context, cfg *domain.TenantConfig, rule *domain.Rule, parsed *expr.Expression, facts domain.Facts) *domain.RuleResult {
	result := &domain.RuleResult{
		RuleID:   rule.ID,
		MasterID: rule.MasterID,
	}

	// Distinct checks by (parameter, condition, value1, value2): the
	// same textual condition appearing in several AND segments is
	// validated once.
	type checkKey struct {
		paramID int64
		cond    domain.ConditionSymbol
		v1, v2  string
	}
	seen := make(map[checkKey]bool)

	resolve := func(factorID int64) (bool, bool) {
		factor := cfg.FactorByID(factorID)
		if factor == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("unknown factor %d", factorID))
			return false, false
		}
		cond := cfg.ConditionByID(factor.ConditionID)
		if cond == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("factor %d: unknown condition %d", factorID, factor.ConditionID))
			return false, false
		}
		param := cfg.ParameterByID(factor.ParameterID)
		if param == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("factor %d: unknown parameter %d", factorID, factor.ParameterID))
			return false, false
		}

		check := m.validator.Validate(ctx, cfg.TenantID, cond.Value, factor, facts[factor.ParameterID], param.DataType)

		key := checkKey{param.ID, cond.Value, factor.Value1, factor.Value2}
		if !seen[key] {
			seen[key] = true
			result.Checks = append(result.Checks, check)
		}
		if check.Error != "" {
			result.Errors = append(result.Errors, check.Error)
		}
		return check.Valid, true
	}

	matched, err := parsed.Eval(resolve)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		matched = false
	}
	result.Matched = matched

	if len(result.Checks) > 0 {
		passed := 0
		for _, c := range result.Checks {
			if c.Valid {
				passed++
			}
		}
		result.EligibilityPercent = float64(passed) / float64(len(result.Checks)) * 100
	}

	return result
}
