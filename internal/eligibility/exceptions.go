package eligibility

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/expr"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/shopspring/decimal"
)

// ExceptionEngine evaluates standalone override rules outside the
// cascade. Exception leaves are factor ids with the same validation
// semantics as rule matching.
type ExceptionEngine struct {
	validator *rules.Validator
}

// NewExceptionEngine creates an exception engine sharing the cascade's
// condition validator.
func NewExceptionEngine(validator *rules.Validator) *ExceptionEngine {
	return &ExceptionEngine{validator: validator}
}

// Evaluate runs every active, in-window exception against the facts and
// returns one decision per target product, tagged as exception-sourced.
// Product Eligibility scope pulls the exception's explicit product
// associations; other scopes apply to the cascade's own valid set.
func (e *ExceptionEngine) Evaluate(ctx context.Context, cfg *domain.TenantConfig, facts domain.Facts, cascadeValid []int64, score float64, now time.Time) []domain.ProductDecision {
	var out []domain.ProductDecision

	for i := range cfg.Exceptions {
		exc := &cfg.Exceptions[i]
		if !exc.Active || !exc.InWindow(now) {
			continue
		}

		passed, err := expr.Evaluate(exc.Expression, e.factorResolver(ctx, cfg, facts))
		if err != nil || !passed {
			// A malformed exception expression degrades to non-matching,
			// same policy as the cascade tiers.
			continue
		}

		for _, productID := range e.targetProducts(cfg, exc, cascadeValid) {
			product := cfg.ProductByID(productID)
			if product == nil {
				continue
			}
			out = append(out, e.apply(cfg, exc, product, score))
		}
	}

	return out
}

func (e *ExceptionEngine) factorResolver(ctx context.Context, cfg *domain.TenantConfig, facts domain.Facts) expr.LeafResolver {
	return func(factorID int64) (bool, bool) {
		factor := cfg.FactorByID(factorID)
		if factor == nil {
			return false, false
		}
		cond := cfg.ConditionByID(factor.ConditionID)
		param := cfg.ParameterByID(factor.ParameterID)
		if cond == nil || param == nil {
			return false, false
		}
		provided, ok := facts[factor.ParameterID]
		if !ok {
			return false, false
		}
		check := e.validator.Validate(ctx, cfg.TenantID, cond.Value, factor, provided, param.DataType)
		return check.Valid, true
	}
}

func (e *ExceptionEngine) targetProducts(cfg *domain.TenantConfig, exc *domain.Exception, cascadeValid []int64) []int64 {
	if exc.Scope == domain.ScopeProductEligibility {
		var ids []int64
		for _, assoc := range cfg.ExceptionProducts {
			if assoc.ExceptionID == exc.ID {
				ids = append(ids, assoc.ProductID)
			}
		}
		return ids
	}
	return cascadeValid
}

// apply computes the exception-sourced decision for one product. The
// base percentage is the product's score-band cap (100 when no band is
// configured); Limit Amount scope overrides it with the fixed
// percentage or adds the variation to it.
func (e *ExceptionEngine) apply(cfg *domain.TenantConfig, exc *domain.Exception, product *domain.Product, score float64) domain.ProductDecision {
	pct, ok := ResolveScoreBand(product.ID, cfg.ProductCaps, score)
	if !ok {
		pct = 100
	}

	if exc.Scope == domain.ScopeLimitAmount {
		if exc.FixedPercentage != nil {
			pct = *exc.FixedPercentage
		} else if exc.PercentageVariation != nil {
			pct += *exc.PercentageVariation
		}
	}

	amount := product.MaxEligibleAmount.Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))

	return domain.ProductDecision{
		ProductID:              product.ID,
		ProductName:            product.Name,
		ProductCode:            product.Code,
		MaxEligibleAmount:      product.MaxEligibleAmount,
		EligibleAmount:         amount,
		EligibilityPercent:     pct,
		IsEligible:             true,
		IsProcessedByException: true,
	}
}

// Merge combines exception-sourced decisions over cascade-sourced ones.
// For the same product id the exception decision takes precedence.
func Merge(cascade, exceptions []domain.ProductDecision) []domain.ProductDecision {
	byProduct := make(map[int64]int, len(cascade))
	out := make([]domain.ProductDecision, len(cascade))
	copy(out, cascade)
	for i, d := range out {
		byProduct[d.ProductID] = i
	}

	for _, d := range exceptions {
		if i, ok := byProduct[d.ProductID]; ok {
			out[i] = d
			continue
		}
		byProduct[d.ProductID] = len(out)
		out = append(out, d)
	}

	return out
}
