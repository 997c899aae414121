package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/expr"
)

// CascadeResult is the output of the two resolution passes.
type CascadeResult struct {
	Cards        map[int64]*domain.CardResult
	ProductCards map[int64]*domain.ProductCardResult

	// ValidProducts is the distinct product ids of passing product cards.
	ValidProducts []int64
}

// ResolveCascade runs the Rule→Card pass and then the structurally
// identical Card→ProductCard pass. Each tier substitutes child-tier ids
// with boolean outcomes: an id absent from the child results resolves to
// false, and a malformed expression degrades the entity to non-matching
// with the reason recorded, never an error.
func ResolveCascade(cfg *domain.TenantConfig, ruleResults map[int64]*domain.RuleResult) *CascadeResult {
	out := &CascadeResult{
		Cards:        make(map[int64]*domain.CardResult, len(cfg.Cards)),
		ProductCards: make(map[int64]*domain.ProductCardResult, len(cfg.ProductCards)),
	}

	ruleOutcome := func(id int64) (bool, bool) {
		if r, ok := ruleResults[id]; ok {
			return r.Matched, true
		}
		return false, true
	}

	for _, card := range cfg.Cards {
		result := &domain.CardResult{CardID: card.ID}
		valid, err := expr.Evaluate(card.Expression, ruleOutcome)
		if err != nil {
			result.Degraded = fmt.Sprintf("card %d: %v", card.ID, err)
		}
		result.Valid = valid
		out.Cards[card.ID] = result
	}

	cardOutcome := func(id int64) (bool, bool) {
		if c, ok := out.Cards[id]; ok {
			return c.Valid, true
		}
		return false, true
	}

	seenProduct := make(map[int64]bool)
	for _, pc := range cfg.ProductCards {
		result := &domain.ProductCardResult{ProductCardID: pc.ID, ProductID: pc.ProductID}
		valid, err := expr.Evaluate(pc.Expression, cardOutcome)
		if err != nil {
			result.Degraded = fmt.Sprintf("product card %d: %v", pc.ID, err)
		}
		result.Valid = valid
		out.ProductCards[pc.ID] = result

		if valid && !seenProduct[pc.ProductID] {
			seenProduct[pc.ProductID] = true
			out.ValidProducts = append(out.ValidProducts, pc.ProductID)
		}
	}

	return out
}
