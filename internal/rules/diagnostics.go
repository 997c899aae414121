package rules

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/expr"
)

// NoRuleMatch is the sentinel diagnostic for a product whose cascade
// references a rule that was never evaluated (its required facts were
// absent or no live version exists). When present it dominates every
// other message for the product.
const NoRuleMatch = "no matching rule"

// Diagnose reconstructs why a product failed the cascade: walk its
// product card down to cards, then rules, and gather each referenced
// rule's validation errors. Returns the distinct messages in first
// appearance order.
func Diagnose(cfg *domain.TenantConfig, productID int64, ruleResults map[int64]*domain.RuleResult) []string {
	var pcard *domain.ProductCard
	for i := range cfg.ProductCards {
		if cfg.ProductCards[i].ProductID == productID {
			pcard = &cfg.ProductCards[i]
			break
		}
	}
	if pcard == nil {
		return []string{"no product card configured for product"}
	}

	cardIDs, malformed := referencedIDs(pcard.Expression)
	var messages []string
	if malformed != "" {
		messages = append(messages, malformed)
	}

	sawSentinel := false
	for _, cardID := range cardIDs {
		card := cardByID(cfg, cardID)
		if card == nil {
			sawSentinel = true
			continue
		}
		ruleIDs, cardMalformed := referencedIDs(card.Expression)
		if cardMalformed != "" {
			messages = append(messages, cardMalformed)
		}
		for _, ruleID := range ruleIDs {
			result, ok := ruleResults[ruleID]
			if !ok {
				sawSentinel = true
				continue
			}
			messages = append(messages, result.Errors...)
		}
	}

	// The sentinel alone is surfaced when any referenced rule never
	// produced a result.
	if sawSentinel {
		return []string{NoRuleMatch}
	}

	return distinct(messages)
}

// FailedParameters returns the distinct parameter ids whose checks
// failed anywhere in the product's cascade, for rejection-reason
// mapping.
func FailedParameters(cfg *domain.TenantConfig, productID int64, ruleResults map[int64]*domain.RuleResult) []int64 {
	var pcard *domain.ProductCard
	for i := range cfg.ProductCards {
		if cfg.ProductCards[i].ProductID == productID {
			pcard = &cfg.ProductCards[i]
			break
		}
	}
	if pcard == nil {
		return nil
	}

	seen := make(map[int64]bool)
	var out []int64

	cardIDs, _ := referencedIDs(pcard.Expression)
	for _, cardID := range cardIDs {
		card := cardByID(cfg, cardID)
		if card == nil {
			continue
		}
		ruleIDs, _ := referencedIDs(card.Expression)
		for _, ruleID := range ruleIDs {
			result, ok := ruleResults[ruleID]
			if !ok {
				continue
			}
			for _, check := range result.Checks {
				if check.Valid || seen[check.ParameterID] {
					continue
				}
				seen[check.ParameterID] = true
				out = append(out, check.ParameterID)
			}
		}
	}
	return out
}

func referencedIDs(expression string) ([]int64, string) {
	parsed, err := expr.Parse(expression)
	if err != nil {
		return nil, "malformed expression: " + err.Error()
	}
	return parsed.Leaves(), ""
}

func cardByID(cfg *domain.TenantConfig, id int64) *domain.Card {
	for i := range cfg.Cards {
		if cfg.Cards[i].ID == id {
			return &cfg.Cards[i]
		}
	}
	return nil
}

func distinct(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
