// Package eligibility computes eligible amounts for products that
// survive the cascade, and applies exception overrides outside it.
package eligibility

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/shopspring/decimal"
)

// Ineligibility reasons produced by the calculator.
const (
	ReasonNoAmountCap = "no matching amount cap"
	ReasonNoScoreBand = "no matching score band"
)

// ApplicantBands are the applicant attributes amount-cap rows band on,
// resolved through parameter bindings before calculation.
type ApplicantBands struct {
	Age    string
	Salary string
}

// Calculate resolves the eligible amount for one product:
// an absolute cap from the first matching ProductCapAmount row (stored
// order), a percentage from the first score band containing the score
// (inclusive bounds), and the final amount pct/100 × cap. Either
// resolution failing marks the product ineligible with a specific
// reason.
func Calculate(product *domain.Product, capAmounts []domain.ProductCapAmount, caps []domain.ProductCap, bands ApplicantBands, score float64) domain.ProductDecision {
	decision := domain.ProductDecision{
		ProductID:         product.ID,
		ProductName:       product.Name,
		ProductCode:       product.Code,
		MaxEligibleAmount: product.MaxEligibleAmount,
	}

	capAmount, ok := resolveAmountCap(product.ID, capAmounts, bands)
	if !ok {
		decision.Message = ReasonNoAmountCap
		return decision
	}

	pct, ok := ResolveScoreBand(product.ID, caps, score)
	if !ok {
		decision.Message = ReasonNoScoreBand
		return decision
	}

	decision.EligibilityPercent = pct
	decision.EligibleAmount = capAmount.Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	decision.IsEligible = true
	return decision
}

func resolveAmountCap(productID int64, rows []domain.ProductCapAmount, bands ApplicantBands) (decimal.Decimal, bool) {
	for _, row := range rows {
		if row.ProductID != productID {
			continue
		}
		if rules.MatchCondition(row.AgeExpression, bands.Age) && rules.MatchCondition(row.SalaryExpression, bands.Salary) {
			return row.Amount, true
		}
	}
	return decimal.Zero, false
}

// ResolveScoreBand returns the percentage of the first band whose
// inclusive [MinScore, MaxScore] range contains score.
func ResolveScoreBand(productID int64, caps []domain.ProductCap, score float64) (float64, bool) {
	for _, band := range caps {
		if band.ProductID != productID {
			continue
		}
		if score >= band.MinScore && score <= band.MaxScore {
			return band.Percentage, true
		}
	}
	return 0, false
}
