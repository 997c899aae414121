// Package rules implements the eligibility cascade: condition
// validation, rule matching, and the Rule→Card→ProductCard resolution
// passes.
package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ListStore is the slice of the repository the condition validator
// needs: managed list lookup plus the conditional insert performed on a
// first successful "In List" match.
type ListStore interface {
	GetManagedList(ctx context.Context, tenantID string, name string) (*domain.ManagedList, error)
	GetListItem(ctx context.Context, tenantID string, listID int64, value string) (*domain.ListItem, error)
	InsertListItem(ctx context.Context, tenantID string, item *domain.ListItem) error
}

// Validator evaluates one factor/condition pair against one applicant
// value.
type Validator struct {
	lists ListStore
}

// NewValidator creates a condition validator. lists may be nil when no
// list-membership conditions are configured.
func NewValidator(lists ListStore) *Validator {
	return &Validator{lists: lists}
}

// Validate checks provided against the factor's expected value(s) under
// the given condition. The returned check carries a structured error
// tagged with the owning parameter and factor, consumed later by the
// diagnostics resolver.
func (v *Validator) Validate(ctx context.Context, tenantID string, cond domain.ConditionSymbol, factor *domain.Factor, provided string, dataType domain.DataType) domain.ConditionCheck {
	check := domain.ConditionCheck{
		FactorID:    factor.ID,
		FactorName:  factor.Name,
		ParameterID: factor.ParameterID,
		Condition:   cond,
		Value1:      factor.Value1,
		Value2:      factor.Value2,
		Provided:    provided,
	}

	// Wildcard short-circuits regardless of condition.
	if strings.EqualFold(factor.Value1, domain.WildcardValue) {
		check.Valid = true
		return check
	}

	switch cond {
	case domain.CondEqual:
		check.Valid = strings.EqualFold(provided, factor.Value1)
		if !check.Valid {
			check.Error = fmt.Sprintf("%s: expected %q, got %q", factor.Name, factor.Value1, provided)
		}

	case domain.CondNotEqual:
		check.Valid = !strings.EqualFold(provided, factor.Value1)
		if !check.Valid {
			check.Error = fmt.Sprintf("%s: value %q is not allowed", factor.Name, provided)
		}

	case domain.CondLess, domain.CondGreater, domain.CondLessOrEqual, domain.CondGreaterOrEqual:
		ord, err := compare(provided, factor.Value1, dataType)
		if err != nil {
			check.Error = fmt.Sprintf("%s: %v", factor.Name, err)
			return check
		}
		switch cond {
		case domain.CondLess:
			check.Valid = ord < 0
		case domain.CondGreater:
			check.Valid = ord > 0
		case domain.CondLessOrEqual:
			check.Valid = ord <= 0
		case domain.CondGreaterOrEqual:
			check.Valid = ord >= 0
		}
		if !check.Valid {
			check.Error = fmt.Sprintf("%s: %q is not %s %q", factor.Name, provided, cond, factor.Value1)
		}

	case domain.CondRange:
		lo, err := compare(provided, factor.Value1, dataType)
		if err != nil {
			check.Error = fmt.Sprintf("%s: %v", factor.Name, err)
			return check
		}
		hi, err := compare(provided, factor.Value2, dataType)
		if err != nil {
			check.Error = fmt.Sprintf("%s: %v", factor.Name, err)
			return check
		}
		// Inclusive bounds.
		check.Valid = lo >= 0 && hi <= 0
		if !check.Valid {
			check.Error = fmt.Sprintf("%s: %q is outside [%s, %s]", factor.Name, provided, factor.Value1, factor.Value2)
		}

	case domain.CondInList:
		ok, err := v.inList(ctx, tenantID, factor.Value1, provided, true)
		if err != nil {
			check.Error = fmt.Sprintf("%s: %v", factor.Name, err)
			return check
		}
		check.Valid = ok
		if !ok {
			check.Error = fmt.Sprintf("%s: %q is not in list %q", factor.Name, provided, factor.Value1)
		}

	case domain.CondNotInList:
		ok, err := v.inList(ctx, tenantID, factor.Value1, provided, false)
		if err != nil {
			check.Error = fmt.Sprintf("%s: %v", factor.Name, err)
			return check
		}
		check.Valid = !ok
		if !check.Valid {
			check.Error = fmt.Sprintf("%s: %q is in list %q", factor.Name, provided, factor.Value1)
		}

	default:
		check.Error = fmt.Sprintf("%s: unsupported condition %q", factor.Name, cond)
	}

	return check
}

// inList resolves listName and checks membership of value. When
// autoInsert is set, a miss inserts the value as a new item and counts
// as a match: the applicant's value becomes canonical for the list.
// "Not In List" lookups never insert.
func (v *Validator) inList(ctx context.Context, tenantID, listName, value string, autoInsert bool) (bool, error) {
	if v.lists == nil {
		return false, fmt.Errorf("no list store configured")
	}

	list, err := v.lists.GetManagedList(ctx, tenantID, listName)
	if err != nil {
		return false, fmt.Errorf("list %q: %w", listName, err)
	}

	item, err := v.lists.GetListItem(ctx, tenantID, list.ID, value)
	if err != nil {
		return false, fmt.Errorf("list %q lookup: %w", listName, err)
	}
	if item != nil {
		return true, nil
	}

	if !autoInsert {
		return false, nil
	}

	if err := v.lists.InsertListItem(ctx, tenantID, &domain.ListItem{
		ListID: list.ID,
		Name:   value,
		Code:   value,
	}); err != nil {
		return false, fmt.Errorf("list %q insert: %w", listName, err)
	}
	return true, nil
}

// compare orders a against b per dataType: -1, 0, or 1. Non-parseable
// input is an error, which invalidates the owning check.
func compare(a, b string, dataType domain.DataType) (int, error) {
	switch dataType {
	case domain.DataTypeNumeric:
		av, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", a)
		}
		bv, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
		if err != nil {
			return 0, fmt.Errorf("bound %q is not numeric", b)
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil

	case domain.DataTypeDate:
		av, err := parseDate(a)
		if err != nil {
			return 0, fmt.Errorf("value %q is not a date", a)
		}
		bv, err := parseDate(b)
		if err != nil {
			return 0, fmt.Errorf("bound %q is not a date", b)
		}
		switch {
		case av.Before(bv):
			return -1, nil
		case av.After(bv):
			return 1, nil
		}
		return 0, nil

	default:
		return strings.Compare(strings.ToLower(a), strings.ToLower(b)), nil
	}
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "02/01/2006"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// MatchCondition evaluates a cap-band micro expression against a value:
// numeric range "lo-hi", prefixed comparisons (<=, >=, <, >, =), the
// "All" wildcard, falling back to case-insensitive string equality.
func MatchCondition(expression, value string) bool {
	expression = strings.TrimSpace(expression)
	value = strings.TrimSpace(value)

	if expression == "" || strings.EqualFold(expression, "all") {
		return true
	}

	parseNum := func(s string) (float64, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}

	// Prefixed comparisons. Two-character operators first.
	for _, op := range []string{"<=", ">=", "<", ">", "="} {
		if !strings.HasPrefix(expression, op) {
			continue
		}
		bound, ok := parseNum(expression[len(op):])
		if !ok {
			return false
		}
		v, ok := parseNum(value)
		if !ok {
			return false
		}
		switch op {
		case "<=":
			return v <= bound
		case ">=":
			return v >= bound
		case "<":
			return v < bound
		case ">":
			return v > bound
		default:
			return v == bound
		}
	}

	// Numeric range "lo-hi". The separator is the first '-' past the
	// leading character so a negative lower bound still parses.
	if len(expression) > 1 {
		if idx := strings.Index(expression[1:], "-"); idx >= 0 {
			lo, hi := expression[:idx+1], expression[idx+2:]
			loV, okLo := parseNum(lo)
			hiV, okHi := parseNum(hi)
			if okLo && okHi {
				v, ok := parseNum(value)
				if !ok {
					return false
				}
				return v >= loV && v <= hiV
			}
		}
	}

	return strings.EqualFold(expression, value)
}
