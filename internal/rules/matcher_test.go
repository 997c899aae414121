package rules

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testConfig() *domain.TenantConfig {
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now().Add(24 * time.Hour)

	return &domain.TenantConfig{
		TenantID: "t1",
		Parameters: []domain.Parameter{
			{ID: 1, Name: "Age", DataType: domain.DataTypeNumeric},
			{ID: 2, Name: "Salary", DataType: domain.DataTypeNumeric},
		},
		Conditions: []domain.Condition{
			{ID: 1, Value: domain.CondRange},
			{ID: 2, Value: domain.CondGreaterOrEqual},
		},
		Factors: []domain.Factor{
			{ID: 101, Name: "AgeRange", ParameterID: 1, ConditionID: 1, Value1: "18", Value2: "65"},
			{ID: 102, Name: "MinSalary", ParameterID: 2, ConditionID: 2, Value1: "3000"},
		},
		RuleMasters: []domain.RuleMaster{
			{ID: 1, Name: "AgeRule", Active: true},
			{ID: 2, Name: "IncomeRule", Active: true},
		},
		Rules: []domain.Rule{
			{ID: 11, MasterID: 1, Version: 1, Expression: "101", ValidFrom: from, ValidTo: to},
			{ID: 12, MasterID: 2, Version: 1, Expression: "101 AND 102", ValidFrom: from, ValidTo: to},
		},
	}
}

func TestMatchPassAndFail(t *testing.T) {
	cfg := testConfig()
	m := NewMatcher(NewValidator(nil))

	results := m.Match(context.Background(), cfg, domain.Facts{1: "30", 2: "5000"}, time.Now())

	if r := results[11]; r == nil || !r.Matched {
		t.Error("rule 11 (age in range) must match")
	}
	if r := results[12]; r == nil || !r.Matched {
		t.Error("rule 12 (age and salary) must match")
	}

	results = m.Match(context.Background(), cfg, domain.Facts{1: "70", 2: "5000"}, time.Now())
	if r := results[11]; r == nil || r.Matched {
		t.Error("rule 11 must fail for age 70")
	}
	if r := results[11]; r != nil && len(r.Errors) == 0 {
		t.Error("failed rule must carry validation errors")
	}
}

func TestMatchExcludesAbsentParameterRules(t *testing.T) {
	cfg := testConfig()
	m := NewMatcher(NewValidator(nil))

	// Salary fact absent: rule 12 is excluded, not failed.
	results := m.Match(context.Background(), cfg, domain.Facts{1: "30"}, time.Now())

	if _, ok := results[12]; ok {
		t.Error("rule over absent parameter must be excluded up front")
	}
	if r := results[11]; r == nil || !r.Matched {
		t.Error("rule 11 must still be evaluated")
	}
}

func TestMatchSelectsHighestLiveVersion(t *testing.T) {
	cfg := testConfig()
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now().Add(24 * time.Hour)

	// A newer version of master 1 flips the expression to the salary factor.
	cfg.Rules = append(cfg.Rules, domain.Rule{
		ID: 13, MasterID: 1, Version: 2, Expression: "102", ValidFrom: from, ValidTo: to,
	})
	// An expired version 3 must not win.
	cfg.Rules = append(cfg.Rules, domain.Rule{
		ID: 14, MasterID: 1, Version: 3, Expression: "101",
		ValidFrom: from.Add(-48 * time.Hour), ValidTo: from,
	})

	m := NewMatcher(NewValidator(nil))
	results := m.Match(context.Background(), cfg, domain.Facts{1: "30", 2: "5000"}, time.Now())

	if _, ok := results[11]; ok {
		t.Error("superseded version must not be evaluated")
	}
	if _, ok := results[14]; ok {
		t.Error("expired version must not be evaluated")
	}
	if r := results[13]; r == nil || !r.Matched {
		t.Error("highest live version must be evaluated")
	}
}

func TestMatchSkipsInactiveMaster(t *testing.T) {
	cfg := testConfig()
	cfg.RuleMasters[0].Active = false

	m := NewMatcher(NewValidator(nil))
	results := m.Match(context.Background(), cfg, domain.Facts{1: "30", 2: "5000"}, time.Now())

	if _, ok := results[11]; ok {
		t.Error("rule under inactive master must not participate")
	}
}

func TestMatchMalformedExpressionDegrades(t *testing.T) {
	cfg := testConfig()
	cfg.Rules[0].Expression = "(101 AND"

	m := NewMatcher(NewValidator(nil))
	results := m.Match(context.Background(), cfg, domain.Facts{1: "30", 2: "5000"}, time.Now())

	r := results[11]
	if r == nil {
		t.Fatal("malformed rule must still produce a result")
	}
	if r.Matched {
		t.Error("malformed rule must be non-matching")
	}
	if len(r.Errors) == 0 {
		t.Error("malformed rule must carry a diagnostic")
	}
}

func TestMatchEligibilityPercent(t *testing.T) {
	cfg := testConfig()
	m := NewMatcher(NewValidator(nil))

	// Age passes, salary fails: 1 of 2 distinct conditions.
	results := m.Match(context.Background(), cfg, domain.Facts{1: "30", 2: "1000"}, time.Now())

	r := results[12]
	if r == nil {
		t.Fatal("rule 12 must be evaluated")
	}
	if r.Matched {
		t.Error("rule 12 must fail on salary")
	}
	if r.EligibilityPercent != 50 {
		t.Errorf("expected 50%% eligibility, got %.1f", r.EligibilityPercent)
	}
}

func TestMatchDeduplicatesConditions(t *testing.T) {
	cfg := testConfig()
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now().Add(24 * time.Hour)

	// Factor 103 duplicates factor 101's (parameter, condition, values).
	cfg.Factors = append(cfg.Factors, domain.Factor{
		ID: 103, Name: "AgeRangeCopy", ParameterID: 1, ConditionID: 1, Value1: "18", Value2: "65",
	})
	cfg.RuleMasters = append(cfg.RuleMasters, domain.RuleMaster{ID: 3, Name: "Dup", Active: true})
	cfg.Rules = append(cfg.Rules, domain.Rule{
		ID: 15, MasterID: 3, Version: 1, Expression: "101 AND 103", ValidFrom: from, ValidTo: to,
	})

	m := NewMatcher(NewValidator(nil))
	results := m.Match(context.Background(), cfg, domain.Facts{1: "30", 2: "5000"}, time.Now())

	r := results[15]
	if r == nil {
		t.Fatal("rule 15 must be evaluated")
	}
	if len(r.Checks) != 1 {
		t.Errorf("duplicate conditions must be deduplicated: got %d checks", len(r.Checks))
	}
	if !r.Matched {
		t.Error("rule 15 must match")
	}
}
