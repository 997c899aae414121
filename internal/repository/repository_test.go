package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo.(*SQLRepository)
}

func seedConfig(t *testing.T, repo *SQLRepository, tenantID string) {
	t.Helper()

	from := time.Now().Add(-time.Hour).UTC()
	to := time.Now().Add(time.Hour).UTC()

	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO conditions (id, value) VALUES (?, ?)`, []any{1, "Range"}},
		{`INSERT INTO parameters (id, tenant_id, name, data_type, mandatory, rejection_reason_id) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{1, tenantID, "Age", "numeric", 1, 7}},
		{`INSERT INTO factors (id, tenant_id, name, parameter_id, condition_id, value1, value2) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{1, tenantID, "AgeRange", 1, 1, "18", "65"}},
		{`INSERT INTO rule_masters (id, tenant_id, name, active) VALUES (?, ?, ?, ?)`,
			[]any{1, tenantID, "AgeRule", 1}},
		{`INSERT INTO rules (id, tenant_id, master_id, version, expression, valid_from, valid_to) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{1, tenantID, 1, 1, "1", from, to}},
		{`INSERT INTO cards (id, tenant_id, expression) VALUES (?, ?, ?)`,
			[]any{1, tenantID, "1"}},
		{`INSERT INTO product_cards (id, tenant_id, expression, product_id) VALUES (?, ?, ?, ?)`,
			[]any{1, tenantID, "1", 100}},
		{`INSERT INTO products (id, tenant_id, name, code, category_id, max_eligible_amount) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{100, tenantID, "Personal Loan", "PL", 0, "10000"}},
		{`INSERT INTO product_caps (tenant_id, product_id, min_score, max_score, percentage) VALUES (?, ?, ?, ?, ?)`,
			[]any{tenantID, 100, 0.0, 100.0, 50.0}},
		{`INSERT INTO product_cap_amounts (tenant_id, product_id, position, age_expression, salary_expression, amount) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{tenantID, 100, 0, "All", "All", "10000"}},
		{`INSERT INTO parameter_bindings (tenant_id, system_name, parameter_id) VALUES (?, ?, ?)`,
			[]any{tenantID, "age", 1}},
		{`INSERT INTO rejection_reasons (id, tenant_id, code, description) VALUES (?, ?, ?, ?)`,
			[]any{7, tenantID, "AGE-001", "Applicant age outside the eligible range"}},
		{`INSERT INTO external_apis (id, tenant_id, name, url, method, headers, call_order, active) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{1, tenantID, "bureau", "http://bureau.local/score", "POST", `{"X-Api-Key":"k"}`, 1, 1}},
		{`INSERT INTO api_parameters (id, tenant_id, api_id, name, direction, parameter_id, default_value) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{1, tenantID, 1, "nationalId", "input", 1, ""}},
	}

	for _, s := range stmts {
		if _, err := repo.db.Exec(s.query, s.args...); err != nil {
			t.Fatalf("seed failed: %v\n%s", err, s.query)
		}
	}
}

func TestLoadTenantConfig(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedConfig(t, repo, "tenant-001")

	cfg, err := repo.LoadTenantConfig(ctx, "tenant-001")
	if err != nil {
		t.Fatalf("LoadTenantConfig failed: %v", err)
	}

	if len(cfg.Parameters) != 1 || cfg.Parameters[0].Name != "Age" {
		t.Errorf("unexpected parameters: %+v", cfg.Parameters)
	}
	if !cfg.Parameters[0].Mandatory {
		t.Error("expected Age to be mandatory")
	}
	if len(cfg.Conditions) != 1 || cfg.Conditions[0].Value != domain.CondRange {
		t.Errorf("unexpected conditions: %+v", cfg.Conditions)
	}
	if len(cfg.Factors) != 1 || cfg.Factors[0].Value2 != "65" {
		t.Errorf("unexpected factors: %+v", cfg.Factors)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Expression != "1" {
		t.Errorf("unexpected rules: %+v", cfg.Rules)
	}
	if len(cfg.Products) != 1 || !cfg.Products[0].MaxEligibleAmount.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("unexpected products: %+v", cfg.Products)
	}
	if len(cfg.ProductCaps) != 1 || cfg.ProductCaps[0].Percentage != 50 {
		t.Errorf("unexpected caps: %+v", cfg.ProductCaps)
	}
	if len(cfg.ProductCapAmounts) != 1 || cfg.ProductCapAmounts[0].AgeExpression != "All" {
		t.Errorf("unexpected cap amounts: %+v", cfg.ProductCapAmounts)
	}
	if id, ok := cfg.Binding(domain.BindingAge); !ok || id != 1 {
		t.Errorf("expected age binding to parameter 1, got %d (%v)", id, ok)
	}
	if len(cfg.ExternalAPIs) != 1 || cfg.ExternalAPIs[0].Headers["X-Api-Key"] != "k" {
		t.Errorf("unexpected external apis: %+v", cfg.ExternalAPIs)
	}
	if len(cfg.APIParameters) != 1 || cfg.APIParameters[0].ParameterID == nil {
		t.Errorf("unexpected api parameters: %+v", cfg.APIParameters)
	}
}

func TestLoadTenantConfigIsolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedConfig(t, repo, "tenant-001")

	cfg, err := repo.LoadTenantConfig(ctx, "tenant-002")
	if err != nil {
		t.Fatalf("LoadTenantConfig failed: %v", err)
	}
	if len(cfg.Parameters) != 0 || len(cfg.Products) != 0 {
		t.Errorf("tenant-002 must not see tenant-001 config: %+v", cfg)
	}
}

func TestLoadTenantConfigCorruptAPIHeaders(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.db.Exec(
		`INSERT INTO external_apis (id, tenant_id, name, url, method, headers, call_order, active) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		1, "tenant-001", "broken", "http://broken.local", "GET", `{not json`, 1, 1,
	); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, err := repo.LoadTenantConfig(ctx, "tenant-001")
	if err == nil {
		t.Fatal("expected a corrupt headers blob to fail the config load")
	}
	if !strings.Contains(err.Error(), "headers") {
		t.Errorf("expected a headers error, got %v", err)
	}
}

func TestManagedLists(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	if _, err := repo.db.Exec(
		`INSERT INTO managed_lists (id, tenant_id, name) VALUES (1, ?, 'Nationalities')`, tenantID,
	); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	t.Run("GetManagedList", func(t *testing.T) {
		list, err := repo.GetManagedList(ctx, tenantID, "Nationalities")
		if err != nil {
			t.Fatalf("GetManagedList failed: %v", err)
		}
		if list.ID != 1 {
			t.Errorf("expected list id 1, got %d", list.ID)
		}

		if _, err := repo.GetManagedList(ctx, tenantID, "Unknown"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InsertAndGetItem", func(t *testing.T) {
		err := repo.InsertListItem(ctx, tenantID, &domain.ListItem{ListID: 1, Name: "Egyptian", Code: "EG"})
		if err != nil {
			t.Fatalf("InsertListItem failed: %v", err)
		}

		// Lookup matches either name or code, case-insensitively.
		for _, value := range []string{"Egyptian", "egyptian", "EG", "eg"} {
			item, err := repo.GetListItem(ctx, tenantID, 1, value)
			if err != nil {
				t.Fatalf("GetListItem(%q) failed: %v", value, err)
			}
			if item == nil || item.Code != "EG" {
				t.Errorf("GetListItem(%q) = %+v", value, item)
			}
		}

		item, err := repo.GetListItem(ctx, tenantID, 1, "Martian")
		if err != nil {
			t.Fatalf("GetListItem failed: %v", err)
		}
		if item != nil {
			t.Errorf("expected nil for absent item, got %+v", item)
		}
	})

	t.Run("ListItems", func(t *testing.T) {
		if err := repo.InsertListItem(ctx, tenantID, &domain.ListItem{ListID: 1, Name: "Saudi", Code: "SA"}); err != nil {
			t.Fatalf("InsertListItem failed: %v", err)
		}
		items, err := repo.ListItems(ctx, tenantID, 1)
		if err != nil {
			t.Fatalf("ListItems failed: %v", err)
		}
		if len(items) != 2 {
			t.Errorf("expected 2 items, got %d", len(items))
		}
		if len(items) == 2 && items[0].ID == items[1].ID {
			t.Errorf("duplicate item ids: %+v", items)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		item, err := repo.GetListItem(ctx, "tenant-002", 1, "EG")
		if err != nil {
			t.Fatalf("GetListItem failed: %v", err)
		}
		if item != nil {
			t.Error("tenant-002 must not see tenant-001 list items")
		}
	})
}

func TestEvaluationLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	eval := &domain.EvaluationHistory{
		ID:        "eval-001",
		TenantID:  tenantID,
		RequestID: "req-001",
		Facts:     `{"Age":"30"}`,
		Outcome:   domain.OutcomePending,
		CreatedAt: time.Now().UTC(),
	}

	if err := repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
		t.Fatalf("SaveEvaluation failed: %v", err)
	}

	completed := time.Now().UTC()
	eval.Response = `{"eligibleProducts":[]}`
	eval.Score = 80
	eval.Outcome = domain.OutcomeDecided
	eval.CompletedAt = &completed

	if err := repo.FinalizeEvaluation(ctx, tenantID, eval); err != nil {
		t.Fatalf("FinalizeEvaluation failed: %v", err)
	}

	got, err := repo.GetEvaluation(ctx, tenantID, "eval-001")
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}
	if got.Outcome != domain.OutcomeDecided || got.Score != 80 {
		t.Errorf("unexpected evaluation: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	if _, err := repo.GetEvaluation(ctx, "tenant-002", "eval-001"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound across tenants, got %v", err)
	}

	if err := repo.FinalizeEvaluation(ctx, tenantID, &domain.EvaluationHistory{ID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing evaluation, got %v", err)
	}
}

func TestAPICallAudits(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	for i, name := range []string{"bureau", "kyc"} {
		audit := &domain.APICallAudit{
			ID:        "audit-00" + string(rune('1'+i)),
			TenantID:  tenantID,
			RequestID: "req-001",
			APIID:     int64(i + 1),
			APIName:   name,
			Request:   `{"nationalId":"123"}`,
			Response:  `{"score":80}`,
			Success:   i == 0,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if i == 1 {
			audit.Error = "status 502"
		}
		if err := repo.SaveAPICallAudit(ctx, tenantID, audit); err != nil {
			t.Fatalf("SaveAPICallAudit failed: %v", err)
		}
	}

	audits, err := repo.ListAPICallAudits(ctx, tenantID, "req-001")
	if err != nil {
		t.Fatalf("ListAPICallAudits failed: %v", err)
	}
	if len(audits) != 2 {
		t.Fatalf("expected 2 audits, got %d", len(audits))
	}
	if !audits[0].Success || audits[1].Success {
		t.Errorf("unexpected success flags: %+v", audits)
	}
	if audits[1].Error != "status 502" {
		t.Errorf("expected error on second audit, got %q", audits[1].Error)
	}
}
