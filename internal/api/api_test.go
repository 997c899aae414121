package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/shopspring/decimal"
)

// stubRepo serves a fixed tenant configuration and keeps evaluations
// in memory.
type stubRepo struct {
	cfg   *domain.TenantConfig
	evals map[string]*domain.EvaluationHistory
}

func newStubRepo(cfg *domain.TenantConfig) *stubRepo {
	return &stubRepo{cfg: cfg, evals: make(map[string]*domain.EvaluationHistory)}
}

func (r *stubRepo) LoadTenantConfig(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	return r.cfg, nil
}

func (r *stubRepo) GetManagedList(ctx context.Context, tenantID string, name string) (*domain.ManagedList, error) {
	return nil, domain.ErrNotFound
}

func (r *stubRepo) GetListItem(ctx context.Context, tenantID string, listID int64, value string) (*domain.ListItem, error) {
	return nil, nil
}

func (r *stubRepo) ListItems(ctx context.Context, tenantID string, listID int64) ([]domain.ListItem, error) {
	return nil, nil
}

func (r *stubRepo) InsertListItem(ctx context.Context, tenantID string, item *domain.ListItem) error {
	return nil
}

func (r *stubRepo) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.EvaluationHistory) error {
	copied := *eval
	r.evals[eval.ID] = &copied
	return nil
}

func (r *stubRepo) FinalizeEvaluation(ctx context.Context, tenantID string, eval *domain.EvaluationHistory) error {
	copied := *eval
	r.evals[eval.ID] = &copied
	return nil
}

func (r *stubRepo) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.EvaluationHistory, error) {
	if eval, ok := r.evals[evalID]; ok {
		return eval, nil
	}
	return nil, domain.ErrNotFound
}

func (r *stubRepo) SaveAPICallAudit(ctx context.Context, tenantID string, audit *domain.APICallAudit) error {
	return nil
}

func (r *stubRepo) ListAPICallAudits(ctx context.Context, tenantID string, requestID string) ([]domain.APICallAudit, error) {
	return nil, nil
}

func (r *stubRepo) Ping(ctx context.Context) error { return nil }
func (r *stubRepo) Close() error                   { return nil }

func testTenantConfig() *domain.TenantConfig {
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now().Add(24 * time.Hour)

	return &domain.TenantConfig{
		TenantID: "tenant-001",
		Parameters: []domain.Parameter{
			{ID: 1, Name: "Age", DataType: domain.DataTypeNumeric, Mandatory: true},
			{ID: 2, Name: "Score", DataType: domain.DataTypeNumeric},
		},
		Conditions: []domain.Condition{{ID: 1, Value: domain.CondRange}},
		Factors: []domain.Factor{
			{ID: 1, Name: "AgeRange", ParameterID: 1, ConditionID: 1, Value1: "18", Value2: "65"},
		},
		RuleMasters: []domain.RuleMaster{{ID: 1, Name: "AgeRule", Active: true}},
		Rules: []domain.Rule{
			{ID: 1, MasterID: 1, Version: 1, Expression: "1", ValidFrom: from, ValidTo: to},
		},
		Cards:        []domain.Card{{ID: 1, Expression: "1"}},
		ProductCards: []domain.ProductCard{{ID: 1, ProductID: 1, Expression: "1"}},
		Products: []domain.Product{
			{ID: 1, Name: "Personal Loan", Code: "PL", MaxEligibleAmount: decimal.NewFromInt(10000)},
		},
		ProductCaps: []domain.ProductCap{
			{ProductID: 1, MinScore: 0, MaxScore: 100, Percentage: 50},
		},
		ProductCapAmounts: []domain.ProductCapAmount{
			{ProductID: 1, AgeExpression: "All", SalaryExpression: "All", Amount: decimal.NewFromInt(10000)},
		},
		Bindings: []domain.ParameterBinding{
			{TenantID: "tenant-001", SystemName: domain.BindingScore, ParameterID: 2},
			{TenantID: "tenant-001", SystemName: domain.BindingAge, ParameterID: 1},
		},
	}
}

func createTestServer() (*Server, *stubRepo) {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo := newStubRepo(testTenantConfig())
	eng := engine.New(repo, nil, nil, nil, domain.EngineConfig{Seed: 1})

	return NewServer(cfg, repo, nil, nil, eng, "test-v1"), repo
}

func TestDecideEndpoint(t *testing.T) {
	server, _ := createTestServer()

	t.Run("SuccessfulDecision", func(t *testing.T) {
		body, _ := json.Marshal(DecideRequest{
			Facts: map[string]string{"1": "30", "2": "80"},
		})
		req := httptest.NewRequest(http.MethodPost, "/decide", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.DecisionResult
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Score != 80 {
			t.Errorf("expected score 80, got %v", resp.Score)
		}
		if len(resp.Products) != 1 || !resp.Products[0].IsEligible {
			t.Errorf("expected one eligible product, got %+v", resp.Products)
		}
		if !resp.Products[0].EligibleAmount.Equal(decimal.NewFromInt(5000)) {
			t.Errorf("expected eligible amount 5000, got %s", resp.Products[0].EligibleAmount)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/decide", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		// No X-Tenant-ID header

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/decide", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("EmptyFacts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/decide", bytes.NewBufferString(`{"facts":{}}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NonNumericFactKey", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/decide", bytes.NewBufferString(`{"facts":{"age":"30"}}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		body, _ := json.Marshal(DecideRequest{Facts: map[string]string{"1": "30"}})
		req := httptest.NewRequest(http.MethodPost, "/decide", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestDecideEnrichedEndpoint(t *testing.T) {
	server, repo := createTestServer()

	t.Run("SuccessfulDecision", func(t *testing.T) {
		body, _ := json.Marshal(DecideEnrichedRequest{
			RequestID: "req-001",
			Facts:     map[string]string{"Age": "30", "Score": "80"},
		})
		req := httptest.NewRequest(http.MethodPost, "/decide/enriched", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.EnrichedDecision
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.RequestID != "req-001" {
			t.Errorf("expected request id req-001, got %s", resp.RequestID)
		}
		if len(resp.EligibleProducts) != 1 {
			t.Errorf("expected one eligible product, got %+v", resp.EligibleProducts)
		}
	})

	t.Run("MissingMandatoryParameter", func(t *testing.T) {
		// A business rejection is still HTTP 200 with a structured body.
		body, _ := json.Marshal(DecideEnrichedRequest{
			Facts: map[string]string{"Score": "80"},
		})
		req := httptest.NewRequest(http.MethodPost, "/decide/enriched", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.EnrichedDecision
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.MandatoryParameters) != 1 || resp.MandatoryParameters[0] != "Age" {
			t.Errorf("expected mandatory parameter Age, got %+v", resp.MandatoryParameters)
		}
	})

	t.Run("EvaluationRetrievable", func(t *testing.T) {
		if len(repo.evals) == 0 {
			t.Fatal("expected evaluations to be recorded")
		}
		var evalID string
		for id := range repo.evals {
			evalID = id
		}

		req := httptest.NewRequest(http.MethodGet, "/evaluations/"+evalID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("EvaluationNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/evaluations/missing", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestConfigEndpoints(t *testing.T) {
	server, _ := createTestServer()

	t.Run("ListProducts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]json.RawMessage
		json.Unmarshal(rr.Body.Bytes(), &resp)
		var count int
		json.Unmarshal(resp["count"], &count)
		if count != 1 {
			t.Errorf("expected 1 product, got %d", count)
		}
	})

	t.Run("ListRules", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("ReloadConfig", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/config/reload", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := createTestServer()

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
