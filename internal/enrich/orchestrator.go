// Package enrich calls tenant-configured external APIs before
// evaluation and merges their outputs into the applicant fact set.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// outputDenylist names flattened response keys that are never mapped
// onto parameters. Matched against the last key segment.
var outputDenylist = map[string]bool{
	"message": true,
	"error":   true,
	"success": true,
}

// AuditSink receives one audit row per external call, written
// independently of the call's success.
type AuditSink interface {
	SaveAPICallAudit(ctx context.Context, tenantID string, audit *domain.APICallAudit) error
}

// Orchestrator runs the tenant's enrichment APIs in configured order.
// Calls are awaited sequentially: one API's completion gates the start
// of the next.
type Orchestrator struct {
	client  *http.Client
	audit   AuditSink
	timeout time.Duration
}

// NewOrchestrator creates an enrichment orchestrator. client may be nil
// for the default HTTP client; audit may be nil to skip call auditing.
func NewOrchestrator(client *http.Client, audit AuditSink, timeout time.Duration) *Orchestrator {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Orchestrator{client: client, audit: audit, timeout: timeout}
}

// Result reports what enrichment changed.
type Result struct {
	// Added is the facts bound by enrichment, keyed by parameter id.
	Added domain.Facts

	// Errors maps an API name to its failure marker. A failing call
	// never aborts the loop; its outputs are simply absent.
	Errors map[string]string
}

// Enrich calls each active external API in ascending configured order
// and merges mapped outputs into facts. Already-bound facts are never
// overwritten.
func (o *Orchestrator) Enrich(ctx context.Context, cfg *domain.TenantConfig, requestID string, facts domain.Facts) *Result {
	result := &Result{
		Added:  make(domain.Facts),
		Errors: make(map[string]string),
	}

	apis := make([]domain.ExternalAPI, 0, len(cfg.ExternalAPIs))
	for _, api := range cfg.ExternalAPIs {
		if api.Active {
			apis = append(apis, api)
		}
	}
	sort.SliceStable(apis, func(i, j int) bool { return apis[i].CallOrder < apis[j].CallOrder })

	for i := range apis {
		api := &apis[i]
		if err := o.callAPI(ctx, cfg, api, requestID, facts, result); err != nil {
			result.Errors[api.Name] = err.Error()
			slog.Warn("enrichment call failed",
				"tenant_id", cfg.TenantID,
				"api", api.Name,
				"error", err,
			)
		}
	}

	return result
}

func (o *Orchestrator) callAPI(ctx context.Context, cfg *domain.TenantConfig, api *domain.ExternalAPI, requestID string, facts domain.Facts, result *Result) error {
	payload := o.buildPayload(cfg, api, facts)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, reqSnapshot, err := buildRequest(callCtx, api, payload)
	if err != nil {
		o.writeAudit(ctx, cfg.TenantID, requestID, api, reqSnapshot, "", err)
		return err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		o.writeAudit(ctx, cfg.TenantID, requestID, api, reqSnapshot, "", err)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		o.writeAudit(ctx, cfg.TenantID, requestID, api, reqSnapshot, "", err)
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("status %d", resp.StatusCode)
		o.writeAudit(ctx, cfg.TenantID, requestID, api, reqSnapshot, string(body), err)
		return err
	}

	o.writeAudit(ctx, cfg.TenantID, requestID, api, reqSnapshot, string(body), nil)

	flat, err := Flatten(body)
	if err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}

	o.mapOutputs(cfg, api, flat, facts, result)
	return nil
}

// buildPayload maps configured API inputs to fact values: explicit
// parameter mapping first, then name-normalized matching, then the
// configured default.
func (o *Orchestrator) buildPayload(cfg *domain.TenantConfig, api *domain.ExternalAPI, facts domain.Facts) map[string]string {
	payload := make(map[string]string)
	for _, p := range cfg.APIParameters {
		if p.APIID != api.ID || p.Direction != domain.DirectionInput {
			continue
		}

		if p.ParameterID != nil {
			if v, ok := facts[*p.ParameterID]; ok {
				payload[p.Name] = v
				continue
			}
		}

		if id, ok := parameterByNormalizedName(cfg, p.Name); ok {
			if v, ok := facts[id]; ok {
				payload[p.Name] = v
				continue
			}
		}

		payload[p.Name] = p.DefaultValue
	}
	return payload
}

// mapOutputs binds flattened response keys back onto parameter ids:
// explicit mapping first, then name match; denylisted keys and
// already-bound facts are skipped.
func (o *Orchestrator) mapOutputs(cfg *domain.TenantConfig, api *domain.ExternalAPI, flat map[string]string, facts domain.Facts, result *Result) {
	explicit := make(map[string]int64)
	for _, p := range cfg.APIParameters {
		if p.APIID == api.ID && p.Direction == domain.DirectionOutput && p.ParameterID != nil {
			explicit[normalizeName(p.Name)] = *p.ParameterID
		}
	}

	for key, value := range flat {
		if denied(key) {
			continue
		}

		paramID, ok := explicit[normalizeName(key)]
		if !ok {
			paramID, ok = parameterByNormalizedName(cfg, lastSegment(key))
			if !ok {
				continue
			}
		}

		if _, bound := facts[paramID]; bound {
			continue
		}

		facts[paramID] = value
		result.Added[paramID] = value
	}
}

func (o *Orchestrator) writeAudit(ctx context.Context, tenantID, requestID string, api *domain.ExternalAPI, request, response string, callErr error) {
	if o.audit == nil {
		return
	}

	audit := &domain.APICallAudit{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		RequestID: requestID,
		APIID:     api.ID,
		APIName:   api.Name,
		Request:   request,
		Response:  response,
		Success:   callErr == nil,
		CreatedAt: time.Now().UTC(),
	}
	if callErr != nil {
		audit.Error = callErr.Error()
	}

	if err := o.audit.SaveAPICallAudit(ctx, tenantID, audit); err != nil {
		slog.Error("failed to save api call audit",
			"tenant_id", tenantID,
			"api", api.Name,
			"error", err,
		)
	}
}

func buildRequest(ctx context.Context, api *domain.ExternalAPI, payload map[string]string) (*http.Request, string, error) {
	method := strings.ToUpper(api.Method)
	if method == "" {
		method = http.MethodGet
	}

	var req *http.Request
	var snapshot string
	var err error

	if method == http.MethodGet {
		u, parseErr := url.Parse(api.URL)
		if parseErr != nil {
			return nil, api.URL, parseErr
		}
		q := u.Query()
		for k, v := range payload {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		snapshot = u.String()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	} else {
		body, _ := json.Marshal(payload)
		snapshot = string(body)
		req, err = http.NewRequestWithContext(ctx, method, api.URL, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, snapshot, err
	}

	for k, v := range api.Headers {
		req.Header.Set(k, v)
	}
	return req, snapshot, nil
}

func parameterByNormalizedName(cfg *domain.TenantConfig, name string) (int64, bool) {
	want := normalizeName(name)
	for _, p := range cfg.Parameters {
		if normalizeName(p.Name) == want {
			return p.ID, true
		}
	}
	return 0, false
}

// normalizeName lowercases and strips non-alphanumerics so "National ID",
// "nationalId", and "national_id" all match.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lastSegment(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func denied(key string) bool {
	return outputDenylist[strings.ToLower(lastSegment(key))]
}
