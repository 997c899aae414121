// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// LoadTenantConfig assembles the full configuration snapshot for a
// tenant in one pass over the configuration tables.
func (r *SQLRepository) LoadTenantConfig(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	cfg := &domain.TenantConfig{TenantID: tenantID}

	loaders := []func(context.Context, string, *domain.TenantConfig) error{
		r.loadParameters,
		r.loadConditions,
		r.loadFactors,
		r.loadRuleMasters,
		r.loadRules,
		r.loadCards,
		r.loadProductCards,
		r.loadProducts,
		r.loadProductCaps,
		r.loadProductCapAmounts,
		r.loadExceptions,
		r.loadExceptionProducts,
		r.loadBindings,
		r.loadRejectionReasons,
		r.loadExternalAPIs,
		r.loadAPIParameters,
	}
	for _, load := range loaders {
		if err := load(ctx, tenantID, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (r *SQLRepository) loadParameters(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT id, tenant_id, name, data_type, mandatory, rejection_reason_id
		FROM parameters
		WHERE tenant_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Parameter
		var mandatory int
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.DataType, &mandatory, &p.RejectionReasonID); err != nil {
			return err
		}
		p.Mandatory = mandatory == 1
		cfg.Parameters = append(cfg.Parameters, p)
	}
	return rows.Err()
}

func (r *SQLRepository) loadConditions(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	// Conditions are the fixed operator set, shared across tenants.
	rows, err := r.db.QueryContext(ctx, `SELECT id, value FROM conditions ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Condition
		if err := rows.Scan(&c.ID, &c.Value); err != nil {
			return err
		}
		cfg.Conditions = append(cfg.Conditions, c)
	}
	return rows.Err()
}

func (r *SQLRepository) loadFactors(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT id, tenant_id, name, parameter_id, condition_id, value1, value2
		FROM factors
		WHERE tenant_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var f domain.Factor
		var value2 sql.NullString
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Name, &f.ParameterID, &f.ConditionID, &f.Value1, &value2); err != nil {
			return err
		}
		f.Value2 = value2.String
		cfg.Factors = append(cfg.Factors, f)
	}
	return rows.Err()
}

func (r *SQLRepository) loadRuleMasters(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT id, tenant_id, name, active
		FROM rule_masters
		WHERE tenant_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.RuleMaster
		var active int
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &active); err != nil {
			return err
		}
		m.Active = active == 1
		cfg.RuleMasters = append(cfg.RuleMasters, m)
	}
	return rows.Err()
}

func (r *SQLRepository) loadRules(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT id, master_id, version, expression, valid_from, valid_to
		FROM rules
		WHERE tenant_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rule domain.Rule
		if err := rows.Scan(&rule.ID, &rule.MasterID, &rule.Version, &rule.Expression, &rule.ValidFrom, &rule.ValidTo); err != nil {
			return err
		}
		cfg.Rules = append(cfg.Rules, rule)
	}
	return rows.Err()
}

func (r *SQLRepository) loadCards(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `SELECT id, tenant_id, expression FROM cards WHERE tenant_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Card
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Expression); err != nil {
			return err
		}
		cfg.Cards = append(cfg.Cards, c)
	}
	return rows.Err()
}

func (r *SQLRepository) loadProductCards(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT id, tenant_id, expression, product_id
		FROM product_cards
		WHERE tenant_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var pc domain.ProductCard
		if err := rows.Scan(&pc.ID, &pc.TenantID, &pc.Expression, &pc.ProductID); err != nil {
			return err
		}
		cfg.ProductCards = append(cfg.ProductCards, pc)
	}
	return rows.Err()
}

func (r *SQLRepository) loadProducts(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT id, tenant_id, name, code, category_id, max_eligible_amount
		FROM products
		WHERE tenant_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		var amount string
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Code, &p.CategoryID, &amount); err != nil {
			return err
		}
		if p.MaxEligibleAmount, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("product %d: bad max_eligible_amount %q: %w", p.ID, amount, err)
		}
		cfg.Products = append(cfg.Products, p)
	}
	return rows.Err()
}

func (r *SQLRepository) loadProductCaps(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT product_id, min_score, max_score, percentage
		FROM product_caps
		WHERE tenant_id = ?
		ORDER BY product_id, min_score
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.ProductCap
		if err := rows.Scan(&c.ProductID, &c.MinScore, &c.MaxScore, &c.Percentage); err != nil {
			return err
		}
		cfg.ProductCaps = append(cfg.ProductCaps, c)
	}
	return rows.Err()
}

func (r *SQLRepository) loadProductCapAmounts(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	// Position preserves authored order; the first matching row wins.
	query := `
		SELECT product_id, age_expression, salary_expression, amount
		FROM product_cap_amounts
		WHERE tenant_id = ?
		ORDER BY product_id, position
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ca domain.ProductCapAmount
		var amount string
		if err := rows.Scan(&ca.ProductID, &ca.AgeExpression, &ca.SalaryExpression, &amount); err != nil {
			return err
		}
		if ca.Amount, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("product %d: bad cap amount %q: %w", ca.ProductID, amount, err)
		}
		cfg.ProductCapAmounts = append(cfg.ProductCapAmounts, ca)
	}
	return rows.Err()
}

func (r *SQLRepository) loadExceptions(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT id, tenant_id, name, expression, scope, active, is_temporary,
		       start_date, end_date, fixed_percentage, percentage_variation
		FROM exceptions
		WHERE tenant_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.Exception
		var active, temporary int
		var start, end sql.NullTime
		var fixed, variation sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Name, &e.Expression, &e.Scope,
			&active, &temporary, &start, &end, &fixed, &variation); err != nil {
			return err
		}
		e.Active = active == 1
		e.IsTemporary = temporary == 1
		if start.Valid {
			t := start.Time
			e.StartDate = &t
		}
		if end.Valid {
			t := end.Time
			e.EndDate = &t
		}
		if fixed.Valid {
			v := fixed.Float64
			e.FixedPercentage = &v
		}
		if variation.Valid {
			v := variation.Float64
			e.PercentageVariation = &v
		}
		cfg.Exceptions = append(cfg.Exceptions, e)
	}
	return rows.Err()
}

func (r *SQLRepository) loadExceptionProducts(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT exception_id, product_id
		FROM exception_products
		WHERE tenant_id = ?
		ORDER BY exception_id, product_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ep domain.ExceptionProduct
		if err := rows.Scan(&ep.ExceptionID, &ep.ProductID); err != nil {
			return err
		}
		cfg.ExceptionProducts = append(cfg.ExceptionProducts, ep)
	}
	return rows.Err()
}

func (r *SQLRepository) loadBindings(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT tenant_id, system_name, parameter_id
		FROM parameter_bindings
		WHERE tenant_id = ?
		ORDER BY system_name
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var b domain.ParameterBinding
		if err := rows.Scan(&b.TenantID, &b.SystemName, &b.ParameterID); err != nil {
			return err
		}
		cfg.Bindings = append(cfg.Bindings, b)
	}
	return rows.Err()
}

func (r *SQLRepository) loadRejectionReasons(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT id, tenant_id, code, description
		FROM rejection_reasons
		WHERE tenant_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var reason domain.RejectionReason
		if err := rows.Scan(&reason.ID, &reason.TenantID, &reason.Code, &reason.Description); err != nil {
			return err
		}
		cfg.RejectionReasons = append(cfg.RejectionReasons, reason)
	}
	return rows.Err()
}

func (r *SQLRepository) loadExternalAPIs(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT id, tenant_id, name, url, method, headers, call_order, active
		FROM external_apis
		WHERE tenant_id = ?
		ORDER BY call_order, id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var api domain.ExternalAPI
		var headers sql.NullString
		var active int
		if err := rows.Scan(&api.ID, &api.TenantID, &api.Name, &api.URL, &api.Method, &headers, &api.CallOrder, &active); err != nil {
			return err
		}
		api.Active = active == 1
		if headers.Valid && headers.String != "" {
			if err := json.Unmarshal([]byte(headers.String), &api.Headers); err != nil {
				return fmt.Errorf("external api %d: invalid headers: %w", api.ID, err)
			}
		}
		cfg.ExternalAPIs = append(cfg.ExternalAPIs, api)
	}
	return rows.Err()
}

func (r *SQLRepository) loadAPIParameters(ctx context.Context, tenantID string, cfg *domain.TenantConfig) error {
	query := `
		SELECT id, api_id, name, direction, parameter_id, default_value
		FROM api_parameters
		WHERE tenant_id = ?
		ORDER BY api_id, id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ap domain.APIParameter
		var paramID sql.NullInt64
		var defaultValue sql.NullString
		if err := rows.Scan(&ap.ID, &ap.APIID, &ap.Name, &ap.Direction, &paramID, &defaultValue); err != nil {
			return err
		}
		if paramID.Valid {
			v := paramID.Int64
			ap.ParameterID = &v
		}
		ap.DefaultValue = defaultValue.String
		cfg.APIParameters = append(cfg.APIParameters, ap)
	}
	return rows.Err()
}

// GetManagedList retrieves a managed list by name with tenant isolation.
func (r *SQLRepository) GetManagedList(ctx context.Context, tenantID string, name string) (*domain.ManagedList, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `SELECT id, tenant_id, name FROM managed_lists WHERE tenant_id = ? AND name = ?`

	var list domain.ManagedList
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, name).Scan(&list.ID, &list.TenantID, &list.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &list, nil
}

// GetListItem retrieves a list item matching value against either name
// or code, case-insensitively. Returns (nil, nil) on no match so the
// caller can distinguish absence from failure.
func (r *SQLRepository) GetListItem(ctx context.Context, tenantID string, listID int64, value string) (*domain.ListItem, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT li.id, li.list_id, li.name, li.code
		FROM list_items li
		JOIN managed_lists ml ON ml.id = li.list_id
		WHERE ml.tenant_id = ? AND li.list_id = ?
		  AND (LOWER(li.name) = LOWER(?) OR LOWER(li.code) = LOWER(?))
	`

	var item domain.ListItem
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, listID, value, value).Scan(
		&item.ID, &item.ListID, &item.Name, &item.Code,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems retrieves all items of a managed list.
func (r *SQLRepository) ListItems(ctx context.Context, tenantID string, listID int64) ([]domain.ListItem, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT li.id, li.list_id, li.name, li.code
		FROM list_items li
		JOIN managed_lists ml ON ml.id = li.list_id
		WHERE ml.tenant_id = ? AND li.list_id = ?
		ORDER BY li.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ListItem
	for rows.Next() {
		var item domain.ListItem
		if err := rows.Scan(&item.ID, &item.ListID, &item.Name, &item.Code); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// InsertListItem appends an item to a managed list. The id is assigned
// from the current maximum so the statement stays driver-portable.
func (r *SQLRepository) InsertListItem(ctx context.Context, tenantID string, item *domain.ListItem) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO list_items (id, list_id, name, code)
		SELECT COALESCE(MAX(id), 0) + 1, ?, ?, ? FROM list_items
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), item.ListID, item.Name, item.Code)
	return err
}

// SaveEvaluation stores a new evaluation audit record with tenant isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.EvaluationHistory) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO evaluations (
			id, tenant_id, request_id, facts, response, score,
			outcome, failure_reason, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, tenantID, eval.RequestID, eval.Facts, eval.Response,
		eval.Score, eval.Outcome, eval.FailureReason, eval.CreatedAt, eval.CompletedAt,
	)
	return err
}

// FinalizeEvaluation updates an open evaluation with its outcome.
func (r *SQLRepository) FinalizeEvaluation(ctx context.Context, tenantID string, eval *domain.EvaluationHistory) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		UPDATE evaluations
		SET response = ?, score = ?, outcome = ?, failure_reason = ?, completed_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.Response, eval.Score, eval.Outcome, eval.FailureReason, eval.CompletedAt,
		tenantID, eval.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetEvaluation retrieves an evaluation audit record by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.EvaluationHistory, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, request_id, facts, response, score,
		       outcome, failure_reason, created_at, completed_at
		FROM evaluations
		WHERE tenant_id = ? AND id = ?
	`

	var eval domain.EvaluationHistory
	var response, failureReason sql.NullString
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID).Scan(
		&eval.ID, &eval.TenantID, &eval.RequestID, &eval.Facts, &response,
		&eval.Score, &eval.Outcome, &failureReason, &eval.CreatedAt, &completedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	eval.Response = response.String
	eval.FailureReason = failureReason.String
	if completedAt.Valid {
		t := completedAt.Time
		eval.CompletedAt = &t
	}
	return &eval, nil
}

// SaveAPICallAudit stores one external call audit row.
func (r *SQLRepository) SaveAPICallAudit(ctx context.Context, tenantID string, audit *domain.APICallAudit) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	success := 0
	if audit.Success {
		success = 1
	}

	query := `
		INSERT INTO api_call_audits (
			id, tenant_id, request_id, api_id, api_name,
			request, response, success, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		audit.ID, tenantID, audit.RequestID, audit.APIID, audit.APIName,
		audit.Request, audit.Response, success, audit.Error, audit.CreatedAt,
	)
	return err
}

// ListAPICallAudits retrieves the audit rows for one decision request
// in call order.
func (r *SQLRepository) ListAPICallAudits(ctx context.Context, tenantID string, requestID string) ([]domain.APICallAudit, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, request_id, api_id, api_name,
		       request, response, success, error, created_at
		FROM api_call_audits
		WHERE tenant_id = ? AND request_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []domain.APICallAudit
	for rows.Next() {
		var a domain.APICallAudit
		var response, errMsg sql.NullString
		var success int
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.RequestID, &a.APIID, &a.APIName,
			&a.Request, &response, &success, &errMsg, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.Response = response.String
		a.Error = errMsg.String
		a.Success = success == 1
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
