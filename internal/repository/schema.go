package repository

// Schema definitions for the Kestrel configuration and audit tables.
// Compatible with both SQLite and PostgreSQL.

const schemaParameters = `
CREATE TABLE IF NOT EXISTS parameters (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    data_type TEXT NOT NULL,
    mandatory INTEGER NOT NULL DEFAULT 0,
    rejection_reason_id INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_parameters_tenant ON parameters(tenant_id);
`

const schemaConditions = `
CREATE TABLE IF NOT EXISTS conditions (
    id INTEGER PRIMARY KEY,
    value TEXT NOT NULL
);
`

const schemaFactors = `
CREATE TABLE IF NOT EXISTS factors (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    parameter_id INTEGER NOT NULL,
    condition_id INTEGER NOT NULL,
    value1 TEXT NOT NULL,
    value2 TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_factors_tenant ON factors(tenant_id);
`

const schemaRuleMasters = `
CREATE TABLE IF NOT EXISTS rule_masters (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rule_masters_tenant ON rule_masters(tenant_id);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    master_id INTEGER NOT NULL,
    version INTEGER NOT NULL,
    expression TEXT NOT NULL,
    valid_from TIMESTAMP NOT NULL,
    valid_to TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_tenant ON rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rules_master ON rules(tenant_id, master_id, version);
`

const schemaCards = `
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    expression TEXT NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE TABLE IF NOT EXISTS product_cards (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    expression TEXT NOT NULL,
    product_id INTEGER NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_product_cards_product ON product_cards(tenant_id, product_id);
`

const schemaProducts = `
CREATE TABLE IF NOT EXISTS products (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    code TEXT NOT NULL,
    category_id INTEGER NOT NULL DEFAULT 0,
    max_eligible_amount TEXT NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE TABLE IF NOT EXISTS product_caps (
    tenant_id TEXT NOT NULL,
    product_id INTEGER NOT NULL,
    min_score REAL NOT NULL,
    max_score REAL NOT NULL,
    percentage REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_product_caps_product ON product_caps(tenant_id, product_id);

CREATE TABLE IF NOT EXISTS product_cap_amounts (
    tenant_id TEXT NOT NULL,
    product_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    age_expression TEXT NOT NULL,
    salary_expression TEXT NOT NULL,
    amount TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_product_cap_amounts_product ON product_cap_amounts(tenant_id, product_id, position);
`

const schemaExceptions = `
CREATE TABLE IF NOT EXISTS exceptions (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    expression TEXT NOT NULL,
    scope TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    is_temporary INTEGER NOT NULL DEFAULT 0,
    start_date TIMESTAMP,
    end_date TIMESTAMP,
    fixed_percentage REAL,
    percentage_variation REAL,
    PRIMARY KEY (id, tenant_id)
);

CREATE TABLE IF NOT EXISTS exception_products (
    tenant_id TEXT NOT NULL,
    exception_id INTEGER NOT NULL,
    product_id INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, exception_id, product_id)
);
`

const schemaManagedLists = `
CREATE TABLE IF NOT EXISTS managed_lists (
    id INTEGER PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    UNIQUE (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS list_items (
    id INTEGER PRIMARY KEY,
    list_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    code TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_list_items_list ON list_items(list_id);
`

const schemaBindings = `
CREATE TABLE IF NOT EXISTS parameter_bindings (
    tenant_id TEXT NOT NULL,
    system_name TEXT NOT NULL,
    parameter_id INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, system_name)
);

CREATE TABLE IF NOT EXISTS rejection_reasons (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    code TEXT NOT NULL,
    description TEXT NOT NULL,
    PRIMARY KEY (id, tenant_id)
);
`

const schemaExternalAPIs = `
CREATE TABLE IF NOT EXISTS external_apis (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    method TEXT NOT NULL,
    headers TEXT,
    call_order INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (id, tenant_id)
);

CREATE TABLE IF NOT EXISTS api_parameters (
    id INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    api_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    direction TEXT NOT NULL,
    parameter_id INTEGER,
    default_value TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_api_parameters_api ON api_parameters(tenant_id, api_id);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    request_id TEXT NOT NULL,
    facts TEXT NOT NULL,
    response TEXT,
    score REAL NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,
    failure_reason TEXT,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_evaluations_tenant ON evaluations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_request ON evaluations(tenant_id, request_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_outcome ON evaluations(tenant_id, outcome);
`

const schemaAPICallAudits = `
CREATE TABLE IF NOT EXISTS api_call_audits (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    request_id TEXT NOT NULL,
    api_id INTEGER NOT NULL,
    api_name TEXT NOT NULL,
    request TEXT,
    response TEXT,
    success INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_call_audits_request ON api_call_audits(tenant_id, request_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaParameters,
		schemaConditions,
		schemaFactors,
		schemaRuleMasters,
		schemaRules,
		schemaCards,
		schemaProducts,
		schemaExceptions,
		schemaManagedLists,
		schemaBindings,
		schemaExternalAPIs,
		schemaEvaluations,
		schemaAPICallAudits,
	}
}
