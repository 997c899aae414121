// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DataType describes how a parameter value is compared.
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumeric DataType = "numeric"
	DataTypeDate    DataType = "date"
)

// ConditionSymbol is a comparison operator. Conditions are fixed and
// tenant-agnostic; factors reference them by id.
type ConditionSymbol string

const (
	CondEqual          ConditionSymbol = "="
	CondNotEqual       ConditionSymbol = "!="
	CondLess           ConditionSymbol = "<"
	CondGreater        ConditionSymbol = ">"
	CondLessOrEqual    ConditionSymbol = "<="
	CondGreaterOrEqual ConditionSymbol = ">="
	CondRange          ConditionSymbol = "Range"
	CondInList         ConditionSymbol = "In List"
	CondNotInList      ConditionSymbol = "Not In List"
)

// WildcardValue in a factor's Value1 matches any provided value.
const WildcardValue = "ALL"

// Parameter is a named applicant fact slot.
type Parameter struct {
	ID                int64    `json:"id"`
	TenantID          string   `json:"tenantId"`
	Name              string   `json:"name"`
	DataType          DataType `json:"dataType"`
	Mandatory         bool     `json:"mandatory"`
	RejectionReasonID int64    `json:"rejectionReasonId,omitempty"`
}

// Condition is a comparison operator row.
type Condition struct {
	ID    int64           `json:"id"`
	Value ConditionSymbol `json:"value"`
}

// Factor is one operand of a rule: "parameter X condition Y value Z".
type Factor struct {
	ID          int64  `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	ParameterID int64  `json:"parameterId"`
	ConditionID int64  `json:"conditionId"`
	Value1      string `json:"value1"`
	Value2      string `json:"value2,omitempty"`
}

// RuleMaster names a rule lineage. Only rules under an active master
// participate in matching.
type RuleMaster struct {
	ID       int64  `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

// Rule is one version of a master's boolean expression over factor ids.
// Only the highest version whose validity window contains "now" is live.
type Rule struct {
	ID         int64     `json:"id"`
	MasterID   int64     `json:"masterId"`
	Version    int       `json:"version"`
	Expression string    `json:"expression"`
	ValidFrom  time.Time `json:"validFrom"`
	ValidTo    time.Time `json:"validTo"`
}

// Card is a boolean expression over rule ids, one tier above Rule.
type Card struct {
	ID         int64  `json:"id"`
	TenantID   string `json:"tenantId"`
	Expression string `json:"expression"`
}

// ProductCard is a boolean expression over card ids, bound to one product.
type ProductCard struct {
	ID         int64  `json:"id"`
	TenantID   string `json:"tenantId"`
	Expression string `json:"expression"`
	ProductID  int64  `json:"productId"`
}

// Product is an offerable financial product.
type Product struct {
	ID                int64           `json:"id"`
	TenantID          string          `json:"tenantId"`
	Name              string          `json:"name"`
	Code              string          `json:"code"`
	CategoryID        int64           `json:"categoryId,omitempty"`
	MaxEligibleAmount decimal.Decimal `json:"maxEligibleAmount"`
}

// ProductCap maps a score band to a percentage cap. Bounds are inclusive.
type ProductCap struct {
	ProductID  int64   `json:"productId"`
	MinScore   float64 `json:"minScore"`
	MaxScore   float64 `json:"maxScore"`
	Percentage float64 `json:"percentage"`
}

// ProductCapAmount maps attribute bands to an absolute amount cap.
// Rows are evaluated in stored order; the first match wins.
type ProductCapAmount struct {
	ProductID        int64           `json:"productId"`
	AgeExpression    string          `json:"ageExpression"`
	SalaryExpression string          `json:"salaryExpression"`
	Amount           decimal.Decimal `json:"amount"`
}

// ExceptionScope determines which adjustment an exception applies.
type ExceptionScope string

const (
	ScopeProductEligibility ExceptionScope = "Product Eligibility"
	ScopeLimitAmount        ExceptionScope = "Limit Amount"
)

// Exception is a standalone override rule independent of the cascade.
type Exception struct {
	ID                  int64          `json:"id"`
	TenantID            string         `json:"tenantId"`
	Name                string         `json:"name"`
	Expression          string         `json:"expression"`
	Scope               ExceptionScope `json:"scope"`
	Active              bool           `json:"active"`
	IsTemporary         bool           `json:"isTemporary"`
	StartDate           *time.Time     `json:"startDate,omitempty"`
	EndDate             *time.Time     `json:"endDate,omitempty"`
	FixedPercentage     *float64       `json:"fixedPercentage,omitempty"`
	PercentageVariation *float64       `json:"percentageVariation,omitempty"`
}

// InWindow reports whether the exception is applicable at t.
// Non-temporary exceptions are always in window.
func (e *Exception) InWindow(t time.Time) bool {
	if !e.IsTemporary {
		return true
	}
	if e.StartDate != nil && t.Before(*e.StartDate) {
		return false
	}
	if e.EndDate != nil && t.After(*e.EndDate) {
		return false
	}
	return true
}

// ExceptionProduct associates an exception with a target product.
type ExceptionProduct struct {
	ExceptionID int64 `json:"exceptionId"`
	ProductID   int64 `json:"productId"`
}

// ManagedList is a named value set for list-membership conditions.
type ManagedList struct {
	ID       int64  `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
}

// ListItem is one acceptable value inside a managed list.
type ListItem struct {
	ID     int64  `json:"id"`
	ListID int64  `json:"listId"`
	Name   string `json:"name"`
	Code   string `json:"code"`
}

// ParameterBinding maps a logical system parameter name (e.g. "score",
// "age", "salary", "nationalId") to a tenant's actual parameter id.
type ParameterBinding struct {
	TenantID    string `json:"tenantId"`
	SystemName  string `json:"systemName"`
	ParameterID int64  `json:"parameterId"`
}

// Well-known system parameter names used through ParameterBinding.
const (
	BindingScore      = "score"
	BindingAge        = "age"
	BindingSalary     = "salary"
	BindingNationalID = "nationalId"
)

// RejectionReason is a caller-facing code/description pair referenced
// by parameters.
type RejectionReason struct {
	ID          int64  `json:"id"`
	TenantID    string `json:"tenantId"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ExternalAPI is a tenant-configured enrichment endpoint, called in
// ascending CallOrder before evaluation.
type ExternalAPI struct {
	ID        int64             `json:"id"`
	TenantID  string            `json:"tenantId"`
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	CallOrder int               `json:"callOrder"`
	Active    bool              `json:"active"`
}

// APIDirection distinguishes request inputs from response outputs.
type APIDirection string

const (
	DirectionInput  APIDirection = "input"
	DirectionOutput APIDirection = "output"
)

// APIParameter maps one external API field to an internal parameter.
// Input fields feed the request payload; output fields bind flattened
// response keys back onto parameter ids.
type APIParameter struct {
	ID           int64        `json:"id"`
	APIID        int64        `json:"apiId"`
	Name         string       `json:"name"`
	Direction    APIDirection `json:"direction"`
	ParameterID  *int64       `json:"parameterId,omitempty"`
	DefaultValue string       `json:"defaultValue,omitempty"`
}

// TenantConfig is the complete read-only configuration snapshot the
// engine evaluates against. Loaded in one pass and cacheable as a unit.
type TenantConfig struct {
	TenantID          string             `json:"tenantId"`
	Parameters        []Parameter        `json:"parameters"`
	Conditions        []Condition        `json:"conditions"`
	Factors           []Factor           `json:"factors"`
	RuleMasters       []RuleMaster       `json:"ruleMasters"`
	Rules             []Rule             `json:"rules"`
	Cards             []Card             `json:"cards"`
	ProductCards      []ProductCard      `json:"productCards"`
	Products          []Product          `json:"products"`
	ProductCaps       []ProductCap       `json:"productCaps"`
	ProductCapAmounts []ProductCapAmount `json:"productCapAmounts"`
	Exceptions        []Exception        `json:"exceptions"`
	ExceptionProducts []ExceptionProduct `json:"exceptionProducts"`
	Bindings          []ParameterBinding `json:"bindings"`
	RejectionReasons  []RejectionReason  `json:"rejectionReasons"`
	ExternalAPIs      []ExternalAPI      `json:"externalApis"`
	APIParameters     []APIParameter     `json:"apiParameters"`
}

// ParameterByID returns the parameter with the given id, or nil.
func (c *TenantConfig) ParameterByID(id int64) *Parameter {
	for i := range c.Parameters {
		if c.Parameters[i].ID == id {
			return &c.Parameters[i]
		}
	}
	return nil
}

// ConditionByID returns the condition with the given id, or nil.
func (c *TenantConfig) ConditionByID(id int64) *Condition {
	for i := range c.Conditions {
		if c.Conditions[i].ID == id {
			return &c.Conditions[i]
		}
	}
	return nil
}

// FactorByID returns the factor with the given id, or nil.
func (c *TenantConfig) FactorByID(id int64) *Factor {
	for i := range c.Factors {
		if c.Factors[i].ID == id {
			return &c.Factors[i]
		}
	}
	return nil
}

// ProductByID returns the product with the given id, or nil.
func (c *TenantConfig) ProductByID(id int64) *Product {
	for i := range c.Products {
		if c.Products[i].ID == id {
			return &c.Products[i]
		}
	}
	return nil
}

// Binding resolves a logical system parameter name to a parameter id.
func (c *TenantConfig) Binding(systemName string) (int64, bool) {
	for _, b := range c.Bindings {
		if b.SystemName == systemName {
			return b.ParameterID, true
		}
	}
	return 0, false
}

// LiveRules returns the single live rule per master: highest version,
// active master, validity window containing now.
func (c *TenantConfig) LiveRules(now time.Time) []Rule {
	active := make(map[int64]bool, len(c.RuleMasters))
	for _, m := range c.RuleMasters {
		if m.Active {
			active[m.ID] = true
		}
	}

	best := make(map[int64]Rule)
	for _, r := range c.Rules {
		if !active[r.MasterID] {
			continue
		}
		if now.Before(r.ValidFrom) || now.After(r.ValidTo) {
			continue
		}
		if cur, ok := best[r.MasterID]; !ok || r.Version > cur.Version {
			best[r.MasterID] = r
		}
	}

	rules := make([]Rule, 0, len(best))
	for _, r := range best {
		rules = append(rules, r)
	}
	return rules
}
