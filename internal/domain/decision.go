package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Facts is the applicant fact set keyed by parameter id. Values are
// carried as strings and interpreted per the owning parameter's data type.
type Facts map[int64]string

// Clone returns a shallow copy of the fact set.
func (f Facts) Clone() Facts {
	out := make(Facts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ConditionCheck is the outcome of validating one factor/condition pair
// against one applicant value.
type ConditionCheck struct {
	FactorID    int64  `json:"factorId"`
	FactorName  string `json:"factorName"`
	ParameterID int64  `json:"parameterId"`
	Condition   ConditionSymbol `json:"condition"`
	Value1      string `json:"value1"`
	Value2      string `json:"value2,omitempty"`
	Provided    string `json:"provided"`
	Valid       bool   `json:"valid"`
	Error       string `json:"error,omitempty"`
}

// RuleResult is the output of evaluating one live rule.
type RuleResult struct {
	RuleID             int64            `json:"ruleId"`
	MasterID           int64            `json:"masterId"`
	Matched            bool             `json:"matched"`
	Checks             []ConditionCheck `json:"checks,omitempty"`
	EligibilityPercent float64          `json:"eligibilityPercent"`
	Errors             []string         `json:"errors,omitempty"`
}

// CardResult is the output of resolving one card against rule results.
type CardResult struct {
	CardID   int64  `json:"cardId"`
	Valid    bool   `json:"valid"`
	Degraded string `json:"degraded,omitempty"`
}

// ProductCardResult is the output of resolving one product card against
// card results.
type ProductCardResult struct {
	ProductCardID int64  `json:"productCardId"`
	ProductID     int64  `json:"productId"`
	Valid         bool   `json:"valid"`
	Degraded      string `json:"degraded,omitempty"`
}

// ProductDecision is the per-product outcome of a decision.
type ProductDecision struct {
	ProductID              int64           `json:"productId"`
	ProductName            string          `json:"productName"`
	ProductCode            string          `json:"productCode"`
	EligibleAmount         decimal.Decimal `json:"eligibleAmount"`
	MaxEligibleAmount      decimal.Decimal `json:"maxEligibleAmount"`
	EligibilityPercent     float64         `json:"eligibilityPercent"`
	ProbabilityOfDefault   float64         `json:"probabilityOfDefault"`
	IsEligible             bool            `json:"isEligible"`
	IsProcessedByException bool            `json:"isProcessedByException"`
	Message                string          `json:"message,omitempty"`

	// FailedParameterIDs backs rejection-reason mapping; not part of
	// the response payload.
	FailedParameterIDs []int64 `json:"-"`
}

// ListValue is the explicit code/name pair a list-type parameter
// arrives as on the named entry point.
type ListValue struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// DecisionResult is the outcome of a pure cascade decision (no enrichment).
type DecisionResult struct {
	Score    float64           `json:"score"`
	Products []ProductDecision `json:"products"`
}

// RejectionDetail is one caller-facing rejection reason.
type RejectionDetail struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// NonEligibleProduct carries the rejection reasons for a failed product.
type NonEligibleProduct struct {
	ProductCode      string            `json:"productCode"`
	ProductName      string            `json:"productName"`
	RejectionReasons []RejectionDetail `json:"rejectionReasons"`
}

// EnrichedDecision is the response of the full pipeline entry point.
// Every failure mode resolves to a populated response, never an error.
type EnrichedDecision struct {
	RequestID            string               `json:"requestId"`
	CustomerScore        float64              `json:"customerScore"`
	ProbabilityOfDefault float64              `json:"probabilityOfDefault"`
	ProcessingTimeMs     int64                `json:"processingTimeMs"`
	Timestamp            time.Time            `json:"timestamp"`
	EligibleProducts     []ProductDecision    `json:"eligibleProducts"`
	NonEligibleProducts  []NonEligibleProduct `json:"nonEligibleProducts"`
	MandatoryParameters  []string             `json:"mandatoryParameters,omitempty"`

	// EnrichmentErrors maps a failed external API to its error marker.
	// Enrichment failures never fail the decision; they are reported
	// here alongside whatever the remaining APIs bound.
	EnrichmentErrors map[string]string `json:"enrichmentErrors,omitempty"`
	Message              string               `json:"message,omitempty"`
}

// EvaluationHistory is the audit record for one decision call. Created
// at the start of the call and finalized once at the end.
type EvaluationHistory struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	RequestID     string     `json:"requestId"`
	Facts         string     `json:"facts"`    // JSON snapshot of the incoming facts
	Response      string     `json:"response"` // JSON snapshot of the final response
	Score         float64    `json:"score"`
	Outcome       string     `json:"outcome"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Evaluation outcome values.
const (
	OutcomePending  = "PENDING"
	OutcomeDecided  = "DECIDED"
	OutcomeRejected = "REJECTED"
	OutcomeFailed   = "FAILED"
)

// APICallAudit is one audit row per external enrichment call, written
// independently of the call's success.
type APICallAudit struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	RequestID string    `json:"requestId"`
	APIID     int64     `json:"apiId"`
	APIName   string    `json:"apiName"`
	Request   string    `json:"request"`
	Response  string    `json:"response,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
