package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys use the "costplane.*" namespace.
const (
	AttrFirm          = "costplane.firm_id"
	AttrOperationType = "costplane.operation_type"
	AttrModel         = "costplane.model"
	AttrOutcome       = "costplane.outcome"
	AttrMatch         = "costplane.cache.match"
	AttrScore         = "costplane.cache.score"
	AttrVerdict       = "costplane.budget.verdict"
	AttrSpendPct      = "costplane.budget.pct"
	AttrCostCents     = "costplane.cost_cents"
	AttrTokensTotal   = "costplane.tokens.total"
)

// SetRequestAttributes sets the tenant scope of a control-plane call.
func SetRequestAttributes(span trace.Span, firmID, operationType string) {
	span.SetAttributes(
		attribute.String(AttrFirm, firmID),
		attribute.String(AttrOperationType, operationType),
	)
}

// SetUsageAttributes sets model, cost and token attributes.
func SetUsageAttributes(span trace.Span, model string, costCents float64, totalTokens int64) {
	span.SetAttributes(
		attribute.String(AttrModel, model),
		attribute.Float64(AttrCostCents, costCents),
		attribute.Int64(AttrTokensTotal, totalTokens),
	)
}
