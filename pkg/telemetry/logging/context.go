package logging

import (
	"context"
	"log/slog"
)

// Context keys for request attribution.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// FirmKey is the context key for the tenant (firm) identifier.
	FirmKey contextKey = "firm_id"

	// UserKey is the context key for user identifiers.
	UserKey contextKey = "user_id"

	// CaseKey is the context key for legal case identifiers.
	CaseKey contextKey = "case_id"

	// OperationKey is the context key for the AI operation type.
	OperationKey contextKey = "operation_type"
)

// orderedKeys fixes the order context fields appear in log records.
var orderedKeys = []contextKey{RequestIDKey, FirmKey, UserKey, CaseKey, OperationKey}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return getValue(ctx, RequestIDKey)
}

// WithFirm adds a firm identifier to the context.
func WithFirm(ctx context.Context, firmID string) context.Context {
	return withValue(ctx, FirmKey, firmID)
}

// GetFirm retrieves the firm identifier from the context.
func GetFirm(ctx context.Context) string {
	return getValue(ctx, FirmKey)
}

// WithUser adds a user identifier to the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return withValue(ctx, UserKey, userID)
}

// GetUser retrieves the user identifier from the context.
func GetUser(ctx context.Context) string {
	return getValue(ctx, UserKey)
}

// WithCase adds a case identifier to the context.
func WithCase(ctx context.Context, caseID string) context.Context {
	return withValue(ctx, CaseKey, caseID)
}

// GetCase retrieves the case identifier from the context.
func GetCase(ctx context.Context) string {
	return getValue(ctx, CaseKey)
}

// WithOperation adds an operation type to the context.
func WithOperation(ctx context.Context, operationType string) context.Context {
	return withValue(ctx, OperationKey, operationType)
}

// GetOperation retrieves the operation type from the context.
func GetOperation(ctx context.Context) string {
	return getValue(ctx, OperationKey)
}

// WithAttribution stores every non-empty identifier in one call.
func WithAttribution(ctx context.Context, firmID, userID, caseID, operationType string) context.Context {
	ctx = WithFirm(ctx, firmID)
	ctx = WithUser(ctx, userID)
	ctx = WithCase(ctx, caseID)
	return WithOperation(ctx, operationType)
}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func getValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// contextAttrs extracts attribution fields from ctx as log attributes.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, key := range orderedKeys {
		if v := getValue(ctx, key); v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}
