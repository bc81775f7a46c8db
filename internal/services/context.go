package services

import "context"

type contextKey string

const (
	itemIDKey        contextKey = "item_id"
	jobIDKey         contextKey = "job_id"
	tenantIDKey      contextKey = "tenant_id"
	stageKey         contextKey = "stage"
	correlationIDKey contextKey = "correlation_id"
	messageIDKey     contextKey = "message_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithItemID annotates context with the job item identifier.
func WithItemID(ctx context.Context, id string) context.Context {
	return withString(ctx, itemIDKey, id)
}

// ItemIDFromContext extracts the job item identifier if present.
func ItemIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, itemIDKey)
}

// WithJobID annotates context with the parent job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return withString(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the parent job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, jobIDKey)
}

// WithTenantID annotates context with the owning tenant.
func WithTenantID(ctx context.Context, id string) context.Context {
	return withString(ctx, tenantIDKey, id)
}

// TenantIDFromContext returns the owning tenant if present.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, tenantIDKey)
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithCorrelationID annotates context with a correlation identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withString(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation identifier if present.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, correlationIDKey)
}

// WithMessageID annotates context with the queue message identifier being handled.
func WithMessageID(ctx context.Context, id string) context.Context {
	return withString(ctx, messageIDKey, id)
}

// MessageIDFromContext extracts the queue message identifier if present.
func MessageIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, messageIDKey)
}
