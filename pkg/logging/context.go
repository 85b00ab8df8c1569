package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey       = "trace_id"
	MessageIDKey     = "message_id"
	MessageTypeKey   = "message_type"
	CorrelationIDKey = "correlation_id"
	EndpointKey      = "endpoint"
	ScopeIDKey       = "scope_id"
	ServiceNameKey   = "service_name"
)

// fieldOrder fixes the order in which context fields are emitted.
var fieldOrder = []string{
	TraceIDKey,
	MessageIDKey,
	MessageTypeKey,
	CorrelationIDKey,
	EndpointKey,
	ScopeIDKey,
	ServiceNameKey,
}

func with(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, contextKey(key), value)
}

func get(ctx context.Context, key string) string {
	if v, ok := ctx.Value(contextKey(key)).(string); ok {
		return v
	}
	return ""
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, TraceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return with(ctx, MessageIDKey, messageID)
}

func WithMessageType(ctx context.Context, messageType string) context.Context {
	return with(ctx, MessageTypeKey, messageType)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return with(ctx, CorrelationIDKey, correlationID)
}

func WithEndpoint(ctx context.Context, endpoint string) context.Context {
	return with(ctx, EndpointKey, endpoint)
}

func WithScopeID(ctx context.Context, scopeID string) context.Context {
	return with(ctx, ScopeIDKey, scopeID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return with(ctx, ServiceNameKey, serviceName)
}

func GetTraceID(ctx context.Context) string {
	return get(ctx, TraceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return get(ctx, MessageIDKey)
}

func GetMessageType(ctx context.Context) string {
	return get(ctx, MessageTypeKey)
}

func GetEndpoint(ctx context.Context) string {
	return get(ctx, EndpointKey)
}

func GetScopeID(ctx context.Context) string {
	return get(ctx, ScopeIDKey)
}

func GetCorrelationID(ctx context.Context) string {
	return get(ctx, CorrelationIDKey)
}

func GetServiceName(ctx context.Context) string {
	return get(ctx, ServiceNameKey)
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, len(fieldOrder)*2)

	for _, key := range fieldOrder {
		if v := get(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
