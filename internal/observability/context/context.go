package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	actorIDKey   ctxKey = "actor_id"
	programIDKey ctxKey = "program_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	return valueOf(ctx, requestIDKey)
}

// WithActorID records the acting principal for log correlation only. Services
// receive the actor explicitly in their requests.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
}

func ActorIDFromContext(ctx context.Context) string {
	return valueOf(ctx, actorIDKey)
}

// WithProgramID tags the request with the subsidy program it addresses so
// query and request logs can be grouped per program.
func WithProgramID(ctx context.Context, programID string) context.Context {
	return context.WithValue(ctx, programIDKey, strings.TrimSpace(programID))
}

func ProgramIDFromContext(ctx context.Context) string {
	return valueOf(ctx, programIDKey)
}

func valueOf(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
