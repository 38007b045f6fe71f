package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/agrisubsidy/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// resourceKeys maps route prefixes to the span attribute naming their :id.
var resourceKeys = []struct {
	prefix string
	key    attribute.Key
}{
	{"/api/programs/", "program_id"},
	{"/api/batches/", "batch_id"},
	{"/api/inventory-items/", "inventory_id"},
}

// ResourceAttribute names the program, batch or inventory item a route
// addresses. Routes without one report false.
func ResourceAttribute(route, id string) (attribute.KeyValue, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return attribute.KeyValue{}, false
	}
	for _, r := range resourceKeys {
		if strings.HasPrefix(route, r.prefix+":id") {
			return r.key.String(id), true
		}
	}
	return attribute.KeyValue{}, false
}

// GinMiddleware opens a server span per request. Program routes also tag the
// request context so query logs below the handler carry the program id.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("agrisubsidy/http")
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		method := strings.ToUpper(c.Request.Method)

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		}
		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			attrs = append(attrs, attribute.String("request_id", requestID))
		}
		if resource, ok := ResourceAttribute(route, c.Param("id")); ok {
			attrs = append(attrs, resource)
			if resource.Key == "program_id" {
				ctx = obscontext.WithProgramID(ctx, resource.Value.AsString())
			}
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(SafeAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)...)
		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, "request error")
		}
	}
}
