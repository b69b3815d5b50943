package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests the mux could not route to a handler, so
// 404 noise never fans out into per-path metric series.
const unmatchedRoute = "unmatched"

// responseCapture wraps [http.ResponseWriter] to record the status code
// written by the downstream handler.
type responseCapture struct {
	http.ResponseWriter
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the correction API. For each request it continues
// (or starts) the W3C trace from the incoming headers, exposes the trace ID
// as X-Correlation-ID, records request latency, and logs completion.
//
// Span and metric identity use the matched mux pattern, e.g.
// "POST /v1/videos/{video}/correct", never the raw URL path: the path embeds
// video and tenant IDs, and one series per sermon upload would make the
// latency histograms unusable. The IDs themselves go onto the span and the
// completion log instead, where per-church filtering wants them.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &responseCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The mux fills in Pattern and the path values while routing,
			// so the route identity is only known after the handler ran.
			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			span.SetName(route)
			span.SetAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPResponseStatusCode(rec.status),
			)

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
				),
			)

			attrs := []slog.Attr{
				slog.String("trace_id", cid),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", duration),
			}
			if tenant := r.PathValue("tenant"); tenant != "" {
				span.SetAttributes(attribute.String("verbatim.tenant_id", tenant))
				attrs = append(attrs, slog.String("tenant_id", tenant))
			}
			if video := r.PathValue("video"); video != "" {
				span.SetAttributes(attribute.String("verbatim.video_id", video))
				attrs = append(attrs, slog.String("video_id", video))
			}

			slog.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
		})
	}
}
