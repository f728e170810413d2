package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/trafficwatch/trafficwatch/internal/api/middleware"

// Span attribute keys for dashboard requests.
const (
	AttrCameraID  = attribute.Key("traffic.camera.id")
	AttrDistrict  = attribute.Key("traffic.district")
	AttrStream    = attribute.Key("traffic.stream")
	AttrRequestID = attribute.Key("request.id")
)

// Tracing returns a middleware that creates one server span per request.
// Incoming trace context is honoured. Once the handler returns, the span is
// renamed after the matched route and tagged with the camera and district
// the request asked about. Ops probes get no span.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbe(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("service.name", serviceName),
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String("user_agent.original", r.UserAgent()),
					attribute.String("client.address", r.RemoteAddr),
				),
			)
			defer span.End()

			if id := GetRequestID(ctx); id != "" {
				span.SetAttributes(AttrRequestID.String(id))
			}
			if district := r.URL.Query().Get("district"); district != "" {
				span.SetAttributes(AttrDistrict.String(district))
			}
			upgrade := isUpgrade(r)
			if upgrade {
				span.SetAttributes(AttrStream.Bool(true))
			}

			wrapped := newStatusRecorder(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(wrapped, r)

			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", wrapped.statusCode),
			)
			if id := chi.URLParam(r, "cameraId"); id != "" {
				span.SetAttributes(AttrCameraID.String(id))
			}
			// A hijacked stream has no meaningful body size.
			if !upgrade {
				span.SetAttributes(attribute.Int64("http.response.body.size", wrapped.written))
			}

			if wrapped.statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(wrapped.statusCode))
			}
		})
	}
}

func isProbe(path string) bool {
	return path == "/v1/ops/health" || path == "/v1/ops/ready"
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
