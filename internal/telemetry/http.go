package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HTTPInstrumentationName names the tracer and meter of the HTTP layer
	HTTPInstrumentationName = "github.com/sentinelmarket/sentinel-sync/http"

	// Span attributes for the identifiers in a sync API path
	ViewKey         = attribute.Key("sentinel.view")
	SessionKey      = attribute.Key("sentinel.session")
	NotificationKey = attribute.Key("sentinel.notification")
	PipelineKey     = attribute.Key("sentinel.pipeline")

	unknownRoute = "unknown_route"
	unknownView  = "unknown_view"
)

// routeKeys maps chi URL parameters of the sync API to span attributes
var routeKeys = map[string]attribute.Key{
	"view":         ViewKey,
	"session":      SessionKey,
	"notification": NotificationKey,
	"pipeline":     PipelineKey,
}

// HTTPMetrics holds the OpenTelemetry instruments for the sync API
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the HTTP instruments on provider.
// If provider is nil, it returns nil (no-op metrics).
func NewHTTPMetrics(provider metric.MeterProvider) (*HTTPMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(HTTPInstrumentationName)

	requestDuration, err := meter.Float64Histogram(
		"sentinel_sync_http_request_duration_seconds",
		metric.WithDescription("Duration of sync API requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"sentinel_sync_http_requests_total",
		metric.WithDescription("Total number of sync API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"sentinel_sync_http_active_requests",
		metric.WithDescription("Number of in-flight sync API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requestDuration: requestDuration,
		requestsTotal:   requestsTotal,
		activeRequests:  activeRequests,
	}, nil
}

// HTTPMiddleware traces and measures every sync API request. Spans are named
// after the chi route and carry the identifiers from the request path.
// Metrics are labelled with the route and view only, never the session.
// A nil provider disables its half; with both nil the middleware passes through.
func HTTPMiddleware(tp trace.TracerProvider, mp metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	metrics, err := NewHTTPMetrics(mp)
	if err != nil {
		return nil, err
	}

	var tracer trace.Tracer
	if tp != nil {
		tracer = tp.Tracer(HTTPInstrumentationName)
	}

	if tracer == nil && metrics == nil {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			var span trace.Span
			if tracer != nil {
				ctx = propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
				// Renamed to the route pattern once chi has routed the request
				ctx, span = tracer.Start(ctx, fmt.Sprintf("%s %s", r.Method, r.URL.Path),
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						semconv.HTTPRequestMethodKey.String(r.Method),
						semconv.URLPath(r.URL.Path),
						semconv.UserAgentOriginal(r.UserAgent()),
					),
				)
				defer span.End()
			}

			if metrics != nil {
				metrics.activeRequests.Add(ctx, 1)
			}

			next.ServeHTTP(ww, r.WithContext(ctx))

			route, params := routeOf(r)
			status := ww.Status()

			if span != nil {
				span.SetName(fmt.Sprintf("%s %s", r.Method, route))
				span.SetAttributes(
					semconv.HTTPRouteKey.String(route),
					semconv.HTTPResponseStatusCode(status),
				)
				span.SetAttributes(params...)
				if status >= http.StatusBadRequest {
					span.SetStatus(codes.Error, http.StatusText(status))
				} else {
					span.SetStatus(codes.Ok, "")
				}
			}

			if metrics != nil {
				metrics.activeRequests.Add(ctx, -1)
				attrs := metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.String("status_code", strconv.Itoa(status)),
					attribute.String("view", viewLabel(params, status)),
				)
				metrics.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
				metrics.requestsTotal.Add(ctx, 1, attrs)
			}
		})
	}, nil
}

// routeOf returns the chi route pattern of a routed request and the sync
// identifiers taken from its URL. Unrouted requests report unknownRoute so
// arbitrary paths cannot become metric labels.
func routeOf(r *http.Request) (string, []attribute.KeyValue) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return unknownRoute, nil
	}

	var params []attribute.KeyValue
	for i, name := range rctx.URLParams.Keys {
		if key, ok := routeKeys[name]; ok && i < len(rctx.URLParams.Values) {
			params = append(params, key.String(rctx.URLParams.Values[i]))
		}
	}
	return rctx.RoutePattern(), params
}

// viewLabel is the view a request mounted, or empty for routes without one.
// Rejected requests report unknownView since their view may not exist.
func viewLabel(params []attribute.KeyValue, status int) string {
	for _, kv := range params {
		if kv.Key != ViewKey {
			continue
		}
		if status >= http.StatusBadRequest {
			return unknownView
		}
		return kv.Value.AsString()
	}
	return ""
}
