package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Result labels shared by the counters below.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultFound    = "found"
	ResultNotFound = "not_found"
	ResultError    = "error"
	ResultAllowed  = "allowed"
	ResultDenied   = "denied"
)

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes OpenTelemetry with a Prometheus exporter.
// Returns a shutdown function that must be called on exit.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// AuthMetrics holds the OTel instruments for the auth pipeline.
// A nil *AuthMetrics is valid and records nothing.
type AuthMetrics struct {
	httpRequestsTotal       otelmetric.Int64Counter
	httpRequestDuration     otelmetric.Float64Histogram
	authValidationsTotal    otelmetric.Int64Counter
	failuresTotal           otelmetric.Int64Counter
	identityLookupsTotal    otelmetric.Int64Counter
	identityLookupDuration  otelmetric.Float64Histogram
	jwksRefreshesTotal      otelmetric.Int64Counter
	rateLimitDecisionsTotal otelmetric.Int64Counter
	proxyRequestsTotal      otelmetric.Int64Counter
	proxyDuration           otelmetric.Float64Histogram
}

// NewAuthMetrics creates and registers all pipeline metrics.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("authgate")
	m := &AuthMetrics{}
	var err error

	latencyBuckets := otelmetric.WithExplicitBucketBoundaries(
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	)

	if m.httpRequestsTotal, err = meter.Int64Counter("authgate_http_requests_total",
		otelmetric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("creating http_requests_total: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("authgate_http_request_duration_seconds",
		otelmetric.WithDescription("HTTP request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating http_request_duration: %w", err)
	}
	if m.authValidationsTotal, err = meter.Int64Counter("authgate_auth_validations_total",
		otelmetric.WithDescription("Total bearer credential verifications")); err != nil {
		return nil, fmt.Errorf("creating auth_validations_total: %w", err)
	}
	if m.failuresTotal, err = meter.Int64Counter("authgate_failures_total",
		otelmetric.WithDescription("Pipeline failures by error code and stage")); err != nil {
		return nil, fmt.Errorf("creating failures_total: %w", err)
	}
	if m.identityLookupsTotal, err = meter.Int64Counter("authgate_identity_lookups_total",
		otelmetric.WithDescription("Total identity store lookups")); err != nil {
		return nil, fmt.Errorf("creating identity_lookups_total: %w", err)
	}
	if m.identityLookupDuration, err = meter.Float64Histogram("authgate_identity_lookup_duration_seconds",
		otelmetric.WithDescription("Identity store lookup duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating identity_lookup_duration: %w", err)
	}
	if m.jwksRefreshesTotal, err = meter.Int64Counter("authgate_jwks_refreshes_total",
		otelmetric.WithDescription("Total JWKS refreshes")); err != nil {
		return nil, fmt.Errorf("creating jwks_refreshes_total: %w", err)
	}
	if m.rateLimitDecisionsTotal, err = meter.Int64Counter("authgate_ratelimit_decisions_total",
		otelmetric.WithDescription("Total rate limit decisions")); err != nil {
		return nil, fmt.Errorf("creating ratelimit_decisions_total: %w", err)
	}
	if m.proxyRequestsTotal, err = meter.Int64Counter("authgate_proxy_requests_total",
		otelmetric.WithDescription("Total proxy requests")); err != nil {
		return nil, fmt.Errorf("creating proxy_requests_total: %w", err)
	}
	if m.proxyDuration, err = meter.Float64Histogram("authgate_proxy_duration_seconds",
		otelmetric.WithDescription("Proxy request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating proxy_duration: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records a completed request. route is the mux pattern,
// not the raw path, to keep label cardinality bounded.
func (m *AuthMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, durationSec float64) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		methodAttr(method),
		routeAttr(route),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordAuthValidation records a credential verification result.
func (m *AuthMetrics) RecordAuthValidation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.authValidationsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordFailure records a classified pipeline failure.
func (m *AuthMetrics) RecordFailure(ctx context.Context, code, stage string) {
	if m == nil {
		return
	}
	m.failuresTotal.Add(ctx, 1, otelmetric.WithAttributes(
		codeAttr(code),
		stageAttr(stage),
	))
}

// RecordIdentityLookup records an identity store lookup.
func (m *AuthMetrics) RecordIdentityLookup(ctx context.Context, result string, durationSec float64) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(resultAttr(result))
	m.identityLookupsTotal.Add(ctx, 1, attrs)
	m.identityLookupDuration.Record(ctx, durationSec, attrs)
}

// RecordJWKSRefresh records a JWKS refresh attempt.
func (m *AuthMetrics) RecordJWKSRefresh(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.jwksRefreshesTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordRateLimitDecision records a rate limit decision.
func (m *AuthMetrics) RecordRateLimitDecision(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.rateLimitDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordProxyRequest records a proxied request to a backend.
func (m *AuthMetrics) RecordProxyRequest(ctx context.Context, backend string, status int, durationSec float64) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		backendAttr(backend),
		statusAttr(status),
	)
	m.proxyRequestsTotal.Add(ctx, 1, attrs)
	m.proxyDuration.Record(ctx, durationSec, attrs)
}
