// Package router assembles the gateway's route table from its pipelines.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	gw "authgate/internal/gateway"
	"authgate/internal/gateway/middleware"
	"authgate/internal/gateway/pipeline"
	"authgate/internal/platform/telemetry"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the routes are built from.
type Deps struct {
	Verifier gw.CredentialVerifier
	Lookup   gw.IdentityLookup
	Limiter  gw.RateLimiter
	Backend  pipeline.Handler
	Logger   *slog.Logger
	Metrics  *telemetry.AuthMetrics // optional

	// Ready maps a dependency name to its health check.
	Ready map[string]Pinger

	// Metrics exposition; nil leaves /metrics unregistered.
	MetricsHandler http.Handler

	LookupTimeout  time.Duration
	HandlerTimeout time.Duration
	MaxBodyBytes   int64
}

// New builds the gateway handler:
//
//	GET  /healthz    liveness
//	GET  /readyz     pings Deps.Ready
//	GET  /metrics    Prometheus
//	POST /v1/users   body limit, rate limit, verify, attach principal, proxy
//	     /v1/        body limit, rate limit, verify, attach principal, resolve internal id, proxy
//
// Registration runs before the user record exists, so it skips the
// internal id lookup.
func New(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := pipeline.NewSink(logger, d.Metrics)
	handlerTimeout := pipeline.WithHandlerTimeout(d.HandlerTimeout)

	var identityOnly []pipeline.Stage
	if d.MaxBodyBytes > 0 {
		identityOnly = append(identityOnly, pipeline.LimitBody(d.MaxBodyBytes))
	}
	identityOnly = append(identityOnly,
		pipeline.RateLimit(d.Limiter, d.Metrics),
		pipeline.VerifyCredential(d.Verifier, d.Metrics),
		pipeline.AttachPrincipal(),
	)
	resolved := append(identityOnly[:len(identityOnly):len(identityOnly)],
		pipeline.ResolveInternalID(d.Lookup, d.LookupTimeout, d.Metrics),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz)
	mux.Handle("GET /readyz", readyz(d.Ready, logger))
	if d.MetricsHandler != nil {
		mux.Handle("GET /metrics", d.MetricsHandler)
	}

	mux.Handle("POST /v1/users", pipeline.New("POST /v1/users", d.Backend, sink, identityOnly, handlerTimeout))
	mux.Handle("/v1/", pipeline.New("/v1/", d.Backend, sink, resolved, handlerTimeout))

	return middleware.Chain(mux, middleware.Recovery(logger))
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports 503 naming the failing dependencies. Causes are logged, not
// returned.
func readyz(checks map[string]Pinger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		var failing []string
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", "dependency", name, "error", err)
				failing = append(failing, name)
			}
		}

		if len(failing) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "unavailable",
				"failing": failing,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
