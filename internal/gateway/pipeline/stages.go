package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/gateway/auth"
	"authgate/internal/platform/telemetry"
)

// Stage names as they appear in logs and the failures metric.
const (
	StageLimitBody         = "limit_body"
	StageRateLimit         = "rate_limit"
	StageVerifyCredential  = "verify_credential"
	StageAttachPrincipal   = "attach_principal"
	StageResolveInternalID = "resolve_internal_id"
)

var (
	errNoClaims    = errors.New("no verified claims on request")
	errNoPrincipal = errors.New("no principal attached to request")
	errNilID       = errors.New("identity store returned a nil id")
)

// LimitBody rejects a declared Content-Length over maxBytes and caps bodies
// of unknown length, so a handler that reads past the limit gets an
// *http.MaxBytesError.
func LimitBody(maxBytes int64) Stage {
	return stageFunc{name: StageLimitBody, fn: func(r *http.Request) (*http.Request, error) {
		if r.ContentLength > maxBytes {
			return r, domain.PayloadTooLarge(fmt.Errorf("content length %d exceeds %d bytes", r.ContentLength, maxBytes))
		}
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
		}
		return r, nil
	}}
}

type stageFunc struct {
	name string
	fn   func(r *http.Request) (*http.Request, error)
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Advance(r *http.Request) (*http.Request, error) { return s.fn(r) }

// RateLimit rejects callers that exceed the per-IP budget.
// The metrics parameter is optional; pass nil to skip metric recording.
func RateLimit(limiter gw.RateLimiter, m *telemetry.AuthMetrics) Stage {
	return stageFunc{name: StageRateLimit, fn: func(r *http.Request) (*http.Request, error) {
		result := limiter.Allow(clientIP(r))
		if !result.Allowed {
			m.RecordRateLimitDecision(r.Context(), telemetry.ResultDenied)
			return r, domain.RateLimited(result.RetryAfter)
		}
		m.RecordRateLimitDecision(r.Context(), telemetry.ResultAllowed)
		return r, nil
	}}
}

// VerifyCredential checks the bearer token and stores its claims on the
// request context.
func VerifyCredential(v gw.CredentialVerifier, m *telemetry.AuthMetrics) Stage {
	return stageFunc{name: StageVerifyCredential, fn: func(r *http.Request) (*http.Request, error) {
		claims, err := v.VerifyRequest(r)
		if err != nil {
			m.RecordAuthValidation(r.Context(), telemetry.ResultFailure)
			return r, err
		}
		m.RecordAuthValidation(r.Context(), telemetry.ResultSuccess)
		return r.WithContext(gw.ContextWithClaims(r.Context(), claims)), nil
	}}
}

// AttachPrincipal derives the Principal from verified claims. It must run
// after VerifyCredential.
func AttachPrincipal() Stage {
	return stageFunc{name: StageAttachPrincipal, fn: func(r *http.Request) (*http.Request, error) {
		claims, ok := gw.ClaimsFromContext(r.Context())
		if !ok {
			return r, domain.Unclassified(errNoClaims)
		}
		principal := auth.ResolvePrincipal(claims)
		return r.WithContext(gw.ContextWithPrincipal(r.Context(), principal)), nil
	}}
}

// ResolveInternalID maps the attached principal's external id to the
// internal id. timeout bounds the lookup; zero leaves it to the request
// context.
// The metrics parameter is optional; pass nil to skip metric recording.
func ResolveInternalID(lookup gw.IdentityLookup, timeout time.Duration, m *telemetry.AuthMetrics) Stage {
	return stageFunc{name: StageResolveInternalID, fn: func(r *http.Request) (*http.Request, error) {
		principal, ok := gw.PrincipalFromContext(r.Context())
		if !ok {
			return r, domain.Unclassified(errNoPrincipal)
		}

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		id, found, err := lookup.FindInternalID(ctx, principal.ExternalID)
		elapsed := time.Since(start).Seconds()

		switch {
		case err != nil:
			m.RecordIdentityLookup(r.Context(), telemetry.ResultError, elapsed)
			if r.Context().Err() != nil {
				return r, domain.Canceled(err)
			}
			return r, domain.LookupUnavailable(err)
		case !found:
			m.RecordIdentityLookup(r.Context(), telemetry.ResultNotFound, elapsed)
			return r, domain.PrincipalNotFound(principal.ExternalID)
		case id == uuid.Nil:
			m.RecordIdentityLookup(r.Context(), telemetry.ResultError, elapsed)
			return r, domain.LookupUnavailable(errNilID)
		}

		m.RecordIdentityLookup(r.Context(), telemetry.ResultFound, elapsed)
		return r.WithContext(gw.ContextWithPrincipal(r.Context(), principal.WithInternalID(id))), nil
	}}
}

func clientIP(r *http.Request) string {
	// Use RemoteAddr directly. X-Forwarded-For is client-controlled and
	// must not be trusted without a validated trusted proxy list.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
