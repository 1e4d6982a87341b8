package gateway

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"authgate/internal/domain"
)

// ErrKeyUnavailable marks a KeySource failure caused by missing or unusable
// key material rather than by the token being verified.
var ErrKeyUnavailable = errors.New("verification key unavailable")

// RequestIDHeader carries the gateway-generated correlation id.
const RequestIDHeader = "X-Request-ID"

// CredentialVerifier checks the bearer credential on a request.
type CredentialVerifier interface {
	VerifyRequest(r *http.Request) (domain.Claims, error)
}

// KeySource supplies the RSA public key used to check token signatures.
type KeySource interface {
	// Key returns the public key for the given key ID. Implementations with a
	// single configured key ignore kid.
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// IdentityLookup maps an external identity to this system's internal id.
type IdentityLookup interface {
	// FindInternalID reports found=false with a nil error when no record
	// exists for externalID.
	FindInternalID(ctx context.Context, externalID string) (id uuid.UUID, found bool, err error)
}

// RateLimiter decides whether a request identified by key should be allowed.
type RateLimiter interface {
	Allow(key string) RateLimitResult
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter int // seconds until next token available; 0 if allowed
}

// StatusWriter wraps http.ResponseWriter to capture the status code and
// whether a response has been committed.
type StatusWriter struct {
	http.ResponseWriter
	Code  int
	Wrote bool
}

func (sw *StatusWriter) WriteHeader(code int) {
	if !sw.Wrote {
		sw.Code = code
		sw.Wrote = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *StatusWriter) Write(b []byte) (int, error) {
	sw.Wrote = true
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *StatusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// ClaimsFromContext extracts verified token claims from a request context.
func ClaimsFromContext(ctx context.Context) (domain.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(domain.Claims)
	return c, ok
}

// ContextWithClaims stores verified token claims in the context.
func ContextWithClaims(ctx context.Context, c domain.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

type claimsKey struct{}

// PrincipalFromContext extracts the authenticated principal from a request context.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// ContextWithPrincipal stores the authenticated principal in the context.
func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

type principalKey struct{}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}
