package testutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GenerateTestKeyPair generates an RSA key pair for testing.
// Returns (keyID, privateKey, publicKey).
func GenerateTestKeyPair(t *testing.T) (string, *rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	kid := fmt.Sprintf("test-key-%d", time.Now().UnixNano())
	return kid, priv, &priv.PublicKey
}

// KeyComponents returns the base64url modulus and exponent of pub, the form
// the gateway reads from AUTH_RSA_MODULUS and AUTH_RSA_EXPONENT.
func KeyComponents(pub *rsa.PublicKey) (modulus, exponent string) {
	return base64URLEncode(pub.N.Bytes()), base64URLEncode(big.NewInt(int64(pub.E)).Bytes())
}

// IssueTestToken creates a signed RS256 JWT for subject with an optional role.
// A negative ttl produces an already-expired token.
func IssueTestToken(t *testing.T, kid string, priv *rsa.PrivateKey, subject, role string, ttl time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"nbf": now.Add(-1 * time.Minute).Unix(),
		"exp": now.Add(ttl).Unix(),
		"iss": "authgate-test",
		"jti": uuid.NewString(),
	}
	if role != "" {
		claims["role"] = role
	}
	return SignClaims(t, kid, priv, claims)
}

// SignClaims creates a signed RS256 JWT with arbitrary claims.
func SignClaims(t *testing.T, kid string, priv *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// MockJWKSHandler returns an http.Handler that serves a JWKS response
// containing the given public key.
func MockJWKSHandler(kid string, pub *rsa.PublicKey) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, e := KeyComponents(pub)
		jwks := map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": kid,
					"n":   n,
					"e":   e,
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	})
}

// MockBackendHandler returns an http.Handler that echoes request details.
// Used to test that the gateway forwards the resolved principal.
func MockBackendHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"backend":        name,
			"method":         r.Method,
			"path":           r.URL.Path,
			"principal_id":   r.Header.Get("X-Principal-ID"),
			"principal_role": r.Header.Get("X-Principal-Role"),
			"internal_id":    r.Header.Get("X-Internal-ID"),
			"request_id":     r.Header.Get("X-Request-ID"),
			"authorization":  r.Header.Get("Authorization"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

// LookupFunc adapts a function to the gateway.IdentityLookup interface.
type LookupFunc func(ctx context.Context, externalID string) (uuid.UUID, bool, error)

func (f LookupFunc) FindInternalID(ctx context.Context, externalID string) (uuid.UUID, bool, error) {
	return f(ctx, externalID)
}

// CountingLookup records how many times the wrapped lookup was called.
type CountingLookup struct {
	Next interface {
		FindInternalID(ctx context.Context, externalID string) (uuid.UUID, bool, error)
	}

	mu    sync.Mutex
	calls []string
}

func (c *CountingLookup) FindInternalID(ctx context.Context, externalID string) (uuid.UUID, bool, error) {
	c.mu.Lock()
	c.calls = append(c.calls, externalID)
	c.mu.Unlock()
	if c.Next == nil {
		return uuid.Nil, false, nil
	}
	return c.Next.FindInternalID(ctx, externalID)
}

// Calls returns the external ids looked up so far.
func (c *CountingLookup) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
