package auth_test

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate/internal/domain"
	"authgate/internal/gateway/auth"
	"authgate/internal/testutil"
)

type signer struct {
	t    *testing.T
	kid  string
	priv *rsa.PrivateKey
}

func (s signer) issue(subject, role string, ttl time.Duration) string {
	return testutil.IssueTestToken(s.t, s.kid, s.priv, subject, role, ttl)
}

func (s signer) sign(claims jwt.MapClaims) string {
	return testutil.SignClaims(s.t, s.kid, s.priv, claims)
}

func newTestVerifier(t *testing.T, opts ...auth.Option) (*auth.Verifier, signer) {
	t.Helper()
	kid, priv, pub := testutil.GenerateTestKeyPair(t)
	return auth.NewVerifier(auth.StaticKeyFrom(pub), opts...), signer{t: t, kid: kid, priv: priv}
}

func TestVerifyValidToken(t *testing.T) {
	v, s := newTestVerifier(t)
	token := s.issue("user_abc", "org:admin", 15*time.Minute)

	claims, err := v.Verify(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user_abc" {
		t.Errorf("expected subject 'user_abc', got %q", claims.Subject)
	}
	if claims.Role != "org:admin" {
		t.Errorf("expected role 'org:admin', got %q", claims.Role)
	}
	if claims.Issuer != "authgate-test" {
		t.Errorf("expected issuer 'authgate-test', got %q", claims.Issuer)
	}
	if claims.TokenID == "" {
		t.Error("expected token id")
	}
	if !claims.ExpiresAt.After(time.Now()) {
		t.Errorf("expected future expiry, got %s", claims.ExpiresAt)
	}
	if claims.NotBefore.IsZero() || claims.IssuedAt.IsZero() {
		t.Error("expected nbf and iat to be decoded")
	}
}

func TestVerifyTokenWithoutRole(t *testing.T) {
	v, s := newTestVerifier(t)

	claims, err := v.Verify(context.Background(), "Bearer "+s.issue("user_123", "", 15*time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Role != "" {
		t.Errorf("expected no role, got %q", claims.Role)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	v, s := newTestVerifier(t)
	header := "Bearer " + s.issue("user_abc", "", 15*time.Minute)

	first, err := v.Verify(context.Background(), header)
	if err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	second, err := v.Verify(context.Background(), header)
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if first != second {
		t.Errorf("claims differ between verifications: %+v vs %+v", first, second)
	}
}

func TestVerifyRequestMissingHeader(t *testing.T) {
	v, _ := newTestVerifier(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/pets", nil)
	_, err := v.VerifyRequest(req)
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", err)
	}
}

func TestVerifyRequestEmptyHeaderIsMalformed(t *testing.T) {
	v, _ := newTestVerifier(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/pets", nil)
	req.Header["Authorization"] = []string{""}
	_, err := v.VerifyRequest(req)
	if !errors.Is(err, domain.ErrMalformedCredential) {
		t.Errorf("expected ErrMalformedCredential, got %v", err)
	}
}

func TestVerifyMalformedHeader(t *testing.T) {
	v, s := newTestVerifier(t)
	token := s.issue("user_1", "", 15*time.Minute)

	tests := []struct {
		name   string
		header string
	}{
		{"no scheme", token},
		{"lowercase bearer", "bearer " + token},
		{"uppercase BEARER", "BEARER " + token},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"no space after Bearer", "Bearer" + token},
		{"leading space", " Bearer " + token},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.header)
			if !errors.Is(err, domain.ErrMalformedCredential) {
				t.Errorf("expected ErrMalformedCredential, got %v", err)
			}
		})
	}
}

func TestVerifyInvalidTokens(t *testing.T) {
	v, s := newTestVerifier(t)
	_, otherPriv, _ := testutil.GenerateTestKeyPair(t)
	now := time.Now()

	hsToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user_1",
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("signing HS256: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", s.issue("user_1", "", -1*time.Minute)},
		{"signed by another key", testutil.IssueTestToken(t, s.kid, otherPriv, "user_1", "", 15*time.Minute)},
		{"alg none", "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ0ZXN0In0."},
		{"hs256", hsToken},
		{"garbage", "invalid.token.here"},
		{"empty token", ""},
		{"trailing content", s.issue("user_1", "", 15*time.Minute) + " extra"},
		{"not yet valid", s.sign(jwt.MapClaims{
			"sub": "user_1",
			"nbf": now.Add(10 * time.Minute).Unix(),
			"exp": now.Add(time.Hour).Unix(),
		})},
		{"no expiry", s.sign(jwt.MapClaims{"sub": "user_1"})},
		{"empty subject", s.sign(jwt.MapClaims{
			"sub": "",
			"exp": now.Add(time.Hour).Unix(),
		})},
		{"missing subject", s.sign(jwt.MapClaims{
			"exp": now.Add(time.Hour).Unix(),
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), "Bearer "+tt.token)
			if !errors.Is(err, domain.ErrInvalidCredential) {
				t.Errorf("expected ErrInvalidCredential, got %v", err)
			}
		})
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	v, s := newTestVerifier(t)
	token := s.issue("user_1", "", 15*time.Minute)
	other := s.issue("user_2", "org:admin", 15*time.Minute)

	// Splice the second token's payload onto the first token's signature.
	tampered := splitJWT(token)[0] + "." + splitJWT(other)[1] + "." + splitJWT(token)[2]

	_, err := v.Verify(context.Background(), "Bearer "+tampered)
	if !errors.Is(err, domain.ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestVerifyWithinLeeway(t *testing.T) {
	v, s := newTestVerifier(t, auth.WithLeeway(time.Minute))

	token := s.issue("user_1", "", -10*time.Second)
	if _, err := v.Verify(context.Background(), "Bearer "+token); err != nil {
		t.Errorf("expected token inside leeway to verify, got %v", err)
	}
}

func TestVerifyIssuer(t *testing.T) {
	v, s := newTestVerifier(t, auth.WithIssuer("https://clerk.example.com"))

	_, err := v.Verify(context.Background(), "Bearer "+s.issue("user_1", "", 15*time.Minute))
	if !errors.Is(err, domain.ErrInvalidCredential) {
		t.Errorf("expected issuer mismatch to be ErrInvalidCredential, got %v", err)
	}

	token := s.sign(jwt.MapClaims{
		"sub": "user_1",
		"iss": "https://clerk.example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.Verify(context.Background(), "Bearer "+token); err != nil {
		t.Errorf("expected matching issuer to verify, got %v", err)
	}
}

func TestVerifyWithClock(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	v, s := newTestVerifier(t, auth.WithClock(func() time.Time { return past }))

	token := s.sign(jwt.MapClaims{
		"sub": "user_1",
		"nbf": past.Add(-time.Minute).Unix(),
		"exp": past.Add(time.Minute).Unix(),
	})
	if _, err := v.Verify(context.Background(), "Bearer "+token); err != nil {
		t.Errorf("expected token valid at injected clock, got %v", err)
	}
}

func TestVerifyKeyConfigurationInvalid(t *testing.T) {
	kid, priv, _ := testutil.GenerateTestKeyPair(t)

	keys, err := auth.NewStaticKey("not*base64", "AQAB")
	if err == nil {
		t.Fatal("expected key construction error")
	}
	v := auth.NewVerifier(keys)

	token := testutil.IssueTestToken(t, kid, priv, "user_1", "", 15*time.Minute)
	_, err = v.Verify(context.Background(), "Bearer "+token)
	if !errors.Is(err, domain.ErrKeyConfigurationInvalid) {
		t.Errorf("expected ErrKeyConfigurationInvalid, got %v", err)
	}
	if errors.Is(err, domain.ErrInvalidCredential) {
		t.Error("key misconfiguration must not be reported as an invalid credential")
	}
}

func splitJWT(token string) [3]string {
	var parts [3]string
	i := 0
	start := 0
	for j := 0; j < len(token) && i < 2; j++ {
		if token[j] == '.' {
			parts[i] = token[start:j]
			start = j + 1
			i++
		}
	}
	parts[2] = token[start:]
	return parts
}
