package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
)

const (
	bearerPrefix  = "Bearer "
	defaultLeeway = 30 * time.Second
	signingMethod = "RS256"
	authorization = "Authorization"
)

var errEmptySubject = errors.New("token has no subject")

// tokenClaims is the wire shape of the identity provider's token payload.
type tokenClaims struct {
	Role *string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type verifierOptions struct {
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*verifierOptions)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(o *verifierOptions) { o.issuer = issuer }
}

// WithLeeway sets clock skew tolerance for exp, nbf and iat.
func WithLeeway(d time.Duration) Option {
	return func(o *verifierOptions) { o.leeway = d }
}

// WithClock overrides the time source used for claim validation.
func WithClock(now func() time.Time) Option {
	return func(o *verifierOptions) { o.now = now }
}

// Verifier validates RS256 bearer tokens. It holds no per-request state and
// is safe for concurrent use.
type Verifier struct {
	keys   gw.KeySource
	parser *jwt.Parser
}

var _ gw.CredentialVerifier = (*Verifier)(nil)

// NewVerifier creates a Verifier that checks signatures with keys from ks.
func NewVerifier(ks gw.KeySource, opts ...Option) *Verifier {
	o := verifierOptions{leeway: defaultLeeway}
	for _, opt := range opts {
		opt(&o)
	}

	// RS256 only. An HS256 token must never be checked against the public key as a secret.
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithLeeway(o.leeway),
		jwt.WithExpirationRequired(),
	}
	if o.issuer != "" {
		popts = append(popts, jwt.WithIssuer(o.issuer))
	}
	if o.now != nil {
		popts = append(popts, jwt.WithTimeFunc(o.now))
	}

	return &Verifier{
		keys:   ks,
		parser: jwt.NewParser(popts...),
	}
}

// VerifyRequest verifies the Authorization header of r.
func (v *Verifier) VerifyRequest(r *http.Request) (domain.Claims, error) {
	values, ok := r.Header[authorization]
	if !ok || len(values) == 0 {
		return domain.Claims{}, domain.MissingCredential()
	}
	return v.Verify(r.Context(), values[0])
}

// Verify checks a raw Authorization header value of the form "Bearer <token>"
// and returns the decoded claims.
func (v *Verifier) Verify(ctx context.Context, header string) (domain.Claims, error) {
	raw, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok {
		return domain.Claims{}, domain.MalformedCredential()
	}

	var tc tokenClaims
	token, err := v.parser.ParseWithClaims(raw, &tc, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, gw.ErrKeyUnavailable) {
			return domain.Claims{}, domain.KeyConfigurationInvalid(err)
		}
		return domain.Claims{}, domain.InvalidCredential(err)
	}
	if !token.Valid {
		return domain.Claims{}, domain.InvalidCredential(jwt.ErrTokenSignatureInvalid)
	}
	if tc.Subject == "" {
		return domain.Claims{}, domain.InvalidCredential(errEmptySubject)
	}

	return toClaims(tc), nil
}

func toClaims(tc tokenClaims) domain.Claims {
	c := domain.Claims{
		Subject: tc.Subject,
		Issuer:  tc.Issuer,
		TokenID: tc.ID,
	}
	if tc.Role != nil {
		c.Role = *tc.Role
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	if tc.IssuedAt != nil {
		c.IssuedAt = tc.IssuedAt.Time
	}
	if tc.NotBefore != nil {
		c.NotBefore = tc.NotBefore.Time
	}
	return c
}
