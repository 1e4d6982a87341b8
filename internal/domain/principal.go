package domain

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AnonymousPrincipal is logged in place of an external id when no principal
// was attached to the request.
const AnonymousPrincipal = "anonymous"

// Claims is the verified payload of a bearer token.
type Claims struct {
	Subject   string
	Role      string // empty when the token carries no role
	Issuer    string
	TokenID   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	NotBefore time.Time
}

// Principal is the request-scoped identity derived from verified claims.
// InternalID stays uuid.Nil until the identity lookup stage resolves it.
type Principal struct {
	ExternalID string
	Role       string
	InternalID uuid.UUID
}

// HasRole reports whether the token carried a role claim.
func (p Principal) HasRole() bool {
	return p.Role != ""
}

// Resolved reports whether the internal identifier has been looked up.
func (p Principal) Resolved() bool {
	return p.InternalID != uuid.Nil
}

// WithInternalID returns a copy of p with the internal identifier set.
func (p Principal) WithInternalID(id uuid.UUID) Principal {
	p.InternalID = id
	return p
}

// LogValue implements slog.LogValuer.
func (p Principal) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("external_id", p.ExternalID)}
	if p.HasRole() {
		attrs = append(attrs, slog.String("role", p.Role))
	}
	if p.Resolved() {
		attrs = append(attrs, slog.String("internal_id", p.InternalID.String()))
	}
	return slog.GroupValue(attrs...)
}
