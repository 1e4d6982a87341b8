package auth

import "authgate/internal/domain"

// ResolvePrincipal derives the request principal from verified claims. The
// internal id is left unset for the identity lookup stage.
func ResolvePrincipal(c domain.Claims) domain.Principal {
	return domain.Principal{
		ExternalID: c.Subject,
		Role:       c.Role,
	}
}
