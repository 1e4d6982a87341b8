package auth_test

import (
	"context"
	"testing"
	"time"

	"authgate/internal/domain"
	"authgate/internal/gateway/auth"
)

func TestResolvePrincipal(t *testing.T) {
	tests := []struct {
		name   string
		claims domain.Claims
		want   domain.Principal
	}{
		{
			name:   "subject and role",
			claims: domain.Claims{Subject: "user_abc", Role: "org:admin"},
			want:   domain.Principal{ExternalID: "user_abc", Role: "org:admin"},
		},
		{
			name:   "subject only",
			claims: domain.Claims{Subject: "user_123"},
			want:   domain.Principal{ExternalID: "user_123"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := auth.ResolvePrincipal(tt.claims)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if got.Resolved() {
				t.Error("principal should not carry an internal id yet")
			}
		})
	}
}

func TestResolveVerifiedToken(t *testing.T) {
	v, s := newTestVerifier(t)

	claims, err := v.Verify(context.Background(), "Bearer "+s.issue("user_123", "", time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	p := auth.ResolvePrincipal(claims)
	if p.ExternalID != "user_123" {
		t.Errorf("expected external id user_123, got %q", p.ExternalID)
	}
	if p.HasRole() {
		t.Errorf("expected no role, got %q", p.Role)
	}
}
