package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-room-service/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "quiz-room", time.Hour)
	token, err := svc.GenerateToken(domain.Identity{UserID: "u1", DisplayName: "Alice", Role: domain.RoleInstructor})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id, err := svc.ResolveIdentity(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.UserID != "u1" || id.DisplayName != "Alice" || !id.CanHost() {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestRejectsBadTokens(t *testing.T) {
	svc := NewJWTService("secret", "quiz-room", time.Hour)
	token, _ := svc.GenerateToken(domain.Identity{UserID: "u1"})

	other := NewJWTService("other-secret", "quiz-room", time.Hour)
	if _, err := other.ResolveIdentity(context.Background(), token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for wrong key, got %v", err)
	}
	wrongIssuer := NewJWTService("secret", "someone-else", time.Hour)
	if _, err := wrongIssuer.ResolveIdentity(context.Background(), token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for wrong issuer, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.ResolveIdentity(context.Background(), token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for expired token, got %v", err)
	}
	if _, err := svc.ResolveIdentity(context.Background(), "garbage"); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization kind, got %v", err)
	}
}

func TestDefaultsToStudentRole(t *testing.T) {
	svc := NewJWTService("secret", "quiz-room", time.Hour)
	token, _ := svc.GenerateToken(domain.Identity{UserID: "u2"})
	id, err := svc.ResolveIdentity(context.Background(), token)
	if err != nil || id.Role != domain.RoleStudent || id.CanHost() {
		t.Fatalf("expected student identity, got %+v %v", id, err)
	}
}
