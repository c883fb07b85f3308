package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/domain"
)

func testConfig(secret string) config.AuthConfig {
	return config.AuthConfig{
		Enabled:     true,
		JWTSecret:   secret,
		TokenExpiry: 15 * time.Minute,
	}
}

func TestJWTManager_Generate(t *testing.T) {
	manager := NewJWTManager(testConfig("test-secret-key-at-least-32-bytes-long"))

	token, err := manager.Generate("alice", RoleOperator)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if token.AccessToken == "" {
		t.Error("Expected access token to be set")
	}
	if token.TokenType != "Bearer" {
		t.Errorf("Expected token type 'Bearer', got '%s'", token.TokenType)
	}
	if token.ExpiresAt.Before(time.Now()) {
		t.Error("Token should not be expired")
	}
}

func TestJWTManager_Generate_Rejects(t *testing.T) {
	manager := NewJWTManager(testConfig("test-secret-key-at-least-32-bytes-long"))

	if _, err := manager.Generate("", RoleViewer); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for empty operator, got %v", err)
	}
	if _, err := manager.Generate("alice", Role("root")); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for unknown role, got %v", err)
	}
}

func TestJWTManager_Verify_ValidToken(t *testing.T) {
	manager := NewJWTManager(testConfig("test-secret-key-at-least-32-bytes-long"))

	token, err := manager.Generate("alice", RoleViewer)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := manager.Verify(token.AccessToken)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Operator != "alice" {
		t.Errorf("Expected operator 'alice', got '%s'", claims.Operator)
	}
	if claims.Role != RoleViewer {
		t.Errorf("Expected role 'viewer', got '%s'", claims.Role)
	}
}

func TestJWTManager_Verify_InvalidToken(t *testing.T) {
	manager := NewJWTManager(testConfig("test-secret-key-at-least-32-bytes-long"))

	_, err := manager.Verify("invalid-token")
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("Expected ErrUnauthenticated, got %v", err)
	}
}

func TestJWTManager_Verify_WrongSecret(t *testing.T) {
	manager1 := NewJWTManager(testConfig("secret-key-one-at-least-32-bytes"))
	manager2 := NewJWTManager(testConfig("secret-key-two-at-least-32-bytes"))

	token, err := manager1.Generate("alice", RoleOperator)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, err := manager2.Verify(token.AccessToken); err == nil {
		t.Fatal("Expected error when verifying with wrong secret")
	}
}

func TestJWTManager_Verify_Expired(t *testing.T) {
	manager := NewJWTManager(testConfig("test-secret-key-at-least-32-bytes-long"))
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return issued }

	token, err := manager.Generate("alice", RoleOperator)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	manager.now = func() time.Time { return issued.Add(time.Hour) }
	if _, err := manager.Verify(token.AccessToken); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("Expected expired token to be rejected, got %v", err)
	}
}

func TestRole_Allows(t *testing.T) {
	if !RoleOperator.Allows(RoleViewer) {
		t.Error("operator should be allowed viewer access")
	}
	if RoleViewer.Allows(RoleOperator) {
		t.Error("viewer should not be allowed operator access")
	}
	if !RoleViewer.Allows(RoleViewer) {
		t.Error("viewer should be allowed viewer access")
	}
}
