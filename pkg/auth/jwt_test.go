package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-must-be-at-least-32-characters-long"

func newTestManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("Failed to create JWT manager: %v", err)
	}
	return m
}

func TestNewJWTManager_ShortSecret(t *testing.T) {
	if _, err := NewJWTManager("short", time.Minute); !errors.Is(err, ErrShortSecret) {
		t.Errorf("Expected ErrShortSecret, got %v", err)
	}
}

// TestJWTManager_GenerateToken tests JWT token generation
func TestJWTManager_GenerateToken(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name    string
		subject string
		role    string
		wantErr error
	}{
		{"operator", "alice", RoleOperator, nil},
		{"viewer", "bob", RoleViewer, nil},
		{"empty subject", "", RoleViewer, ErrEmptySubject},
		{"unknown role", "carol", "admin", ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := m.GenerateToken(tt.subject, tt.role, 0)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateToken() error = %v", err)
			}

			claims, err := m.ValidateToken(context.Background(), token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.Subject != tt.subject || claims.Role != tt.role {
				t.Errorf("Got claims %+v", claims)
			}
		})
	}
}

func TestJWTManager_ValidateToken_Rejects(t *testing.T) {
	m := newTestManager(t)
	other, err := NewJWTManager("another-secret-that-is-also-32-characters", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	foreign, _ := other.GenerateToken("mallory", RoleOperator, 0)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleOperator})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"alg none", unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.ValidateToken(context.Background(), tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestJWTManager_ValidateToken_Expired(t *testing.T) {
	m := newTestManager(t)
	token, err := m.GenerateToken("alice", RoleViewer, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := m.ValidateToken(context.Background(), token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestClaims_Allows(t *testing.T) {
	viewer := &Claims{Role: RoleViewer}
	operator := &Claims{Role: RoleOperator}

	if !viewer.Allows(RoleViewer) || viewer.Allows(RoleOperator) {
		t.Error("Viewer may only read")
	}
	if !operator.Allows(RoleViewer) || !operator.Allows(RoleOperator) {
		t.Error("Operator may do everything")
	}
}
