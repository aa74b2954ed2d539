package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	claims := UserClaims{
		UserID: "user-1",
		Email:  "admin@embpay.local",
		Role:   "admin",
	}

	token, err := manager.GenerateAccessToken(claims)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	parsed, err := manager.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}

	if parsed.UserID != claims.UserID || parsed.Email != claims.Email || parsed.Role != claims.Role {
		t.Errorf("claims = %+v, want %+v", parsed, claims)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	manager := NewJWTManager("test-secret", -time.Minute)

	token, err := manager.GenerateAccessToken(UserClaims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	_, err = manager.ValidateAccessToken(token)
	if err != ErrTokenExpired {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := NewJWTManager("secret-a", time.Hour).GenerateAccessToken(UserClaims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	_, err = NewJWTManager("secret-b", time.Hour).ValidateAccessToken(token)
	if err != ErrInvalidToken {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := manager.ValidateAccessToken(token); err != ErrInvalidToken {
			t.Errorf("ValidateAccessToken(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}
