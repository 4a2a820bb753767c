package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/paytech/fraud-detection/configs"
)

func testJWTManager(expiration time.Duration) *JWTManager {
	return NewJWTManager(configs.JWTConfig{
		Secret:            "test-secret-do-not-use",
		Expiration:        expiration,
		RefreshExpiration: 24 * time.Hour,
	})
}

func TestTokenRoundTrip(t *testing.T) {
	m := testJWTManager(time.Hour)

	token, err := m.GenerateToken("USR-JWT00001", "user@example.com", "user")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	if claims.UserID != "USR-JWT00001" || claims.Email != "user@example.com" || claims.Role != "user" {
		t.Errorf("claims mismatch: %+v", claims)
	}
	if claims.TokenType != TokenTypeAccess {
		t.Errorf("expected access token type, got %q", claims.TokenType)
	}
}

func TestExpiredToken(t *testing.T) {
	m := testJWTManager(-time.Minute)

	token, err := m.GenerateToken("USR-JWT00001", "user@example.com", "user")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := m.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestInvalidToken(t *testing.T) {
	m := testJWTManager(time.Hour)

	if _, err := m.ValidateToken("not.a.token"); err == nil {
		t.Error("expected error for malformed token")
	}

	other := NewJWTManager(configs.JWTConfig{
		Secret:            "a-different-secret",
		Expiration:        time.Hour,
		RefreshExpiration: 24 * time.Hour,
	})
	token, _ := other.GenerateToken("USR-JWT00001", "user@example.com", "user")
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expected error for token signed with another secret")
	}
}

func TestRefreshTokenType(t *testing.T) {
	m := testJWTManager(time.Hour)

	refresh, err := m.GenerateRefreshToken("USR-JWT00001", "user@example.com", "user")
	if err != nil {
		t.Fatalf("generate refresh failed: %v", err)
	}

	if _, err := m.ValidateRefreshToken(refresh); err != nil {
		t.Errorf("refresh token must validate as refresh: %v", err)
	}

	// An access token must not pass refresh validation
	access, _ := m.GenerateToken("USR-JWT00001", "user@example.com", "user")
	if _, err := m.ValidateRefreshToken(access); err == nil {
		t.Error("access token must not be accepted as a refresh token")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("Str0ngPassword")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	if !CheckPassword("Str0ngPassword", hash) {
		t.Error("correct password must verify")
	}
	if CheckPassword("WrongPassword1", hash) {
		t.Error("wrong password must not verify")
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
	}{
		{"Str0ngPassword", true},
		{"short1A", false},     // too short
		{"alllowercase1", false},
		{"ALLUPPERCASE1", false},
		{"NoDigitsHere", false},
		{"G00dEnough", true},
	}

	for _, tt := range tests {
		if got := ValidatePasswordStrength(tt.password); got != tt.valid {
			t.Errorf("password %q: got %v, want %v", tt.password, got, tt.valid)
		}
	}
}
