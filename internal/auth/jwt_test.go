package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	m := NewJWTManager("test-secret")

	token, expiresAt, err := m.GenerateToken("alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatal("expiresAt should be in the future")
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want alice", claims.Username)
	}
	if claims.Issuer != "videoguard" {
		t.Errorf("Issuer = %q, want videoguard", claims.Issuer)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	m1 := NewJWTManager("secret-one")
	m2 := NewJWTManager("secret-two")

	token, _, err := m1.GenerateToken("bob")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := m2.ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail against a different signing secret")
	}
}

func TestValidateTokenMalformed(t *testing.T) {
	m := NewJWTManager("test-secret")
	if _, err := m.ValidateToken("not-a-jwt"); err == nil {
		t.Fatal("expected an error for a malformed token")
	}
}

func TestNewJWTManagerGeneratesRandomSecretWhenEmpty(t *testing.T) {
	m1 := NewJWTManager("")
	m2 := NewJWTManager("")

	token, _, err := m1.GenerateToken("carol")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := m2.ValidateToken(token); err == nil {
		t.Fatal("two random-secret managers should not validate each other's tokens")
	}
}
