// ABOUTME: Unit tests for JWT verification, generation and unverified inspection.
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens, and claim extraction.

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTVerifier_ValidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	subject := "user-123"
	token, err := verifier.Generate(subject, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	gotSub, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if gotSub != subject {
		t.Errorf("Verify() = %q, want %q", gotSub, subject)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{
			name: "wrong secret",
			token: func() string {
				otherVerifier := NewJWTVerifier([]byte("different-secret"))
				token, _ := otherVerifier.Generate("user-123", time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if err == nil {
				t.Error("Verify() should have returned an error")
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing")
	verifier := NewJWTVerifier(secret)

	token, err := verifier.Generate("user-123", -time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestInspect_ExtractsClaimsWithoutSecret(t *testing.T) {
	verifier := NewJWTVerifier([]byte("a-secret-the-client-never-sees"))
	token, err := verifier.Generate("candidate-42", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	info, err := Inspect(token)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	if info.Subject != "candidate-42" {
		t.Errorf("Subject = %q, want %q", info.Subject, "candidate-42")
	}
	if info.Expired() {
		t.Error("Expired() = true for a token valid for an hour")
	}
	if info.ExpiresAt.IsZero() {
		t.Error("ExpiresAt should be set")
	}
}

func TestInspect_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte("secret"))
	token, err := verifier.Generate("candidate-42", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	info, err := Inspect(token)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if !info.Expired() {
		t.Error("Expired() = false for a token that expired an hour ago")
	}
}

func TestInspect_Garbage(t *testing.T) {
	if _, err := Inspect("definitely-not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Inspect() error = %v, want ErrInvalidToken", err)
	}
}
