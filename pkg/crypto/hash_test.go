package crypto

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"simple token", "operator-token"},
		{"unicode token", "токен123"},
		{"long token", strings.Repeat("a", 70)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashToken(tt.token, bcrypt.MinCost)
			if err != nil {
				t.Fatalf("HashToken failed: %v", err)
			}
			if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
				t.Errorf("hash should start with bcrypt prefix, got: %s", hash)
			}
			if err := VerifyToken(tt.token, hash); err != nil {
				t.Errorf("VerifyToken failed for own hash: %v", err)
			}
		})
	}
}

func TestHashTokenErrors(t *testing.T) {
	if _, err := HashToken("", bcrypt.MinCost); err != ErrEmptyToken {
		t.Errorf("empty token: got %v, want %v", err, ErrEmptyToken)
	}
	if _, err := HashToken(strings.Repeat("a", 73), bcrypt.MinCost); err != ErrTokenTooLong {
		t.Errorf("long token: got %v, want %v", err, ErrTokenTooLong)
	}
}

func TestVerifyToken(t *testing.T) {
	hash, err := HashToken("correct", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}

	tests := []struct {
		name  string
		token string
		hash  string
		want  error
	}{
		{"match", "correct", hash, nil},
		{"mismatch", "wrong", hash, ErrTokenMismatch},
		{"empty token", "", hash, ErrEmptyToken},
		{"empty hash", "correct", "", ErrInvalidHash},
		{"garbage hash", "correct", "not-a-hash", ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyToken(tt.token, tt.hash); got != tt.want {
				t.Errorf("VerifyToken() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidHash(t *testing.T) {
	hash, _ := HashToken("x", bcrypt.MinCost)
	if !ValidHash(hash) {
		t.Error("expected generated hash to be valid")
	}
	if ValidHash("plain") {
		t.Error("expected plain string to be invalid")
	}
}
