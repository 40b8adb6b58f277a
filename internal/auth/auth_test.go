package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("topsecret"), time.Minute)

	token, err := issuer.IssueAccess("user-123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	userID, err := issuer.VerifyAccess(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("expected user-123, got %q", userID)
	}
}

func TestTokenIssuerRejectsTampering(t *testing.T) {
	issuer := NewTokenIssuer([]byte("topsecret"), time.Minute)
	token, err := issuer.IssueAccess("user-123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := issuer.VerifyAccess(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for a tampered token, got %v", err)
	}

	other := NewTokenIssuer([]byte("differentsecret"), time.Minute)
	if _, err := other.VerifyAccess(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for a foreign secret, got %v", err)
	}

	if _, err := issuer.VerifyAccess("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("topsecret"), -time.Minute)
	token, err := issuer.IssueAccess("user-123")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.VerifyAccess(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for an expired token, got %v", err)
	}
}

func TestNewRefreshToken(t *testing.T) {
	a, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	b, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == b {
		t.Fatal("two tokens should never collide")
	}
}

func TestTokenHasher(t *testing.T) {
	h := NewTokenHasher([]byte("topsecret"))

	if h.Hash("token-a") != h.Hash("token-a") {
		t.Fatal("hashing must be deterministic")
	}
	if h.Hash("token-a") == h.Hash("token-b") {
		t.Fatal("different tokens must hash differently")
	}

	other := NewTokenHasher([]byte("differentsecret"))
	if h.Hash("token-a") == other.Hash("token-a") {
		t.Fatal("different secrets must hash differently")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "hunter2hunter2" {
		t.Fatal("hash must not equal the password")
	}
	if !CheckPassword(hash, "hunter2hunter2") {
		t.Fatal("correct password should verify")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatal("wrong password should not verify")
	}
}
