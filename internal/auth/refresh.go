package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewRefreshToken mints an opaque token from 32 random bytes. Only its HMAC
// digest is ever stored.
func NewRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// TokenHasher derives the deterministic digest under which refresh tokens are
// stored and looked up, so a leaked table exposes no usable tokens.
type TokenHasher struct {
	secret []byte
}

// NewTokenHasher creates a TokenHasher.
func NewTokenHasher(secret []byte) *TokenHasher {
	return &TokenHasher{secret: secret}
}

// Hash returns the hex HMAC-SHA256 of the token.
func (h *TokenHasher) Hash(token string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
