// Package pkce implements the Proof Key for Code Exchange binding
// (RFC 7636) used by the device-authorization flow. Only the S256
// challenge method is supported; the "plain" method is deliberately
// not implemented.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// verifierEntropy is the number of random bytes behind each verifier.
// RFC 7636 requires at least 32; 64 keeps the encoded form within the
// 128-character ceiling.
const verifierEntropy = 64

// Method is the challenge method name sent alongside the challenge.
const Method = "S256"

// Codes is a verifier/challenge pair for one authentication attempt.
// The challenge is sent to the device-authorization endpoint; the
// verifier stays local and is only presented at token exchange.
type Codes struct {
	Verifier  string `json:"code_verifier"`
	Challenge string `json:"code_challenge"`
}

// Generate produces a fresh pair. Each authentication attempt must use
// its own pair; pairs are never reused across attempts.
func Generate() (*Codes, error) {
	buf := make([]byte, verifierEntropy)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("pkce: read random verifier bytes: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	return &Codes{
		Verifier:  verifier,
		Challenge: ChallengeFor(verifier),
	}, nil
}

// ChallengeFor derives the S256 challenge for a verifier:
// base64url(SHA-256(verifier)) without padding.
func ChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
