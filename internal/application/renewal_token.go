package application

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

const renewalTokenBytes = 32

// NewRenewalToken returns 256 bits of randomness, base64url encoded.
func NewRenewalToken() (string, error) {
	buf := make([]byte, renewalTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRenewalToken is the digest stored in place of the token.
func HashRenewalToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func renewalTokenMatches(storedHash, token string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashRenewalToken(token))) == 1
}
