// Package crypto holds the primitives the auth engine builds on: salted
// token hashing, peppered OTP hashing, constant-time comparison and secure
// random generation. Secrets never leave this package in a reversible form
// except through Encryptor, which is reserved for TOTP secrets at rest.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	// MinTokenLength and MaxTokenLength bound the configurable magic-link
	// secret length (in random bytes before hex encoding).
	MinTokenLength = 16
	MaxTokenLength = 128

	saltLength = 16
)

// RandomToken returns a hex-encoded secret of n random bytes. n is clamped
// to the safe range so a misconfigured deployment cannot weaken tokens.
func RandomToken(n int) (string, error) {
	if n < MinTokenLength {
		n = MinTokenLength
	}
	if n > MaxTokenLength {
		n = MaxTokenLength
	}

	bytes := make([]byte, n)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// RandomSalt returns a hex-encoded salt for token hashing.
func RandomSalt() (string, error) {
	bytes := make([]byte, saltLength)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// RandomDigits returns a numeric code of the given length, suitable for
// email/SMS one-time codes. Uses crypto/rand, never math/rand.
func RandomDigits(length int) (string, error) {
	if length <= 0 {
		length = 6
	}

	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to read random digit: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// HashToken computes the stored form of a magic-link secret:
// SHA256(secret + salt), hex encoded. The plaintext secret is never persisted.
func HashToken(secret, salt string) string {
	sum := sha256.Sum256([]byte(secret + salt))
	return hex.EncodeToString(sum[:])
}

// HashOTP computes the stored form of a one-time code. The pepper is a
// deployment-wide secret, so a leaked table alone is not enough to forge codes.
func HashOTP(code, pepper string) string {
	sum := sha256.Sum256([]byte(code + pepper))
	return hex.EncodeToString(sum[:])
}

// SafeEqual compares two strings in constant time.
func SafeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
