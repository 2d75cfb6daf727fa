package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

// DefaultCodeLength is the length of an email verification code.
const DefaultCodeLength = 8

// codeAlphabet omits characters that are easy to misread in an email (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewVerificationCode returns a random code of n characters drawn from an
// unambiguous upper-case alphabet.
func NewVerificationCode(n int) (string, error) {
	if n <= 0 {
		n = DefaultCodeLength
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating verification code: %w", err)
	}

	// 256 is a multiple of len(codeAlphabet), so the modulo is unbiased.
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// CodesEqual compares a submitted code against the stored one in constant
// time. Matching is exact.
func CodesEqual(submitted, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}
