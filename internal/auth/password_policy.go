package auth

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Password length limits. The upper bound keeps Argon2 input reasonable.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// ValidatePassword enforces the strength policy used on registration,
// admin provisioning and password reset: at least MinPasswordLength
// characters containing an upper-case letter, a lower-case letter, a digit
// and a symbol. The returned error wraps ErrValidation.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	if n > MaxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrValidation, MaxPasswordLength)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return fmt.Errorf("%w: password must contain an upper-case letter", ErrValidation)
	case !lower:
		return fmt.Errorf("%w: password must contain a lower-case letter", ErrValidation)
	case !digit:
		return fmt.Errorf("%w: password must contain a digit", ErrValidation)
	case !symbol:
		return fmt.Errorf("%w: password must contain a symbol", ErrValidation)
	}
	return nil
}
