// Package identity owns user identity records: self-registration, email
// verification, authentication, password reset and role-scoped user
// management.
//
// All decisions about who may see or change whom are delegated to
// auth.Allow; this package loads the live records it needs and applies the
// resulting mutation.
package identity

import (
	"fmt"
	"time"

	"github.com/nerrad567/incidentdesk/internal/auth"
)

// idPrefix marks identity IDs.
const idPrefix = "usr-"

// Name field bounds.
const (
	maxNameLength  = 100
	maxEmailLength = 254
)

// Identity is one user account. Identities are never hard-deleted;
// deactivation is terminal for authentication.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Surname      string    `json:"surname"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`
	IsVerified   bool      `json:"is_verified"`
	IsActive     bool      `json:"is_active"`

	// VerificationCode is pending until exchanged; empty once verified.
	VerificationCode      string     `json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subject returns the identity as a policy actor.
func (i *Identity) Subject() auth.Subject {
	return auth.Subject{ID: i.ID, Role: i.Role}
}

// Errors returned by Directory. Each wraps an auth error class.
var (
	ErrIdentityNotFound  = fmt.Errorf("identity %w", auth.ErrNotFound)
	ErrDuplicateIdentity = fmt.Errorf("%w: email already registered", auth.ErrConflict)
	ErrAlreadyVerified   = fmt.Errorf("%w: email already verified", auth.ErrConflict)
	ErrInvalidCode       = fmt.Errorf("%w: invalid or expired verification code", auth.ErrValidation)
	ErrInvalidToken      = fmt.Errorf("%w: invalid or expired token", auth.ErrValidation)
	ErrUnverified        = fmt.Errorf("%w: email not verified", auth.ErrForbidden)
	ErrInactive          = fmt.Errorf("%w: identity is deactivated", auth.ErrUnauthenticated)
)
