package auth

import "errors"

// Error classes shared by every domain package. Package-specific sentinels
// wrap one of these so the HTTP layer can map by class with errors.Is.
var (
	// ErrValidation marks malformed caller input. No state was changed.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing identity or incident.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a state that is already terminal or incompatible,
	// such as a duplicate email or a solution that is already attached.
	ErrConflict = errors.New("conflict")

	// ErrForbidden marks an authenticated actor acting outside its scope.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated marks a missing, invalid or expired credential,
	// or an identity that can no longer authenticate.
	ErrUnauthenticated = errors.New("unauthenticated")
)
