// Package incident drives the incident record lifecycle: an operator opens
// an incident with a problem recording, and later closes it exactly once by
// attaching a solution recording that marks it resolved or unresolved.
package incident

import (
	"fmt"
	"time"

	"github.com/nerrad567/incidentdesk/internal/auth"
)

const idPrefix = "inc-"

// Field bounds.
const (
	maxTitleLength        = 200
	maxObservationsLength = 5000
)

// Status is the lifecycle state of an incident.
type Status string

// Statuses. Initiated is the only non-terminal one.
const (
	StatusInitiated  Status = "initiated"
	StatusResolved   Status = "resolved"
	StatusUnresolved Status = "unresolved"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusResolved, StatusUnresolved:
		return true
	}
	return false
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", auth.ErrValidation, s)
	}
	return st, nil
}

// Owner is the identity that opened the incident, as of the last read.
type Owner struct {
	Name    string    `json:"name"`
	Surname string    `json:"surname"`
	Email   string    `json:"email"`
	Role    auth.Role `json:"role"`
}

// Incident is one incident record.
//
// ProblemAudioRef never changes after creation. SolutionAudioRef is empty
// exactly while Status is StatusInitiated, and IsResolved mirrors
// Status == StatusResolved.
type Incident struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	ProblemAudioRef  string    `json:"-"`
	SolutionAudioRef string    `json:"-"`
	Observations     string    `json:"observations,omitempty"`
	Status           Status    `json:"status"`
	IsResolved       bool      `json:"is_resolved"`
	OwnerID          string    `json:"owner_id"`
	Owner            Owner     `json:"owner"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Errors returned by Workflow. Each wraps an auth error class.
var (
	ErrIncidentNotFound = fmt.Errorf("incident %w", auth.ErrNotFound)
	ErrSolutionExists   = fmt.Errorf("%w: solution audio already attached", auth.ErrConflict)
	ErrNoSolutionAudio  = fmt.Errorf("solution audio %w", auth.ErrNotFound)
)
