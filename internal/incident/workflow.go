package incident

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nerrad567/incidentdesk/internal/auth"
	"github.com/nerrad567/incidentdesk/internal/identity"
	"github.com/nerrad567/incidentdesk/internal/metrics"
)

// Page bounds for listings.
const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// Audio kinds accepted by AudioURL.
const (
	AudioProblem  = "problem"
	AudioSolution = "solution"
)

// BlobStore keeps audio recordings.
type BlobStore interface {
	Store(ctx context.Context, r io.Reader, ownerID, incidentID string) (string, error)
	Delete(ref string) bool
	ResolveURL(ref string) string
}

// Owners looks up the current state of an incident owner.
type Owners interface {
	GetByID(ctx context.Context, id string) (*identity.Identity, error)
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithEvents sets the sink notified after every committed transition.
func WithEvents(sink EventSink) Option {
	return func(w *Workflow) { w.events = sink }
}

// Workflow applies the incident lifecycle rules on top of a Repository and
// a BlobStore.
type Workflow struct {
	repo   Repository
	blobs  BlobStore
	owners Owners
	events EventSink
	logger *slog.Logger
	now    func() time.Time
}

// NewWorkflow creates a Workflow.
func NewWorkflow(repo Repository, blobs BlobStore, owners Owners, logger *slog.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		repo:   repo,
		blobs:  blobs,
		owners: owners,
		events: nopSink{},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateInput carries a new incident.
type CreateInput struct {
	Title        string
	Observations string
	Audio        io.Reader
}

// Create opens an incident owned by actor. Only operators may create, and
// the problem audio is required.
func (w *Workflow) Create(ctx context.Context, actor auth.Subject, in CreateInput) (*Incident, error) {
	if !auth.Allow(actor, auth.ActionCreateIncident, auth.Resource{OwnerID: actor.ID, OwnerRole: actor.Role}) {
		return nil, fmt.Errorf("%w: only operators create incidents", auth.ErrForbidden)
	}
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	obs, err := validateObservations(in.Observations)
	if err != nil {
		return nil, err
	}
	if in.Audio == nil {
		return nil, fmt.Errorf("%w: problem audio is required", auth.ErrValidation)
	}

	now := w.now().UTC()
	inc := &Incident{
		ID:           idPrefix + uuid.NewString(),
		Title:        title,
		Observations: obs,
		Status:       StatusInitiated,
		OwnerID:      actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	inc.ProblemAudioRef, err = w.blobs.Store(ctx, in.Audio, actor.ID, inc.ID)
	if err != nil {
		return nil, fmt.Errorf("storing problem audio: %w", err)
	}
	if err := w.repo.Create(ctx, inc); err != nil {
		w.discard(inc.ProblemAudioRef)
		return nil, err
	}

	created, err := w.repo.Get(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	w.emit(ctx, EventCreated, created)
	w.logger.Info("incident created", "incident_id", created.ID, "owner_id", created.OwnerID)
	return created, nil
}

// SolutionInput carries the closing recording.
type SolutionInput struct {
	Audio        io.Reader
	Resolved     bool
	Observations *string
}

// AttachSolution closes an initiated incident. Checks run in order: the
// incident must exist, actor must own it, and no solution may be attached
// yet. Of two racing calls exactly one succeeds.
func (w *Workflow) AttachSolution(ctx context.Context, actor auth.Subject, id string, in SolutionInput) (*Incident, error) {
	inc, err := w.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.Allow(actor, auth.ActionAttachSolution, auth.Resource{OwnerID: inc.OwnerID, OwnerRole: inc.Owner.Role}) {
		return nil, fmt.Errorf("%w: only the owner can attach a solution", auth.ErrForbidden)
	}
	if inc.SolutionAudioRef != "" {
		return nil, ErrSolutionExists
	}
	if in.Audio == nil {
		return nil, fmt.Errorf("%w: solution audio is required", auth.ErrValidation)
	}
	var obs *string
	if in.Observations != nil {
		v, err := validateObservations(*in.Observations)
		if err != nil {
			return nil, err
		}
		obs = &v
	}

	ref, err := w.blobs.Store(ctx, in.Audio, inc.OwnerID, inc.ID)
	if err != nil {
		return nil, fmt.Errorf("storing solution audio: %w", err)
	}
	status := StatusUnresolved
	if in.Resolved {
		status = StatusResolved
	}
	err = w.repo.AttachSolution(ctx, inc.ID, SolutionUpdate{
		AudioRef:     ref,
		Status:       status,
		Observations: obs,
		At:           w.now().UTC(),
	})
	if err != nil {
		w.discard(ref)
		return nil, err
	}

	updated, err := w.repo.Get(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	w.emit(ctx, EventSolved, updated)
	w.logger.Info("incident solution attached", "incident_id", updated.ID, "status", updated.Status)
	return updated, nil
}

// AmendObservations replaces the observations of an incident actor owns.
// It is allowed in every status.
func (w *Workflow) AmendObservations(ctx context.Context, actor auth.Subject, id, observations string) (*Incident, error) {
	inc, err := w.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.Allow(actor, auth.ActionAmendObservations, auth.Resource{OwnerID: inc.OwnerID, OwnerRole: inc.Owner.Role}) {
		return nil, fmt.Errorf("%w: only the owner can amend observations", auth.ErrForbidden)
	}
	obs, err := validateObservations(observations)
	if err != nil {
		return nil, err
	}
	if err := w.repo.UpdateObservations(ctx, inc.ID, obs, w.now().UTC()); err != nil {
		return nil, err
	}

	updated, err := w.repo.Get(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	w.emit(ctx, EventAmended, updated)
	return updated, nil
}

// Get returns one incident if actor may view it.
func (w *Workflow) Get(ctx context.Context, actor auth.Subject, id string) (*Incident, error) {
	inc, err := w.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.Allow(actor, auth.ActionViewIncident, auth.Resource{OwnerID: inc.OwnerID, OwnerRole: inc.Owner.Role}) {
		return nil, fmt.Errorf("%w: incident outside your scope", auth.ErrForbidden)
	}
	return inc, nil
}

// AudioURL returns the public URL of one recording of an incident actor
// may view.
func (w *Workflow) AudioURL(ctx context.Context, actor auth.Subject, id, kind string) (string, error) {
	inc, err := w.Get(ctx, actor, id)
	if err != nil {
		return "", err
	}
	var ref string
	switch kind {
	case AudioProblem:
		ref = inc.ProblemAudioRef
	case AudioSolution:
		if inc.SolutionAudioRef == "" {
			return "", ErrNoSolutionAudio
		}
		ref = inc.SolutionAudioRef
	default:
		return "", fmt.Errorf("%w: audio kind must be %q or %q", auth.ErrValidation, AudioProblem, AudioSolution)
	}
	url := w.blobs.ResolveURL(ref)
	if url == "" {
		return "", fmt.Errorf("resolving %s audio of %s: invalid reference", kind, inc.ID)
	}
	return url, nil
}

// ListInput selects incidents. An empty OwnerID lists across owners.
type ListInput struct {
	OwnerID string
	Status  string
	Limit   int
	Offset  int
}

// Page is one slice of a listing.
type Page struct {
	Incidents []Incident `json:"incidents"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// List applies actor's scope and then the filters.
//
// Without an owner filter only supervisors and admins may list, and
// supervisors see operator-owned incidents only. With an owner filter the
// actor must be allowed to view that owner's incidents; an unknown owner
// yields an empty page.
func (w *Workflow) List(ctx context.Context, actor auth.Subject, in ListInput) (*Page, error) {
	f := Filter{OwnerID: in.OwnerID}
	f.Limit, f.Offset = clampPage(in.Limit, in.Offset)
	empty := &Page{Incidents: []Incident{}, Limit: f.Limit, Offset: f.Offset}

	if in.Status != "" {
		st, err := ParseStatus(in.Status)
		if err != nil {
			return nil, err
		}
		f.Status = st
	}

	if in.OwnerID == "" {
		if !auth.Allow(actor, auth.ActionListAllIncidents, auth.Resource{}) {
			return nil, fmt.Errorf("%w: listing all incidents requires supervisor or admin", auth.ErrForbidden)
		}
		if actor.Role == auth.RoleSupervisor {
			f.OwnerRoles = []auth.Role{auth.RoleOperator}
		}
	} else {
		owner, err := w.owners.GetByID(ctx, in.OwnerID)
		switch {
		case errors.Is(err, identity.ErrIdentityNotFound):
			if actor.Role == auth.RoleOperator {
				return nil, fmt.Errorf("%w: incidents outside your scope", auth.ErrForbidden)
			}
			return empty, nil
		case err != nil:
			return nil, err
		}
		if !auth.Allow(actor, auth.ActionViewUserIncidents, auth.Resource{OwnerID: owner.ID, OwnerRole: owner.Role}) {
			return nil, fmt.Errorf("%w: incidents outside your scope", auth.ErrForbidden)
		}
	}

	incidents, total, err := w.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Page{Incidents: incidents, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// ListByUser lists the incidents owned by userID.
func (w *Workflow) ListByUser(ctx context.Context, actor auth.Subject, userID string, limit, offset int) (*Page, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", auth.ErrValidation)
	}
	return w.List(ctx, actor, ListInput{OwnerID: userID, Limit: limit, Offset: offset})
}

// ResolveURL maps a stored reference to its public URL.
func (w *Workflow) ResolveURL(ref string) string {
	if ref == "" {
		return ""
	}
	return w.blobs.ResolveURL(ref)
}

// discard removes an orphaned recording after a failed write.
func (w *Workflow) discard(ref string) {
	if !w.blobs.Delete(ref) {
		w.logger.Warn("orphaned audio not removed", "ref", ref)
	}
}

func (w *Workflow) emit(ctx context.Context, kind EventKind, inc *Incident) {
	metrics.IncidentEvents.WithLabelValues(string(kind)).Inc()
	w.events.IncidentEvent(ctx, Event{
		Kind:         kind,
		IncidentID:   inc.ID,
		OwnerID:      inc.OwnerID,
		Status:       inc.Status,
		Resolved:     inc.IsResolved,
		SinceCreated: inc.UpdatedAt.Sub(inc.CreatedAt),
		At:           inc.UpdatedAt,
	})
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", auth.ErrValidation)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", fmt.Errorf("%w: title exceeds %d characters", auth.ErrValidation, maxTitleLength)
	}
	return title, nil
}

func validateObservations(raw string) (string, error) {
	obs := strings.TrimSpace(raw)
	if utf8.RuneCountInString(obs) > maxObservationsLength {
		return "", fmt.Errorf("%w: observations exceed %d characters", auth.ErrValidation, maxObservationsLength)
	}
	return obs, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
