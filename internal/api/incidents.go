package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/incidentdesk/internal/audit"
	"github.com/nerrad567/incidentdesk/internal/auth"
	"github.com/nerrad567/incidentdesk/internal/incident"
)

// multipartMemory is how much of a multipart form is held in memory before
// spilling to temporary files.
const multipartMemory = 1 << 20

// ─── Request/Response Types ────────────────────────────────────────

type incidentResponse struct {
	incident.Incident
	ProblemAudioURL  string `json:"problem_audio_url"`
	SolutionAudioURL string `json:"solution_audio_url,omitempty"`
}

type incidentPageResponse struct {
	Incidents []incidentResponse `json:"incidents"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

type observationsRequest struct {
	Observations string `json:"observations"`
}

type audioURLResponse struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListIncidents lists incidents across owners, optionally filtered
// by owner (user_id) and status.
func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := s.incidents.List(r.Context(), actor(r), incident.ListInput{
		OwnerID: q.Get("user_id"),
		Status:  q.Get("status"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.incidentPage(page))
}

// handleListUserIncidents lists the incidents of one owner.
func (s *Server) handleListUserIncidents(w http.ResponseWriter, r *http.Request) {
	s.listIncidentsOf(w, r, chi.URLParam(r, "userID"))
}

func (s *Server) listIncidentsOf(w http.ResponseWriter, r *http.Request, ownerID string) {
	limit, offset, err := pageParams(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	page, err := s.incidents.ListByUser(r.Context(), actor(r), ownerID, limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.incidentPage(page))
}

// handleCreateIncident opens an incident from a multipart form with title,
// optional observations and the problem_audio file.
func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(r); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp file cleanup

	audio, err := formFile(r, "problem_audio")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	defer audio.Close()

	caller := actor(r)
	created, err := s.incidents.Create(r.Context(), caller, incident.CreateInput{
		Title:        r.FormValue("title"),
		Observations: r.FormValue("observations"),
		Audio:        audio,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.audit.Record(audit.ActionCreate, audit.EntityIncident, created.ID, caller.ID, map[string]any{
		"title": created.Title,
	})
	writeJSON(w, http.StatusCreated, s.incidentView(created))
}

// handleGetIncident returns one incident within the caller's scope.
func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.incidents.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.incidentView(inc))
}

// handleAttachSolution closes an incident from a multipart form with the
// solution_audio file, is_resolved (default true) and optional
// observations.
func (s *Server) handleAttachSolution(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(r); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp file cleanup

	in := incident.SolutionInput{Resolved: true}
	if raw := r.FormValue("is_resolved"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeDomainError(w, r, fmt.Errorf("%w: is_resolved must be a boolean", auth.ErrValidation))
			return
		}
		in.Resolved = v
	}
	if vals, ok := r.MultipartForm.Value["observations"]; ok && len(vals) > 0 {
		in.Observations = &vals[0]
	}

	// A missing file is reported by the workflow after the ownership
	// checks, so probing another user's incident still answers 403.
	audio, err := formFile(r, "solution_audio")
	switch {
	case err == nil:
		defer audio.Close()
		in.Audio = audio
	case !errors.Is(err, auth.ErrValidation):
		s.writeDomainError(w, r, err)
		return
	}

	caller := actor(r)
	solved, err := s.incidents.AttachSolution(r.Context(), caller, chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.audit.Record(audit.ActionAttachSolution, audit.EntityIncident, solved.ID, caller.ID, map[string]any{
		"status": string(solved.Status),
	})
	writeJSON(w, http.StatusOK, s.incidentView(solved))
}

// handleAmendObservations replaces the observations of an owned incident.
func (s *Server) handleAmendObservations(w http.ResponseWriter, r *http.Request) {
	var req observationsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}

	caller := actor(r)
	updated, err := s.incidents.AmendObservations(r.Context(), caller, chi.URLParam(r, "id"), req.Observations)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.audit.Record(audit.ActionAmendObservations, audit.EntityIncident, updated.ID, caller.ID, nil)
	writeJSON(w, http.StatusOK, s.incidentView(updated))
}

// handleIncidentAudio returns the public URL of the problem or solution
// recording.
func (s *Server) handleIncidentAudio(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	url, err := s.incidents.AudioURL(r.Context(), actor(r), chi.URLParam(r, "id"), kind)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, audioURLResponse{Kind: kind, URL: url})
}

func (s *Server) incidentView(inc *incident.Incident) incidentResponse {
	return incidentResponse{
		Incident:         *inc,
		ProblemAudioURL:  s.incidents.ResolveURL(inc.ProblemAudioRef),
		SolutionAudioURL: s.incidents.ResolveURL(inc.SolutionAudioRef),
	}
}

func (s *Server) incidentPage(page *incident.Page) incidentPageResponse {
	out := incidentPageResponse{
		Incidents: make([]incidentResponse, len(page.Incidents)),
		Total:     page.Total,
		Limit:     page.Limit,
		Offset:    page.Offset,
	}
	for n := range page.Incidents {
		out.Incidents[n] = s.incidentView(&page.Incidents[n])
	}
	return out
}

// parseMultipart reads a multipart/form-data body.
func (s *Server) parseMultipart(r *http.Request) error {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return fmt.Errorf("%w: expected multipart/form-data: %v", auth.ErrValidation, err) //nolint:errorlint // parse detail only
	}
	return nil
}

// formFile opens an uploaded file part. A missing part is a validation
// error.
func formFile(r *http.Request, field string) (multipart.File, error) {
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, fmt.Errorf("%w: %s file is required", auth.ErrValidation, field)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", field, err)
	}
	return f, nil
}
