package api

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/incidentdesk/internal/audit"
	"github.com/nerrad567/incidentdesk/internal/auth"
	"github.com/nerrad567/incidentdesk/internal/identity"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type updateUserRequest struct {
	Email    *string `json:"email,omitempty"`
	Name     *string `json:"name,omitempty"`
	Surname  *string `json:"surname,omitempty"`
	Role     *string `json:"role,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers pages through identities visible to the caller.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	in := identity.ListInput{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("role"); raw != "" {
		role, err := auth.ParseRole(raw)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		in.Role = &role
	}

	page, err := s.directory.List(r.Context(), actor(r), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleCreateUser provisions a verified account. Admin only.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}
	in := identity.CreateInput{Email: req.Email, Name: req.Name, Surname: req.Surname, Password: req.Password}
	if req.Role != "" {
		role, err := auth.ParseRole(req.Role)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		in.Role = role
	}

	caller := actor(r)
	created, err := s.directory.Create(r.Context(), caller, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.audit.Record(audit.ActionCreate, audit.EntityIdentity, created.ID, caller.ID, map[string]any{
		"role": created.Role.String(),
	})
	writeJSON(w, http.StatusCreated, created)
}

// handleGetUser returns one identity within the caller's scope.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := s.directory.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// handleUpdateUser applies a partial update.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}
	in := identity.UpdateInput{Email: req.Email, Name: req.Name, Surname: req.Surname, IsActive: req.IsActive}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		in.Role = &role
	}

	caller := actor(r)
	updated, err := s.directory.Update(r.Context(), caller, chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.audit.Record(audit.ActionUpdate, audit.EntityIdentity, updated.ID, caller.ID, changedFields(req))
	writeJSON(w, http.StatusOK, updated)
}

// handleDeactivateUser soft-deletes an identity.
func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	updated, err := s.directory.Deactivate(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.audit.Record(audit.ActionDeactivate, audit.EntityIdentity, updated.ID, caller.ID, nil)
	writeJSON(w, http.StatusOK, updated)
}

// handleMyIncidents lists the caller's own incidents.
func (s *Server) handleMyIncidents(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	s.listIncidentsOf(w, r, caller.ID)
}

// changedFields names the fields an update touched, without values.
func changedFields(req updateUserRequest) map[string]any {
	var fields []string
	for name, set := range map[string]bool{
		"email":     req.Email != nil,
		"name":      req.Name != nil,
		"surname":   req.Surname != nil,
		"role":      req.Role != nil,
		"is_active": req.IsActive != nil,
	} {
		if set {
			fields = append(fields, name)
		}
	}
	slices.Sort(fields)
	details := map[string]any{"fields": fields}
	if req.Role != nil {
		details["role"] = *req.Role
	}
	if req.IsActive != nil {
		details["is_active"] = *req.IsActive
	}
	return details
}

// pageParams reads limit and offset (or skip) from the query string.
func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if limit, err = intParam(q.Get("limit")); err != nil {
		return 0, 0, fmt.Errorf("%w: limit must be an integer", auth.ErrValidation)
	}
	raw := q.Get("offset")
	if raw == "" {
		raw = q.Get("skip")
	}
	if offset, err = intParam(raw); err != nil {
		return 0, 0, fmt.Errorf("%w: offset must be an integer", auth.ErrValidation)
	}
	if limit < 0 || offset < 0 {
		return 0, 0, fmt.Errorf("%w: limit and offset must not be negative", auth.ErrValidation)
	}
	return limit, offset, nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
