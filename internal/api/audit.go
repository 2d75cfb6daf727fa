package api

import (
	"fmt"
	"net/http"

	"github.com/nerrad567/incidentdesk/internal/audit"
	"github.com/nerrad567/incidentdesk/internal/auth"
)

// handleListAudit returns paginated audit entries with optional filters.
// Admin only.
//
// Query parameters:
//   - action: filter by action (register, create, update, attach_solution, ...)
//   - entity_type: identity or incident
//   - entity_id: filter by specific entity ID
//   - actor_id: filter by the identity that acted
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if !auth.Allow(actor(r), auth.ActionViewAuditLog, auth.Resource{}) {
		s.writeDomainError(w, r, fmt.Errorf("%w: audit log is admin only", auth.ErrForbidden))
		return
	}
	if s.auditLog == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	limit, offset, err := pageParams(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	result, err := s.auditLog.List(r.Context(), audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
