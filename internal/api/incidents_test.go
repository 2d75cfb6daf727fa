package api

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/nerrad567/incidentdesk/internal/auth"
)

func TestIncidentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	op, opToken := env.user(t, "op@example.com", auth.RoleOperator)
	_, peerToken := env.user(t, "peer@example.com", auth.RoleOperator)
	_, supToken := env.user(t, "sup@example.com", auth.RoleSupervisor)

	resp := env.upload(t, "/api/v1/incidents", opToken,
		map[string]string{"title": "Pump 3 grinding", "observations": "started at shift change"},
		"problem_audio", mp3Sample)
	if resp.status != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", resp.status, resp.body)
	}
	var created incidentResponse
	resp.decode(t, &created)
	if !strings.HasPrefix(created.ID, "inc-") || created.Status != "initiated" || created.IsResolved {
		t.Errorf("created = %+v", created)
	}
	if created.OwnerID != op.ID || created.Owner.Email != "op@example.com" {
		t.Errorf("owner = %s %+v", created.OwnerID, created.Owner)
	}
	if !strings.HasPrefix(created.ProblemAudioURL, "/audio/") || created.SolutionAudioURL != "" {
		t.Errorf("audio urls = %q %q", created.ProblemAudioURL, created.SolutionAudioURL)
	}

	audio := env.do(t, http.MethodGet, created.ProblemAudioURL, "", "", nil)
	if audio.status != http.StatusOK || !bytes.Equal(audio.body, mp3Sample) {
		t.Errorf("GET audio status = %d, %d bytes", audio.status, len(audio.body))
	}

	path := "/api/v1/incidents/" + created.ID
	if resp := env.do(t, http.MethodGet, path, peerToken, "", nil); resp.status != http.StatusForbidden {
		t.Errorf("peer GET status = %d, want 403", resp.status)
	}
	if resp := env.do(t, http.MethodGet, path, supToken, "", nil); resp.status != http.StatusOK {
		t.Errorf("supervisor GET status = %d, want 200", resp.status)
	}
	if resp := env.upload(t, path+"/solution", peerToken, nil, "solution_audio", mp3Sample); resp.status != http.StatusForbidden {
		t.Errorf("peer attach status = %d, want 403", resp.status)
	}
	if resp := env.upload(t, path+"/solution", opToken, nil, "", nil); resp.status != http.StatusBadRequest {
		t.Errorf("attach without file status = %d, want 400", resp.status)
	}

	resp = env.upload(t, path+"/solution", opToken, map[string]string{"is_resolved": "false"}, "solution_audio", mp3Sample)
	if resp.status != http.StatusOK {
		t.Fatalf("attach status = %d body = %s", resp.status, resp.body)
	}
	var solved incidentResponse
	resp.decode(t, &solved)
	if solved.Status != "unresolved" || solved.IsResolved || solved.SolutionAudioURL == "" {
		t.Errorf("solved = %+v", solved)
	}
	if solved.Observations != "started at shift change" {
		t.Errorf("observations = %q, want the original kept", solved.Observations)
	}

	resp = env.upload(t, path+"/solution", opToken, nil, "solution_audio", mp3Sample)
	if resp.status != http.StatusConflict || resp.errorCode(t) != ErrCodeConflict {
		t.Errorf("second attach status = %d body = %s, want 409", resp.status, resp.body)
	}

	resp = env.json(t, http.MethodPatch, path+"/observations", opToken, observationsRequest{Observations: "bearing replaced"})
	if resp.status != http.StatusOK {
		t.Fatalf("amend status = %d body = %s", resp.status, resp.body)
	}
	var amended incidentResponse
	resp.decode(t, &amended)
	if amended.Observations != "bearing replaced" || amended.Status != "unresolved" {
		t.Errorf("amended = %+v", amended)
	}

	resp = env.do(t, http.MethodGet, path+"/audio/solution", opToken, "", nil)
	if resp.status != http.StatusOK {
		t.Fatalf("audio url status = %d", resp.status)
	}
	var u audioURLResponse
	resp.decode(t, &u)
	if u.Kind != "solution" || u.URL != solved.SolutionAudioURL {
		t.Errorf("audio url = %+v", u)
	}
	if resp := env.do(t, http.MethodGet, path+"/audio/video", opToken, "", nil); resp.status != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", resp.status)
	}

	env.flushAudit()
	entries, err := env.auditLog.List(t.Context(), auditFilterForIncident(created.ID))
	if err != nil {
		t.Fatalf("audit List() error = %v", err)
	}
	if entries.Total != 3 {
		t.Errorf("incident audit entries = %d, want create, attach and amend", entries.Total)
	}
}

func TestCreateIncident_Rejects(t *testing.T) {
	env := newTestEnv(t)
	_, opToken := env.user(t, "op@example.com", auth.RoleOperator)
	_, supToken := env.user(t, "sup@example.com", auth.RoleSupervisor)
	oversize := append(append([]byte{}, mp3Sample...), make([]byte, 5000)...)

	tests := []struct {
		name   string
		token  string
		fields map[string]string
		file   []byte
		status int
	}{
		{"supervisor", supToken, map[string]string{"title": "x"}, mp3Sample, http.StatusForbidden},
		{"missing title", opToken, map[string]string{}, mp3Sample, http.StatusBadRequest},
		{"long title", opToken, map[string]string{"title": strings.Repeat("t", 201)}, mp3Sample, http.StatusBadRequest},
		{"missing audio", opToken, map[string]string{"title": "x"}, nil, http.StatusBadRequest},
		{"not audio", opToken, map[string]string{"title": "x"}, []byte("plain text, definitely not audio"), http.StatusUnsupportedMediaType},
		{"too large", opToken, map[string]string{"title": "x"}, oversize, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field := "problem_audio"
			if tt.file == nil {
				field = ""
			}
			resp := env.upload(t, "/api/v1/incidents", tt.token, tt.fields, field, tt.file)
			if resp.status != tt.status {
				t.Errorf("status = %d, want %d (body %s)", resp.status, tt.status, resp.body)
			}
		})
	}

	resp := env.json(t, http.MethodPost, "/api/v1/incidents", opToken, map[string]string{"title": "json"})
	if resp.status != http.StatusBadRequest {
		t.Errorf("JSON create status = %d, want 400", resp.status)
	}
}

func TestListIncidents_Scope(t *testing.T) {
	env := newTestEnv(t)
	admin, adminToken := env.user(t, "admin@example.com", auth.RoleAdmin)
	_, supToken := env.user(t, "sup@example.com", auth.RoleSupervisor)
	op, opToken := env.user(t, "op@example.com", auth.RoleOperator)
	op2, op2Token := env.user(t, "op2@example.com", auth.RoleOperator)

	for _, tok := range []string{opToken, opToken, op2Token} {
		resp := env.upload(t, "/api/v1/incidents", tok, map[string]string{"title": "noise"}, "problem_audio", mp3Sample)
		if resp.status != http.StatusCreated {
			t.Fatalf("create status = %d body = %s", resp.status, resp.body)
		}
	}

	tests := []struct {
		name   string
		path   string
		token  string
		status int
		total  int
	}{
		{"operator lists all", "/api/v1/incidents", opToken, http.StatusForbidden, 0},
		{"operator own", "/api/v1/users/me/incidents", opToken, http.StatusOK, 2},
		{"operator by own id", "/api/v1/incidents/user/" + op.ID, opToken, http.StatusOK, 2},
		{"operator by peer id", "/api/v1/incidents/user/" + op2.ID, opToken, http.StatusForbidden, 0},
		{"supervisor all", "/api/v1/incidents", supToken, http.StatusOK, 3},
		{"supervisor by operator", "/api/v1/incidents?user_id=" + op.ID, supToken, http.StatusOK, 2},
		{"supervisor by admin", "/api/v1/incidents?user_id=" + admin.ID, supToken, http.StatusForbidden, 0},
		{"supervisor unknown owner", "/api/v1/incidents?user_id=usr-ghost", supToken, http.StatusOK, 0},
		{"admin status filter", "/api/v1/incidents?status=initiated&limit=2", adminToken, http.StatusOK, 3},
		{"admin resolved filter", "/api/v1/incidents?status=resolved", adminToken, http.StatusOK, 0},
		{"bad status", "/api/v1/incidents?status=closed", adminToken, http.StatusBadRequest, 0},
		{"negative offset", "/api/v1/incidents?offset=-1", adminToken, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tt.path, tt.token, "", nil)
			if resp.status != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", resp.status, tt.status, resp.body)
			}
			if tt.status != http.StatusOK {
				return
			}
			var page incidentPageResponse
			resp.decode(t, &page)
			if page.Total != tt.total {
				t.Errorf("total = %d, want %d", page.Total, tt.total)
			}
			if len(page.Incidents) > page.Limit {
				t.Errorf("got %d incidents, limit %d", len(page.Incidents), page.Limit)
			}
		})
	}
}
