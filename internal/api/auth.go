package api

import (
	"net/http"
	"strings"

	"github.com/nerrad567/incidentdesk/internal/audit"
	"github.com/nerrad567/incidentdesk/internal/identity"
	"github.com/nerrad567/incidentdesk/internal/metrics"
)

// ─── Request/Response Types ────────────────────────────────────────

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleRegister creates an unverified operator and emails a code.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}

	id, err := s.directory.Register(r.Context(), identity.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Surname:  req.Surname,
		Password: req.Password,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	metrics.Registrations.Inc()
	s.audit.Record(audit.ActionRegister, audit.EntityIdentity, id.ID, id.ID, nil)
	writeJSON(w, http.StatusCreated, id)
}

// handleLogin exchanges credentials for an access token. It accepts a JSON
// body or an OAuth2 password form (username, password).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			s.writeDecodeError(w, r, err)
			return
		}
		req.Email = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	} else if err := decodeJSON(r, &req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "email and password are required")
		return
	}

	id, ok, err := s.directory.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !ok {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeUnauthorized(w, "incorrect email or password")
		return
	}

	token, err := s.tokens.IssueAccess(id.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	metrics.AuthAttempts.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.tokens.AccessTTL().Seconds()),
	})
}

// handleVerifyEmail exchanges a verification code.
func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}

	id, err := s.directory.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.audit.Record(audit.ActionVerifyEmail, audit.EntityIdentity, id.ID, id.ID, nil)
	writeJSON(w, http.StatusOK, id)
}

// handleResendVerification issues a new code. The reply is the same for
// unknown emails.
func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}
	if err := s.directory.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "if the account exists and is unverified, a new code has been sent",
	})
}

// handleForgotPassword requests a reset email. The reply never reveals
// whether the account exists.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}
	if err := s.directory.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "if the email exists, a reset link has been sent",
	})
}

// handleResetPassword sets a new password from a reset token.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDecodeError(w, r, err)
		return
	}

	id, err := s.directory.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.audit.Record(audit.ActionPasswordReset, audit.EntityIdentity, id.ID, id.ID, nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}

// handleMe returns the authenticated identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentIdentity(r.Context()))
}

// handleLogout acknowledges a logout. Tokens are stateless; the client
// discards its copy and the token expires on its own.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func isForm(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
}
