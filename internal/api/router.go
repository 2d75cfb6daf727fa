package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nerrad567/incidentdesk/internal/metrics"
)

// uploadOverhead is the multipart framing allowance on top of the audio
// size limit.
const uploadOverhead = 64 << 10

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(metrics.Instrument)
	r.Use(cors.Handler(s.corsOptions()))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	// Stored audio, unauthenticated by URL like any static asset.
	r.Handle(s.audio.URLPrefix()+"/*", s.audio.Handler())
	r.Handle("/metrics", metrics.Handler())

	jsonLimit := s.bodySizeLimitMiddleware(maxRequestBodySize)
	uploadLimit := s.bodySizeLimitMiddleware(s.audio.MaxBytes() + uploadOverhead)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Use(jsonLimit)
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware)
				r.Post("/register", s.handleRegister)
				r.Post("/login", s.handleLogin)
				r.Post("/verify-email", s.handleVerifyEmail)
				r.Post("/resend-verification", s.handleResendVerification)
				r.Post("/forgot-password", s.handleForgotPassword)
				r.Post("/reset-password", s.handleResetPassword)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/me", s.handleMe)
				r.Post("/logout", s.handleLogout)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/users", func(r chi.Router) {
				r.Use(jsonLimit)
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Get("/me/incidents", s.handleMyIncidents)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Patch("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeactivateUser)
				})
			})

			r.Route("/incidents", func(r chi.Router) {
				r.Get("/", s.handleListIncidents)
				r.With(uploadLimit).Post("/", s.handleCreateIncident)
				r.Get("/user/{userID}", s.handleListUserIncidents)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetIncident)
					r.With(uploadLimit).Post("/solution", s.handleAttachSolution)
					r.With(jsonLimit).Patch("/observations", s.handleAmendObservations)
					r.Get("/audio/{kind}", s.handleIncidentAudio)
				})
			})

			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

func (s *Server) corsOptions() cors.Options {
	origins := s.cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := s.cfg.CORS.AllowedMethods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	}
	headers := s.cfg.CORS.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type", "X-Request-ID"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400,
	}
}
