// Package api implements the incidentdesk HTTP REST API.
//
// This package provides:
//   - Account endpoints: registration, email verification, login, password reset
//   - Role-scoped user management
//   - Incident endpoints with multipart audio upload
//   - Admin audit log listing
//   - Health, Prometheus metrics and static audio serving
//
// # Security
//
// Every protected request carries a bearer access token. The token only
// names a subject; the identity is reloaded on each request so a role
// change or deactivation applies immediately. Authorisation decisions are
// made by the identity and incident packages through auth.Allow, never in
// handlers.
//
// Unauthenticated account endpoints are rate limited per client address.
//
// # Errors
//
// Domain errors are mapped to status codes by class in writeDomainError and
// returned in the envelope {"error": {"code": ..., "message": ...}}.
package api
