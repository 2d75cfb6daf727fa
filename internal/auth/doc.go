// Package auth holds the credential primitives and the authorisation model
// shared by the identity directory and the incident workflow.
//
// It provides:
//   - Argon2id password hashing in PHC string format
//   - HS256 bearer tokens for access and password reset (stateless, no revocation)
//   - Single-use email verification codes
//   - The password strength policy applied on registration and reset
//   - A closed three-role model (operator → supervisor → admin) and a pure
//     Allow decision function covering every user and incident action
//
// Nothing in this package touches storage. Callers resolve the actor and the
// target resource first, then ask Allow.
package auth
