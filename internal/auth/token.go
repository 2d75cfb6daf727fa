package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/incidentdesk/internal/metrics"
)

// MinSecretLength is the shortest signing secret the token service accepts.
const MinSecretLength = 32

// Default token lifetimes.
const (
	DefaultAccessTTL = 30 * time.Minute
	DefaultResetTTL  = time.Hour
)

// DefaultIssuer is the iss claim stamped on every token.
const DefaultIssuer = "incidentdesk"

// ErrSecretTooShort is returned by NewTokenService when the signing secret is
// missing or shorter than MinSecretLength. Callers treat it as fatal at startup.
var ErrSecretTooShort = fmt.Errorf("token signing secret must be at least %d characters", MinSecretLength)

// TokenService issues and verifies HS256 bearer tokens. Access and password
// reset tokens are the same primitive with different lifetimes; nothing is
// persisted, so tokens stay valid until they expire.
type TokenService struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// tokenClaims carries the exact expiry alongside the standard claims. The
// wire exp is whole seconds, rounded up so it never fires before exp_ns.
type tokenClaims struct {
	jwt.RegisteredClaims
	ExpiresAtNano int64 `json:"exp_ns"`
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// WithIssuer overrides DefaultIssuer.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) { s.issuer = issuer }
}

// WithTokenLogger sets the logger that records why verification failed.
func WithTokenLogger(l *slog.Logger) TokenOption {
	return func(s *TokenService) { s.logger = l }
}

// NewTokenService builds a token service. Non-positive TTLs fall back to
// DefaultAccessTTL and DefaultResetTTL.
func NewTokenService(secret string, accessTTL, resetTTL time.Duration, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if resetTTL <= 0 {
		resetTTL = DefaultResetTTL
	}

	s := &TokenService{
		secret:    []byte(secret),
		issuer:    DefaultIssuer,
		accessTTL: accessTTL,
		resetTTL:  resetTTL,
		now:       time.Now,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the lifetime of access tokens.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// ResetTTL returns the lifetime of password reset tokens.
func (s *TokenService) ResetTTL() time.Duration { return s.resetTTL }

// Issue signs a token for subject that expires ttl from now.
func (s *TokenService) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: empty token subject", ErrValidation)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: token ttl must be positive", ErrValidation)
	}

	now := s.now()
	expires := now.Add(ttl)
	wireExp := expires.Truncate(time.Second)
	if wireExp.Before(expires) {
		wireExp = wireExp.Add(time.Second)
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(wireExp),
			ID:        uuid.NewString(),
		},
		ExpiresAtNano: expires.UnixNano(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// IssueAccess signs an access token for subject.
func (s *TokenService) IssueAccess(subject string) (string, error) {
	return s.Issue(subject, s.accessTTL)
}

// IssueReset signs a password reset token for subject.
func (s *TokenService) IssueReset(subject string) (string, error) {
	return s.Issue(subject, s.resetTTL)
}

// Verify returns the subject of a valid token. Any failure, including a
// token at or past its expiry, yields ok=false and an empty subject. The
// reason is logged, never returned.
func (s *TokenService) Verify(token string) (subject string, ok bool) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "expired"
		}
		s.reject(reason, err)
		return "", false
	}

	switch {
	case !parsed.Valid || claims.Subject == "":
		s.reject("invalid", "missing subject")
		return "", false
	case claims.ExpiresAtNano == 0:
		s.reject("invalid", "missing exp_ns")
		return "", false
	case !s.now().Before(time.Unix(0, claims.ExpiresAtNano)):
		s.reject("expired", "token is expired")
		return "", false
	}
	return claims.Subject, true
}

func (s *TokenService) reject(reason string, err any) {
	s.logger.Info("token rejected", "reason", reason, "error", err)
	metrics.TokenRejections.WithLabelValues(reason).Inc()
}
