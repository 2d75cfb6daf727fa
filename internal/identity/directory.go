package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/incidentdesk/internal/auth"
)

// Page bounds for List.
const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// DefaultCodeTTL is how long a verification code stays exchangeable.
const DefaultCodeTTL = 24 * time.Hour

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) bool
}

// ResetTokens issues and verifies password reset tokens.
type ResetTokens interface {
	IssueReset(subject string) (string, error)
	Verify(token string) (subject string, ok bool)
}

// Notifier delivers account emails. Implementations must not block.
type Notifier interface {
	SendVerificationCode(email, code string)
	SendPasswordReset(email, token string)
}

// Option configures a Directory.
type Option func(*Directory)

// WithClock overrides time.Now for code expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// WithCodePolicy sets the verification code length and lifetime.
func WithCodePolicy(length int, ttl time.Duration) Option {
	return func(d *Directory) {
		if length > 0 {
			d.codeLength = length
		}
		if ttl > 0 {
			d.codeTTL = ttl
		}
	}
}

// Directory implements every identity use case.
type Directory struct {
	repo     Repository
	hasher   PasswordHasher
	tokens   ResetTokens
	notifier Notifier
	logger   *slog.Logger

	now        func() time.Time
	codeLength int
	codeTTL    time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// NewDirectory wires a Directory.
func NewDirectory(repo Repository, hasher PasswordHasher, tokens ResetTokens, notifier Notifier, logger *slog.Logger, opts ...Option) *Directory {
	d := &Directory{
		repo:       repo,
		hasher:     hasher,
		tokens:     tokens,
		notifier:   notifier,
		logger:     logger.With("component", "identity"),
		now:        time.Now,
		codeLength: auth.DefaultCodeLength,
		codeTTL:    DefaultCodeTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterInput is a self-registration request.
type RegisterInput struct {
	Email    string
	Name     string
	Surname  string
	Password string
}

// Register creates an unverified operator and emails a verification code.
func (d *Directory) Register(ctx context.Context, in RegisterInput) (*Identity, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name, surname, err := validateNames(in.Name, in.Surname)
	if err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := d.repo.GetByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateIdentity
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return nil, err
	}

	hash, err := d.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	code, expires, err := d.newCode()
	if err != nil {
		return nil, err
	}

	i := &Identity{
		Email:                 email,
		Name:                  name,
		Surname:               surname,
		PasswordHash:          hash,
		Role:                  auth.RoleOperator,
		IsActive:              true,
		VerificationCode:      code,
		VerificationExpiresAt: &expires,
		CreatedAt:             d.now().UTC(),
	}
	if err := d.repo.Create(ctx, i); err != nil {
		return nil, err
	}

	d.logger.Info("identity registered", "identity_id", i.ID)
	d.notifier.SendVerificationCode(i.Email, code)
	return i, nil
}

// VerifyEmail exchanges a verification code. The code must match exactly,
// is single-use and must be unexpired.
func (d *Directory) VerifyEmail(ctx context.Context, email, code string) (*Identity, error) {
	i, err := d.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	if i.IsVerified {
		return nil, ErrAlreadyVerified
	}
	if !auth.CodesEqual(code, i.VerificationCode) {
		return nil, ErrInvalidCode
	}
	if i.VerificationExpiresAt != nil && !d.now().Before(*i.VerificationExpiresAt) {
		return nil, ErrInvalidCode
	}

	i.IsVerified = true
	i.VerificationCode = ""
	i.VerificationExpiresAt = nil
	if err := d.repo.Update(ctx, i); err != nil {
		return nil, err
	}
	d.logger.Info("email verified", "identity_id", i.ID)
	return i, nil
}

// ResendVerification issues a fresh code. Unknown and deactivated emails
// are acknowledged silently.
func (d *Directory) ResendVerification(ctx context.Context, email string) error {
	i, err := d.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrIdentityNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if i.IsVerified {
		return ErrAlreadyVerified
	}
	if !i.IsActive {
		return nil
	}

	code, expires, err := d.newCode()
	if err != nil {
		return err
	}
	i.VerificationCode = code
	i.VerificationExpiresAt = &expires
	if err := d.repo.Update(ctx, i); err != nil {
		return err
	}
	d.notifier.SendVerificationCode(i.Email, code)
	return nil
}

// Authenticate checks credentials. ok is false for an unknown email, a
// wrong password, an unverified or a deactivated identity; the four cases
// are indistinguishable to the caller and take comparable time. err is set
// only for store failures.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (*Identity, bool, error) {
	i, err := d.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrIdentityNotFound) {
		d.hasher.Verify(password, d.dummy())
		d.logger.Info("authentication failed", "reason", "unknown_email")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !d.hasher.Verify(password, i.PasswordHash) {
		d.logger.Info("authentication failed", "reason", "bad_password", "identity_id", i.ID)
		return nil, false, nil
	}
	if !i.IsActive || !i.IsVerified {
		d.logger.Info("authentication failed", "reason", "inactive_or_unverified", "identity_id", i.ID)
		return nil, false, nil
	}
	return i, true, nil
}

// dummy returns a hash used to equalise timing for unknown emails.
func (d *Directory) dummy() string {
	d.dummyOnce.Do(func() {
		h, err := d.hasher.Hash("incidentdesk-timing-equaliser")
		if err == nil {
			d.dummyHash = h
		}
	})
	return d.dummyHash
}

// RequestPasswordReset emails a reset token to an active, verified
// identity. It returns nil for every email so the caller's response never
// reveals whether an account exists.
func (d *Directory) RequestPasswordReset(ctx context.Context, email string) error {
	i, err := d.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrIdentityNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !i.IsVerified || !i.IsActive {
		return nil
	}

	token, err := d.tokens.IssueReset(i.ID)
	if err != nil {
		return fmt.Errorf("issuing reset token: %w", err)
	}
	d.logger.Info("password reset requested", "identity_id", i.ID)
	d.notifier.SendPasswordReset(i.Email, token)
	return nil
}

// ResetPassword sets a new password for the token's subject.
func (d *Directory) ResetPassword(ctx context.Context, token, newPassword string) (*Identity, error) {
	subject, ok := d.tokens.Verify(token)
	if !ok {
		return nil, ErrInvalidToken
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	i, err := d.repo.GetByID(ctx, subject)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !i.IsActive {
		return nil, ErrInvalidToken
	}

	hash, err := d.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	i.PasswordHash = hash
	if err := d.repo.Update(ctx, i); err != nil {
		return nil, err
	}
	d.logger.Info("password reset", "identity_id", i.ID)
	return i, nil
}

// ResolveSubject loads the identity behind a verified token subject. A
// missing or deactivated identity is unauthenticated; an unverified one is
// forbidden.
func (d *Directory) ResolveSubject(ctx context.Context, subjectID string) (*Identity, error) {
	i, err := d.repo.GetByID(ctx, subjectID)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, fmt.Errorf("%w: unknown subject", auth.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	if !i.IsActive {
		return nil, ErrInactive
	}
	if !i.IsVerified {
		return nil, ErrUnverified
	}
	return i, nil
}

func (d *Directory) newCode() (string, time.Time, error) {
	code, err := auth.NewVerificationCode(d.codeLength)
	if err != nil {
		return "", time.Time{}, err
	}
	return code, d.now().UTC().Add(d.codeTTL), nil
}

// normalizeEmail trims and validates an address, preserving case.
func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" || len(email) > maxEmailLength {
		return "", fmt.Errorf("%w: email is required and must be at most %d characters", auth.ErrValidation, maxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", fmt.Errorf("%w: %q is not a valid email address", auth.ErrValidation, email)
	}
	return email, nil
}

func validateNames(name, surname string) (string, string, error) {
	name, surname = strings.TrimSpace(name), strings.TrimSpace(surname)
	for field, v := range map[string]string{"name": name, "surname": surname} {
		if v == "" || len([]rune(v)) > maxNameLength {
			return "", "", fmt.Errorf("%w: %s must be 1-%d characters", auth.ErrValidation, field, maxNameLength)
		}
	}
	return name, surname, nil
}
