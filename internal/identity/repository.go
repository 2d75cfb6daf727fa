package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/incidentdesk/internal/auth"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/database"
)

// Filter selects identities for List. Empty Roles matches every role.
type Filter struct {
	Roles  []auth.Role
	Limit  int
	Offset int
}

// Repository persists identities.
type Repository interface {
	Create(ctx context.Context, id *Identity) error
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	List(ctx context.Context, f Filter) ([]Identity, int, error)
	Update(ctx context.Context, id *Identity) error
	CountByRole(ctx context.Context, role auth.Role) (int, error)
}

// SQLiteRepository implements Repository on the identities table. Email
// lookups are case-insensitive through the column collation.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const identityColumns = `id, email, name, surname, password_hash, role, is_verified, is_active,
	verification_code, verification_expires_at, created_at, updated_at`

// Create inserts a new identity, assigning ID and timestamps when empty.
func (r *SQLiteRepository) Create(ctx context.Context, i *Identity) error {
	if i.ID == "" {
		i.ID = idPrefix + uuid.NewString()
	}
	now := time.Now().UTC()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = i.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (`+identityColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.Email, i.Name, i.Surname, i.PasswordHash, i.Role.String(),
		boolToInt(i.IsVerified), boolToInt(i.IsActive),
		nullString(i.VerificationCode), nullTime(i.VerificationExpiresAt),
		database.FormatTime(i.CreatedAt), database.FormatTime(i.UpdatedAt),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("creating identity: %w", err)
	}
	return nil
}

// GetByID returns ErrIdentityNotFound when no row matches.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	return scanIdentity(row)
}

// GetByEmail matches email case-insensitively.
func (r *SQLiteRepository) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = ?`, email)
	return scanIdentity(row)
}

// List returns one page of identities, oldest first, and the total count.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]Identity, int, error) {
	where := ""
	var args []any
	if len(f.Roles) > 0 {
		marks := make([]string, len(f.Roles))
		for n, role := range f.Roles {
			marks[n] = "?"
			args = append(args, role.String())
		}
		where = " WHERE role IN (" + strings.Join(marks, ", ") + ")"
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting identities: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities`+where+` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing identities: %w", err)
	}
	defer rows.Close()

	identities := []Identity{}
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, 0, err
		}
		identities = append(identities, *i)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating identities: %w", err)
	}
	return identities, total, nil
}

// Update writes every mutable column and bumps updated_at.
func (r *SQLiteRepository) Update(ctx context.Context, i *Identity) error {
	i.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET email = ?, name = ?, surname = ?, password_hash = ?, role = ?,
		        is_verified = ?, is_active = ?, verification_code = ?, verification_expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		i.Email, i.Name, i.Surname, i.PasswordHash, i.Role.String(),
		boolToInt(i.IsVerified), boolToInt(i.IsActive),
		nullString(i.VerificationCode), nullTime(i.VerificationExpiresAt),
		database.FormatTime(i.UpdatedAt), i.ID,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("updating identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating identity: %w", err)
	}
	if n == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// CountByRole counts active identities holding role.
func (r *SQLiteRepository) CountByRole(ctx context.Context, role auth.Role) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM identities WHERE role = ? AND is_active = 1`, role.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s identities: %w", role, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(s scanner) (*Identity, error) {
	var i Identity
	var role string
	var verified, active int
	var code, expires sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&i.ID, &i.Email, &i.Name, &i.Surname, &i.PasswordHash, &role,
		&verified, &active, &code, &expires, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("scanning identity: %w", err)
	}

	if i.Role, err = auth.ParseRole(role); err != nil {
		return nil, fmt.Errorf("identity %s: %w", i.ID, err)
	}
	i.IsVerified = verified != 0
	i.IsActive = active != 0
	i.VerificationCode = code.String
	if expires.Valid {
		t, err := database.ParseTime(expires.String)
		if err != nil {
			return nil, err
		}
		i.VerificationExpiresAt = &t
	}
	if i.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: database.FormatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
