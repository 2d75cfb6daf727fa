package identity

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nerrad567/incidentdesk/internal/auth"
)

func newIdentity(email string, role auth.Role) *Identity {
	return &Identity{
		Email:        email,
		Name:         "Ana",
		Surname:      "Lopez",
		PasswordHash: "$argon2id$placeholder",
		Role:         role,
		IsActive:     true,
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t).DB)
	ctx := context.Background()

	expires := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	in := newIdentity("Ana.Lopez@Example.com", auth.RoleOperator)
	in.VerificationCode = "ABCD2345"
	in.VerificationExpiresAt = &expires

	if err := repo.Create(ctx, in); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(in.ID) <= len(idPrefix) || in.ID[:len(idPrefix)] != idPrefix {
		t.Errorf("ID = %q, want %s prefix", in.ID, idPrefix)
	}

	byID, err := repo.GetByID(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.Email != "Ana.Lopez@Example.com" {
		t.Errorf("Email = %q, want case preserved", byID.Email)
	}
	if byID.Role != auth.RoleOperator || !byID.IsActive || byID.IsVerified {
		t.Errorf("flags = role %v active %v verified %v", byID.Role, byID.IsActive, byID.IsVerified)
	}
	if byID.VerificationCode != "ABCD2345" || byID.VerificationExpiresAt == nil || !byID.VerificationExpiresAt.Equal(expires) {
		t.Errorf("verification = %q %v", byID.VerificationCode, byID.VerificationExpiresAt)
	}

	byEmail, err := repo.GetByEmail(ctx, "ana.lopez@example.COM")
	if err != nil {
		t.Fatalf("GetByEmail() case-insensitive error = %v", err)
	}
	if byEmail.ID != in.ID {
		t.Errorf("GetByEmail() ID = %q, want %q", byEmail.ID, in.ID)
	}
}

func TestSQLiteRepository_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t).DB)
	ctx := context.Background()

	if _, err := repo.GetByID(ctx, "usr-missing"); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("GetByID() error = %v, want ErrIdentityNotFound", err)
	}
	if _, err := repo.GetByEmail(ctx, "nobody@example.com"); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("GetByEmail() error = %v, want auth.ErrNotFound class", err)
	}
	if err := repo.Update(ctx, &Identity{ID: "usr-missing", Role: auth.RoleOperator}); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Update() error = %v, want ErrIdentityNotFound", err)
	}
}

func TestSQLiteRepository_DuplicateEmail(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t).DB)
	ctx := context.Background()

	if err := repo.Create(ctx, newIdentity("dup@example.com", auth.RoleOperator)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, newIdentity("DUP@example.com", auth.RoleAdmin))
	if !errors.Is(err, ErrDuplicateIdentity) || !errors.Is(err, auth.ErrConflict) {
		t.Errorf("Create(duplicate) error = %v, want ErrDuplicateIdentity", err)
	}

	other := newIdentity("other@example.com", auth.RoleOperator)
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	other.Email = "dup@example.com"
	if err := repo.Update(ctx, other); !errors.Is(err, ErrDuplicateIdentity) {
		t.Errorf("Update(duplicate email) error = %v, want ErrDuplicateIdentity", err)
	}
}

func TestSQLiteRepository_UpdateClearsCode(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t).DB)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	i := newIdentity("ana@example.com", auth.RoleOperator)
	i.VerificationCode = "ABCD2345"
	i.VerificationExpiresAt = &expires
	if err := repo.Create(ctx, i); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	i.IsVerified = true
	i.VerificationCode = ""
	i.VerificationExpiresAt = nil
	i.Role = auth.RoleSupervisor
	if err := repo.Update(ctx, i); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, i.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.IsVerified || got.VerificationCode != "" || got.VerificationExpiresAt != nil {
		t.Errorf("after update: verified=%v code=%q expires=%v", got.IsVerified, got.VerificationCode, got.VerificationExpiresAt)
	}
	if got.Role != auth.RoleSupervisor {
		t.Errorf("Role = %v, want supervisor", got.Role)
	}
}

func TestSQLiteRepository_ListAndCount(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t).DB)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seed := []struct {
		email  string
		role   auth.Role
		active bool
	}{
		{"admin@example.com", auth.RoleAdmin, true},
		{"sup@example.com", auth.RoleSupervisor, true},
		{"op1@example.com", auth.RoleOperator, true},
		{"op2@example.com", auth.RoleOperator, false},
		{"old-admin@example.com", auth.RoleAdmin, false},
	}
	for n, s := range seed {
		i := newIdentity(s.email, s.role)
		i.IsActive = s.active
		i.CreatedAt = base.Add(time.Duration(n) * time.Minute)
		if err := repo.Create(ctx, i); err != nil {
			t.Fatalf("Create(%s) error = %v", s.email, err)
		}
	}

	all, total, err := repo.List(ctx, Filter{Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 5 || len(all) != 5 || all[0].Email != "admin@example.com" {
		t.Errorf("List() total=%d len=%d first=%q", total, len(all), all[0].Email)
	}

	ops, total, err := repo.List(ctx, Filter{Roles: []auth.Role{auth.RoleOperator}, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List(operators) error = %v", err)
	}
	if total != 2 || len(ops) != 1 || ops[0].Email != "op2@example.com" {
		t.Errorf("List(operators page 2) total=%d items=%+v", total, ops)
	}

	admins, err := repo.CountByRole(ctx, auth.RoleAdmin)
	if err != nil {
		t.Fatalf("CountByRole() error = %v", err)
	}
	if admins != 1 {
		t.Errorf("CountByRole(admin) = %d, want 1 active", admins)
	}
}

func TestSQLiteRepository_DriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	boom := errors.New("disk I/O error")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO identities")).WillReturnError(boom)
	if err := repo.Create(ctx, newIdentity("a@example.com", auth.RoleOperator)); !errors.Is(err, boom) {
		t.Errorf("Create() error = %v, want wrapped driver error", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email")).WillReturnError(boom)
	if _, err := repo.GetByID(ctx, "usr-1"); !errors.Is(err, boom) || errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("GetByID() error = %v, want driver error", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE identities")).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Update(ctx, newIdentity("a@example.com", auth.RoleOperator)); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Update(0 rows) error = %v, want ErrIdentityNotFound", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM identities")).WillReturnError(boom)
	if _, _, err := repo.List(ctx, Filter{Limit: 10}); !errors.Is(err, boom) {
		t.Errorf("List() error = %v, want driver error", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM identities WHERE role")).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	if n, err := repo.CountByRole(ctx, auth.RoleAdmin); err != nil || n != 3 {
		t.Errorf("CountByRole() = %d, %v; want 3, nil", n, err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "name", "surname", "password_hash", "role", "is_verified", "is_active",
			"verification_code", "verification_expires_at", "created_at", "updated_at",
		}).AddRow("usr-1", "a@example.com", "A", "B", "h", "root", 1, 1, nil, nil,
			"2026-03-01T00:00:00.000000Z", "2026-03-01T00:00:00.000000Z"))
	if _, err := repo.GetByID(ctx, "usr-1"); !errors.Is(err, auth.ErrValidation) {
		t.Errorf("GetByID(bad role) error = %v, want role parse failure", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
