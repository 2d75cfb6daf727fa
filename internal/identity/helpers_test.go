package identity

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/incidentdesk/internal/auth"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/config"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/database"
	_ "github.com/nerrad567/incidentdesk/migrations"
)

const testSecret = "identity-test-secret-0123456789abcdef"

const strongPassword = "Str0ng!Pass"

func testDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "identity.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

// fakeClock is a settable time source shared by the directory and tokens.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// outbox records notifications instead of sending them.
type outbox struct {
	mu     sync.Mutex
	codes  map[string]string
	resets map[string]string
}

func newOutbox() *outbox {
	return &outbox{codes: map[string]string{}, resets: map[string]string{}}
}

func (o *outbox) SendVerificationCode(email, code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[email] = code
}

func (o *outbox) SendPasswordReset(email, token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets[email] = token
}

func (o *outbox) code(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[email]
}

func (o *outbox) reset(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resets[email]
}

type fixture struct {
	dir    *Directory
	repo   *SQLiteRepository
	mail   *outbox
	clock  *fakeClock
	tokens *auth.TokenService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Now().UTC().Truncate(time.Microsecond)}
	tokens, err := auth.NewTokenService(testSecret, 30*time.Minute, time.Hour, auth.WithClock(clock.now))
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	repo := NewSQLiteRepository(testDB(t).DB)
	mail := newOutbox()
	hasher := auth.NewArgon2Hasher(auth.HashParams{Time: 1, MemoryKiB: 1024, Threads: 1})

	dir := NewDirectory(repo, hasher, tokens, mail, slog.New(slog.DiscardHandler), WithClock(clock.now))
	return &fixture{dir: dir, repo: repo, mail: mail, clock: clock, tokens: tokens}
}

// registerVerified registers and verifies an operator.
func (f *fixture) registerVerified(t *testing.T, email string) *Identity {
	t.Helper()
	ctx := context.Background()
	if _, err := f.dir.Register(ctx, RegisterInput{Email: email, Name: "Test", Surname: "User", Password: strongPassword}); err != nil {
		t.Fatalf("Register(%s) error = %v", email, err)
	}
	i, err := f.dir.VerifyEmail(ctx, email, f.mail.code(email))
	if err != nil {
		t.Fatalf("VerifyEmail(%s) error = %v", email, err)
	}
	return i
}

// provision creates a verified identity with role directly in the store.
func (f *fixture) provision(t *testing.T, email string, role auth.Role) *Identity {
	t.Helper()
	i, err := f.dir.provision(context.Background(), CreateInput{
		Email: email, Name: "Test", Surname: role.String(), Password: strongPassword, Role: role,
	})
	if err != nil {
		t.Fatalf("provision(%s) error = %v", email, err)
	}
	return i
}
