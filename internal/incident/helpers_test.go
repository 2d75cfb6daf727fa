package incident

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/incidentdesk/internal/auth"
	"github.com/nerrad567/incidentdesk/internal/identity"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/config"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/database"
	"github.com/nerrad567/incidentdesk/internal/storage"
	_ "github.com/nerrad567/incidentdesk/migrations"
)

// mp3Sample starts with an ID3v2 tag header.
var mp3Sample = append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)

func audio() io.Reader { return bytes.NewReader(mp3Sample) }

func testDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "incident.db"),
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

// tickClock advances one second on every read so creation order is stable.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// eventLog records every emitted event.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) IncidentEvent(_ context.Context, ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for n, ev := range l.events {
		out[n] = ev.Kind
	}
	return out
}

type fixture struct {
	flow   *Workflow
	repo   *SQLiteRepository
	people *identity.SQLiteRepository
	blobs  *storage.FileStore
	events *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	blobs, err := storage.NewFileStore(config.StorageConfig{
		Root:         filepath.Join(t.TempDir(), "audio"),
		URLPrefix:    "/audio",
		MaxBytes:     4096,
		AllowedTypes: []string{"audio/mpeg", "audio/wav"},
	})
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	f := &fixture{
		repo:   NewSQLiteRepository(db.DB),
		people: identity.NewSQLiteRepository(db.DB),
		blobs:  blobs,
		events: &eventLog{},
	}
	clock := &tickClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	f.flow = NewWorkflow(f.repo, blobs, f.people, slog.New(slog.DiscardHandler),
		WithClock(clock.now), WithEvents(f.events))
	return f
}

// person inserts an active verified identity and returns its subject.
func (f *fixture) person(t *testing.T, email string, role auth.Role) auth.Subject {
	t.Helper()
	i := &identity.Identity{
		Email: email, Name: "Test", Surname: role.String(), PasswordHash: "x",
		Role: role, IsVerified: true, IsActive: true,
	}
	if err := f.people.Create(context.Background(), i); err != nil {
		t.Fatalf("creating %s: %v", email, err)
	}
	return auth.Subject{ID: i.ID, Role: role}
}

func (f *fixture) open(t *testing.T, owner auth.Subject, title string) *Incident {
	t.Helper()
	inc, err := f.flow.Create(context.Background(), owner, CreateInput{Title: title, Audio: audio()})
	if err != nil {
		t.Fatalf("Create(%q) error = %v", title, err)
	}
	return inc
}

// cast is the usual set of actors.
type cast struct {
	admin, supervisor, op1, op2 auth.Subject
}

func (f *fixture) cast(t *testing.T) cast {
	t.Helper()
	return cast{
		admin:      f.person(t, "admin@example.com", auth.RoleAdmin),
		supervisor: f.person(t, "super@example.com", auth.RoleSupervisor),
		op1:        f.person(t, "op1@example.com", auth.RoleOperator),
		op2:        f.person(t, "op2@example.com", auth.RoleOperator),
	}
}
