package audit

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/incidentdesk/internal/infrastructure/config"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/database"
	_ "github.com/nerrad567/incidentdesk/migrations"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
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

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t).DB)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{Action: ActionRegister, EntityType: EntityIdentity, EntityID: "usr-1", ActorID: "usr-1", CreatedAt: base},
		{Action: ActionCreate, EntityType: EntityIncident, EntityID: "inc-1", ActorID: "usr-1", CreatedAt: base.Add(time.Minute),
			Details: map[string]any{"title": "Pump noise"}},
		{Action: ActionAttachSolution, EntityType: EntityIncident, EntityID: "inc-1", ActorID: "usr-1", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" {
			t.Fatal("Create() should assign an ID")
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Entries) != 3 {
		t.Fatalf("List() total=%d len=%d, want 3/3", all.Total, len(all.Entries))
	}
	if all.Entries[0].Action != ActionAttachSolution {
		t.Errorf("newest entry = %q, want %q", all.Entries[0].Action, ActionAttachSolution)
	}
	if all.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", all.Limit, defaultLimit)
	}

	incidents, err := repo.List(ctx, Filter{EntityType: EntityIncident, EntityID: "inc-1"})
	if err != nil {
		t.Fatalf("List(filter) error = %v", err)
	}
	if incidents.Total != 2 {
		t.Errorf("filtered total = %d, want 2", incidents.Total)
	}
	created := incidents.Entries[1]
	if created.Details["title"] != "Pump noise" {
		t.Errorf("Details = %v, want title preserved", created.Details)
	}
	if !created.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("CreatedAt = %v, want %v", created.CreatedAt, base.Add(time.Minute))
	}

	page, err := repo.List(ctx, Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List(page) error = %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].Action != ActionCreate {
		t.Errorf("second page = %+v, want the create entry", page.Entries)
	}

	clamped, err := repo.List(ctx, Filter{Limit: 10_000, Offset: -4})
	if err != nil {
		t.Fatalf("List(clamped) error = %v", err)
	}
	if clamped.Limit != maxLimit || clamped.Offset != 0 {
		t.Errorf("clamped limit/offset = %d/%d, want %d/0", clamped.Limit, clamped.Offset, maxLimit)
	}
}

func TestSQLiteRepository_EmptyList(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t).DB)

	res, err := repo.List(context.Background(), Filter{ActorID: "nobody"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Entries == nil || len(res.Entries) != 0 {
		t.Errorf("Entries = %v, want empty non-nil slice", res.Entries)
	}
}

// memRepo records entries in memory.
type memRepo struct {
	mu      sync.Mutex
	entries []*Entry
	fail    bool
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) {
	return &ListResult{}, nil
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, 8, slog.New(slog.DiscardHandler))

	rec.Record(ActionCreate, EntityIncident, "inc-1", "usr-1", nil)
	rec.Record(ActionUpdate, EntityIdentity, "usr-2", "usr-1", map[string]any{"role": "supervisor"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	if len(repo.entries) != 2 {
		t.Fatalf("written = %d, want 2", len(repo.entries))
	}
	if repo.entries[0].CreatedAt.IsZero() {
		t.Error("Record() should stamp CreatedAt")
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, 1, slog.New(slog.DiscardHandler))

	rec.Record(ActionCreate, EntityIncident, "inc-1", "usr-1", nil)
	rec.Record(ActionCreate, EntityIncident, "inc-2", "usr-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	if len(repo.entries) != 1 || repo.entries[0].EntityID != "inc-1" {
		t.Errorf("entries = %+v, want only inc-1", repo.entries)
	}
}

func TestRecorder_WriteFailureIsLogged(t *testing.T) {
	rec := NewRecorder(&memRepo{fail: true}, 1, slog.New(slog.DiscardHandler))
	rec.Record(ActionCreate, EntityIncident, "inc-1", "usr-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx) // must return despite the failing repository
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var rec *Recorder
	rec.Record(ActionCreate, EntityIncident, "inc-1", "usr-1", nil)
}
