package incident

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/incidentdesk/internal/auth"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/database"
)

// Filter selects incidents for List. Zero fields match everything.
type Filter struct {
	OwnerID    string
	OwnerRoles []auth.Role
	Status     Status
	Limit      int
	Offset     int
}

// SolutionUpdate is the single transition out of StatusInitiated.
type SolutionUpdate struct {
	AudioRef     string
	Status       Status
	Observations *string
	At           time.Time
}

// Repository persists incidents.
type Repository interface {
	Create(ctx context.Context, inc *Incident) error
	Get(ctx context.Context, id string) (*Incident, error)
	List(ctx context.Context, f Filter) ([]Incident, int, error)
	AttachSolution(ctx context.Context, id string, u SolutionUpdate) error
	UpdateObservations(ctx context.Context, id, observations string, at time.Time) error
}

// SQLiteRepository implements Repository on the incidents table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectIncident = `SELECT i.id, i.title, i.problem_audio_ref, i.solution_audio_ref, i.observations,
	i.status, i.is_resolved, i.owner_id, i.created_at, i.updated_at,
	u.name, u.surname, u.email, u.role
	FROM incidents i JOIN identities u ON u.id = i.owner_id`

// Create inserts inc. The owner must exist.
func (r *SQLiteRepository) Create(ctx context.Context, inc *Incident) error {
	if inc.UpdatedAt.IsZero() {
		inc.UpdatedAt = inc.CreatedAt
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO incidents (id, title, problem_audio_ref, solution_audio_ref, observations,
		                        status, is_resolved, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.Title, inc.ProblemAudioRef, nullString(inc.SolutionAudioRef), nullString(inc.Observations),
		string(inc.Status), boolToInt(inc.IsResolved), inc.OwnerID,
		database.FormatTime(inc.CreatedAt), database.FormatTime(inc.UpdatedAt),
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: owner %s does not exist", auth.ErrValidation, inc.OwnerID)
		}
		return fmt.Errorf("creating incident: %w", err)
	}
	return nil
}

// Get returns ErrIncidentNotFound when no row matches.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Incident, error) {
	return scanIncident(r.db.QueryRowContext(ctx, selectIncident+` WHERE i.id = ?`, id))
}

// List returns one page, newest first, and the total count.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]Incident, int, error) {
	var conds []string
	var args []any
	if f.OwnerID != "" {
		conds = append(conds, "i.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if len(f.OwnerRoles) > 0 {
		marks := make([]string, len(f.OwnerRoles))
		for n, role := range f.OwnerRoles {
			marks[n] = "?"
			args = append(args, role.String())
		}
		conds = append(conds, "u.role IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Status != "" {
		conds = append(conds, "i.status = ?")
		args = append(args, string(f.Status))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incidents i JOIN identities u ON u.id = i.owner_id`+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting incidents: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		selectIncident+where+` ORDER BY i.created_at DESC, i.id DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing incidents: %w", err)
	}
	defer rows.Close()

	incidents := []Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, 0, err
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating incidents: %w", err)
	}
	return incidents, total, nil
}

// AttachSolution sets the solution only while none is present, so two
// racing attachments cannot both win. The loser gets ErrSolutionExists.
func (r *SQLiteRepository) AttachSolution(ctx context.Context, id string, u SolutionUpdate) error {
	var obs sql.NullString
	if u.Observations != nil {
		obs = sql.NullString{String: *u.Observations, Valid: true}
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE incidents
		 SET solution_audio_ref = ?, status = ?, is_resolved = ?,
		     observations = COALESCE(?, observations), updated_at = ?
		 WHERE id = ? AND solution_audio_ref IS NULL`,
		u.AudioRef, string(u.Status), boolToInt(u.Status == StatusResolved),
		obs, database.FormatTime(u.At), id,
	)
	if err != nil {
		return fmt.Errorf("attaching solution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("attaching solution: %w", err)
	}
	if n == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// UpdateObservations replaces the observations text.
func (r *SQLiteRepository) UpdateObservations(ctx context.Context, id, observations string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE incidents SET observations = ?, updated_at = ? WHERE id = ?`,
		nullString(observations), database.FormatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("updating observations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating observations: %w", err)
	}
	if n == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

// missOrConflict explains a conditional update that touched no rows.
func (r *SQLiteRepository) missOrConflict(ctx context.Context, id string) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM incidents WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrIncidentNotFound
	}
	if err != nil {
		return fmt.Errorf("checking incident: %w", err)
	}
	return ErrSolutionExists
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(s scanner) (*Incident, error) {
	var inc Incident
	var solution, observations sql.NullString
	var status, ownerRole, createdAt, updatedAt string
	var resolved int

	err := s.Scan(&inc.ID, &inc.Title, &inc.ProblemAudioRef, &solution, &observations,
		&status, &resolved, &inc.OwnerID, &createdAt, &updatedAt,
		&inc.Owner.Name, &inc.Owner.Surname, &inc.Owner.Email, &ownerRole)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("scanning incident: %w", err)
	}

	inc.SolutionAudioRef = solution.String
	inc.Observations = observations.String
	inc.Status = Status(status)
	inc.IsResolved = resolved != 0
	if inc.Owner.Role, err = auth.ParseRole(ownerRole); err != nil {
		return nil, fmt.Errorf("incident %s owner: %w", inc.ID, err)
	}
	if inc.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if inc.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &inc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
