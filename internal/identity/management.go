package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/incidentdesk/internal/auth"
)

// Get returns the identity id if actor may view it.
func (d *Directory) Get(ctx context.Context, actor auth.Subject, id string) (*Identity, error) {
	target, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.Allow(actor, auth.ActionViewUser, auth.Resource{OwnerID: target.ID, OwnerRole: target.Role}) {
		return nil, fmt.Errorf("%w: cannot view identity %s", auth.ErrForbidden, id)
	}
	return target, nil
}

// ListInput narrows List. Role is optional.
type ListInput struct {
	Role   *auth.Role
	Limit  int
	Offset int
}

// Page is one page of identities.
type Page struct {
	Identities []Identity `json:"identities"`
	Total      int        `json:"total"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// List returns identities visible to actor. Supervisors only ever see
// operators, so asking for another role yields an empty page.
func (d *Directory) List(ctx context.Context, actor auth.Subject, in ListInput) (*Page, error) {
	if !auth.Allow(actor, auth.ActionListUsers, auth.Resource{}) {
		return nil, fmt.Errorf("%w: cannot list identities", auth.ErrForbidden)
	}
	limit, offset := clampPage(in.Limit, in.Offset)

	var roles []auth.Role
	switch {
	case actor.Role == auth.RoleSupervisor:
		if in.Role != nil && *in.Role != auth.RoleOperator {
			return &Page{Identities: []Identity{}, Limit: limit, Offset: offset}, nil
		}
		roles = []auth.Role{auth.RoleOperator}
	case in.Role != nil:
		roles = []auth.Role{*in.Role}
	}

	items, total, err := d.repo.List(ctx, Filter{Roles: roles, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &Page{Identities: items, Total: total, Limit: limit, Offset: offset}, nil
}

// CreateInput is an admin-provisioned account.
type CreateInput struct {
	Email    string
	Name     string
	Surname  string
	Password string
	Role     auth.Role
}

// Create provisions a verified, active identity. Admin only.
func (d *Directory) Create(ctx context.Context, actor auth.Subject, in CreateInput) (*Identity, error) {
	if !auth.Allow(actor, auth.ActionCreateUser, auth.Resource{}) {
		return nil, fmt.Errorf("%w: only admins create identities", auth.ErrForbidden)
	}
	if in.Role == 0 {
		in.Role = auth.RoleOperator
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: invalid role", auth.ErrValidation)
	}
	return d.provision(ctx, in)
}

func (d *Directory) provision(ctx context.Context, in CreateInput) (*Identity, error) {
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
	hash, err := d.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	i := &Identity{
		Email:        email,
		Name:         name,
		Surname:      surname,
		PasswordHash: hash,
		Role:         in.Role,
		IsVerified:   true,
		IsActive:     true,
		CreatedAt:    d.now().UTC(),
	}
	if err := d.repo.Create(ctx, i); err != nil {
		return nil, err
	}
	d.logger.Info("identity provisioned", "identity_id", i.ID, "role", i.Role.String())
	return i, nil
}

// UpdateInput carries optional changes. Nil fields are left alone.
type UpdateInput struct {
	Email    *string
	Name     *string
	Surname  *string
	Role     *auth.Role
	IsActive *bool
}

// Update applies in to identity id. Each kind of change is authorised
// separately: profile fields, role and the active flag.
func (d *Directory) Update(ctx context.Context, actor auth.Subject, id string, in UpdateInput) (*Identity, error) {
	target, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := auth.Resource{OwnerID: target.ID, OwnerRole: target.Role}

	if in.Email != nil || in.Name != nil || in.Surname != nil {
		if !auth.Allow(actor, auth.ActionUpdateProfile, res) {
			return nil, fmt.Errorf("%w: cannot update identity %s", auth.ErrForbidden, id)
		}
	}
	if in.Role != nil && *in.Role != target.Role {
		res.RequestedRole = *in.Role
		if !in.Role.Valid() {
			return nil, fmt.Errorf("%w: invalid role", auth.ErrValidation)
		}
		if !auth.Allow(actor, auth.ActionChangeRole, res) {
			return nil, fmt.Errorf("%w: cannot change role of identity %s", auth.ErrForbidden, id)
		}
	}
	if in.IsActive != nil && *in.IsActive != target.IsActive {
		if !auth.Allow(actor, auth.ActionSetActive, res) {
			return nil, fmt.Errorf("%w: cannot change active state of identity %s", auth.ErrForbidden, id)
		}
	}

	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		target.Email = email
	}
	if in.Name != nil || in.Surname != nil {
		name, surname := target.Name, target.Surname
		if in.Name != nil {
			name = *in.Name
		}
		if in.Surname != nil {
			surname = *in.Surname
		}
		if target.Name, target.Surname, err = validateNames(name, surname); err != nil {
			return nil, err
		}
	}
	if in.Role != nil {
		target.Role = *in.Role
	}
	if in.IsActive != nil {
		target.IsActive = *in.IsActive
	}

	if err := d.repo.Update(ctx, target); err != nil {
		return nil, err
	}
	d.logger.Info("identity updated", "identity_id", target.ID, "actor_id", actor.ID)
	return target, nil
}

// Deactivate soft-deletes identity id. A deactivated identity can never
// authenticate again.
func (d *Directory) Deactivate(ctx context.Context, actor auth.Subject, id string) (*Identity, error) {
	inactive := false
	return d.Update(ctx, actor, id, UpdateInput{IsActive: &inactive})
}

// SeedAdminInput comes from the admin config section.
type SeedAdminInput struct {
	Email    string
	Password string
	Name     string
	Surname  string
}

// SeedAdmin provisions the first admin when no active admin exists. It
// reports whether an identity was created.
func (d *Directory) SeedAdmin(ctx context.Context, in SeedAdminInput) (bool, error) {
	n, err := d.repo.CountByRole(ctx, auth.RoleAdmin)
	if err != nil {
		return false, err
	}
	if n > 0 {
		d.logger.Debug("admin exists, skipping seed")
		return false, nil
	}
	if in.Email == "" || in.Password == "" {
		d.logger.Warn("no active admin and no admin credentials configured")
		return false, nil
	}

	_, err = d.provision(ctx, CreateInput{
		Email:    in.Email,
		Name:     in.Name,
		Surname:  in.Surname,
		Password: in.Password,
		Role:     auth.RoleAdmin,
	})
	if errors.Is(err, ErrDuplicateIdentity) {
		return false, fmt.Errorf("seeding admin: %s is already registered with another role: %w", in.Email, err)
	}
	if err != nil {
		return false, fmt.Errorf("seeding admin: %w", err)
	}
	d.logger.Warn("seed admin created", "email", in.Email, "action_required", "change this password after first login")
	return true, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
