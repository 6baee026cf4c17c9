package authz

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrDuplicateName indicates a group name collision.
	ErrDuplicateName = errors.New("authz: group name already exists")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository provides PostgreSQL backed persistence for groups,
// permission entries and memberships.
//
// Tables:
//
//	permission_groups(id, name UNIQUE, description, created_by, active, created_at, updated_at)
//	group_permissions(id, group_id, permission_type, resource_type, resource_identifier, action, granted, created_at)
//	  UNIQUE (group_id, permission_type, resource_type, resource_identifier, action)
//	user_groups(id, user_id, group_id, assigned_by, assigned_at)
//	  UNIQUE (user_id, group_id)
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const groupColumns = `id, name, description, created_by, active, created_at, updated_at`

// CreateGroup inserts a new permission group.
func (r *Repository) CreateGroup(ctx context.Context, name, description string, createdBy int64) (Group, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permission_groups (name, description, created_by, active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, now(), now())
		RETURNING `+groupColumns,
		name, description, createdBy)
	group, err := scanGroup(row)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return Group{}, ErrDuplicateName
		}
		return Group{}, err
	}
	return group, nil
}

// GetGroup fetches a group by ID.
func (r *Repository) GetGroup(ctx context.Context, id int64) (Group, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM permission_groups WHERE id = $1`, id)
	group, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrNotFound
		}
		return Group{}, err
	}
	return group, nil
}

// ListGroups returns all groups ordered by name.
func (r *Repository) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+groupColumns+` FROM permission_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// UpdateGroup renames or redescribes a group.
func (r *Repository) UpdateGroup(ctx context.Context, id int64, name, description string) (Group, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE permission_groups SET name = $2, description = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+groupColumns,
		id, name, description)
	group, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrNotFound
		}
		if isPgError(err, pgUniqueViolation) {
			return Group{}, ErrDuplicateName
		}
		return Group{}, err
	}
	return group, nil
}

// SetGroupActive toggles a group's active flag.
func (r *Repository) SetGroupActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE permission_groups SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGroup removes a group with its entries and memberships.
func (r *Repository) DeleteGroup(ctx context.Context, id int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `DELETE FROM group_permissions WHERE group_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_groups WHERE group_id = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM permission_groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

const entryColumns = `id, group_id, permission_type, resource_type, resource_identifier, action, granted, created_at`

// UpsertEntry inserts a grant or denial, replacing a previous entry
// for the same (group, scope, action) tuple. Last write wins.
func (r *Repository) UpsertEntry(ctx context.Context, groupID int64, scope Scope, action Action, granted bool) (Entry, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO group_permissions (group_id, permission_type, resource_type, resource_identifier, action, granted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (group_id, permission_type, resource_type, resource_identifier, action)
		DO UPDATE SET granted = EXCLUDED.granted
		RETURNING `+entryColumns,
		groupID, string(scope.Level()), scope.Module(), scope.Identifier(), string(action), granted)
	entry, err := scanEntry(row)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return entry, nil
}

// DeleteEntry removes one grant or denial.
func (r *Repository) DeleteEntry(ctx context.Context, groupID int64, scope Scope, action Action) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM group_permissions
		WHERE group_id = $1 AND permission_type = $2 AND resource_type = $3 AND resource_identifier = $4 AND action = $5`,
		groupID, string(scope.Level()), scope.Module(), scope.Identifier(), string(action))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGroupEntries returns all entries owned by a group.
func (r *Repository) ListGroupEntries(ctx context.Context, groupID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM group_permissions
		WHERE group_id = $1
		ORDER BY resource_type, resource_identifier, action`,
		groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ActiveEntriesForUser returns entries reachable through the user's
// memberships in active groups, filtered to one module and action.
// Inactive groups contribute nothing.
func (r *Repository) ActiveEntriesForUser(ctx context.Context, userID int64, moduleKey string, action Action) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT gp.id, gp.group_id, gp.permission_type, gp.resource_type, gp.resource_identifier, gp.action, gp.granted, gp.created_at
		FROM group_permissions gp
		JOIN permission_groups g ON g.id = gp.group_id AND g.active
		JOIN user_groups ug ON ug.group_id = g.id
		WHERE ug.user_id = $1 AND gp.resource_type = $2 AND gp.action = $3`,
		userID, moduleKey, string(action))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// AssignMembership adds a user to a group. Re-assignment refreshes the
// assignment metadata instead of inserting a duplicate row.
func (r *Repository) AssignMembership(ctx context.Context, userID, groupID, assignedBy int64) (Membership, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO user_groups (user_id, group_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, group_id)
		DO UPDATE SET assigned_by = EXCLUDED.assigned_by, assigned_at = EXCLUDED.assigned_at
		RETURNING user_id, group_id, assigned_by, assigned_at`,
		userID, groupID, assignedBy)
	var m Membership
	var assignedAt time.Time
	if err := row.Scan(&m.UserID, &m.GroupID, &m.AssignedBy, &assignedAt); err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return Membership{}, ErrNotFound
		}
		return Membership{}, err
	}
	m.AssignedAt = assignedAt
	return m, nil
}

// RemoveMembership deletes a membership row.
func (r *Repository) RemoveMembership(ctx context.Context, userID, groupID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_groups WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserGroups returns the groups a user belongs to.
func (r *Repository) ListUserGroups(ctx context.Context, userID int64) ([]Group, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.name, g.description, g.created_by, g.active, g.created_at, g.updated_at
		FROM permission_groups g
		JOIN user_groups ug ON ug.group_id = g.id
		WHERE ug.user_id = $1
		ORDER BY g.name`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// ListGroupMembers returns the memberships of a group.
func (r *Repository) ListGroupMembers(ctx context.Context, groupID int64) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, group_id, assigned_by, assigned_at
		FROM user_groups WHERE group_id = $1 ORDER BY assigned_at`,
		groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.UserID, &m.GroupID, &m.AssignedBy, &m.AssignedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (Group, error) {
	var g Group
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.Active, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return Group{}, err
	}
	return g, nil
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e          Entry
		rawLevel   string
		module     string
		identifier string
		rawAction  string
	)
	if err := row.Scan(&e.ID, &e.GroupID, &rawLevel, &module, &identifier, &rawAction, &e.Granted, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	level, err := ParseLevel(rawLevel)
	if err != nil {
		return Entry{}, err
	}
	scope, err := ParseScope(level, module, identifier)
	if err != nil {
		return Entry{}, err
	}
	action, err := ParseAction(rawAction)
	if err != nil {
		return Entry{}, err
	}
	e.Scope = scope
	e.Action = action
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
