package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-saas/lattice/internal/authz"
	"github.com/lattice-saas/lattice/internal/shared"
)

// Repository defines persistence operations for the identity module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	List(ctx context.Context, limit, offset int) ([]User, int, error)
	Create(ctx context.Context, user User) (*User, error)
	UpdateProfile(ctx context.Context, id int64, name string) (*User, error)
	UpdateRole(ctx context.Context, id int64, role authz.StaticRole) (*User, error)
	SetActive(ctx context.Context, id int64, active bool) error

	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
//
// The single-OWNER invariant is enforced by a partial unique index:
//
//	CREATE UNIQUE INDEX users_single_owner ON users ((role)) WHERE role = 'OWNER'
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, name, password_hash, role, is_active, created_at, updated_at`

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// FindByID fetches a user by ID.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// List returns users ordered by email with a total count.
func (r *PGRepository) List(ctx context.Context, limit, offset int) ([]User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY email LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *user)
	}
	return users, total, rows.Err()
}

// Create inserts a new user.
func (r *PGRepository) Create(ctx context.Context, user User) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, now(), now())
		RETURNING `+userColumns,
		user.Email, user.Name, user.PasswordHash, string(user.Role))
	created, err := scanUser(row)
	if err != nil {
		return nil, mapUserWriteError(err)
	}
	return created, nil
}

// UpdateProfile updates mutable profile fields.
func (r *PGRepository) UpdateProfile(ctx context.Context, id int64, name string) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users SET name = $2, updated_at = now() WHERE id = $1
		RETURNING `+userColumns,
		id, name)
	return scanUser(row)
}

// UpdateRole changes a user's static role. Promoting a second OWNER
// fails against the partial unique index.
func (r *PGRepository) UpdateRole(ctx context.Context, id int64, role authz.StaticRole) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE users SET role = $2, updated_at = now() WHERE id = $1
		RETURNING `+userColumns,
		id, string(role))
	user, err := scanUser(row)
	if err != nil {
		return nil, mapUserWriteError(err)
	}
	return user, nil
}

// SetActive toggles the active flag.
func (r *PGRepository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CreateSession persists a new login session in the database for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, created_at, expires_at, ip, ua)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID,
		pgtype.Timestamptz{Time: now, Valid: true},
		pgtype.Timestamptz{Time: expiresAt.UTC(), Valid: true},
		pgtype.Text{String: ip, Valid: ip != ""},
		pgtype.Text{String: ua, Valid: ua != ""})
	return err
}

// DeleteSession removes a session record from the database.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// DeleteExpiredSessions purges session audit rows past their expiry.
func (r *PGRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		user    User
		rawRole string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &rawRole, &user.Active, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	role, err := authz.ParseStaticRole(rawRole)
	if err != nil {
		return nil, err
	}
	user.Role = role
	return &user, nil
}

func mapUserWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "users_single_owner" {
			return ErrOwnerExists
		}
		return ErrDuplicateEmail
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
