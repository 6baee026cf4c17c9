package audit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort defines persistence operations for the audit module.
type RepositoryPort interface {
	Insert(ctx context.Context, rec Record) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]Record, int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repository implements RepositoryPort using PostgreSQL.
//
//	CREATE TABLE audit_log (
//	    id        BIGSERIAL PRIMARY KEY,
//	    actor_id  BIGINT NOT NULL,
//	    action    TEXT NOT NULL,
//	    entity    TEXT NOT NULL,
//	    entity_id BIGINT NOT NULL,
//	    detail    TEXT NOT NULL DEFAULT '',
//	    at        TIMESTAMPTZ NOT NULL DEFAULT now()
//	)
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one audit row.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor_id, action, entity, entity_id, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ActorID, rec.Action, rec.Entity, rec.EntityID, rec.Detail, at)
	return err
}

// List returns a page of audit rows, newest first, plus the total row
// count for the filter.
func (r *Repository) List(ctx context.Context, filter Filter, limit, offset int) ([]Record, int, error) {
	where, args := buildFilter(filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	n := len(args)
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, action, entity, entity_id, detail, at
		FROM audit_log`+where+`
		ORDER BY at DESC, id DESC
		LIMIT $`+strconv.Itoa(n-1)+` OFFSET $`+strconv.Itoa(n), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.Entity, &rec.EntityID, &rec.Detail, &rec.At); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// DeleteBefore trims rows older than the cutoff and reports how many
// were removed.
func (r *Repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_log WHERE at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func buildFilter(filter Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, column+" = $"+strconv.Itoa(len(args)))
	}
	if filter.Entity != "" {
		add("entity", filter.Entity)
	}
	if filter.EntityID > 0 {
		add("entity_id", filter.EntityID)
	}
	if filter.ActorID > 0 {
		add("actor_id", filter.ActorID)
	}
	if filter.Action != "" {
		add("action", filter.Action)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var _ RepositoryPort = (*Repository)(nil)
