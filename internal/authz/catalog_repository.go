package authz

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogRepository implements CatalogStore against PostgreSQL.
//
// Tables:
//
//	permission_modules(key PRIMARY KEY, name)
//	permission_pages(key PRIMARY KEY, module_key REFERENCES permission_modules, name)
//	permission_components(key, page_key REFERENCES permission_pages, component_type, UNIQUE (page_key, key))
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository constructs a CatalogRepository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// UpsertModule registers or renames a module.
func (r *CatalogRepository) UpsertModule(ctx context.Context, module CatalogModule) (CatalogModule, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permission_modules (key, name) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name
		RETURNING key, name`,
		module.Key, module.Name)
	var out CatalogModule
	if err := row.Scan(&out.Key, &out.Name); err != nil {
		return CatalogModule{}, err
	}
	return out, nil
}

// UpsertPage registers or renames a page.
func (r *CatalogRepository) UpsertPage(ctx context.Context, page CatalogPage) (CatalogPage, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permission_pages (key, module_key, name) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name
		RETURNING key, module_key, name`,
		page.Key, page.ModuleKey, page.Name)
	var out CatalogPage
	if err := row.Scan(&out.Key, &out.ModuleKey, &out.Name); err != nil {
		return CatalogPage{}, err
	}
	return out, nil
}

// UpsertComponent registers a component.
func (r *CatalogRepository) UpsertComponent(ctx context.Context, component CatalogComponent) (CatalogComponent, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permission_components (key, page_key, component_type) VALUES ($1, $2, $3)
		ON CONFLICT (page_key, key) DO UPDATE SET component_type = EXCLUDED.component_type
		RETURNING key, page_key, component_type`,
		component.Key, component.PageKey, component.Type)
	var out CatalogComponent
	if err := row.Scan(&out.Key, &out.PageKey, &out.Type); err != nil {
		return CatalogComponent{}, err
	}
	return out, nil
}

// ListModules returns all modules ordered by key.
func (r *CatalogRepository) ListModules(ctx context.Context) ([]CatalogModule, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, name FROM permission_modules ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var modules []CatalogModule
	for rows.Next() {
		var m CatalogModule
		if err := rows.Scan(&m.Key, &m.Name); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// ListPages returns the pages of one module ordered by key.
func (r *CatalogRepository) ListPages(ctx context.Context, moduleKey string) ([]CatalogPage, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, module_key, name FROM permission_pages WHERE module_key = $1 ORDER BY key`, moduleKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pages []CatalogPage
	for rows.Next() {
		var p CatalogPage
		if err := rows.Scan(&p.Key, &p.ModuleKey, &p.Name); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ListComponents returns the components of one page ordered by key.
func (r *CatalogRepository) ListComponents(ctx context.Context, pageKey string) ([]CatalogComponent, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, page_key, component_type FROM permission_components WHERE page_key = $1 ORDER BY key`, pageKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var components []CatalogComponent
	for rows.Next() {
		var c CatalogComponent
		if err := rows.Scan(&c.Key, &c.PageKey, &c.Type); err != nil {
			return nil, err
		}
		components = append(components, c)
	}
	return components, rows.Err()
}

// ScopeExists reports whether a scope names a registered resource.
func (r *CatalogRepository) ScopeExists(ctx context.Context, scope Scope) (bool, error) {
	var (
		query string
		args  []any
	)
	switch s := scope.(type) {
	case ModuleScope:
		query = `SELECT EXISTS (SELECT 1 FROM permission_modules WHERE key = $1)`
		args = []any{s.ModuleKey}
	case PageScope:
		query = `SELECT EXISTS (SELECT 1 FROM permission_pages WHERE key = $1 AND module_key = $2)`
		args = []any{s.PageKey, s.ModuleKey}
	case ComponentScope:
		query = `SELECT EXISTS (SELECT 1 FROM permission_components WHERE key = $1 AND page_key = $2)`
		args = []any{s.ComponentKey, s.PageKey}
	default:
		return false, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
