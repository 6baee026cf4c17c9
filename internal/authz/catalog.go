package authz

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrUnknownResource indicates a permission entry referencing a
// resource that is not registered in the catalog.
var ErrUnknownResource = errors.New("authz: unknown catalog resource")

// CatalogModule is a registered top-level module, e.g. "support".
type CatalogModule struct {
	Key  string
	Name string
}

// CatalogPage is a registered page, keyed "module.page".
type CatalogPage struct {
	Key       string
	ModuleKey string
	Name      string
}

// CatalogComponent is a registered component on a page.
type CatalogComponent struct {
	Key     string
	PageKey string
	Type    string
}

// CatalogStore persists the permission reference catalog.
type CatalogStore interface {
	UpsertModule(ctx context.Context, module CatalogModule) (CatalogModule, error)
	UpsertPage(ctx context.Context, page CatalogPage) (CatalogPage, error)
	UpsertComponent(ctx context.Context, component CatalogComponent) (CatalogComponent, error)
	ListModules(ctx context.Context) ([]CatalogModule, error)
	ListPages(ctx context.Context, moduleKey string) ([]CatalogPage, error)
	ListComponents(ctx context.Context, pageKey string) ([]CatalogComponent, error)
	ScopeExists(ctx context.Context, scope Scope) (bool, error)
}

var titleCaser = cases.Title(language.English)

// Catalog validates that permission entries refer to registered
// resources. It carries no authorization logic of its own.
type Catalog struct {
	store CatalogStore
}

// NewCatalog constructs a Catalog.
func NewCatalog(store CatalogStore) *Catalog {
	return &Catalog{store: store}
}

// RegisterModule registers a module key. A missing display name is
// derived from the key.
func (c *Catalog) RegisterModule(ctx context.Context, key, name string) (CatalogModule, error) {
	module, err := NewModuleScope(key)
	if err != nil {
		return CatalogModule{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = titleCaser.String(strings.ReplaceAll(module.ModuleKey, "_", " "))
	}
	return c.store.UpsertModule(ctx, CatalogModule{Key: module.ModuleKey, Name: name})
}

// RegisterPage registers a "module.page" key under an existing module.
func (c *Catalog) RegisterPage(ctx context.Context, pageKey, name string) (CatalogPage, error) {
	page, err := NewPageScope(pageKey)
	if err != nil {
		return CatalogPage{}, err
	}
	ok, err := c.store.ScopeExists(ctx, ModuleScope{ModuleKey: page.ModuleKey})
	if err != nil {
		return CatalogPage{}, err
	}
	if !ok {
		return CatalogPage{}, ErrUnknownResource
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = titleCaser.String(strings.ReplaceAll(page.PageKey[strings.IndexByte(page.PageKey, '.')+1:], "_", " "))
	}
	return c.store.UpsertPage(ctx, CatalogPage{Key: page.PageKey, ModuleKey: page.ModuleKey, Name: name})
}

// RegisterComponent registers a component under an existing page.
func (c *Catalog) RegisterComponent(ctx context.Context, pageKey, componentKey, componentType string) (CatalogComponent, error) {
	scope, err := NewComponentScope(pageKey, componentKey)
	if err != nil {
		return CatalogComponent{}, err
	}
	ok, err := c.store.ScopeExists(ctx, PageScope{ModuleKey: scope.ModuleKey, PageKey: scope.PageKey})
	if err != nil {
		return CatalogComponent{}, err
	}
	if !ok {
		return CatalogComponent{}, ErrUnknownResource
	}
	return c.store.UpsertComponent(ctx, CatalogComponent{
		Key:     scope.ComponentKey,
		PageKey: scope.PageKey,
		Type:    strings.TrimSpace(componentType),
	})
}

// ListModules returns all registered modules.
func (c *Catalog) ListModules(ctx context.Context) ([]CatalogModule, error) {
	return c.store.ListModules(ctx)
}

// ListPages returns the pages of a module.
func (c *Catalog) ListPages(ctx context.Context, moduleKey string) ([]CatalogPage, error) {
	return c.store.ListPages(ctx, moduleKey)
}

// ListComponents returns the components of a page.
func (c *Catalog) ListComponents(ctx context.Context, pageKey string) ([]CatalogComponent, error) {
	return c.store.ListComponents(ctx, pageKey)
}

// ValidateScope checks that the scope refers to a registered resource.
func (c *Catalog) ValidateScope(ctx context.Context, scope Scope) error {
	ok, err := c.store.ScopeExists(ctx, scope)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownResource
	}
	return nil
}
