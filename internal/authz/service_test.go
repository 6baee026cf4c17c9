package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/lattice-saas/lattice/testing"
)

type entryKey struct {
	groupID    int64
	level      Level
	module     string
	identifier string
	action     Action
}

type memoryRepo struct {
	groups      map[int64]Group
	nextGroupID int64
	entries     map[entryKey]Entry
	nextEntryID int64
	memberships map[[2]int64]Membership
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		groups:      make(map[int64]Group),
		nextGroupID: 1,
		entries:     make(map[entryKey]Entry),
		nextEntryID: 1,
		memberships: make(map[[2]int64]Membership),
	}
}

func (m *memoryRepo) CreateGroup(_ context.Context, name, description string, createdBy int64) (Group, error) {
	for _, g := range m.groups {
		if g.Name == name {
			return Group{}, ErrDuplicateName
		}
	}
	g := Group{
		ID:          m.nextGroupID,
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		Active:      true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.nextGroupID++
	m.groups[g.ID] = g
	return g, nil
}

func (m *memoryRepo) GetGroup(_ context.Context, id int64) (Group, error) {
	g, ok := m.groups[id]
	if !ok {
		return Group{}, ErrNotFound
	}
	return g, nil
}

func (m *memoryRepo) ListGroups(context.Context) ([]Group, error) {
	var out []Group
	for _, g := range m.groups {
		out = append(out, g)
	}
	return out, nil
}

func (m *memoryRepo) UpdateGroup(_ context.Context, id int64, name, description string) (Group, error) {
	g, ok := m.groups[id]
	if !ok {
		return Group{}, ErrNotFound
	}
	g.Name = name
	g.Description = description
	g.UpdatedAt = time.Now()
	m.groups[id] = g
	return g, nil
}

func (m *memoryRepo) SetGroupActive(_ context.Context, id int64, active bool) error {
	g, ok := m.groups[id]
	if !ok {
		return ErrNotFound
	}
	g.Active = active
	m.groups[id] = g
	return nil
}

func (m *memoryRepo) DeleteGroup(_ context.Context, id int64) error {
	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	for k := range m.entries {
		if k.groupID == id {
			delete(m.entries, k)
		}
	}
	for k := range m.memberships {
		if k[1] == id {
			delete(m.memberships, k)
		}
	}
	return nil
}

func (m *memoryRepo) key(groupID int64, scope Scope, action Action) entryKey {
	return entryKey{groupID: groupID, level: scope.Level(), module: scope.Module(), identifier: scope.Identifier(), action: action}
}

func (m *memoryRepo) UpsertEntry(_ context.Context, groupID int64, scope Scope, action Action, granted bool) (Entry, error) {
	if _, ok := m.groups[groupID]; !ok {
		return Entry{}, ErrNotFound
	}
	k := m.key(groupID, scope, action)
	e, ok := m.entries[k]
	if !ok {
		e = Entry{ID: m.nextEntryID, GroupID: groupID, Scope: scope, Action: action, CreatedAt: time.Now()}
		m.nextEntryID++
	}
	e.Granted = granted
	m.entries[k] = e
	return e, nil
}

func (m *memoryRepo) DeleteEntry(_ context.Context, groupID int64, scope Scope, action Action) error {
	k := m.key(groupID, scope, action)
	if _, ok := m.entries[k]; !ok {
		return ErrNotFound
	}
	delete(m.entries, k)
	return nil
}

func (m *memoryRepo) ListGroupEntries(_ context.Context, groupID int64) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryRepo) ActiveEntriesForUser(_ context.Context, userID int64, moduleKey string, action Action) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		g, ok := m.groups[e.GroupID]
		if !ok || !g.Active {
			continue
		}
		if _, member := m.memberships[[2]int64{userID, e.GroupID}]; !member {
			continue
		}
		if e.Scope.Module() == moduleKey && e.Action == action {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryRepo) AssignMembership(_ context.Context, userID, groupID, assignedBy int64) (Membership, error) {
	if _, ok := m.groups[groupID]; !ok {
		return Membership{}, ErrNotFound
	}
	ms := Membership{UserID: userID, GroupID: groupID, AssignedBy: assignedBy, AssignedAt: time.Now()}
	m.memberships[[2]int64{userID, groupID}] = ms
	return ms, nil
}

func (m *memoryRepo) RemoveMembership(_ context.Context, userID, groupID int64) error {
	k := [2]int64{userID, groupID}
	if _, ok := m.memberships[k]; !ok {
		return ErrNotFound
	}
	delete(m.memberships, k)
	return nil
}

func (m *memoryRepo) ListUserGroups(_ context.Context, userID int64) ([]Group, error) {
	var out []Group
	for k := range m.memberships {
		if k[0] == userID {
			out = append(out, m.groups[k[1]])
		}
	}
	return out, nil
}

func (m *memoryRepo) ListGroupMembers(_ context.Context, groupID int64) ([]Membership, error) {
	var out []Membership
	for _, ms := range m.memberships {
		if ms.GroupID == groupID {
			out = append(out, ms)
		}
	}
	return out, nil
}

var _ RepositoryPort = (*memoryRepo)(nil)
var _ EntryStore = (*memoryRepo)(nil)

type memoryCatalog struct {
	modules    map[string]CatalogModule
	pages      map[string]CatalogPage
	components map[string]CatalogComponent
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		modules:    make(map[string]CatalogModule),
		pages:      make(map[string]CatalogPage),
		components: make(map[string]CatalogComponent),
	}
}

func (m *memoryCatalog) UpsertModule(_ context.Context, module CatalogModule) (CatalogModule, error) {
	m.modules[module.Key] = module
	return module, nil
}

func (m *memoryCatalog) UpsertPage(_ context.Context, page CatalogPage) (CatalogPage, error) {
	m.pages[page.Key] = page
	return page, nil
}

func (m *memoryCatalog) UpsertComponent(_ context.Context, component CatalogComponent) (CatalogComponent, error) {
	m.components[component.PageKey+"."+component.Key] = component
	return component, nil
}

func (m *memoryCatalog) ListModules(context.Context) ([]CatalogModule, error) {
	var out []CatalogModule
	for _, mod := range m.modules {
		out = append(out, mod)
	}
	return out, nil
}

func (m *memoryCatalog) ListPages(_ context.Context, moduleKey string) ([]CatalogPage, error) {
	var out []CatalogPage
	for _, p := range m.pages {
		if p.ModuleKey == moduleKey {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryCatalog) ListComponents(_ context.Context, pageKey string) ([]CatalogComponent, error) {
	var out []CatalogComponent
	for _, c := range m.components {
		if c.PageKey == pageKey {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryCatalog) ScopeExists(_ context.Context, scope Scope) (bool, error) {
	switch s := scope.(type) {
	case ModuleScope:
		_, ok := m.modules[s.ModuleKey]
		return ok, nil
	case PageScope:
		_, ok := m.pages[s.PageKey]
		return ok, nil
	case ComponentScope:
		_, ok := m.components[s.Identifier()]
		return ok, nil
	}
	return false, nil
}

type recordingAuditor struct {
	actions []string
}

func (a *recordingAuditor) Record(_ context.Context, _ int64, action, _ string, _ int64, _ string) error {
	a.actions = append(a.actions, action)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *Catalog, *recordingAuditor) {
	t.Helper()
	repo := newMemoryRepo()
	store := newMemoryCatalog()
	catalog := NewCatalog(store)
	ctx := context.Background()

	_, err := catalog.RegisterModule(ctx, "billing", "Billing")
	require.NoError(t, err)
	_, err = catalog.RegisterPage(ctx, "billing.invoices", "")
	require.NoError(t, err)
	_, err = catalog.RegisterComponent(ctx, "billing.invoices", "export-button", "button")
	require.NoError(t, err)

	auditor := &recordingAuditor{}
	return NewService(repo, catalog, auditor, nil), repo, catalog, auditor
}

func TestCreateGroupRequiresName(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.CreateGroup(context.Background(), "   ", "", 1)
	assert.Error(t, err)
}

func TestCreateGroupDuplicateName(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateGroup(ctx, "support-staff", "", 1)
	require.NoError(t, err)
	_, err = svc.CreateGroup(ctx, "support-staff", "", 1)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestSetPermissionValidatesCatalog(t *testing.T) {
	svc, _, _, auditor := newTestService(t)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, "billing-readers", "", 1)
	require.NoError(t, err)

	scope, err := NewPageScope("billing.invoices")
	require.NoError(t, err)
	entry, err := svc.SetPermission(ctx, 1, group.ID, scope, ActionRead, true)
	require.NoError(t, err)
	assert.True(t, entry.Granted)
	assert.Contains(t, auditor.actions, "permission.grant")

	unknown, err := NewPageScope("billing.refunds")
	require.NoError(t, err)
	_, err = svc.SetPermission(ctx, 1, group.ID, unknown, ActionRead, true)
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestSetPermissionLastWriteWins(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, "billing-readers", "", 1)
	require.NoError(t, err)
	scope, err := NewPageScope("billing.invoices")
	require.NoError(t, err)

	_, err = svc.SetPermission(ctx, 1, group.ID, scope, ActionRead, true)
	require.NoError(t, err)
	entry, err := svc.SetPermission(ctx, 1, group.ID, scope, ActionRead, false)
	require.NoError(t, err)
	assert.False(t, entry.Granted)

	entries, err := repo.ListGroupEntries(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Granted)
}

func TestMembershipAssignIsIdempotent(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, "billing-readers", "", 1)
	require.NoError(t, err)

	_, err = svc.AssignUserToGroup(ctx, group.ID, 42, 1)
	require.NoError(t, err)
	_, err = svc.AssignUserToGroup(ctx, group.ID, 42, 1)
	require.NoError(t, err)

	members, err := svc.ListGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestDeactivatedGroupStopsGranting(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	eval := NewEvaluator(repo, nil, nil)
	ctx := context.Background()
	user := Identity{UserID: 42, Role: RoleUser}

	group, err := svc.CreateGroup(ctx, "billing-readers", "", 1)
	require.NoError(t, err)
	scope, err := NewModuleScope("billing")
	require.NoError(t, err)
	_, err = svc.SetPermission(ctx, 1, group.ID, scope, ActionRead, true)
	require.NoError(t, err)
	_, err = svc.AssignUserToGroup(ctx, group.ID, user.UserID, 1)
	require.NoError(t, err)

	assert.True(t, eval.HasPermission(ctx, user, scope, ActionRead))

	require.NoError(t, svc.SetGroupActive(ctx, 1, group.ID, false))
	assert.False(t, eval.HasPermission(ctx, user, scope, ActionRead))

	require.NoError(t, svc.SetGroupActive(ctx, 1, group.ID, true))
	assert.True(t, eval.HasPermission(ctx, user, scope, ActionRead))
}

func TestDeleteGroupRevokesAccess(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	eval := NewEvaluator(repo, nil, nil)
	ctx := context.Background()
	user := Identity{UserID: 42, Role: RoleUser}

	group, err := svc.CreateGroup(ctx, "billing-readers", "", 1)
	require.NoError(t, err)
	scope, err := NewModuleScope("billing")
	require.NoError(t, err)
	_, err = svc.SetPermission(ctx, 1, group.ID, scope, ActionRead, true)
	require.NoError(t, err)
	_, err = svc.AssignUserToGroup(ctx, group.ID, user.UserID, 1)
	require.NoError(t, err)
	require.True(t, eval.HasPermission(ctx, user, scope, ActionRead))

	require.NoError(t, svc.DeleteGroup(ctx, 1, group.ID))
	assert.False(t, eval.HasPermission(ctx, user, scope, ActionRead))

	_, err = svc.GetGroup(ctx, group.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveMembershipRevokesAccess(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	eval := NewEvaluator(repo, nil, nil)
	ctx := context.Background()
	user := Identity{UserID: 42, Role: RoleUser}

	group, err := svc.CreateGroup(ctx, "billing-readers", "", 1)
	require.NoError(t, err)
	scope, err := NewModuleScope("billing")
	require.NoError(t, err)
	_, err = svc.SetPermission(ctx, 1, group.ID, scope, ActionRead, true)
	require.NoError(t, err)
	_, err = svc.AssignUserToGroup(ctx, group.ID, user.UserID, 1)
	require.NoError(t, err)
	require.True(t, eval.HasPermission(ctx, user, scope, ActionRead))

	require.NoError(t, svc.RemoveUserFromGroup(ctx, 1, group.ID, user.UserID))
	assert.False(t, eval.HasPermission(ctx, user, scope, ActionRead))
}

func TestUnionAcrossGroupsWithDenyOverride(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	eval := NewEvaluator(repo, nil, nil)
	ctx := context.Background()
	user := Identity{UserID: 42, Role: RoleUser}

	readers, err := svc.CreateGroup(ctx, "billing-readers", "", 1)
	require.NoError(t, err)
	restricted, err := svc.CreateGroup(ctx, "billing-restricted", "", 1)
	require.NoError(t, err)

	moduleScope, err := NewModuleScope("billing")
	require.NoError(t, err)
	pageScope, err := NewPageScope("billing.invoices")
	require.NoError(t, err)

	_, err = svc.SetPermission(ctx, 1, readers.ID, moduleScope, ActionRead, true)
	require.NoError(t, err)
	_, err = svc.SetPermission(ctx, 1, restricted.ID, pageScope, ActionRead, false)
	require.NoError(t, err)

	_, err = svc.AssignUserToGroup(ctx, readers.ID, user.UserID, 1)
	require.NoError(t, err)
	_, err = svc.AssignUserToGroup(ctx, restricted.ID, user.UserID, 1)
	require.NoError(t, err)

	// The module grant from one group still covers the module, but the
	// other group's page denial wins on that page.
	assert.True(t, eval.HasPermission(ctx, user, moduleScope, ActionRead))
	assert.False(t, eval.HasPermission(ctx, user, pageScope, ActionRead))
}

func TestCatalogRegisterPageRequiresModule(t *testing.T) {
	_, _, catalog, _ := newTestService(t)
	ctx := context.Background()

	_, err := catalog.RegisterPage(ctx, "reports.dashboard", "")
	assert.ErrorIs(t, err, ErrUnknownResource)

	_, err = catalog.RegisterComponent(ctx, "billing.settings", "save-button", "button")
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestCatalogDerivesDisplayNames(t *testing.T) {
	store := newMemoryCatalog()
	catalog := NewCatalog(store)
	ctx := context.Background()

	module, err := catalog.RegisterModule(ctx, "customer_support", "")
	require.NoError(t, err)
	assert.Equal(t, "Customer Support", module.Name)

	page, err := catalog.RegisterPage(ctx, "customer_support.live_chat", "")
	require.NoError(t, err)
	assert.Equal(t, "Live Chat", page.Name)
}
