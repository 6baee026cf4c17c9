package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lattice-saas/lattice/internal/authz"
	"github.com/lattice-saas/lattice/internal/shared"
	_ "github.com/lattice-saas/lattice/testing"
)

type memoryRepo struct {
	users    map[int64]*User
	byEmail  map[string]int64
	nextID   int64
	sessions map[string]time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:    make(map[int64]*User),
		byEmail:  make(map[string]int64),
		nextID:   1,
		sessions: make(map[string]time.Time),
	}
}

func (m *memoryRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	id, ok := m.byEmail[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	u := *m.users[id]
	return &u, nil
}

func (m *memoryRepo) FindByID(_ context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (m *memoryRepo) List(_ context.Context, limit, offset int) ([]User, int, error) {
	var out []User
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, len(m.users), nil
}

func (m *memoryRepo) Create(_ context.Context, user User) (*User, error) {
	if _, dup := m.byEmail[user.Email]; dup {
		return nil, ErrDuplicateEmail
	}
	if user.Role == authz.RoleOwner {
		for _, u := range m.users {
			if u.Role == authz.RoleOwner {
				return nil, ErrOwnerExists
			}
		}
	}
	user.ID = m.nextID
	m.nextID++
	user.Active = true
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = &user
	m.byEmail[user.Email] = user.ID
	out := user
	return &out, nil
}

func (m *memoryRepo) UpdateProfile(_ context.Context, id int64, name string) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	u.Name = name
	u.UpdatedAt = time.Now()
	out := *u
	return &out, nil
}

func (m *memoryRepo) UpdateRole(_ context.Context, id int64, role authz.StaticRole) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	if role == authz.RoleOwner {
		for otherID, other := range m.users {
			if otherID != id && other.Role == authz.RoleOwner {
				return nil, ErrOwnerExists
			}
		}
	}
	u.Role = role
	u.UpdatedAt = time.Now()
	out := *u
	return &out, nil
}

func (m *memoryRepo) SetActive(_ context.Context, id int64, active bool) error {
	u, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Active = active
	return nil
}

func (m *memoryRepo) CreateSession(_ context.Context, id string, _ int64, expiresAt time.Time, _, _ string) error {
	m.sessions[id] = expiresAt
	return nil
}

func (m *memoryRepo) DeleteSession(_ context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

func (m *memoryRepo) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for id, exp := range m.sessions {
		if exp.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

var _ Repository = (*memoryRepo)(nil)

func seedUser(t *testing.T, repo *memoryRepo, email, password string, role authz.StaticRole, active bool) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := repo.Create(context.Background(), User{
		Email:        email,
		Name:         "Test User",
		PasswordHash: string(hash),
		Role:         role,
	})
	require.NoError(t, err)
	if !active {
		require.NoError(t, repo.SetActive(context.Background(), user.ID, false))
		user.Active = false
	}
	return user
}

func TestAuthenticate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	seedUser(t, repo, "user@lattice.local", "correct-password", authz.RoleUser, true)

	user, err := svc.Authenticate(context.Background(), "user@lattice.local", "correct-password")
	require.NoError(t, err)
	assert.Equal(t, "user@lattice.local", user.Email)

	_, err = svc.Authenticate(context.Background(), "user@lattice.local", "wrong-password")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "missing@lattice.local", "correct-password")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateInactiveUser(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	seedUser(t, repo, "gone@lattice.local", "correct-password", authz.RoleUser, false)

	_, err := svc.Authenticate(context.Background(), "gone@lattice.local", "correct-password")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestResolve(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	active := seedUser(t, repo, "admin@lattice.local", "correct-password", authz.RoleAdmin, true)
	inactive := seedUser(t, repo, "gone@lattice.local", "correct-password", authz.RoleUser, false)

	id, err := svc.Resolve(context.Background(), active.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.Identity{UserID: active.ID, Role: authz.RoleAdmin}, id)

	_, err = svc.Resolve(context.Background(), inactive.ID)
	assert.Error(t, err)

	_, err = svc.Resolve(context.Background(), 999)
	assert.Error(t, err)
}

func TestCreateUser(t *testing.T) {
	repo := newMemoryRepo()
	auditor := &recordingAuditor{}
	svc := NewService(repo, auditor, nil)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, 1, "  New@Lattice.Local ", "New User", "long-enough", authz.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "new@lattice.local", user.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("long-enough")))
	assert.Contains(t, auditor.actions, "user.create")

	_, err = svc.CreateUser(ctx, 1, "new@lattice.local", "Dup", "long-enough", authz.RoleUser)
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	_, err = svc.CreateUser(ctx, 1, "short@lattice.local", "Short", "2short", authz.RoleUser)
	assert.Error(t, err)

	_, err = svc.CreateUser(ctx, 1, "  ", "Blank", "long-enough", authz.RoleUser)
	assert.Error(t, err)
}

func TestSingleOwner(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, 1, "owner@lattice.local", "Owner", "long-enough", authz.RoleOwner)
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, 1, "second@lattice.local", "Second", "long-enough", authz.RoleOwner)
	assert.ErrorIs(t, err, ErrOwnerExists)

	user, err := svc.CreateUser(ctx, 1, "admin@lattice.local", "Admin", "long-enough", authz.RoleAdmin)
	require.NoError(t, err)
	_, err = svc.ChangeRole(ctx, 1, user.ID, authz.RoleOwner)
	assert.ErrorIs(t, err, ErrOwnerExists)
}

func TestChangeRoleAudited(t *testing.T) {
	repo := newMemoryRepo()
	auditor := &recordingAuditor{}
	svc := NewService(repo, auditor, nil)
	ctx := context.Background()
	user := seedUser(t, repo, "user@lattice.local", "correct-password", authz.RoleUser, true)

	updated, err := svc.ChangeRole(ctx, 1, user.ID, authz.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, updated.Role)
	assert.Contains(t, auditor.actions, "user.role")
}

func TestSetActiveAudited(t *testing.T) {
	repo := newMemoryRepo()
	auditor := &recordingAuditor{}
	svc := NewService(repo, auditor, nil)
	ctx := context.Background()
	user := seedUser(t, repo, "user@lattice.local", "correct-password", authz.RoleUser, true)

	require.NoError(t, svc.SetActive(ctx, 1, user.ID, false))
	assert.Contains(t, strings.Join(auditor.actions, ","), "user.deactivate")

	require.NoError(t, svc.SetActive(ctx, 1, user.ID, true))
	assert.Contains(t, strings.Join(auditor.actions, ","), "user.activate")
}

func TestPurgeExpiredSessions(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.RegisterSession(ctx, "old", 1, time.Now().Add(-time.Hour), "", ""))
	require.NoError(t, svc.RegisterSession(ctx, "fresh", 1, time.Now().Add(time.Hour), "", ""))

	removed, err := svc.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Contains(t, repo.sessions, "fresh")
	assert.NotContains(t, repo.sessions, "old")
}

type recordingAuditor struct {
	actions []string
}

func (a *recordingAuditor) Record(_ context.Context, _ int64, action, _ string, _ int64, _ string) error {
	a.actions = append(a.actions, action)
	return nil
}
