package authz_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-saas/lattice/internal/authz"
	"github.com/lattice-saas/lattice/internal/shared"
	_ "github.com/lattice-saas/lattice/testing"
)

type stubResolver struct {
	identities map[int64]authz.Identity
}

func (s stubResolver) Resolve(_ context.Context, userID int64) (authz.Identity, error) {
	id, ok := s.identities[userID]
	if !ok {
		return authz.Identity{}, errors.New("resolver: unknown user")
	}
	return id, nil
}

func newSessionRequest(t *testing.T, sm *shared.SessionManager, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	if userID != "" {
		sess.SetUser(userID)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func newTestGateway(t *testing.T, resolver authz.IdentityResolver) (authz.Gateway, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sm := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	return authz.Gateway{Resolver: resolver}, sm
}

func identityEcho(captured *authz.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = authz.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestWithIdentityResolvesSessionUser(t *testing.T) {
	gateway, sm := newTestGateway(t, stubResolver{identities: map[int64]authz.Identity{
		7: {UserID: 7, Role: authz.RoleAdmin},
	}})

	var got authz.Identity
	handler := gateway.WithIdentity(identityEcho(&got))

	req := newSessionRequest(t, sm, "7")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, authz.Identity{UserID: 7, Role: authz.RoleAdmin}, got)
}

func TestWithIdentityAnonymousPassesThrough(t *testing.T) {
	gateway, sm := newTestGateway(t, stubResolver{})

	var got authz.Identity
	handler := gateway.WithIdentity(identityEcho(&got))

	req := newSessionRequest(t, sm, "")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	assert.Equal(t, http.StatusOK, res.Code)
	assert.True(t, got.IsZero())
}

func TestWithIdentityUnresolvableUserStaysAnonymous(t *testing.T) {
	gateway, sm := newTestGateway(t, stubResolver{})

	var got authz.Identity
	handler := gateway.WithIdentity(identityEcho(&got))

	req := newSessionRequest(t, sm, "999")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	assert.Equal(t, http.StatusOK, res.Code)
	assert.True(t, got.IsZero())
}

func TestRequireDeniesWithoutIdentity(t *testing.T) {
	gateway, sm := newTestGateway(t, stubResolver{})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := gateway.WithIdentity(gateway.Require(authz.Authenticated())(next))

	req := newSessionRequest(t, sm, "")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestRequireEnforcesRolePolicy(t *testing.T) {
	gateway, sm := newTestGateway(t, stubResolver{identities: map[int64]authz.Identity{
		1: {UserID: 1, Role: authz.RoleUser},
		2: {UserID: 2, Role: authz.RoleAdmin},
	}})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := gateway.WithIdentity(gateway.Require(authz.AnyRole(authz.RoleOwner, authz.RoleAdmin))(next))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, newSessionRequest(t, sm, "1"))
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, newSessionRequest(t, sm, "2"))
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestAuthorizeOutsideMiddleware(t *testing.T) {
	gateway, _ := newTestGateway(t, stubResolver{})

	ctx := authz.ContextWithIdentity(context.Background(), authz.Identity{UserID: 3, Role: authz.RoleUser})
	assert.True(t, gateway.Authorize(ctx, authz.OwnsResource(3)))
	assert.False(t, gateway.Authorize(ctx, authz.OwnsResource(4)))
	assert.False(t, gateway.Authorize(ctx, nil))
}
