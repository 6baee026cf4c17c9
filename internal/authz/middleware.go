package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/lattice-saas/lattice/internal/shared"
)

// IdentityResolver looks up the identity behind a session user id.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID int64) (Identity, error)
}

// Gateway guards HTTP routes with policy expressions. It resolves the
// caller's identity from the session, stores it in the request context
// and rejects requests whose policy evaluates false.
type Gateway struct {
	Resolver IdentityResolver
	Checker  *Evaluator
	Logger   *slog.Logger
}

// WithIdentity resolves the session user into an Identity and attaches
// it to the request context. Unresolvable sessions pass through with
// the zero identity; downstream policies fail closed on it.
func (g Gateway) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := g.currentIdentity(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx := ContextWithIdentity(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require rejects the request with 403 unless the policy passes for
// the identity in context.
func (g Gateway) Require(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if policy == nil || !policy(r.Context(), id, g.Checker) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize evaluates a policy outside the middleware chain, for
// handlers that can only build the expression after loading data
// (typically OwnsResource checks).
func (g Gateway) Authorize(ctx context.Context, policy Policy) bool {
	if policy == nil {
		return false
	}
	return policy(ctx, IdentityFromContext(ctx), g.Checker)
}

func (g Gateway) currentIdentity(r *http.Request) (Identity, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return Identity{}, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return Identity{}, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if g.Logger != nil {
			g.Logger.Error("authz parse session user id", slog.String("value", raw))
		}
		return Identity{}, false
	}
	if g.Resolver == nil {
		return Identity{}, false
	}
	id, err := g.Resolver.Resolve(r.Context(), userID)
	if err != nil {
		if g.Logger != nil {
			g.Logger.Warn("authz resolve identity", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return Identity{}, false
	}
	return id, true
}
