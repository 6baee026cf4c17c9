package authz

import "context"

// Checker is the subset of the Evaluator a policy needs.
type Checker interface {
	HasPermission(ctx context.Context, id Identity, scope Scope, action Action) bool
}

// Policy is a boolean guard expression evaluated against the caller's
// identity. Policies compose with AllOf/AnyOf and short-circuit left
// to right.
type Policy func(ctx context.Context, id Identity, c Checker) bool

// AllOf passes when every sub-policy passes. An empty AllOf passes.
func AllOf(policies ...Policy) Policy {
	return func(ctx context.Context, id Identity, c Checker) bool {
		for _, p := range policies {
			if !p(ctx, id, c) {
				return false
			}
		}
		return true
	}
}

// AnyOf passes when at least one sub-policy passes. An empty AnyOf
// denies.
func AnyOf(policies ...Policy) Policy {
	return func(ctx context.Context, id Identity, c Checker) bool {
		for _, p := range policies {
			if p(ctx, id, c) {
				return true
			}
		}
		return false
	}
}

// HasRole passes when the caller holds exactly the given static role.
func HasRole(role StaticRole) Policy {
	return func(ctx context.Context, id Identity, c Checker) bool {
		return !id.IsZero() && id.Role == role
	}
}

// AnyRole passes when the caller holds one of the given static roles.
func AnyRole(roles ...StaticRole) Policy {
	return func(ctx context.Context, id Identity, c Checker) bool {
		if id.IsZero() {
			return false
		}
		for _, role := range roles {
			if id.Role == role {
				return true
			}
		}
		return false
	}
}

// Authenticated passes for any resolved identity.
func Authenticated() Policy {
	return func(ctx context.Context, id Identity, c Checker) bool {
		return !id.IsZero()
	}
}

// OwnsResource passes when the caller is the resource owner, or holds
// OWNER or ADMIN.
func OwnsResource(ownerID int64) Policy {
	return func(ctx context.Context, id Identity, c Checker) bool {
		if id.IsZero() {
			return false
		}
		if id.Role == RoleOwner || id.Role == RoleAdmin {
			return true
		}
		return id.UserID == ownerID
	}
}

// HasPermission defers to the layer-2 evaluator.
func HasPermission(scope Scope, action Action) Policy {
	return func(ctx context.Context, id Identity, c Checker) bool {
		return c != nil && c.HasPermission(ctx, id, scope, action)
	}
}
