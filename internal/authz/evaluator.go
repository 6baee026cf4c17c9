package authz

import (
	"context"
	"log/slog"
)

// EntryStore provides the permission entries reachable by a user
// through active group memberships, pre-filtered to one module and one
// action.
type EntryStore interface {
	ActiveEntriesForUser(ctx context.Context, userID int64, moduleKey string, action Action) ([]Entry, error)
}

// DecisionRecorder counts evaluation outcomes for observability.
type DecisionRecorder interface {
	ObserveAuthzDecision(check string, allowed bool)
}

// Evaluator is the permission decision engine. It is a stateless
// read-only predicate: every error path resolves to a deny and is
// never surfaced to the caller.
type Evaluator struct {
	store   EntryStore
	logger  *slog.Logger
	metrics DecisionRecorder
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(store EntryStore, logger *slog.Logger, metrics DecisionRecorder) *Evaluator {
	return &Evaluator{store: store, logger: logger, metrics: metrics}
}

// HasPermission decides whether the identity may perform action on the
// scoped resource.
//
// OWNER passes unconditionally. Otherwise all entries from the user's
// active groups that match the request at module, page or component
// specificity are collected; a single matching denial beats any number
// of allows regardless of specificity, a broader allow implies access
// to everything nested under it, and no match at all denies.
func (e *Evaluator) HasPermission(ctx context.Context, id Identity, scope Scope, action Action) bool {
	allowed := e.decide(ctx, id, scope, action)
	if e.metrics != nil {
		e.metrics.ObserveAuthzDecision(string(scope.Level()), allowed)
	}
	return allowed
}

// HasModuleAccess reports read access to a module.
func (e *Evaluator) HasModuleAccess(ctx context.Context, id Identity, moduleKey string) bool {
	scope, err := NewModuleScope(moduleKey)
	if err != nil {
		return false
	}
	return e.HasPermission(ctx, id, scope, ActionRead)
}

// HasPageAccess reports read access to a page.
func (e *Evaluator) HasPageAccess(ctx context.Context, id Identity, pageKey string) bool {
	scope, err := NewPageScope(pageKey)
	if err != nil {
		return false
	}
	return e.HasPermission(ctx, id, scope, ActionRead)
}

// HasComponentAccess reports read access to a component on a page.
func (e *Evaluator) HasComponentAccess(ctx context.Context, id Identity, pageKey, componentKey string) bool {
	scope, err := NewComponentScope(pageKey, componentKey)
	if err != nil {
		return false
	}
	return e.HasPermission(ctx, id, scope, ActionRead)
}

// Check is the wire-level form of HasPermission: raw strings in,
// boolean out. Malformed input denies rather than erroring.
func (e *Evaluator) Check(ctx context.Context, id Identity, rawLevel, moduleKey, identifier, rawAction string) bool {
	level, err := ParseLevel(rawLevel)
	if err != nil {
		return false
	}
	action, err := ParseAction(rawAction)
	if err != nil {
		return false
	}
	scope, err := ParseScope(level, moduleKey, identifier)
	if err != nil {
		return false
	}
	return e.HasPermission(ctx, id, scope, action)
}

func (e *Evaluator) decide(ctx context.Context, id Identity, scope Scope, action Action) bool {
	if id.IsZero() {
		return false
	}
	if id.Role == RoleOwner {
		return true
	}
	if scope == nil || e.store == nil {
		return false
	}

	entries, err := e.store.ActiveEntriesForUser(ctx, id.UserID, scope.Module(), action)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("authz load entries", slog.Int64("user_id", id.UserID), slog.String("module", scope.Module()), slog.Any("error", err))
		}
		return false
	}

	allow := false
	for _, entry := range entries {
		if !entryMatches(entry, scope) {
			continue
		}
		if !entry.Granted {
			// Deny override: one matching denial settles the
			// decision no matter what else matches.
			return false
		}
		allow = true
	}
	return allow
}

// entryMatches reports whether a stored entry applies to the requested
// scope. Entries are assumed pre-filtered by module and action.
func entryMatches(entry Entry, request Scope) bool {
	if entry.Scope == nil || entry.Scope.Module() != request.Module() {
		return false
	}
	switch owned := entry.Scope.(type) {
	case ModuleScope:
		// A module entry covers the module itself and everything
		// nested under it.
		return true
	case PageScope:
		switch req := request.(type) {
		case PageScope:
			return req.PageKey == owned.PageKey
		case ComponentScope:
			return req.PageKey == owned.PageKey
		}
		return false
	case ComponentScope:
		req, ok := request.(ComponentScope)
		return ok && req.PageKey == owned.PageKey && req.ComponentKey == owned.ComponentKey
	}
	return false
}
