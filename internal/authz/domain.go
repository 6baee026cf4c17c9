// Package authz implements the two-layer authorization engine: static
// roles combined with hierarchical group permissions.
package authz

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StaticRole is the coarse account-level role (layer 1).
type StaticRole string

const (
	RoleOwner StaticRole = "OWNER"
	RoleAdmin StaticRole = "ADMIN"
	RoleUser  StaticRole = "USER"
)

// ParseStaticRole validates a raw role string.
func ParseStaticRole(raw string) (StaticRole, error) {
	switch StaticRole(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	}
	return "", fmt.Errorf("authz: unknown role %q", raw)
}

// Action is the operation a permission entry grants or denies.
type Action string

const (
	ActionRead    Action = "READ"
	ActionWrite   Action = "WRITE"
	ActionDelete  Action = "DELETE"
	ActionExecute Action = "EXECUTE"
)

// ParseAction validates a raw action string.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(raw))) {
	case ActionRead:
		return ActionRead, nil
	case ActionWrite:
		return ActionWrite, nil
	case ActionDelete:
		return ActionDelete, nil
	case ActionExecute:
		return ActionExecute, nil
	}
	return "", fmt.Errorf("authz: unknown action %q", raw)
}

// Level is the specificity of a permission scope.
type Level string

const (
	LevelModule    Level = "MODULE"
	LevelPage      Level = "PAGE"
	LevelComponent Level = "COMPONENT"
)

// ParseLevel validates a raw permission-type string.
func ParseLevel(raw string) (Level, error) {
	switch Level(strings.ToUpper(strings.TrimSpace(raw))) {
	case LevelModule:
		return LevelModule, nil
	case LevelPage:
		return LevelPage, nil
	case LevelComponent:
		return LevelComponent, nil
	}
	return "", fmt.Errorf("authz: unknown permission type %q", raw)
}

// Scope identifies a resource at one of the three specificity levels.
// Each variant carries exactly the fields valid for its level, so a
// module scope cannot accidentally hold a component key.
type Scope interface {
	Level() Level
	// Module returns the owning module key.
	Module() string
	// Identifier returns the stored resource identifier: empty for
	// modules, "module.page" for pages, "module.page.component" for
	// components.
	Identifier() string
}

// ModuleScope addresses an entire module, e.g. "support".
type ModuleScope struct {
	ModuleKey string
}

func (s ModuleScope) Level() Level       { return LevelModule }
func (s ModuleScope) Module() string     { return s.ModuleKey }
func (s ModuleScope) Identifier() string { return "" }

// PageScope addresses one page within a module, e.g. "support.chat".
type PageScope struct {
	ModuleKey string
	PageKey   string
}

func (s PageScope) Level() Level       { return LevelPage }
func (s PageScope) Module() string     { return s.ModuleKey }
func (s PageScope) Identifier() string { return s.PageKey }

// ComponentScope addresses a single component on a page, e.g.
// "support.chat.edit_button".
type ComponentScope struct {
	ModuleKey    string
	PageKey      string
	ComponentKey string
}

func (s ComponentScope) Level() Level   { return LevelComponent }
func (s ComponentScope) Module() string { return s.ModuleKey }
func (s ComponentScope) Identifier() string {
	return s.PageKey + "." + s.ComponentKey
}

var errMalformedScope = errors.New("authz: malformed scope")

// NewModuleScope builds a module scope from its key.
func NewModuleScope(moduleKey string) (ModuleScope, error) {
	moduleKey = strings.TrimSpace(moduleKey)
	if moduleKey == "" || strings.Contains(moduleKey, ".") {
		return ModuleScope{}, errMalformedScope
	}
	return ModuleScope{ModuleKey: moduleKey}, nil
}

// NewPageScope builds a page scope from a dotted "module.page" key.
func NewPageScope(pageKey string) (PageScope, error) {
	pageKey = strings.TrimSpace(pageKey)
	parts := strings.Split(pageKey, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return PageScope{}, errMalformedScope
	}
	return PageScope{ModuleKey: parts[0], PageKey: pageKey}, nil
}

// NewComponentScope builds a component scope from a page key and the
// component's own key.
func NewComponentScope(pageKey, componentKey string) (ComponentScope, error) {
	page, err := NewPageScope(pageKey)
	if err != nil {
		return ComponentScope{}, err
	}
	componentKey = strings.TrimSpace(componentKey)
	if componentKey == "" || strings.Contains(componentKey, ".") {
		return ComponentScope{}, errMalformedScope
	}
	return ComponentScope{ModuleKey: page.ModuleKey, PageKey: page.PageKey, ComponentKey: componentKey}, nil
}

// ParseScope reconstructs a scope from its wire representation: a
// permission level, a module key, and a resource identifier. The
// identifier is ignored for modules, a "module.page" key for pages and
// a full "module.page.component" path for components. The module
// portion of the identifier must agree with the module key.
func ParseScope(level Level, moduleKey, identifier string) (Scope, error) {
	moduleKey = strings.TrimSpace(moduleKey)
	switch level {
	case LevelModule:
		return NewModuleScope(moduleKey)
	case LevelPage:
		page, err := NewPageScope(identifier)
		if err != nil {
			return nil, err
		}
		if page.ModuleKey != moduleKey {
			return nil, errMalformedScope
		}
		return page, nil
	case LevelComponent:
		parts := strings.Split(strings.TrimSpace(identifier), ".")
		if len(parts) != 3 {
			return nil, errMalformedScope
		}
		scope, err := NewComponentScope(parts[0]+"."+parts[1], parts[2])
		if err != nil {
			return nil, err
		}
		if scope.ModuleKey != moduleKey {
			return nil, errMalformedScope
		}
		return scope, nil
	}
	return nil, errMalformedScope
}

// Identity is the authenticated principal as seen by the evaluator.
// The zero value represents an unauthenticated caller and never passes
// any check.
type Identity struct {
	UserID int64
	Role   StaticRole
}

// IsZero reports whether the identity is unauthenticated.
func (id Identity) IsZero() bool {
	return id.UserID == 0 || id.Role == ""
}

// Group is a named collection of permission entries.
type Group struct {
	ID          int64
	Name        string
	Description string
	Active      bool
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Entry is a single grant or denial owned by a group.
type Entry struct {
	ID        int64
	GroupID   int64
	Scope     Scope
	Action    Action
	Granted   bool
	CreatedAt time.Time
}

// Membership links a user to a group.
type Membership struct {
	UserID     int64
	GroupID    int64
	AssignedBy int64
	AssignedAt time.Time
}
