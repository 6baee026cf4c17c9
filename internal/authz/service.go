package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// RepositoryPort defines the persistence methods the management
// service needs.
type RepositoryPort interface {
	CreateGroup(ctx context.Context, name, description string, createdBy int64) (Group, error)
	GetGroup(ctx context.Context, id int64) (Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	UpdateGroup(ctx context.Context, id int64, name, description string) (Group, error)
	SetGroupActive(ctx context.Context, id int64, active bool) error
	DeleteGroup(ctx context.Context, id int64) error

	UpsertEntry(ctx context.Context, groupID int64, scope Scope, action Action, granted bool) (Entry, error)
	DeleteEntry(ctx context.Context, groupID int64, scope Scope, action Action) error
	ListGroupEntries(ctx context.Context, groupID int64) ([]Entry, error)

	AssignMembership(ctx context.Context, userID, groupID, assignedBy int64) (Membership, error)
	RemoveMembership(ctx context.Context, userID, groupID int64) error
	ListUserGroups(ctx context.Context, userID int64) ([]Group, error)
	ListGroupMembers(ctx context.Context, groupID int64) ([]Membership, error)
}

// Auditor records mutations of the permission model.
type Auditor interface {
	Record(ctx context.Context, actorID int64, action, entity string, entityID int64, detail string) error
}

// Service orchestrates group, permission and membership management.
// Authorization of the caller happens at the gateway, not here; the
// service trusts its callers.
type Service struct {
	repo    RepositoryPort
	catalog *Catalog
	auditor Auditor
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, catalog *Catalog, auditor Auditor, logger *slog.Logger) *Service {
	return &Service{repo: repo, catalog: catalog, auditor: auditor, logger: logger}
}

// CreateGroup creates a new active permission group.
func (s *Service) CreateGroup(ctx context.Context, name, description string, createdBy int64) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, errors.New("authz: group name required")
	}
	group, err := s.repo.CreateGroup(ctx, name, strings.TrimSpace(description), createdBy)
	if err != nil {
		return Group{}, err
	}
	s.audit(ctx, createdBy, "group.create", "permission_group", group.ID, group.Name)
	return group, nil
}

// GetGroup fetches a group by ID.
func (s *Service) GetGroup(ctx context.Context, id int64) (Group, error) {
	return s.repo.GetGroup(ctx, id)
}

// ListGroups returns all groups.
func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	return s.repo.ListGroups(ctx)
}

// UpdateGroup renames or redescribes a group.
func (s *Service) UpdateGroup(ctx context.Context, actorID, id int64, name, description string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, errors.New("authz: group name required")
	}
	group, err := s.repo.UpdateGroup(ctx, id, name, strings.TrimSpace(description))
	if err != nil {
		return Group{}, err
	}
	s.audit(ctx, actorID, "group.update", "permission_group", id, group.Name)
	return group, nil
}

// SetGroupActive activates or deactivates a group. Deactivation
// suppresses every permission the group grants without touching its
// entries.
func (s *Service) SetGroupActive(ctx context.Context, actorID, id int64, active bool) error {
	if err := s.repo.SetGroupActive(ctx, id, active); err != nil {
		return err
	}
	verb := "group.deactivate"
	if active {
		verb = "group.activate"
	}
	s.audit(ctx, actorID, verb, "permission_group", id, "")
	return nil
}

// DeleteGroup removes a group with its entries and memberships.
func (s *Service) DeleteGroup(ctx context.Context, actorID, id int64) error {
	if err := s.repo.DeleteGroup(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, actorID, "group.delete", "permission_group", id, "")
	return nil
}

// SetPermission stores a grant or denial on a group. The scope must
// name a registered catalog resource. Writing the same (scope, action)
// tuple again replaces the previous decision.
func (s *Service) SetPermission(ctx context.Context, actorID, groupID int64, scope Scope, action Action, granted bool) (Entry, error) {
	if scope == nil {
		return Entry{}, errMalformedScope
	}
	if s.catalog != nil {
		if err := s.catalog.ValidateScope(ctx, scope); err != nil {
			return Entry{}, err
		}
	}
	entry, err := s.repo.UpsertEntry(ctx, groupID, scope, action, granted)
	if err != nil {
		return Entry{}, err
	}
	decision := "deny"
	if granted {
		decision = "grant"
	}
	s.audit(ctx, actorID, "permission."+decision, "group_permission", groupID,
		fmt.Sprintf("%s %s %s", scope.Level(), scopeDisplay(scope), action))
	return entry, nil
}

// RemovePermission deletes a grant or denial from a group.
func (s *Service) RemovePermission(ctx context.Context, actorID, groupID int64, scope Scope, action Action) error {
	if scope == nil {
		return errMalformedScope
	}
	if err := s.repo.DeleteEntry(ctx, groupID, scope, action); err != nil {
		return err
	}
	s.audit(ctx, actorID, "permission.remove", "group_permission", groupID,
		fmt.Sprintf("%s %s %s", scope.Level(), scopeDisplay(scope), action))
	return nil
}

// ListGroupPermissions returns all entries of a group.
func (s *Service) ListGroupPermissions(ctx context.Context, groupID int64) ([]Entry, error) {
	return s.repo.ListGroupEntries(ctx, groupID)
}

// AssignUserToGroup adds a user to a group. Idempotent: re-assigning
// refreshes the assignment metadata.
func (s *Service) AssignUserToGroup(ctx context.Context, groupID, userID, assignedBy int64) (Membership, error) {
	membership, err := s.repo.AssignMembership(ctx, userID, groupID, assignedBy)
	if err != nil {
		return Membership{}, err
	}
	s.audit(ctx, assignedBy, "membership.assign", "user_group", groupID, fmt.Sprintf("user %d", userID))
	return membership, nil
}

// RemoveUserFromGroup deletes a membership.
func (s *Service) RemoveUserFromGroup(ctx context.Context, actorID, groupID, userID int64) error {
	if err := s.repo.RemoveMembership(ctx, userID, groupID); err != nil {
		return err
	}
	s.audit(ctx, actorID, "membership.remove", "user_group", groupID, fmt.Sprintf("user %d", userID))
	return nil
}

// GetUserGroups lists the groups a user belongs to.
func (s *Service) GetUserGroups(ctx context.Context, userID int64) ([]Group, error) {
	return s.repo.ListUserGroups(ctx, userID)
}

// ListGroupMembers lists the memberships of a group.
func (s *Service) ListGroupMembers(ctx context.Context, groupID int64) ([]Membership, error) {
	return s.repo.ListGroupMembers(ctx, groupID)
}

func (s *Service) audit(ctx context.Context, actorID int64, action, entity string, entityID int64, detail string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, actorID, action, entity, entityID, detail); err != nil && s.logger != nil {
		s.logger.Warn("authz audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func scopeDisplay(scope Scope) string {
	if id := scope.Identifier(); id != "" {
		return id
	}
	return scope.Module()
}
