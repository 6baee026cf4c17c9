package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lattice-saas/lattice/internal/authz"
	"github.com/lattice-saas/lattice/internal/shared"
)

// Auditor records account mutations.
type Auditor interface {
	Record(ctx context.Context, actorID int64, action, entity string, entityID int64, detail string) error
}

// Service wraps account business rules.
type Service struct {
	repo    Repository
	auditor Auditor
	logger  *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, auditor Auditor, logger *slog.Logger) *Service {
	return &Service{repo: repo, auditor: auditor, logger: logger}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Resolve maps a user id to the identity consumed by the authorization
// layer. Unknown or deactivated users resolve to an error so the
// caller fails closed.
func (s *Service) Resolve(ctx context.Context, userID int64) (authz.Identity, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return authz.Identity{}, err
	}
	if !user.Active {
		return authz.Identity{}, shared.ErrNotFound
	}
	return authz.Identity{UserID: user.ID, Role: user.Role}, nil
}

// CreateUser registers an account with a hashed password.
func (s *Service) CreateUser(ctx context.Context, actorID int64, email, name, password string, role authz.StaticRole) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("identity: email required")
	}
	if len(password) < 8 {
		return nil, errors.New("identity: password too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.Create(ctx, User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "user.create", user.ID, user.Email)
	return user, nil
}

// GetUser fetches one account.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// ListUsers returns a page of accounts.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) ([]User, shared.Pagination, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	users, total, err := s.repo.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(page, perPage, total), nil
}

// UpdateProfile changes mutable profile fields.
func (s *Service) UpdateProfile(ctx context.Context, actorID, id int64, name string) (*User, error) {
	user, err := s.repo.UpdateProfile(ctx, id, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "user.update", id, "")
	return user, nil
}

// ChangeRole switches a user's static role. At most one OWNER may
// exist; promoting a second one returns ErrOwnerExists.
func (s *Service) ChangeRole(ctx context.Context, actorID, id int64, role authz.StaticRole) (*User, error) {
	user, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, "user.role", id, string(role))
	return user, nil
}

// SetActive activates or deactivates an account.
func (s *Service) SetActive(ctx context.Context, actorID, id int64, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	verb := "user.deactivate"
	if active {
		verb = "user.activate"
	}
	s.audit(ctx, actorID, verb, id, "")
	return nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// PurgeExpiredSessions deletes session audit rows past their expiry.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, time.Now())
}

func (s *Service) audit(ctx context.Context, actorID int64, action string, entityID int64, detail string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, actorID, action, "user", entityID, detail); err != nil && s.logger != nil {
		s.logger.Warn("identity audit record", slog.String("action", action), slog.Any("error", err))
	}
}
