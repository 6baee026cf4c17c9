package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lattice-saas/lattice/internal/shared"
)

// Service exposes the audit trail. Its Record method satisfies the
// Auditor interfaces of the account and permission modules.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record appends one audit row.
func (s *Service) Record(ctx context.Context, actorID int64, action, entity string, entityID int64, detail string) error {
	action = strings.TrimSpace(action)
	entity = strings.TrimSpace(entity)
	if action == "" || entity == "" {
		return nil
	}
	return s.repo.Insert(ctx, Record{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Detail:   detail,
		At:       time.Now().UTC(),
	})
}

// Timeline returns a page of audit rows, newest first.
func (s *Service) Timeline(ctx context.Context, filter Filter, page, perPage int) ([]Record, shared.Pagination, error) {
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	if page <= 0 {
		page = 1
	}
	records, total, err := s.repo.List(ctx, filter, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return records, shared.NewPagination(page, perPage, total), nil
}

// Trim removes rows older than the retention window and logs the count.
func (s *Service) Trim(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	removed, err := s.repo.DeleteBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if removed > 0 && s.logger != nil {
		s.logger.Info("audit trim", slog.Int64("removed", removed))
	}
	return removed, nil
}
