package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lattice-saas/lattice/internal/audit"
	"github.com/lattice-saas/lattice/internal/health"
	"github.com/lattice-saas/lattice/internal/identity"
	jobmetrics "github.com/lattice-saas/lattice/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskSessionPurge deletes expired session audit rows.
	TaskSessionPurge = "session:purge"
	// TaskAuditTrim trims audit log rows past the retention window.
	TaskAuditTrim = "audit:trim"
	// TaskHealthRefresh re-probes dependency health off the request path.
	TaskHealthRefresh = "health:refresh"
)

// AuditTrimPayload carries the retention window for a trim run.
type AuditTrimPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewSessionPurgeTask constructs a session purge task.
func NewSessionPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPurge, nil)
}

// NewAuditTrimTask constructs an audit trim task.
func NewAuditTrimTask(payload AuditTrimPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditTrim, data), nil
}

// NewHealthRefreshTask constructs a health refresh task.
func NewHealthRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskHealthRefresh, nil)
}

// Tasks bundles the services the task handlers operate on.
type Tasks struct {
	Identity *identity.Service
	Audit    *audit.Service
	Health   *health.Service
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// HandleSessionPurge processes TaskSessionPurge tasks.
func (t Tasks) HandleSessionPurge(ctx context.Context, _ *asynq.Task) error {
	tracker := t.Metrics.Track(TaskSessionPurge)
	if t.Identity == nil {
		return tracker.End(nil)
	}
	removed, err := t.Identity.PurgeExpiredSessions(ctx)
	if err != nil {
		return tracker.End(err)
	}
	if removed > 0 && t.Logger != nil {
		t.Logger.Info("session purge", slog.Int64("removed", removed))
	}
	return tracker.End(nil)
}

// HandleAuditTrim processes TaskAuditTrim tasks.
func (t Tasks) HandleAuditTrim(ctx context.Context, task *asynq.Task) error {
	if t.Audit == nil {
		return nil
	}
	var payload AuditTrimPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionHours <= 0 {
		return asynq.SkipRetry
	}
	tracker := t.Metrics.Track(TaskAuditTrim)
	_, err := t.Audit.Trim(ctx, time.Duration(payload.RetentionHours)*time.Hour)
	return tracker.End(err)
}

// HandleHealthRefresh processes TaskHealthRefresh tasks.
func (t Tasks) HandleHealthRefresh(ctx context.Context, _ *asynq.Task) error {
	if t.Health == nil {
		return nil
	}
	tracker := t.Metrics.Track(TaskHealthRefresh)
	snap := t.Health.Refresh(ctx)
	if snap.Status != health.StatusUp && t.Logger != nil {
		t.Logger.Warn("health refresh", slog.String("status", string(snap.Status)))
	}
	return tracker.End(nil)
}
