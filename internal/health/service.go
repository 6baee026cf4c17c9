package health

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Status is the state of one dependency probe.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Check is the result of probing one dependency.
type Check struct {
	Status    Status `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Snapshot aggregates all dependency probes at one point in time.
type Snapshot struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Service probes postgres and redis. Snapshots are cached for a short
// interval and concurrent refreshes are collapsed through singleflight
// so a burst of probes costs one round trip per dependency.
type Service struct {
	pool     *pgxpool.Pool
	redis    *redis.Client
	interval time.Duration

	group singleflight.Group

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewService constructs a Service. interval bounds how stale a cached
// snapshot may be before Check refreshes it.
func NewService(pool *pgxpool.Pool, rdb *redis.Client, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Service{pool: pool, redis: rdb, interval: interval}
}

// Check returns the current snapshot, refreshing it when stale.
func (s *Service) Check(ctx context.Context) Snapshot {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()
	if !snap.CheckedAt.IsZero() && time.Since(snap.CheckedAt) < s.interval {
		return snap
	}
	return s.Refresh(ctx)
}

// Refresh probes all dependencies now, ignoring the cache. Concurrent
// callers share one probe run.
func (s *Service) Refresh(ctx context.Context) Snapshot {
	ch := s.group.DoChan("refresh", func() (any, error) {
		snap := s.probe(ctx)
		s.mu.Lock()
		s.snapshot = snap
		s.mu.Unlock()
		return snap, nil
	})
	select {
	case <-ctx.Done():
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.snapshot
	case res := <-ch:
		return res.Val.(Snapshot)
	}
}

func (s *Service) probe(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	checks := map[string]Check{
		"postgres": s.probePostgres(ctx),
		"redis":    s.probeRedis(ctx),
	}
	status := StatusUp
	for _, c := range checks {
		if c.Status != StatusUp {
			status = StatusDown
			break
		}
	}
	return Snapshot{Status: status, Checks: checks, CheckedAt: time.Now().UTC()}
}

func (s *Service) probePostgres(ctx context.Context) Check {
	if s.pool == nil {
		return Check{Status: StatusDown, Error: "not configured"}
	}
	start := time.Now()
	err := s.pool.Ping(ctx)
	return toCheck(start, err)
}

func (s *Service) probeRedis(ctx context.Context) Check {
	if s.redis == nil {
		return Check{Status: StatusDown, Error: "not configured"}
	}
	start := time.Now()
	err := s.redis.Ping(ctx).Err()
	return toCheck(start, err)
}

func toCheck(start time.Time, err error) Check {
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Check{Status: StatusDown, LatencyMS: latency, Error: err.Error()}
	}
	return Check{Status: StatusUp, LatencyMS: latency}
}
