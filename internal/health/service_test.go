package health

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/lattice-saas/lattice/testing"
)

func TestRefreshReportsRedisUp(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(nil, redisClient, time.Minute)

	snap := svc.Refresh(context.Background())

	require.Contains(t, snap.Checks, "redis")
	assert.Equal(t, StatusUp, snap.Checks["redis"].Status)
	// No database pool is configured, so the aggregate is down.
	assert.Equal(t, StatusDown, snap.Checks["postgres"].Status)
	assert.Equal(t, StatusDown, snap.Status)
	assert.False(t, snap.CheckedAt.IsZero())
}

func TestRefreshReportsRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()
	svc := NewService(nil, redisClient, time.Minute)

	snap := svc.Refresh(context.Background())

	assert.Equal(t, StatusDown, snap.Checks["redis"].Status)
	assert.NotEmpty(t, snap.Checks["redis"].Error)
	assert.Equal(t, StatusDown, snap.Status)
}

func TestCheckServesCachedSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(nil, redisClient, time.Minute)

	first := svc.Check(context.Background())
	second := svc.Check(context.Background())

	assert.Equal(t, first.CheckedAt, second.CheckedAt)
}

func TestCheckRefreshesStaleSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(nil, redisClient, time.Nanosecond)

	first := svc.Check(context.Background())
	time.Sleep(time.Millisecond)
	second := svc.Check(context.Background())

	assert.True(t, second.CheckedAt.After(first.CheckedAt))
}
