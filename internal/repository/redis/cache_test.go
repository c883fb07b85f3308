package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewCacheWithClient(client, zap.NewNop())
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestCache_GetSet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	var out map[string]int
	err := c.Get(ctx, "missing", &out)
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, 1, out["a"])

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrCacheMiss)
}

func TestCache_CycleSummary(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, err := c.GetCycleSummary(ctx, "prod")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.SetCycleSummary(ctx, &domain.CycleSummary{Environment: "prod", Cycle: 4, Migrations: 2}))

	got, err := c.GetCycleSummary(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Cycle)
	assert.Equal(t, 2, got.Migrations)

	mr.FastForward(summaryTTL + time.Second)
	_, err = c.GetCycleSummary(ctx, "prod")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCache_PublishMigrations(t *testing.T) {
	c, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := c.Subscribe(ctx, MigrationChannel("prod"))

	recs := []*domain.MigrationRecord{{ID: "r1", VMID: 3, TargetHostID: 1}}
	var got Event
	require.Eventually(t, func() bool {
		if err := c.PublishMigrations(ctx, "prod", recs); err != nil {
			return false
		}
		select {
		case got = <-events:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, EventMigrationsDecided, got.Type)
	assert.Equal(t, "prod", got.Environment)
	require.Len(t, got.Records, 1)
	assert.Equal(t, 3, got.Records[0].VMID)

	cancel()
	for range events {
	}
}

func TestCache_CheckRateLimit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := c.CheckRateLimit(ctx, "ratelimit:test", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}
	res, err := c.CheckRateLimit(ctx, "ratelimit:test", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}
