package consumer

import (
	"context"
	"testing"
	"time"

	"udite-analyzer/internal/config"
	"udite-analyzer/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *AlertCache) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := &config.Config{}
	cfg.Analyzer.AlertCache.KeyPrefix = "udite:alerts:"
	cfg.Analyzer.AlertCache.TTL = 300
	cfg.Analyzer.AlertCache.MaxEntries = 3

	return mr, redisClient, NewAlertCache(cfg, redisClient, zap.NewNop())
}

func cachedAlert(id, sensorID string) models.AlertEvent {
	return models.AlertEvent{
		AlertID:     id,
		Category:    "system_health",
		SensorID:    sensorID,
		Rule:        "consecutive_failure",
		RuleKind:    models.RuleRunLength,
		Statistic:   3,
		Threshold:   3,
		EvaluatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAlertCache_UpdateAndGet(t *testing.T) {
	mr, _, cache := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Update(ctx, []models.AlertEvent{cachedAlert("a-1", "gw-1"), cachedAlert("a-2", "gw-2")}))
	require.NoError(t, cache.Update(ctx, []models.AlertEvent{cachedAlert("a-3", "gw-1")}))

	alerts, err := cache.Get(ctx, "system_health", "gw-1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a-3", alerts[0].AlertID)
	assert.Equal(t, "a-1", alerts[1].AlertID)

	// TTL 已设置
	assert.Equal(t, 300*time.Second, mr.TTL("udite:alerts:system_health:gw-1"))

	alerts, err = cache.Get(ctx, "system_health", "gw-2")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestAlertCache_TrimsToMaxEntries(t *testing.T) {
	_, _, cache := setupTestRedis(t)
	ctx := context.Background()

	for _, id := range []string{"a-1", "a-2", "a-3", "a-4", "a-5"} {
		require.NoError(t, cache.Update(ctx, []models.AlertEvent{cachedAlert(id, "gw-1")}))
	}

	alerts, err := cache.Get(ctx, "system_health", "gw-1")
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, "a-5", alerts[0].AlertID)
	assert.Equal(t, "a-3", alerts[2].AlertID)
}

func TestAlertCache_ExpiresAfterTTL(t *testing.T) {
	mr, _, cache := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Update(ctx, []models.AlertEvent{cachedAlert("a-1", "gw-1")}))
	mr.FastForward(301 * time.Second)

	alerts, err := cache.Get(ctx, "system_health", "gw-1")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAlertCache_EmptyUpdate(t *testing.T) {
	_, _, cache := setupTestRedis(t)
	assert.NoError(t, cache.Update(context.Background(), nil))
}
