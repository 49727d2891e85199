package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"udite-analyzer/internal/config"
	"udite-analyzer/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AlertCache 每个传感器最近报警的 Redis 缓存（列表，最新在前，带 TTL）
type AlertCache struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewAlertCache 创建报警缓存
func NewAlertCache(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *AlertCache {
	return &AlertCache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Key 缓存键：<prefix><category>:<sensor_id>
func (c *AlertCache) Key(category, sensorID string) string {
	return c.config.Analyzer.AlertCache.KeyPrefix + models.WindowKey(category, sensorID)
}

// Update 追加报警并刷新 TTL，每个键只保留 MaxEntries 条
func (c *AlertCache) Update(ctx context.Context, alerts []models.AlertEvent) error {
	if len(alerts) == 0 {
		return nil
	}

	maxEntries := int64(c.config.Analyzer.AlertCache.MaxEntries)
	if maxEntries <= 0 {
		maxEntries = 20
	}

	touched := make(map[string]struct{})
	_, err := c.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range alerts {
			data, err := json.Marshal(&alerts[i])
			if err != nil {
				return fmt.Errorf("failed to marshal alert: %w", err)
			}
			key := c.Key(alerts[i].Category, alerts[i].SensorID)
			pipe.LPush(ctx, key, data)
			touched[key] = struct{}{}
		}
		for key := range touched {
			pipe.LTrim(ctx, key, 0, maxEntries-1)
			pipe.Expire(ctx, key, c.config.AlertCacheTTL())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update alert cache: %w", err)
	}

	c.logger.Debug("Updated alert cache",
		zap.Int("alert_count", len(alerts)),
		zap.Int("key_count", len(touched)),
	)
	return nil
}

// Get 读取某个传感器缓存的报警（最新在前）；无缓存时返回空列表
func (c *AlertCache) Get(ctx context.Context, category, sensorID string) ([]models.AlertEvent, error) {
	values, err := c.redisClient.LRange(ctx, c.Key(category, sensorID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get alert cache: %w", err)
	}

	alerts := make([]models.AlertEvent, 0, len(values))
	for _, v := range values {
		var alert models.AlertEvent
		if err := json.Unmarshal([]byte(v), &alert); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cached alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
