// Package publisher 把通过校验的事件与报警发送给下游：MQTT 转发、报警频道以及 Redis Streams 镜像。
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "udite-analyzer/common/redis"
	"udite-analyzer/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// AlertMessageType 报警消息的 type 字段
const AlertMessageType = "ALERT"

// MessagePublisher MQTT 发布接口（由 common/mqtt.Client 实现）
type MessagePublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Topics 主题布局
type Topics interface {
	OutboundTopic(suffix string) string
	AlertTopic() string
}

// Options 发布器配置
type Options struct {
	QoS          byte
	EventStream  string // 为空时不镜像事件
	AlertStream  string // 为空时不镜像报警
	StreamMaxLen int64
}

// Publisher 输出协作方
type Publisher struct {
	mqtt    MessagePublisher
	redis   *redis.Client
	topics  Topics
	options Options
	logger  *zap.Logger
}

// NewPublisher 创建发布器；redisClient 为 nil 时只走 MQTT
func NewPublisher(mqttClient MessagePublisher, redisClient *redis.Client, topics Topics, options Options, logger *zap.Logger) *Publisher {
	return &Publisher{
		mqtt:    mqttClient,
		redis:   redisClient,
		topics:  topics,
		options: options,
		logger:  logger,
	}
}

// PublishEvent 原样转发已校验的事件到 <prefix>/data/post/<topic>，并镜像到事件流
func (p *Publisher) PublishEvent(ctx context.Context, event *models.SensorEvent, topicSuffix string) error {
	payload, err := event.Payload()
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	var errs error
	if p.mqtt != nil {
		if err := p.mqtt.Publish(p.topics.OutboundTopic(topicSuffix), p.options.QoS, false, payload); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to republish event: %w", err))
		}
	}

	if p.redis != nil && p.options.EventStream != "" {
		_, err := rediscommon.PublishToStream(ctx, p.redis, p.options.EventStream, map[string]interface{}{
			"category":    event.Category,
			"sensor_id":   event.SensorID,
			"timestamp":   event.Timestamp.Format(time.RFC3339Nano),
			"received_at": event.ReceivedAt.Format(time.RFC3339Nano),
			"payload":     payload,
		}, rediscommon.StreamOptions{MaxLen: p.options.StreamMaxLen})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to mirror event to stream: %w", err))
		}
	}

	return errs
}

// PublishAlert 在报警频道上广播报警（每条报警一条消息），并镜像到报警流
//
// 不做去重或限流：同一条触发事件上的多条报警全部发出。
func (p *Publisher) PublishAlert(ctx context.Context, alert *models.AlertEvent, source string) error {
	var errs error

	if p.mqtt != nil {
		msg := BuildAlertMessage(alert, source)
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal alert message: %w", err)
		}
		if err := p.mqtt.Publish(p.topics.AlertTopic(), p.options.QoS, false, data); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to publish alert: %w", err))
		}
	}

	if p.redis != nil && p.options.AlertStream != "" {
		_, err := rediscommon.PublishJSONToStream(ctx, p.redis, p.options.AlertStream, alert,
			rediscommon.StreamOptions{MaxLen: p.options.StreamMaxLen})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to mirror alert to stream: %w", err))
		}
	}

	if errs == nil {
		p.logger.Debug("Alert published",
			zap.String("alert_id", alert.AlertID),
			zap.String("category", alert.Category),
			zap.String("sensor_id", alert.SensorID),
			zap.String("rule", alert.Rule),
		)
	}
	return errs
}

// BuildAlertMessage 构建报警频道消息：{timestamp, type: "ALERT", source, details}
//
// timestamp 优先使用触发事件的原始字符串。
func BuildAlertMessage(alert *models.AlertEvent, source string) *models.AlertMessage {
	timestamp := alert.SourceTimestamp
	if timestamp == "" {
		timestamp = alert.EventTimestamp.Format(time.RFC3339Nano)
	}
	return &models.AlertMessage{
		Timestamp: timestamp,
		Type:      AlertMessageType,
		Source:    source,
		AlertID:   alert.AlertID,
		Category:  alert.Category,
		SensorID:  alert.SensorID,
		Rule:      alert.Rule,
		Statistic: alert.Statistic,
		Threshold: alert.Threshold,
		Details:   []string{alert.Cause},
	}
}
