// Package consumer 订阅各类别的 MQTT 主题，把消息交给分析引擎，并把结果分发给存储、发布与缓存。
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqttcommon "udite-analyzer/common/mqtt"
	"udite-analyzer/internal/config"
	"udite-analyzer/internal/engine"
	"udite-analyzer/internal/metrics"
	"udite-analyzer/internal/models"
	"udite-analyzer/internal/schema"
	"udite-analyzer/internal/validator"

	"go.uber.org/zap"
)

const defaultDispatchTimeout = 10 * time.Second

// Processor 分析引擎接口
type Processor interface {
	Process(raw []byte) (*engine.Result, error)
	TrackedSensors() int
}

// Subscriber MQTT 订阅接口（由 common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// EventPublisher 事件与报警发布接口
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *models.SensorEvent, topicSuffix string) error
	PublishAlert(ctx context.Context, alert *models.AlertEvent, source string) error
}

// EventStore 事件存储接口
type EventStore interface {
	Insert(ctx context.Context, event *models.SensorEvent) (int64, error)
}

// AlertStore 报警存储接口
type AlertStore interface {
	Insert(ctx context.Context, alert *models.AlertEvent) error
}

// AlertCacheUpdater 报警缓存接口
type AlertCacheUpdater interface {
	Update(ctx context.Context, alerts []models.AlertEvent) error
}

// Sinks 下游协作方；任一为 nil 时跳过对应步骤
type Sinks struct {
	Publisher EventPublisher
	Events    EventStore
	Alerts    AlertStore
	Cache     AlertCacheUpdater
}

// MQTTConsumer MQTT 消费者
type MQTTConsumer struct {
	config     *config.Config
	registry   *schema.Registry
	processor  Processor
	subscriber Subscriber
	sinks      Sinks
	metrics    *metrics.Metrics
	logger     *zap.Logger

	topics []string
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(
	cfg *config.Config,
	registry *schema.Registry,
	processor Processor,
	subscriber Subscriber,
	sinks Sinks,
	m *metrics.Metrics,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		registry:   registry,
		processor:  processor,
		subscriber: subscriber,
		sinks:      sinks,
		metrics:    m,
		logger:     logger,
	}
}

// Start 订阅每个类别的输入主题
func (c *MQTTConsumer) Start(ctx context.Context) error {
	for _, cs := range c.registry.Categories() {
		if cs.Topic == "" {
			c.logger.Warn("Category has no topic, not subscribing", zap.String("category", cs.Name))
			continue
		}
		topic := c.config.InboundTopic(cs.Topic)
		if err := c.subscriber.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		c.topics = append(c.topics, topic)
		c.logger.Info("Subscribed to sensor topic",
			zap.String("category", cs.Name),
			zap.String("topic", topic),
		)
	}
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() error {
	if len(c.topics) == 0 {
		return nil
	}
	err := c.subscriber.Unsubscribe(c.topics...)
	c.topics = nil
	if err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// handleMessage 处理一条 MQTT 消息
//
// 被拒绝的事件只记录日志，不重试；下游失败也只记录日志，不影响后续消息。
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	start := time.Now()
	c.metrics.MessagesReceived.WithLabelValues(topic).Inc()

	result, err := c.processor.Process(payload)
	c.metrics.ObserveProcessing(start)
	if err != nil {
		c.logRejection(topic, err)
		return nil
	}

	c.metrics.EventsAccepted.WithLabelValues(result.Event.Category).Inc()
	c.metrics.TrackedSensors.Set(float64(c.processor.TrackedSensors()))

	timeout := c.config.MQTT.Timeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c.dispatch(ctx, result)
	return nil
}

func (c *MQTTConsumer) dispatch(ctx context.Context, result *engine.Result) {
	event := result.Event
	source := result.Schema.Topic

	if c.sinks.Events != nil {
		if _, err := c.sinks.Events.Insert(ctx, event); err != nil {
			c.downstreamError("storage", event, err)
		}
	}

	for i := range result.Alerts {
		alert := &result.Alerts[i]
		c.metrics.AlertsFired.WithLabelValues(alert.Category, alert.Rule).Inc()
		c.logger.Info("Alert fired",
			zap.String("alert_id", alert.AlertID),
			zap.String("category", alert.Category),
			zap.String("sensor_id", alert.SensorID),
			zap.String("rule", alert.Rule),
			zap.String("cause", alert.Cause),
			zap.Float64("statistic", alert.Statistic),
			zap.Float64("threshold", alert.Threshold),
		)

		if c.sinks.Alerts != nil {
			if err := c.sinks.Alerts.Insert(ctx, alert); err != nil {
				c.downstreamError("alert_storage", event, err)
			}
		}
		if c.sinks.Publisher != nil {
			if err := c.sinks.Publisher.PublishAlert(ctx, alert, source); err != nil {
				c.downstreamError("alert_publish", event, err)
			}
		}
	}

	if len(result.Alerts) > 0 && c.sinks.Cache != nil {
		if err := c.sinks.Cache.Update(ctx, result.Alerts); err != nil {
			c.downstreamError("alert_cache", event, err)
		}
	}

	if c.sinks.Publisher != nil {
		if err := c.sinks.Publisher.PublishEvent(ctx, event, source); err != nil {
			c.downstreamError("event_publish", event, err)
		}
	}
}

func (c *MQTTConsumer) logRejection(topic string, err error) {
	reason := validator.Kind(err)
	c.metrics.EventsRejected.WithLabelValues(reason).Inc()

	fields := []zap.Field{
		zap.String("topic", topic),
		zap.String("reason", reason),
	}
	var rejected *engine.RejectedError
	if errors.As(err, &rejected) {
		if rejected.Category != "" {
			fields = append(fields, zap.String("category", rejected.Category))
		}
		if rejected.SensorID != "" {
			fields = append(fields, zap.String("sensor_id", rejected.SensorID))
		}
	}
	if violations := validator.Violations(err); len(violations) > 0 {
		fields = append(fields, zap.Any("violations", violations))
	} else {
		fields = append(fields, zap.Error(err))
	}

	c.logger.Warn("Event rejected", fields...)
}

func (c *MQTTConsumer) downstreamError(stage string, event *models.SensorEvent, err error) {
	c.metrics.DownstreamErrors.WithLabelValues(stage).Inc()
	c.logger.Error("Downstream delivery failed",
		zap.String("stage", stage),
		zap.String("category", event.Category),
		zap.String("sensor_id", event.SensorID),
		zap.Error(err),
	)
}
