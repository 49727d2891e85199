package evaluator

import (
	"time"

	"udite-analyzer/internal/models"

	"github.com/google/uuid"
)

// AlertEventBuilder 报警事件构建器
type AlertEventBuilder struct {
	category string
	sensorID string
}

// NewAlertEventBuilder 创建报警事件构建器
func NewAlertEventBuilder(category, sensorID string) *AlertEventBuilder {
	return &AlertEventBuilder{
		category: category,
		sensorID: sensorID,
	}
}

// BuildAlertEvent 根据规则评估结果构建报警事件
func (b *AlertEventBuilder) BuildAlertEvent(rule *models.AlertRule, outcome Outcome, eventTimestamp, evaluatedAt time.Time) *models.AlertEvent {
	threshold := rule.Threshold
	if rule.Kind == models.RuleRunLength {
		threshold = float64(rule.MinRun)
	}

	return &models.AlertEvent{
		AlertID:        uuid.New().String(),
		Category:       b.category,
		SensorID:       b.sensorID,
		Rule:           rule.Name,
		RuleKind:       rule.Kind,
		Field:          rule.Field,
		Cause:          outcome.Cause,
		Statistic:      outcome.Statistic,
		Threshold:      threshold,
		SampleSize:     outcome.SampleSize,
		EventTimestamp: eventTimestamp,
		EvaluatedAt:    evaluatedAt,
	}
}
