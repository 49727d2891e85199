package models

import (
	"time"
)

// AlertEvent 报警事件（由评估器生成，交给发布/存储协作方）
type AlertEvent struct {
	AlertID        string    `json:"alert_id" db:"alert_id"`
	Category       string    `json:"category" db:"category"`
	SensorID       string    `json:"sensor_id" db:"sensor_id"`
	Rule           string    `json:"rule" db:"rule"`
	RuleKind       RuleKind  `json:"rule_kind" db:"rule_kind"`
	Field          string    `json:"field" db:"field"`
	Cause          string    `json:"cause" db:"cause"`         // 可读描述，如 "average_speed average 3.20 < 5"
	Statistic      float64   `json:"statistic" db:"statistic"` // 计算得到的统计值（均值/最大值/计数/连续长度）
	Threshold      float64   `json:"threshold" db:"threshold"` // 比较阈值（run_length 为最小连续次数）
	SampleSize     int       `json:"sample_size" db:"sample_size"`
	EventTimestamp time.Time `json:"event_timestamp" db:"event_timestamp"` // 触发事件自身的时间戳
	EvaluatedAt    time.Time `json:"evaluated_at" db:"evaluated_at"`

	// SourceTimestamp 触发事件信封中的原始时间戳字符串，报警消息原样转发
	SourceTimestamp string `json:"source_timestamp,omitempty" db:"-"`
}

// AlertMessage 报警频道上广播的消息格式
type AlertMessage struct {
	Timestamp string   `json:"timestamp"`
	Type      string   `json:"type"`   // 固定为 "ALERT"
	Source    string   `json:"source"` // 类别对应的主题后缀，如 "urbanViability"
	AlertID   string   `json:"alert_id"`
	Category  string   `json:"category"`
	SensorID  string   `json:"sensor_id"`
	Rule      string   `json:"rule"`
	Statistic float64  `json:"statistic"`
	Threshold float64  `json:"threshold"`
	Details   []string `json:"details"`
}
