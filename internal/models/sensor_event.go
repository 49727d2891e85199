package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// 信封字段：每条传感器消息都必须携带
const (
	FieldEventType = "event_type"
	FieldTimestamp = "timestamp"
)

// SensorEvent 一条通过校验的传感器读数
//
// 校验通过后不可修改；滑动窗口、评估器与外部协作方共享同一实例。
type SensorEvent struct {
	Category   string                 `json:"category"`
	SensorID   string                 `json:"sensor_id"`
	Timestamp  time.Time              `json:"timestamp"`
	ReceivedAt time.Time              `json:"received_at"`
	Fields     map[string]interface{} `json:"fields"`

	// Raw 原始消息体（转发时原样发出）
	Raw json.RawMessage `json:"-"`
}

// Key 滑动窗口键：category:sensor_id
func (e *SensorEvent) Key() string {
	return WindowKey(e.Category, e.SensorID)
}

// RawTimestamp 消息信封中的原始时间戳字符串（保留原格式与时区写法）
func (e *SensorEvent) RawTimestamp() string {
	s, _ := e.Fields[FieldTimestamp].(string)
	return s
}

// Value 按点分路径读取字段值
func (e *SensorEvent) Value(path string) (interface{}, bool) {
	return LookupPath(e.Fields, path)
}

// Payload 返回用于转发的消息体：优先原始字节
func (e *SensorEvent) Payload() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(e.Fields)
}

// WindowKey 构建窗口键
func WindowKey(category, sensorID string) string {
	return category + ":" + sensorID
}

// LookupPath 在嵌套 map 中按点分路径取值，例如 "t_metrics.average_speed"
func LookupPath(fields map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = fields
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// AsNumber 将 JSON 解码后的数值统一转换为 float64
func AsNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// 支持的时间格式：带时区的 RFC3339，以及 Python isoformat() 产生的无时区格式
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp 解析消息时间戳，无时区时按 UTC 处理
func ParseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", raw)
}
