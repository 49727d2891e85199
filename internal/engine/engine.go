// Package engine 是分析核心的同步入口：解码 → 结构校验 → 一致性校验 → 追加窗口 → 评估报警。
//
// Engine 不做任何 I/O；传输、存储与发布由调用方根据 Result 完成。
package engine

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"udite-analyzer/internal/evaluator"
	"udite-analyzer/internal/models"
	"udite-analyzer/internal/schema"
	"udite-analyzer/internal/validator"
	"udite-analyzer/internal/window"

	"go.uber.org/zap"
)

// Result 一条被接受的事件及其触发的报警
type Result struct {
	Event  *models.SensorEvent
	Schema *models.CategorySchema
	Alerts []models.AlertEvent
	// WindowSize 追加后的窗口长度
	WindowSize int
}

// RejectedError 事件被丢弃，携带已知的类别与传感器 ID 以便记录日志
type RejectedError struct {
	Category string
	SensorID string
	Err      error
}

func (e *RejectedError) Error() string {
	return e.Err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Option Engine 可选项
type Option func(*Engine)

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine 分析引擎
type Engine struct {
	registry  *schema.Registry
	store     *window.Store
	evaluator *evaluator.Evaluator
	logger    *zap.Logger
	now       func() time.Time
}

// New 创建分析引擎
func New(registry *schema.Registry, store *window.Store, eval *evaluator.Evaluator, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		store:     store,
		evaluator: eval,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process 处理一条原始消息
//
// 任何校验失败都返回 *RejectedError（包装 validator 的错误类型），事件不会进入窗口。
func (e *Engine) Process(raw []byte) (*Result, error) {
	payload, err := validator.Decode(raw)
	if err != nil {
		return nil, &RejectedError{Err: err}
	}
	return e.process(payload, raw)
}

// ProcessPayload 处理已解码的消息
func (e *Engine) ProcessPayload(payload map[string]interface{}) (*Result, error) {
	if payload == nil {
		return nil, &RejectedError{Err: &validator.DecodeError{Err: errors.New("payload is nil")}}
	}
	return e.process(payload, nil)
}

func (e *Engine) process(payload map[string]interface{}, raw []byte) (*Result, error) {
	category, err := validator.Category(payload)
	if err != nil {
		return nil, &RejectedError{Err: err}
	}

	cs, err := e.registry.Lookup(category)
	if err != nil {
		return nil, &RejectedError{Category: category, Err: &validator.UnknownCategoryError{Category: category}}
	}

	sensorID := sensorIDOf(payload, cs.SensorIDField)

	if err := validator.ValidateStructure(payload, cs); err != nil {
		return nil, &RejectedError{Category: category, SensorID: sensorID, Err: err}
	}
	if err := validator.ValidateCoherence(payload, cs); err != nil {
		return nil, &RejectedError{Category: category, SensorID: sensorID, Err: err}
	}

	// 结构校验已保证时间戳可解析
	timestamp, _ := models.ParseTimestamp(payload[models.FieldTimestamp].(string))
	now := e.now()

	event := &models.SensorEvent{
		Category:   category,
		SensorID:   sensorID,
		Timestamp:  timestamp,
		ReceivedAt: now,
		Fields:     payload,
		Raw:        json.RawMessage(raw),
	}

	history := e.store.Append(category, sensorID, event)
	alerts := e.evaluator.Evaluate(cs, sensorID, history, now)

	return &Result{
		Event:      event,
		Schema:     cs,
		Alerts:     alerts,
		WindowSize: len(history),
	}, nil
}

// TrackedSensors 窗口中已跟踪的传感器数量
func (e *Engine) TrackedSensors() int {
	return e.store.Len()
}

// Registry 引擎使用的类别声明表
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

func sensorIDOf(payload map[string]interface{}, path string) string {
	v, ok := models.LookupPath(payload, path)
	if !ok {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
