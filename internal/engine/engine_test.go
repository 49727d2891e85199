package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"udite-analyzer/internal/evaluator"
	"udite-analyzer/internal/schema"
	"udite-analyzer/internal/validator"
	"udite-analyzer/internal/window"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const trafficYAML = `
window_capacity: 20
categories:
  - name: traffic
    topic: trafficSensor
    sensor_id_field: sensor_id
    table: traffic
    fields:
      - { path: sensor_id, kind: string }
      - { path: speed, kind: number }
      - { path: lightState, kind: string }
    constraints:
      - { path: speed, type: range, min: 0, max: 200 }
      - { path: lightState, type: enum, values: [green, yellow, red, error] }
    rules:
      - name: consecutive_error
        kind: run_length
        field: lightState
        match: { in: [error] }
        min_run: 3
`

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTrafficEngine(t *testing.T) *Engine {
	t.Helper()
	reg, err := schema.Parse([]byte(trafficYAML))
	require.NoError(t, err)
	return newEngine(reg)
}

func newEngine(reg *schema.Registry) *Engine {
	logger := zap.NewNop()
	return New(
		reg,
		window.NewStore(reg.WindowCapacity()),
		evaluator.New(logger),
		logger,
		WithClock(func() time.Time { return fixedNow }),
	)
}

func trafficEvent(sensorID string, speed interface{}, lightState string) []byte {
	data, _ := json.Marshal(map[string]interface{}{
		"event_type": "traffic",
		"timestamp":  "2025-03-01T11:59:59Z",
		"sensor_id":  sensorID,
		"speed":      speed,
		"lightState": lightState,
	})
	return data
}

func TestProcess_TrafficScenario(t *testing.T) {
	e := newTrafficEngine(t)

	// 负速度
	result, err := e.Process(trafficEvent("tl-1", -5, "green"))
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Equal(t, validator.KindCoherence, validator.Kind(err))
	violations := validator.Violations(err)
	require.Len(t, violations, 1)
	assert.Equal(t, "speed", violations[0].Path)

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "traffic", rejected.Category)
	assert.Equal(t, "tl-1", rejected.SensorID)

	// 非法枚举值
	_, err = e.Process(trafficEvent("tl-1", 40, "blue"))
	require.Error(t, err)
	assert.Equal(t, validator.KindCoherence, validator.Kind(err))
	violations = validator.Violations(err)
	require.Len(t, violations, 1)
	assert.Equal(t, "lightState", violations[0].Path)

	// 被拒绝的事件不进入窗口
	assert.Equal(t, 0, e.TrackedSensors())

	// 合法事件：接受、入窗口、无报警
	raw := trafficEvent("tl-1", 40, "green")
	result, err = e.Process(raw)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Alerts)
	assert.Equal(t, 1, result.WindowSize)
	assert.Equal(t, "traffic", result.Event.Category)
	assert.Equal(t, "tl-1", result.Event.SensorID)
	assert.Equal(t, time.Date(2025, 3, 1, 11, 59, 59, 0, time.UTC), result.Event.Timestamp)
	assert.Equal(t, fixedNow, result.Event.ReceivedAt)
	assert.Equal(t, "trafficSensor", result.Schema.Topic)

	payload, err := result.Event.Payload()
	require.NoError(t, err)
	assert.Equal(t, raw, payload)
}

func TestProcess_ConsecutiveErrorAlert(t *testing.T) {
	e := newTrafficEngine(t)

	for i := 0; i < 2; i++ {
		result, err := e.Process(trafficEvent("tl-7", 0, "error"))
		require.NoError(t, err)
		assert.Empty(t, result.Alerts)
	}

	// 其他传感器不影响 tl-7 的窗口
	_, err := e.Process(trafficEvent("tl-8", 0, "error"))
	require.NoError(t, err)

	result, err := e.Process(trafficEvent("tl-7", 0, "error"))
	require.NoError(t, err)
	require.Len(t, result.Alerts, 1)
	alert := result.Alerts[0]
	assert.Equal(t, "tl-7", alert.SensorID)
	assert.Equal(t, "traffic", alert.Category)
	assert.Equal(t, "consecutive_error", alert.Rule)
	assert.Equal(t, fixedNow, alert.EvaluatedAt)
	assert.Equal(t, 2, e.TrackedSensors())
}

func TestProcess_DecodeAndEnvelopeErrors(t *testing.T) {
	e := newTrafficEngine(t)

	_, err := e.Process([]byte(`{"event_type": "traffic",`))
	assert.Equal(t, validator.KindDecode, validator.Kind(err))

	_, err = e.Process([]byte(`{"speed": 10}`))
	assert.Equal(t, validator.KindStructural, validator.Kind(err))

	_, err = e.Process([]byte(`{"event_type": "parking", "timestamp": "2025-03-01T10:00:00"}`))
	assert.Equal(t, validator.KindUnknownCategory, validator.Kind(err))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "parking", rejected.Category)

	_, err = e.ProcessPayload(nil)
	assert.Equal(t, validator.KindDecode, validator.Kind(err))
}

func TestProcess_StructuralErrorListsEveryField(t *testing.T) {
	e := newTrafficEngine(t)

	_, err := e.Process([]byte(`{"event_type": "traffic", "sensor_id": "tl-1"}`))
	require.Error(t, err)
	assert.Equal(t, validator.KindStructural, validator.Kind(err))

	var paths []string
	for _, v := range validator.Violations(err) {
		paths = append(paths, v.Path)
	}
	assert.Equal(t, []string{"lightState", "speed", "timestamp"}, paths)
}

func TestProcessPayload_DefaultSchemaSystemHealth(t *testing.T) {
	reg, err := schema.Default()
	require.NoError(t, err)
	e := newEngine(reg)

	payload := func(status string) map[string]interface{} {
		return map[string]interface{}{
			"event_type": "system_health",
			"timestamp":  "2025-03-01T10:15:30.123456",
			"component":  map[string]interface{}{"id": "gw-3", "type": "gateway"},
			"health": map[string]interface{}{
				"status":                status,
				"latency_ms":            20.0,
				"error_rate_percentage": 0.5,
			},
		}
	}

	var last *Result
	for i := 0; i < 3; i++ {
		last, err = e.ProcessPayload(payload("FAILURE"))
		require.NoError(t, err)
	}
	require.Len(t, last.Alerts, 1)
	assert.Equal(t, "consecutive_failure", last.Alerts[0].Rule)
	assert.Equal(t, "gw-3", last.Alerts[0].SensorID)
	assert.Equal(t, "2025-03-01T10:15:30.123456", last.Alerts[0].SourceTimestamp)

	// 无原始字节时按字段重新编码
	body, err := last.Event.Payload()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"event_type":"system_health"`)
}

func TestProcess_NumericSensorID(t *testing.T) {
	reg, err := schema.Parse([]byte(`
categories:
  - name: meter
    sensor_id_field: id
    fields:
      - { path: id, kind: any }
`))
	require.NoError(t, err)
	e := newEngine(reg)

	result, err := e.Process([]byte(`{"event_type":"meter","timestamp":"2025-03-01T10:00:00Z","id":42}`))
	require.NoError(t, err)
	assert.Equal(t, "42", result.Event.SensorID)
	assert.Equal(t, "meter:42", result.Event.Key())
}

func TestProcess_ConcurrentSensors(t *testing.T) {
	e := newTrafficEngine(t)

	var wg sync.WaitGroup
	for s := 0; s < 10; s++ {
		wg.Add(1)
		go func(sensor int) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				result, err := e.Process(trafficEvent(fmt.Sprintf("tl-%d", sensor), 30, "green"))
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if result.WindowSize > 20 {
					t.Errorf("window exceeded capacity: %d", result.WindowSize)
				}
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 10, e.TrackedSensors())
}
