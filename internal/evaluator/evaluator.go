// Package evaluator 对单个传感器的历史窗口逐条评估报警规则。
package evaluator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"udite-analyzer/internal/models"

	"go.uber.org/zap"
)

// Outcome 单条规则的评估结果
type Outcome struct {
	Statistic  float64
	SampleSize int
	Fired      bool
	// Insufficient 样本数少于 MinSamples（视为不触发，不是错误）
	Insufficient bool
	Cause        string
}

// Evaluator 报警评估器
//
// 无状态：每次追加后都从头评估，不记录"已经在报警"之类的状态。
type Evaluator struct {
	logger *zap.Logger
}

// New 创建评估器
func New(logger *zap.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate 对窗口评估类别下的全部规则，返回触发的报警（规则相互独立，可同时触发多条）
//
// history 按到达顺序排列，最后一条是本次触发评估的事件。
func (e *Evaluator) Evaluate(cs *models.CategorySchema, sensorID string, history []*models.SensorEvent, now time.Time) []models.AlertEvent {
	if len(history) == 0 || len(cs.Rules) == 0 {
		return nil
	}

	builder := NewAlertEventBuilder(cs.Name, sensorID)
	trigger := history[len(history)-1]

	var alerts []models.AlertEvent
	for i := range cs.Rules {
		rule := &cs.Rules[i]
		outcome := EvaluateRule(rule, history)
		if outcome.Insufficient {
			e.logger.Debug("Insufficient samples for rule",
				zap.String("category", cs.Name),
				zap.String("sensor_id", sensorID),
				zap.String("rule", rule.Name),
				zap.Int("samples", outcome.SampleSize),
				zap.Int("min_samples", rule.MinSamples),
			)
			continue
		}
		if !outcome.Fired {
			continue
		}
		alert := builder.BuildAlertEvent(rule, outcome, trigger.Timestamp, now)
		alert.SourceTimestamp = trigger.RawTimestamp()
		alerts = append(alerts, *alert)
	}

	return alerts
}

// EvaluateRule 对窗口评估单条规则
func EvaluateRule(rule *models.AlertRule, history []*models.SensorEvent) Outcome {
	switch rule.Kind {
	case models.RuleAggregate:
		return evaluateAggregate(rule, tail(history, rule.LastN))
	case models.RuleRunLength:
		return evaluateRunLength(rule, history)
	default:
		return Outcome{}
	}
}

func tail(history []*models.SensorEvent, n int) []*models.SensorEvent {
	if n > 0 && n < len(history) {
		return history[len(history)-n:]
	}
	return history
}

func evaluateAggregate(rule *models.AlertRule, window []*models.SensorEvent) Outcome {
	var (
		values []interface{}
		last   interface{}
	)
	for _, event := range window {
		v, ok := event.Value(rule.Field)
		if !ok {
			continue
		}
		values = append(values, v)
		last = v
	}

	out := Outcome{SampleSize: len(values)}
	if len(values) == 0 || len(values) < rule.MinSamples {
		out.Insufficient = true
		return out
	}

	name := fieldName(rule.Field)
	switch rule.Statistic {
	case models.StatCount:
		count := 0
		for _, v := range values {
			if rule.Match.Matches(v) {
				count++
			}
		}
		out.Statistic = float64(count)
		out.Cause = fmt.Sprintf("%s is %v (Critical frequency: %d/%d)", name, last, count, len(values))

	case models.StatMean, models.StatMax, models.StatMin:
		numbers := make([]float64, 0, len(values))
		for _, v := range values {
			if n, ok := models.AsNumber(v); ok {
				numbers = append(numbers, n)
			}
		}
		if len(numbers) == 0 || len(numbers) < rule.MinSamples {
			out.SampleSize = len(numbers)
			out.Insufficient = true
			return out
		}
		out.SampleSize = len(numbers)
		out.Statistic = reduce(rule.Statistic, numbers)
		out.Cause = fmt.Sprintf("%s %s %.2f %s %s", name, statisticLabel(rule.Statistic), out.Statistic, rule.Operator.Symbol(), formatThreshold(rule.Threshold))

	default:
		return out
	}

	out.Fired = rule.Operator.Compare(out.Statistic, rule.Threshold)
	return out
}

// evaluateRunLength 从最新一条往前数连续满足条件的条数
func evaluateRunLength(rule *models.AlertRule, history []*models.SensorEvent) Outcome {
	out := Outcome{SampleSize: len(history)}
	if len(history) < rule.MinSamples {
		out.Insufficient = true
		return out
	}

	run := 0
	var current interface{}
	for i := len(history) - 1; i >= 0; i-- {
		v, ok := history[i].Value(rule.Field)
		if !ok || !rule.Match.Matches(v) {
			break
		}
		if run == 0 {
			current = v
		}
		run++
	}

	out.Statistic = float64(run)
	out.Fired = run > 0 && run >= rule.MinRun
	if out.Fired {
		out.Cause = fmt.Sprintf("%s is %v for %d consecutive readings", fieldName(rule.Field), current, run)
	}
	return out
}

func reduce(stat models.Statistic, numbers []float64) float64 {
	result := numbers[0]
	switch stat {
	case models.StatMax:
		for _, n := range numbers[1:] {
			if n > result {
				result = n
			}
		}
	case models.StatMin:
		for _, n := range numbers[1:] {
			if n < result {
				result = n
			}
		}
	default:
		sum := 0.0
		for _, n := range numbers {
			sum += n
		}
		result = sum / float64(len(numbers))
	}
	return result
}

func statisticLabel(stat models.Statistic) string {
	if stat == models.StatMean {
		return "average"
	}
	return string(stat)
}

// fieldName 点分路径的最后一段
func fieldName(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

func formatThreshold(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
