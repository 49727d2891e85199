// Package validator 对单条传感器消息做结构校验与取值一致性校验。
//
// 两种校验都是纯函数：不修改 payload，返回包含全部失败项的错误，而不是遇到第一个就返回。
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"udite-analyzer/internal/models"
)

// Decode 将消息体解析为 JSON 对象
func Decode(raw []byte) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if payload == nil {
		return nil, &DecodeError{Err: errors.New("payload is not a JSON object")}
	}
	return payload, nil
}

// Category 读取信封中的 event_type
func Category(payload map[string]interface{}) (string, error) {
	v, ok := payload[models.FieldEventType]
	if !ok {
		return "", &StructuralError{Violations: []Violation{{Path: models.FieldEventType, Reason: "missing"}}}
	}
	category, ok := v.(string)
	if !ok || category == "" {
		return "", &StructuralError{Violations: []Violation{{Path: models.FieldEventType, Reason: "expected non-empty string, got " + typeName(v)}}}
	}
	return category, nil
}

// ValidateStructure 检查信封字段、全部必填字段（含嵌套子字段）以及传感器 ID
func ValidateStructure(payload map[string]interface{}, cs *models.CategorySchema) error {
	found := make(violationSet)

	checkTimestamp(payload, found)
	for _, spec := range cs.Fields {
		checkField(payload, spec, found)
	}
	checkSensorID(payload, cs.SensorIDField, found)

	if len(found) == 0 {
		return nil
	}
	return &StructuralError{Category: cs.Name, Violations: found.sorted()}
}

func checkTimestamp(payload map[string]interface{}, found violationSet) {
	v, ok := payload[models.FieldTimestamp]
	if !ok {
		found.add(models.FieldTimestamp, "missing")
		return
	}
	raw, ok := v.(string)
	if !ok {
		found.add(models.FieldTimestamp, "expected string, got "+typeName(v))
		return
	}
	if _, err := models.ParseTimestamp(raw); err != nil {
		found.add(models.FieldTimestamp, err.Error())
	}
}

func checkField(payload map[string]interface{}, spec models.FieldSpec, found violationSet) {
	segments := strings.Split(spec.Path, ".")
	var current interface{} = payload
	for i, segment := range segments {
		prefix := strings.Join(segments[:i+1], ".")
		obj := current.(map[string]interface{})
		v, ok := obj[segment]
		if !ok {
			found.add(prefix, "missing")
			return
		}
		if i < len(segments)-1 {
			if _, isObj := v.(map[string]interface{}); !isObj {
				found.add(prefix, "expected object, got "+typeName(v))
				return
			}
		}
		current = v
	}

	if !kindMatches(spec.Kind, current) {
		found.add(spec.Path, fmt.Sprintf("expected %s, got %s", spec.Kind, typeName(current)))
	}
}

func checkSensorID(payload map[string]interface{}, path string, found violationSet) {
	v, ok := models.LookupPath(payload, path)
	if !ok {
		// 缺失已由必填字段检查报告
		return
	}
	switch id := v.(type) {
	case string:
		if strings.TrimSpace(id) == "" {
			found.add(path, "sensor id must not be empty")
		}
	case float64:
	default:
		found.add(path, "sensor id must be a string or number, got "+typeName(v))
	}
}

func kindMatches(kind models.FieldKind, v interface{}) bool {
	switch kind {
	case models.FieldObject:
		_, ok := v.(map[string]interface{})
		return ok
	case models.FieldNumber:
		_, ok := models.AsNumber(v)
		return ok
	case models.FieldString:
		_, ok := v.(string)
		return ok
	default:
		return v != nil
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		if _, ok := models.AsNumber(v); ok {
			return "number"
		}
		return fmt.Sprintf("%T", v)
	}
}

// violationSet 以路径去重：同一路径只报告一次，结果按路径排序，保证与检查顺序无关
type violationSet map[string]string

func (s violationSet) add(path, reason string) {
	if existing, ok := s[path]; ok && existing <= reason {
		return
	}
	s[path] = reason
}

func (s violationSet) sorted() []Violation {
	out := make([]Violation, 0, len(s))
	for path, reason := range s {
		out = append(out, Violation{Path: path, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
