package validator

import (
	"errors"
	"fmt"
	"strings"
)

// 拒绝原因（日志与指标中使用的稳定标签）
const (
	KindDecode          = "decode"
	KindUnknownCategory = "unknown_category"
	KindStructural      = "structural"
	KindCoherence       = "coherence"
	KindOther           = "other"
)

// Violation 单个字段的校验失败
type Violation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (v Violation) Error() string {
	return v.Path + ": " + v.Reason
}

// DecodeError 消息体无法解析为 JSON 对象
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UnknownCategoryError 类别未在 Registry 中注册
type UnknownCategoryError struct {
	Category string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q", e.Category)
}

// StructuralError 缺失或形态错误的字段（完整列表）
type StructuralError struct {
	Category   string
	Violations []Violation
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural validation failed for %s: %s", e.Category, joinViolations(e.Violations))
}

// Unwrap 逐条返回失败项，errors.Is/As 可匹配单个 Violation
func (e *StructuralError) Unwrap() []error {
	return violationErrors(e.Violations)
}

// CoherenceError 取值不满足约束的字段（完整列表）
type CoherenceError struct {
	Category   string
	Violations []Violation
}

func (e *CoherenceError) Error() string {
	return fmt.Sprintf("coherence validation failed for %s: %s", e.Category, joinViolations(e.Violations))
}

// Unwrap 逐条返回失败项
func (e *CoherenceError) Unwrap() []error {
	return violationErrors(e.Violations)
}

// Kind 返回错误对应的拒绝原因
func Kind(err error) string {
	var (
		decodeErr     *DecodeError
		unknownErr    *UnknownCategoryError
		structuralErr *StructuralError
		coherenceErr  *CoherenceError
	)
	switch {
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &unknownErr):
		return KindUnknownCategory
	case errors.As(err, &structuralErr):
		return KindStructural
	case errors.As(err, &coherenceErr):
		return KindCoherence
	default:
		return KindOther
	}
}

// Violations 提取错误中的全部字段失败项（其他错误返回 nil）
func Violations(err error) []Violation {
	var (
		structuralErr *StructuralError
		coherenceErr  *CoherenceError
	)
	switch {
	case errors.As(err, &structuralErr):
		return structuralErr.Violations
	case errors.As(err, &coherenceErr):
		return coherenceErr.Violations
	default:
		return nil
	}
}

func joinViolations(violations []Violation) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.Error()
	}
	return strings.Join(parts, "; ")
}

func violationErrors(violations []Violation) []error {
	errs := make([]error, len(violations))
	for i, v := range violations {
		errs[i] = v
	}
	return errs
}
