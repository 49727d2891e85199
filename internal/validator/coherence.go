package validator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"udite-analyzer/internal/models"
)

// ValidateCoherence 检查每个受约束字段的取值：数值在 [min, max] 闭区间内，枚举值在允许集合中
//
// 调用前应已通过 ValidateStructure。
func ValidateCoherence(payload map[string]interface{}, cs *models.CategorySchema) error {
	var violations []Violation
	for _, c := range cs.Constraints {
		v, ok := models.LookupPath(payload, c.Path)
		if !ok {
			violations = append(violations, Violation{Path: c.Path, Reason: "missing"})
			continue
		}
		if reason, ok := checkConstraint(c, v); !ok {
			violations = append(violations, Violation{Path: c.Path, Reason: reason})
		}
	}

	if len(violations) == 0 {
		return nil
	}
	sort.SliceStable(violations, func(i, j int) bool { return violations[i].Path < violations[j].Path })
	return &CoherenceError{Category: cs.Name, Violations: violations}
}

func checkConstraint(c models.Constraint, v interface{}) (string, bool) {
	switch c.Type {
	case models.ConstraintRange:
		n, ok := models.AsNumber(v)
		if !ok {
			return "expected number, got " + typeName(v), false
		}
		if (c.Min != nil && n < *c.Min) || (c.Max != nil && n > *c.Max) {
			return fmt.Sprintf("value %s out of range [%s, %s]", formatNumber(n), bound(c.Min, "-inf"), bound(c.Max, "+inf")), false
		}
		return "", true

	case models.ConstraintEnum:
		s, ok := v.(string)
		if ok {
			for _, allowed := range c.Values {
				if s == allowed {
					return "", true
				}
			}
		}
		return fmt.Sprintf("value %v not in [%s]", v, strings.Join(c.Values, ", ")), false

	default:
		return fmt.Sprintf("unsupported constraint type %q", c.Type), false
	}
}

func bound(b *float64, unbounded string) string {
	if b == nil {
		return unbounded
	}
	return formatNumber(*b)
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
