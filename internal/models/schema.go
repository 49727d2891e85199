package models

// FieldKind 必填字段的形态
type FieldKind string

const (
	FieldObject FieldKind = "object" // 嵌套对象
	FieldNumber FieldKind = "number"
	FieldString FieldKind = "string"
	FieldAny    FieldKind = "any" // 只要求存在且非 null
)

// ConstraintType 约束类型
type ConstraintType string

const (
	ConstraintRange ConstraintType = "range"
	ConstraintEnum  ConstraintType = "enum"
)

// RuleKind 报警规则类型
type RuleKind string

const (
	RuleAggregate RuleKind = "aggregate"  // 窗口统计值与阈值比较
	RuleRunLength RuleKind = "run_length" // 最近连续满足条件的条数
)

// Statistic 聚合统计量
type Statistic string

const (
	StatMean  Statistic = "mean"
	StatMax   Statistic = "max"
	StatMin   Statistic = "min"
	StatCount Statistic = "count"
)

// Operator 比较运算符
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpNE  Operator = "ne"
)

// Symbol 运算符的可读符号
func (o Operator) Symbol() string {
	switch o {
	case OpGT:
		return ">"
	case OpGTE:
		return ">="
	case OpLT:
		return "<"
	case OpLTE:
		return "<="
	case OpEQ:
		return "=="
	case OpNE:
		return "!="
	default:
		return string(o)
	}
}

// Compare 计算 left <op> right
func (o Operator) Compare(left, right float64) bool {
	switch o {
	case OpGT:
		return left > right
	case OpGTE:
		return left >= right
	case OpLT:
		return left < right
	case OpLTE:
		return left <= right
	case OpEQ:
		return left == right
	case OpNE:
		return left != right
	default:
		return false
	}
}

// Valid 是否为已知运算符
func (o Operator) Valid() bool {
	switch o {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNE:
		return true
	}
	return false
}

// FieldSpec 必填字段（点分路径，可嵌套）
type FieldSpec struct {
	Path string    `yaml:"path" json:"path"`
	Kind FieldKind `yaml:"kind" json:"kind"`
}

// Constraint 字段取值约束：数值闭区间 [min, max] 或枚举集合
type Constraint struct {
	Path   string         `yaml:"path" json:"path"`
	Type   ConstraintType `yaml:"type" json:"type"`
	Min    *float64       `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *float64       `yaml:"max,omitempty" json:"max,omitempty"`
	Values []string       `yaml:"values,omitempty" json:"values,omitempty"`
}

// Predicate 单条记录的匹配条件：取值属于 In，或数值满足 Op Value
type Predicate struct {
	In    []string `yaml:"in,omitempty" json:"in,omitempty"`
	Op    Operator `yaml:"op,omitempty" json:"op,omitempty"`
	Value *float64 `yaml:"value,omitempty" json:"value,omitempty"`
}

// Matches 判断字段值是否满足条件
func (p *Predicate) Matches(v interface{}) bool {
	if p == nil {
		return false
	}
	if len(p.In) > 0 {
		s, ok := v.(string)
		if !ok {
			return false
		}
		for _, candidate := range p.In {
			if s == candidate {
				return true
			}
		}
		return false
	}
	if p.Value == nil {
		return false
	}
	n, ok := AsNumber(v)
	return ok && p.Op.Compare(n, *p.Value)
}

// AlertRule 报警规则（静态配置）
//
// aggregate: 对窗口（或最近 LastN 条）计算 Statistic，与 Threshold 按 Operator 比较。
// run_length: 从最新一条往前数连续满足 Match 的条数，达到 MinRun 即触发。
// 有效样本数少于 MinSamples 时视为数据不足，不触发。
type AlertRule struct {
	Name       string     `yaml:"name" json:"name"`
	Kind       RuleKind   `yaml:"kind" json:"kind"`
	Field      string     `yaml:"field" json:"field"`
	Statistic  Statistic  `yaml:"statistic,omitempty" json:"statistic,omitempty"`
	Operator   Operator   `yaml:"op,omitempty" json:"op,omitempty"`
	Threshold  float64    `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Match      *Predicate `yaml:"match,omitempty" json:"match,omitempty"`
	LastN      int        `yaml:"last_n,omitempty" json:"last_n,omitempty"`
	MinSamples int        `yaml:"min_samples,omitempty" json:"min_samples,omitempty"`
	MinRun     int        `yaml:"min_run,omitempty" json:"min_run,omitempty"`
}

// Column 存储表的列与字段路径映射
type Column struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
}

// CategorySchema 单个事件类别的完整声明
type CategorySchema struct {
	Name          string       `yaml:"name" json:"name"`
	Topic         string       `yaml:"topic" json:"topic"`                     // 主题后缀，如 "urbanViability"
	SensorIDField string       `yaml:"sensor_id_field" json:"sensor_id_field"` // 传感器 ID 所在字段路径
	Table         string       `yaml:"table" json:"table"`
	Fields        []FieldSpec  `yaml:"fields" json:"fields"`
	Constraints   []Constraint `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Columns       []Column     `yaml:"columns,omitempty" json:"columns,omitempty"`
	Rules         []AlertRule  `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// FieldKindOf 返回路径声明的形态
func (c *CategorySchema) FieldKindOf(path string) (FieldKind, bool) {
	for _, f := range c.Fields {
		if f.Path == path {
			return f.Kind, true
		}
	}
	return "", false
}

// SchemaConfig 配置文件根结构
type SchemaConfig struct {
	WindowCapacity int              `yaml:"window_capacity" json:"window_capacity"`
	Categories     []CategorySchema `yaml:"categories" json:"categories"`
}
