// Package schema 保存事件类别到字段声明、取值约束与报警规则的映射。
//
// Registry 在进程启动时加载一次，之后只读；校验器、评估器与存储层共享同一个实例。
package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"udite-analyzer/internal/models"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// DefaultWindowCapacity 每个传感器保留的历史条数（默认值，也是上限）
const DefaultWindowCapacity = 20

// ErrUnknownCategory 类别未注册
var ErrUnknownCategory = errors.New("unknown category")

//go:embed default_schema.yaml
var defaultSchema []byte

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Registry 不可变的类别声明表
type Registry struct {
	windowCapacity int
	categories     map[string]*models.CategorySchema
	order          []string
}

// Default 加载内置的默认配置
func Default() (*Registry, error) {
	return Parse(defaultSchema)
}

// LoadFile 从 YAML 文件加载
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load 从 YAML 读取配置，未知字段视为错误
func Load(r io.Reader) (*Registry, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var cfg models.SchemaConfig
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode schema config: %w", err)
	}

	return New(cfg)
}

// Parse 从内存中的 YAML 加载
func Parse(data []byte) (*Registry, error) {
	return Load(bytes.NewReader(data))
}

// New 校验配置并构建 Registry；所有问题一次性返回
func New(cfg models.SchemaConfig) (*Registry, error) {
	capacity := cfg.WindowCapacity
	if capacity == 0 {
		capacity = DefaultWindowCapacity
	}

	var errs error
	if capacity < 0 || capacity > DefaultWindowCapacity {
		errs = multierr.Append(errs, fmt.Errorf("window_capacity must be between 1 and %d, got %d", DefaultWindowCapacity, capacity))
	}
	if len(cfg.Categories) == 0 {
		errs = multierr.Append(errs, errors.New("at least one category is required"))
	}

	r := &Registry{
		windowCapacity: capacity,
		categories:     make(map[string]*models.CategorySchema, len(cfg.Categories)),
	}

	for i := range cfg.Categories {
		cs := cfg.Categories[i]
		if cs.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("categories[%d]: name is required", i))
			continue
		}
		// 类别名参与窗口键、缓存键与表名
		if !identifierPattern.MatchString(cs.Name) {
			errs = multierr.Append(errs, fmt.Errorf("categories[%d]: name %q is not a valid identifier", i, cs.Name))
			continue
		}
		if _, dup := r.categories[cs.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("category %s: duplicate name", cs.Name))
			continue
		}
		errs = multierr.Append(errs, validateCategory(&cs))

		r.categories[cs.Name] = &cs
		r.order = append(r.order, cs.Name)
	}

	if errs != nil {
		return nil, fmt.Errorf("invalid schema config: %w", errs)
	}
	return r, nil
}

// Lookup 按类别名查找；未注册时返回包装了 ErrUnknownCategory 的错误
func (r *Registry) Lookup(category string) (*models.CategorySchema, error) {
	cs, ok := r.categories[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return cs, nil
}

// Categories 按配置顺序返回全部类别
func (r *Registry) Categories() []*models.CategorySchema {
	out := make([]*models.CategorySchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.categories[name])
	}
	return out
}

// WindowCapacity 滑动窗口容量
func (r *Registry) WindowCapacity() int {
	return r.windowCapacity
}

func validateCategory(cs *models.CategorySchema) error {
	var errs error
	fail := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf("category %s: "+format, append([]interface{}{cs.Name}, args...)...))
	}

	required := make(map[string]models.FieldKind, len(cs.Fields))
	for _, f := range cs.Fields {
		if f.Path == "" {
			fail("field path is required")
			continue
		}
		if _, dup := required[f.Path]; dup {
			fail("field %s declared twice", f.Path)
		}
		switch f.Kind {
		case models.FieldObject, models.FieldNumber, models.FieldString, models.FieldAny:
		default:
			fail("field %s: unknown kind %q", f.Path, f.Kind)
		}
		required[f.Path] = f.Kind
	}

	// 父路径如果也被声明，必须是 object
	for path := range required {
		for parent := parentPath(path); parent != ""; parent = parentPath(parent) {
			if kind, ok := required[parent]; ok && kind != models.FieldObject {
				fail("field %s: parent %s must be declared as object", path, parent)
			}
		}
	}

	if cs.SensorIDField == "" {
		fail("sensor_id_field is required")
	} else if kind, ok := required[cs.SensorIDField]; !ok {
		fail("sensor_id_field %s is not a required field", cs.SensorIDField)
	} else if kind == models.FieldObject {
		fail("sensor_id_field %s must be a scalar", cs.SensorIDField)
	}

	for _, c := range cs.Constraints {
		if _, ok := required[c.Path]; !ok {
			fail("constraint on %s references a field that is not required", c.Path)
		}
		switch c.Type {
		case models.ConstraintRange:
			if c.Min == nil && c.Max == nil {
				fail("range constraint on %s needs min or max", c.Path)
			}
			if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
				fail("range constraint on %s has min > max", c.Path)
			}
		case models.ConstraintEnum:
			if len(c.Values) == 0 {
				fail("enum constraint on %s has no values", c.Path)
			}
		default:
			fail("constraint on %s: unknown type %q", c.Path, c.Type)
		}
	}

	if cs.Table != "" && !identifierPattern.MatchString(cs.Table) {
		fail("table name %q is not a valid identifier", cs.Table)
	}
	for _, col := range cs.Columns {
		if !identifierPattern.MatchString(col.Name) {
			fail("column name %q is not a valid identifier", col.Name)
		}
		if kind, ok := required[col.Path]; !ok {
			fail("column %s maps %s which is not a required field", col.Name, col.Path)
		} else if kind == models.FieldObject {
			fail("column %s maps object field %s", col.Name, col.Path)
		}
	}

	names := make(map[string]struct{}, len(cs.Rules))
	for _, rule := range cs.Rules {
		if rule.Name == "" {
			fail("rule name is required")
			continue
		}
		if _, dup := names[rule.Name]; dup {
			fail("rule %s declared twice", rule.Name)
		}
		names[rule.Name] = struct{}{}
		if _, ok := required[rule.Field]; !ok {
			fail("rule %s references %s which is not a required field", rule.Name, rule.Field)
		}
		if rule.LastN < 0 || rule.MinSamples < 0 {
			fail("rule %s: last_n and min_samples must not be negative", rule.Name)
		}
		if rule.Match != nil {
			if err := validatePredicate(rule.Match); err != nil {
				fail("rule %s: %v", rule.Name, err)
			}
		}

		switch rule.Kind {
		case models.RuleAggregate:
			switch rule.Statistic {
			case models.StatMean, models.StatMax, models.StatMin:
			case models.StatCount:
				if rule.Match == nil {
					fail("rule %s: count statistic needs match", rule.Name)
				}
			default:
				fail("rule %s: unknown statistic %q", rule.Name, rule.Statistic)
			}
			if !rule.Operator.Valid() {
				fail("rule %s: unknown operator %q", rule.Name, rule.Operator)
			}
		case models.RuleRunLength:
			if rule.Match == nil {
				fail("rule %s: run_length needs match", rule.Name)
			}
			if rule.MinRun <= 0 {
				fail("rule %s: min_run must be positive", rule.Name)
			}
		default:
			fail("rule %s: unknown kind %q", rule.Name, rule.Kind)
		}
	}

	return errs
}

func validatePredicate(p *models.Predicate) error {
	if len(p.In) > 0 {
		if p.Value != nil {
			return errors.New("match must use either in or op/value, not both")
		}
		return nil
	}
	if p.Value == nil || !p.Op.Valid() {
		return errors.New("match needs in values or a valid op with value")
	}
	return nil
}

func parentPath(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
