package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"udite-analyzer/internal/models"
	"udite-analyzer/internal/schema"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SensorEventsRepository 传感器事件仓库：每个类别一张表
//
// 表结构由类别声明中的 columns 决定，另外固定包含 sensor_id、event_time、received_at 与完整 payload（JSONB）。
type SensorEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
	tables map[string]*categoryTable
	order  []string
}

type categoryTable struct {
	name        string
	columns     []models.Column
	kinds       []models.FieldKind
	createQuery string
	indexQuery  string
	insertQuery string
}

// NewSensorEventsRepository 创建传感器事件仓库（SQL 在构造时按类别生成一次）
func NewSensorEventsRepository(db *sql.DB, registry *schema.Registry, logger *zap.Logger) *SensorEventsRepository {
	r := &SensorEventsRepository{
		db:     db,
		logger: logger,
		tables: make(map[string]*categoryTable),
	}
	for _, cs := range registry.Categories() {
		r.tables[cs.Name] = newCategoryTable(cs)
		r.order = append(r.order, cs.Name)
	}
	return r
}

func newCategoryTable(cs *models.CategorySchema) *categoryTable {
	t := &categoryTable{name: cs.Table, columns: cs.Columns}
	if t.name == "" {
		t.name = cs.Name
	}
	table := pq.QuoteIdentifier(t.name)

	defs := []string{
		"id BIGSERIAL PRIMARY KEY",
		"sensor_id TEXT NOT NULL",
		"event_time TIMESTAMPTZ NOT NULL",
		"received_at TIMESTAMPTZ NOT NULL",
	}
	names := []string{"sensor_id", "event_time", "received_at"}
	for _, col := range cs.Columns {
		kind, _ := cs.FieldKindOf(col.Path)
		t.kinds = append(t.kinds, kind)
		defs = append(defs, pq.QuoteIdentifier(col.Name)+" "+columnType(kind))
		names = append(names, pq.QuoteIdentifier(col.Name))
	}
	defs = append(defs, "payload JSONB NOT NULL")
	names = append(names, "payload")

	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	t.createQuery = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	t.indexQuery = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (sensor_id, event_time DESC)",
		pq.QuoteIdentifier("idx_"+t.name+"_sensor_time"), table)
	t.insertQuery = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	return t
}

func columnType(kind models.FieldKind) string {
	if kind == models.FieldNumber {
		return "DOUBLE PRECISION"
	}
	return "TEXT"
}

// EnsureTables 创建缺失的类别表与索引
func (r *SensorEventsRepository) EnsureTables(ctx context.Context) error {
	for _, category := range r.order {
		t := r.tables[category]
		if _, err := r.db.ExecContext(ctx, t.createQuery); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.name, err)
		}
		if _, err := r.db.ExecContext(ctx, t.indexQuery); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", t.name, err)
		}
		r.logger.Debug("Sensor table ready", zap.String("category", category), zap.String("table", t.name))
	}
	return nil
}

// Insert 写入一条已校验的事件，返回行 ID
func (r *SensorEventsRepository) Insert(ctx context.Context, event *models.SensorEvent) (int64, error) {
	if event == nil {
		return 0, fmt.Errorf("event is required")
	}
	t, ok := r.tables[event.Category]
	if !ok {
		return 0, fmt.Errorf("no table for category %s", event.Category)
	}

	payload, err := event.Payload()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	args := make([]interface{}, 0, len(t.columns)+4)
	args = append(args, event.SensorID, event.Timestamp, event.ReceivedAt)
	for i, col := range t.columns {
		v, _ := event.Value(col.Path)
		args = append(args, columnValue(t.kinds[i], v))
	}
	args = append(args, string(payload))

	var id int64
	if err := r.db.QueryRowContext(ctx, t.insertQuery, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert %s event: %w", event.Category, err)
	}
	return id, nil
}

func columnValue(kind models.FieldKind, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if kind == models.FieldNumber {
		if n, ok := models.AsNumber(v); ok {
			return n
		}
		return nil
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
