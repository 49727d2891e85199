package repository

import (
	"context"
	"database/sql"
	"fmt"

	"udite-analyzer/internal/models"

	"go.uber.org/zap"
)

// AlertEventsRepository 报警事件仓库（sensor_alerts 表）
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建报警事件仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

const createAlertsTable = `
	CREATE TABLE IF NOT EXISTS sensor_alerts (
		alert_id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		sensor_id TEXT NOT NULL,
		rule TEXT NOT NULL,
		rule_kind TEXT NOT NULL,
		field TEXT NOT NULL,
		cause TEXT NOT NULL,
		statistic DOUBLE PRECISION NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		sample_size INTEGER NOT NULL,
		event_timestamp TIMESTAMPTZ NOT NULL,
		evaluated_at TIMESTAMPTZ NOT NULL
	)
`

const createAlertsIndex = `CREATE INDEX IF NOT EXISTS idx_sensor_alerts_sensor ON sensor_alerts (category, sensor_id, evaluated_at DESC)`

// EnsureTable 创建 sensor_alerts 表
func (r *AlertEventsRepository) EnsureTable(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAlertsTable); err != nil {
		return fmt.Errorf("failed to create sensor_alerts table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createAlertsIndex); err != nil {
		return fmt.Errorf("failed to create sensor_alerts index: %w", err)
	}
	return nil
}

// Insert 写入一条报警事件
func (r *AlertEventsRepository) Insert(ctx context.Context, alert *models.AlertEvent) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	query := `
		INSERT INTO sensor_alerts (
			alert_id,
			category,
			sensor_id,
			rule,
			rule_kind,
			field,
			cause,
			statistic,
			threshold,
			sample_size,
			event_timestamp,
			evaluated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		alert.AlertID,
		alert.Category,
		alert.SensorID,
		alert.Rule,
		string(alert.RuleKind),
		alert.Field,
		alert.Cause,
		alert.Statistic,
		alert.Threshold,
		alert.SampleSize,
		alert.EventTimestamp,
		alert.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}
	return nil
}

// ListBySensor 按评估时间倒序查询某个传感器最近的报警
func (r *AlertEventsRepository) ListBySensor(ctx context.Context, category, sensorID string, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT
			alert_id,
			category,
			sensor_id,
			rule,
			rule_kind,
			field,
			cause,
			statistic,
			threshold,
			sample_size,
			event_timestamp,
			evaluated_at
		FROM sensor_alerts
		WHERE category = $1 AND sensor_id = $2
		ORDER BY evaluated_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, category, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert events: %w", err)
	}
	defer rows.Close()

	var alerts []models.AlertEvent
	for rows.Next() {
		var (
			a        models.AlertEvent
			ruleKind string
		)
		if err := rows.Scan(
			&a.AlertID,
			&a.Category,
			&a.SensorID,
			&a.Rule,
			&ruleKind,
			&a.Field,
			&a.Cause,
			&a.Statistic,
			&a.Threshold,
			&a.SampleSize,
			&a.EventTimestamp,
			&a.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		a.RuleKind = models.RuleKind(ruleKind)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}
	return alerts, nil
}
