package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skanray-cns/internal/models"
)

// AlarmEventRecord 报警事件审计记录（对应 alarm_events 表）
type AlarmEventRecord struct {
	EventID    string    `db:"event_id"`
	EventType  string    `db:"event_type"`
	BedID      string    `db:"bed_id"`
	AlarmID    string    `db:"alarm_id"`
	Channel    string    `db:"channel"`
	Severity   string    `db:"severity"`
	AlarmState string    `db:"alarm_state"`
	Payload    string    `db:"payload"` // JSONB：事件时刻的完整报警快照
	OccurredAt time.Time `db:"occurred_at"`
	CreatedAt  time.Time `db:"created_at"`
}

// AlarmEventsRepository 报警事件审计存储（PostgreSQL）
// 引擎的内存状态是权威，这里只是事后审计：写失败不回滚内存状态
type AlarmEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmEventsRepository 创建报警事件Repository
func NewAlarmEventsRepository(db *sql.DB, logger *zap.Logger) *AlarmEventsRepository {
	return &AlarmEventsRepository{db: db, logger: logger}
}

// CreateAlarmEvent 写入一条报警事件
func (r *AlarmEventsRepository) CreateAlarmEvent(ctx context.Context, ev *models.AlarmEvent) error {
	if ev.Alarm == nil {
		return fmt.Errorf("alarm event has no alarm payload")
	}

	payload, err := json.Marshal(ev.Alarm)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm payload: %w", err)
	}

	query := `
		INSERT INTO alarm_events (
			event_id, event_type, bed_id, alarm_id, channel,
			severity, alarm_state, payload, occurred_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		newEventID(),
		string(ev.Type),
		ev.BedID,
		ev.Alarm.ID,
		ev.Alarm.Channel,
		ev.Alarm.Severity.String(),
		string(ev.Alarm.State),
		string(payload),
		ev.At,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alarm event: %w", err)
	}
	return nil
}

// ListAlarmEvents 按床位查询报警事件（时间倒序，limit 限制条数）
func (r *AlarmEventsRepository) ListAlarmEvents(ctx context.Context, bedID string, limit int) ([]AlarmEventRecord, error) {
	if bedID == "" {
		return nil, fmt.Errorf("bed_id is required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT event_id, event_type, bed_id, alarm_id, channel,
		       severity, alarm_state, payload, occurred_at, created_at
		FROM alarm_events
		WHERE bed_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, bedID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarm events: %w", err)
	}
	defer rows.Close()

	var records []AlarmEventRecord
	for rows.Next() {
		var rec AlarmEventRecord
		if err := rows.Scan(
			&rec.EventID, &rec.EventType, &rec.BedID, &rec.AlarmID, &rec.Channel,
			&rec.Severity, &rec.AlarmState, &rec.Payload, &rec.OccurredAt, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alarm event: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarm events: %w", err)
	}
	return records, nil
}

func newEventID() string {
	return uuid.New().String()
}
