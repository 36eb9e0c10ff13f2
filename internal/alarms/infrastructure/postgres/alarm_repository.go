package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alarms "plantwatch/internal/alarms/domain"
)

// AlarmRepository is a Postgres repository for alarm records.
type AlarmRepository struct {
	db *sql.DB
}

// NewAlarmRepository constructs a repository.
func NewAlarmRepository(db *sql.DB) *AlarmRepository {
	return &AlarmRepository{db: db}
}

// Create inserts a new alarm.
func (r *AlarmRepository) Create(ctx context.Context, alarm *alarms.Alarm) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	if alarm == nil {
		return errors.New("alarm repo: nil alarm")
	}
	if alarm.ID == "" || alarm.RuleID == "" || alarm.DeviceCode == "" {
		return errors.New("alarm repo: missing fields")
	}
	if alarm.CreatedAt.IsZero() {
		alarm.CreatedAt = time.Now().UTC()
	}
	if alarm.UpdatedAt.IsZero() {
		alarm.UpdatedAt = alarm.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alarms (
	id, rule_id, rule_name, device_code, device_name, device_type_code, field_code,
	level, status, trigger_value, message, triggered_at, last_triggered_at,
	trigger_count, resolved_at, duration_seconds, resolve_note, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13,
	$14, $15, $16, $17, $18, $19
)`,
		alarm.ID,
		alarm.RuleID,
		alarm.RuleName,
		alarm.DeviceCode,
		alarm.DeviceName,
		alarm.DeviceTypeCode,
		alarm.FieldCode,
		string(alarm.Level),
		alarm.Status,
		alarm.TriggerValue,
		alarm.Message,
		alarm.TriggeredAt,
		alarm.LastTriggeredAt,
		alarm.TriggerCount,
		nullableTime(alarm.ResolvedAt),
		sql.NullInt64{Int64: alarm.DurationSeconds, Valid: alarm.DurationSeconds > 0},
		nullableString(alarm.ResolveNote),
		alarm.CreatedAt,
		alarm.UpdatedAt,
	)
	return err
}

// GetByID fetches an alarm by id.
func (r *AlarmRepository) GetByID(ctx context.Context, id string) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, rule_id, rule_name, device_code, device_name, device_type_code, field_code,
	level, status, trigger_value, message, triggered_at, last_triggered_at,
	trigger_count, resolved_at, duration_seconds, resolve_note, created_at, updated_at
FROM alarms
WHERE id = $1`, id)
	return scanAlarm(row)
}

// Merge folds a repeated trigger into an open alarm.
func (r *AlarmRepository) Merge(ctx context.Context, id string, lastTriggeredAt time.Time, value float64) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alarms
SET last_triggered_at = $1, trigger_value = $2, trigger_count = trigger_count + 1, updated_at = $1
WHERE id = $3`, lastTriggeredAt, value, id)
	return err
}

// Resolve closes an alarm.
func (r *AlarmRepository) Resolve(ctx context.Context, id string, resolvedAt time.Time, durationSeconds int64, note string) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alarms
SET status = $1, resolved_at = $2, duration_seconds = $3, resolve_note = $4, updated_at = $2
WHERE id = $5`, alarms.StatusResolved, resolvedAt, durationSeconds, note, id)
	return err
}

// UpdateLevel raises an alarm's level in place without a status change.
func (r *AlarmRepository) UpdateLevel(ctx context.Context, id string, level alarms.Level, message string, updatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alarm repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alarms
SET level = $1, message = $2, updated_at = $3
WHERE id = $4`, string(level), message, updatedAt, id)
	return err
}

// ListActive returns all alarms with status=active.
func (r *AlarmRepository) ListActive(ctx context.Context) ([]alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, rule_id, rule_name, device_code, device_name, device_type_code, field_code,
	level, status, trigger_value, message, triggered_at, last_triggered_at,
	trigger_count, resolved_at, duration_seconds, resolve_note, created_at, updated_at
FROM alarms
WHERE status = $1
ORDER BY triggered_at ASC`, alarms.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlarms(rows)
}

// ListByDeviceStatusAndTime lists alarms for a device within a time window.
func (r *AlarmRepository) ListByDeviceStatusAndTime(ctx context.Context, deviceCode, status string, from, to time.Time) ([]alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	if deviceCode == "" {
		return nil, errors.New("alarm repo: invalid query")
	}
	query := `
SELECT id, rule_id, rule_name, device_code, device_name, device_type_code, field_code,
	level, status, trigger_value, message, triggered_at, last_triggered_at,
	trigger_count, resolved_at, duration_seconds, resolve_note, created_at, updated_at
FROM alarms
WHERE device_code = $1 AND triggered_at >= $2 AND triggered_at < $3`
	args := []any{deviceCode, from, to}
	if status != "" {
		query += " AND status = $4"
		args = append(args, status)
	}
	query += " ORDER BY triggered_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlarms(rows)
}

func collectAlarms(rows *sql.Rows) ([]alarms.Alarm, error) {
	var result []alarms.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alarmScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(row alarmScanner) (*alarms.Alarm, error) {
	var alarm alarms.Alarm
	var level string
	var ruleName, deviceName, message, resolveNote sql.NullString
	var resolvedAt sql.NullTime
	var duration sql.NullInt64
	if err := row.Scan(
		&alarm.ID,
		&alarm.RuleID,
		&ruleName,
		&alarm.DeviceCode,
		&deviceName,
		&alarm.DeviceTypeCode,
		&alarm.FieldCode,
		&level,
		&alarm.Status,
		&alarm.TriggerValue,
		&message,
		&alarm.TriggeredAt,
		&alarm.LastTriggeredAt,
		&alarm.TriggerCount,
		&resolvedAt,
		&duration,
		&resolveNote,
		&alarm.CreatedAt,
		&alarm.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alarm.Level = alarms.Level(level)
	alarm.RuleName = ruleName.String
	alarm.DeviceName = deviceName.String
	alarm.Message = message.String
	alarm.ResolveNote = resolveNote.String
	alarm.TriggeredAt = alarm.TriggeredAt.UTC()
	alarm.LastTriggeredAt = alarm.LastTriggeredAt.UTC()
	alarm.CreatedAt = alarm.CreatedAt.UTC()
	alarm.UpdatedAt = alarm.UpdatedAt.UTC()
	if resolvedAt.Valid {
		alarm.ResolvedAt = resolvedAt.Time.UTC()
	}
	if duration.Valid {
		alarm.DurationSeconds = duration.Int64
	}
	return &alarm, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
