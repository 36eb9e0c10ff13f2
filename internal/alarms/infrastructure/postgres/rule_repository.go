package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	alarms "plantwatch/internal/alarms/domain"
)

// AlarmRuleRepository is a Postgres repository for alarm rules. The engine
// treats rules as read-only; authoring happens elsewhere.
type AlarmRuleRepository struct {
	db *sql.DB
}

// NewAlarmRuleRepository constructs a repository.
func NewAlarmRuleRepository(db *sql.DB) *AlarmRuleRepository {
	return &AlarmRuleRepository{db: db}
}

// ListEnabled returns all enabled alarm rules.
func (r *AlarmRuleRepository) ListEnabled(ctx context.Context) ([]alarms.AlarmRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm rule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, device_type_code, device_code, field_code,
	threshold_config, trigger_config, notify_config, condition_config,
	enabled, created_at, updated_at
FROM alarm_rules
WHERE enabled = TRUE
ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.AlarmRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetByID loads a rule by id.
func (r *AlarmRuleRepository) GetByID(ctx context.Context, ruleID string) (*alarms.AlarmRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm rule repo: nil db")
	}
	if ruleID == "" {
		return nil, errors.New("alarm rule repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, device_type_code, device_code, field_code,
	threshold_config, trigger_config, notify_config, condition_config,
	enabled, created_at, updated_at
FROM alarm_rules
WHERE id = $1
LIMIT 1`, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*alarms.AlarmRule, error) {
	var rule alarms.AlarmRule
	var deviceCode sql.NullString
	var thresholdJSON, triggerJSON, notifyJSON []byte
	var conditionJSON []byte
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.DeviceTypeCode,
		&deviceCode,
		&rule.FieldCode,
		&thresholdJSON,
		&triggerJSON,
		&notifyJSON,
		&conditionJSON,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if deviceCode.Valid {
		rule.DeviceCode = deviceCode.String
	}
	if len(thresholdJSON) > 0 {
		if err := json.Unmarshal(thresholdJSON, &rule.Threshold); err != nil {
			return nil, err
		}
	}
	if len(triggerJSON) > 0 {
		if err := json.Unmarshal(triggerJSON, &rule.Trigger); err != nil {
			return nil, err
		}
	}
	if len(notifyJSON) > 0 {
		if err := json.Unmarshal(notifyJSON, &rule.Notify); err != nil {
			return nil, err
		}
	}
	if len(conditionJSON) > 0 {
		var condition alarms.ConditionConfig
		if err := json.Unmarshal(conditionJSON, &condition); err != nil {
			return nil, err
		}
		rule.Condition = &condition
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

// DeviceFieldRepository reads alarm-eligible device fields.
type DeviceFieldRepository struct {
	db *sql.DB
}

// NewDeviceFieldRepository constructs a repository.
func NewDeviceFieldRepository(db *sql.DB) *DeviceFieldRepository {
	return &DeviceFieldRepository{db: db}
}

// ListAlarmEnabled returns fields that may carry alarms.
func (r *DeviceFieldRepository) ListAlarmEnabled(ctx context.Context) ([]alarms.DeviceField, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device field repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT device_type_code, field_code, alarm_enabled
FROM device_fields
WHERE alarm_enabled = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.DeviceField
	for rows.Next() {
		var field alarms.DeviceField
		if err := rows.Scan(&field.DeviceTypeCode, &field.FieldCode, &field.AlarmEnabled); err != nil {
			return nil, err
		}
		result = append(result, field)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
