package alarms

import "time"

const (
	StatusActive   = "active"
	StatusResolved = "resolved"
)

// Alarm is one persisted alarm occurrence. At most one alarm with
// StatusActive exists per (device, rule) pair at any time.
type Alarm struct {
	ID              string    `json:"id"`
	RuleID          string    `json:"rule_id"`
	RuleName        string    `json:"rule_name,omitempty"`
	DeviceCode      string    `json:"device_code"`
	DeviceName      string    `json:"device_name,omitempty"`
	DeviceTypeCode  string    `json:"device_type_code"`
	FieldCode       string    `json:"field_code"`
	Level           Level     `json:"level"`
	Status          string    `json:"status"`
	TriggerValue    float64   `json:"trigger_value"`
	Message         string    `json:"message,omitempty"`
	TriggeredAt     time.Time `json:"triggered_at"`
	LastTriggeredAt time.Time `json:"last_triggered_at"`
	TriggerCount    int       `json:"trigger_count"`
	ResolvedAt      time.Time `json:"resolved_at,omitempty"`
	DurationSeconds int64     `json:"duration_seconds,omitempty"`
	ResolveNote     string    `json:"resolve_note,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Open reports whether the alarm still counts against the one-active
// invariant.
func (a Alarm) Open() bool {
	return a.Status == StatusActive
}

// MaintenanceStatus marks a device as under maintenance; all alarms for such
// a device are suppressed.
type MaintenanceStatus struct {
	DeviceCode       string
	UnderMaintenance bool
	UpdatedAt        time.Time
}
