package alarms

import (
	"errors"
	"strings"
	"time"
)

// Level is an alarm severity level.
type Level string

const (
	LevelEmergency Level = "emergency"
	LevelCritical  Level = "critical"
	LevelWarning   Level = "warning"
)

// Valid returns true when the level is supported.
func (l Level) Valid() bool {
	switch l {
	case LevelEmergency, LevelCritical, LevelWarning:
		return true
	default:
		return false
	}
}

// Rank orders levels, higher is more severe.
func (l Level) Rank() int {
	switch l {
	case LevelEmergency:
		return 3
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

// ThresholdKind selects the comparison applied to the check value.
type ThresholdKind string

const (
	ThresholdRange      ThresholdKind = "range"
	ThresholdUpper      ThresholdKind = "upper"
	ThresholdLower      ThresholdKind = "lower"
	ThresholdChangeRate ThresholdKind = "change_rate"
)

// Valid returns true when the kind is supported.
func (k ThresholdKind) Valid() bool {
	switch k {
	case ThresholdRange, ThresholdUpper, ThresholdLower, ThresholdChangeRate:
		return true
	default:
		return false
	}
}

// Bounds holds optional min/max limits for one severity level.
type Bounds struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// StatisticsConfig enables windowed aggregation against the historical store.
type StatisticsConfig struct {
	Enabled  bool   `json:"enabled"`
	Window   string `json:"window"`
	Function string `json:"function"`
}

// ThresholdConfig is the leveled threshold block of a rule.
type ThresholdConfig struct {
	Kind       ThresholdKind     `json:"type"`
	Emergency  *Bounds           `json:"emergency,omitempty"`
	Critical   *Bounds           `json:"critical,omitempty"`
	Warning    *Bounds           `json:"warning,omitempty"`
	Statistics *StatisticsConfig `json:"statistics,omitempty"`
}

// StatisticsEnabled reports whether the rule checks an aggregate value.
func (c ThresholdConfig) StatisticsEnabled() bool {
	return c.Statistics != nil && c.Statistics.Enabled
}

// TriggerConfig controls debouncing, recovery and escalation.
type TriggerConfig struct {
	ConsecutiveCount  int   `json:"consecutive_count"`
	AutoRecover       *bool `json:"auto_recover,omitempty"`
	AutoRecoveryCount int   `json:"auto_recovery_count"`
	TimeoutMinutes    int   `json:"timeout_minutes"`
	TargetLevel       Level `json:"target_level,omitempty"`
}

// AutoRecoverEnabled defaults to true unless explicitly disabled.
func (c TriggerConfig) AutoRecoverEnabled() bool {
	return c.AutoRecover == nil || *c.AutoRecover
}

// EscalationEnabled reports whether timed escalation applies.
func (c TriggerConfig) EscalationEnabled() bool {
	return c.TimeoutMinutes > 0 && c.TargetLevel.Valid()
}

// NotifyConfig controls alarm creation rate limiting.
type NotifyConfig struct {
	SilentPeriodSeconds int `json:"silent_period"`
}

// TimeWindow is a 24-hour [Start, End] range in "HH:MM" form.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ConditionConfig is the optional advanced condition block of a rule.
type ConditionConfig struct {
	StatusWhitelist []string     `json:"status_whitelist,omitempty"`
	TimeWindows     []TimeWindow `json:"time_windows,omitempty"`
	ExcludeWeekends bool         `json:"exclude_weekends"`
}

// AllowsStatus matches an operating status against the whitelist,
// case-insensitively. An empty whitelist imposes no restriction.
func (c ConditionConfig) AllowsStatus(status string) bool {
	if len(c.StatusWhitelist) == 0 {
		return true
	}
	for _, allowed := range c.StatusWhitelist {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(status)) {
			return true
		}
	}
	return false
}

// AlarmRule defines one monitored field for a device type, optionally pinned
// to a specific device. A device-specific rule overrides a type-wide rule for
// the same field.
type AlarmRule struct {
	ID             string
	Name           string
	DeviceTypeCode string
	DeviceCode     string
	FieldCode      string
	Threshold      ThresholdConfig
	Trigger        TriggerConfig
	Notify         NotifyConfig
	Condition      *ConditionConfig
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks rule invariants.
func (r AlarmRule) Validate() error {
	if r.ID == "" {
		return errors.New("alarm rule: empty id")
	}
	if r.DeviceTypeCode == "" {
		return errors.New("alarm rule: empty device type code")
	}
	if r.FieldCode == "" {
		return errors.New("alarm rule: empty field code")
	}
	if !r.Threshold.Kind.Valid() {
		return errors.New("alarm rule: invalid threshold type")
	}
	return nil
}

// ConsecutiveCount returns the debounce requirement, defaulting to 1.
func (r AlarmRule) ConsecutiveCount() int {
	if r.Trigger.ConsecutiveCount > 0 {
		return r.Trigger.ConsecutiveCount
	}
	return 1
}

// RecoveryCount returns the auto-recovery streak requirement, defaulting to 3.
func (r AlarmRule) RecoveryCount() int {
	if r.Trigger.AutoRecoveryCount > 0 {
		return r.Trigger.AutoRecoveryCount
	}
	return 3
}

// SilentPeriod returns the minimum interval between alarm creations,
// defaulting to 300 seconds.
func (r AlarmRule) SilentPeriod() time.Duration {
	if r.Notify.SilentPeriodSeconds > 0 {
		return time.Duration(r.Notify.SilentPeriodSeconds) * time.Second
	}
	return 300 * time.Second
}

// DeviceField marks a device-type field as alarm-eligible.
type DeviceField struct {
	DeviceTypeCode string
	FieldCode      string
	AlarmEnabled   bool
}
