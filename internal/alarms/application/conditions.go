package application

import (
	"strconv"
	"strings"
	"time"

	alarms "plantwatch/internal/alarms/domain"
)

var sampleStatusFields = []string{"status", "run_status", "operating_status", "op_status"}

// isEffective decides whether a rule applies to the device right now.
// Maintenance suppression is unconditional; the advanced condition block
// further restricts by operating status, weekends and time windows. Absent
// configuration imposes no restriction.
func (e *Engine) isEffective(rule alarms.AlarmRule, deviceCode string, sample Sample, now time.Time) bool {
	if e.underMaintenance(deviceCode) {
		return false
	}
	cond := rule.Condition
	if cond == nil {
		return true
	}
	if len(cond.StatusWhitelist) > 0 {
		status, ok := sampleStatus(sample)
		if !ok || !cond.AllowsStatus(status) {
			return false
		}
	}
	if cond.ExcludeWeekends {
		switch now.Local().Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	if len(cond.TimeWindows) > 0 && !withinAnyWindow(cond.TimeWindows, now.Local()) {
		return false
	}
	return true
}

// sampleStatus finds an operating-status-like field in the sample.
func sampleStatus(sample Sample) (string, bool) {
	for _, field := range sampleStatusFields {
		raw, ok := sample[field]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			return v, true
		case int:
			return strconv.Itoa(v), true
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		}
	}
	return "", false
}

func withinAnyWindow(windows []alarms.TimeWindow, now time.Time) bool {
	minute := now.Hour()*60 + now.Minute()
	for _, window := range windows {
		start, okStart := parseClock(window.Start)
		end, okEnd := parseClock(window.End)
		if !okStart || !okEnd {
			continue
		}
		if start <= end {
			if minute >= start && minute <= end {
				return true
			}
			continue
		}
		// window crosses midnight
		if minute >= start || minute <= end {
			return true
		}
	}
	return false
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(value string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
