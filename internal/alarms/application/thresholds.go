package application

import (
	"fmt"

	alarms "plantwatch/internal/alarms/domain"
)

// Evaluation is the outcome of checking one value against a leveled
// threshold configuration.
type Evaluation struct {
	Triggered bool
	Level     alarms.Level
	Message   string
}

// evaluateThreshold applies the rule's leveled thresholds to the check value.
// Levels are tried strictly in order emergency, critical, warning; the first
// configured level whose condition matches wins. An unrecognized threshold
// kind never triggers.
func evaluateThreshold(cfg alarms.ThresholdConfig, value float64) Evaluation {
	levels := []struct {
		level  alarms.Level
		bounds *alarms.Bounds
	}{
		{alarms.LevelEmergency, cfg.Emergency},
		{alarms.LevelCritical, cfg.Critical},
		{alarms.LevelWarning, cfg.Warning},
	}
	for _, candidate := range levels {
		if candidate.bounds == nil {
			continue
		}
		matched, message := matchBounds(cfg.Kind, *candidate.bounds, value)
		if matched {
			return Evaluation{Triggered: true, Level: candidate.level, Message: message}
		}
	}
	return Evaluation{}
}

func matchBounds(kind alarms.ThresholdKind, bounds alarms.Bounds, value float64) (bool, string) {
	switch kind {
	case alarms.ThresholdRange:
		if bounds.Min != nil && value < *bounds.Min {
			return true, fmt.Sprintf("value %.2f below range minimum %.2f", value, *bounds.Min)
		}
		if bounds.Max != nil && value > *bounds.Max {
			return true, fmt.Sprintf("value %.2f above range maximum %.2f", value, *bounds.Max)
		}
		return false, ""
	case alarms.ThresholdUpper:
		if bounds.Max != nil && value > *bounds.Max {
			return true, fmt.Sprintf("value %.2f above limit %.2f", value, *bounds.Max)
		}
		return false, ""
	case alarms.ThresholdLower:
		if bounds.Min != nil && value < *bounds.Min {
			return true, fmt.Sprintf("value %.2f below limit %.2f", value, *bounds.Min)
		}
		return false, ""
	case alarms.ThresholdChangeRate:
		if bounds.Max != nil && value > *bounds.Max {
			return true, fmt.Sprintf("rate %.2f/min above limit %.2f/min", value, *bounds.Max)
		}
		if bounds.Min != nil && value < *bounds.Min {
			return true, fmt.Sprintf("rate %.2f/min below limit %.2f/min", value, *bounds.Min)
		}
		return false, ""
	default:
		// Unknown kinds are fail-safe: never trigger.
		return false, ""
	}
}
