package application

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/observability/metrics"
)

// Sample is one batch of field values reported by a device.
type Sample map[string]any

var sampleTimeFields = []string{"ts", "timestamp", "time", "sample_time"}

// epoch values at or above this magnitude are treated as milliseconds
const epochMillisCutoff = 1e12

// coerceFloat converts a raw sample value to float64. Non-coercible values
// make the rule skip the current cycle.
func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		parsed, err := v.Float64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// sampleTime extracts the sample's own timestamp when it reports one, falling
// back to the clock. Numeric epochs auto-detect milliseconds vs. seconds by
// magnitude.
func sampleTime(sample Sample, clock Clock) time.Time {
	for _, field := range sampleTimeFields {
		raw, ok := sample[field]
		if !ok {
			continue
		}
		if at, ok := parseSampleTime(raw); ok {
			return at
		}
	}
	return clock.Now().UTC()
}

func parseSampleTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return time.Time{}, false
		}
		if at, err := time.Parse(time.RFC3339, trimmed); err == nil {
			return at.UTC(), true
		}
		if epoch, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return epochTime(epoch), true
		}
		return time.Time{}, false
	default:
		if epoch, ok := coerceFloat(raw); ok && epoch > 0 {
			return epochTime(epoch), true
		}
		return time.Time{}, false
	}
}

func epochTime(epoch float64) time.Time {
	if epoch >= epochMillisCutoff {
		return time.UnixMilli(int64(epoch)).UTC()
	}
	return time.Unix(int64(epoch), 0).UTC()
}

// checkValue resolves the value a rule is evaluated against: a windowed
// aggregate from the historical store, a rate of change against the previous
// sample, or the raw field value. ok=false skips the rule for this cycle.
func (e *Engine) checkValue(ctx context.Context, rule alarms.AlarmRule, deviceCode string, sample Sample, state *ruleState) (float64, bool) {
	if rule.Threshold.StatisticsEnabled() {
		return e.aggregateValue(ctx, rule, deviceCode)
	}

	raw, ok := sample[rule.FieldCode]
	if !ok {
		return 0, false
	}
	value, ok := coerceFloat(raw)
	if !ok {
		return 0, false
	}

	if rule.Threshold.Kind == alarms.ThresholdChangeRate {
		return rateOfChange(state, value, sampleTime(sample, e.clock))
	}
	return value, true
}

// rateOfChange computes value/minute between consecutive samples. Without a
// previous sample, or when elapsed time is under one second (including
// out-of-order timestamps), the rate is undefined: the cache still advances
// to the new observation and the rule is skipped.
func rateOfChange(state *ruleState, value float64, at time.Time) (float64, bool) {
	prevValue := state.lastValue
	prevAt := state.lastValueAt
	hadPrev := state.hasLast

	state.lastValue = value
	state.lastValueAt = at
	state.hasLast = true

	if !hadPrev {
		return 0, false
	}
	elapsed := at.Sub(prevAt).Seconds()
	if elapsed < 1 {
		return 0, false
	}
	return (value - prevValue) * 60 / elapsed, true
}

// aggregateValue fetches a trailing-window statistic from the historical
// store. Missing device mappings, query failures and timeouts all degrade to
// skipping the rule.
func (e *Engine) aggregateValue(ctx context.Context, rule alarms.AlarmRule, deviceCode string) (float64, bool) {
	if e.history == nil || rule.Threshold.Statistics == nil {
		return 0, false
	}
	window, err := parseWindow(rule.Threshold.Statistics.Window)
	if err != nil {
		return 0, false
	}
	function := strings.ToLower(strings.TrimSpace(rule.Threshold.Statistics.Function))
	if function == "" {
		function = "avg"
	}

	queryCtx := ctx
	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	start := e.clock.Now()
	value, found, err := e.history.Aggregate(queryCtx, deviceCode, rule.FieldCode, window, function)
	metrics.ObserveStatisticQuery(time.Since(start), err == nil)
	if err != nil {
		e.logger.Printf("alarm engine: aggregate query failed: device=%s field=%s: %v", deviceCode, rule.FieldCode, err)
		return 0, false
	}
	if !found {
		return 0, false
	}
	return value, true
}

// parseWindow parses trailing-window strings like "5m" or "2h".
func parseWindow(window string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(window))
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, errDurationNotPositive
	}
	return parsed, nil
}
