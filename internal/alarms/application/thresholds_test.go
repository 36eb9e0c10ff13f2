package application

import (
	"strings"
	"testing"

	alarms "plantwatch/internal/alarms/domain"
)

func TestEvaluateThresholdLevelOrder(t *testing.T) {
	cfg := alarms.ThresholdConfig{
		Kind:      alarms.ThresholdUpper,
		Emergency: &alarms.Bounds{Max: float(140)},
		Critical:  &alarms.Bounds{Max: float(100)},
		Warning:   &alarms.Bounds{Max: float(80)},
	}

	cases := []struct {
		value float64
		want  alarms.Level
	}{
		{150, alarms.LevelEmergency},
		{120, alarms.LevelCritical},
		{90, alarms.LevelWarning},
	}
	for _, tc := range cases {
		result := evaluateThreshold(cfg, tc.value)
		if !result.Triggered || result.Level != tc.want {
			t.Fatalf("value %v: expected %s, got %+v", tc.value, tc.want, result)
		}
	}

	if result := evaluateThreshold(cfg, 75); result.Triggered {
		t.Fatalf("value below all limits must not trigger, got %+v", result)
	}
}

func TestEvaluateThresholdSkipsUnconfiguredLevels(t *testing.T) {
	cfg := alarms.ThresholdConfig{
		Kind:    alarms.ThresholdUpper,
		Warning: &alarms.Bounds{Max: float(80)},
	}
	result := evaluateThreshold(cfg, 500)
	if !result.Triggered || result.Level != alarms.LevelWarning {
		t.Fatalf("expected warning when only warning is configured, got %+v", result)
	}
}

func TestEvaluateThresholdRange(t *testing.T) {
	cfg := alarms.ThresholdConfig{
		Kind:    alarms.ThresholdRange,
		Warning: &alarms.Bounds{Min: float(10), Max: float(50)},
	}
	if result := evaluateThreshold(cfg, 30); result.Triggered {
		t.Fatalf("in-range value must not trigger, got %+v", result)
	}
	if result := evaluateThreshold(cfg, 5); !result.Triggered || !strings.Contains(result.Message, "below range minimum") {
		t.Fatalf("expected below-minimum trigger, got %+v", result)
	}
	if result := evaluateThreshold(cfg, 60); !result.Triggered || !strings.Contains(result.Message, "above range maximum") {
		t.Fatalf("expected above-maximum trigger, got %+v", result)
	}
}

func TestEvaluateThresholdLower(t *testing.T) {
	cfg := alarms.ThresholdConfig{
		Kind:    alarms.ThresholdLower,
		Warning: &alarms.Bounds{Min: float(20)},
	}
	if result := evaluateThreshold(cfg, 25); result.Triggered {
		t.Fatalf("value above minimum must not trigger")
	}
	if result := evaluateThreshold(cfg, 15); !result.Triggered {
		t.Fatalf("value below minimum must trigger")
	}
}

func TestEvaluateThresholdChangeRate(t *testing.T) {
	cfg := alarms.ThresholdConfig{
		Kind:    alarms.ThresholdChangeRate,
		Warning: &alarms.Bounds{Max: float(10)},
	}
	result := evaluateThreshold(cfg, 12)
	if !result.Triggered || !strings.Contains(result.Message, "/min") {
		t.Fatalf("expected rate trigger with per-minute message, got %+v", result)
	}
}

func TestEvaluateThresholdUnknownKind(t *testing.T) {
	cfg := alarms.ThresholdConfig{
		Kind:    alarms.ThresholdKind("bogus"),
		Warning: &alarms.Bounds{Max: float(1)},
	}
	if result := evaluateThreshold(cfg, 1000); result.Triggered {
		t.Fatalf("unknown threshold kind must never trigger, got %+v", result)
	}
}
