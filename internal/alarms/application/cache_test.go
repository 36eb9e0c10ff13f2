package application

import (
	"context"
	"testing"
	"time"

	alarms "plantwatch/internal/alarms/domain"
)

func TestRuleCacheTTL(t *testing.T) {
	fx := newFixture(t, []alarms.AlarmRule{upperRule("rule-1", 80)}, nil, WithCacheTTL(5*time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := fx.engine.Evaluate(ctx, "dev-1", "", "sensor", Sample{"temperature": 10.0}); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	if got := fx.rules.Calls(); got != 1 {
		t.Fatalf("expected a single rule load within the TTL, got %d", got)
	}

	fx.clock.Add(6 * time.Minute)
	if _, err := fx.engine.Evaluate(ctx, "dev-1", "", "sensor", Sample{"temperature": 10.0}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := fx.rules.Calls(); got != 2 {
		t.Fatalf("expected a reload after the TTL elapsed, got %d loads", got)
	}
}

func TestRefreshForcesReload(t *testing.T) {
	fx := newFixture(t, []alarms.AlarmRule{upperRule("rule-1", 80)}, nil)
	ctx := context.Background()

	if _, err := fx.engine.Evaluate(ctx, "dev-1", "", "sensor", Sample{"temperature": 10.0}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if err := fx.engine.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := fx.rules.Calls(); got != 2 {
		t.Fatalf("expected forced reload, got %d loads", got)
	}
}

func TestRefreshPicksUpNewRules(t *testing.T) {
	ruleSource := &stubRuleSource{}
	fields := &stubFieldSource{fields: []alarms.DeviceField{{DeviceTypeCode: "sensor", FieldCode: "temperature", AlarmEnabled: true}}}
	clock := &fakeClock{now: time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)}
	store := newMemAlarmStore()
	engine, err := NewEngine(ruleSource, fields, &stubMaintenanceSource{}, store, WithClock(clock))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	triggered, err := engine.Evaluate(ctx, "dev-1", "", "sensor", Sample{"temperature": 500.0})
	if err != nil || len(triggered) != 0 {
		t.Fatalf("expected no rules yet, got %v / %v", triggered, err)
	}

	ruleSource.mu.Lock()
	ruleSource.rules = []alarms.AlarmRule{upperRule("rule-1", 80)}
	ruleSource.mu.Unlock()

	// the stale cache still applies until refreshed
	triggered, err = engine.Evaluate(ctx, "dev-1", "", "sensor", Sample{"temperature": 500.0})
	if err != nil || len(triggered) != 0 {
		t.Fatalf("expected stale cache to hide new rule, got %v / %v", triggered, err)
	}

	if err := engine.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	triggered, err = engine.Evaluate(ctx, "dev-1", "", "sensor", Sample{"temperature": 500.0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 1 {
		t.Fatalf("expected new rule after refresh, got %+v", triggered)
	}
}

func TestIneligibleFieldDropped(t *testing.T) {
	rule := upperRule("rule-1", 80)
	clock := &fakeClock{now: time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)}
	// the field catalog does not flag temperature as alarm-enabled
	fields := &stubFieldSource{fields: []alarms.DeviceField{{DeviceTypeCode: "sensor", FieldCode: "temperature", AlarmEnabled: false}}}
	store := newMemAlarmStore()
	engine, err := NewEngine(&stubRuleSource{rules: []alarms.AlarmRule{rule}}, fields, &stubMaintenanceSource{}, store, WithClock(clock))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	triggered, err := engine.Evaluate(context.Background(), "dev-1", "", "sensor", Sample{"temperature": 500.0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("rule on an ineligible field must be dropped, got %+v", triggered)
	}
}

func TestDisabledRuleDropped(t *testing.T) {
	rule := upperRule("rule-1", 80)
	rule.Enabled = false
	fx := newFixture(t, []alarms.AlarmRule{rule}, nil)

	triggered, err := fx.engine.Evaluate(context.Background(), "dev-1", "", "sensor", Sample{"temperature": 500.0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("disabled rule must not evaluate, got %+v", triggered)
	}
}

func TestMaintenanceIndexRefreshes(t *testing.T) {
	maintenance := &stubMaintenanceSource{devices: []string{"dev-1"}}
	clock := &fakeClock{now: time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)}
	rule := upperRule("rule-1", 80)
	fields := &stubFieldSource{fields: []alarms.DeviceField{{DeviceTypeCode: "sensor", FieldCode: "temperature", AlarmEnabled: true}}}
	store := newMemAlarmStore()
	engine, err := NewEngine(&stubRuleSource{rules: []alarms.AlarmRule{rule}}, fields, maintenance, store, WithClock(clock))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	triggered, err := engine.Evaluate(ctx, "dev-1", "", "sensor", Sample{"temperature": 500.0})
	if err != nil || len(triggered) != 0 {
		t.Fatalf("expected maintenance suppression, got %v / %v", triggered, err)
	}

	maintenance.devices = nil
	if err := engine.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	triggered, err = engine.Evaluate(ctx, "dev-1", "", "sensor", Sample{"temperature": 500.0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 1 {
		t.Fatalf("expected alarm after maintenance ended, got %+v", triggered)
	}
}
