package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alarms "plantwatch/internal/alarms/domain"
)

func TestCoerceFloat(t *testing.T) {
	cases := []struct {
		raw  any
		want float64
		ok   bool
	}{
		{42.5, 42.5, true},
		{float32(2), 2, true},
		{7, 7, true},
		{int64(-3), -3, true},
		{uint(9), 9, true},
		{"18.25", 18.25, true},
		{" 12 ", 12, true},
		{"running", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := coerceFloat(tc.raw)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("coerceFloat(%v) = %v, %v; want %v, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSampleTimeFormats(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)}
	at := time.Date(2026, 2, 10, 7, 30, 0, 0, time.UTC)

	cases := []struct {
		name   string
		sample Sample
		want   time.Time
	}{
		{"rfc3339 string", Sample{"ts": at.Format(time.RFC3339)}, at},
		{"epoch seconds", Sample{"ts": float64(at.Unix())}, at},
		{"epoch millis", Sample{"ts": float64(at.UnixMilli())}, at},
		{"time value", Sample{"timestamp": at}, at},
		{"alternate field", Sample{"sample_time": at.Format(time.RFC3339)}, at},
		{"missing falls back to clock", Sample{"temperature": 1.0}, clock.Now()},
		{"garbage falls back to clock", Sample{"ts": "not-a-time"}, clock.Now()},
	}
	for _, tc := range cases {
		if got := sampleTime(tc.sample, clock); !got.Equal(tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRateOfChange(t *testing.T) {
	state := &ruleState{}
	base := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	// no previous observation: undefined, but the cache advances
	if _, ok := rateOfChange(state, 10, base); ok {
		t.Fatalf("expected undefined rate without a previous sample")
	}

	// 10 -> 25 over 30s is 30/min
	rate, ok := rateOfChange(state, 25, base.Add(30*time.Second))
	if !ok || rate != 30 {
		t.Fatalf("expected rate 30/min, got %v ok=%v", rate, ok)
	}

	// under one second elapsed: undefined, cache still advances
	if _, ok := rateOfChange(state, 26, base.Add(30*time.Second+500*time.Millisecond)); ok {
		t.Fatalf("expected undefined rate under 1s elapsed")
	}
	rate, ok = rateOfChange(state, 27, base.Add(90*time.Second+500*time.Millisecond))
	if !ok || rate != 1 {
		t.Fatalf("expected rate computed from advanced cache, got %v ok=%v", rate, ok)
	}
}

func TestRateOfChangeOutOfOrderSample(t *testing.T) {
	state := &ruleState{}
	base := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	rateOfChange(state, 10, base)
	if _, ok := rateOfChange(state, 20, base.Add(-time.Minute)); ok {
		t.Fatalf("expected undefined rate for an out-of-order timestamp")
	}
}

type stubAggregates struct {
	mu    sync.Mutex
	value float64
	found bool
	err   error

	gotWindow   time.Duration
	gotFunction string
}

func (s *stubAggregates) Aggregate(_ context.Context, _, _ string, window time.Duration, function string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotWindow = window
	s.gotFunction = function
	return s.value, s.found, s.err
}

func statisticsRule(max float64, window, function string) alarms.AlarmRule {
	rule := upperRule("rule-stat", max)
	rule.Threshold.Statistics = &alarms.StatisticsConfig{Enabled: true, Window: window, Function: function}
	return rule
}

func TestStatisticsEvaluation(t *testing.T) {
	agg := &stubAggregates{value: 95, found: true}
	fx := newFixture(t, []alarms.AlarmRule{statisticsRule(80, "5m", "avg")}, nil, WithHistory(agg))

	triggered, err := fx.engine.Evaluate(context.Background(), "dev-1", "", "sensor", Sample{"temperature": 10.0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 1 || triggered[0].Alarm.TriggerValue != 95 {
		t.Fatalf("expected alarm on aggregate value, got %+v", triggered)
	}
	if agg.gotWindow != 5*time.Minute || agg.gotFunction != "avg" {
		t.Fatalf("unexpected aggregate query: window=%v function=%s", agg.gotWindow, agg.gotFunction)
	}
}

func TestStatisticsQueryFailureSkips(t *testing.T) {
	agg := &stubAggregates{err: errors.New("query timeout")}
	fx := newFixture(t, []alarms.AlarmRule{statisticsRule(80, "2h", "max")}, nil, WithHistory(agg))

	triggered, err := fx.engine.Evaluate(context.Background(), "dev-1", "", "sensor", Sample{"temperature": 500.0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("aggregate failure must skip the rule, got %+v", triggered)
	}
}

func TestStatisticsNoDataSkips(t *testing.T) {
	agg := &stubAggregates{found: false}
	fx := newFixture(t, []alarms.AlarmRule{statisticsRule(80, "5m", "")}, nil, WithHistory(agg))

	triggered, err := fx.engine.Evaluate(context.Background(), "dev-1", "", "sensor", Sample{"temperature": 500.0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("missing aggregate data must skip the rule, got %+v", triggered)
	}
	if agg.gotFunction != "avg" {
		t.Fatalf("expected avg default function, got %q", agg.gotFunction)
	}
}

func TestStatisticsBadWindowSkips(t *testing.T) {
	agg := &stubAggregates{value: 95, found: true}
	fx := newFixture(t, []alarms.AlarmRule{statisticsRule(80, "sideways", "avg")}, nil, WithHistory(agg))

	triggered, err := fx.engine.Evaluate(context.Background(), "dev-1", "", "sensor", Sample{"temperature": 500.0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("unparseable window must skip the rule, got %+v", triggered)
	}
}

func TestMissingFieldSkips(t *testing.T) {
	fx := newFixture(t, []alarms.AlarmRule{upperRule("rule-1", 80)}, nil)

	triggered, err := fx.engine.Evaluate(context.Background(), "dev-1", "", "sensor", Sample{"pressure": 500.0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 0 {
		t.Fatalf("missing field must skip, got %+v", triggered)
	}
}

func TestChangeRateEndToEnd(t *testing.T) {
	rule := upperRule("rule-roc", 0)
	rule.Threshold = alarms.ThresholdConfig{
		Kind:    alarms.ThresholdChangeRate,
		Warning: &alarms.Bounds{Max: float(20)},
	}
	fx := newFixture(t, []alarms.AlarmRule{rule}, nil)
	ctx := context.Background()
	base := fx.clock.Now()

	// first sample only primes the cache
	triggered, err := fx.engine.Evaluate(ctx, "dev-1", "", "sensor", Sample{"temperature": 10.0, "ts": base})
	if err != nil || len(triggered) != 0 {
		t.Fatalf("expected primed cache with no alarm, got %v / %v", triggered, err)
	}

	// 10 -> 25 over 30s is 30/min, above the 20/min limit
	triggered, err = fx.engine.Evaluate(ctx, "dev-1", "", "sensor", Sample{"temperature": 25.0, "ts": base.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(triggered) != 1 || triggered[0].Alarm.TriggerValue != 30 {
		t.Fatalf("expected change-rate alarm at 30/min, got %+v", triggered)
	}
}
