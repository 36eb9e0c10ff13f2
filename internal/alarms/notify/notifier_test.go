package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
)

func testAlarm() alarms.Alarm {
	return alarms.Alarm{
		ID:              "alarm-1",
		RuleID:          "rule-1",
		RuleName:        "Temperature High",
		DeviceCode:      "dev-1",
		DeviceName:      "Boiler A",
		DeviceTypeCode:  "sensor",
		FieldCode:       "temperature",
		Level:           alarms.LevelWarning,
		Status:          alarms.StatusActive,
		TriggerValue:    123.45,
		Message:         "value 123.45 above limit 80.00",
		TriggeredAt:     time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC),
		LastTriggeredAt: time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC),
		TriggerCount:    1,
		CreatedAt:       time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	notifier, err := NewNotifier(channel, tpl)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventCreated, Alarm: testAlarm()})

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		content := payload.Text.Content
		checks := []string{
			"[Alarm Triggered]",
			"Device: Boiler A",
			"Field: temperature",
			"Rule: Temperature High",
			"Level: warning",
			"Trigger Value: 123.45",
			"Triggered At: 2026-02-10T08:00:00Z",
			"Current Status: active",
			"Detail: value 123.45 above limit 80.00",
		}
		for _, expected := range checks {
			if !strings.Contains(content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookChannelRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithCooldown(10*time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	alarm := testAlarm()

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventCreated, Alarm: alarm})
	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventCreated, Alarm: alarm})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during cooldown, got %d", got)
	}

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventCreated, Alarm: alarm})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected 2 notifications after cooldown, got %d", got)
	}
}

func TestNotifierCooldownPerEventType(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithCooldown(10*time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	alarm := testAlarm()

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventCreated, Alarm: alarm})
	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventRecovered, Alarm: alarm})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected distinct event types to bypass cooldown, got %d", got)
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithDedupeWindow(30*time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	alarm := testAlarm()

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventCreated, Alarm: alarm})
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventCreated, Alarm: alarm})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during dedupe window, got %d", got)
	}

	alarm.TriggerValue = 150
	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventCreated, Alarm: alarm})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}
}

func TestMultiNotifierFanOut(t *testing.T) {
	first := &recordingChannel{}
	second := &recordingChannel{}
	n1, err := NewNotifier(first, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	n2, err := NewNotifier(second, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	multi := NewMultiNotifier(n1, nil, n2)
	multi.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventCreated, Alarm: testAlarm()})

	if first.Count() != 1 || second.Count() != 1 {
		t.Fatalf("expected fan-out to both notifiers, got %d and %d", first.Count(), second.Count())
	}
}

func TestTemplateFallbacks(t *testing.T) {
	data := buildTemplateData(alarmapp.EventEscalated, alarms.Alarm{
		ID:         "alarm-9",
		RuleID:     "rule-9",
		DeviceCode: "dev-9",
		Level:      alarms.LevelCritical,
		Status:     alarms.StatusActive,
		CreatedAt:  time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC),
	})
	if data.Device != "dev-9" {
		t.Fatalf("expected device code fallback, got %q", data.Device)
	}
	if data.Rule != "rule-9" {
		t.Fatalf("expected rule id fallback, got %q", data.Rule)
	}
	if data.EventLabel != "Escalated" {
		t.Fatalf("expected Escalated label, got %q", data.EventLabel)
	}
	if data.TriggeredAt != "2026-02-10T08:00:00Z" {
		t.Fatalf("expected created-at fallback, got %q", data.TriggeredAt)
	}
}
