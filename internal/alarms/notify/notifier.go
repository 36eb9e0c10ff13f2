package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
)

// Clock provides time for rate limiting.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alarm lifecycle events and delivers them over a channel.
// Its cooldown and dedupe windows rate-limit outbound messages only; alarm
// creation itself is rate-limited by the engine's silence gate.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	logger       *log.Logger
	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger assigns a logger for delivery failures.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// alarm and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs an alarm notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements application.AlarmNotifier. Delivery failures are logged
// and swallowed.
func (n *Notifier) Notify(ctx context.Context, event alarmapp.AlarmEvent) {
	if n == nil || n.channel == nil {
		return
	}
	content, err := n.template.Render(buildTemplateData(event.Type, event.Alarm))
	if err != nil {
		n.logf("alarm notifier: render failed: %v", err)
		return
	}
	if !n.shouldSend(event.Alarm.ID, event.Type, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logf("alarm notifier: send failed for alarm %s: %v", event.Alarm.ID, err)
		return
	}
	n.markSent(event.Alarm.ID, event.Type, content)
}

func (n *Notifier) logf(format string, args ...any) {
	if n != nil && n.logger != nil {
		n.logger.Printf(format, args...)
	}
}

func buildTemplateData(eventType string, alarm alarms.Alarm) TemplateData {
	deviceName := alarm.DeviceName
	if deviceName == "" {
		deviceName = alarm.DeviceCode
	}
	ruleName := alarm.RuleName
	if ruleName == "" {
		ruleName = alarm.RuleID
	}
	triggeredAt := alarm.TriggeredAt
	if triggeredAt.IsZero() {
		triggeredAt = alarm.CreatedAt
	}
	return TemplateData{
		Device:       deviceName,
		DeviceCode:   alarm.DeviceCode,
		Field:        alarm.FieldCode,
		Rule:         ruleName,
		RuleID:       alarm.RuleID,
		Level:        string(alarm.Level),
		TriggerValue: fmt.Sprintf("%.2f", alarm.TriggerValue),
		TriggeredAt:  triggeredAt.UTC().Format(time.RFC3339),
		Status:       alarm.Status,
		Message:      alarm.Message,
		Event:        eventType,
		EventLabel:   eventLabel(eventType),
	}
}

func eventLabel(event string) string {
	switch event {
	case alarmapp.EventCreated:
		return "Triggered"
	case alarmapp.EventMerged:
		return "Re-triggered"
	case alarmapp.EventRecovered:
		return "Recovered"
	case alarmapp.EventResolved:
		return "Resolved"
	case alarmapp.EventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func (n *Notifier) shouldSend(alarmID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alarmID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alarmID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(alarmID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alarmID, eventType string) string {
	return alarmID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
