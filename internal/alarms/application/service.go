package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/observability/metrics"
)

var errDurationNotPositive = errors.New("alarm engine: window must be positive")

// RuleSource is the read-only rule repository.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]alarms.AlarmRule, error)
}

// DeviceFieldSource reports which device-type fields may carry alarms.
type DeviceFieldSource interface {
	ListAlarmEnabled(ctx context.Context) ([]alarms.DeviceField, error)
}

// MaintenanceSource lists devices whose alarms are suppressed.
type MaintenanceSource interface {
	ListUnderMaintenance(ctx context.Context) ([]string, error)
}

// AlarmStore persists alarm records.
type AlarmStore interface {
	Create(ctx context.Context, alarm *alarms.Alarm) error
	Merge(ctx context.Context, id string, lastTriggeredAt time.Time, value float64) error
	Resolve(ctx context.Context, id string, resolvedAt time.Time, durationSeconds int64, note string) error
	UpdateLevel(ctx context.Context, id string, level alarms.Level, message string, updatedAt time.Time) error
	GetByID(ctx context.Context, id string) (*alarms.Alarm, error)
	ListActive(ctx context.Context) ([]alarms.Alarm, error)
	ListByDeviceStatusAndTime(ctx context.Context, deviceCode, status string, from, to time.Time) ([]alarms.Alarm, error)
}

// AggregateReader answers bounded trailing-window statistics queries against
// the historical store.
type AggregateReader interface {
	Aggregate(ctx context.Context, deviceCode, fieldCode string, window time.Duration, function string) (float64, bool, error)
}

// AlarmNotifier publishes alarm lifecycle events. Notifier failures never
// affect the alarm lifecycle.
type AlarmNotifier interface {
	Notify(ctx context.Context, event AlarmEvent)
}

// AlarmEvent represents a lifecycle update.
type AlarmEvent struct {
	Type  string       `json:"type"`
	Alarm alarms.Alarm `json:"alarm"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// TriggeredAlarm is one outcome of an evaluation pass.
type TriggeredAlarm struct {
	Event string       `json:"event"`
	Alarm alarms.Alarm `json:"alarm"`
}

const (
	EventCreated   = "created"
	EventMerged    = "merged"
	EventRecovered = "recovered"
	EventResolved  = "resolved"
	EventEscalated = "escalated"
)

// Engine evaluates telemetry samples against alarm rules and owns the whole
// alarm lifecycle: creation, merge, auto-recovery and timed escalation. One
// engine instance is the single authoritative owner of the in-memory state.
type Engine struct {
	rules       RuleSource
	fields      DeviceFieldSource
	maintenance MaintenanceSource
	alarms      AlarmStore
	history     AggregateReader
	notifier    AlarmNotifier
	clock       Clock
	logger      *log.Logger

	cacheTTL     time.Duration
	queryTimeout time.Duration

	cacheMu  sync.RWMutex
	reloadMu sync.Mutex
	cache    *ruleCache

	states *stateStore
}

// Option customizes the engine.
type Option func(*Engine)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlarmNotifier) Option {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

// WithHistory assigns the historical aggregate reader.
func WithHistory(history AggregateReader) Option {
	return func(e *Engine) {
		e.history = history
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCacheTTL overrides the rule cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

// WithQueryTimeout bounds statistical aggregate queries.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.queryTimeout = timeout
		}
	}
}

// NewEngine constructs an alarm engine.
func NewEngine(rules RuleSource, fields DeviceFieldSource, maintenance MaintenanceSource, store AlarmStore, opts ...Option) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("alarm engine: nil rule source")
	}
	if fields == nil {
		return nil, errors.New("alarm engine: nil device field source")
	}
	if maintenance == nil {
		return nil, errors.New("alarm engine: nil maintenance source")
	}
	if store == nil {
		return nil, errors.New("alarm engine: nil alarm store")
	}
	engine := &Engine{
		rules:        rules,
		fields:       fields,
		maintenance:  maintenance,
		alarms:       store,
		clock:        systemClock{},
		logger:       log.New(os.Stdout, "", log.LstdFlags),
		cacheTTL:     5 * time.Minute,
		queryTimeout: 3 * time.Second,
		states:       newStateStore(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Evaluate runs one sample batch for a device through every effective rule.
// A failure in one rule never prevents evaluation of the others.
func (e *Engine) Evaluate(ctx context.Context, deviceCode, deviceName, deviceTypeCode string, sample Sample) ([]TriggeredAlarm, error) {
	if e == nil {
		return nil, errors.New("alarm engine: nil engine")
	}
	if deviceCode == "" || deviceTypeCode == "" {
		return nil, errors.New("alarm engine: device code and type required")
	}
	if len(sample) == 0 {
		return nil, nil
	}

	if err := e.loadRules(ctx, false); err != nil {
		if e.snapshot() == nil {
			return nil, err
		}
		e.logger.Printf("alarm engine: rule reload failed, serving stale cache: %v", err)
	}

	effective := e.resolveRules(deviceCode, deviceTypeCode)
	if len(effective) == 0 {
		return nil, nil
	}

	var triggered []TriggeredAlarm
	for _, rule := range effective {
		outcome, err := e.evaluateRule(ctx, rule, deviceCode, deviceName, sample)
		if err != nil {
			e.logger.Printf("alarm engine: rule %s on device %s: %v", rule.ID, deviceCode, err)
			continue
		}
		if outcome != nil {
			triggered = append(triggered, *outcome)
		}
	}
	return triggered, nil
}

// Refresh forces an immediate rule and maintenance cache reload.
func (e *Engine) Refresh(ctx context.Context) error {
	if e == nil {
		return errors.New("alarm engine: nil engine")
	}
	return e.loadRules(ctx, true)
}

func (e *Engine) evaluateRule(ctx context.Context, rule alarms.AlarmRule, deviceCode, deviceName string, sample Sample) (*TriggeredAlarm, error) {
	now := e.clock.Now().UTC()
	if !e.isEffective(rule, deviceCode, sample, now) {
		return nil, nil
	}

	state := e.states.get(deviceCode, rule.ID)
	state.mu.Lock()
	defer state.mu.Unlock()

	value, ok := e.checkValue(ctx, rule, deviceCode, sample, state)
	if !ok {
		metrics.IncEvaluation("skipped")
		return nil, nil
	}

	result := evaluateThreshold(rule.Threshold, value)
	if !result.Triggered {
		metrics.IncEvaluation("normal")
		state.consecutive = 0
		return nil, e.trackRecovery(ctx, rule, deviceCode, state, now)
	}

	metrics.IncEvaluation("triggered")
	state.normalStreak = 0
	state.consecutive++
	if state.consecutive < rule.ConsecutiveCount() {
		return nil, nil
	}

	if state.openAlarmID != "" {
		if err := e.alarms.Merge(ctx, state.openAlarmID, now, value); err != nil {
			return nil, fmt.Errorf("merge alarm %s: %w", state.openAlarmID, err)
		}
		metrics.IncAlarmEvent(EventMerged)
		merged, err := e.alarms.GetByID(ctx, state.openAlarmID)
		if err != nil || merged == nil {
			return &TriggeredAlarm{Event: EventMerged, Alarm: alarms.Alarm{ID: state.openAlarmID, RuleID: rule.ID, DeviceCode: deviceCode}}, nil
		}
		return &TriggeredAlarm{Event: EventMerged, Alarm: *merged}, nil
	}

	// Silence gate: rate-limits creations per (device, rule). The timestamp
	// advances as soon as the gate passes so concurrent samples cannot
	// produce a burst of records.
	if !state.lastAlarmAt.IsZero() && now.Sub(state.lastAlarmAt) < rule.SilentPeriod() {
		return nil, nil
	}
	state.lastAlarmAt = now

	alarm := &alarms.Alarm{
		ID:              buildAlarmID(rule.ID, deviceCode, now),
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		DeviceCode:      deviceCode,
		DeviceName:      deviceName,
		DeviceTypeCode:  rule.DeviceTypeCode,
		FieldCode:       rule.FieldCode,
		Level:           result.Level,
		Status:          alarms.StatusActive,
		TriggerValue:    value,
		Message:         result.Message,
		TriggeredAt:     now,
		LastTriggeredAt: now,
		TriggerCount:    1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.alarms.Create(ctx, alarm); err != nil {
		// openAlarmID stays empty so the next cycle retries the create.
		return nil, fmt.Errorf("create alarm: %w", err)
	}
	state.openAlarmID = alarm.ID
	metrics.IncAlarmEvent(EventCreated)
	e.notify(ctx, EventCreated, *alarm)
	return &TriggeredAlarm{Event: EventCreated, Alarm: *alarm}, nil
}

// trackRecovery counts consecutive non-triggering evaluations while an alarm
// is open and resolves it once the streak is long enough.
func (e *Engine) trackRecovery(ctx context.Context, rule alarms.AlarmRule, deviceCode string, state *ruleState, now time.Time) error {
	if state.openAlarmID == "" {
		return nil
	}
	state.normalStreak++
	if !rule.Trigger.AutoRecoverEnabled() || state.normalStreak < rule.RecoveryCount() {
		return nil
	}

	alarmID := state.openAlarmID
	alarm, err := e.alarms.GetByID(ctx, alarmID)
	if err != nil {
		return fmt.Errorf("load alarm %s: %w", alarmID, err)
	}
	if alarm == nil || !alarm.Open() {
		state.openAlarmID = ""
		state.normalStreak = 0
		return nil
	}

	duration := int64(now.Sub(alarm.TriggeredAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	note := fmt.Sprintf("auto-recovered after %d consecutive normal samples", state.normalStreak)
	if err := e.alarms.Resolve(ctx, alarmID, now, duration, note); err != nil {
		// keep the streak so the next normal sample retries the resolve
		state.normalStreak--
		return fmt.Errorf("resolve alarm %s: %w", alarmID, err)
	}
	state.openAlarmID = ""
	state.normalStreak = 0

	alarm.Status = alarms.StatusResolved
	alarm.ResolvedAt = now
	alarm.DurationSeconds = duration
	alarm.ResolveNote = note
	alarm.UpdatedAt = now
	metrics.IncAlarmEvent(EventRecovered)
	e.notify(ctx, EventRecovered, *alarm)
	return nil
}

// SweepTimeouts raises the level of alarms that stayed active past their
// rule's escalation timeout. It never resolves anything.
func (e *Engine) SweepTimeouts(ctx context.Context) error {
	if e == nil {
		return errors.New("alarm engine: nil engine")
	}
	if err := e.loadRules(ctx, false); err != nil && e.snapshot() == nil {
		return err
	}

	active, err := e.alarms.ListActive(ctx)
	if err != nil {
		return err
	}
	metrics.SetActiveAlarms(len(active))

	now := e.clock.Now().UTC()
	for _, alarm := range active {
		rule, ok := e.ruleByID(alarm.RuleID)
		if !ok || !rule.Trigger.EscalationEnabled() {
			continue
		}
		timeout := time.Duration(rule.Trigger.TimeoutMinutes) * time.Minute
		if now.Sub(alarm.TriggeredAt) <= timeout {
			continue
		}
		target := rule.Trigger.TargetLevel
		if alarm.Level == target {
			continue
		}
		note := fmt.Sprintf("escalated from %s after %d minutes unresolved", alarm.Level, rule.Trigger.TimeoutMinutes)
		message := alarm.Message
		if message != "" {
			message += "; "
		}
		message += note
		if err := e.alarms.UpdateLevel(ctx, alarm.ID, target, message, now); err != nil {
			e.logger.Printf("alarm engine: escalate alarm %s: %v", alarm.ID, err)
			continue
		}
		alarm.Level = target
		alarm.Message = message
		alarm.UpdatedAt = now
		metrics.IncAlarmEvent(EventEscalated)
		e.notify(ctx, EventEscalated, alarm)
	}
	return nil
}

// ResolveAlarm closes an alarm manually.
func (e *Engine) ResolveAlarm(ctx context.Context, id, note string) (*alarms.Alarm, error) {
	if e == nil {
		return nil, errors.New("alarm engine: nil engine")
	}
	if id == "" {
		return nil, errors.New("alarm engine: alarm id required")
	}
	alarm, err := e.alarms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, alarms.ErrNotFound
	}
	if alarm.Status == alarms.StatusResolved {
		return alarm, nil
	}
	now := e.clock.Now().UTC()
	duration := int64(now.Sub(alarm.TriggeredAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	if note == "" {
		note = "resolved manually"
	}
	if err := e.alarms.Resolve(ctx, id, now, duration, note); err != nil {
		return nil, err
	}
	e.states.clearOpen(alarm.DeviceCode, alarm.RuleID, alarm.ID)

	alarm.Status = alarms.StatusResolved
	alarm.ResolvedAt = now
	alarm.DurationSeconds = duration
	alarm.ResolveNote = note
	alarm.UpdatedAt = now
	metrics.IncAlarmEvent(EventResolved)
	e.notify(ctx, EventResolved, *alarm)
	return alarm, nil
}

// ListAlarms returns alarms for a device filtered by status and time range.
func (e *Engine) ListAlarms(ctx context.Context, deviceCode, status string, from, to time.Time) ([]alarms.Alarm, error) {
	if e == nil {
		return nil, errors.New("alarm engine: nil engine")
	}
	if deviceCode == "" {
		return nil, errors.New("alarm engine: device code required")
	}
	return e.alarms.ListByDeviceStatusAndTime(ctx, deviceCode, status, from.UTC(), to.UTC())
}

func (e *Engine) notify(ctx context.Context, eventType string, alarm alarms.Alarm) {
	if e == nil || e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, AlarmEvent{Type: eventType, Alarm: alarm})
}

func buildAlarmID(ruleID, deviceCode string, triggeredAt time.Time) string {
	sum := sha1.Sum([]byte(ruleID + "|" + deviceCode + "|" + triggeredAt.Format(time.RFC3339Nano)))
	return "alarm-" + hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
