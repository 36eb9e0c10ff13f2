package application

import (
	"context"
	"time"

	alarms "plantwatch/internal/alarms/domain"
	"plantwatch/internal/observability/metrics"
)

// ruleCache is an immutable snapshot of the rule and maintenance indexes.
// Reloads build a fresh snapshot and swap the pointer, so readers never see a
// partially populated cache.
type ruleCache struct {
	loadedAt    time.Time
	byType      map[string][]alarms.AlarmRule
	byID        map[string]alarms.AlarmRule
	maintenance map[string]bool
}

// loadRules refreshes the rule cache when the TTL has elapsed, or
// unconditionally when force is set. Alongside the rules it reloads the
// maintenance index and reconstructs the open-alarm index from persisted
// active records, which restores correct in-memory state after a restart.
func (e *Engine) loadRules(ctx context.Context, force bool) error {
	e.cacheMu.RLock()
	current := e.cache
	e.cacheMu.RUnlock()
	if !force && current != nil && e.clock.Now().Sub(current.loadedAt) < e.cacheTTL {
		return nil
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	// another caller may have finished the reload while we waited
	e.cacheMu.RLock()
	current = e.cache
	e.cacheMu.RUnlock()
	if !force && current != nil && e.clock.Now().Sub(current.loadedAt) < e.cacheTTL {
		return nil
	}

	snapshot, err := e.buildCache(ctx)
	if err != nil {
		metrics.IncRuleCacheReload(false)
		return err
	}

	e.cacheMu.Lock()
	e.cache = snapshot
	e.cacheMu.Unlock()
	metrics.IncRuleCacheReload(true)

	if err := e.reloadActiveAlarms(ctx); err != nil {
		e.logger.Printf("alarm engine: active alarm index reload failed: %v", err)
	}
	return nil
}

func (e *Engine) buildCache(ctx context.Context) (*ruleCache, error) {
	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	fields, err := e.fields.ListAlarmEnabled(ctx)
	if err != nil {
		return nil, err
	}
	maintenance, err := e.maintenance.ListUnderMaintenance(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make(map[string]bool, len(fields))
	for _, field := range fields {
		if field.AlarmEnabled {
			eligible[field.DeviceTypeCode+"|"+field.FieldCode] = true
		}
	}

	snapshot := &ruleCache{
		loadedAt:    e.clock.Now(),
		byType:      make(map[string][]alarms.AlarmRule),
		byID:        make(map[string]alarms.AlarmRule, len(rules)),
		maintenance: make(map[string]bool, len(maintenance)),
	}
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !eligible[rule.DeviceTypeCode+"|"+rule.FieldCode] {
			continue
		}
		snapshot.byType[rule.DeviceTypeCode] = append(snapshot.byType[rule.DeviceTypeCode], rule)
		snapshot.byID[rule.ID] = rule
	}
	for _, deviceCode := range maintenance {
		snapshot.maintenance[deviceCode] = true
	}
	return snapshot, nil
}

// reloadActiveAlarms registers persisted open alarms in the state store so
// repeated triggers merge instead of creating duplicates after a restart.
func (e *Engine) reloadActiveAlarms(ctx context.Context) error {
	active, err := e.alarms.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, alarm := range active {
		e.states.markOpen(alarm.DeviceCode, alarm.RuleID, alarm.ID, alarm.TriggeredAt)
	}
	metrics.SetActiveAlarms(len(active))
	return nil
}

func (e *Engine) snapshot() *ruleCache {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	return e.cache
}

func (e *Engine) underMaintenance(deviceCode string) bool {
	snapshot := e.snapshot()
	return snapshot != nil && snapshot.maintenance[deviceCode]
}

func (e *Engine) ruleByID(ruleID string) (alarms.AlarmRule, bool) {
	snapshot := e.snapshot()
	if snapshot == nil {
		return alarms.AlarmRule{}, false
	}
	rule, ok := snapshot.byID[ruleID]
	return rule, ok
}

// resolveRules picks one effective rule per monitored field for a device.
// A rule bound to this exact device code always wins over a type-wide rule.
func (e *Engine) resolveRules(deviceCode, deviceTypeCode string) map[string]alarms.AlarmRule {
	snapshot := e.snapshot()
	if snapshot == nil {
		return nil
	}
	effective := make(map[string]alarms.AlarmRule)
	for _, rule := range snapshot.byType[deviceTypeCode] {
		switch {
		case rule.DeviceCode == deviceCode:
			effective[rule.FieldCode] = rule
		case rule.DeviceCode == "":
			if existing, ok := effective[rule.FieldCode]; !ok || existing.DeviceCode == "" {
				effective[rule.FieldCode] = rule
			}
		}
	}
	return effective
}
