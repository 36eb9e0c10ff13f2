package application

import (
	"sync"
	"time"
)

// ruleState is the ephemeral per-(device, rule) evaluation state. It is owned
// exclusively by the engine and never persisted; only the open-alarm index is
// reconstructed from storage after a restart.
type ruleState struct {
	mu sync.Mutex

	consecutive  int
	normalStreak int
	lastAlarmAt  time.Time
	openAlarmID  string

	lastValue   float64
	lastValueAt time.Time
	hasLast     bool
}

// stateStore hands out serialized per-key state. Concurrent samples for the
// same device must not race on the same counters, so callers lock the
// returned state for the duration of one evaluation.
type stateStore struct {
	mu     sync.Mutex
	states map[string]*ruleState
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[string]*ruleState)}
}

func stateKey(deviceCode, ruleID string) string {
	return deviceCode + "|" + ruleID
}

// get returns the state for a key, creating it when absent.
func (s *stateStore) get(deviceCode, ruleID string) *ruleState {
	key := stateKey(deviceCode, ruleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key]
	if !ok {
		state = &ruleState{}
		s.states[key] = state
	}
	return state
}

// markOpen registers an open alarm id for a key without disturbing counters
// that may already be in flight. Used when rebuilding the active-alarm index.
func (s *stateStore) markOpen(deviceCode, ruleID, alarmID string, triggeredAt time.Time) {
	state := s.get(deviceCode, ruleID)
	state.mu.Lock()
	if state.openAlarmID == "" {
		state.openAlarmID = alarmID
		if state.lastAlarmAt.IsZero() {
			state.lastAlarmAt = triggeredAt
		}
	}
	state.mu.Unlock()
}

// openIDs snapshots the currently tracked open alarms keyed by state key.
func (s *stateStore) openIDs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for key, state := range s.states {
		state.mu.Lock()
		if state.openAlarmID != "" {
			out[key] = state.openAlarmID
		}
		state.mu.Unlock()
	}
	return out
}

// clearOpen drops the open-alarm registration for a key if it still points at
// the given alarm. Used when an alarm is resolved outside the evaluation path.
func (s *stateStore) clearOpen(deviceCode, ruleID, alarmID string) {
	s.mu.Lock()
	state, ok := s.states[stateKey(deviceCode, ruleID)]
	s.mu.Unlock()
	if !ok {
		return
	}
	state.mu.Lock()
	if state.openAlarmID == alarmID {
		state.openAlarmID = ""
		state.normalStreak = 0
	}
	state.mu.Unlock()
}
