package models

// AlarmState is the lifecycle state of an alarm record.
type AlarmState string

const (
	StateCreated   AlarmState = "CREATED"
	StateScheduled AlarmState = "SCHEDULED"
	StateActive    AlarmState = "ACTIVE"
	StateDismissed AlarmState = "DISMISSED"
	StateExpired   AlarmState = "EXPIRED"
	StateCancelled AlarmState = "CANCELLED"
	StateError     AlarmState = "ERROR"
)

// transitionTable holds the complete set of legal state transitions.
// DISMISSED, EXPIRED and CANCELLED are terminal: they have no entry.
var transitionTable = map[AlarmState][]AlarmState{
	StateCreated:   {StateScheduled, StateCancelled, StateError},
	StateScheduled: {StateActive, StateCancelled, StateExpired, StateError},
	StateActive:    {StateDismissed, StateExpired, StateError},
	StateError:     {StateScheduled, StateCancelled},
}

// IsValid reports whether s is a known alarm state.
func (s AlarmState) IsValid() bool {
	switch s {
	case StateCreated, StateScheduled, StateActive, StateDismissed,
		StateExpired, StateCancelled, StateError:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is permitted from s.
func (s AlarmState) IsTerminal() bool {
	switch s {
	case StateDismissed, StateExpired, StateCancelled:
		return true
	}
	return false
}

// IsOccupying reports whether s claims the single armed/playing slot.
// At most one record may be in an occupying state at any time.
func (s AlarmState) IsOccupying() bool {
	return s == StateScheduled || s == StateActive
}

// CanTransitionTo reports whether the transition s -> to is in the table.
func (s AlarmState) CanTransitionTo(to AlarmState) bool {
	for _, allowed := range transitionTable[s] {
		if allowed == to {
			return true
		}
	}
	return false
}
