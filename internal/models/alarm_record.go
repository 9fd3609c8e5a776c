package models

import (
	"time"
)

// TransitionRecord is one immutable entry in an alarm's transition log.
// The log is append-only and is the only audit trail for the record.
type TransitionRecord struct {
	From      AlarmState `json:"from"`
	To        AlarmState `json:"to"`
	Timestamp time.Time  `json:"timestamp"`
	Reason    string     `json:"reason"`
}

// AlarmRecord is the persisted alarm entity (alarm_records table).
// Start and end are times of day only; the window may cross midnight.
// State is mutated exclusively through WithTransition.
type AlarmRecord struct {
	AlarmID          string             `json:"alarm_id" db:"alarm_id"`
	Label            string             `json:"label" db:"label"`
	StartTime        TimeOfDay          `json:"start_time" db:"start_time"`
	EndTime          TimeOfDay          `json:"end_time" db:"end_time"`
	PuzzleDifficulty Difficulty         `json:"puzzle_difficulty" db:"puzzle_difficulty"`
	IsEnabled        bool               `json:"is_enabled" db:"is_enabled"`
	State            AlarmState         `json:"state" db:"state"`
	Transitions      []TransitionRecord `json:"transitions" db:"transitions"` // JSONB

	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
	DismissedAt     *time.Time `json:"dismissed_at,omitempty" db:"dismissed_at"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty" db:"expired_at"`
}

// NewAlarmRecord builds a fresh record in state CREATED.
func NewAlarmRecord(alarmID, label string, start, end TimeOfDay, difficulty Difficulty) *AlarmRecord {
	return &AlarmRecord{
		AlarmID:          alarmID,
		Label:            label,
		StartTime:        start,
		EndTime:          end,
		PuzzleDifficulty: difficulty,
		IsEnabled:        true,
		State:            StateCreated,
		CreatedAt:        time.Now(),
	}
}

// Validate rejects records whose window cannot be scheduled. Rejected records
// must never reach the scheduler.
func (r *AlarmRecord) Validate() error {
	if r.AlarmID == "" {
		return &ValidationError{Field: "alarm_id", Reason: "is required"}
	}
	if !r.PuzzleDifficulty.IsValid() {
		return &ValidationError{Field: "puzzle_difficulty", Reason: "unknown difficulty"}
	}
	if d := r.DurationMinutes(); d < 1 {
		return &ValidationError{Field: "end_time", Reason: "alarm duration must be at least one minute"}
	}
	return nil
}

// DurationMinutes returns the window length in minutes, accounting for
// cross-midnight windows. Zero means start == end, which is invalid.
func (r *AlarmRecord) DurationMinutes() int {
	return MinutesBetween(r.StartTime, r.EndTime)
}

// CrossesMidnight reports whether the window spans a calendar-day boundary.
func (r *AlarmRecord) CrossesMidnight() bool {
	return r.EndTime <= r.StartTime
}

// WithTransition returns a copy of the record moved to newState, with the
// transition appended to the log and the derived timestamp set. It is the
// sole legal state mutator. Transitions outside the table are rejected with
// ErrIllegalTransition and the record is left untouched.
func (r *AlarmRecord) WithTransition(newState AlarmState, reason string, at time.Time) (*AlarmRecord, error) {
	if !r.State.CanTransitionTo(newState) {
		return nil, ErrIllegalTransition
	}

	next := *r
	next.Transitions = make([]TransitionRecord, len(r.Transitions), len(r.Transitions)+1)
	copy(next.Transitions, r.Transitions)
	next.Transitions = append(next.Transitions, TransitionRecord{
		From:      r.State,
		To:        newState,
		Timestamp: at,
		Reason:    reason,
	})
	next.State = newState

	ts := at
	switch newState {
	case StateScheduled:
		next.ScheduledAt = &ts
	case StateActive:
		next.LastTriggeredAt = &ts
	case StateDismissed:
		next.DismissedAt = &ts
	case StateExpired:
		next.ExpiredAt = &ts
	}

	return &next, nil
}
