package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across layers.
var (
	// ErrIllegalTransition indicates an attempted state change outside the
	// transition table. Always a race or duplicate delivery, never user error.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrPermissionDenied indicates the exact-timer capability is unavailable.
	ErrPermissionDenied = errors.New("exact timer permission denied")

	// ErrRecordNotFound indicates the alarm record does not exist in the store.
	ErrRecordNotFound = errors.New("alarm record not found")

	// ErrStaleRecord indicates an optimistic state commit lost a race: the
	// persisted state no longer matches the expected from-state.
	ErrStaleRecord = errors.New("alarm record state changed concurrently")

	// ErrSessionNotFound indicates no runtime session exists for the alarm.
	ErrSessionNotFound = errors.New("alarm session not found")
)

// ValidationError reports an invalid alarm configuration. It is returned
// synchronously to the configuration flow and never silently clamped.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid alarm configuration: %s: %s", e.Field, e.Reason)
}

// SchedulingError reports a failed OS-level timer registration.
type SchedulingError struct {
	AlarmID string
	Op      string
	Err     error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("scheduling failed for alarm %s (%s): %v", e.AlarmID, e.Op, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// PlaybackError reports that every sound source and the fallback tone were
// exhausted after bounded retries. It never changes alarm state.
type PlaybackError struct {
	AlarmID string
	Retries int
	Err     error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback failed for alarm %s after %d retries: %v", e.AlarmID, e.Retries, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }
