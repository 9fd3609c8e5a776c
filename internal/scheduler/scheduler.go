// Package scheduler turns an alarm's wall-clock window into absolute trigger
// instants and keeps them registered with the exact-timer facility across
// process restarts.
package scheduler

import (
	"fmt"
	"time"

	"github.com/adilkt16/alarmise/internal/models"

	"go.uber.org/zap"
)

// Scheduler registers and cancels the start and auto-stop timers for alarm
// records. It performs no state transitions itself.
type Scheduler struct {
	timers TimerFacility
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Scheduler on top of a timer facility.
func New(timers TimerFacility, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		timers: timers,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the wall clock. Tests only.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// StartTimerID returns the logical registration key for an alarm's start timer.
func StartTimerID(alarmID string) string { return "alarm:" + alarmID + ":start" }

// AutoStopTimerID returns the logical registration key for an alarm's
// auto-stop timer.
func AutoStopTimerID(alarmID string) string { return "alarm:" + alarmID + ":autostop" }

// ComputeTriggers derives the two absolute trigger instants from the record's
// window, relative to now.
//
// The start candidate is today at startTime, bumped one day if already past.
// The end instant is derived from the start candidate's date: same date at
// endTime, advanced one further day only when the window crosses midnight
// (endTime <= startTime). The end is never independently bumped on "has the
// end already passed", since that would silently shorten or invert the window.
func (s *Scheduler) ComputeTriggers(record *models.AlarmRecord, now time.Time) (start, end time.Time, err error) {
	if err := record.Validate(); err != nil {
		return time.Time{}, time.Time{}, err
	}

	start = record.StartTime.OnDate(now)
	if !start.After(now) {
		start = start.AddDate(0, 0, 1)
	}

	end = record.EndTime.OnDate(start)
	if record.CrossesMidnight() {
		end = end.AddDate(0, 0, 1)
	}

	return start, end, nil
}

// Schedule validates the record, computes its trigger instants, and registers
// both timers. Registration is both-or-neither: if the auto-stop registration
// fails the start timer is cancelled before returning.
func (s *Scheduler) Schedule(record *models.AlarmRecord) (start, end time.Time, err error) {
	if !s.timers.CanRegisterExact() {
		return time.Time{}, time.Time{}, models.ErrPermissionDenied
	}

	start, end, err = s.ComputeTriggers(record, s.now())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if err := s.registerPair(record.AlarmID, start, end); err != nil {
		return time.Time{}, time.Time{}, err
	}

	s.logger.Info("Alarm scheduled",
		zap.String("alarm_id", record.AlarmID),
		zap.Time("start_trigger", start),
		zap.Time("autostop_trigger", end),
		zap.Int("duration_minutes", record.DurationMinutes()),
	)
	return start, end, nil
}

// CancelTimers deregisters both of an alarm's timers.
func (s *Scheduler) CancelTimers(alarmID string) error {
	if err := s.timers.Cancel(StartTimerID(alarmID)); err != nil {
		return fmt.Errorf("failed to cancel start timer: %w", err)
	}
	if err := s.timers.Cancel(AutoStopTimerID(alarmID)); err != nil {
		return fmt.Errorf("failed to cancel autostop timer: %w", err)
	}
	s.logger.Debug("Alarm timers cancelled",
		zap.String("alarm_id", alarmID),
	)
	return nil
}

// Recover re-registers timers for every persisted SCHEDULED or ACTIVE record
// after a process restart. Registration keys are logical, so a repeated
// recovery pass replaces rather than duplicates.
//
// A SCHEDULED record gets both timers recomputed from the current clock. An
// ACTIVE record already fired its start: only the auto-stop timer is
// re-registered, derived from the recorded trigger time so the window keeps
// its original length (an instant already in the past fires immediately).
func (s *Scheduler) Recover(records []*models.AlarmRecord) error {
	now := s.now()
	for _, record := range records {
		switch record.State {
		case models.StateScheduled:
			start, end, err := s.ComputeTriggers(record, now)
			if err != nil {
				s.logger.Error("Skipping recovery of invalid record",
					zap.String("alarm_id", record.AlarmID),
					zap.Error(err),
				)
				continue
			}
			if err := s.registerPair(record.AlarmID, start, end); err != nil {
				return fmt.Errorf("failed to recover alarm %s: %w", record.AlarmID, err)
			}
			s.logger.Info("Recovered scheduled alarm",
				zap.String("alarm_id", record.AlarmID),
				zap.Time("start_trigger", start),
				zap.Time("autostop_trigger", end),
			)

		case models.StateActive:
			end := s.activeAutoStopInstant(record, now)
			payload := TimerPayload{AlarmID: record.AlarmID, Kind: TimerAutoStop}
			if err := s.timers.RegisterExact(AutoStopTimerID(record.AlarmID), end, payload); err != nil {
				return fmt.Errorf("failed to recover active alarm %s: %w", record.AlarmID, err)
			}
			s.logger.Info("Recovered active alarm",
				zap.String("alarm_id", record.AlarmID),
				zap.Time("autostop_trigger", end),
			)

		default:
			s.logger.Warn("Recovery requested for non-recoverable record",
				zap.String("alarm_id", record.AlarmID),
				zap.String("state", string(record.State)),
			)
		}
	}
	return nil
}

func (s *Scheduler) registerPair(alarmID string, start, end time.Time) error {
	startID := StartTimerID(alarmID)
	if err := s.timers.RegisterExact(startID, start, TimerPayload{AlarmID: alarmID, Kind: TimerStart}); err != nil {
		return &models.SchedulingError{AlarmID: alarmID, Op: "register start", Err: err}
	}
	if err := s.timers.RegisterExact(AutoStopTimerID(alarmID), end, TimerPayload{AlarmID: alarmID, Kind: TimerAutoStop}); err != nil {
		// Both-or-neither: never leave only one of the pair registered.
		if cancelErr := s.timers.Cancel(startID); cancelErr != nil {
			s.logger.Error("Failed to roll back start timer after autostop registration failure",
				zap.String("alarm_id", alarmID),
				zap.Error(cancelErr),
			)
		}
		return &models.SchedulingError{AlarmID: alarmID, Op: "register autostop", Err: err}
	}
	return nil
}

// activeAutoStopInstant anchors the auto-stop of an already triggered alarm
// to the date it actually fired, preserving the configured duration.
func (s *Scheduler) activeAutoStopInstant(record *models.AlarmRecord, now time.Time) time.Time {
	anchor := now
	if record.LastTriggeredAt != nil {
		anchor = record.LastTriggeredAt.In(now.Location())
	}
	end := record.EndTime.OnDate(anchor)
	if record.CrossesMidnight() {
		end = end.AddDate(0, 0, 1)
	}
	return end
}
