// Package coordinator drives the alarm lifecycle. It is the only component
// that performs state transitions and the only one that starts or stops
// playback.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adilkt16/alarmise/internal/models"
	"github.com/adilkt16/alarmise/internal/notifier"
	"github.com/adilkt16/alarmise/internal/puzzle"
	"github.com/adilkt16/alarmise/internal/scheduler"

	"go.uber.org/zap"
)

// PlaybackEngine is the slice of the playback contract the coordinator needs.
type PlaybackEngine interface {
	Start(ctx context.Context, alarmID string, enableFadeIn bool) error
	Stop() error
}

// SessionStore mirrors the runtime session so it survives process restarts.
// The coordinator's in-memory session stays authoritative; the mirror is only
// read back on recovery.
type SessionStore interface {
	Save(ctx context.Context, sess *models.AlarmSession) error
	Get(ctx context.Context, alarmID string) (*models.AlarmSession, error)
	Delete(ctx context.Context, alarmID string) error
}

// Coordinator reacts to timer fire events and dismiss requests, serializing
// all lifecycle mutation behind one mutex (single writer). Duplicate or
// racing deliveries are absorbed: the transition table check on the persisted
// state makes the losing event a logged no-op.
type Coordinator struct {
	store     RecordStore
	sched     *scheduler.Scheduler
	engine    PlaybackEngine
	puzzles   *puzzle.Generator
	sessions  SessionStore
	presenter notifier.Presenter
	logger    *zap.Logger

	wakeCeiling time.Duration
	fadeIn      bool
	now         func() time.Time

	mu        sync.Mutex // single writer for all lifecycle mutation
	active    *models.AlarmSession
	wakeWatch *time.Timer
}

// RecordStore is re-declared here to avoid importing the repository package
// for its interface alone; repository.RecordStore satisfies it.
type RecordStore interface {
	Get(ctx context.Context, alarmID string) (*models.AlarmRecord, error)
	Put(ctx context.Context, record *models.AlarmRecord) error
	ListByState(ctx context.Context, states ...models.AlarmState) ([]*models.AlarmRecord, error)
	CommitTransition(ctx context.Context, updated *models.AlarmRecord, from models.AlarmState) error
}

// New creates a Coordinator.
func New(
	store RecordStore,
	sched *scheduler.Scheduler,
	engine PlaybackEngine,
	puzzles *puzzle.Generator,
	sessions SessionStore,
	presenter notifier.Presenter,
	wakeCeiling time.Duration,
	logger *zap.Logger,
) *Coordinator {
	c := &Coordinator{
		store:       store,
		sched:       sched,
		engine:      engine,
		puzzles:     puzzles,
		sessions:    sessions,
		presenter:   presenter,
		logger:      logger,
		wakeCeiling: wakeCeiling,
		fadeIn:      true,
		now:         time.Now,
	}
	return c
}

// SetClock overrides the wall clock. Tests only.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// SetFadeIn toggles the fade-in ramp for newly started sessions.
func (c *Coordinator) SetFadeIn(enabled bool) { c.fadeIn = enabled }

// HandleTimerFired dispatches a fired timer payload. This is the handler
// registered with the TimerFacility.
func (c *Coordinator) HandleTimerFired(payload scheduler.TimerPayload) {
	ctx := context.Background()
	switch payload.Kind {
	case scheduler.TimerStart:
		c.HandleTriggerFired(ctx, payload.AlarmID)
	case scheduler.TimerAutoStop:
		c.HandleAutoStopFired(ctx, payload.AlarmID)
	default:
		c.logger.Error("Unknown timer payload kind",
			zap.String("alarm_id", payload.AlarmID),
			zap.String("kind", string(payload.Kind)),
		)
	}
}

// ScheduleAlarm validates and arms a freshly created record: any other
// occupying record is force-cancelled first (at most one alarm is ever
// SCHEDULED or ACTIVE), both timers are registered, and the record moves
// CREATED -> SCHEDULED. A failed registration moves it to ERROR instead.
func (c *Coordinator) ScheduleAlarm(ctx context.Context, record *models.AlarmRecord) (start, end time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := record.Validate(); err != nil {
		return time.Time{}, time.Time{}, err
	}

	if err := c.cancelOccupyingLocked(ctx, record.AlarmID); err != nil {
		return time.Time{}, time.Time{}, err
	}

	if err := c.store.Put(ctx, record); err != nil {
		return time.Time{}, time.Time{}, err
	}

	start, end, err = c.sched.Schedule(record)
	if err != nil {
		if errors.Is(err, models.ErrPermissionDenied) {
			// Never downgrade to inexact scheduling silently; the caller
			// decides what to do about the missing capability.
			return time.Time{}, time.Time{}, err
		}
		var schedErr *models.SchedulingError
		if errors.As(err, &schedErr) {
			c.transitionLocked(ctx, record, models.StateError, "timer registration failed")
		}
		return time.Time{}, time.Time{}, err
	}

	if _, ok := c.transitionLocked(ctx, record, models.StateScheduled, "timers registered"); !ok {
		// Roll the timers back rather than leave an armed pair on a record
		// that never reached SCHEDULED.
		if cancelErr := c.sched.CancelTimers(record.AlarmID); cancelErr != nil {
			c.logger.Error("Failed to roll back timers",
				zap.String("alarm_id", record.AlarmID),
				zap.Error(cancelErr),
			)
		}
		return time.Time{}, time.Time{}, models.ErrStaleRecord
	}

	return start, end, nil
}

// CancelAlarm deregisters both timers and moves the record to CANCELLED.
// Cancelling an ACTIVE alarm also tears down the live session.
func (c *Coordinator) CancelAlarm(ctx context.Context, alarmID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.store.Get(ctx, alarmID)
	if err != nil {
		return err
	}

	if err := c.sched.CancelTimers(alarmID); err != nil {
		return err
	}

	wasActive := record.State == models.StateActive
	if _, ok := c.transitionLocked(ctx, record, models.StateCancelled, "cancelled by user"); !ok {
		return nil // already terminal; nothing to tear down twice
	}
	if wasActive {
		c.teardownSessionLocked(ctx, alarmID)
	}
	c.presenter.SessionEnded(alarmID, models.StateCancelled, "cancelled")
	return nil
}

// HandleTriggerFired reacts to the start timer: SCHEDULED -> ACTIVE, start
// playback, create and publish the session. Idempotent against duplicate
// delivery.
func (c *Coordinator) HandleTriggerFired(ctx context.Context, alarmID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.store.Get(ctx, alarmID)
	if err != nil {
		c.logger.Warn("Trigger fired for unknown alarm",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
		return
	}

	if record.State != models.StateScheduled {
		// A delayed OS timer can legitimately fire late; proceed and let
		// the transition table decide.
		c.logger.Warn("Trigger fired for alarm not in SCHEDULED",
			zap.String("alarm_id", alarmID),
			zap.String("state", string(record.State)),
		)
	}

	updated, ok := c.transitionLocked(ctx, record, models.StateActive, "start timer fired")
	if !ok {
		return
	}

	c.startSessionLocked(ctx, updated, false)
}

// HandleDismissRequested verifies the submitted answer against the session's
// current puzzle. A correct answer commits ACTIVE -> DISMISSED and stops
// playback; an incorrect one discards the puzzle and publishes a fresh,
// independent one. Returns whether the alarm was dismissed.
func (c *Coordinator) HandleDismissRequested(ctx context.Context, alarmID string, answer int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.active
	if sess == nil || sess.AlarmID != alarmID {
		// Raced an auto-stop or a duplicate dismiss; nothing to do. The
		// mirror is not consulted: a live session always exists in memory.
		c.logger.Warn("Dismiss requested with no live session",
			zap.String("alarm_id", alarmID),
		)
		return false, nil
	}

	if !c.puzzles.Verify(sess.Puzzle, answer) {
		fresh, err := c.puzzles.Generate(sess.Puzzle.Difficulty)
		if err != nil {
			return false, err
		}
		sess.Puzzle = fresh
		sess.WrongAnswers++
		if err := c.sessions.Save(ctx, sess); err != nil {
			// The in-memory session is authoritative; a failed mirror write
			// must not block dismissal attempts.
			c.logger.Warn("Failed to mirror session",
				zap.String("alarm_id", alarmID),
				zap.Error(err),
			)
		}
		c.presenter.PuzzleUpdated(alarmID, fresh, sess.WrongAnswers)
		c.logger.Info("Incorrect answer, new puzzle issued",
			zap.String("alarm_id", alarmID),
			zap.Int("wrong_answers", sess.WrongAnswers),
		)
		return false, nil
	}

	record, err := c.store.Get(ctx, alarmID)
	if err != nil {
		return false, err
	}
	if _, ok := c.transitionLocked(ctx, record, models.StateDismissed, "puzzle solved"); !ok {
		// The auto-stop committed first; it already tore the session down.
		return false, nil
	}

	if err := c.sched.CancelTimers(alarmID); err != nil {
		c.logger.Error("Failed to cancel timers on dismissal",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
	}
	c.teardownSessionLocked(ctx, alarmID)
	c.presenter.SessionEnded(alarmID, models.StateDismissed, "puzzle solved")
	c.logger.Info("Alarm dismissed",
		zap.String("alarm_id", alarmID),
	)
	return true, nil
}

// HandleAutoStopFired reacts to the end-of-window timer: ACTIVE -> EXPIRED
// (or SCHEDULED -> EXPIRED if the start never fired) and stops playback.
// Idempotent against duplicate delivery and the dismissal race.
func (c *Coordinator) HandleAutoStopFired(ctx context.Context, alarmID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.store.Get(ctx, alarmID)
	if err != nil {
		c.logger.Warn("Auto-stop fired for unknown alarm",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
		return
	}

	if _, ok := c.transitionLocked(ctx, record, models.StateExpired, "auto-stop fired"); !ok {
		return
	}

	// The start timer may still be pending if the alarm never triggered.
	if err := c.sched.CancelTimers(alarmID); err != nil {
		c.logger.Error("Failed to cancel timers on expiry",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
	}
	c.teardownSessionLocked(ctx, alarmID)
	c.presenter.SessionEnded(alarmID, models.StateExpired, "end time reached")
	c.logger.Info("Alarm expired",
		zap.String("alarm_id", alarmID),
	)
}

// Recover reinstates timers and live sessions after a process restart. It is
// safe to call repeatedly: timer keys replace and an existing session is
// reused rather than regenerated.
func (c *Coordinator) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.store.ListByState(ctx, models.StateScheduled, models.StateActive)
	if err != nil {
		return err
	}
	if err := c.sched.Recover(records); err != nil {
		return err
	}

	for _, record := range records {
		if record.State != models.StateActive {
			continue
		}
		// The contract is noise between start and end, even across a
		// process kill: restart playback for anything still ACTIVE.
		c.startSessionLocked(ctx, record, true)
	}
	return nil
}

// transitionLocked applies WithTransition and commits it with the optimistic
// state check. An illegal transition or a lost commit race is absorbed as a
// logged no-op (false return); genuine store failures are logged too but
// never propagated as user-visible errors.
func (c *Coordinator) transitionLocked(ctx context.Context, record *models.AlarmRecord, to models.AlarmState, reason string) (*models.AlarmRecord, bool) {
	updated, err := record.WithTransition(to, reason, c.now())
	if err != nil {
		c.logger.Warn("Illegal transition rejected",
			zap.String("alarm_id", record.AlarmID),
			zap.String("from", string(record.State)),
			zap.String("to", string(to)),
			zap.String("reason", reason),
		)
		return nil, false
	}

	if err := c.store.CommitTransition(ctx, updated, record.State); err != nil {
		if errors.Is(err, models.ErrStaleRecord) {
			c.logger.Warn("Transition lost commit race",
				zap.String("alarm_id", record.AlarmID),
				zap.String("to", string(to)),
			)
		} else {
			c.logger.Error("Failed to commit transition",
				zap.String("alarm_id", record.AlarmID),
				zap.String("to", string(to)),
				zap.Error(err),
			)
		}
		return nil, false
	}
	return updated, true
}

// startSessionLocked builds (or resumes) the runtime session for an ACTIVE
// record, starts playback, and arms the wake ceiling watchdog. The session is
// held in memory as the authority and written to the store as a mirror.
func (c *Coordinator) startSessionLocked(ctx context.Context, record *models.AlarmRecord, resume bool) {
	var sess *models.AlarmSession
	if resume {
		if c.active != nil && c.active.AlarmID == record.AlarmID {
			sess = c.active
		} else if existing, err := c.sessions.Get(ctx, record.AlarmID); err == nil {
			sess = existing
		}
	}
	if sess == nil {
		p, err := c.puzzles.Generate(record.PuzzleDifficulty)
		if err != nil {
			c.logger.Error("Failed to generate puzzle",
				zap.String("alarm_id", record.AlarmID),
				zap.Error(err),
			)
			return
		}
		triggeredAt := c.now()
		if record.LastTriggeredAt != nil {
			triggeredAt = *record.LastTriggeredAt
		}
		sess = &models.AlarmSession{
			AlarmID:    record.AlarmID,
			Puzzle:     p,
			StartedAt:  triggeredAt,
			AutoStopAt: c.autoStopInstant(record, triggeredAt),
			FadeIn:     c.fadeIn,
		}
		if err := c.sessions.Save(ctx, sess); err != nil {
			c.logger.Error("Failed to mirror session",
				zap.String("alarm_id", record.AlarmID),
				zap.Error(err),
			)
			// Keep going: the in-memory session still gates dismissal and
			// the alarm must make noise even if Redis is down.
		}
	}
	c.active = sess

	// Playback failures never change alarm state; the record stays ACTIVE
	// until the auto-stop timer or a solved puzzle moves it.
	if err := c.engine.Start(ctx, record.AlarmID, sess.FadeIn && !resume); err != nil {
		c.logger.Error("Failed to start playback",
			zap.String("alarm_id", record.AlarmID),
			zap.Error(err),
		)
	}

	c.armWakeWatchLocked(record.AlarmID)
	c.presenter.SessionStarted(record.AlarmID, sess.Puzzle)
}

// teardownSessionLocked stops playback, disarms the wake watchdog, and
// destroys the runtime session. Safe to call when nothing is live.
func (c *Coordinator) teardownSessionLocked(ctx context.Context, alarmID string) {
	if c.active != nil && c.active.AlarmID == alarmID {
		c.active = nil
	}
	if c.wakeWatch != nil {
		c.wakeWatch.Stop()
		c.wakeWatch = nil
	}
	if err := c.engine.Stop(); err != nil {
		c.logger.Error("Failed to stop playback",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
	}
	if err := c.sessions.Delete(ctx, alarmID); err != nil {
		c.logger.Warn("Failed to delete session",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
	}
}

// armWakeWatchLocked bounds how long a session can keep the device awake,
// independent of the configured end time. On expiry playback is stopped but
// the record is left ACTIVE: only the auto-stop timer or a solved puzzle
// changes state.
func (c *Coordinator) armWakeWatchLocked(alarmID string) {
	if c.wakeWatch != nil {
		c.wakeWatch.Stop()
	}
	c.wakeWatch = time.AfterFunc(c.wakeCeiling, func() {
		c.logger.Error("Wake ceiling reached, force-stopping playback",
			zap.String("alarm_id", alarmID),
			zap.Duration("ceiling", c.wakeCeiling),
		)
		if err := c.engine.Stop(); err != nil {
			c.logger.Error("Failed to stop playback at wake ceiling",
				zap.String("alarm_id", alarmID),
				zap.Error(err),
			)
		}
	})
}

// cancelOccupyingLocked force-cancels every record currently holding the
// single SCHEDULED/ACTIVE slot.
func (c *Coordinator) cancelOccupyingLocked(ctx context.Context, newAlarmID string) error {
	occupying, err := c.store.ListByState(ctx, models.StateScheduled, models.StateActive)
	if err != nil {
		return err
	}

	for _, record := range occupying {
		if record.AlarmID == newAlarmID {
			continue
		}
		if err := c.sched.CancelTimers(record.AlarmID); err != nil {
			return err
		}
		wasActive := record.State == models.StateActive
		if _, ok := c.transitionLocked(ctx, record, models.StateCancelled, "superseded by new alarm"); !ok {
			continue
		}
		if wasActive {
			c.teardownSessionLocked(ctx, record.AlarmID)
		}
		c.presenter.SessionEnded(record.AlarmID, models.StateCancelled, "superseded")
		c.logger.Info("Occupying alarm cancelled",
			zap.String("alarm_id", record.AlarmID),
			zap.String("superseded_by", newAlarmID),
		)
	}
	return nil
}

// autoStopInstant derives the session's end from the instant the alarm
// actually triggered, preserving the configured duration.
func (c *Coordinator) autoStopInstant(record *models.AlarmRecord, triggeredAt time.Time) time.Time {
	end := record.EndTime.OnDate(triggeredAt)
	if record.CrossesMidnight() {
		end = end.AddDate(0, 0, 1)
	}
	return end
}
