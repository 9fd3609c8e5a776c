package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/adilkt16/alarmise/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTimers records registrations without real timers.
type fakeTimers struct {
	canExact    bool
	registered  map[string]time.Time
	payloads    map[string]TimerPayload
	failIDs     map[string]bool
	cancelled   []string
	handler     FireHandler
	registerLog []string
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{
		canExact:   true,
		registered: map[string]time.Time{},
		payloads:   map[string]TimerPayload{},
		failIDs:    map[string]bool{},
	}
}

func (f *fakeTimers) RegisterExact(id string, at time.Time, payload TimerPayload) error {
	if f.failIDs[id] {
		return fmt.Errorf("registration refused for %s", id)
	}
	f.registered[id] = at
	f.payloads[id] = payload
	f.registerLog = append(f.registerLog, id)
	return nil
}

func (f *fakeTimers) Cancel(id string) error {
	delete(f.registered, id)
	delete(f.payloads, id)
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeTimers) CanRegisterExact() bool { return f.canExact }

func (f *fakeTimers) SetHandler(h FireHandler) { f.handler = h }

func testRecord(t *testing.T, start, end string) *models.AlarmRecord {
	t.Helper()
	st, err := models.ParseTimeOfDay(start)
	require.NoError(t, err)
	en, err := models.ParseTimeOfDay(end)
	require.NoError(t, err)
	return models.NewAlarmRecord("alarm-1", "test", st, en, models.DifficultyEasy)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestComputeTriggers_SameDay(t *testing.T) {
	s := New(newFakeTimers(), zap.NewNop())
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	record := testRecord(t, "09:00", "09:45")
	start, end, err := s.ComputeTriggers(record, now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 10, 9, 45, 0, 0, time.UTC), end)
}

func TestComputeTriggers_StartAlreadyPassedToday(t *testing.T) {
	s := New(newFakeTimers(), zap.NewNop())
	now := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

	record := testRecord(t, "09:00", "09:45")
	start, end, err := s.ComputeTriggers(record, now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 11, 9, 45, 0, 0, time.UTC), end)
}

func TestComputeTriggers_CrossMidnight(t *testing.T) {
	s := New(newFakeTimers(), zap.NewNop())

	// 23:30 -> 00:15 scheduled at 23:00 the same day: start tonight,
	// auto-stop on the next calendar day.
	now := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	record := testRecord(t, "23:30", "00:15")
	require.Equal(t, 45, record.DurationMinutes())

	start, end, err := s.ComputeTriggers(record, now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 15, 0, 0, time.UTC), end)
}

func TestComputeTriggers_EndDerivedFromStart(t *testing.T) {
	s := New(newFakeTimers(), zap.NewNop())

	// At 09:30 the end time (09:15) is already past for today but the start
	// (23:00) is not. The end must follow the start's date, not be bumped
	// independently, otherwise the window would invert.
	now := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
	record := testRecord(t, "23:00", "09:15")

	start, end, err := s.ComputeTriggers(record, now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 11, 9, 15, 0, 0, time.UTC), end)
	assert.Equal(t, record.DurationMinutes(), int(end.Sub(start).Minutes()))
}

func TestComputeTriggers_StableAcrossAdjacentInstants(t *testing.T) {
	s := New(newFakeTimers(), zap.NewNop())
	record := testRecord(t, "09:00", "09:45")

	// Two computations one second apart must agree on the date unless the
	// clock actually crossed the start time.
	now := time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC)
	start1, _, err := s.ComputeTriggers(record, now)
	require.NoError(t, err)
	start2, _, err := s.ComputeTriggers(record, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, start1, start2)

	// Crossing the boundary is the only legitimate date change.
	atBoundary := time.Date(2024, 3, 10, 8, 59, 59, 500000000, time.UTC)
	startBefore, _, err := s.ComputeTriggers(record, atBoundary)
	require.NoError(t, err)
	startAfter, _, err := s.ComputeTriggers(record, atBoundary.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, startBefore.AddDate(0, 0, 1), startAfter)
}

func TestComputeTriggers_ZeroDurationRejected(t *testing.T) {
	s := New(newFakeTimers(), zap.NewNop())
	record := testRecord(t, "09:00", "09:00")

	_, _, err := s.ComputeTriggers(record, time.Now())
	var ve *models.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSchedule_RegistersBothTimers(t *testing.T) {
	timers := newFakeTimers()
	s := New(timers, zap.NewNop())
	s.SetClock(fixedClock(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)))

	record := testRecord(t, "09:00", "09:45")
	start, end, err := s.Schedule(record)
	require.NoError(t, err)

	assert.Equal(t, start, timers.registered[StartTimerID("alarm-1")])
	assert.Equal(t, end, timers.registered[AutoStopTimerID("alarm-1")])
	assert.Equal(t, TimerStart, timers.payloads[StartTimerID("alarm-1")].Kind)
	assert.Equal(t, TimerAutoStop, timers.payloads[AutoStopTimerID("alarm-1")].Kind)
}

func TestSchedule_PermissionDenied(t *testing.T) {
	timers := newFakeTimers()
	timers.canExact = false
	s := New(timers, zap.NewNop())

	_, _, err := s.Schedule(testRecord(t, "09:00", "09:45"))
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	assert.Empty(t, timers.registered)
}

func TestSchedule_BothOrNeither(t *testing.T) {
	timers := newFakeTimers()
	timers.failIDs[AutoStopTimerID("alarm-1")] = true
	s := New(timers, zap.NewNop())
	s.SetClock(fixedClock(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)))

	_, _, err := s.Schedule(testRecord(t, "09:00", "09:45"))
	require.Error(t, err)

	var schedErr *models.SchedulingError
	assert.ErrorAs(t, err, &schedErr)
	// The successfully registered start timer must have been rolled back.
	assert.Empty(t, timers.registered)
	assert.Contains(t, timers.cancelled, StartTimerID("alarm-1"))
}

func TestRecover_ReregistersScheduled(t *testing.T) {
	timers := newFakeTimers()
	s := New(timers, zap.NewNop())
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	s.SetClock(fixedClock(now))

	record := testRecord(t, "09:00", "09:45")
	scheduled, err := record.WithTransition(models.StateScheduled, "timers registered", now)
	require.NoError(t, err)

	require.NoError(t, s.Recover([]*models.AlarmRecord{scheduled}))
	assert.Len(t, timers.registered, 2)

	// A second pass replaces rather than duplicates.
	require.NoError(t, s.Recover([]*models.AlarmRecord{scheduled}))
	assert.Len(t, timers.registered, 2)
}

func TestRecover_ActiveAlarmKeepsOriginalWindow(t *testing.T) {
	timers := newFakeTimers()
	s := New(timers, zap.NewNop())

	triggeredAt := time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)
	s.SetClock(fixedClock(triggeredAt.Add(10 * time.Minute))) // restart mid-window

	record := testRecord(t, "23:30", "00:15")
	scheduled, err := record.WithTransition(models.StateScheduled, "timers registered", triggeredAt.Add(-time.Hour))
	require.NoError(t, err)
	active, err := scheduled.WithTransition(models.StateActive, "start timer fired", triggeredAt)
	require.NoError(t, err)

	require.NoError(t, s.Recover([]*models.AlarmRecord{active}))

	// Only the auto-stop timer comes back, anchored to the real trigger.
	assert.Len(t, timers.registered, 1)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 15, 0, 0, time.UTC),
		timers.registered[AutoStopTimerID("alarm-1")])
}

func TestCancelTimers_CancelsBoth(t *testing.T) {
	timers := newFakeTimers()
	s := New(timers, zap.NewNop())
	s.SetClock(fixedClock(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)))

	_, _, err := s.Schedule(testRecord(t, "09:00", "09:45"))
	require.NoError(t, err)
	require.Len(t, timers.registered, 2)

	require.NoError(t, s.CancelTimers("alarm-1"))
	assert.Empty(t, timers.registered)
}

func TestInProcessTimer_FireAndCancel(t *testing.T) {
	timer := NewInProcessTimer(zap.NewNop())
	defer timer.Stop()

	fired := make(chan TimerPayload, 2)
	timer.SetHandler(func(p TimerPayload) { fired <- p })

	payload := TimerPayload{AlarmID: "alarm-1", Kind: TimerStart}
	require.NoError(t, timer.RegisterExact("t1", time.Now().Add(10*time.Millisecond), payload))

	select {
	case got := <-fired:
		assert.Equal(t, payload, got)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, 0, timer.ActiveCount())

	// Cancelled timers never fire.
	require.NoError(t, timer.RegisterExact("t2", time.Now().Add(20*time.Millisecond), payload))
	require.NoError(t, timer.Cancel("t2"))
	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInProcessTimer_ReplaceRegistration(t *testing.T) {
	timer := NewInProcessTimer(zap.NewNop())
	defer timer.Stop()

	fired := make(chan TimerPayload, 2)
	timer.SetHandler(func(p TimerPayload) { fired <- p })

	// Re-registering the same id replaces the first registration.
	require.NoError(t, timer.RegisterExact("t1", time.Now().Add(time.Hour),
		TimerPayload{AlarmID: "old", Kind: TimerStart}))
	require.NoError(t, timer.RegisterExact("t1", time.Now().Add(10*time.Millisecond),
		TimerPayload{AlarmID: "new", Kind: TimerStart}))
	assert.Equal(t, 1, timer.ActiveCount())

	select {
	case got := <-fired:
		assert.Equal(t, "new", got.AlarmID)
	case <-time.After(time.Second):
		t.Fatal("replacement timer did not fire")
	}
}

func TestInProcessTimer_ReplacementDoesNotFireEarly(t *testing.T) {
	timer := NewInProcessTimer(zap.NewNop())
	defer timer.Stop()

	fired := make(chan TimerPayload, 4096)
	timer.SetHandler(func(p TimerPayload) { fired <- p })

	// Re-register the same id while the first registration is due right now,
	// so its callback races the replacement. The far-future replacement must
	// never be delivered by the stale callback.
	for i := 0; i < 500; i++ {
		require.NoError(t, timer.RegisterExact("x", time.Now(),
			TimerPayload{AlarmID: "due-now", Kind: TimerStart}))
		require.NoError(t, timer.RegisterExact("x", time.Now().Add(time.Hour),
			TimerPayload{AlarmID: "next-hour", Kind: TimerAutoStop}))
		require.NoError(t, timer.Cancel("x"))
	}

	time.Sleep(100 * time.Millisecond)
	for {
		select {
		case got := <-fired:
			assert.NotEqual(t, "next-hour", got.AlarmID)
		default:
			return
		}
	}
}

func TestInProcessTimer_PastInstantFiresImmediately(t *testing.T) {
	timer := NewInProcessTimer(zap.NewNop())
	defer timer.Stop()

	fired := make(chan TimerPayload, 1)
	timer.SetHandler(func(p TimerPayload) { fired <- p })

	require.NoError(t, timer.RegisterExact("t1", time.Now().Add(-time.Minute),
		TimerPayload{AlarmID: "late", Kind: TimerAutoStop}))

	select {
	case got := <-fired:
		assert.Equal(t, "late", got.AlarmID)
	case <-time.After(time.Second):
		t.Fatal("past-instant timer did not fire")
	}
}
