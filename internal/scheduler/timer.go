package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimerKind distinguishes the two timers registered per alarm.
type TimerKind string

const (
	TimerStart    TimerKind = "start"
	TimerAutoStop TimerKind = "autostop"
)

// TimerPayload is delivered to the fire handler when a registered timer fires.
type TimerPayload struct {
	AlarmID string    `json:"alarm_id"`
	Kind    TimerKind `json:"kind"`
}

// FireHandler receives fired timer payloads.
type FireHandler func(payload TimerPayload)

// TimerFacility abstracts the platform exact-timer mechanism. Registering
// with an id that already exists replaces the previous registration, which
// makes boot-recovery re-registration idempotent.
type TimerFacility interface {
	RegisterExact(id string, at time.Time, payload TimerPayload) error
	Cancel(id string) error
	CanRegisterExact() bool
	SetHandler(h FireHandler)
}

type timerEntry struct {
	timer   *time.Timer
	firesAt time.Time
	payload TimerPayload
}

// InProcessTimer is a TimerFacility backed by the Go runtime timer wheel.
// A platform adapter (e.g. an OS alarm manager) can replace it without
// touching the scheduler or coordinator.
type InProcessTimer struct {
	mu      sync.Mutex
	entries map[string]*timerEntry
	handler FireHandler
	logger  *zap.Logger
}

// NewInProcessTimer creates an in-process exact timer.
func NewInProcessTimer(logger *zap.Logger) *InProcessTimer {
	return &InProcessTimer{
		entries: make(map[string]*timerEntry),
		logger:  logger,
	}
}

// SetHandler registers the single fire handler. Must be called before any
// timer can fire.
func (t *InProcessTimer) SetHandler(h FireHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// CanRegisterExact always reports true for the in-process implementation.
func (t *InProcessTimer) CanRegisterExact() bool { return true }

// RegisterExact schedules payload delivery at the given instant. An instant
// in the past fires immediately: a delayed registration must still deliver.
func (t *InProcessTimer) RegisterExact(id string, at time.Time, payload TimerPayload) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.entries[id]; ok {
		prev.timer.Stop()
		delete(t.entries, id)
		t.logger.Debug("Replacing timer registration",
			zap.String("timer_id", id),
		)
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
		t.logger.Warn("Timer instant is in the past, firing immediately",
			zap.String("timer_id", id),
			zap.Time("at", at),
		)
	}

	entry := &timerEntry{
		firesAt: at,
		payload: payload,
	}
	// The callback captures its own entry so a stale callback from a replaced
	// registration can be told apart from the live one.
	entry.timer = time.AfterFunc(delay, func() {
		t.fire(id, entry)
	})
	t.entries[id] = entry

	t.logger.Debug("Timer registered",
		zap.String("timer_id", id),
		zap.Time("fires_at", at),
		zap.String("alarm_id", payload.AlarmID),
		zap.String("kind", string(payload.Kind)),
	)
	return nil
}

// Cancel removes a registration. Cancelling an unknown id is a no-op.
func (t *InProcessTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[id]; ok {
		entry.timer.Stop()
		delete(t.entries, id)
		t.logger.Debug("Timer cancelled",
			zap.String("timer_id", id),
		)
	}
	return nil
}

// Stop cancels every registration. Used on shutdown.
func (t *InProcessTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, id)
	}
}

// ActiveCount returns the number of pending registrations.
func (t *InProcessTimer) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *InProcessTimer) fire(id string, entry *timerEntry) {
	t.mu.Lock()
	current, ok := t.entries[id]
	live := ok && current == entry
	if live {
		delete(t.entries, id)
	}
	handler := t.handler
	t.mu.Unlock()

	if !live {
		// Cancelled or replaced between expiry and callback. A replacement
		// under the same id must only fire at its own instant, so a stale
		// callback never delivers it.
		return
	}
	if handler == nil {
		t.logger.Error("Timer fired with no handler registered",
			zap.String("timer_id", id),
		)
		return
	}
	handler(entry.payload)
}
