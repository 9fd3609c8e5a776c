// Package playback owns the audio session for a sounding alarm: focus
// acquisition, volume enforcement, fade-in, source fallback, hardware route
// handling and bounded recovery.
package playback

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Route identifies the current audio output path.
type Route string

const (
	RouteSpeaker   Route = "speaker"
	RouteWired     Route = "wired"
	RouteBluetooth Route = "bluetooth"
)

// RouteEvent reports a hardware route change.
type RouteEvent struct {
	Route     Route
	Connected bool
}

// FocusEvent reports a change in output focus. Transient losses (another
// app's short sound) must be ignored; permanent losses trigger re-acquisition.
type FocusEvent struct {
	Lost      bool
	Transient bool
}

// Handle is a live looping playback. Done yields once, on unexpected natural
// completion or playback error; a clean Stop does not deliver on Done.
type Handle interface {
	Done() <-chan error
	Stop() error
}

// Output is the platform audio facility boundary. The engine drives it;
// implementations live outside the core.
type Output interface {
	// AcquireFocus requests exclusive, non-duckable output priority.
	AcquireFocus(ctx context.Context) error
	ReleaseFocus() error
	FocusEvents() <-chan FocusEvent

	// Volume reads/sets the alarm output channel level in [0, 1].
	Volume() (float64, error)
	SetVolume(level float64) error

	// PlayLoop starts looping the source URI.
	PlayLoop(ctx context.Context, sourceURI string) (Handle, error)
	// PlayTone starts the synthesized fallback tone, the last-resort source.
	PlayTone(ctx context.Context) (Handle, error)

	CurrentRoute() Route
	RouteEvents() <-chan RouteEvent
	// ForceSpeaker routes output to the built-in speaker after a
	// disconnect so sound never simply stops.
	ForceSpeaker() error
}

// NopOutput is a logging Output used when no platform adapter is bound.
// Playback "succeeds" silently and loops until stopped.
type NopOutput struct {
	logger *zap.Logger

	mu     sync.Mutex
	volume float64
	route  Route

	focusCh chan FocusEvent
	routeCh chan RouteEvent
}

// NewNopOutput creates a NopOutput at full volume on the speaker route.
func NewNopOutput(logger *zap.Logger) *NopOutput {
	return &NopOutput{
		logger:  logger,
		volume:  1.0,
		route:   RouteSpeaker,
		focusCh: make(chan FocusEvent),
		routeCh: make(chan RouteEvent),
	}
}

func (o *NopOutput) AcquireFocus(ctx context.Context) error {
	o.logger.Debug("NopOutput: focus acquired")
	return nil
}

func (o *NopOutput) ReleaseFocus() error {
	o.logger.Debug("NopOutput: focus released")
	return nil
}

func (o *NopOutput) FocusEvents() <-chan FocusEvent { return o.focusCh }

func (o *NopOutput) Volume() (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume, nil
}

func (o *NopOutput) SetVolume(level float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = level
	return nil
}

func (o *NopOutput) PlayLoop(ctx context.Context, sourceURI string) (Handle, error) {
	o.logger.Info("NopOutput: looping source",
		zap.String("source", sourceURI),
	)
	return newNopHandle(), nil
}

func (o *NopOutput) PlayTone(ctx context.Context) (Handle, error) {
	o.logger.Info("NopOutput: playing fallback tone")
	return newNopHandle(), nil
}

func (o *NopOutput) CurrentRoute() Route {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.route
}

func (o *NopOutput) RouteEvents() <-chan RouteEvent { return o.routeCh }

func (o *NopOutput) ForceSpeaker() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.route = RouteSpeaker
	return nil
}

type nopHandle struct {
	done chan error
}

func newNopHandle() *nopHandle {
	return &nopHandle{done: make(chan error)}
}

func (h *nopHandle) Done() <-chan error { return h.done }

// Stop is a no-op; Done only ever yields on unexpected completion, which the
// nop playback never produces.
func (h *nopHandle) Stop() error { return nil }
