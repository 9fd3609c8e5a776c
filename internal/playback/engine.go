package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adilkt16/alarmise/internal/models"

	"go.uber.org/zap"
)

// Options bound the engine's recovery behavior.
type Options struct {
	// Sources is the ordered fallback list of sound source URIs. The
	// synthesized tone is always the implicit last entry.
	Sources []string
	// FadeInDuration and FadeInSteps shape the optional volume ramp.
	FadeInDuration time.Duration
	FadeInSteps    int
	// MaxRetries bounds how many times a failed or unexpectedly completed
	// playback is re-attempted before the failure is reported as fatal.
	MaxRetries int
	// RetryBackoff is the pause between source-chain re-attempts.
	RetryBackoff time.Duration
}

// DefaultOptions mirror the configured defaults: a 3 second 30 step ramp and
// five recovery attempts.
func DefaultOptions(sources []string) Options {
	return Options{
		Sources:        sources,
		FadeInDuration: 3 * time.Second,
		FadeInSteps:    30,
		MaxRetries:     5,
		RetryBackoff:   500 * time.Millisecond,
	}
}

// State is a snapshot of the engine for callers and the presentation layer.
type State struct {
	IsPlaying  bool    `json:"is_playing"`
	Volume     float64 `json:"volume"`
	RetryCount int     `json:"retry_count"`
	Route      Route   `json:"route"`
}

// Engine keeps some audible signal playing for one alarm at a time between
// Start and Stop. The contract is "some audible signal must play", not "the
// configured sound must play": every failure falls through to the next
// source and finally to the synthesized tone.
type Engine struct {
	out    Output
	opts   Options
	logger *zap.Logger

	// mu serializes Start/Stop; monitor goroutines never take it.
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// stateMu guards the snapshot fields written by monitors.
	stateMu    sync.Mutex
	alarmID    string
	playing    bool
	retryCount int
	prevVolume float64
	lastErr    error
}

// NewEngine creates a playback engine over the given output facility.
func NewEngine(out Output, opts Options, logger *zap.Logger) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.FadeInSteps <= 0 {
		opts.FadeInSteps = 30
	}
	return &Engine{out: out, opts: opts, logger: logger}
}

// Start acquires the audio session and begins looping playback for alarmID.
// Every step that can fail falls back to the next step rather than aborting;
// the monitors keep recovering in the background until Stop or the retry
// bound. Start fails only if a session is already running.
func (e *Engine) Start(ctx context.Context, alarmID string, enableFadeIn bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("playback already running for alarm %s", e.alarmID)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	// Step 1: exclusive output priority. A refusal is logged and playback
	// proceeds; focus monitoring keeps retrying in the background.
	if err := e.out.AcquireFocus(ctx); err != nil {
		e.logger.Warn("Failed to acquire audio focus, continuing",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
	}

	// Step 2: force volume to maximum, remembering the prior level so Stop
	// can restore it.
	prev, err := e.out.Volume()
	if err != nil {
		e.logger.Warn("Failed to read current volume",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
		prev = -1 // nothing to restore
	}
	startLevel := 1.0
	if enableFadeIn {
		startLevel = 0
	}
	if err := e.out.SetVolume(startLevel); err != nil {
		e.logger.Warn("Failed to set alarm volume",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
	}

	e.stateMu.Lock()
	e.alarmID = alarmID
	e.playing = false
	e.retryCount = 0
	e.prevVolume = prev
	e.lastErr = nil
	e.stateMu.Unlock()

	e.running = true
	e.cancel = cancel

	e.wg.Add(2)
	go e.runPlayback(runCtx, alarmID, enableFadeIn)
	go e.watchHardware(runCtx, alarmID)

	e.logger.Info("Playback started",
		zap.String("alarm_id", alarmID),
		zap.Bool("fade_in", enableFadeIn),
	)
	return nil
}

// Stop cancels all monitors, waits for them to finish, releases the output
// session and restores the recorded volume. Stop is idempotent and safe to
// call when nothing is playing.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}

	e.cancel()
	e.wg.Wait()

	e.stateMu.Lock()
	alarmID := e.alarmID
	prev := e.prevVolume
	e.playing = false
	e.stateMu.Unlock()

	if err := e.out.ReleaseFocus(); err != nil {
		e.logger.Warn("Failed to release audio focus",
			zap.String("alarm_id", alarmID),
			zap.Error(err),
		)
	}
	if prev >= 0 {
		if err := e.out.SetVolume(prev); err != nil {
			e.logger.Warn("Failed to restore volume",
				zap.String("alarm_id", alarmID),
				zap.Float64("volume", prev),
				zap.Error(err),
			)
		}
	}

	e.running = false
	e.cancel = nil

	e.logger.Info("Playback stopped",
		zap.String("alarm_id", alarmID),
	)
	return nil
}

// GetState returns a snapshot of the engine.
func (e *Engine) GetState() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	vol, err := e.out.Volume()
	if err != nil {
		vol = -1
	}
	return State{
		IsPlaying:  e.playing,
		Volume:     vol,
		RetryCount: e.retryCount,
		Route:      e.out.CurrentRoute(),
	}
}

// LastError returns the fatal playback failure, if the retry bound was
// exceeded. The alarm record is never touched by playback failures.
func (e *Engine) LastError() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.lastErr
}

// runPlayback owns step 3 through 5 of the start sequence: the source
// fallback chain, the fade ramp, and bounded recovery on unexpected
// completion or error.
func (e *Engine) runPlayback(ctx context.Context, alarmID string, enableFadeIn bool) {
	defer e.wg.Done()

	firstStart := true
	for {
		handle, source, err := e.playChain(ctx)
		if err != nil {
			if !e.recordRetry(ctx, alarmID, err) {
				return
			}
			continue
		}

		e.stateMu.Lock()
		e.playing = true
		e.stateMu.Unlock()

		e.logger.Info("Playback source started",
			zap.String("alarm_id", alarmID),
			zap.String("source", source),
		)

		if enableFadeIn && firstStart {
			e.fadeIn(ctx)
		} else if err := e.out.SetVolume(1.0); err != nil {
			e.logger.Warn("Failed to raise volume",
				zap.String("alarm_id", alarmID),
				zap.Error(err),
			)
		}
		firstStart = false

		select {
		case <-ctx.Done():
			if err := handle.Stop(); err != nil {
				e.logger.Warn("Failed to stop playback handle",
					zap.String("alarm_id", alarmID),
					zap.Error(err),
				)
			}
			return

		case playErr := <-handle.Done():
			// A looping source must never complete on its own; completion
			// and error are both treated as failure and re-enter the chain.
			e.stateMu.Lock()
			e.playing = false
			e.stateMu.Unlock()
			if playErr == nil {
				playErr = fmt.Errorf("source %s completed unexpectedly", source)
			}
			if !e.recordRetry(ctx, alarmID, playErr) {
				return
			}
		}
	}
}

// playChain tries each configured source in order, then the synthesized
// fallback tone.
func (e *Engine) playChain(ctx context.Context) (Handle, string, error) {
	var lastErr error
	for _, source := range e.opts.Sources {
		handle, err := e.out.PlayLoop(ctx, source)
		if err == nil {
			return handle, source, nil
		}
		lastErr = err
		e.logger.Warn("Sound source failed, trying next",
			zap.String("source", source),
			zap.Error(err),
		)
	}

	handle, err := e.out.PlayTone(ctx)
	if err == nil {
		return handle, "fallback-tone", nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, "", fmt.Errorf("all sound sources failed, fallback tone: %v (last source error: %w)", err, lastErr)
}

// recordRetry counts a playback failure against the bound. It returns false
// once the bound is exceeded, after recording the fatal PlaybackError.
func (e *Engine) recordRetry(ctx context.Context, alarmID string, cause error) bool {
	e.stateMu.Lock()
	e.retryCount++
	retries := e.retryCount
	e.stateMu.Unlock()

	if retries > e.opts.MaxRetries {
		err := &models.PlaybackError{AlarmID: alarmID, Retries: retries - 1, Err: cause}
		e.stateMu.Lock()
		e.lastErr = err
		e.stateMu.Unlock()
		e.logger.Error("Playback retries exhausted",
			zap.String("alarm_id", alarmID),
			zap.Int("retries", retries-1),
			zap.Error(cause),
		)
		return false
	}

	e.logger.Warn("Playback failure, retrying",
		zap.String("alarm_id", alarmID),
		zap.Int("retry", retries),
		zap.Error(cause),
	)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.opts.RetryBackoff):
		return true
	}
}

// fadeIn ramps the output level from 0 to full over the configured window,
// unless stopped mid-ramp.
func (e *Engine) fadeIn(ctx context.Context) {
	steps := e.opts.FadeInSteps
	interval := e.opts.FadeInDuration / time.Duration(steps)
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		level := float64(i) / float64(steps)
		if err := e.out.SetVolume(level); err != nil {
			e.logger.Warn("Fade-in volume step failed",
				zap.Float64("level", level),
				zap.Error(err),
			)
		}
	}
}

// watchHardware reacts to route and focus events for the lifetime of one
// session. Route loss forces the built-in speaker; permanent focus loss
// re-acquires with exponential backoff. Transient focus loss is ignored so
// the alarm is never ducked or paused.
func (e *Engine) watchHardware(ctx context.Context, alarmID string) {
	defer e.wg.Done()

	focusBackoff := time.Second
	var reacquire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-e.out.RouteEvents():
			if !ok {
				return
			}
			if !ev.Connected {
				e.logger.Warn("Audio route disconnected, forcing speaker",
					zap.String("alarm_id", alarmID),
					zap.String("route", string(ev.Route)),
				)
				if err := e.out.ForceSpeaker(); err != nil {
					e.logger.Error("Failed to force speaker route",
						zap.String("alarm_id", alarmID),
						zap.Error(err),
					)
				}
			} else {
				e.logger.Info("Audio route connected",
					zap.String("alarm_id", alarmID),
					zap.String("route", string(ev.Route)),
				)
			}

		case ev, ok := <-e.out.FocusEvents():
			if !ok {
				return
			}
			if !ev.Lost || ev.Transient {
				// Transient losses must not pause or duck the alarm.
				continue
			}
			e.logger.Warn("Audio focus lost, scheduling re-acquisition",
				zap.String("alarm_id", alarmID),
				zap.Duration("backoff", focusBackoff),
			)
			reacquire = time.After(focusBackoff)

		case <-reacquire:
			reacquire = nil
			if err := e.out.AcquireFocus(ctx); err != nil {
				focusBackoff *= 2
				if focusBackoff > time.Minute {
					focusBackoff = time.Minute
				}
				e.logger.Warn("Focus re-acquisition failed, backing off",
					zap.String("alarm_id", alarmID),
					zap.Duration("backoff", focusBackoff),
					zap.Error(err),
				)
				reacquire = time.After(focusBackoff)
			} else {
				focusBackoff = time.Second
				e.logger.Info("Audio focus re-acquired",
					zap.String("alarm_id", alarmID),
				)
			}
		}
	}
}
