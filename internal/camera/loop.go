package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"framecast/internal/frame"
)

// Defaults for LoopOptions fields left at zero
const (
	DefaultOpenAttempts   = 10
	DefaultOpenDelay      = 500 * time.Millisecond
	DefaultFailureBackoff = 10 * time.Millisecond
	DefaultReopenAfter    = 100
)

// LoopOptions tunes the capture loop's failure handling
type LoopOptions struct {
	OpenAttempts   int
	OpenDelay      time.Duration
	FailureBackoff time.Duration
	// ReopenAfter consecutive failures triggers a device reopen; negative disables
	ReopenAfter int
}

func (o LoopOptions) withDefaults() LoopOptions {
	if o.OpenAttempts <= 0 {
		o.OpenAttempts = DefaultOpenAttempts
	}
	if o.OpenDelay <= 0 {
		o.OpenDelay = DefaultOpenDelay
	}
	if o.FailureBackoff <= 0 {
		o.FailureBackoff = DefaultFailureBackoff
	}
	if o.ReopenAfter == 0 {
		o.ReopenAfter = DefaultReopenAfter
	}
	return o
}

// Loop drives a Source at the configured frame rate and publishes every
// captured frame. It is the only writer to its Broadcaster and the only
// owner of the Source.
type Loop struct {
	name        string
	source      Source
	broadcaster *frame.Broadcaster
	encoder     Encoder
	interval    time.Duration
	opts        LoopOptions

	state     atomic.Int32
	stats     statsRecorder
	observer  Observer
	listeners []func(State)
	listenMu  sync.RWMutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewLoop creates a capture loop for one camera
func NewLoop(cfg Config, source Source, b *frame.Broadcaster, opts LoopOptions) *Loop {
	l := &Loop{
		name:        cfg.Name,
		source:      source,
		broadcaster: b,
		encoder:     NewEncoder(cfg),
		interval:    cfg.Interval(),
		opts:        opts.withDefaults(),
	}
	l.stats.stats.Camera = cfg.Name
	return l
}

// SetObserver attaches a metrics observer. Must be called before Run.
func (l *Loop) SetObserver(o Observer) {
	l.observer = o
}

// OnStateChange registers a callback invoked on every state transition
func (l *Loop) OnStateChange(fn func(State)) {
	l.listenMu.Lock()
	l.listeners = append(l.listeners, fn)
	l.listenMu.Unlock()
}

// State returns the current lifecycle state
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns a copy of the capture statistics
func (l *Loop) Stats() Stats {
	s := l.stats.snapshot()
	s.State = l.State().String()
	return s
}

// Run opens the source and captures until ctx is cancelled. It returns
// ErrDeviceUnavailable if the device cannot be opened within the retry
// budget; the broadcaster is left untouched so viewers keep getting
// "no frame yet" responses. The source is released when Run returns.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()

	l.setState(StateStarting)
	if err := l.open(ctx); err != nil {
		if ctx.Err() != nil {
			l.setState(StateStopped)
			return nil
		}
		l.setState(StateFailed)
		log.Printf("[CaptureLoop] Camera %s: %v", l.name, err)
		return err
	}
	l.setState(StateRunning)
	log.Printf("[CaptureLoop] Camera %s ready, target interval %v", l.name, l.interval)

	consecutiveFailures := 0
	for {
		if ctx.Err() != nil || l.closed.Load() {
			l.setState(StateStopped)
			return nil
		}

		start := time.Now()
		data, capturedAt, err := l.captureOnce(ctx)
		if err != nil {
			if ctx.Err() != nil || l.closed.Load() {
				l.setState(StateStopped)
				return nil
			}

			consecutiveFailures++
			l.stats.failure()
			if l.observer != nil {
				l.observer.CaptureFailed()
			}

			if l.opts.ReopenAfter > 0 && consecutiveFailures >= l.opts.ReopenAfter {
				if err := l.reopen(ctx); err != nil {
					if ctx.Err() != nil {
						l.setState(StateStopped)
						return nil
					}
					l.setState(StateFailed)
					log.Printf("[CaptureLoop] Camera %s: %v", l.name, err)
					return err
				}
				consecutiveFailures = 0
				continue
			}

			if !sleepContext(ctx, l.opts.FailureBackoff) {
				l.setState(StateStopped)
				return nil
			}
			continue
		}
		consecutiveFailures = 0

		f := l.broadcaster.Publish(data, capturedAt)
		elapsed := time.Since(start)
		l.stats.frame(time.Now(), elapsed)
		if l.observer != nil {
			l.observer.FrameCaptured(elapsed)
		}
		if f != nil && f.Seq%300 == 0 {
			log.Printf("[CaptureLoop] Camera %s frame seq: %d", l.name, f.Seq)
		}

		// Pace toward the target rate; an overrun proceeds immediately
		if wait := l.interval - elapsed; wait > 0 {
			if !sleepContext(ctx, wait) {
				l.setState(StateStopped)
				return nil
			}
		}
	}
}

// Close releases the source exactly once. Safe to call before or without Run.
func (l *Loop) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.closeErr = l.source.Close()
		if l.State() != StateFailed {
			l.setState(StateStopped)
		}
	})
	return l.closeErr
}

func (l *Loop) captureOnce(ctx context.Context) ([]byte, time.Time, error) {
	c, err := l.source.Next(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	if c == nil {
		return nil, time.Time{}, ErrNoFrame
	}

	capturedAt := c.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	if c.JPEG != nil {
		return c.JPEG, capturedAt, nil
	}
	if c.Image == nil {
		return nil, time.Time{}, ErrNoFrame
	}

	data, err := l.encoder.Encode(c.Image)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: encode: %v", ErrNoFrame, err)
	}
	return data, capturedAt, nil
}

func (l *Loop) open(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= l.opts.OpenAttempts; attempt++ {
		err := l.source.Open(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Printf("[CaptureLoop] Camera %s: attempt %d/%d: cannot open: %v", l.name, attempt, l.opts.OpenAttempts, err)

		if attempt < l.opts.OpenAttempts && !sleepContext(ctx, l.opts.OpenDelay) {
			return ctx.Err()
		}
	}
	if errors.Is(lastErr, ErrDeviceUnavailable) {
		return fmt.Errorf("camera %s: gave up after %d attempts: %w", l.name, l.opts.OpenAttempts, lastErr)
	}
	return fmt.Errorf("%w: camera %s: gave up after %d attempts: %w", ErrDeviceUnavailable, l.name, l.opts.OpenAttempts, lastErr)
}

func (l *Loop) reopen(ctx context.Context) error {
	log.Printf("[CaptureLoop] Camera %s: %d consecutive failures, reopening device", l.name, l.opts.ReopenAfter)
	l.stats.reopen()
	l.setState(StateStarting)
	_ = l.source.Close()
	if err := l.open(ctx); err != nil {
		return err
	}
	l.setState(StateRunning)
	return nil
}

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}

	l.listenMu.RLock()
	listeners := append([]func(State){}, l.listeners...)
	l.listenMu.RUnlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// sleepContext sleeps for d and reports false if ctx ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
