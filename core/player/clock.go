package player

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"VizFM/logger"
)

// State of the playback clock.
type State int32

const (
	Idle State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "idle"
}

// EndReason distinguishes how a playback stream reached Idle. Stopping an
// active stream deliberately takes the same transition as the natural end,
// so listeners see one unified signal.
type EndReason int

const (
	EndNatural EndReason = iota
	EndStopped
	EndError
)

// TickFunc runs once per display tick with the current playback position.
// Returning an error aborts playback.
type TickFunc func(elapsed time.Duration) error

// Clock drives frame production and playback position in lockstep. It is
// single-streamed: starting while a stream is active fully releases the prior
// stream before the new one connects.
type Clock struct {
	fps int

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	positionNS atomic.Int64
}

// NewClock creates a clock ticking at the given display rate.
func NewClock(fps int) *Clock {
	if fps <= 0 {
		fps = 30
	}
	return &Clock{fps: fps}
}

// State returns the current clock state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Position returns the playback position of the active stream, zero when idle.
func (c *Clock) Position() time.Duration {
	return time.Duration(c.positionNS.Load())
}

// Start begins a playback stream of the given duration, invoking onTick once
// per display tick and onEnd exactly once on the Playing -> Idle transition.
// Any prior stream is stopped and released first.
func (c *Clock) Start(ctx context.Context, duration time.Duration, onTick TickFunc, onEnd func(EndReason)) {
	c.Stop() // disconnect before reconnect

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.state = Playing
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	c.positionNS.Store(0)

	logger.Info("playback started",
		logger.Duration("duration", duration),
		logger.Int("fps", c.fps))

	go c.run(runCtx, duration, onTick, onEnd, done)
}

// Stop synchronously stops the active stream, if any, and waits until it is
// fully released, including its onEnd listener. Deterministically drives the
// same end transition as a natural end.
func (c *Clock) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// run is the cooperative render loop: one tick per display opportunity, no
// tick starts while the previous one is still in flight.
func (c *Clock) run(ctx context.Context, duration time.Duration, onTick TickFunc, onEnd func(EndReason), done chan struct{}) {
	tick := time.Second / time.Duration(c.fps)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	reason := EndNatural
	var elapsed time.Duration

loop:
	for {
		select {
		case <-ctx.Done():
			reason = EndStopped
			break loop
		case <-ticker.C:
			elapsed += tick
			if elapsed > duration {
				elapsed = duration
			}
			c.positionNS.Store(int64(elapsed))
			if err := onTick(elapsed); err != nil {
				logger.Error("render tick failed", logger.ErrorField(err))
				reason = EndError
				break loop
			}
			if elapsed >= duration {
				break loop
			}
		}
	}

	c.mu.Lock()
	c.state = Idle
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
	c.positionNS.Store(0)

	logger.Info("playback ended", logger.Int("reason", int(reason)))

	// the end listener runs before done closes, so Stop does not return
	// while this stream's teardown is still pending. A stream replacing
	// this one can then attach its own state without the old listener
	// undoing it.
	if onEnd != nil {
		onEnd(reason)
	}
	close(done)
}
