package generation

import (
	"sync"
	"time"
)

// TimeoutConfig sizes an adaptive deadline. A fixed timeout either wastes
// time on providers that never start or kills providers mid-way through a
// large plan; extending once on early evidence of progress balances both.
type TimeoutConfig struct {
	Base               time.Duration
	Extension          time.Duration
	ExtensionThreshold time.Duration

	// Now is a test seam; defaults to time.Now.
	Now func() time.Time
}

// AdaptiveTimeout arms a deadline at Base from creation. NotifyFirstModule
// before ExtensionThreshold has elapsed extends the deadline by Extension,
// measured from the original start, at most once. Cancel disarms the deadline
// without marking it timed out. One controller serves exactly one attempt.
type AdaptiveTimeout struct {
	mu        sync.Mutex
	now       func() time.Time
	start     time.Time
	deadline  time.Time
	threshold time.Duration
	timer     *time.Timer
	done      chan struct{}
	timedOut  bool
	extended  bool
	cancelled bool
	extension time.Duration
}

func NewAdaptiveTimeout(cfg TimeoutConfig) *AdaptiveTimeout {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	t := &AdaptiveTimeout{
		now:       now,
		start:     now(),
		threshold: cfg.ExtensionThreshold,
		extension: cfg.Extension,
		done:      make(chan struct{}),
	}
	t.deadline = t.start.Add(cfg.Base)
	t.timer = time.AfterFunc(cfg.Base, t.expire)
	return t
}

// Done is closed exactly once, when the (possibly extended) deadline elapses.
func (t *AdaptiveTimeout) Done() <-chan struct{} { return t.done }

func (t *AdaptiveTimeout) TimedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timedOut
}

func (t *AdaptiveTimeout) DidExtend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.extended
}

// NotifyFirstModule reports early progress. Calling it again, or after the
// threshold has passed, has no effect.
func (t *AdaptiveTimeout) NotifyFirstModule() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.extended || t.timedOut || t.cancelled {
		return
	}
	elapsed := t.now().Sub(t.start)
	if elapsed >= t.threshold {
		return
	}
	t.extended = true
	t.deadline = t.deadline.Add(t.extension)
	t.timer.Reset(t.deadline.Sub(t.now()))
}

// Cancel disarms the deadline without marking it timed out, for use when the
// operation finishes first.
func (t *AdaptiveTimeout) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timedOut || t.cancelled {
		return
	}
	t.cancelled = true
	t.timer.Stop()
}

func (t *AdaptiveTimeout) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timedOut || t.cancelled {
		return
	}
	// The timer may have fired just as an extension was granted; re-arm
	// instead of expiring when the deadline moved.
	if now := t.now(); now.Before(t.deadline) {
		t.timer.Reset(t.deadline.Sub(now))
		return
	}
	t.timedOut = true
	close(t.done)
}
