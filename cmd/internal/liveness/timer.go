// Package liveness detects a silent peer: once armed, the timer fires
// unless it is reset within the negotiated timeout plus a grace period.
package liveness

import (
	"log/slog"
	"sync"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/clock"
)

// DefaultGrace is added to every negotiated timeout.
const DefaultGrace = 5 * time.Second

// Timer is a re-armable watchdog. After it fires it stays inert until Arm
// is called again; Reset on an inert timer does nothing.
type Timer struct {
	label string
	grace time.Duration
	clock clock.Clock
	log   *slog.Logger

	mu       sync.Mutex
	timeout  time.Duration
	onExpire func()
	pending  *clock.Timer
	gen      uint64
}

func New(label string, grace time.Duration, c clock.Clock, log *slog.Logger) *Timer {
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Timer{label: label, grace: grace, clock: c, log: log}
}

// Arm starts (or restarts) the countdown with a new timeout and callback.
func (t *Timer) Arm(timeout time.Duration, onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timeout = timeout
	t.onExpire = onExpire
	t.scheduleLocked()
}

// Reset restarts the countdown if the timer is armed.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.onExpire == nil {
		return
	}
	t.scheduleLocked()
}

// Stop disarms the timer without firing it.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	t.onExpire = nil
	t.pending.Stop()
	t.pending = nil
}

// Armed reports whether the timer will fire if left alone.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onExpire != nil
}

func (t *Timer) scheduleLocked() {
	t.pending.Stop()

	d := t.timeout + t.grace
	if d <= 0 {
		d = time.Second
	}
	t.gen++
	gen := t.gen
	t.pending = t.clock.AfterFunc(d, func() { t.fire(gen) })
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.onExpire == nil {
		t.mu.Unlock()
		return
	}
	fn := t.onExpire
	timeout := t.timeout
	t.onExpire = nil
	t.pending = nil
	t.mu.Unlock()

	t.log.Warn("liveness.expired",
		"timer", t.label,
		"timeout", timeout.String(),
		"grace", t.grace.String(),
	)
	fn()
}
