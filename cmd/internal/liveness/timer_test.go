package liveness

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/clock"
)

func newTestTimer(grace time.Duration) (*Timer, *clock.FakeClock) {
	c := clock.NewFake(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("test", grace, c, log), c
}

func TestTimer_FiresAfterTimeoutPlusGrace(t *testing.T) {
	t.Parallel()

	timer, c := newTestTimer(5 * time.Second)
	fired := 0
	timer.Arm(10*time.Second, func() { fired++ })

	c.Advance(14 * time.Second)
	if fired != 0 {
		t.Fatalf("fired before timeout+grace")
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired=%d want 1", fired)
	}
	if timer.Armed() {
		t.Fatalf("timer still armed after firing")
	}
}

func TestTimer_ResetPostponesExpiry(t *testing.T) {
	t.Parallel()

	timer, c := newTestTimer(5 * time.Second)
	fired := 0
	timer.Arm(10*time.Second, func() { fired++ })

	for range 5 {
		c.Advance(12 * time.Second)
		timer.Reset()
	}
	if fired != 0 {
		t.Fatalf("timer fired despite resets")
	}
	c.Advance(15 * time.Second)
	if fired != 1 {
		t.Fatalf("fired=%d want 1", fired)
	}
}

func TestTimer_ResetAfterFireDoesNotRearm(t *testing.T) {
	t.Parallel()

	timer, c := newTestTimer(0)
	fired := 0
	timer.Arm(time.Second, func() { fired++ })
	c.Advance(time.Second)

	timer.Reset()
	c.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("fired=%d want 1", fired)
	}
	if got := c.PendingCount(); got != 0 {
		t.Fatalf("PendingCount()=%d want 0", got)
	}
}

func TestTimer_ArmReplacesCallbackAndTimeout(t *testing.T) {
	t.Parallel()

	timer, c := newTestTimer(0)
	var got string
	timer.Arm(time.Second, func() { got = "first" })
	timer.Arm(10*time.Second, func() { got = "second" })

	c.Advance(5 * time.Second)
	if got != "" {
		t.Fatalf("old arm fired: %q", got)
	}
	c.Advance(5 * time.Second)
	if got != "second" {
		t.Fatalf("got=%q want second", got)
	}
}

func TestTimer_StopDisarms(t *testing.T) {
	t.Parallel()

	timer, c := newTestTimer(time.Second)
	fired := false
	timer.Arm(time.Second, func() { fired = true })
	timer.Stop()
	timer.Reset()

	c.Advance(time.Minute)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestTimer_ResetBeforeArmIsNoop(t *testing.T) {
	t.Parallel()

	timer, c := newTestTimer(time.Second)
	timer.Reset()

	if timer.Armed() {
		t.Fatalf("Reset armed a fresh timer")
	}
	if got := c.PendingCount(); got != 0 {
		t.Fatalf("PendingCount()=%d want 0", got)
	}
	c.Advance(time.Hour)
	if timer.Armed() {
		t.Fatalf("timer armed after advancing")
	}
}
