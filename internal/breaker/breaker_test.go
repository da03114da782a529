package breaker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

// testClock makes the breaker's notion of time controllable.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(s Settings) (*Breaker, *testClock) {
	b := New("anthropic/claude-sonnet-4-20250514", s, zap.NewNop())
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	b.now = clock.now
	return b, clock
}

func TestBreakerOpensAboveFailureRate(t *testing.T) {
	b, _ := newTestBreaker(Settings{Window: 100, MinSamples: 10, FailureRate: 0.5})

	// 6 failures out of 10 exceeds the 50% threshold.
	for i := 0; i < 4; i++ {
		b.Record(true)
	}
	for i := 0; i < 6; i++ {
		b.Record(false)
	}

	if got := b.State(); got != Open {
		t.Fatalf("state = %s, want open", got)
	}
	if err := b.Allow(); err != ErrOpen {
		t.Errorf("Allow() = %v, want ErrOpen", err)
	}
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	b, _ := newTestBreaker(Settings{Window: 100, MinSamples: 10, FailureRate: 0.5})

	// 100% failures but only 9 samples: below the minimum, no trip.
	for i := 0; i < 9; i++ {
		b.Record(false)
	}

	if got := b.State(); got != Closed {
		t.Errorf("state = %s, want closed", got)
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() = %v, want nil", err)
	}
}

func TestBreakerHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	b, clock := newTestBreaker(Settings{Window: 20, MinSamples: 10, FailureRate: 0.5, Cooldown: 30 * time.Second})

	for i := 0; i < 10; i++ {
		b.Record(false)
	}
	if got := b.State(); got != Open {
		t.Fatalf("state = %s, want open", got)
	}

	// Before the cooldown every call is rejected.
	clock.advance(29 * time.Second)
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("Allow() before cooldown = %v, want ErrOpen", err)
	}

	// After the cooldown exactly one probe passes.
	clock.advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe Allow() = %v, want nil", err)
	}
	if got := b.State(); got != HalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}
	if err := b.Allow(); err != ErrOpen {
		t.Errorf("second concurrent Allow() = %v, want ErrOpen", err)
	}
}

func TestBreakerHalfOpenSuccessClosesAndResetsWindow(t *testing.T) {
	b, clock := newTestBreaker(Settings{Window: 20, MinSamples: 10, FailureRate: 0.5, Cooldown: time.Second})

	for i := 0; i < 10; i++ {
		b.Record(false)
	}
	clock.advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe Allow() = %v", err)
	}

	b.Record(true)
	if got := b.State(); got != Closed {
		t.Fatalf("state after probe success = %s, want closed", got)
	}

	// The window was reset: old failures no longer count toward a trip.
	snap := b.Snapshot()
	if snap.Samples != 0 {
		t.Errorf("window samples after reset = %d, want 0", snap.Samples)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Settings{Window: 20, MinSamples: 10, FailureRate: 0.5, Cooldown: time.Second})

	for i := 0; i < 10; i++ {
		b.Record(false)
	}
	clock.advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe Allow() = %v", err)
	}

	b.Record(false)
	if got := b.State(); got != Open {
		t.Fatalf("state after probe failure = %s, want open", got)
	}

	// The cooldown restarted from the probe failure.
	if err := b.Allow(); err != ErrOpen {
		t.Errorf("Allow() after reopen = %v, want ErrOpen", err)
	}
	clock.advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after second cooldown = %v, want nil", err)
	}
}

func TestRegistrySharesBreakerPerEndpoint(t *testing.T) {
	reg := NewRegistry(Settings{}, zap.NewNop())

	a := reg.For("anthropic/claude-sonnet-4-20250514")
	b := reg.For("anthropic/claude-sonnet-4-20250514")
	c := reg.For("openai/gpt-4o")

	if a != b {
		t.Error("same endpoint returned distinct breakers")
	}
	if a == c {
		t.Error("different endpoints share a breaker")
	}
	if got := len(reg.Snapshots()); got != 2 {
		t.Errorf("Snapshots() len = %d, want 2", got)
	}
}
