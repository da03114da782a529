// Package breaker implements a per-endpoint circuit breaker over a sliding
// window of call results. One breaker exists per provider/model identity and
// is shared across all concurrently executing stages.
package breaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults for breaker tuning.
const (
	// DefaultWindow is the number of recent calls tracked per endpoint.
	DefaultWindow = 100
	// DefaultMinSamples is the minimum window fill before tripping.
	DefaultMinSamples = 10
	// DefaultFailureRate is the failure fraction that opens the breaker.
	DefaultFailureRate = 0.5
	// DefaultCooldown is how long an open breaker fast-fails before probing.
	DefaultCooldown = 30 * time.Second
)

// ErrOpen is returned by Allow when the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker's gating state.
type State int

const (
	// Closed passes calls through and tracks their results.
	Closed State = iota
	// Open fast-fails every call until the cooldown elapses.
	Open
	// HalfOpen allows exactly one probe call through.
	HalfOpen
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings tunes a breaker. Zero fields take package defaults.
type Settings struct {
	Window      int
	MinSamples  int
	FailureRate float64
	Cooldown    time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Window <= 0 {
		s.Window = DefaultWindow
	}
	if s.MinSamples <= 0 {
		s.MinSamples = DefaultMinSamples
	}
	if s.FailureRate <= 0 {
		s.FailureRate = DefaultFailureRate
	}
	if s.Cooldown <= 0 {
		s.Cooldown = DefaultCooldown
	}
	return s
}

// Breaker gates calls to a single endpoint. All methods take a short
// exclusive lock; nothing is held across I/O.
type Breaker struct {
	endpoint string
	settings Settings
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	openedAt time.Time
	probing  bool
	// window is a ring of recent results, true = failure.
	window []bool
	head   int
	filled int

	// now is the clock; replaced in tests.
	now func() time.Time
}

// New creates a Breaker for the given endpoint identity.
func New(endpoint string, settings Settings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := settings.withDefaults()
	return &Breaker{
		endpoint: endpoint,
		settings: s,
		logger:   logger.Named("breaker"),
		window:   make([]bool, s.Window),
		now:      time.Now,
	}
}

// Allow reports whether a call to the endpoint may proceed. While Open it
// returns ErrOpen until the cooldown elapses, at which point the breaker
// moves to HalfOpen and admits exactly one probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) < b.settings.Cooldown {
			return ErrOpen
		}
		b.state = HalfOpen
		b.probing = true
		b.logger.Info("breaker half-open, admitting probe", zap.String("endpoint", b.endpoint))
		return nil
	case HalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Record reports one call result so the failure-rate window stays current.
// Every attempt, successful or not, must be recorded by the caller.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.probing = false
		if success {
			b.toClosed()
		} else {
			b.toOpen()
		}
		return
	case Open:
		// A straggler from before the trip; the window restarts on the
		// next Closed transition, so drop it.
		return
	}

	b.window[b.head] = !success
	b.head = (b.head + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}

	if b.filled < b.settings.MinSamples {
		return
	}
	if b.failureRate() > b.settings.FailureRate {
		b.toOpen()
	}
}

// failureRate returns the failure fraction of the filled window.
// Must be called with the lock held.
func (b *Breaker) failureRate() float64 {
	if b.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.filled)
}

// toOpen transitions to Open and records the trip time.
// Must be called with the lock held.
func (b *Breaker) toOpen() {
	b.state = Open
	b.openedAt = b.now()
	b.probing = false
	b.logger.Warn("breaker opened",
		zap.String("endpoint", b.endpoint),
		zap.Float64("failure_rate", b.failureRate()),
		zap.Int("samples", b.filled))
}

// toClosed transitions to Closed and resets the observation window.
// Must be called with the lock held.
func (b *Breaker) toClosed() {
	b.state = Closed
	b.head = 0
	b.filled = 0
	for i := range b.window {
		b.window[i] = false
	}
	b.logger.Info("breaker closed", zap.String("endpoint", b.endpoint))
}

// Snapshot is a point-in-time view of one breaker for diagnostics.
type Snapshot struct {
	Endpoint    string    `json:"endpoint"`
	State       string    `json:"state"`
	FailureRate float64   `json:"failure_rate"`
	Samples     int       `json:"samples"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
}

// Snapshot returns the breaker's current state for telemetry.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Endpoint:    b.endpoint,
		State:       b.state.String(),
		FailureRate: b.failureRate(),
		Samples:     b.filled,
	}
	if b.state != Closed {
		snap.OpenedAt = b.openedAt
	}
	return snap
}

// state accessors used by tests.

// State returns the current gating state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
