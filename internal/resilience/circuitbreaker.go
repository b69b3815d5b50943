// Package resilience provides circuit breaker and provider failover
// primitives for the AI corrector boundary.
//
// The central type is [Breaker], a three-state circuit breaker
// (closed → open → half-open) that shields the correction pipeline from a
// misbehaving model backend. [FallbackGroup] composes multiple corrector
// backends with per-entry breakers so a failing primary model is bypassed in
// favour of healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker is open and
// the cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a [Breaker]'s operating mode.
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through; the
	// breaker closes if they succeed and re-opens on the first failure.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSettings tunes a [Breaker]. Zero fields take defaults.
type BreakerSettings struct {
	// Name labels the breaker in log messages.
	Name string

	// FailureThreshold is the number of consecutive failures that trips the
	// breaker. Default: 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30s.
	Cooldown time.Duration

	// ProbeMax is the number of half-open probe calls allowed before the
	// breaker decides. Default: 3.
	ProbeMax int
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.ProbeMax <= 0 {
		s.ProbeMax = 3
	}
	return s
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	settings BreakerSettings

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewBreaker creates a [Breaker] with the supplied settings.
func NewBreaker(settings BreakerSettings) *Breaker {
	return &Breaker{settings: settings.withDefaults(), state: StateClosed}
}

// Do runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn; in the half-open state only the probe
// budget is let through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.settings.Cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("circuit breaker transitioning to half-open", "name", b.settings.Name)

	case StateHalfOpen:
		if b.probes >= b.settings.ProbeMax {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		// A single failed probe re-opens immediately.
		b.probeFails++
		b.state = StateOpen
		b.failures = b.settings.FailureThreshold
		slog.Warn("circuit breaker re-opened from half-open", "name", b.settings.Name)
		return
	}

	b.failures++
	if b.failures >= b.settings.FailureThreshold {
		b.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", b.settings.Name,
			"consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.settings.ProbeMax {
			b.state = StateClosed
			b.failures = 0
			b.probes = 0
			b.probeFails = 0
			slog.Info("circuit breaker closed after successful probes", "name", b.settings.Name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's state. An open breaker whose cooldown has
// elapsed reports half-open; the actual transition happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.settings.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeFails = 0
	slog.Info("circuit breaker manually reset", "name", b.settings.Name)
}
