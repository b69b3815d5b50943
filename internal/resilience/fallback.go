package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// groupEntry pairs a provider value with its dedicated circuit breaker.
type groupEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the
// same provider type. When the primary fails (or its breaker is open), the
// next healthy fallback is tried in registration order.
//
// FallbackGroup is safe for concurrent use after setup; register all
// fallbacks before sharing the group.
type FallbackGroup[T any] struct {
	entries  []groupEntry[T]
	settings BreakerSettings
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Each entry gets its own breaker built from settings.
func NewFallbackGroup[T any](primary T, primaryName string, settings BreakerSettings) *FallbackGroup[T] {
	g := &FallbackGroup[T]{settings: settings}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends a fallback provider, tried after all earlier entries.
func (g *FallbackGroup[T]) AddFallback(name string, fallback T) {
	g.add(name, fallback)
}

func (g *FallbackGroup[T]) add(name string, value T) {
	settings := g.settings
	settings.Name = name
	g.entries = append(g.entries, groupEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(settings),
	})
}

// Do tries fn against each entry in order until one succeeds. Entries with an
// open breaker are skipped. Returns [ErrAllFailed] wrapping the last error
// when every entry fails.
func (g *FallbackGroup[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range g.entries {
		entry := &g.entries[i]
		err := entry.breaker.Do(func() error { return fn(entry.value) })
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", entry.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// DoWithResult tries fn against each entry until one succeeds, returning the
// result. A package-level function because Go has no method-level type
// parameters.
func DoWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		entry := &g.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
