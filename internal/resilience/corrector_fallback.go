package resilience

import (
	"context"
	"strings"

	"github.com/verbatimhq/verbatim/pkg/provider/corrector"
)

// CorrectorFallback implements [corrector.Provider] with automatic failover
// across multiple model backends — typically a high-quality remote model
// backed by a cheaper or local one. Each backend has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback is
// tried. An [ErrAllFailed] result reaches the pipeline as an ordinary
// corrector error and resolves through its per-segment fallback path.
type CorrectorFallback struct {
	group *FallbackGroup[corrector.Provider]
	names []string
}

// Compile-time interface assertion.
var _ corrector.Provider = (*CorrectorFallback)(nil)

// NewCorrectorFallback creates a [CorrectorFallback] with primary as the
// preferred backend.
func NewCorrectorFallback(primary corrector.Provider, settings BreakerSettings) *CorrectorFallback {
	return &CorrectorFallback{
		group: NewFallbackGroup(primary, primary.Name(), settings),
		names: []string{primary.Name()},
	}
}

// AddFallback registers an additional corrector backend, tried after all
// earlier entries.
func (f *CorrectorFallback) AddFallback(provider corrector.Provider) {
	f.group.AddFallback(provider.Name(), provider)
	f.names = append(f.names, provider.Name())
}

// Correct sends the request to the first healthy backend and returns its
// response.
func (f *CorrectorFallback) Correct(ctx context.Context, req corrector.Request) (*corrector.Response, error) {
	return DoWithResult(f.group, func(p corrector.Provider) (*corrector.Response, error) {
		return p.Correct(ctx, req)
	})
}

// Name identifies the whole group for logging and metrics.
func (f *CorrectorFallback) Name() string {
	return strings.Join(f.names, "+")
}
