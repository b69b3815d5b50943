// Package mock provides a test double for the corrector.Provider interface.
//
// Use Provider in unit tests to feed controlled correction responses without
// a live model backend and to assert on the requests the pipeline sends.
//
// Example:
//
//	p := &mock.Provider{
//	    Response: &corrector.Response{CorrectedText: "아브라함이 말했다", Confidence: 0.92},
//	}
//	resp, err := p.Correct(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/verbatimhq/verbatim/pkg/provider/corrector"
)

// Call records a single invocation of Correct.
type Call struct {
	// Ctx is the context passed to Correct.
	Ctx context.Context
	// Req is the Request passed to Correct.
	Req corrector.Request
}

// Provider is a mock implementation of corrector.Provider.
// Zero values cause Correct to echo the input text with zero confidence.
// Set Err to inject errors, Delay to simulate latency.
type Provider struct {
	mu sync.Mutex

	// Response is returned by Correct. When nil, the input text is echoed
	// back with zero confidence.
	Response *corrector.Response

	// Err, if non-nil, is returned as the error from Correct.
	Err error

	// Delay makes Correct block for the given duration (or until the
	// context is done) before returning. Useful for timeout tests.
	Delay time.Duration

	// CorrectFunc, when set, overrides all of the above for full control.
	CorrectFunc func(ctx context.Context, req corrector.Request) (*corrector.Response, error)

	// Calls records every invocation of Correct in order.
	Calls []Call
}

// Compile-time interface check.
var _ corrector.Provider = (*Provider)(nil)

// Name implements corrector.Provider.
func (p *Provider) Name() string { return "mock" }

// Correct implements corrector.Provider.
func (p *Provider) Correct(ctx context.Context, req corrector.Request) (*corrector.Response, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	fn := p.CorrectFunc
	resp, err, delay := p.Response, p.Err, p.Delay
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &corrector.Response{CorrectedText: req.Text, Confidence: 0}, nil
	}
	out := *resp
	return &out, nil
}

// CallCount returns the number of recorded Correct invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
