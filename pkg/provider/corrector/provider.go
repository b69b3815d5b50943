// Package corrector defines the Provider interface for the AI contextual
// correction boundary.
//
// A corrector wraps a remote or local language model (e.g., OpenAI GPT-4o or
// a local Ollama instance) and exposes a uniform interface for the correction
// pipeline: segment text in, corrected text plus a self-reported confidence
// out. The call is opaque and timeout-bounded; the pipeline treats any failure
// as non-fatal and falls back to the dictionary-only result for that segment.
//
// Implementations must be safe for concurrent use.
package corrector

import "context"

// Request carries everything the corrector needs for one segment.
type Request struct {
	// Text is the segment text after the dictionary pass.
	Text string

	// ContextWords are tenant-curated terms the model should treat as
	// canonical vocabulary (speaker names, place names, recurring phrases).
	ContextWords []string

	// PromptTemplate overrides the provider's default system prompt when
	// non-empty. The template must contain a single %s verb that receives
	// the formatted context-word list.
	PromptTemplate string
}

// Response is the corrector's answer for one segment.
type Response struct {
	// CorrectedText is the model's corrected version of the input text.
	// Equal to the input when the model found nothing to fix.
	CorrectedText string

	// Confidence is the model's self-reported certainty in [0, 1]. The
	// pipeline discards the correction when this falls below the tenant's
	// minimum confidence.
	Confidence float64
}

// Provider is a single AI corrector backend.
//
// Correct must respect context cancellation and deadlines. A response that
// cannot be parsed is not an error: implementations return the input text
// unchanged with zero confidence so the pipeline's confidence gate rejects it.
type Provider interface {
	// Correct asks the model to fix misrecognitions in req.Text.
	Correct(ctx context.Context, req Request) (*Response, error)

	// Name identifies the backend for logging and metrics (e.g., "openai").
	Name() string
}
