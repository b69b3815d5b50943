// Package prompt builds the bias prompt fed back into the upstream
// transcriber. Seeding the transcriber with the tenant's canonical vocabulary
// (curated context words plus the most frequently corrected dictionary terms)
// reduces misrecognitions at the source, before the correction pipeline ever
// sees the text.
//
// Transcribers enforce a hard prompt-length ceiling, so the prompt is built
// against a rune budget with a deterministic truncation order: the base
// prompt is never truncated, context words are always fully retained, and
// dictionary terms are dropped from the low-frequency tail until the budget
// is satisfied.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/verbatimhq/verbatim/internal/dictionary"
	"github.com/verbatimhq/verbatim/internal/tenant"
)

const (
	// DefaultBudget is the rune budget applied when none is configured,
	// sized under the prompt ceiling of common transcription engines.
	DefaultBudget = 600

	// DefaultTermLimit caps how many dictionary terms are considered before
	// budget truncation.
	DefaultTermLimit = 50

	// DefaultBase is the instruction prefix used when no base prompt is
	// configured.
	DefaultBase = "다음은 교회 설교 영상입니다. 아래 용어들이 자주 등장합니다:"
)

// termSeparator joins vocabulary items in the prompt body.
const termSeparator = ", "

// Build assembles base + contextWords + terms into one prompt, truncated to
// budget runes. Terms must arrive ordered by descending frequency; they are
// dropped from the tail first. The base prompt and context words are always
// emitted in full, even when they alone exceed the budget. A budget <= 0
// disables truncation.
func Build(base string, contextWords []string, terms []dictionary.Entry, budget int) string {
	var b strings.Builder
	b.WriteString(base)

	seen := make(map[string]bool, len(contextWords)+len(terms))
	empty := true
	appendWord := func(w string) {
		if b.Len() > 0 {
			if empty {
				b.WriteString("\n")
			} else {
				b.WriteString(termSeparator)
			}
		}
		b.WriteString(w)
		seen[w] = true
		empty = false
	}

	for _, w := range contextWords {
		if w == "" || seen[w] {
			continue
		}
		appendWord(w)
	}

	// Mandatory part is in place; terms only join while the budget holds.
	used := utf8.RuneCountInString(b.String())
	for _, e := range terms {
		w := e.CorrectText
		if w == "" || seen[w] {
			continue
		}
		cost := utf8.RuneCountInString(w)
		switch {
		case !empty:
			cost += utf8.RuneCountInString(termSeparator)
		case b.Len() > 0:
			cost++ // newline before the first vocabulary item
		}
		if budget > 0 && used+cost > budget {
			break
		}
		appendWord(w)
		used += cost
	}

	return b.String()
}

// Builder derives per-tenant bias prompts from the dictionary and the
// tenant's settings.
type Builder struct {
	dict    dictionary.Store
	tenants tenant.Store

	base      string
	budget    int
	termLimit int
}

// Option customises a [Builder].
type Option func(*Builder)

// WithBase sets the instruction prefix.
func WithBase(base string) Option {
	return func(b *Builder) { b.base = base }
}

// WithBudget sets the rune budget. Values <= 0 disable truncation.
func WithBudget(n int) Option {
	return func(b *Builder) { b.budget = n }
}

// WithTermLimit caps the dictionary terms fetched per prompt.
func WithTermLimit(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.termLimit = n
		}
	}
}

// NewBuilder creates a [Builder] over the given stores.
func NewBuilder(dict dictionary.Store, tenants tenant.Store, opts ...Option) *Builder {
	b := &Builder{
		dict:      dict,
		tenants:   tenants,
		base:      DefaultBase,
		budget:    DefaultBudget,
		termLimit: DefaultTermLimit,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ForTenant builds the bias prompt for tenantID. A configured
// [tenant.Settings.PromptOverride] replaces the computed prompt entirely.
func (b *Builder) ForTenant(ctx context.Context, tenantID string) (string, error) {
	settings, err := b.tenants.Get(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("prompt: get settings: %w", err)
	}
	if settings.PromptOverride != "" {
		return settings.PromptOverride, nil
	}

	terms, err := b.dict.TopTerms(ctx, tenantID, b.termLimit)
	if err != nil {
		return "", fmt.Errorf("prompt: top terms: %w", err)
	}
	return Build(b.base, settings.ContextWords, terms, b.budget), nil
}
