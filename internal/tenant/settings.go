// Package tenant holds per-tenant correction settings.
//
// Settings are lazily created: the first read for an unknown tenant returns
// (and persists) the documented defaults with a warning log, so a missing
// configuration row never fails a correction job. Only tenant admins mutate
// settings; enforcement of that is the caller's concern.
package tenant

import (
	"context"
	"log/slog"
)

// DefaultMinConfidence is the AI confidence gate applied when a tenant has
// not configured its own threshold.
const DefaultMinConfidence = 0.7

// Settings configures how the correction pipeline treats one tenant.
type Settings struct {
	// TenantID is the owning tenant.
	TenantID string

	// PromptOverride replaces the computed STT bias prompt entirely when
	// non-empty.
	PromptOverride string

	// Language is the tenant's primary transcript language (BCP 47-ish tag).
	Language string

	// CorrectionEnabled gates the AI correction tier. Dictionary correction
	// always runs.
	CorrectionEnabled bool

	// QualityMode selects the corrector model tier ("standard" or "high").
	QualityMode string

	// AutoLearn controls whether user corrections are folded back into the
	// tenant dictionary.
	AutoLearn bool

	// MinConfidence is the AI confidence gate in [0, 1]. AI results below
	// this are discarded in favour of the dictionary-pass text.
	MinConfidence float64

	// PromptTemplate overrides the corrector's default system prompt.
	PromptTemplate string

	// ContextWords are tenant-curated terms fed to both the STT bias prompt
	// and the AI corrector. Order is preserved.
	ContextWords []string
}

// Defaults returns the documented default settings for tenantID.
func Defaults(tenantID string) Settings {
	return Settings{
		TenantID:          tenantID,
		Language:          "ko",
		CorrectionEnabled: true,
		QualityMode:       "standard",
		AutoLearn:         true,
		MinConfidence:     DefaultMinConfidence,
	}
}

// Store is the persistence interface for tenant settings.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the settings for tenantID, lazily creating the defaults
	// on first access.
	Get(ctx context.Context, tenantID string) (Settings, error)

	// Update replaces the settings for s.TenantID.
	Update(ctx context.Context, s Settings) error
}

// logDefaulted records that a tenant was served defaults because no settings
// row existed yet.
func logDefaulted(tenantID string) {
	slog.Warn("tenant settings missing, applying defaults", "tenant_id", tenantID)
}
