// Package dictionary implements the correction dictionary: a tenant-scoped
// plus global ledger of known speech-to-text misrecognitions with atomic
// frequency bookkeeping.
//
// Entries live in two tiers. The global tier (scope "") holds rules shared by
// every tenant; the tenant tier holds rules private to one tenant. When both
// tiers contain a rule for the same wrong text, the tenant rule shadows the
// global one entirely — the global row is excluded from candidate sets.
//
// The dictionary is the only state shared across videos and tenants, so all
// mutation goes through [Store.Upsert], a single indivisible insert-or-increment
// primitive. Concurrent writers correcting the same term across different
// videos never lose an increment; no caller-side locking is required.
//
// Entries are never hard-deleted. Retiring a rule sets active=false via
// [Store.Deactivate], preserving its frequency history for curation tooling.
package dictionary

import (
	"context"
	"errors"
	"time"
)

// GlobalScope is the scope value of dictionary entries shared by all tenants.
const GlobalScope = ""

// Category classifies a dictionary entry for curation and prompt-building.
// The set is closed; unrecognised values normalise to [CategoryGeneral] at
// ingestion.
type Category string

const (
	CategoryPerson  Category = "person"
	CategoryPlace   Category = "place"
	CategoryBible   Category = "bible"
	CategoryHymn    Category = "hymn"
	CategoryGeneral Category = "general"

	// CategoryUnspecified is an [Store.Upsert] sentinel: keep the stored
	// category when the entry exists, start at [CategoryGeneral] when it
	// does not. Learning paths use it so a frequency bump on a curated
	// person/bible entry never demotes the entry to general.
	CategoryUnspecified Category = ""
)

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryPerson, CategoryPlace, CategoryBible, CategoryHymn, CategoryGeneral:
		return true
	}
	return false
}

// NormalizeCategory maps free-text category values onto the closed set.
// Anything unrecognised (including the empty string) becomes [CategoryGeneral].
func NormalizeCategory(s string) Category {
	c := Category(s)
	if c.IsValid() {
		return c
	}
	return CategoryGeneral
}

// Entry is one correction rule. Entries are unique on (Scope, WrongText):
// global entries are unique across the whole system, tenant entries unique
// per tenant.
type Entry struct {
	// Scope is [GlobalScope] for shared entries or the owning tenant's ID.
	Scope string

	// WrongText is the misrecognised text as produced by the transcriber.
	WrongText string

	// CorrectText is the replacement. Last-write-wins on repeat upserts.
	CorrectText string

	// Category classifies the entry.
	Category Category

	// Frequency counts how many times this rule has been confirmed — by an
	// accepted AI correction or a user edit. Strictly additive, always >= 1.
	Frequency int64

	// Active is false for retired entries. Inactive entries are excluded
	// from candidate sets but keep their history.
	Active bool

	// Description is free-text curation metadata from seed imports.
	Description string

	// Priority is curation ordering metadata from seed imports. It is never
	// used as a runtime tie-break.
	Priority int

	// UpdatedAt is the time of the last upsert touching this entry.
	UpdatedAt time.Time
}

// SeedRow is one row of the bulk-loadable dictionary seed format.
type SeedRow struct {
	// Category is free text; unrecognised values map to general.
	Category string `yaml:"category"`

	// Original is the misrecognised text.
	Original string `yaml:"original"`

	// Replacement is the corrected text.
	Replacement string `yaml:"replacement"`

	// Description documents the rule for curators.
	Description string `yaml:"description"`

	// Priority is curation ordering metadata only.
	Priority int `yaml:"priority"`
}

// ErrInvalidEntry is returned when an upsert carries empty wrong or correct text.
var ErrInvalidEntry = errors.New("dictionary: wrong and correct text must not be empty")

// Store is the persistence interface for the correction dictionary.
//
// Implementations must be safe for concurrent use, and Upsert must be a single
// indivisible operation — never a read-modify-write sequence.
type Store interface {
	// Upsert inserts (scope, wrongText) at frequency 1, or atomically
	// increments the existing entry's frequency while overwriting its
	// correct text with the latest value. A concrete category overwrites
	// the stored one; [CategoryUnspecified] preserves it (general on
	// insert). Upserting a retired entry reactivates it. Returns the entry
	// as stored.
	Upsert(ctx context.Context, scope, wrongText, correctText string, cat Category) (Entry, error)

	// GetCandidates returns the active correction rules visible to tenantID:
	// global and tenant entries merged, with a tenant entry shadowing the
	// global entry for the same wrong text. Order is unspecified.
	GetCandidates(ctx context.Context, tenantID string) ([]Entry, error)

	// TopTerms returns up to limit merged entries for tenantID ordered by
	// frequency descending, ties broken by most recent update. A limit
	// <= 0 returns all merged entries. Tenant shadowing applies as in
	// GetCandidates.
	TopTerms(ctx context.Context, tenantID string, limit int) ([]Entry, error)

	// Deactivate retires an entry (active=false). It is not an error if the
	// entry does not exist.
	Deactivate(ctx context.Context, scope, wrongText string) error

	// ImportSeed loads one curated seed row into scope. Unlike Upsert it
	// never inflates frequency: a new row starts at 1, an existing row keeps
	// its count and only refreshes content and curation metadata. Reports
	// whether a new entry was inserted.
	ImportSeed(ctx context.Context, scope string, row SeedRow) (inserted bool, err error)
}
