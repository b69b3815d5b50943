// Package learning closes the correction feedback loop: user-submitted edits
// are persisted to the correction history and folded back into the tenant
// dictionary, so future videos benefit from every manual fix.
//
// The application step is explicit and synchronous — record first, then the
// atomic dictionary upsert, then the applied_to_dictionary flip — rather than
// hidden in a storage-engine trigger, so each step is individually testable
// and the loop works against any [dictionary.Store] backend.
package learning

import (
	"context"
	"errors"
	"fmt"

	"github.com/verbatimhq/verbatim/internal/dictionary"
	"github.com/verbatimhq/verbatim/internal/ledger"
	"github.com/verbatimhq/verbatim/internal/observe"
	"github.com/verbatimhq/verbatim/internal/tenant"
	"github.com/verbatimhq/verbatim/pkg/types"
)

// ErrInvalidCorrection is returned when a submission carries no original text.
var ErrInvalidCorrection = errors.New("learning: original text must not be empty")

// Correction is one user-submitted edit of a transcript segment.
type Correction struct {
	// SegmentIndex locates the segment within the video.
	SegmentIndex int

	// Start and End are the segment's time range in seconds.
	Start float64
	End   float64

	// Original is the segment text the user edited.
	Original string

	// Corrected is the user's replacement text.
	Corrected string
}

// EntryFailure reports one failed correction within a batch.
type EntryFailure struct {
	// Index is the correction's position in the submitted batch.
	Index int

	// Original is the failed correction's original text.
	Original string

	// Err is the failure cause.
	Err error
}

// BatchResult summarises a batch application.
type BatchResult struct {
	// Inserted counts corrections that created a new dictionary entry.
	Inserted int

	// Updated counts corrections that incremented an existing entry.
	Updated int

	// Failures lists corrections that could not be applied. Successful
	// entries are never rolled back on account of a failing sibling.
	Failures []EntryFailure
}

// Feedback applies user corrections to the history ledger and the tenant
// dictionary. Safe for concurrent use.
type Feedback struct {
	dict    dictionary.Store
	tenants tenant.Store
	history ledger.Store
	metrics *observe.Metrics
}

// Option customises a [Feedback].
type Option func(*Feedback)

// WithMetrics sets the metrics sink. Without one, [observe.DefaultMetrics]
// is used.
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Feedback) {
		if m != nil {
			f.metrics = m
		}
	}
}

// New creates a [Feedback] over the given stores.
func New(dict dictionary.Store, tenants tenant.Store, history ledger.Store, opts ...Option) *Feedback {
	f := &Feedback{dict: dict, tenants: tenants, history: history}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// applyStatus classifies what one correction did to the dictionary.
type applyStatus int

const (
	recordedOnly applyStatus = iota
	entryInserted
	entryUpdated
)

// Apply processes one user correction: persist the user record, fold the edit
// into the tenant dictionary (unless auto-learn is off or nothing changed),
// and flip the record's applied_to_dictionary flag. Explicit user submissions
// are always recorded, even when original and corrected text are identical.
func (f *Feedback) Apply(ctx context.Context, tenantID, videoID string, c Correction) error {
	_, err := f.apply(ctx, tenantID, videoID, c)
	return err
}

func (f *Feedback) apply(ctx context.Context, tenantID, videoID string, c Correction) (applyStatus, error) {
	if c.Original == "" {
		return recordedOnly, ErrInvalidCorrection
	}
	log := observe.Logger(ctx).With("tenant_id", tenantID, "video_id", videoID, "segment_index", c.SegmentIndex)

	rec := ledger.Record{
		TenantID:      tenantID,
		VideoID:       videoID,
		SegmentIndex:  c.SegmentIndex,
		Start:         c.Start,
		End:           c.End,
		OriginalText:  c.Original,
		CorrectedText: c.Corrected,
		Source:        types.SourceUser,
	}
	if err := f.history.Append(ctx, rec); err != nil {
		return recordedOnly, fmt.Errorf("learning: append record: %w", err)
	}
	f.metrics.RecordCorrection(ctx, string(types.SourceUser))

	if c.Original == c.Corrected || c.Corrected == "" {
		return recordedOnly, nil
	}

	settings, err := f.tenants.Get(ctx, tenantID)
	if err != nil {
		log.Warn("tenant settings unavailable, applying defaults", "error", err)
		settings = tenant.Defaults(tenantID)
	}
	if !settings.AutoLearn {
		log.Info("auto-learn disabled, correction recorded without dictionary update")
		return recordedOnly, nil
	}

	// Unspecified category: new entries start as general, while a user
	// re-confirming a curated person/bible entry keeps its category.
	entry, err := f.dict.Upsert(ctx, tenantID, c.Original, c.Corrected, dictionary.CategoryUnspecified)
	if err != nil {
		return recordedOnly, fmt.Errorf("learning: upsert dictionary: %w", err)
	}
	f.metrics.RecordUpsert(ctx, "feedback")

	if err := f.history.MarkApplied(ctx, videoID, c.SegmentIndex); err != nil {
		return recordedOnly, fmt.Errorf("learning: mark applied: %w", err)
	}

	log.Info("user correction learned",
		"wrong_text", c.Original,
		"correct_text", c.Corrected,
		"frequency", entry.Frequency,
	)
	if entry.Frequency == 1 {
		return entryInserted, nil
	}
	return entryUpdated, nil
}

// ApplyBatch processes corrections independently with a continue-on-error
// policy: one failing entry never aborts the batch and successful entries are
// not rolled back. The result carries per-entry failures alongside insert and
// update counts.
func (f *Feedback) ApplyBatch(ctx context.Context, tenantID, videoID string, corrections []Correction) (BatchResult, error) {
	var res BatchResult
	for i, c := range corrections {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		status, err := f.apply(ctx, tenantID, videoID, c)
		if err != nil {
			res.Failures = append(res.Failures, EntryFailure{Index: i, Original: c.Original, Err: err})
			continue
		}
		switch status {
		case entryInserted:
			res.Inserted++
		case entryUpdated:
			res.Updated++
		}
	}
	return res, nil
}
