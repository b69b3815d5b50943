// Package ledger implements the append-only correction history: one record
// per correction event, keyed by (video, segment index).
//
// Records are immutable once written except for the applied_to_dictionary
// flag, which the learning loop flips after a user correction has been folded
// into the tenant dictionary. Deletion happens only by cascade when the
// owning video or tenant is deleted.
//
// Aggregates ([Store.TenantStats]) feed the dictionary-curation tooling:
// counts by source and a coarse confidence distribution for AI corrections.
package ledger

import (
	"context"
	"time"

	"github.com/verbatimhq/verbatim/pkg/types"
)

// Record is one correction event. A record exists only when the corrected
// text differs from the original, or when the source is a user — explicit
// user action is always logged even when nothing changed.
type Record struct {
	// TenantID is the owning tenant.
	TenantID string

	// VideoID identifies the video whose transcript was corrected.
	VideoID string

	// SegmentIndex is the position of the segment within the video.
	SegmentIndex int

	// Start and End are the segment's time range in seconds.
	Start float64
	End   float64

	// OriginalText is the segment text before this correction.
	OriginalText string

	// CorrectedText is the segment text after this correction.
	CorrectedText string

	// Source is the tier that produced the correction.
	Source types.Source

	// Confidence is the AI corrector's self-reported certainty. Meaningful
	// only when Source is [types.SourceAI]; zero otherwise.
	Confidence float64

	// AppliedToDictionary is true once the learning loop has upserted this
	// correction into the tenant dictionary. The only mutable field.
	AppliedToDictionary bool

	// CreatedAt is the append time.
	CreatedAt time.Time
}

// SourceCounts aggregates record counts per correction tier.
type SourceCounts struct {
	Dictionary int64
	AI         int64
	User       int64
}

// Stats is the tenant-level aggregate used by curation tooling.
type Stats struct {
	// Counts holds per-source record counts.
	Counts SourceCounts

	// ConfidenceBuckets is a histogram of AI-correction confidence values in
	// ten equal buckets: index i covers [i/10, (i+1)/10), with 1.0 counted
	// in the last bucket.
	ConfidenceBuckets [10]int64
}

// Store is the persistence interface for the correction history.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append writes one record.
	Append(ctx context.Context, rec Record) error

	// AppendAll writes records in the given order. Callers sort by segment
	// index first so the ledger reads back in order regardless of the
	// pipeline's completion order.
	AppendAll(ctx context.Context, recs []Record) error

	// ListByVideo returns all records for videoID ordered by segment index,
	// then append time.
	ListByVideo(ctx context.Context, videoID string) ([]Record, error)

	// MarkApplied flips applied_to_dictionary on the newest user record for
	// (videoID, segmentIndex).
	MarkApplied(ctx context.Context, videoID string, segmentIndex int) error

	// TenantStats aggregates record counts by source and the AI confidence
	// distribution for tenantID.
	TenantStats(ctx context.Context, tenantID string) (Stats, error)

	// DeleteByVideo removes all records for videoID. Cascade use only.
	DeleteByVideo(ctx context.Context, videoID string) error

	// DeleteByTenant removes all records for tenantID. Cascade use only.
	DeleteByTenant(ctx context.Context, tenantID string) error
}

// BucketIndex returns the confidence histogram bucket for c, clamping values
// outside [0, 1] into the edge buckets.
func BucketIndex(c float64) int {
	switch {
	case c <= 0:
		return 0
	case c >= 1:
		return 9
	}
	return int(c * 10)
}
