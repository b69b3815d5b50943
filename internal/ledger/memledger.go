package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/verbatimhq/verbatim/pkg/types"
)

// Compile-time assertion that MemLedger satisfies the Store interface.
var _ Store = (*MemLedger)(nil)

// MemLedger is a mutex-guarded, in-memory implementation of [Store] for
// tests and single-process development setups.
// The zero value is ready to use.
type MemLedger struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemLedger returns an initialised [MemLedger].
func NewMemLedger() *MemLedger {
	return &MemLedger{}
}

// Append implements [Store.Append].
func (l *MemLedger) Append(ctx context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	l.records = append(l.records, rec)
	return nil
}

// AppendAll implements [Store.AppendAll].
func (l *MemLedger) AppendAll(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if err := l.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// ListByVideo implements [Store.ListByVideo].
func (l *MemLedger) ListByVideo(ctx context.Context, videoID string) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []Record{}
	for _, rec := range l.records {
		if rec.VideoID == videoID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SegmentIndex != out[j].SegmentIndex {
			return out[i].SegmentIndex < out[j].SegmentIndex
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MarkApplied implements [Store.MarkApplied].
func (l *MemLedger) MarkApplied(ctx context.Context, videoID string, segmentIndex int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.records) - 1; i >= 0; i-- {
		rec := &l.records[i]
		if rec.VideoID == videoID && rec.SegmentIndex == segmentIndex && rec.Source == types.SourceUser {
			rec.AppliedToDictionary = true
			return nil
		}
	}
	return nil
}

// TenantStats implements [Store.TenantStats].
func (l *MemLedger) TenantStats(ctx context.Context, tenantID string) (Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var stats Stats
	for _, rec := range l.records {
		if rec.TenantID != tenantID {
			continue
		}
		switch rec.Source {
		case types.SourceDictionary:
			stats.Counts.Dictionary++
		case types.SourceAI:
			stats.Counts.AI++
			stats.ConfidenceBuckets[BucketIndex(rec.Confidence)]++
		case types.SourceUser:
			stats.Counts.User++
		}
	}
	return stats, nil
}

// DeleteByVideo implements [Store.DeleteByVideo].
func (l *MemLedger) DeleteByVideo(ctx context.Context, videoID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = deleteMatching(l.records, func(r Record) bool { return r.VideoID == videoID })
	return nil
}

// DeleteByTenant implements [Store.DeleteByTenant].
func (l *MemLedger) DeleteByTenant(ctx context.Context, tenantID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = deleteMatching(l.records, func(r Record) bool { return r.TenantID == tenantID })
	return nil
}

func deleteMatching(recs []Record, match func(Record) bool) []Record {
	out := recs[:0]
	for _, r := range recs {
		if !match(r) {
			out = append(out, r)
		}
	}
	return out
}
