// Package pipeline implements the multi-tier transcript correction pipeline.
//
// Each segment walks a fixed ladder: the dictionary pass substitutes known
// misrecognitions (tenant rules shadowing global ones), then — when the
// tenant has AI correction enabled and the segment still looks anomalous —
// an AI corrector proposes a rewrite that is accepted only above the tenant's
// confidence threshold. Failure isolation is per segment: a malformed segment
// is skipped, an AI error falls back to the dictionary-pass text, and only a
// dictionary store outage aborts the whole video job.
//
// Segments within a video carry no ordering dependency and are processed by a
// bounded worker pool sized to respect AI provider rate limits. History
// records are re-sorted by segment index before persistence so the ledger
// reads back in order regardless of completion order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/verbatimhq/verbatim/internal/dictionary"
	"github.com/verbatimhq/verbatim/internal/ledger"
	"github.com/verbatimhq/verbatim/internal/observe"
	"github.com/verbatimhq/verbatim/internal/tenant"
	"github.com/verbatimhq/verbatim/pkg/provider/corrector"
	"github.com/verbatimhq/verbatim/pkg/types"
)

const (
	// defaultWorkerLimit bounds concurrent segment workers per video job.
	defaultWorkerLimit = 4

	// defaultAITimeout bounds a single AI corrector call.
	defaultAITimeout = 30 * time.Second
)

// Job is one video's correction request.
type Job struct {
	// TenantID is the owning tenant.
	TenantID string

	// VideoID identifies the video for history records.
	VideoID string

	// Segments is the raw transcript in segment order.
	Segments []types.Segment
}

// Result is the outcome of a correction job.
type Result struct {
	// Segments is the corrected transcript, same length and order as the
	// input. Malformed segments pass through unchanged.
	Segments []types.Segment

	// Records are the correction events, ordered by segment index. Empty
	// when nothing changed.
	Records []ledger.Record
}

// Pipeline orchestrates the correction tiers for one deployment. Safe for
// concurrent use; one Run per video.
type Pipeline struct {
	dict    dictionary.Store
	tenants tenant.Store
	history ledger.Store

	ai          corrector.Provider
	detect      Detector
	workerLimit int
	aiTimeout   time.Duration
	metrics     *observe.Metrics
}

// Option customises a [Pipeline].
type Option func(*Pipeline)

// WithCorrector sets the AI corrector backend. Without one, the AI tier is
// skipped regardless of tenant settings.
func WithCorrector(p corrector.Provider) Option {
	return func(pl *Pipeline) { pl.ai = p }
}

// WithWorkerLimit bounds the number of segments processed concurrently.
// Values below 1 keep the default.
func WithWorkerLimit(n int) Option {
	return func(pl *Pipeline) {
		if n >= 1 {
			pl.workerLimit = n
		}
	}
}

// WithAITimeout bounds each AI corrector call.
func WithAITimeout(d time.Duration) Option {
	return func(pl *Pipeline) {
		if d > 0 {
			pl.aiTimeout = d
		}
	}
}

// WithAnomalyDetector replaces the default [NearMissDetector].
func WithAnomalyDetector(d Detector) Option {
	return func(pl *Pipeline) {
		if d != nil {
			pl.detect = d
		}
	}
}

// WithMetrics sets the metrics sink. Without one, [observe.DefaultMetrics]
// is used.
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) {
		if m != nil {
			pl.metrics = m
		}
	}
}

// New creates a [Pipeline] over the given stores.
func New(dict dictionary.Store, tenants tenant.Store, history ledger.Store, opts ...Option) *Pipeline {
	pl := &Pipeline{
		dict:        dict,
		tenants:     tenants,
		history:     history,
		detect:      NearMissDetector{},
		workerLimit: defaultWorkerLimit,
		aiTimeout:   defaultAITimeout,
	}
	for _, opt := range opts {
		opt(pl)
	}
	if pl.metrics == nil {
		pl.metrics = observe.DefaultMetrics()
	}
	return pl
}

// outcome is one segment worker's result slot.
type outcome struct {
	text       string
	source     types.Source
	confidence float64
	changed    bool
	skipped    bool
}

// Run corrects all segments of one video. On success the returned result
// holds the corrected transcript and the history records already persisted
// (a history write failure is logged, not fatal). A dictionary store outage
// aborts the job with an error wrapping [ErrStoreUnavailable]; cancellation
// aborts with the context error and persists nothing.
func (pl *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.Run")
	defer span.End()
	log := observe.Logger(ctx).With("tenant_id", job.TenantID, "video_id", job.VideoID)

	start := time.Now()
	pl.metrics.ActiveJobs.Add(ctx, 1)
	defer func() {
		pl.metrics.ActiveJobs.Add(ctx, -1)
		pl.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	}()

	settings, err := pl.tenants.Get(ctx, job.TenantID)
	if err != nil {
		log.Warn("tenant settings unavailable, applying defaults", "error", err)
		settings = tenant.Defaults(job.TenantID)
	}

	candidates, err := pl.dict.GetCandidates(ctx, job.TenantID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: get candidates: %w", errors.Join(ErrStoreUnavailable, err))
	}

	outcomes := make([]outcome, len(job.Segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pl.workerLimit)
	for i, seg := range job.Segments {
		g.Go(func() error {
			if !seg.Valid() {
				log.Warn("skipping malformed segment", "segment_index", i, "error", ErrValidation)
				pl.metrics.SegmentsSkipped.Add(gctx, 1)
				outcomes[i] = outcome{text: seg.Text, skipped: true}
				return nil
			}
			out, err := pl.correctSegment(gctx, settings, candidates, seg, i)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A cancelled job discards all results; nothing is persisted.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Segments: make([]types.Segment, len(job.Segments))}
	for i, seg := range job.Segments {
		out := outcomes[i]
		result.Segments[i] = types.Segment{Start: seg.Start, End: seg.End, Text: out.text}
		if out.skipped || !out.changed {
			continue
		}
		result.Records = append(result.Records, ledger.Record{
			TenantID:      job.TenantID,
			VideoID:       job.VideoID,
			SegmentIndex:  i,
			Start:         seg.Start,
			End:           seg.End,
			OriginalText:  seg.Text,
			CorrectedText: out.text,
			Source:        out.source,
			Confidence:    out.confidence,
		})
		pl.metrics.RecordCorrection(ctx, string(out.source))
	}

	if len(result.Records) > 0 {
		if err := pl.history.AppendAll(ctx, result.Records); err != nil {
			log.Error("persisting correction history failed", "error", err, "records", len(result.Records))
		}
	}

	log.Info("correction job finished",
		"segments", len(job.Segments),
		"corrections", len(result.Records),
		"duration", time.Since(start),
	)
	return result, nil
}

// correctSegment runs the tier ladder for one segment.
func (pl *Pipeline) correctSegment(ctx context.Context, settings tenant.Settings, candidates []dictionary.Entry, seg types.Segment, index int) (outcome, error) {
	log := observe.Logger(ctx)

	dictText, applied := applyDictionary(seg.Text, candidates)
	for _, e := range applied {
		if _, err := pl.dict.Upsert(ctx, e.Scope, e.WrongText, e.CorrectText, e.Category); err != nil {
			return outcome{}, fmt.Errorf("pipeline: record dictionary match: %w", errors.Join(ErrStoreUnavailable, err))
		}
		pl.metrics.RecordUpsert(ctx, "match")
	}

	out := outcome{
		text:    dictText,
		source:  types.SourceDictionary,
		changed: dictText != seg.Text,
	}

	if !settings.CorrectionEnabled || pl.ai == nil {
		return out, nil
	}
	if !pl.detect.Anomalous(seg.Text, dictText, candidates) {
		return out, nil
	}

	resp, err := pl.callAI(ctx, settings, dictText)
	if err != nil {
		// Non-fatal: the segment keeps the dictionary-pass text.
		log.Warn("ai correction failed, keeping dictionary text",
			"segment_index", index, "provider", pl.ai.Name(), "error", err)
		pl.metrics.AIErrors.Add(ctx, 1, metric.WithAttributes(observe.Attr("provider", pl.ai.Name())))
		return out, nil
	}
	if resp.Confidence < settings.MinConfidence {
		pl.metrics.AIRejected.Add(ctx, 1)
		return out, nil
	}
	if resp.CorrectedText == dictText {
		return out, nil
	}

	out.text = resp.CorrectedText
	out.source = types.SourceAI
	out.confidence = resp.Confidence
	out.changed = out.text != seg.Text

	if settings.AutoLearn {
		if _, err := pl.dict.Upsert(ctx, settings.TenantID, dictText, resp.CorrectedText, dictionary.CategoryUnspecified); err != nil {
			return outcome{}, fmt.Errorf("pipeline: learn ai correction: %w", errors.Join(ErrStoreUnavailable, err))
		}
		pl.metrics.RecordUpsert(ctx, "ai")
	}
	return out, nil
}

// callAI invokes the corrector with the per-call timeout.
func (pl *Pipeline) callAI(ctx context.Context, settings tenant.Settings, text string) (*corrector.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, pl.aiTimeout)
	defer cancel()

	start := time.Now()
	resp, err := pl.ai.Correct(ctx, corrector.Request{
		Text:           text,
		ContextWords:   settings.ContextWords,
		PromptTemplate: settings.PromptTemplate,
	})
	pl.metrics.AIDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExternalService, pl.ai.Name(), err)
	}
	return resp, nil
}
