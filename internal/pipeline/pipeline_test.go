package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/verbatimhq/verbatim/internal/dictionary"
	"github.com/verbatimhq/verbatim/internal/ledger"
	"github.com/verbatimhq/verbatim/internal/tenant"
	"github.com/verbatimhq/verbatim/pkg/provider/corrector"
	"github.com/verbatimhq/verbatim/pkg/provider/corrector/mock"
	"github.com/verbatimhq/verbatim/pkg/types"
)

// alwaysAnomalous forces the AI tier on for every segment.
var alwaysAnomalous = DetectorFunc(func(_, _ string, _ []dictionary.Entry) bool { return true })

type fixture struct {
	dict    *dictionary.MemStore
	tenants *tenant.MemStore
	history *ledger.MemLedger
}

func newFixture() fixture {
	return fixture{
		dict:    dictionary.NewMemStore(),
		tenants: tenant.NewMemStore(),
		history: ledger.NewMemLedger(),
	}
}

func (f fixture) pipeline(opts ...Option) *Pipeline {
	return New(f.dict, f.tenants, f.history, opts...)
}

func (f fixture) disableAI(t *testing.T, tenantID string) {
	t.Helper()
	s := tenant.Defaults(tenantID)
	s.CorrectionEnabled = false
	if err := f.tenants.Update(context.Background(), s); err != nil {
		t.Fatalf("Update settings: %v", err)
	}
}

func seg(text string) types.Segment {
	return types.Segment{Start: 0, End: 1, Text: text}
}

func TestRun_GlobalDictionaryCorrection(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()
	f.disableAI(t, "church-1")

	if _, err := f.dict.Upsert(ctx, dictionary.GlobalScope, "아브라힘", "아브라함", dictionary.CategoryPerson); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := f.pipeline().Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-1",
		Segments: []types.Segment{seg("아브라힘이 말했다")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := res.Segments[0].Text; got != "아브라함이 말했다" {
		t.Errorf("corrected text = %q, want %q", got, "아브라함이 말했다")
	}
	if len(res.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(res.Records))
	}
	rec := res.Records[0]
	if rec.Source != types.SourceDictionary {
		t.Errorf("source = %q, want dictionary", rec.Source)
	}
	if rec.OriginalText != "아브라힘이 말했다" || rec.CorrectedText != "아브라함이 말했다" {
		t.Errorf("record texts = %q -> %q", rec.OriginalText, rec.CorrectedText)
	}

	persisted, err := f.history.ListByVideo(ctx, "vid-1")
	if err != nil {
		t.Fatalf("ListByVideo: %v", err)
	}
	if len(persisted) != 1 {
		t.Errorf("persisted %d records, want 1", len(persisted))
	}
}

func TestRun_DictionaryOnlyIsDeterministic(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()
	f.disableAI(t, "church-1")

	if _, err := f.dict.Upsert(ctx, "church-1", "성경에", "말씀에", dictionary.CategoryGeneral); err != nil {
		t.Fatalf("seed: %v", err)
	}

	job := Job{
		TenantID: "church-1",
		VideoID:  "vid-1",
		Segments: []types.Segment{seg("성경에 기록된"), seg("아무 변화 없음")},
	}

	p := f.pipeline()
	first, err := p.Run(ctx, job)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := p.Run(ctx, job)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	for i := range first.Segments {
		if first.Segments[i].Text != second.Segments[i].Text {
			t.Errorf("segment %d: %q vs %q, want identical output", i, first.Segments[i].Text, second.Segments[i].Text)
		}
	}
}

func TestRun_TenantEntryNeedsNoAICall(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()

	if _, err := f.dict.Upsert(ctx, "church-1", "성경에", "말씀에", dictionary.CategoryGeneral); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ai := &mock.Provider{}
	p := f.pipeline(WithCorrector(ai)) // default NearMissDetector

	res, err := p.Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-2",
		Segments: []types.Segment{seg("성경에")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := res.Segments[0].Text; got != "말씀에" {
		t.Errorf("corrected text = %q, want 말씀에", got)
	}
	if ai.CallCount() != 0 {
		t.Errorf("AI called %d times, want 0 (dictionary tier resolved it)", ai.CallCount())
	}
	if len(res.Records) != 1 || res.Records[0].Source != types.SourceDictionary {
		t.Errorf("records = %+v, want one dictionary record", res.Records)
	}
}

func TestRun_ConfidenceGateRejects(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()

	ai := &mock.Provider{
		Response: &corrector.Response{CorrectedText: "완전히 다른 텍스트", Confidence: 0.5},
	}
	p := f.pipeline(WithCorrector(ai), WithAnomalyDetector(alwaysAnomalous))

	res, err := p.Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-3",
		Segments: []types.Segment{seg("원본 텍스트")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if ai.CallCount() != 1 {
		t.Fatalf("AI called %d times, want 1", ai.CallCount())
	}
	if got := res.Segments[0].Text; got != "원본 텍스트" {
		t.Errorf("text = %q, want dictionary-pass text kept", got)
	}
	if len(res.Records) != 0 {
		t.Errorf("got %d records, want 0 (nothing changed)", len(res.Records))
	}
}

func TestRun_AIAcceptedAndLearned(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()

	ai := &mock.Provider{
		Response: &corrector.Response{CorrectedText: "바른 텍스트", Confidence: 0.91},
	}
	p := f.pipeline(WithCorrector(ai), WithAnomalyDetector(alwaysAnomalous))

	res, err := p.Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-4",
		Segments: []types.Segment{seg("틀린 텍스트")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := res.Segments[0].Text; got != "바른 텍스트" {
		t.Errorf("text = %q, want AI correction applied", got)
	}
	if len(res.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(res.Records))
	}
	rec := res.Records[0]
	if rec.Source != types.SourceAI || rec.Confidence != 0.91 {
		t.Errorf("record = %+v, want source=ai confidence=0.91", rec)
	}

	// Auto-learn folded the accepted correction into the tenant dictionary.
	candidates, err := f.dict.GetCandidates(ctx, "church-1")
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}
	found := false
	for _, e := range candidates {
		if e.Scope == "church-1" && e.WrongText == "틀린 텍스트" && e.CorrectText == "바른 텍스트" {
			found = true
		}
	}
	if !found {
		t.Errorf("accepted AI correction not learned into tenant dictionary: %+v", candidates)
	}
}

func TestRun_AutoLearnDisabled(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()

	s := tenant.Defaults("church-1")
	s.AutoLearn = false
	if err := f.tenants.Update(ctx, s); err != nil {
		t.Fatalf("Update settings: %v", err)
	}

	ai := &mock.Provider{
		Response: &corrector.Response{CorrectedText: "바른 텍스트", Confidence: 0.95},
	}
	p := f.pipeline(WithCorrector(ai), WithAnomalyDetector(alwaysAnomalous))

	if _, err := p.Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-5",
		Segments: []types.Segment{seg("틀린 텍스트")},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	candidates, err := f.dict.GetCandidates(ctx, "church-1")
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("dictionary gained %d entries with auto-learn off", len(candidates))
	}
}

func TestRun_AIFailureFallsBackPerSegment(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()

	if _, err := f.dict.Upsert(ctx, dictionary.GlobalScope, "아브라힘", "아브라함", dictionary.CategoryPerson); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ai := &mock.Provider{Err: errors.New("upstream 503")}
	p := f.pipeline(WithCorrector(ai), WithAnomalyDetector(alwaysAnomalous))

	res, err := p.Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-6",
		Segments: []types.Segment{seg("아브라힘이 말했다"), seg("다음 구절")},
	})
	if err != nil {
		t.Fatalf("Run: %v, want AI failure to be non-fatal", err)
	}

	if got := res.Segments[0].Text; got != "아브라함이 말했다" {
		t.Errorf("segment 0 = %q, want dictionary-pass text", got)
	}
	if got := res.Segments[1].Text; got != "다음 구절" {
		t.Errorf("segment 1 = %q, want unchanged", got)
	}
}

func TestRun_MalformedSegmentSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()
	f.disableAI(t, "church-1")

	if _, err := f.dict.Upsert(ctx, dictionary.GlobalScope, "아브라힘", "아브라함", dictionary.CategoryPerson); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := f.pipeline().Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-7",
		Segments: []types.Segment{
			{Start: 5, End: 2, Text: "아브라힘"}, // inverted time range
			seg("아브라힘이 말했다"),
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := res.Segments[0].Text; got != "아브라힘" {
		t.Errorf("malformed segment text = %q, want passed through uncorrected", got)
	}
	if got := res.Segments[1].Text; got != "아브라함이 말했다" {
		t.Errorf("valid segment text = %q, want corrected", got)
	}
	if len(res.Records) != 1 || res.Records[0].SegmentIndex != 1 {
		t.Errorf("records = %+v, want one record for segment 1", res.Records)
	}
}

func TestRun_StoreOutageAbortsJob(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.disableAI(t, "church-1")

	broken := &failingDict{Store: f.dict, candidatesErr: errors.New("connection refused")}
	p := New(broken, f.tenants, f.history)

	_, err := p.Run(context.Background(), Job{
		TenantID: "church-1",
		VideoID:  "vid-8",
		Segments: []types.Segment{seg("아무 텍스트")},
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestRun_UpsertOutageAbortsJob(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()
	f.disableAI(t, "church-1")

	if _, err := f.dict.Upsert(ctx, dictionary.GlobalScope, "아브라힘", "아브라함", dictionary.CategoryPerson); err != nil {
		t.Fatalf("seed: %v", err)
	}

	broken := &failingDict{Store: f.dict, upsertErr: errors.New("connection refused")}
	p := New(broken, f.tenants, f.history)

	_, err := p.Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-9",
		Segments: []types.Segment{seg("아브라힘이 말했다")},
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestRun_MatchIncrementsFrequency(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()
	f.disableAI(t, "church-1")

	if _, err := f.dict.Upsert(ctx, dictionary.GlobalScope, "아브라힘", "아브라함", dictionary.CategoryPerson); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := f.pipeline().Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-10",
		Segments: []types.Segment{seg("아브라힘이 말했다")},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	top, err := f.dict.TopTerms(ctx, "church-1", 10)
	if err != nil {
		t.Fatalf("TopTerms: %v", err)
	}
	if len(top) != 1 || top[0].Frequency != 2 {
		t.Errorf("top terms = %+v, want frequency 2 after one matched run", top)
	}
}

func TestRun_CancelledJobPersistsNothing(t *testing.T) {
	t.Parallel()
	f := newFixture()

	ai := &mock.Provider{
		Response: &corrector.Response{CorrectedText: "바른 텍스트", Confidence: 0.95},
		Delay:    50 * time.Millisecond,
	}
	p := f.pipeline(WithCorrector(ai), WithAnomalyDetector(alwaysAnomalous))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-11",
		Segments: []types.Segment{seg("틀린 텍스트")},
	})
	if err == nil {
		t.Fatal("Run on cancelled context succeeded, want error")
	}

	persisted, lerr := f.history.ListByVideo(context.Background(), "vid-11")
	if lerr != nil {
		t.Fatalf("ListByVideo: %v", lerr)
	}
	if len(persisted) != 0 {
		t.Errorf("persisted %d records for cancelled job, want 0", len(persisted))
	}
}

func TestRun_RecordsOrderedBySegmentIndex(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()
	f.disableAI(t, "church-1")

	if _, err := f.dict.Upsert(ctx, dictionary.GlobalScope, "아브라힘", "아브라함", dictionary.CategoryPerson); err != nil {
		t.Fatalf("seed: %v", err)
	}

	segments := make([]types.Segment, 16)
	for i := range segments {
		segments[i] = seg("아브라힘이 말했다")
	}

	res, err := f.pipeline(WithWorkerLimit(8)).Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-12",
		Segments: segments,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Records) != 16 {
		t.Fatalf("got %d records, want 16", len(res.Records))
	}
	for i, rec := range res.Records {
		if rec.SegmentIndex != i {
			t.Errorf("record %d has segment index %d, want ordered by index", i, rec.SegmentIndex)
		}
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	t.Parallel()
	f := newFixture()

	var mu sync.Mutex
	inFlight, peak := 0, 0
	ai := &mock.Provider{
		CorrectFunc: func(ctx context.Context, req corrector.Request) (*corrector.Response, error) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return &corrector.Response{CorrectedText: req.Text, Confidence: 0.9}, nil
		},
	}

	p := f.pipeline(WithCorrector(ai), WithAnomalyDetector(alwaysAnomalous), WithWorkerLimit(2))

	segments := make([]types.Segment, 12)
	for i := range segments {
		segments[i] = seg("고칠 것 없는 텍스트")
	}
	if _, err := p.Run(context.Background(), Job{
		TenantID: "church-1",
		VideoID:  "vid-13",
		Segments: segments,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if peak > 2 {
		t.Errorf("peak concurrent AI calls = %d, want <= 2", peak)
	}
}

func TestRun_SettingsOutageFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()

	if _, err := f.dict.Upsert(ctx, dictionary.GlobalScope, "아브라힘", "아브라함", dictionary.CategoryPerson); err != nil {
		t.Fatalf("seed: %v", err)
	}

	broken := &failingTenants{err: errors.New("connection refused")}
	p := New(f.dict, broken, f.history)

	res, err := p.Run(ctx, Job{
		TenantID: "church-1",
		VideoID:  "vid-14",
		Segments: []types.Segment{seg("아브라힘이 말했다")},
	})
	if err != nil {
		t.Fatalf("Run: %v, want settings outage to be non-fatal", err)
	}
	if got := res.Segments[0].Text; got != "아브라함이 말했다" {
		t.Errorf("text = %q, want dictionary correction under default settings", got)
	}
}

// failingDict wraps a real store and injects failures.
type failingDict struct {
	dictionary.Store
	candidatesErr error
	upsertErr     error
}

func (f *failingDict) GetCandidates(ctx context.Context, tenantID string) ([]dictionary.Entry, error) {
	if f.candidatesErr != nil {
		return nil, f.candidatesErr
	}
	return f.Store.GetCandidates(ctx, tenantID)
}

func (f *failingDict) Upsert(ctx context.Context, scope, wrong, correct string, cat dictionary.Category) (dictionary.Entry, error) {
	if f.upsertErr != nil {
		return dictionary.Entry{}, f.upsertErr
	}
	return f.Store.Upsert(ctx, scope, wrong, correct, cat)
}

// failingTenants always errors.
type failingTenants struct{ err error }

func (f *failingTenants) Get(ctx context.Context, tenantID string) (tenant.Settings, error) {
	return tenant.Settings{}, f.err
}

func (f *failingTenants) Update(ctx context.Context, s tenant.Settings) error { return f.err }
