package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verbatimhq/verbatim/internal/dictionary"
	"github.com/verbatimhq/verbatim/internal/learning"
	"github.com/verbatimhq/verbatim/internal/ledger"
	"github.com/verbatimhq/verbatim/internal/observe"
	"github.com/verbatimhq/verbatim/internal/pipeline"
	"github.com/verbatimhq/verbatim/internal/tenant"
	"github.com/verbatimhq/verbatim/pkg/types"
)

// maxBodyBytes caps request bodies. A full sermon transcript with records
// stays well under this.
const maxBodyBytes = 10 << 20

// buildHandler assembles the HTTP API. All /v1 routes plus the operational
// endpoints share the observe middleware, so every request carries a span and
// a correlation ID.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/videos/{video}/correct", a.handleCorrect)
	mux.HandleFunc("POST /v1/feedback", a.handleFeedback)
	mux.HandleFunc("GET /v1/prompt/{tenant}", a.handlePrompt)
	mux.HandleFunc("GET /v1/history/{video}", a.handleHistory)
	mux.HandleFunc("GET /v1/stats/{tenant}", a.handleStats)
	mux.HandleFunc("GET /v1/tenants/{tenant}/settings", a.handleGetSettings)
	mux.HandleFunc("PUT /v1/tenants/{tenant}/settings", a.handlePutSettings)
	mux.HandleFunc("POST /v1/dictionary/seed", a.handleSeedImport)

	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// ─── Wire types ──────────────────────────────────────────────────────────────

// recordJSON is the wire form of a history record.
type recordJSON struct {
	TenantID            string       `json:"tenant_id"`
	VideoID             string       `json:"video_id"`
	SegmentIndex        int          `json:"segment_index"`
	Start               float64      `json:"start"`
	End                 float64      `json:"end"`
	OriginalText        string       `json:"original_text"`
	CorrectedText       string       `json:"corrected_text"`
	Source              types.Source `json:"source"`
	Confidence          float64      `json:"confidence,omitempty"`
	AppliedToDictionary bool         `json:"applied_to_dictionary"`
}

func toRecordJSON(rec ledger.Record) recordJSON {
	return recordJSON{
		TenantID:            rec.TenantID,
		VideoID:             rec.VideoID,
		SegmentIndex:        rec.SegmentIndex,
		Start:               rec.Start,
		End:                 rec.End,
		OriginalText:        rec.OriginalText,
		CorrectedText:       rec.CorrectedText,
		Source:              rec.Source,
		Confidence:          rec.Confidence,
		AppliedToDictionary: rec.AppliedToDictionary,
	}
}

// settingsJSON is the wire form of tenant settings.
type settingsJSON struct {
	TenantID          string   `json:"tenant_id"`
	PromptOverride    string   `json:"prompt_override,omitempty"`
	Language          string   `json:"language"`
	CorrectionEnabled bool     `json:"correction_enabled"`
	QualityMode       string   `json:"quality_mode"`
	AutoLearn         bool     `json:"auto_learn"`
	MinConfidence     float64  `json:"min_confidence"`
	PromptTemplate    string   `json:"prompt_template,omitempty"`
	ContextWords      []string `json:"context_words,omitempty"`
}

func toSettingsJSON(s tenant.Settings) settingsJSON {
	return settingsJSON{
		TenantID:          s.TenantID,
		PromptOverride:    s.PromptOverride,
		Language:          s.Language,
		CorrectionEnabled: s.CorrectionEnabled,
		QualityMode:       s.QualityMode,
		AutoLearn:         s.AutoLearn,
		MinConfidence:     s.MinConfidence,
		PromptTemplate:    s.PromptTemplate,
		ContextWords:      s.ContextWords,
	}
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// ─── Correction ──────────────────────────────────────────────────────────────

type correctRequest struct {
	TenantID string          `json:"tenant_id"`
	Segments []types.Segment `json:"segments"`
}

type correctResponse struct {
	Segments []types.Segment `json:"segments"`
	Records  []recordJSON    `json:"records"`
}

func (a *App) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if !a.readJSON(w, r, &req) {
		return
	}
	if req.TenantID == "" {
		a.badRequest(w, "tenant_id is required")
		return
	}
	if len(req.Segments) == 0 {
		a.badRequest(w, "segments must not be empty")
		return
	}

	res, err := a.pipeline.Run(r.Context(), pipeline.Job{
		TenantID: req.TenantID,
		VideoID:  r.PathValue("video"),
		Segments: req.Segments,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := correctResponse{
		Segments: res.Segments,
		Records:  make([]recordJSON, 0, len(res.Records)),
	}
	for _, rec := range res.Records {
		resp.Records = append(resp.Records, toRecordJSON(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Feedback ────────────────────────────────────────────────────────────────

type correctionJSON struct {
	SegmentIndex int     `json:"segment_index"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Original     string  `json:"original"`
	Corrected    string  `json:"corrected"`
}

type feedbackRequest struct {
	TenantID string `json:"tenant_id"`
	VideoID  string `json:"video_id"`

	// Correction submits a single edit; Corrections a batch. Exactly one of
	// the two must be present.
	Correction  *correctionJSON  `json:"correction,omitempty"`
	Corrections []correctionJSON `json:"corrections,omitempty"`
}

type failureJSON struct {
	Index    int    `json:"index"`
	Original string `json:"original"`
	Error    string `json:"error"`
}

type feedbackResponse struct {
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Failures []failureJSON `json:"failures,omitempty"`
}

func (a *App) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !a.readJSON(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.VideoID == "" {
		a.badRequest(w, "tenant_id and video_id are required")
		return
	}

	var corrections []correctionJSON
	switch {
	case req.Correction != nil && len(req.Corrections) > 0:
		a.badRequest(w, "provide either correction or corrections, not both")
		return
	case req.Correction != nil:
		corrections = []correctionJSON{*req.Correction}
	case len(req.Corrections) > 0:
		corrections = req.Corrections
	default:
		a.badRequest(w, "correction or corrections is required")
		return
	}

	batch := make([]learning.Correction, 0, len(corrections))
	for _, c := range corrections {
		batch = append(batch, learning.Correction{
			SegmentIndex: c.SegmentIndex,
			Start:        c.Start,
			End:          c.End,
			Original:     c.Original,
			Corrected:    c.Corrected,
		})
	}

	res, err := a.feedback.ApplyBatch(r.Context(), req.TenantID, req.VideoID, batch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := feedbackResponse{Inserted: res.Inserted, Updated: res.Updated}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, failureJSON{
			Index:    f.Index,
			Original: f.Original,
			Error:    f.Err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Prompt, history, stats ──────────────────────────────────────────────────

type promptResponse struct {
	TenantID string `json:"tenant_id"`
	Prompt   string `json:"prompt"`
}

func (a *App) handlePrompt(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	p, err := a.prompts.ForTenant(r.Context(), tenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, promptResponse{TenantID: tenantID, Prompt: p})
}

type historyResponse struct {
	VideoID string       `json:"video_id"`
	Records []recordJSON `json:"records"`
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("video")
	recs, err := a.history.ListByVideo(r.Context(), videoID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := historyResponse{VideoID: videoID, Records: make([]recordJSON, 0, len(recs))}
	for _, rec := range recs {
		resp.Records = append(resp.Records, toRecordJSON(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

type sourceCountsJSON struct {
	Dictionary int64 `json:"dictionary"`
	AI         int64 `json:"ai"`
	User       int64 `json:"user"`
}

type statsResponse struct {
	TenantID          string           `json:"tenant_id"`
	Counts            sourceCountsJSON `json:"counts"`
	ConfidenceBuckets [10]int64        `json:"confidence_buckets"`
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	stats, err := a.history.TenantStats(r.Context(), tenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TenantID: tenantID,
		Counts: sourceCountsJSON{
			Dictionary: stats.Counts.Dictionary,
			AI:         stats.Counts.AI,
			User:       stats.Counts.User,
		},
		ConfidenceBuckets: stats.ConfidenceBuckets,
	})
}

// ─── Tenant settings ─────────────────────────────────────────────────────────

func (a *App) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.tenants.Get(r.Context(), r.PathValue("tenant"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsJSON(s))
}

func (a *App) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsJSON
	if !a.readJSON(w, r, &req) {
		return
	}
	if req.MinConfidence < 0 || req.MinConfidence > 1 {
		a.badRequest(w, "min_confidence must be in [0, 1]")
		return
	}

	// The path owns the tenant identity; a mismatching body is rejected
	// rather than silently rerouted.
	tenantID := r.PathValue("tenant")
	if req.TenantID != "" && req.TenantID != tenantID {
		a.badRequest(w, "tenant_id in body does not match path")
		return
	}

	s := tenant.Settings{
		TenantID:          tenantID,
		PromptOverride:    req.PromptOverride,
		Language:          req.Language,
		CorrectionEnabled: req.CorrectionEnabled,
		QualityMode:       req.QualityMode,
		AutoLearn:         req.AutoLearn,
		MinConfidence:     req.MinConfidence,
		PromptTemplate:    req.PromptTemplate,
		ContextWords:      req.ContextWords,
	}
	if err := a.tenants.Update(r.Context(), s); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsJSON(s))
}

// ─── Dictionary seeding ──────────────────────────────────────────────────────

type seedFailureJSON struct {
	Original string `json:"original"`
	Error    string `json:"error"`
}

type seedResponse struct {
	Scope    string            `json:"scope"`
	Inserted int               `json:"inserted"`
	Updated  int               `json:"updated"`
	Failures []seedFailureJSON `json:"failures,omitempty"`
}

// handleSeedImport accepts a dictionary seed file as the request body — the
// same YAML format initSeeds loads from disk.
func (a *App) handleSeedImport(w http.ResponseWriter, r *http.Request) {
	sf, err := dictionary.LoadSeedFromReader(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}

	res, err := dictionary.ImportSeedFile(r.Context(), a.dict, sf)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := seedResponse{Scope: sf.Scope, Inserted: res.Inserted, Updated: res.Updated}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, seedFailureJSON{Original: f.Original, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// readJSON decodes the request body into v, rejecting unknown fields. On
// failure it writes a 400 response and reports false.
func (a *App) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.badRequest(w, fmt.Sprintf("decode request body: %v", err))
		return false
	}
	return true
}

func (a *App) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps domain errors onto HTTP status codes and logs the failure
// with the request's correlation ID.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, learning.ErrInvalidCorrection),
		errors.Is(err, dictionary.ErrInvalidEntry),
		errors.Is(err, pipeline.ErrValidation):
		status = http.StatusBadRequest
	}

	observe.Logger(r.Context()).Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"err", err,
	)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}
