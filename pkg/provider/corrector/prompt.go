package corrector

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultPromptTemplate is the conservative system prompt used when a tenant
// has not configured its own. The single %s verb receives the formatted
// context-word list.
const DefaultPromptTemplate = `You are a transcript correction assistant for speech-to-text output of sermons and public speeches.

Your task: fix transcription errors in the provided text.

Rules:
- ONLY correct words that appear to be misrecognised by the transcriber.
- Do NOT rephrase, summarise, or change sentence structure.
- Be conservative — if you are not confident a word is a misrecognition, leave it unchanged.
- Proper nouns, scripture references, and hymn titles from the known terms list below are authoritative spellings.

Known terms:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected text>",
  "confidence": <0.0-1.0>
}

If no correction is needed, return the input text unchanged with your confidence.`

// modelResponse is the JSON structure every backend asks the model to return.
type modelResponse struct {
	CorrectedText string  `json:"corrected_text"`
	Confidence    float64 `json:"confidence"`
}

// BuildSystemPrompt formats the system prompt for req, substituting the
// context-word list into the tenant template (or [DefaultPromptTemplate]).
func BuildSystemPrompt(req Request) string {
	tmpl := req.PromptTemplate
	if tmpl == "" {
		tmpl = DefaultPromptTemplate
	}

	var sb strings.Builder
	for _, w := range req.ContextWords {
		sb.WriteString("- ")
		sb.WriteString(w)
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		sb.WriteString("(none)\n")
	}
	return fmt.Sprintf(tmpl, sb.String())
}

// ParseResponse decodes the model's reply into a [Response]. Markdown code
// fences are stripped first, since some models wrap JSON output in them.
//
// An unparseable reply is not an error: the input text is returned unchanged
// with zero confidence, so the pipeline's confidence gate rejects it and the
// segment keeps its dictionary-pass text.
func ParseResponse(content, inputText string) *Response {
	var r modelResponse
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &r); err != nil {
		return &Response{CorrectedText: inputText, Confidence: 0}
	}
	if r.CorrectedText == "" {
		return &Response{CorrectedText: inputText, Confidence: 0}
	}
	return &Response{
		CorrectedText: r.CorrectedText,
		Confidence:    clamp01(r.Confidence),
	}
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
