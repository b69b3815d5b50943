// Package verbatim defines the shared types used across all Verbatim packages.
//
// These types form the lingua franca between the transcriber boundary, the
// correction pipeline, and the downstream renderer. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

// Segment is one timestamped unit of transcript text as produced by the
// upstream transcriber. Start and End are offsets from the beginning of the
// video, in seconds.
type Segment struct {
	// Start is the segment start offset in seconds.
	Start float64 `json:"start"`

	// End is the segment end offset in seconds.
	End float64 `json:"end"`

	// Text is the raw transcript text for this segment.
	Text string `json:"text"`
}

// Valid reports whether the segment is well-formed: non-empty text and a
// non-negative, non-inverted time range. Malformed segments are skipped by
// the pipeline rather than failing the whole video.
func (s Segment) Valid() bool {
	return s.Text != "" && s.Start >= 0 && s.End >= s.Start
}

// Source identifies which correction tier produced a substitution.
type Source string

const (
	// SourceDictionary marks corrections applied from the global or
	// tenant dictionary.
	SourceDictionary Source = "dictionary"

	// SourceAI marks corrections produced by the AI contextual corrector
	// and accepted by the confidence gate.
	SourceAI Source = "ai"

	// SourceUser marks corrections submitted by a human editor.
	SourceUser Source = "user"
)

// IsValid reports whether s is a recognised correction source.
func (s Source) IsValid() bool {
	switch s {
	case SourceDictionary, SourceAI, SourceUser:
		return true
	}
	return false
}
