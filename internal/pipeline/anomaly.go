package pipeline

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/verbatimhq/verbatim/internal/dictionary"
)

// Detector decides whether a segment still looks misrecognised after the
// dictionary pass and therefore deserves an AI corrector call. Keeping this
// pluggable lets operators tune AI spend per deployment and lets tests force
// either branch.
type Detector interface {
	// Anomalous reports whether dictText (the post-dictionary text for a
	// segment whose raw text was rawText) should be sent to the AI corrector.
	Anomalous(rawText, dictText string, candidates []dictionary.Entry) bool
}

// DetectorFunc adapts a plain function to the [Detector] interface.
type DetectorFunc func(rawText, dictText string, candidates []dictionary.Entry) bool

func (f DetectorFunc) Anomalous(rawText, dictText string, candidates []dictionary.Entry) bool {
	return f(rawText, dictText, candidates)
}

// defaultNearMissThreshold is the Jaro-Winkler similarity above which a token
// counts as a near miss of a known dictionary term.
const defaultNearMissThreshold = 0.82

// NearMissDetector flags a segment as anomalous when the dictionary pass
// changed nothing and yet some token sits suspiciously close to a known
// dictionary term: high Jaro-Winkler similarity without being an exact match,
// or (for Latin-script tokens) an identical Double Metaphone code. Segments
// the dictionary already fixed are considered handled and skip the AI tier.
type NearMissDetector struct {
	// Threshold is the minimum Jaro-Winkler similarity for a near miss.
	// Zero means [defaultNearMissThreshold].
	Threshold float64
}

var _ Detector = NearMissDetector{}

// Anomalous implements [Detector].
func (d NearMissDetector) Anomalous(rawText, dictText string, candidates []dictionary.Entry) bool {
	if dictText != rawText {
		return false
	}
	threshold := d.Threshold
	if threshold == 0 {
		threshold = defaultNearMissThreshold
	}

	for _, token := range strings.Fields(dictText) {
		for _, e := range candidates {
			if nearMiss(token, e.WrongText, threshold) || nearMiss(token, e.CorrectText, threshold) {
				return true
			}
		}
	}
	return false
}

// nearMiss reports whether token is close to term without equalling it.
func nearMiss(token, term string, threshold float64) bool {
	if term == "" || token == term || strings.Contains(token, term) {
		return false
	}
	if matchr.JaroWinkler(token, term, false) >= threshold {
		return true
	}
	tp, ts := matchr.DoubleMetaphone(token)
	ep, es := matchr.DoubleMetaphone(term)
	if tp == "" || ep == "" {
		return false
	}
	return tp == ep || (ts != "" && ts == es)
}
