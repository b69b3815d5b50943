package pipeline

import (
	"sort"
	"strings"

	"github.com/verbatimhq/verbatim/internal/dictionary"
)

// match is one candidate substitution located in a segment text. Offsets are
// byte positions into the original string.
type match struct {
	start int
	end   int
	entry dictionary.Entry
}

func (m match) length() int { return m.end - m.start }

// findMatches locates every occurrence of every candidate's wrong text in
// text. Occurrences may overlap each other; resolution happens in
// selectMatches.
func findMatches(text string, candidates []dictionary.Entry) []match {
	var out []match
	for _, e := range candidates {
		if e.WrongText == "" {
			continue
		}
		for from := 0; ; {
			i := strings.Index(text[from:], e.WrongText)
			if i < 0 {
				break
			}
			start := from + i
			out = append(out, match{start: start, end: start + len(e.WrongText), entry: e})
			from = start + len(e.WrongText)
		}
	}
	return out
}

// selectMatches resolves overlapping matches deterministically: longest match
// wins; on a tie, higher frequency wins; on a further tie, a tenant-scoped
// entry beats a global one; finally the leftmost occurrence wins. Accepted
// matches never overlap and are returned in left-to-right order.
func selectMatches(matches []match) []match {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.length() != b.length() {
			return a.length() > b.length()
		}
		if a.entry.Frequency != b.entry.Frequency {
			return a.entry.Frequency > b.entry.Frequency
		}
		at := a.entry.Scope != dictionary.GlobalScope
		bt := b.entry.Scope != dictionary.GlobalScope
		if at != bt {
			return at
		}
		return a.start < b.start
	})

	var accepted []match
	for _, m := range matches {
		overlaps := false
		for _, a := range accepted {
			if m.start < a.end && a.start < m.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, m)
		}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].start < accepted[j].start })
	return accepted
}

// applyDictionary runs the dictionary pass over text: all non-overlapping
// matches against candidates are substituted left-to-right. Returns the
// substituted text and the entries that were applied, in application order.
func applyDictionary(text string, candidates []dictionary.Entry) (string, []dictionary.Entry) {
	selected := selectMatches(findMatches(text, candidates))
	if len(selected) == 0 {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))
	applied := make([]dictionary.Entry, 0, len(selected))
	pos := 0
	for _, m := range selected {
		b.WriteString(text[pos:m.start])
		b.WriteString(m.entry.CorrectText)
		applied = append(applied, m.entry)
		pos = m.end
	}
	b.WriteString(text[pos:])
	return b.String(), applied
}
