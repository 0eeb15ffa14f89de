package engine

import (
	"iter"
	"strings"
)

// MatchLabel labels every span that is an occurrence of the needle.
const MatchLabel = "0"

// Span is one piece of a highlighted window. Label is nil for text
// between matches.
type Span struct {
	Text  string  `json:"text"`
	Label *string `json:"label"`
}

// Spans splits haystack into the literal, non-overlapping occurrences of
// needle, scanned left to right, and the gaps between them. An empty
// needle yields the whole haystack as one unlabeled span.
func Spans(haystack, needle string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		if needle == "" {
			yield(Span{Text: haystack})
			return
		}
		label := MatchLabel
		rest := haystack
		for rest != "" {
			i := strings.Index(rest, needle)
			if i < 0 {
				yield(Span{Text: rest})
				return
			}
			if i > 0 && !yield(Span{Text: rest[:i]}) {
				return
			}
			if !yield(Span{Text: needle, Label: &label}) {
				return
			}
			rest = rest[i+len(needle):]
		}
	}
}

// Highlight collects Spans into a slice.
func Highlight(haystack, needle string) []Span {
	var spans []Span
	for s := range Spans(haystack, needle) {
		spans = append(spans, s)
	}
	return spans
}
