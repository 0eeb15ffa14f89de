package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type plainSpan struct {
	text  string
	label string // "" when unlabeled
}

func flatten(spans []Span) []plainSpan {
	out := make([]plainSpan, 0, len(spans))
	for _, s := range spans {
		p := plainSpan{text: s.Text}
		if s.Label != nil {
			p.label = *s.Label
		}
		out = append(out, p)
	}
	return out
}

func TestHighlight(t *testing.T) {
	tests := []struct {
		name     string
		haystack string
		needle   string
		want     []plainSpan
	}{
		{
			name:     "matches and gaps",
			haystack: "the nature of nature",
			needle:   "nature",
			want: []plainSpan{
				{"the ", ""}, {"nature", "0"}, {" of ", ""}, {"nature", "0"},
			},
		},
		{
			name:     "no match",
			haystack: "banana",
			needle:   "xyz",
			want:     []plainSpan{{"banana", ""}},
		},
		{
			name:     "empty needle",
			haystack: "banana",
			needle:   "",
			want:     []plainSpan{{"banana", ""}},
		},
		{
			name:     "adjacent matches do not overlap",
			haystack: "aaa",
			needle:   "aa",
			want:     []plainSpan{{"aa", "0"}, {"a", ""}},
		},
		{
			name:     "whole haystack",
			haystack: "nature",
			needle:   "nature",
			want:     []plainSpan{{"nature", "0"}},
		},
		{
			name:     "empty haystack",
			haystack: "",
			needle:   "a",
			want:     []plainSpan{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flatten(Highlight(tt.haystack, tt.needle)))
		})
	}
}

func TestSpans_StopsEarlyAndRestarts(t *testing.T) {
	seq := Spans("a-b-a-b", "a")

	var first []string
	for s := range seq {
		first = append(first, s.Text)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "-b-"}, first)

	assert.Len(t, Highlight("a-b-a-b", "a"), 4)
	n := 0
	for range seq {
		n++
	}
	assert.Equal(t, 4, n)
}
