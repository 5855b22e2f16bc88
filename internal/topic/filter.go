//go:generate go run go.uber.org/mock/mockgen -source=filter.go -destination=../mocks/mock_filter.go -package=mocks
package topic

import (
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Filter decides whether a custom topic may be used as a room name.
type Filter interface {
	Allowed(topic string) bool
}

// DefaultBlocklist is the list of words a custom topic may not contain.
var DefaultBlocklist = []string{
	"hate", "racist", "violence", "abuse", "harassment", "discrimination",
	"suicide", "self-harm", "drug", "illegal", "scam", "fraud",
}

// WordFilter rejects topics containing any blocked word, matched as a
// substring after case folding. The automaton is built once.
type WordFilter struct {
	matcher *goahocorasick.Machine
}

// NewWordFilter builds a WordFilter from words. An empty list allows every
// topic.
func NewWordFilter(words []string) (*WordFilter, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		w := []rune(strings.ToLower(strings.TrimSpace(word)))
		if len(w) == 0 {
			continue
		}
		patterns = append(patterns, w)
	}
	if len(patterns) == 0 {
		return &WordFilter{}, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &WordFilter{matcher: m}, nil
}

// Allowed reports whether topic contains none of the blocked words.
func (f *WordFilter) Allowed(topic string) bool {
	if f.matcher == nil {
		return true
	}
	text := []rune(strings.Map(unicode.ToLower, topic))
	return len(f.matcher.MultiPatternSearch(text, true)) == 0
}
