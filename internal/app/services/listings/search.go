package listings

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// fuzzyMinLen is the shortest query word allowed one typo.
const fuzzyMinLen = 5

// Query is a parsed search string.
type Query struct {
	raw   string
	words []string
}

// ParseQuery lower-cases q and splits it into words.
func ParseQuery(q string) Query {
	raw := strings.ToLower(strings.TrimSpace(q))
	return Query{raw: raw, words: tokenize(raw)}
}

// Empty reports whether the query matches everything.
func (q Query) Empty() bool { return q.raw == "" }

// Match reports whether fields satisfy q. The whole query as a substring of
// any field is a match; otherwise every query word must match some word of
// the fields, exactly as a prefix or within one edit for longer words.
func (q Query) Match(fields ...string) bool {
	if q.Empty() {
		return true
	}
	var tokens []string
	for _, f := range fields {
		lf := strings.ToLower(f)
		if strings.Contains(lf, q.raw) {
			return true
		}
		tokens = append(tokens, tokenize(lf)...)
	}
	if len(q.words) == 0 {
		return false
	}
	for _, w := range q.words {
		if !matchesAny(w, tokens) {
			return false
		}
	}
	return true
}

func matchesAny(word string, tokens []string) bool {
	for _, t := range tokens {
		if strings.HasPrefix(t, word) {
			return true
		}
		if len([]rune(word)) >= fuzzyMinLen && levenshtein.ComputeDistance(word, t) <= 1 {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
