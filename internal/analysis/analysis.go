// Package analysis turns note fields into index terms.
//
// Prose fields (title, content) use the normalized analyzer: lowercase, split
// on anything that is not a letter or digit. Identifier fields (path, tags)
// use the exact analyzer, which keeps the verbatim value as one term so that
// a hyphenated identifier only ever matches whole.
package analysis

import (
	"strings"
	"unicode"
)

// Field names used by the index.
const (
	FieldPath    = "path"
	FieldTitle   = "title"
	FieldContent = "content"
	FieldTag     = "tag"
)

// Token is one term and its position within the analyzed field.
type Token struct {
	Term     string
	Position int
}

// Normalize splits text into lowercase alphanumeric tokens.
func Normalize(text string) []Token {
	var (
		out []Token
		b   strings.Builder
	)
	flush := func() {
		if b.Len() == 0 {
			return
		}
		out = append(out, Token{Term: b.String(), Position: len(out)})
		b.Reset()
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return out
}

// Terms is Normalize without positions.
func Terms(text string) []string {
	toks := Normalize(text)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Term
	}
	return out
}

// Exact returns value as a single token, case preserved. Empty values yield
// no token.
func Exact(value string) []Token {
	if value == "" {
		return nil
	}
	return []Token{{Term: value}}
}

// Posting aggregates the occurrences of one term inside one field.
type Posting struct {
	Term      string
	Frequency int
	Positions []int
}

// Postings groups tokens by term, preserving first-occurrence order.
func Postings(tokens []Token) []Posting {
	idx := make(map[string]int, len(tokens))
	var out []Posting
	for _, t := range tokens {
		i, ok := idx[t.Term]
		if !ok {
			i = len(out)
			idx[t.Term] = i
			out = append(out, Posting{Term: t.Term})
		}
		out[i].Frequency++
		out[i].Positions = append(out[i].Positions, t.Position)
	}
	return out
}
