package query

import (
	"strings"

	"github.com/starford/notebase/internal/apperr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokPhrase
	tokField
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind   tokenKind
	text   string // raw source text of the token
	field  string // tokField only
	value  string // word, phrase body or field value
	quoted bool   // tokField with a "quoted" value
	offset int
}

var knownFields = map[string]struct{}{
	string(FieldTitle):  {},
	string(FieldTag):    {},
	string(FieldFolder): {},
	"since":             {},
	"until":             {},
}

func syntaxErr(offset int, tok, msg string) error {
	return &apperr.SyntaxError{Offset: offset, Token: tok, Msg: msg}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// lex splits input into tokens. Syntax characters are only legal as
// parentheses around terms, as the quotes of a phrase, or as the single
// colon of a field filter.
func lex(input string) ([]token, error) {
	var toks []token
	n := len(input)
	i := 0
	for i < n {
		c := input[i]
		switch {
		case isSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", offset: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", offset: i})
			i++
		case c == '"':
			end := strings.IndexByte(input[i+1:], '"')
			if end < 0 {
				return nil, syntaxErr(i, input[i:], "unterminated phrase")
			}
			body := input[i+1 : i+1+end]
			next := i + 2 + end
			if next < n && !isSpace(input[next]) && input[next] != ')' {
				return nil, syntaxErr(i, input[i:next+1], "unexpected character after phrase")
			}
			if strings.TrimSpace(body) == "" {
				return nil, syntaxErr(i, input[i:next], "empty phrase")
			}
			toks = append(toks, token{kind: tokPhrase, text: input[i:next], value: body, offset: i})
			i = next
		case c == '-':
			if i+1 >= n || isSpace(input[i+1]) || input[i+1] == ')' {
				return nil, syntaxErr(i, "-", "negation without a term")
			}
			toks = append(toks, token{kind: tokNot, text: "-", offset: i})
			i++
		default:
			tok, rparens, next, err := lexRun(input, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			for k := 0; k < rparens; k++ {
				off := next - rparens + k
				toks = append(toks, token{kind: tokRParen, text: ")", offset: off})
			}
			i = next
		}
	}
	toks = append(toks, token{kind: tokEOF, offset: n})
	return toks, nil
}

// lexRun reads a bare run starting at start: a word, an operator, or a field
// filter. Closing parentheses glued to the end of the run are counted and
// returned separately.
func lexRun(input string, start int) (token, int, int, error) {
	n := len(input)
	j := start
	for j < n && !isSpace(input[j]) {
		if input[j] == ':' && j+1 < n && input[j+1] == '"' {
			end := strings.IndexByte(input[j+2:], '"')
			if end < 0 {
				return token{}, 0, 0, syntaxErr(j+1, input[j+1:], "unterminated phrase")
			}
			j += 2 + end + 1
			continue
		}
		j++
	}
	run := input[start:j]

	end := len(run)
	for end > 0 && run[end-1] == ')' {
		end--
	}
	core := run[:end]
	rparens := len(run) - end
	if core == "" {
		return token{}, 0, 0, syntaxErr(start, run, "unexpected ')'")
	}

	switch core {
	case "AND":
		return token{kind: tokAnd, text: core, offset: start}, rparens, j, nil
	case "OR":
		return token{kind: tokOr, text: core, offset: start}, rparens, j, nil
	}

	colon := strings.IndexByte(core, ':')
	if colon < 0 {
		if k := strings.IndexAny(core, `"()`); k >= 0 {
			return token{}, 0, 0, syntaxErr(start, core, "unexpected "+quoteChar(core[k])+" in term")
		}
		return token{kind: tokWord, text: core, value: core, offset: start}, rparens, j, nil
	}

	field, value := core[:colon], core[colon+1:]
	if _, ok := knownFields[field]; !ok {
		return token{}, 0, 0, syntaxErr(start, core, "unknown field "+quoteString(field))
	}
	if value == "" {
		return token{}, 0, 0, syntaxErr(start, core, "missing value for field "+quoteString(field))
	}
	tok := token{kind: tokField, text: core, field: field, offset: start}
	if value[0] == '"' {
		if len(value) < 2 || value[len(value)-1] != '"' || strings.Contains(value[1:len(value)-1], `"`) {
			return token{}, 0, 0, syntaxErr(start, core, "malformed quoted value")
		}
		tok.value = value[1 : len(value)-1]
		tok.quoted = true
		if strings.TrimSpace(tok.value) == "" {
			return token{}, 0, 0, syntaxErr(start, core, "empty phrase")
		}
		return tok, rparens, j, nil
	}
	reserved := `:"()`
	if field == "since" || field == "until" {
		// Timestamps carry colons.
		reserved = `"()`
	}
	if k := strings.IndexAny(value, reserved); k >= 0 {
		return token{}, 0, 0, syntaxErr(start, core, "unexpected "+quoteChar(value[k])+" in field value")
	}
	tok.value = value
	return tok, rparens, j, nil
}

func quoteChar(c byte) string { return "'" + string(c) + "'" }

func quoteString(s string) string { return `"` + s + `"` }
