package query

import (
	"strings"
	"time"

	"github.com/starford/notebase/internal/notepath"
)

// Parse compiles input into a query tree. Relative dates resolve against now.
// Every failure is an *apperr.SyntaxError.
func Parse(input string, now time.Time) (Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, syntaxErr(0, "", "empty query")
	}
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, now: now}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		if t.kind == tokRParen {
			return nil, syntaxErr(t.offset, t.text, "unbalanced ')'")
		}
		return nil, syntaxErr(t.offset, t.text, "unexpected token")
	}
	return n, nil
}

type parser struct {
	toks []token
	pos  int
	now  time.Time
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	nodes := []Node{first}
	for p.peek().kind == tokOr {
		op := p.next()
		if !startsUnary(p.peek().kind) {
			return nil, syntaxErr(op.offset, op.text, "OR without right operand")
		}
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return &Or{Nodes: nodes}, nil
}

func (p *parser) parseAnd() (Node, error) {
	if t := p.peek(); t.kind == tokAnd || t.kind == tokOr {
		return nil, syntaxErr(t.offset, t.text, t.text+" without left operand")
	}
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	nodes := []Node{first}
	for {
		t := p.peek()
		if t.kind == tokAnd {
			p.next()
			if !startsUnary(p.peek().kind) {
				return nil, syntaxErr(t.offset, t.text, "AND without right operand")
			}
		} else if !startsUnary(t.kind) {
			break
		}
		n, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return first, nil
	}
	return &And{Nodes: nodes}, nil
}

func startsUnary(k tokenKind) bool {
	switch k {
	case tokWord, tokPhrase, tokField, tokLParen, tokNot:
		return true
	}
	return false
}

func (p *parser) parseUnary() (Node, error) {
	if p.peek().kind != tokNot {
		return p.parsePrimary()
	}
	p.next()
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return &Not{Node: n}, nil
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokWord:
		return &Term{Text: t.value}, nil
	case tokPhrase:
		return &Phrase{Text: t.value}, nil
	case tokField:
		return p.fieldNode(t)
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, syntaxErr(t.offset, "(", "unbalanced '('")
		}
		p.next()
		return &Group{Node: n}, nil
	case tokRParen:
		return nil, syntaxErr(t.offset, t.text, "unbalanced ')'")
	case tokAnd, tokOr:
		return nil, syntaxErr(t.offset, t.text, t.text+" without left operand")
	case tokNot:
		return nil, syntaxErr(t.offset, t.text, "double negation")
	default:
		return nil, syntaxErr(t.offset, "", "unexpected end of query")
	}
}

func (p *parser) fieldNode(t token) (Node, error) {
	switch t.field {
	case "since", "until":
		r, err := dateRange(t.field, t.value, p.now)
		if err != nil {
			return nil, syntaxErr(t.offset, t.text, err.Error())
		}
		return r, nil
	case string(FieldFolder):
		folder, err := notepath.NormalizeFolder(t.value)
		if err != nil {
			return nil, syntaxErr(t.offset, t.text, "invalid folder: "+err.Error())
		}
		return &FieldFilter{Field: FieldFolder, Value: folder, Quoted: t.quoted}, nil
	default:
		return &FieldFilter{Field: Field(t.field), Value: t.value, Quoted: t.quoted}, nil
	}
}
