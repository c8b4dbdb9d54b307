// Package query compiles search strings into an abstract query tree.
//
// The grammar, lowest precedence first:
//
//	Or      := And ('OR' And)*
//	And     := Unary (('AND')? Unary)*
//	Unary   := '-' Primary | Primary
//	Primary := '(' Or ')' | Phrase | FieldFilter | Term
//
// Field filters are title:, tag:, folder:, since: and until:. The tree is
// independent of any index; see index.DB.Search for evaluation.
package query

import (
	"fmt"
	"strings"
	"time"
)

// Node is one node of a compiled query.
type Node interface {
	fmt.Stringer
	node()
}

// Field is a filterable field name.
type Field string

const (
	FieldTitle  Field = "title"
	FieldTag    Field = "tag"
	FieldFolder Field = "folder"
)

// Term matches a single bare word against title and content.
type Term struct {
	Text string
}

// Phrase matches consecutive words against title and content.
type Phrase struct {
	Text string
}

// FieldFilter restricts a match to one field.
type FieldFilter struct {
	Field Field
	Value string
	// Quoted is set when the value was written as "a phrase".
	Quoted bool
}

// DateRange bounds updated_at. A nil bound is open. Both bounds are inclusive.
type DateRange struct {
	Field string
	From  *time.Time
	To    *time.Time
}

// And matches documents matched by every child.
type And struct {
	Nodes []Node
}

// Or matches documents matched by any child.
type Or struct {
	Nodes []Node
}

// Not matches every document its child does not.
type Not struct {
	Node Node
}

// Group is a parenthesized sub-expression.
type Group struct {
	Node Node
}

func (*Term) node()        {}
func (*Phrase) node()      {}
func (*FieldFilter) node() {}
func (*DateRange) node()   {}
func (*And) node()         {}
func (*Or) node()          {}
func (*Not) node()         {}
func (*Group) node()       {}

func (n *Term) String() string   { return n.Text }
func (n *Phrase) String() string { return fmt.Sprintf("%q", n.Text) }

func (n *FieldFilter) String() string {
	if n.Quoted {
		return fmt.Sprintf("%s:%q", n.Field, n.Value)
	}
	return string(n.Field) + ":" + n.Value
}

func (n *DateRange) String() string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "*"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s[%s..%s]", n.Field, bound(n.From), bound(n.To))
}

func (n *And) String() string   { return "AND(" + join(n.Nodes) + ")" }
func (n *Or) String() string    { return "OR(" + join(n.Nodes) + ")" }
func (n *Not) String() string   { return "NOT(" + n.Node.String() + ")" }
func (n *Group) String() string { return "(" + n.Node.String() + ")" }

func join(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ", ")
}
