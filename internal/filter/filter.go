// Package filter defines the recursive filter expression AST and the
// parser that builds it from the client-supplied JSON representation.
// Parsing is pure: it validates structure and field names against the
// resource descriptor but never touches the data store.
package filter

// Node is one node of the boolean filter expression.
type Node interface{ isNode() }

// ConnectiveKind is the boolean connective of a Connective node.
type ConnectiveKind string

const (
	And ConnectiveKind = "and"
	Or  ConnectiveKind = "or"
	Not ConnectiveKind = "not"
)

// Quantifier scopes a nested predicate over a relationship.
type Quantifier string

const (
	// Has requires the to-one target to satisfy the inner predicate.
	Has Quantifier = "has"
	// Any requires at least one to-many target to satisfy it.
	Any Quantifier = "any"
)

// Comparison applies an operator to a field. Exactly one of Val or
// OtherField is set for binary operators; unary operators carry
// neither (HasVal false, OtherField empty).
type Comparison struct {
	// Field may be a dotted path "relation.field" where relation is
	// single-valued from the scan root.
	Field      string
	Op         string
	Val        any
	HasVal     bool
	OtherField string
}

// Relationship quantifies the Inner predicate over the named relation.
type Relationship struct {
	Relation   string
	Quantifier Quantifier
	Inner      Node
}

// Connective combines child filters. Not has exactly one child.
type Connective struct {
	Kind     ConnectiveKind
	Children []Node
}

func (*Comparison) isNode()   {}
func (*Relationship) isNode() {}
func (*Connective) isNode()   {}
