// Package query compiles parsed filter expressions plus sort, group and
// page directives into a store-agnostic query plan. Every field
// reference in the plan is resolved to a concrete column of the root
// type or of a to-one joined relation; relationship predicates compile
// to correlated sub-scans instead of joins so they can never multiply
// root rows.
package query

import (
	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/filter"
	"github.com/hanpama/restframe/internal/operator"
)

// ColumnRef is a resolved reference to an attribute column. Relation is
// empty for columns on the scan root; otherwise it names a to-one
// relationship whose target carries the column.
type ColumnRef struct {
	Relation string
	Target   string // target type when Relation is set
	Field    string
}

// Pred is a resolved predicate tree node.
type Pred interface{ isPred() }

// Cond applies an operator behavior to a column and, for binary
// operators, either a coerced literal value or another column.
type Cond struct {
	Col      ColumnRef
	Op       string
	Behavior operator.Behavior
	Value    any
	HasValue bool
	OtherCol *ColumnRef
}

// Exists is a correlated sub-scan over a relationship: the root row
// matches when at least one related row satisfies Inner. It never
// expands the result set with one row per match.
type Exists struct {
	Relation   string
	Quantifier filter.Quantifier
	Target     string
	// Via carries the hops of a composed relationship; empty for plain
	// relationships.
	Via   *descriptor.Composition
	Inner Pred
}

// Bool combines child predicates with a boolean connective.
type Bool struct {
	Kind     filter.ConnectiveKind
	Children []Pred
}

func (*Cond) isPred()   {}
func (*Exists) isPred() {}
func (*Bool) isPred()   {}

// SortKey orders the scan by one resolved column. Null values sort
// first regardless of direction.
type SortKey struct {
	Col  ColumnRef
	Desc bool
}

// GroupKey groups the scan by one resolved column.
type GroupKey struct {
	Col ColumnRef
}

// Plan is the compiled, store-agnostic query. Limit -1 means
// unbounded; Offset 0 starts at the first row. The window is applied
// after filtering, sorting and grouping.
type Plan struct {
	Resource *descriptor.Resource
	Filter   Pred // nil when unfiltered
	Sort     []SortKey
	Group    []GroupKey
	Limit    int
	Offset   int

	// Single attaches a post-execution cardinality check: zero rows is
	// NotFound, more than one is MultipleMatches.
	Single bool
}

// Sort is an unresolved sort directive as parsed from the request.
type Sort struct {
	Field string // possibly dotted
	Desc  bool
}

// Directives bundles the non-filter query directives.
type Directives struct {
	Sort   []Sort
	Group  []string // possibly dotted
	Single bool
}
