// Package operator maps filter operator names to their behavior. A
// behavior carries both an in-memory evaluation function and an SQL
// rendering template so every backend dispatches through one table.
// Registration overwrites: a custom operator may replace a built-in.
package operator

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Kind classifies how many operands a behavior consumes.
type Kind int

const (
	// Binary operators compare a column against a value or another column.
	Binary Kind = iota
	// Unary operators test the column alone (null checks).
	Unary
	// Relation operators quantify a nested predicate over a relationship.
	Relation
)

// EvalFunc evaluates a binary or unary behavior against in-memory
// values. For unary behaviors rhs is nil and ignored.
type EvalFunc func(lhs, rhs any) (bool, error)

// Behavior is the semantics bound to an operator name.
type Behavior struct {
	Kind Kind
	Eval EvalFunc
	// SQL is a fmt template with one verb per operand, e.g. "%s >= %s"
	// or "%s IS NULL". Empty means the behavior is memory-only.
	SQL string
}

// Registry is the process-wide name → behavior table.
type Registry struct {
	mu    sync.RWMutex
	table map[string]Behavior
}

// NewRegistry returns a registry seeded with the built-in operator set.
func NewRegistry() *Registry {
	r := &Registry{table: make(map[string]Behavior, len(builtins))}
	for name, b := range builtins {
		r.table[name] = b
	}
	return r
}

// Register binds name to b, overwriting any existing entry of the same
// name, including built-ins.
func (r *Registry) Register(name string, b Behavior) {
	r.mu.Lock()
	r.table[name] = b
	r.mu.Unlock()
}

// Lookup returns the behavior bound to name.
func (r *Registry) Lookup(name string) (Behavior, bool) {
	r.mu.RLock()
	b, ok := r.table[name]
	r.mu.RUnlock()
	return b, ok
}

func binary(sql string, eval EvalFunc) Behavior {
	return Behavior{Kind: Binary, Eval: eval, SQL: sql}
}

func ordered(sql string, accept func(c int) bool) Behavior {
	return binary(sql, func(lhs, rhs any) (bool, error) {
		if lhs == nil || rhs == nil {
			return false, nil
		}
		c, err := Compare(lhs, rhs)
		if err != nil {
			return false, err
		}
		return accept(c), nil
	})
}

var builtins = map[string]Behavior{
	"is_null": {Kind: Unary, SQL: "%s IS NULL",
		Eval: func(lhs, _ any) (bool, error) { return lhs == nil, nil }},
	"is_not_null": {Kind: Unary, SQL: "%s IS NOT NULL",
		Eval: func(lhs, _ any) (bool, error) { return lhs != nil, nil }},

	"eq": ordered("%s = %s", func(c int) bool { return c == 0 }),
	"ne": binary("%s <> %s", func(lhs, rhs any) (bool, error) {
		if lhs == nil || rhs == nil {
			return false, nil
		}
		c, err := Compare(lhs, rhs)
		if err != nil {
			return false, err
		}
		return c != 0, nil
	}),
	"gt": ordered("%s > %s", func(c int) bool { return c > 0 }),
	"ge": ordered("%s >= %s", func(c int) bool { return c >= 0 }),
	"lt": ordered("%s < %s", func(c int) bool { return c < 0 }),
	"le": ordered("%s <= %s", func(c int) bool { return c <= 0 }),

	"in": binary("%s IN %s", evalIn),
	"not_in": binary("%s NOT IN %s", func(lhs, rhs any) (bool, error) {
		ok, err := evalIn(lhs, rhs)
		return !ok && err == nil, err
	}),

	"like":  binary("%s LIKE %s", evalLike(false)),
	"ilike": binary("%s ILIKE %s", evalLike(true)),
	"not_like": binary("%s NOT LIKE %s", func(lhs, rhs any) (bool, error) {
		ok, err := evalLike(false)(lhs, rhs)
		return !ok && err == nil, err
	}),

	"has": {Kind: Relation},
	"any": {Kind: Relation},
}

// aliases maps alternate spellings onto canonical operator names,
// mirroring the usual shorthand families (==, gte, not_equal_to, ...).
var aliases = map[string]string{
	"==": "eq", "equals": "eq", "equal_to": "eq",
	"!=": "ne", "neq": "ne", "not_equal_to": "ne", "does_not_equal": "ne",
	">": "gt", "<": "lt",
	">=": "ge", "gte": "ge", "geq": "ge",
	"<=": "le", "lte": "le", "leq": "le",
}

func init() {
	for alias, canon := range aliases {
		builtins[alias] = builtins[canon]
	}
}

func evalIn(lhs, rhs any) (bool, error) {
	set, ok := rhs.([]any)
	if !ok {
		return false, fmt.Errorf("operator in: second operand is not a list")
	}
	for _, v := range set {
		c, err := Compare(lhs, v)
		if err == nil && c == 0 {
			return true, nil
		}
	}
	return false, nil
}

// evalLike interprets SQL LIKE patterns (% and _ wildcards) against
// string values.
func evalLike(foldCase bool) EvalFunc {
	return func(lhs, rhs any) (bool, error) {
		s, ok1 := lhs.(string)
		pat, ok2 := rhs.(string)
		if !ok1 || !ok2 {
			return false, nil
		}
		re, err := likeToRegexp(pat, foldCase)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil
	}
}

func likeToRegexp(pattern string, foldCase bool) (*regexp.Regexp, error) {
	var sb strings.Builder
	if foldCase {
		sb.WriteString("(?i)")
	}
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// Compare orders two scalar values of the same semantic type. Integers
// and floats compare numerically across the two representations.
func Compare(a, b any) (int, error) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			}
			return 0, nil
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), nil
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0, nil
			}
			if !av {
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1, nil
			case av.After(bv):
				return 1, nil
			}
			return 0, nil
		}
	}
	return 0, fmt.Errorf("operator: cannot compare %T with %T", a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case time.Duration:
		return n.Seconds(), true
	}
	return 0, false
}
