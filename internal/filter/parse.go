package filter

import (
	"encoding/json"
	"strings"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/resterr"
)

// Parse decodes the wire representation of one or more filter objects
// and validates every field reference against the descriptor registry.
// An array input becomes an implicit top-level conjunction.
func Parse(reg *descriptor.Registry, res *descriptor.Resource, raw []byte) (Node, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, resterr.MalformedFilter("unable to decode filter JSON")
	}
	return FromValue(reg, res, v)
}

// FromValue builds a Node from an already-decoded JSON value.
func FromValue(reg *descriptor.Registry, res *descriptor.Resource, v any) (Node, error) {
	switch val := v.(type) {
	case []any:
		children := make([]Node, 0, len(val))
		for _, item := range val {
			n, err := fromObject(reg, res, item)
			if err != nil {
				return nil, err
			}
			children = append(children, n)
		}
		if len(children) == 1 {
			return children[0], nil
		}
		return &Connective{Kind: And, Children: children}, nil
	case map[string]any:
		return fromObject(reg, res, val)
	default:
		return nil, resterr.MalformedFilter("filter must be an object or an array of objects")
	}
}

func fromObject(reg *descriptor.Registry, res *descriptor.Resource, v any) (Node, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, resterr.MalformedFilter("filter object must be a JSON object")
	}

	var kinds []ConnectiveKind
	for _, k := range []ConnectiveKind{And, Or, Not} {
		if _, present := obj[string(k)]; present {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) > 1 {
		return nil, resterr.MalformedFilter("filter object mixes boolean connectives")
	}
	if len(kinds) == 1 {
		if _, present := obj["name"]; present {
			return nil, resterr.MalformedFilter("filter object mixes a connective with a comparison")
		}
		return fromConnective(reg, res, kinds[0], obj[string(kinds[0])])
	}
	return fromComparison(reg, res, obj)
}

func fromConnective(reg *descriptor.Registry, res *descriptor.Resource, kind ConnectiveKind, arg any) (Node, error) {
	if kind == Not {
		// A negation wraps exactly one filter object, never a list.
		inner, ok := arg.(map[string]any)
		if !ok {
			return nil, resterr.MalformedFilter(`"not" must contain exactly one filter object`)
		}
		child, err := fromObject(reg, res, inner)
		if err != nil {
			return nil, err
		}
		return &Connective{Kind: Not, Children: []Node{child}}, nil
	}
	list, ok := arg.([]any)
	if !ok {
		return nil, resterr.MalformedFilter(`"` + string(kind) + `" must contain a list of filter objects`)
	}
	children := make([]Node, 0, len(list))
	for _, item := range list {
		child, err := fromObject(reg, res, item)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return &Connective{Kind: kind, Children: children}, nil
}

func fromComparison(reg *descriptor.Registry, res *descriptor.Resource, obj map[string]any) (Node, error) {
	nameAny, ok := obj["name"]
	if !ok {
		return nil, resterr.MalformedFilter("missing field name")
	}
	name, ok := nameAny.(string)
	if !ok {
		return nil, resterr.MalformedFilter("field name must be a string")
	}
	opAny, ok := obj["op"]
	if !ok {
		return nil, resterr.MalformedFilter("missing operator")
	}
	op, ok := opAny.(string)
	if !ok {
		return nil, resterr.MalformedFilter("operator must be a string")
	}

	val, hasVal := obj["val"]
	otherAny, hasOther := obj["field"]
	if hasVal && hasOther {
		return nil, resterr.MalformedFilter(`filter object carries both "val" and "field"`)
	}

	// Relationship quantifiers nest a whole filter object as their
	// argument, scoped to the relation's target type.
	if op == string(Has) || op == string(Any) {
		rel, ok := res.Rel(name)
		if !ok {
			return nil, resterr.UnknownField(name)
		}
		target, ok := reg.Lookup(rel.Target)
		if !ok {
			return nil, resterr.UnknownRelation(rel.Target)
		}
		if !hasVal {
			return nil, resterr.MalformedFilter(`relationship predicate requires a nested filter in "val"`)
		}
		inner, err := fromObject(reg, target, val)
		if err != nil {
			return nil, err
		}
		return &Relationship{Relation: name, Quantifier: Quantifier(op), Inner: inner}, nil
	}

	if err := checkPath(reg, res, name); err != nil {
		return nil, err
	}
	if hasOther {
		other, ok := otherAny.(string)
		if !ok {
			return nil, resterr.MalformedFilter(`"field" must be a string`)
		}
		if err := checkPath(reg, res, other); err != nil {
			return nil, err
		}
		return &Comparison{Field: name, Op: op, OtherField: other}, nil
	}
	return &Comparison{Field: name, Op: op, Val: val, HasVal: hasVal}, nil
}

// checkPath validates a bare or dotted field reference. Relation
// cardinality is a compile-time concern; existence is checked here.
func checkPath(reg *descriptor.Registry, res *descriptor.Resource, name string) error {
	relName, field, dotted := strings.Cut(name, ".")
	if !dotted {
		if _, ok := res.Attr(name); !ok {
			return resterr.UnknownField(name)
		}
		return nil
	}
	rel, ok := res.Rel(relName)
	if !ok {
		return resterr.UnknownField(name)
	}
	target, ok := reg.Lookup(rel.Target)
	if !ok {
		return resterr.UnknownRelation(rel.Target)
	}
	if _, ok := target.Attr(field); !ok {
		return resterr.UnknownField(name)
	}
	return nil
}
