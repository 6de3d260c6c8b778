package query

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/filter"
	"github.com/hanpama/restframe/internal/operator"
	"github.com/hanpama/restframe/internal/resterr"
)

// BaseScan supplies an extra filter that is conjoined under every plan
// compiled for its type, defaulting the scan to "all rows of type".
type BaseScan func() filter.Node

// Compiler binds filter ASTs and directives to resource descriptors.
// It is safe for concurrent use after startup registration.
type Compiler struct {
	registry  *descriptor.Registry
	operators *operator.Registry

	mu    sync.RWMutex
	scans map[string]BaseScan
}

func NewCompiler(reg *descriptor.Registry, ops *operator.Registry) *Compiler {
	return &Compiler{registry: reg, operators: ops, scans: make(map[string]BaseScan)}
}

// SetBaseScan installs a base-scan provider for a type. Intended for
// startup registration only.
func (c *Compiler) SetBaseScan(typ string, fn BaseScan) {
	c.mu.Lock()
	c.scans[typ] = fn
	c.mu.Unlock()
}

// Compile resolves f and d against res into a Plan. The page window is
// left unbounded; the paginator narrows it after the total count is
// known. Compilation is deterministic: the same inputs always produce
// a structurally identical plan.
func (c *Compiler) Compile(res *descriptor.Resource, f filter.Node, d Directives) (*Plan, error) {
	p := &Plan{Resource: res, Limit: -1, Single: d.Single}

	c.mu.RLock()
	scan := c.scans[res.Type]
	c.mu.RUnlock()
	if scan != nil {
		if base := scan(); base != nil {
			if f == nil {
				f = base
			} else {
				f = &filter.Connective{Kind: filter.And, Children: []filter.Node{base, f}}
			}
		}
	}

	if f != nil {
		pred, err := c.compileNode(res, f)
		if err != nil {
			return nil, err
		}
		p.Filter = pred
	}

	for _, s := range d.Sort {
		col, err := c.resolvePath(res, s.Field)
		if err != nil {
			return nil, err
		}
		p.Sort = append(p.Sort, SortKey{Col: col, Desc: s.Desc})
	}
	for _, g := range d.Group {
		col, err := c.resolvePath(res, g)
		if err != nil {
			return nil, err
		}
		p.Group = append(p.Group, GroupKey{Col: col})
	}
	return p, nil
}

func (c *Compiler) compileNode(res *descriptor.Resource, n filter.Node) (Pred, error) {
	switch node := n.(type) {
	case *filter.Connective:
		children := make([]Pred, 0, len(node.Children))
		for _, child := range node.Children {
			p, err := c.compileNode(res, child)
			if err != nil {
				return nil, err
			}
			children = append(children, p)
		}
		return &Bool{Kind: node.Kind, Children: children}, nil

	case *filter.Relationship:
		rel, ok := res.Rel(node.Relation)
		if !ok {
			return nil, resterr.UnknownField(node.Relation)
		}
		if node.Quantifier == filter.Has && rel.Kind != descriptor.ToOne {
			return nil, resterr.AmbiguousRelationKind(node.Relation,
				fmt.Sprintf(`"has" requires a to-one relationship, %q is to-many`, node.Relation))
		}
		if node.Quantifier == filter.Any && rel.Kind != descriptor.ToMany {
			return nil, resterr.AmbiguousRelationKind(node.Relation,
				fmt.Sprintf(`"any" requires a to-many relationship, %q is to-one`, node.Relation))
		}
		target, ok := c.registry.Lookup(rel.Target)
		if !ok {
			return nil, resterr.UnknownRelation(rel.Target)
		}
		inner, err := c.compileNode(target, node.Inner)
		if err != nil {
			return nil, err
		}
		return &Exists{
			Relation:   node.Relation,
			Quantifier: node.Quantifier,
			Target:     rel.Target,
			Via:        rel.Via,
			Inner:      inner,
		}, nil

	case *filter.Comparison:
		return c.compileComparison(res, node)
	}
	return nil, resterr.MalformedFilter("unrecognized filter node")
}

func (c *Compiler) compileComparison(res *descriptor.Resource, cmp *filter.Comparison) (Pred, error) {
	behavior, ok := c.operators.Lookup(cmp.Op)
	if !ok {
		return nil, resterr.UnknownOperator(cmp.Op)
	}
	if behavior.Kind == operator.Relation {
		return nil, resterr.MalformedFilter(
			fmt.Sprintf("operator %q requires a relationship predicate", cmp.Op))
	}

	col, attr, err := c.resolveAttrPath(res, cmp.Field)
	if err != nil {
		return nil, err
	}
	cond := &Cond{Col: col, Op: cmp.Op, Behavior: behavior}

	if cmp.OtherField != "" {
		other, otherAttr, err := c.resolveAttrPath(res, cmp.OtherField)
		if err != nil {
			return nil, err
		}
		if otherAttr.Type != attr.Type {
			return nil, resterr.TypeMismatch(cmp.OtherField,
				fmt.Sprintf("cannot compare %s field %q with %s field %q",
					attr.Type, cmp.Field, otherAttr.Type, cmp.OtherField))
		}
		cond.OtherCol = &other
		return cond, nil
	}

	if behavior.Kind == operator.Unary {
		return cond, nil
	}
	if !cmp.HasVal {
		return nil, resterr.MalformedFilter(
			fmt.Sprintf("operator %q requires a second operand", cmp.Op))
	}
	val, err := descriptor.CoerceValue(attr, cmp.Val)
	if err != nil {
		return nil, err
	}
	cond.Value = val
	cond.HasValue = true
	return cond, nil
}

// resolvePath resolves a bare or dotted path for sort/group use.
// Traversing a to-many relation would change row cardinality, so it is
// rejected.
func (c *Compiler) resolvePath(res *descriptor.Resource, path string) (ColumnRef, error) {
	col, _, err := c.resolveAttrPath(res, path)
	return col, err
}

func (c *Compiler) resolveAttrPath(res *descriptor.Resource, path string) (ColumnRef, *descriptor.Attribute, error) {
	relName, field, dotted := strings.Cut(path, ".")
	if !dotted {
		attr, ok := res.Attr(path)
		if !ok {
			return ColumnRef{}, nil, resterr.UnknownField(path)
		}
		return ColumnRef{Field: path}, attr, nil
	}
	rel, ok := res.Rel(relName)
	if !ok {
		return ColumnRef{}, nil, resterr.UnknownField(path)
	}
	if rel.Kind != descriptor.ToOne {
		return ColumnRef{}, nil, resterr.AmbiguousRelationKind(relName,
			fmt.Sprintf("dotted path %q traverses to-many relationship %q; use an \"any\" predicate", path, relName))
	}
	target, ok := c.registry.Lookup(rel.Target)
	if !ok {
		return ColumnRef{}, nil, resterr.UnknownRelation(rel.Target)
	}
	attr, ok := target.Attr(field)
	if !ok {
		return ColumnRef{}, nil, resterr.UnknownField(path)
	}
	return ColumnRef{Relation: relName, Target: rel.Target, Field: field}, attr, nil
}
