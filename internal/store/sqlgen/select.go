package sqlgen

import (
	"fmt"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/query"
)

// Generator renders plans for one dialect against one descriptor set.
type Generator struct {
	Dialect Dialect
	Reg     *descriptor.Registry
}

// ScanColumns is the column layout of a Select result row: the primary
// key first, then the attributes in declaration order. The primary key
// is not repeated when it is also listed as an attribute.
func ScanColumns(res *descriptor.Resource) []descriptor.Attribute {
	pk, _ := res.Attr(res.PrimaryKey)
	out := []descriptor.Attribute{*pk}
	for _, a := range res.Attributes {
		if a.Name != res.PrimaryKey {
			out = append(out, a)
		}
	}
	return out
}

// Select renders the plan as a windowed SELECT over the resource table.
func (g *Generator) Select(p *query.Plan) (string, []any, error) {
	var args []any
	var aliases int
	w := &writer{d: g.Dialect, args: &args, next: &aliases}
	root := w.alias()

	w.str("SELECT ")
	for i, col := range ScanColumns(p.Resource) {
		if i > 0 {
			w.str(", ")
		}
		w.str(root + ".")
		w.ident(col.Name)
	}
	w.str(" FROM ")
	w.ident(p.Resource.Type)
	w.str(" " + root)

	if err := g.whereAndGroup(w, p, root); err != nil {
		return "", nil, err
	}

	if len(p.Sort) > 0 {
		w.str(" ORDER BY ")
		for i, key := range p.Sort {
			if i > 0 {
				w.str(", ")
			}
			// Null sort values come first regardless of direction:
			// IS NOT NULL sorts false (null) ahead of true.
			col, err := g.column(w, p.Resource, root, key.Col)
			if err != nil {
				return "", nil, err
			}
			w.str("(" + col + " IS NOT NULL), " + col)
			if key.Desc {
				w.str(" DESC")
			}
		}
	}

	switch {
	case p.Limit >= 0 && p.Offset > 0:
		w.str(fmt.Sprintf(" LIMIT %d OFFSET %d", p.Limit, p.Offset))
	case p.Limit >= 0:
		w.str(fmt.Sprintf(" LIMIT %d", p.Limit))
	case p.Offset > 0:
		w.str(fmt.Sprintf(" LIMIT %s OFFSET %d", g.Dialect.NoLimit(), p.Offset))
	}
	return w.b.String(), args, nil
}

// Count renders the plan as a COUNT of matched rows, or of distinct
// groups when the plan groups, ignoring the window.
func (g *Generator) Count(p *query.Plan) (string, []any, error) {
	var args []any
	var aliases int
	w := &writer{d: g.Dialect, args: &args, next: &aliases}
	root := w.alias()

	if len(p.Group) > 0 {
		w.str("SELECT COUNT(*) FROM (SELECT 1 AS one FROM ")
		w.ident(p.Resource.Type)
		w.str(" " + root)
		if err := g.where(w, p, root); err != nil {
			return "", nil, err
		}
		if err := g.groupBy(w, p, root); err != nil {
			return "", nil, err
		}
		w.str(") grp")
		return w.b.String(), args, nil
	}

	w.str("SELECT COUNT(*) FROM ")
	w.ident(p.Resource.Type)
	w.str(" " + root)
	if err := g.where(w, p, root); err != nil {
		return "", nil, err
	}
	return w.b.String(), args, nil
}

func (g *Generator) where(w *writer, p *query.Plan, alias string) error {
	if p.Filter == nil {
		return nil
	}
	w.str(" WHERE ")
	return g.pred(w, p.Resource, alias, p.Filter)
}

// whereAndGroup renders the filter and, when the plan groups, restricts
// the scan to one representative row (the least primary key) per group.
func (g *Generator) whereAndGroup(w *writer, p *query.Plan, alias string) error {
	if len(p.Group) == 0 {
		return g.where(w, p, alias)
	}
	inner := w.alias()
	w.str(" WHERE " + alias + ".")
	w.ident(p.Resource.PrimaryKey)
	w.str(" IN (SELECT MIN(" + inner + ".")
	w.ident(p.Resource.PrimaryKey)
	w.str(") FROM ")
	w.ident(p.Resource.Type)
	w.str(" " + inner)
	if err := g.where(w, p, inner); err != nil {
		return err
	}
	if err := g.groupBy(w, p, inner); err != nil {
		return err
	}
	w.str(")")
	return nil
}

func (g *Generator) groupBy(w *writer, p *query.Plan, alias string) error {
	w.str(" GROUP BY ")
	for i, key := range p.Group {
		if i > 0 {
			w.str(", ")
		}
		col, err := g.column(w, p.Resource, alias, key.Col)
		if err != nil {
			return err
		}
		w.str(col)
	}
	return nil
}

func (g *Generator) pred(w *writer, res *descriptor.Resource, alias string, p query.Pred) error {
	switch pred := p.(type) {
	case *query.Bool:
		switch pred.Kind {
		case "not":
			w.str("NOT (")
			if err := g.pred(w, res, alias, pred.Children[0]); err != nil {
				return err
			}
			w.str(")")
			return nil
		case "and", "or":
			conn := " AND "
			if pred.Kind == "or" {
				conn = " OR "
			}
			w.str("(")
			for i, child := range pred.Children {
				if i > 0 {
					w.str(conn)
				}
				if err := g.pred(w, res, alias, child); err != nil {
					return err
				}
			}
			w.str(")")
			return nil
		}
		return fmt.Errorf("sqlgen: unknown connective %q", pred.Kind)

	case *query.Cond:
		return g.cond(w, res, alias, pred)

	case *query.Exists:
		return g.exists(w, res, alias, pred)
	}
	return fmt.Errorf("sqlgen: unknown predicate %T", p)
}

func (g *Generator) cond(w *writer, res *descriptor.Resource, alias string, c *query.Cond) error {
	lhs, err := g.column(w, res, alias, c.Col)
	if err != nil {
		return err
	}
	tmpl := g.Dialect.OperatorSQL(c.Op, c.Behavior.SQL)
	if tmpl == "" {
		return fmt.Errorf("sqlgen: operator %q has no SQL form", c.Op)
	}
	switch {
	case c.OtherCol != nil:
		rhs, err := g.column(w, res, alias, *c.OtherCol)
		if err != nil {
			return err
		}
		w.str(fmt.Sprintf(tmpl, lhs, rhs))
	case c.HasValue:
		w.str(fmt.Sprintf(tmpl, lhs, g.value(w, c.Value)))
	default:
		w.str(fmt.Sprintf(tmpl, lhs))
	}
	return nil
}

// value binds one literal, expanding lists into a parenthesized
// placeholder tuple for the IN family. An empty list renders as (NULL),
// which matches nothing.
func (g *Generator) value(w *writer, v any) string {
	list, ok := v.([]any)
	if !ok {
		return w.arg(g.Dialect.BindValue(v))
	}
	if len(list) == 0 {
		return "(NULL)"
	}
	out := "("
	for i, item := range list {
		if i > 0 {
			out += ", "
		}
		out += w.arg(g.Dialect.BindValue(item))
	}
	return out + ")"
}

// column renders a resolved column reference. References through a
// to-one relationship become correlated scalar subqueries, so no join
// bookkeeping leaks into the outer statement.
func (g *Generator) column(w *writer, res *descriptor.Resource, alias string, col query.ColumnRef) (string, error) {
	if col.Relation == "" {
		return alias + "." + g.Dialect.QuoteIdent(col.Field), nil
	}
	rel, ok := res.Rel(col.Relation)
	if !ok {
		return "", fmt.Errorf("sqlgen: unknown relationship %q on %q", col.Relation, res.Type)
	}
	target, ok := g.Reg.Lookup(rel.Target)
	if !ok {
		return "", fmt.Errorf("sqlgen: unknown type %q", rel.Target)
	}
	sub := w.alias()
	return fmt.Sprintf("(SELECT %s.%s FROM %s %s WHERE %s.%s = %s.%s)",
		sub, g.Dialect.QuoteIdent(col.Field),
		g.Dialect.QuoteIdent(target.Type), sub,
		sub, g.Dialect.QuoteIdent(target.PrimaryKey),
		alias, g.Dialect.QuoteIdent(rel.LocalColumn)), nil
}

func (g *Generator) exists(w *writer, res *descriptor.Resource, alias string, e *query.Exists) error {
	rel, ok := res.Rel(e.Relation)
	if !ok {
		return fmt.Errorf("sqlgen: unknown relationship %q on %q", e.Relation, res.Type)
	}
	if e.Via != nil {
		return g.existsVia(w, res, alias, rel, e)
	}
	return g.existsHop(w, res, alias, rel, func(target *descriptor.Resource, sub string) error {
		w.str(" AND (")
		if err := g.pred(w, target, sub, e.Inner); err != nil {
			return err
		}
		w.str(")")
		return nil
	})
}

// existsVia renders a composed relationship as two nested correlated
// scans: the through hop to the intermediate type, then the final hop
// carrying the inner predicate.
func (g *Generator) existsVia(w *writer, res *descriptor.Resource, alias string, rel *descriptor.Relationship, e *query.Exists) error {
	through, ok := res.Rel(rel.Via.Through)
	if !ok {
		return fmt.Errorf("sqlgen: composed relationship %q references unknown hop %q", rel.Name, rel.Via.Through)
	}
	return g.existsHop(w, res, alias, through, func(mid *descriptor.Resource, midAlias string) error {
		hop, ok := mid.Rel(rel.Via.Hop)
		if !ok {
			return fmt.Errorf("sqlgen: composed relationship %q references unknown hop %q", rel.Name, rel.Via.Hop)
		}
		w.str(" AND ")
		return g.existsHop(w, mid, midAlias, hop, func(target *descriptor.Resource, sub string) error {
			w.str(" AND (")
			if err := g.pred(w, target, sub, e.Inner); err != nil {
				return err
			}
			w.str(")")
			return nil
		})
	})
}

// existsHop opens an EXISTS sub-scan correlated through one
// relationship and hands the target scope to body. The sub-scan yields
// each root row at most once no matter how many related rows match.
func (g *Generator) existsHop(w *writer, res *descriptor.Resource, alias string, rel *descriptor.Relationship, body func(target *descriptor.Resource, sub string) error) error {
	target, ok := g.Reg.Lookup(rel.Target)
	if !ok {
		return fmt.Errorf("sqlgen: unknown type %q", rel.Target)
	}
	sub := w.alias()
	w.str("EXISTS (SELECT 1 FROM ")
	w.ident(target.Type)
	w.str(" " + sub + " WHERE ")
	if rel.Kind == descriptor.ToOne {
		w.str(sub + ".")
		w.ident(target.PrimaryKey)
		w.str(" = " + alias + ".")
		w.ident(rel.LocalColumn)
	} else {
		w.str(sub + ".")
		w.ident(rel.RemoteColumn)
		w.str(" = " + alias + ".")
		w.ident(res.PrimaryKey)
	}
	if err := body(target, sub); err != nil {
		return err
	}
	w.str(")")
	return nil
}
