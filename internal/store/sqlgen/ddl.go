package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hanpama/restframe/internal/descriptor"
)

// Schema renders CREATE TABLE statements for every registered type, in
// lexical type order. Each table carries its primary key, its declared
// attributes, the foreign-key column of every to-one relationship and
// the back-pointer column of every inbound to-many relationship.
// Composed relationships add no columns; they resolve through their
// underlying hops.
func (g *Generator) Schema() ([]string, error) {
	types := g.Reg.Types()
	sort.Strings(types)

	// Back-pointer columns land on the target table, which may not
	// declare the inverse relationship itself.
	inbound := make(map[string]map[string]string) // type -> column -> owner type
	for _, typ := range types {
		res, _ := g.Reg.Lookup(typ)
		for _, rel := range res.Relationships {
			if rel.Kind != descriptor.ToMany || rel.Via != nil {
				continue
			}
			cols := inbound[rel.Target]
			if cols == nil {
				cols = make(map[string]string)
				inbound[rel.Target] = cols
			}
			cols[rel.RemoteColumn] = res.Type
		}
	}

	var out []string
	for _, typ := range types {
		res, _ := g.Reg.Lookup(typ)
		stmt, err := g.createTable(res, inbound[typ])
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
	return out, nil
}

func (g *Generator) createTable(res *descriptor.Resource, inbound map[string]string) (string, error) {
	d := g.Dialect
	var cols []string
	declared := map[string]bool{res.PrimaryKey: true}

	pk, _ := res.Attr(res.PrimaryKey)
	cols = append(cols, fmt.Sprintf("%s %s PRIMARY KEY",
		d.QuoteIdent(res.PrimaryKey), d.PrimaryKeyType(pk.Type)))

	for _, a := range res.Attributes {
		if declared[a.Name] {
			continue
		}
		declared[a.Name] = true
		cols = append(cols, fmt.Sprintf("%s %s", d.QuoteIdent(a.Name), d.ColumnType(a.Type)))
	}

	for _, rel := range res.Relationships {
		if rel.Kind != descriptor.ToOne || rel.Via != nil || declared[rel.LocalColumn] {
			continue
		}
		target, ok := g.Reg.Lookup(rel.Target)
		if !ok {
			return "", fmt.Errorf("sqlgen: relationship %q on %q targets unknown type %q", rel.Name, res.Type, rel.Target)
		}
		declared[rel.LocalColumn] = true
		tpk, _ := target.Attr(target.PrimaryKey)
		cols = append(cols, fmt.Sprintf("%s %s REFERENCES %s(%s)",
			d.QuoteIdent(rel.LocalColumn), d.ColumnType(tpk.Type),
			d.QuoteIdent(target.Type), d.QuoteIdent(target.PrimaryKey)))
	}

	backCols := make([]string, 0, len(inbound))
	for col := range inbound {
		backCols = append(backCols, col)
	}
	sort.Strings(backCols)
	for _, col := range backCols {
		if declared[col] {
			continue
		}
		owner, _ := g.Reg.Lookup(inbound[col])
		opk, _ := owner.Attr(owner.PrimaryKey)
		declared[col] = true
		cols = append(cols, fmt.Sprintf("%s %s REFERENCES %s(%s)",
			d.QuoteIdent(col), d.ColumnType(opk.Type),
			d.QuoteIdent(owner.Type), d.QuoteIdent(owner.PrimaryKey)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		d.QuoteIdent(res.Type), strings.Join(cols, ",\n  ")), nil
}
