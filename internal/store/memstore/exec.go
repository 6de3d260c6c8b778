package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/hanpama/restframe/internal/operator"
	"github.com/hanpama/restframe/internal/query"
	"github.com/hanpama/restframe/internal/store"
)

func (s *Store) Select(ctx context.Context, p *query.Plan) ([]store.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched, err := s.scan(p)
	if err != nil {
		return nil, err
	}
	if err := s.sortRows(p, matched); err != nil {
		return nil, err
	}
	matched, err = s.groupRows(p, matched)
	if err != nil {
		return nil, err
	}
	matched = window(matched, p.Limit, p.Offset)
	out := make([]store.Entity, len(matched))
	for i, id := range matched {
		out[i] = entityOf(p.Resource.Type, id, s.tbl[p.Resource.Type].rows[id])
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, p *query.Plan) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched, err := s.scan(p)
	if err != nil {
		return 0, err
	}
	matched, err = s.groupRows(p, matched)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// scan returns the ids of rows matching the plan filter, in table
// order.
func (s *Store) scan(p *query.Plan) ([]any, error) {
	t, ok := s.tbl[p.Resource.Type]
	if !ok {
		return nil, nil
	}
	var matched []any
	for _, id := range t.order {
		r := t.rows[id]
		if p.Filter != nil {
			ok, err := s.eval(p.Resource.Type, id, r, p.Filter)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, id)
	}
	return matched, nil
}

func (s *Store) eval(typ string, id any, r *row, p query.Pred) (bool, error) {
	switch pred := p.(type) {
	case *query.Bool:
		switch pred.Kind {
		case "and":
			for _, child := range pred.Children {
				ok, err := s.eval(typ, id, r, child)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		case "or":
			for _, child := range pred.Children {
				ok, err := s.eval(typ, id, r, child)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		case "not":
			ok, err := s.eval(typ, id, r, pred.Children[0])
			return !ok && err == nil, err
		}
		return false, fmt.Errorf("memstore: unknown connective %q", pred.Kind)

	case *query.Exists:
		ids, err := s.relatedLocked(typ, id, pred.Relation)
		if err != nil {
			return false, err
		}
		tt := s.tbl[pred.Target]
		for _, rid := range ids {
			if tt == nil {
				break
			}
			tr, ok := tt.rows[rid]
			if !ok {
				continue
			}
			ok, err := s.eval(pred.Target, rid, tr, pred.Inner)
			if err != nil {
				return false, err
			}
			if ok {
				// One satisfying related row is enough; the root row
				// matches once no matter how many more match.
				return true, nil
			}
		}
		return false, nil

	case *query.Cond:
		lhs, err := s.colValue(typ, id, r, pred.Col)
		if err != nil {
			return false, err
		}
		var rhs any
		switch {
		case pred.OtherCol != nil:
			rhs, err = s.colValue(typ, id, r, *pred.OtherCol)
			if err != nil {
				return false, err
			}
		case pred.HasValue:
			rhs = pred.Value
		}
		ok, err := pred.Behavior.Eval(lhs, rhs)
		if err != nil {
			return false, fmt.Errorf("memstore: evaluate %q: %w", pred.Op, err)
		}
		return ok, nil
	}
	return false, fmt.Errorf("memstore: unknown predicate %T", p)
}

// colValue reads a resolved column from a row, following a to-one
// relationship when the reference is joined.
func (s *Store) colValue(typ string, id any, r *row, col query.ColumnRef) (any, error) {
	if col.Relation != "" {
		ids := r.rels[col.Relation]
		if len(ids) == 0 {
			return nil, nil
		}
		tt, ok := s.tbl[col.Target]
		if !ok {
			return nil, nil
		}
		tr, ok := tt.rows[ids[0]]
		if !ok {
			return nil, nil
		}
		return s.colValue(col.Target, ids[0], tr, query.ColumnRef{Field: col.Field})
	}
	if res, ok := s.reg.Lookup(typ); ok && col.Field == res.PrimaryKey {
		if _, listed := r.attrs[col.Field]; !listed {
			return id, nil
		}
	}
	return r.attrs[col.Field], nil
}

// sortRows orders ids by the plan's sort keys. Rows with a null sort
// value come first, deterministically, regardless of direction.
func (s *Store) sortRows(p *query.Plan, ids []any) error {
	if len(p.Sort) == 0 {
		return nil
	}
	t := s.tbl[p.Resource.Type]
	var sortErr error
	sort.SliceStable(ids, func(i, j int) bool {
		for _, key := range p.Sort {
			a, err := s.colValue(p.Resource.Type, ids[i], t.rows[ids[i]], key.Col)
			if err != nil {
				sortErr = err
				return false
			}
			b, err := s.colValue(p.Resource.Type, ids[j], t.rows[ids[j]], key.Col)
			if err != nil {
				sortErr = err
				return false
			}
			switch {
			case a == nil && b == nil:
				continue
			case a == nil:
				return true
			case b == nil:
				return false
			}
			c, err := operator.Compare(a, b)
			if err != nil {
				sortErr = err
				return false
			}
			if c == 0 {
				continue
			}
			if key.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}

// groupRows keeps one row per distinct group-key tuple, preserving the
// sorted order.
func (s *Store) groupRows(p *query.Plan, ids []any) ([]any, error) {
	if len(p.Group) == 0 {
		return ids, nil
	}
	t := s.tbl[p.Resource.Type]
	seen := make(map[string]struct{})
	var out []any
	for _, id := range ids {
		key := ""
		for _, g := range p.Group {
			v, err := s.colValue(p.Resource.Type, id, t.rows[id], g.Col)
			if err != nil {
				return nil, err
			}
			key += fmt.Sprintf("%v\x00", v)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func window(ids []any, limit, offset int) []any {
	if offset > 0 {
		if offset >= len(ids) {
			return nil
		}
		ids = ids[offset:]
	}
	if limit >= 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}
