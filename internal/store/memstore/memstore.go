// Package memstore is an in-memory DataAccess backed by plain Go maps.
// It walks compiled query plans directly, which makes it the reference
// implementation for plan semantics and the backend of choice in tests.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/store"
)

type row struct {
	attrs map[string]any
	rels  map[string][]any // relation name -> linked ids, in insertion order
}

type table struct {
	rows  map[any]*row
	order []any
	seq   int64
}

// Store holds one table per registered resource type.
type Store struct {
	mu  sync.RWMutex
	reg *descriptor.Registry
	tbl map[string]*table
}

var _ store.DataAccess = (*Store)(nil)

func New(reg *descriptor.Registry) *Store {
	return &Store{reg: reg, tbl: make(map[string]*table)}
}

// Add seeds an entity outside any transaction. rels maps relationship
// names to linked ids and may be nil.
func (s *Store) Add(typ string, id any, attrs map[string]any, rels map[string][]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(typ, id, attrs, rels)
}

func (s *Store) table(typ string) *table {
	t, ok := s.tbl[typ]
	if !ok {
		t = &table{rows: make(map[any]*row)}
		s.tbl[typ] = t
	}
	return t
}

func (s *Store) insertLocked(typ string, id any, attrs map[string]any, rels map[string][]any) any {
	t := s.table(typ)
	if id == nil {
		id = s.generateID(typ, t)
	} else if n, ok := id.(int64); ok && n > t.seq {
		// Explicit integer ids advance the sequence past themselves.
		t.seq = n
	}
	if _, exists := t.rows[id]; !exists {
		t.order = append(t.order, id)
	}
	r := &row{attrs: make(map[string]any, len(attrs)), rels: make(map[string][]any, len(rels))}
	for k, v := range attrs {
		r.attrs[k] = v
	}
	for k, v := range rels {
		r.rels[k] = append([]any(nil), v...)
	}
	t.rows[id] = r
	return id
}

// generateID produces an integer sequence id for integer primary keys
// and a UUID string otherwise.
func (s *Store) generateID(typ string, t *table) any {
	if res, ok := s.reg.Lookup(typ); ok {
		if attr, ok := res.Attr(res.PrimaryKey); ok && attr.Type == descriptor.String {
			return uuid.NewString()
		}
	}
	t.seq++
	return t.seq
}

func (s *Store) Get(ctx context.Context, typ string, id any) (store.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tbl[typ]
	if !ok {
		return store.Entity{}, store.ErrNoRow
	}
	r, ok := t.rows[id]
	if !ok {
		return store.Entity{}, store.ErrNoRow
	}
	return entityOf(typ, id, r), nil
}

func (s *Store) GetMany(ctx context.Context, typ string, ids []any) ([]store.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tbl[typ]
	if !ok {
		return nil, nil
	}
	out := make([]store.Entity, 0, len(ids))
	for _, id := range ids {
		if r, ok := t.rows[id]; ok {
			out = append(out, entityOf(typ, id, r))
		}
	}
	return out, nil
}

func (s *Store) Related(ctx context.Context, typ string, id any, relation string) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relatedLocked(typ, id, relation)
}

func (s *Store) relatedLocked(typ string, id any, relation string) ([]any, error) {
	res, ok := s.reg.Lookup(typ)
	if !ok {
		return nil, fmt.Errorf("memstore: unknown type %q", typ)
	}
	rel, ok := res.Rel(relation)
	if !ok {
		return nil, fmt.Errorf("memstore: unknown relationship %q on %q", relation, typ)
	}
	t, ok := s.tbl[typ]
	if !ok {
		return nil, nil
	}
	r, ok := t.rows[id]
	if !ok {
		return nil, store.ErrNoRow
	}
	// Composed relationships resolve as two hops, deduplicated while
	// preserving first-seen order.
	if rel.Via != nil {
		var out []any
		seen := make(map[any]struct{})
		through, _ := res.Rel(rel.Via.Through)
		if through == nil {
			return nil, fmt.Errorf("memstore: composed relationship %q references unknown hop %q", relation, rel.Via.Through)
		}
		for _, mid := range r.rels[rel.Via.Through] {
			hops, err := s.relatedLocked(through.Target, mid, rel.Via.Hop)
			if err != nil {
				return nil, err
			}
			for _, h := range hops {
				if _, dup := seen[h]; !dup {
					seen[h] = struct{}{}
					out = append(out, h)
				}
			}
		}
		return out, nil
	}
	return append([]any(nil), r.rels[relation]...), nil
}

func entityOf(typ string, id any, r *row) store.Entity {
	attrs := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		attrs[k] = v
	}
	return store.Entity{Type: typ, ID: id, Attrs: attrs}
}

// clone deep-copies all tables; transactions mutate the copy and swap
// it in on commit.
func (s *Store) clone() map[string]*table {
	out := make(map[string]*table, len(s.tbl))
	for typ, t := range s.tbl {
		nt := &table{rows: make(map[any]*row, len(t.rows)), order: append([]any(nil), t.order...), seq: t.seq}
		for id, r := range t.rows {
			nr := &row{attrs: make(map[string]any, len(r.attrs)), rels: make(map[string][]any, len(r.rels))}
			for k, v := range r.attrs {
				nr.attrs[k] = v
			}
			for k, v := range r.rels {
				nr.rels[k] = append([]any(nil), v...)
			}
			nt.rows[id] = nr
		}
		out[typ] = nt
	}
	return out
}
