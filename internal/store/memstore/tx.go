package memstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanpama/restframe/internal/store"
)

// tx mutates a deep copy of the tables and swaps it in on commit, so
// every mutation of one request becomes visible atomically or not at
// all.
type tx struct {
	s      *Store
	shadow map[string]*table
	done   bool
}

var _ store.Tx = (*tx)(nil)

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	s.mu.RLock()
	shadow := s.clone()
	s.mu.RUnlock()
	return &tx{s: s, shadow: shadow}, nil
}

func (t *tx) table(typ string) *table {
	tbl, ok := t.shadow[typ]
	if !ok {
		tbl = &table{rows: make(map[any]*row)}
		t.shadow[typ] = tbl
	}
	return tbl
}

func (t *tx) row(typ string, id any) (*row, error) {
	tbl, ok := t.shadow[typ]
	if !ok {
		return nil, store.ErrNoRow
	}
	r, ok := tbl.rows[id]
	if !ok {
		return nil, store.ErrNoRow
	}
	return r, nil
}

func (t *tx) Insert(ctx context.Context, typ string, id any, attrs map[string]any) (store.Entity, error) {
	if t.done {
		return store.Entity{}, errors.New("memstore: transaction already finished")
	}
	tbl := t.table(typ)
	if id == nil {
		id = t.s.generateID(typ, tbl)
	} else {
		if _, dup := tbl.rows[id]; dup {
			return store.Entity{}, fmt.Errorf("memstore: duplicate id %v for type %q", id, typ)
		}
		if n, ok := id.(int64); ok && n > tbl.seq {
			tbl.seq = n
		}
	}
	if _, exists := tbl.rows[id]; !exists {
		tbl.order = append(tbl.order, id)
	}
	r := &row{attrs: make(map[string]any, len(attrs)), rels: make(map[string][]any)}
	for k, v := range attrs {
		r.attrs[k] = v
	}
	tbl.rows[id] = r
	return entityOf(typ, id, r), nil
}

func (t *tx) Update(ctx context.Context, typ string, id any, attrs map[string]any) error {
	r, err := t.row(typ, id)
	if err != nil {
		return err
	}
	for k, v := range attrs {
		r.attrs[k] = v
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, typ string, id any) error {
	tbl, ok := t.shadow[typ]
	if !ok {
		return store.ErrNoRow
	}
	if _, ok := tbl.rows[id]; !ok {
		return store.ErrNoRow
	}
	delete(tbl.rows, id)
	for i, oid := range tbl.order {
		if oid == id {
			tbl.order = append(tbl.order[:i], tbl.order[i+1:]...)
			break
		}
	}
	return nil
}

func (t *tx) SetRelated(ctx context.Context, typ string, id any, relation string, ids []any) error {
	r, err := t.row(typ, id)
	if err != nil {
		return err
	}
	r.rels[relation] = append([]any(nil), ids...)
	return nil
}

func (t *tx) AddRelated(ctx context.Context, typ string, id any, relation string, ids []any) error {
	r, err := t.row(typ, id)
	if err != nil {
		return err
	}
	for _, add := range ids {
		dup := false
		for _, have := range r.rels[relation] {
			if have == add {
				dup = true
				break
			}
		}
		if !dup {
			r.rels[relation] = append(r.rels[relation], add)
		}
	}
	return nil
}

func (t *tx) RemoveRelated(ctx context.Context, typ string, id any, relation string, ids []any) error {
	r, err := t.row(typ, id)
	if err != nil {
		return err
	}
	kept := r.rels[relation][:0]
	for _, have := range r.rels[relation] {
		remove := false
		for _, rid := range ids {
			if have == rid {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, have)
		}
	}
	r.rels[relation] = kept
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return errors.New("memstore: transaction already finished")
	}
	t.done = true
	t.s.mu.Lock()
	t.s.tbl = t.shadow
	t.s.mu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	t.shadow = nil
	return nil
}
