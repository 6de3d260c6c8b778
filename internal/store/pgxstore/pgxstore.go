// Package pgxstore is a DataAccess backed by PostgreSQL through pgx.
// It shares the sqlgen renderer with sqlstore; only placeholders, DDL
// types and value binding differ through the dialect.
package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/query"
	"github.com/hanpama/restframe/internal/store"
	"github.com/hanpama/restframe/internal/store/sqlgen"
)

// Store implements store.DataAccess over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	reg  *descriptor.Registry
	gen  sqlgen.Generator
}

var _ store.DataAccess = (*Store)(nil)

// Open connects to the database named by dsn and creates any missing
// tables.
func Open(ctx context.Context, dsn string, reg *descriptor.Registry) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgxstore: ping: %w", err)
	}
	s := &Store{pool: pool, reg: reg, gen: sqlgen.Generator{Dialect: sqlgen.Postgres{}, Reg: reg}}
	if err := s.applySchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) applySchema(ctx context.Context) error {
	stmts, err := s.gen.Schema()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgxstore: apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Select(ctx context.Context, p *query.Plan) ([]store.Entity, error) {
	stmt, args, err := s.gen.Select(p)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("pgxstore: select %s: %w", p.Resource.Type, err)
	}
	defer rows.Close()
	return scanEntities(p.Resource, rows)
}

func (s *Store) Count(ctx context.Context, p *query.Plan) (int, error) {
	stmt, args, err := s.gen.Count(p)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgxstore: count %s: %w", p.Resource.Type, err)
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, typ string, id any) (store.Entity, error) {
	res, ok := s.reg.Lookup(typ)
	if !ok {
		return store.Entity{}, fmt.Errorf("pgxstore: unknown type %q", typ)
	}
	rows, err := s.pool.Query(ctx, s.getStmt(res), id)
	if err != nil {
		return store.Entity{}, fmt.Errorf("pgxstore: get %s: %w", typ, err)
	}
	defer rows.Close()
	entities, err := scanEntities(res, rows)
	if err != nil {
		return store.Entity{}, err
	}
	if len(entities) == 0 {
		return store.Entity{}, store.ErrNoRow
	}
	return entities[0], nil
}

func (s *Store) GetMany(ctx context.Context, typ string, ids []any) ([]store.Entity, error) {
	out := make([]store.Entity, 0, len(ids))
	for _, id := range ids {
		ent, err := s.Get(ctx, typ, id)
		if errors.Is(err, store.ErrNoRow) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, nil
}

func (s *Store) getStmt(res *descriptor.Resource) string {
	cols := sqlgen.ScanColumns(res)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quote(c.Name)
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		strings.Join(names, ", "), quote(res.Type), quote(res.PrimaryKey))
}

func (s *Store) Related(ctx context.Context, typ string, id any, relation string) ([]any, error) {
	return related(ctx, s.pool, s.reg, typ, id, relation)
}

// queryer is satisfied by both the pool and an open transaction, so
// linkage resolution can run inside or outside the unit of work.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func related(ctx context.Context, q queryer, reg *descriptor.Registry, typ string, id any, relation string) ([]any, error) {
	res, ok := reg.Lookup(typ)
	if !ok {
		return nil, fmt.Errorf("pgxstore: unknown type %q", typ)
	}
	rel, ok := res.Rel(relation)
	if !ok {
		return nil, fmt.Errorf("pgxstore: unknown relationship %q on %q", relation, typ)
	}
	if rel.Via != nil {
		through, ok := res.Rel(rel.Via.Through)
		if !ok {
			return nil, fmt.Errorf("pgxstore: composed relationship %q references unknown hop %q", rel.Name, rel.Via.Through)
		}
		mids, err := related(ctx, q, reg, typ, id, rel.Via.Through)
		if err != nil {
			return nil, err
		}
		var out []any
		seen := make(map[any]struct{})
		for _, mid := range mids {
			hops, err := related(ctx, q, reg, through.Target, mid, rel.Via.Hop)
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
	target, ok := reg.Lookup(rel.Target)
	if !ok {
		return nil, fmt.Errorf("pgxstore: unknown type %q", rel.Target)
	}

	if rel.Kind == descriptor.ToOne {
		var fk any
		stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
			quote(rel.LocalColumn), quote(res.Type), quote(res.PrimaryKey))
		err := q.QueryRow(ctx, stmt, id).Scan(&fk)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoRow
		}
		if err != nil {
			return nil, fmt.Errorf("pgxstore: related %s.%s: %w", typ, relation, err)
		}
		if fk == nil {
			return nil, nil
		}
		return []any{fk}, nil
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s",
		quote(target.PrimaryKey), quote(target.Type), quote(rel.RemoteColumn), quote(target.PrimaryKey))
	rows, err := q.Query(ctx, stmt, id)
	if err != nil {
		return nil, fmt.Errorf("pgxstore: related %s.%s: %w", typ, relation, err)
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var rid any
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		out = append(out, rid)
	}
	return out, rows.Err()
}

// scanEntities decodes rows laid out per sqlgen.ScanColumns. pgx hands
// back native Go values for every column type except durations, which
// are stored as fractional seconds.
func scanEntities(res *descriptor.Resource, rows pgx.Rows) ([]store.Entity, error) {
	cols := sqlgen.ScanColumns(res)
	var out []store.Entity
	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("pgxstore: scan %s: %w", res.Type, err)
		}
		ent := store.Entity{Type: res.Type, Attrs: make(map[string]any, len(cols)-1)}
		for i, col := range cols {
			v, err := decodeValue(&cols[i], raw[i])
			if err != nil {
				return nil, fmt.Errorf("pgxstore: %s.%s: %w", res.Type, col.Name, err)
			}
			if i == 0 {
				ent.ID = v
				continue
			}
			ent.Attrs[col.Name] = v
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

func decodeValue(attr *descriptor.Attribute, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch attr.Type {
	case descriptor.Integer:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int32:
			return int64(v), nil
		case int16:
			return int64(v), nil
		}
		return nil, fmt.Errorf("expected integer, got %T", raw)
	case descriptor.Float:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		}
		return nil, fmt.Errorf("expected float, got %T", raw)
	case descriptor.Duration:
		if v, ok := raw.(float64); ok {
			return time.Duration(v * float64(time.Second)), nil
		}
		return nil, fmt.Errorf("expected duration seconds, got %T", raw)
	case descriptor.Date, descriptor.DateTime:
		if t, ok := raw.(time.Time); ok {
			return t, nil
		}
		return nil, fmt.Errorf("expected time, got %T", raw)
	}
	return raw, nil
}

func quote(name string) string { return `"` + name + `"` }
