// Package sqlstore is a DataAccess backed by SQLite through
// database/sql. The schema is derived from the registered descriptors
// and applied on open; query plans are rendered by sqlgen.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/query"
	"github.com/hanpama/restframe/internal/store"
	"github.com/hanpama/restframe/internal/store/sqlgen"
)

// Store implements store.DataAccess over one SQLite database.
type Store struct {
	db  *sql.DB
	reg *descriptor.Registry
	gen sqlgen.Generator
}

var _ store.DataAccess = (*Store)(nil)

// Open creates or opens the database at path (":memory:" for an
// in-memory database), applies the pragmas SQLite needs for safe
// concurrent use and creates any missing tables.
func Open(path string, reg *descriptor.Registry) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: connect: %w", err)
	}
	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY and keeps :memory: databases on one handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, reg: reg, gen: sqlgen.Generator{Dialect: sqlgen.SQLite{}, Reg: reg}}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) applySchema() error {
	stmts, err := s.gen.Schema()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlstore: apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Select(ctx context.Context, p *query.Plan) ([]store.Entity, error) {
	stmt, args, err := s.gen.Select(p)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: select %s: %w", p.Resource.Type, err)
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
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: count %s: %w", p.Resource.Type, err)
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, typ string, id any) (store.Entity, error) {
	res, ok := s.reg.Lookup(typ)
	if !ok {
		return store.Entity{}, fmt.Errorf("sqlstore: unknown type %q", typ)
	}
	rows, err := s.db.QueryContext(ctx, s.getStmt(res), id)
	if err != nil {
		return store.Entity{}, fmt.Errorf("sqlstore: get %s: %w", typ, err)
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
	if len(ids) == 0 {
		return nil, nil
	}
	if _, ok := s.reg.Lookup(typ); !ok {
		return nil, fmt.Errorf("sqlstore: unknown type %q", typ)
	}
	// Fetch one by one to preserve the caller's id order; the id sets
	// here are small (relationship linkage of one entity).
	out := make([]store.Entity, 0, len(ids))
	for _, id := range ids {
		ent, err := s.Get(ctx, typ, id)
		if err == store.ErrNoRow {
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
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		strings.Join(names, ", "), quote(res.Type), quote(res.PrimaryKey))
}

func (s *Store) Related(ctx context.Context, typ string, id any, relation string) ([]any, error) {
	return related(ctx, s.db, s.reg, typ, id, relation)
}

// related runs against either the pooled handle or an open transaction.
func related(ctx context.Context, q queryer, reg *descriptor.Registry, typ string, id any, relation string) ([]any, error) {
	res, ok := reg.Lookup(typ)
	if !ok {
		return nil, fmt.Errorf("sqlstore: unknown type %q", typ)
	}
	rel, ok := res.Rel(relation)
	if !ok {
		return nil, fmt.Errorf("sqlstore: unknown relationship %q on %q", relation, typ)
	}
	if rel.Via != nil {
		return relatedVia(ctx, q, reg, res, id, rel)
	}
	target, ok := reg.Lookup(rel.Target)
	if !ok {
		return nil, fmt.Errorf("sqlstore: unknown type %q", rel.Target)
	}

	if rel.Kind == descriptor.ToOne {
		var fk any
		stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
			quote(rel.LocalColumn), quote(res.Type), quote(res.PrimaryKey))
		err := q.QueryRowContext(ctx, stmt, id).Scan(&fk)
		if err == sql.ErrNoRows {
			return nil, store.ErrNoRow
		}
		if err != nil {
			return nil, fmt.Errorf("sqlstore: related %s.%s: %w", typ, relation, err)
		}
		if fk == nil {
			return nil, nil
		}
		return []any{fk}, nil
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		quote(target.PrimaryKey), quote(target.Type), quote(rel.RemoteColumn), quote(target.PrimaryKey))
	rows, err := q.QueryContext(ctx, stmt, id)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: related %s.%s: %w", typ, relation, err)
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

// relatedVia resolves a composed relationship as two hops, keeping
// first-seen order and dropping duplicates.
func relatedVia(ctx context.Context, q queryer, reg *descriptor.Registry, res *descriptor.Resource, id any, rel *descriptor.Relationship) ([]any, error) {
	through, ok := res.Rel(rel.Via.Through)
	if !ok {
		return nil, fmt.Errorf("sqlstore: composed relationship %q references unknown hop %q", rel.Name, rel.Via.Through)
	}
	mids, err := related(ctx, q, reg, res.Type, id, rel.Via.Through)
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

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func quote(name string) string { return `"` + name + `"` }
