package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/store"
)

// Begin opens the unit of work for one write request.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: begin: %w", err)
	}
	return &sqlTx{s: s, tx: tx}, nil
}

type sqlTx struct {
	s  *Store
	tx *sql.Tx
}

var _ store.Tx = (*sqlTx)(nil)

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func (t *sqlTx) Insert(ctx context.Context, typ string, id any, attrs map[string]any) (store.Entity, error) {
	res, ok := t.s.reg.Lookup(typ)
	if !ok {
		return store.Entity{}, fmt.Errorf("sqlstore: unknown type %q", typ)
	}
	pk, _ := res.Attr(res.PrimaryKey)
	if id == nil && pk.Type == descriptor.String {
		id = uuid.NewString()
	}

	var cols []string
	var marks []string
	var args []any
	if id != nil {
		cols = append(cols, quote(res.PrimaryKey))
		marks = append(marks, "?")
		args = append(args, id)
	}
	// Iterate declaration order so statements are deterministic.
	for _, a := range res.Attributes {
		v, ok := attrs[a.Name]
		if !ok || a.Name == res.PrimaryKey {
			continue
		}
		cols = append(cols, quote(a.Name))
		marks = append(marks, "?")
		args = append(args, t.s.gen.Dialect.BindValue(v))
	}

	var stmt string
	if len(cols) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(typ))
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(typ), strings.Join(cols, ", "), strings.Join(marks, ", "))
	}
	result, err := t.tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return store.Entity{}, fmt.Errorf("sqlstore: insert %s: %w", typ, err)
	}
	if id == nil {
		// Integer primary keys alias the rowid, so the generated id is
		// the last insert rowid.
		rowid, err := result.LastInsertId()
		if err != nil {
			return store.Entity{}, fmt.Errorf("sqlstore: insert %s: %w", typ, err)
		}
		id = rowid
	}
	return t.get(ctx, res, id)
}

func (t *sqlTx) get(ctx context.Context, res *descriptor.Resource, id any) (store.Entity, error) {
	rows, err := t.tx.QueryContext(ctx, t.s.getStmt(res), id)
	if err != nil {
		return store.Entity{}, fmt.Errorf("sqlstore: get %s: %w", res.Type, err)
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

func (t *sqlTx) Update(ctx context.Context, typ string, id any, attrs map[string]any) error {
	res, ok := t.s.reg.Lookup(typ)
	if !ok {
		return fmt.Errorf("sqlstore: unknown type %q", typ)
	}
	var sets []string
	var args []any
	for _, a := range res.Attributes {
		v, ok := attrs[a.Name]
		if !ok || a.Name == res.PrimaryKey {
			continue
		}
		sets = append(sets, quote(a.Name)+" = ?")
		args = append(args, t.s.gen.Dialect.BindValue(v))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quote(typ), strings.Join(sets, ", "), quote(res.PrimaryKey))
	if _, err := t.tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("sqlstore: update %s: %w", typ, err)
	}
	return nil
}

func (t *sqlTx) Delete(ctx context.Context, typ string, id any) error {
	res, ok := t.s.reg.Lookup(typ)
	if !ok {
		return fmt.Errorf("sqlstore: unknown type %q", typ)
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(typ), quote(res.PrimaryKey))
	if _, err := t.tx.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("sqlstore: delete %s: %w", typ, err)
	}
	return nil
}

func (t *sqlTx) SetRelated(ctx context.Context, typ string, id any, relation string, ids []any) error {
	res, rel, target, err := t.relationship(typ, relation)
	if err != nil {
		return err
	}
	if rel.Kind == descriptor.ToOne {
		var fk any
		if len(ids) > 0 {
			fk = ids[0]
		}
		stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
			quote(res.Type), quote(rel.LocalColumn), quote(res.PrimaryKey))
		if _, err := t.tx.ExecContext(ctx, stmt, fk, id); err != nil {
			return fmt.Errorf("sqlstore: set %s.%s: %w", typ, relation, err)
		}
		return nil
	}
	clear := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = ?",
		quote(target.Type), quote(rel.RemoteColumn), quote(rel.RemoteColumn))
	if _, err := t.tx.ExecContext(ctx, clear, id); err != nil {
		return fmt.Errorf("sqlstore: set %s.%s: %w", typ, relation, err)
	}
	return t.AddRelated(ctx, typ, id, relation, ids)
}

func (t *sqlTx) AddRelated(ctx context.Context, typ string, id any, relation string, ids []any) error {
	_, rel, target, err := t.relationship(typ, relation)
	if err != nil {
		return err
	}
	if rel.Kind != descriptor.ToMany {
		return fmt.Errorf("sqlstore: relationship %q on %q is not to-many", relation, typ)
	}
	for _, rid := range ids {
		stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
			quote(target.Type), quote(rel.RemoteColumn), quote(target.PrimaryKey))
		if _, err := t.tx.ExecContext(ctx, stmt, id, rid); err != nil {
			return fmt.Errorf("sqlstore: add %s.%s: %w", typ, relation, err)
		}
	}
	return nil
}

func (t *sqlTx) RemoveRelated(ctx context.Context, typ string, id any, relation string, ids []any) error {
	_, rel, target, err := t.relationship(typ, relation)
	if err != nil {
		return err
	}
	if rel.Kind != descriptor.ToMany {
		return fmt.Errorf("sqlstore: relationship %q on %q is not to-many", relation, typ)
	}
	for _, rid := range ids {
		stmt := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = ? AND %s = ?",
			quote(target.Type), quote(rel.RemoteColumn), quote(rel.RemoteColumn), quote(target.PrimaryKey))
		if _, err := t.tx.ExecContext(ctx, stmt, id, rid); err != nil {
			return fmt.Errorf("sqlstore: remove %s.%s: %w", typ, relation, err)
		}
	}
	return nil
}

func (t *sqlTx) relationship(typ, relation string) (*descriptor.Resource, *descriptor.Relationship, *descriptor.Resource, error) {
	res, ok := t.s.reg.Lookup(typ)
	if !ok {
		return nil, nil, nil, fmt.Errorf("sqlstore: unknown type %q", typ)
	}
	rel, ok := res.Rel(relation)
	if !ok {
		return nil, nil, nil, fmt.Errorf("sqlstore: unknown relationship %q on %q", relation, typ)
	}
	if rel.Via != nil {
		return nil, nil, nil, fmt.Errorf("sqlstore: composed relationship %q is read-only", relation)
	}
	target, ok := t.s.reg.Lookup(rel.Target)
	if !ok {
		return nil, nil, nil, fmt.Errorf("sqlstore: unknown type %q", rel.Target)
	}
	return res, rel, target, nil
}
