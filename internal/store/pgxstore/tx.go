package pgxstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/store"
)

// Begin opens the unit of work for one write request.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgxstore: begin: %w", err)
	}
	return &pgxTx{s: s, tx: tx}, nil
}

type pgxTx struct {
	s  *Store
	tx pgx.Tx
}

var _ store.Tx = (*pgxTx)(nil)

func (t *pgxTx) Commit() error   { return t.tx.Commit(context.Background()) }
func (t *pgxTx) Rollback() error { return t.tx.Rollback(context.Background()) }

func (t *pgxTx) Insert(ctx context.Context, typ string, id any, attrs map[string]any) (store.Entity, error) {
	res, ok := t.s.reg.Lookup(typ)
	if !ok {
		return store.Entity{}, fmt.Errorf("pgxstore: unknown type %q", typ)
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
		args = append(args, id)
		marks = append(marks, fmt.Sprintf("$%d", len(args)))
	}
	for _, a := range res.Attributes {
		v, ok := attrs[a.Name]
		if !ok || a.Name == res.PrimaryKey {
			continue
		}
		cols = append(cols, quote(a.Name))
		args = append(args, t.s.gen.Dialect.BindValue(v))
		marks = append(marks, fmt.Sprintf("$%d", len(args)))
	}

	var stmt string
	if len(cols) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s",
			quote(typ), quote(res.PrimaryKey))
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			quote(typ), strings.Join(cols, ", "), strings.Join(marks, ", "), quote(res.PrimaryKey))
	}
	var generated any
	if err := t.tx.QueryRow(ctx, stmt, args...).Scan(&generated); err != nil {
		return store.Entity{}, fmt.Errorf("pgxstore: insert %s: %w", typ, err)
	}
	return t.get(ctx, res, generated)
}

func (t *pgxTx) get(ctx context.Context, res *descriptor.Resource, id any) (store.Entity, error) {
	rows, err := t.tx.Query(ctx, t.s.getStmt(res), id)
	if err != nil {
		return store.Entity{}, fmt.Errorf("pgxstore: get %s: %w", res.Type, err)
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

func (t *pgxTx) Update(ctx context.Context, typ string, id any, attrs map[string]any) error {
	res, ok := t.s.reg.Lookup(typ)
	if !ok {
		return fmt.Errorf("pgxstore: unknown type %q", typ)
	}
	var sets []string
	var args []any
	for _, a := range res.Attributes {
		v, ok := attrs[a.Name]
		if !ok || a.Name == res.PrimaryKey {
			continue
		}
		args = append(args, t.s.gen.Dialect.BindValue(v))
		sets = append(sets, fmt.Sprintf("%s = $%d", quote(a.Name), len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		quote(typ), strings.Join(sets, ", "), quote(res.PrimaryKey), len(args))
	if _, err := t.tx.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("pgxstore: update %s: %w", typ, err)
	}
	return nil
}

func (t *pgxTx) Delete(ctx context.Context, typ string, id any) error {
	res, ok := t.s.reg.Lookup(typ)
	if !ok {
		return fmt.Errorf("pgxstore: unknown type %q", typ)
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", quote(typ), quote(res.PrimaryKey))
	if _, err := t.tx.Exec(ctx, stmt, id); err != nil {
		return fmt.Errorf("pgxstore: delete %s: %w", typ, err)
	}
	return nil
}

func (t *pgxTx) SetRelated(ctx context.Context, typ string, id any, relation string, ids []any) error {
	res, rel, target, err := t.relationship(typ, relation)
	if err != nil {
		return err
	}
	if rel.Kind == descriptor.ToOne {
		var fk any
		if len(ids) > 0 {
			fk = ids[0]
		}
		stmt := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s = $2",
			quote(res.Type), quote(rel.LocalColumn), quote(res.PrimaryKey))
		if _, err := t.tx.Exec(ctx, stmt, fk, id); err != nil {
			return fmt.Errorf("pgxstore: set %s.%s: %w", typ, relation, err)
		}
		return nil
	}
	clear := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = $1",
		quote(target.Type), quote(rel.RemoteColumn), quote(rel.RemoteColumn))
	if _, err := t.tx.Exec(ctx, clear, id); err != nil {
		return fmt.Errorf("pgxstore: set %s.%s: %w", typ, relation, err)
	}
	return t.AddRelated(ctx, typ, id, relation, ids)
}

func (t *pgxTx) AddRelated(ctx context.Context, typ string, id any, relation string, ids []any) error {
	_, rel, target, err := t.relationship(typ, relation)
	if err != nil {
		return err
	}
	if rel.Kind != descriptor.ToMany {
		return fmt.Errorf("pgxstore: relationship %q on %q is not to-many", relation, typ)
	}
	for _, rid := range ids {
		stmt := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s = $2",
			quote(target.Type), quote(rel.RemoteColumn), quote(target.PrimaryKey))
		if _, err := t.tx.Exec(ctx, stmt, id, rid); err != nil {
			return fmt.Errorf("pgxstore: add %s.%s: %w", typ, relation, err)
		}
	}
	return nil
}

func (t *pgxTx) RemoveRelated(ctx context.Context, typ string, id any, relation string, ids []any) error {
	_, rel, target, err := t.relationship(typ, relation)
	if err != nil {
		return err
	}
	if rel.Kind != descriptor.ToMany {
		return fmt.Errorf("pgxstore: relationship %q on %q is not to-many", relation, typ)
	}
	for _, rid := range ids {
		stmt := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = $1 AND %s = $2",
			quote(target.Type), quote(rel.RemoteColumn), quote(rel.RemoteColumn), quote(target.PrimaryKey))
		if _, err := t.tx.Exec(ctx, stmt, id, rid); err != nil {
			return fmt.Errorf("pgxstore: remove %s.%s: %w", typ, relation, err)
		}
	}
	return nil
}

func (t *pgxTx) relationship(typ, relation string) (*descriptor.Resource, *descriptor.Relationship, *descriptor.Resource, error) {
	res, ok := t.s.reg.Lookup(typ)
	if !ok {
		return nil, nil, nil, fmt.Errorf("pgxstore: unknown type %q", typ)
	}
	rel, ok := res.Rel(relation)
	if !ok {
		return nil, nil, nil, fmt.Errorf("pgxstore: unknown relationship %q on %q", relation, typ)
	}
	if rel.Via != nil {
		return nil, nil, nil, fmt.Errorf("pgxstore: composed relationship %q is read-only", relation)
	}
	target, ok := t.s.reg.Lookup(rel.Target)
	if !ok {
		return nil, nil, nil, fmt.Errorf("pgxstore: unknown type %q", rel.Target)
	}
	return res, rel, target, nil
}
