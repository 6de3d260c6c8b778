// Package store declares the data-access capability the engine compiles
// queries against. The engine depends only on these interfaces; the
// memstore, sqlstore and pgxstore packages provide implementations.
package store

import (
	"context"
	"errors"

	"github.com/hanpama/restframe/internal/query"
)

// ErrNoRow reports that a direct lookup matched nothing.
var ErrNoRow = errors.New("store: no such row")

// Entity is one stored row of a resource type. Attrs hold typed values
// keyed by attribute name; the primary key is carried separately.
type Entity struct {
	Type  string
	ID    any
	Attrs map[string]any
}

// DataAccess executes compiled query plans and resolves relationship
// linkage. Implementations may block on I/O; all methods honor ctx.
type DataAccess interface {
	// Select returns the entities matched by the plan, windowed,
	// sorted and grouped as the plan directs.
	Select(ctx context.Context, p *query.Plan) ([]Entity, error)

	// Count returns the total number of rows matched by the plan,
	// ignoring its window.
	Count(ctx context.Context, p *query.Plan) (int, error)

	// Get fetches one entity by primary key, or ErrNoRow.
	Get(ctx context.Context, typ string, id any) (Entity, error)

	// GetMany fetches entities by primary key, omitting missing ids.
	GetMany(ctx context.Context, typ string, ids []any) ([]Entity, error)

	// Related returns the ids linked from (typ, id) through relation,
	// in stable order. A null to-one linkage yields an empty slice.
	Related(ctx context.Context, typ string, id any, relation string) ([]any, error)

	// Begin opens the unit of work for a write request. All mutations
	// of one request go through a single Tx and commit or roll back
	// together.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the per-request unit of work.
type Tx interface {
	// Insert stores a new entity. A nil id asks the store to generate
	// one. The stored entity, including its id, is returned.
	Insert(ctx context.Context, typ string, id any, attrs map[string]any) (Entity, error)

	// Update overwrites the given attributes of an existing entity.
	Update(ctx context.Context, typ string, id any, attrs map[string]any) error

	// Delete removes an entity.
	Delete(ctx context.Context, typ string, id any) error

	// SetRelated replaces the linkage of a relationship. For a to-one
	// relationship ids carries zero or one element.
	SetRelated(ctx context.Context, typ string, id any, relation string, ids []any) error

	// AddRelated appends linkage to a to-many relationship.
	AddRelated(ctx context.Context, typ string, id any, relation string, ids []any) error

	// RemoveRelated removes linkage from a to-many relationship.
	RemoveRelated(ctx context.Context, typ string, id any, relation string, ids []any) error

	Commit() error
	Rollback() error
}
