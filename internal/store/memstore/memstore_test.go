package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/filter"
	"github.com/hanpama/restframe/internal/operator"
	"github.com/hanpama/restframe/internal/query"
	"github.com/hanpama/restframe/internal/store"
)

// seededStore builds the person/article/comment fixture:
//
//	alice (30)  -> articles 1, 2; article 1 -> comments 1, 2; article 2 -> comment 3
//	bob   (9)   -> article 3;     article 3 -> comment 2 (shared with article 1)
//	carol (25)  -> no articles
//	dave  (nil) -> no articles
//
// person.comments is composed through articles.
func seededStore(t *testing.T) (*Store, *query.Compiler, *descriptor.Registry) {
	t.Helper()
	person := descriptor.New("person", "id",
		[]descriptor.Attribute{
			{Name: "name", Type: descriptor.String},
			{Name: "age", Type: descriptor.Integer},
		},
		[]descriptor.Relationship{
			{Name: "articles", Kind: descriptor.ToMany, Target: "article"},
			{Name: "comments", Kind: descriptor.ToMany, Target: "comment",
				Via: &descriptor.Composition{Through: "articles", Hop: "comments"}},
		})
	article := descriptor.New("article", "id",
		[]descriptor.Attribute{{Name: "title", Type: descriptor.String}},
		[]descriptor.Relationship{
			{Name: "author", Kind: descriptor.ToOne, Target: "person"},
			{Name: "comments", Kind: descriptor.ToMany, Target: "comment"},
		})
	comment := descriptor.New("comment", "id",
		[]descriptor.Attribute{{Name: "body", Type: descriptor.String}}, nil)
	reg := descriptor.NewRegistry()
	reg.Register(person)
	reg.Register(article)
	reg.Register(comment)

	s := New(reg)
	s.Add("person", int64(1), map[string]any{"name": "alice", "age": int64(30)},
		map[string][]any{"articles": {int64(1), int64(2)}})
	s.Add("person", int64(2), map[string]any{"name": "bob", "age": int64(9)},
		map[string][]any{"articles": {int64(3)}})
	s.Add("person", int64(3), map[string]any{"name": "carol", "age": int64(25)}, nil)
	s.Add("person", int64(4), map[string]any{"name": "dave", "age": nil}, nil)
	s.Add("article", int64(1), map[string]any{"title": "go"},
		map[string][]any{"author": {int64(1)}, "comments": {int64(1), int64(2)}})
	s.Add("article", int64(2), map[string]any{"title": "sql"},
		map[string][]any{"author": {int64(1)}, "comments": {int64(3)}})
	s.Add("article", int64(3), map[string]any{"title": "yaml"},
		map[string][]any{"author": {int64(2)}, "comments": {int64(2)}})
	s.Add("comment", int64(1), map[string]any{"body": "nice"}, nil)
	s.Add("comment", int64(2), map[string]any{"body": "hm"}, nil)
	s.Add("comment", int64(3), map[string]any{"body": "why"}, nil)

	return s, query.NewCompiler(reg, operator.NewRegistry()), reg
}

func plan(t *testing.T, c *query.Compiler, reg *descriptor.Registry, typ, raw string, d query.Directives) *query.Plan {
	t.Helper()
	res, ok := reg.Lookup(typ)
	require.True(t, ok)
	var node filter.Node
	if raw != "" {
		var err error
		node, err = filter.Parse(reg, res, []byte(raw))
		require.NoError(t, err)
	}
	p, err := c.Compile(res, node, d)
	require.NoError(t, err)
	return p
}

func selectIDs(t *testing.T, s *Store, p *query.Plan) []any {
	t.Helper()
	entities, err := s.Select(context.Background(), p)
	require.NoError(t, err)
	out := make([]any, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

func TestSelectComparison(t *testing.T) {
	s, c, reg := seededStore(t)
	p := plan(t, c, reg, "person", `{"name": "age", "op": "ge", "val": 18}`, query.Directives{})
	require.Equal(t, []any{int64(1), int64(3)}, selectIDs(t, s, p))
}

func TestSelectDisjunction(t *testing.T) {
	s, c, reg := seededStore(t)
	p := plan(t, c, reg, "person",
		`{"or": [{"name": "age", "op": "lt", "val": 10}, {"name": "age", "op": "gt", "val": 25}]}`,
		query.Directives{})
	require.Equal(t, []any{int64(1), int64(2)}, selectIDs(t, s, p))
}

func TestSelectDeMorgan(t *testing.T) {
	s, c, reg := seededStore(t)
	negated := plan(t, c, reg, "person",
		`{"not": {"or": [{"name": "age", "op": "lt", "val": 10}, {"name": "age", "op": "gt", "val": 25}]}}`,
		query.Directives{})
	conjoined := plan(t, c, reg, "person",
		`{"and": [{"not": {"name": "age", "op": "lt", "val": 10}}, {"not": {"name": "age", "op": "gt", "val": 25}}]}`,
		query.Directives{})
	require.Equal(t, selectIDs(t, s, negated), selectIDs(t, s, conjoined))
}

func TestSelectAnyNeverDuplicatesRoots(t *testing.T) {
	s, c, reg := seededStore(t)
	// alice has two articles with non-empty titles; she must still come
	// back exactly once.
	p := plan(t, c, reg, "person",
		`{"name": "articles", "op": "any", "val": {"name": "title", "op": "ne", "val": ""}}`,
		query.Directives{})
	require.Equal(t, []any{int64(1), int64(2)}, selectIDs(t, s, p))
}

func TestSelectHasOnToOne(t *testing.T) {
	s, c, reg := seededStore(t)
	p := plan(t, c, reg, "article",
		`{"name": "author", "op": "has", "val": {"name": "age", "op": "ge", "val": 18}}`,
		query.Directives{})
	require.Equal(t, []any{int64(1), int64(2)}, selectIDs(t, s, p))
}

func TestSelectDottedToOneColumn(t *testing.T) {
	s, c, reg := seededStore(t)
	p := plan(t, c, reg, "article",
		`{"name": "author.name", "op": "eq", "val": "bob"}`, query.Directives{})
	require.Equal(t, []any{int64(3)}, selectIDs(t, s, p))
}

func TestRelatedComposedDeduplicates(t *testing.T) {
	s, _, _ := seededStore(t)
	// comment 2 is reachable through both of alice's articles.
	got, err := s.Related(context.Background(), "person", int64(1), "comments")
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), int64(2), int64(3)}, got)

	got, err = s.Related(context.Background(), "person", int64(3), "comments")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSelectSortNullsFirst(t *testing.T) {
	s, c, reg := seededStore(t)

	asc := plan(t, c, reg, "person", "", query.Directives{Sort: []query.Sort{{Field: "age"}}})
	require.Equal(t, []any{int64(4), int64(2), int64(3), int64(1)}, selectIDs(t, s, asc))

	// Null rows stay in front even descending.
	desc := plan(t, c, reg, "person", "", query.Directives{Sort: []query.Sort{{Field: "age", Desc: true}}})
	require.Equal(t, []any{int64(4), int64(1), int64(3), int64(2)}, selectIDs(t, s, desc))
}

func TestSelectGroupKeepsOnePerKey(t *testing.T) {
	s, c, reg := seededStore(t)
	s.Add("person", int64(5), map[string]any{"name": "alice", "age": int64(40)}, nil)

	p := plan(t, c, reg, "person", "", query.Directives{Group: []string{"name"}})
	got := selectIDs(t, s, p)
	require.Len(t, got, 4)
	require.Equal(t, []any{int64(1), int64(2), int64(3), int64(4)}, got)

	n, err := s.Count(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestSelectWindow(t *testing.T) {
	s, c, reg := seededStore(t)
	p := plan(t, c, reg, "person", "", query.Directives{Sort: []query.Sort{{Field: "name"}}})
	p.Limit = 2
	p.Offset = 1
	require.Equal(t, []any{int64(2), int64(3)}, selectIDs(t, s, p))

	// Count ignores the window.
	n, err := s.Count(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	p.Offset = 10
	require.Empty(t, selectIDs(t, s, p))
}

func TestTxCommitSwapsAtomically(t *testing.T) {
	s, _, _ := seededStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	e, err := tx.Insert(ctx, "person", nil, map[string]any{"name": "erin", "age": int64(50)})
	require.NoError(t, err)
	require.NotNil(t, e.ID)
	require.NoError(t, tx.Update(ctx, "person", int64(3), map[string]any{"age": int64(26)}))

	// Uncommitted work stays invisible.
	_, err = s.Get(ctx, "person", e.ID)
	require.ErrorIs(t, err, store.ErrNoRow)
	carol, err := s.Get(ctx, "person", int64(3))
	require.NoError(t, err)
	require.Equal(t, int64(25), carol.Attrs["age"])

	require.NoError(t, tx.Commit())
	inserted, err := s.Get(ctx, "person", e.ID)
	require.NoError(t, err)
	require.Equal(t, "erin", inserted.Attrs["name"])
	carol, err = s.Get(ctx, "person", int64(3))
	require.NoError(t, err)
	require.Equal(t, int64(26), carol.Attrs["age"])
}

func TestTxRollbackDiscardsEverything(t *testing.T) {
	s, _, _ := seededStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, "person", int64(1)))
	require.NoError(t, tx.SetRelated(ctx, "person", int64(2), "articles", []any{int64(1)}))
	require.NoError(t, tx.Rollback())

	_, err = s.Get(ctx, "person", int64(1))
	require.NoError(t, err)
	got, err := s.Related(ctx, "person", int64(2), "articles")
	require.NoError(t, err)
	require.Equal(t, []any{int64(3)}, got)
}

func TestTxRelationshipMutations(t *testing.T) {
	s, _, _ := seededStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddRelated(ctx, "person", int64(3), "articles", []any{int64(2)}))
	// Adding existing linkage is a no-op, not a duplicate.
	require.NoError(t, tx.AddRelated(ctx, "person", int64(1), "articles", []any{int64(2)}))
	require.NoError(t, tx.RemoveRelated(ctx, "person", int64(1), "articles", []any{int64(1)}))
	require.NoError(t, tx.Commit())

	got, err := s.Related(ctx, "person", int64(3), "articles")
	require.NoError(t, err)
	require.Equal(t, []any{int64(2)}, got)
	got, err = s.Related(ctx, "person", int64(1), "articles")
	require.NoError(t, err)
	require.Equal(t, []any{int64(2)}, got)
}

func TestGeneratedIDs(t *testing.T) {
	reg := descriptor.NewRegistry()
	reg.Register(descriptor.New("numbered", "id",
		[]descriptor.Attribute{{Name: "n", Type: descriptor.Integer}}, nil))
	reg.Register(descriptor.New("keyed", "id",
		[]descriptor.Attribute{{Name: "id", Type: descriptor.String}}, nil))
	s := New(reg)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	first, err := tx.Insert(ctx, "numbered", nil, nil)
	require.NoError(t, err)
	second, err := tx.Insert(ctx, "numbered", nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), first.ID)
	require.Equal(t, int64(2), second.ID)

	keyed, err := tx.Insert(ctx, "keyed", nil, nil)
	require.NoError(t, err)
	require.IsType(t, "", keyed.ID)
	require.NotEmpty(t, keyed.ID)
	require.NoError(t, tx.Commit())
}
