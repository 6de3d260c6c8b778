package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/document"
	"github.com/hanpama/restframe/internal/funcs"
	"github.com/hanpama/restframe/internal/operator"
	"github.com/hanpama/restframe/internal/paginate"
	"github.com/hanpama/restframe/internal/params"
	"github.com/hanpama/restframe/internal/query"
	"github.com/hanpama/restframe/internal/resterr"
	"github.com/hanpama/restframe/internal/store/memstore"
)

func testEngine(t *testing.T, opts ...Option) (*Engine, *memstore.Store) {
	t.Helper()
	person := descriptor.New("person", "id",
		[]descriptor.Attribute{
			{Name: "name", Type: descriptor.String},
			{Name: "age", Type: descriptor.Integer},
		},
		[]descriptor.Relationship{
			{Name: "articles", Kind: descriptor.ToMany, Target: "article"},
		})
	article := descriptor.New("article", "id",
		[]descriptor.Attribute{{Name: "title", Type: descriptor.String}},
		[]descriptor.Relationship{
			{Name: "author", Kind: descriptor.ToOne, Target: "person"},
		})
	reg := descriptor.NewRegistry()
	reg.Register(person)
	reg.Register(article)

	s := memstore.New(reg)
	s.Add("person", int64(1), map[string]any{"name": "alice", "age": int64(30)},
		map[string][]any{"articles": {int64(1)}})
	s.Add("person", int64(2), map[string]any{"name": "bob", "age": int64(9)}, nil)
	s.Add("person", int64(3), map[string]any{"name": "carol", "age": int64(25)}, nil)
	s.Add("article", int64(1), map[string]any{"title": "go"},
		map[string][]any{"author": {int64(1)}})

	return New(reg, operator.NewRegistry(), s, opts...), s
}

func requireCode(t *testing.T, err error, code resterr.Code) {
	t.Helper()
	require.Error(t, err)
	var re *resterr.Error
	require.True(t, errors.As(err, &re), "expected *resterr.Error, got %T: %v", err, err)
	require.Equal(t, code, re.Code)
}

func TestFetchCollection(t *testing.T) {
	e, _ := testEngine(t, WithPage(paginate.Config{DefaultSize: 2, MaxSize: 10}))
	res, err := e.FetchCollection(context.Background(), &Request{Type: "person"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)

	data := res.Doc.Data.([]document.Resource)
	require.Len(t, data, 2)
	require.Equal(t, 3, res.Doc.Meta["total"])
	require.Equal(t, "/api/person?page[number]=1&page[size]=2", res.Doc.Links.Self)
	require.Equal(t, "/api/person?page[number]=2&page[size]=2", res.Doc.Links.Next)
	require.Empty(t, res.Doc.Links.Prev)
}

func TestFetchCollectionFiltered(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.FetchCollection(context.Background(), &Request{
		Type: "person",
		Params: params.Params{
			Filter: []byte(`{"name": "age", "op": "ge", "val": 18}`),
			Sort:   []query.Sort{{Field: "age", Desc: true}},
		},
	})
	require.NoError(t, err)
	data := res.Doc.Data.([]document.Resource)
	require.Len(t, data, 2)
	require.Equal(t, "1", data[0].ID)
	require.Equal(t, "3", data[1].ID)
}

func TestFetchCollectionSingle(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	res, err := e.FetchCollection(ctx, &Request{Type: "person", Params: params.Params{
		Filter: []byte(`{"name": "name", "op": "eq", "val": "alice"}`),
		Single: true,
	}})
	require.NoError(t, err)
	obj := res.Doc.Data.(document.Resource)
	require.Equal(t, "1", obj.ID)

	_, err = e.FetchCollection(ctx, &Request{Type: "person", Params: params.Params{
		Filter: []byte(`{"name": "name", "op": "eq", "val": "nobody"}`),
		Single: true,
	}})
	requireCode(t, err, resterr.CodeNotFound)

	_, err = e.FetchCollection(ctx, &Request{Type: "person", Params: params.Params{Single: true}})
	requireCode(t, err, resterr.CodeMultipleMatches)
}

func TestFetchOne(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.FetchOne(context.Background(), &Request{Type: "person", ID: "1"})
	require.NoError(t, err)
	obj := res.Doc.Data.(document.Resource)
	require.Equal(t, "person", obj.Type)
	require.Equal(t, "alice", obj.Attributes["name"])
	require.Equal(t, "/api/person/1", obj.Links.Self)

	_, err = e.FetchOne(context.Background(), &Request{Type: "person", ID: "99"})
	requireCode(t, err, resterr.CodeNotFound)
	_, err = e.FetchOne(context.Background(), &Request{Type: "robot", ID: "1"})
	requireCode(t, err, resterr.CodeNotFound)
}

func TestFetchOneInclude(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.FetchOne(context.Background(), &Request{Type: "person", ID: "1",
		Params: params.Params{Include: [][]string{{"articles"}}}})
	require.NoError(t, err)
	require.Len(t, res.Doc.Included, 1)
	require.Equal(t, "article", res.Doc.Included[0].Type)
	require.Equal(t, "1", res.Doc.Included[0].ID)
}

func TestFetchRelated(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	res, err := e.FetchRelated(ctx, &Request{Type: "person", ID: "1", Relation: "articles"})
	require.NoError(t, err)
	data := res.Doc.Data.([]document.Resource)
	require.Len(t, data, 1)
	require.Equal(t, "go", data[0].Attributes["title"])

	res, err = e.FetchRelated(ctx, &Request{Type: "article", ID: "1", Relation: "author"})
	require.NoError(t, err)
	obj := res.Doc.Data.(document.Resource)
	require.Equal(t, "person", obj.Type)

	_, err = e.FetchRelated(ctx, &Request{Type: "person", ID: "1", Relation: "pets"})
	requireCode(t, err, resterr.CodeUnknownRelation)
}

func TestFetchRelationship(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.FetchRelationship(context.Background(),
		&Request{Type: "person", ID: "1", Relation: "articles"})
	require.NoError(t, err)
	require.Equal(t, []document.Identifier{{Type: "article", ID: "1"}}, res.Doc.Data)

	// An unlinked to-many relationship yields an empty list, not null.
	res, err = e.FetchRelationship(context.Background(),
		&Request{Type: "person", ID: "2", Relation: "articles"})
	require.NoError(t, err)
	require.Equal(t, []document.Identifier{}, res.Doc.Data)
}

func TestCreate(t *testing.T) {
	e, s := testEngine(t)
	res, err := e.Create(context.Background(), &Request{Type: "person", Body: []byte(`{
		"data": {
			"type": "person",
			"attributes": {"name": "erin", "age": 41},
			"relationships": {
				"articles": {"data": [
					{"type": "article", "id": "1"},
					{"type": "article", "attributes": {"title": "fresh"}}
				]}
			}
		}
	}`)})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.Status)

	obj := res.Doc.Data.(document.Resource)
	require.Equal(t, "/api/person/"+obj.ID, res.Location)
	require.Equal(t, "erin", obj.Attributes["name"])
	linkage := obj.Relationships["articles"].Data.([]document.Identifier)
	require.Len(t, linkage, 2)

	// Both the attach and the nested create are committed.
	id, err := document.ParseID(mustDescriptor(t, e, "person"), obj.ID)
	require.NoError(t, err)
	got, err := s.Related(context.Background(), "person", id, "articles")
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestCreateClientID(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.Create(context.Background(), &Request{Type: "person",
		Body: []byte(`{"data": {"type": "person", "id": "50", "attributes": {"name": "x"}}}`)})
	requireCode(t, err, resterr.CodeClientIDNotAllowed)
}

func TestCreateAttachMissingTarget(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.Create(context.Background(), &Request{Type: "person", Body: []byte(`{
		"data": {
			"type": "person",
			"attributes": {"name": "erin"},
			"relationships": {"articles": {"data": [{"type": "article", "id": "99"}]}}
		}
	}`)})
	requireCode(t, err, resterr.CodeNotFound)

	// The failed unit of work left nothing behind.
	res, err := e.FetchCollection(context.Background(), &Request{Type: "person", Params: params.Params{
		Filter: []byte(`{"name": "name", "op": "eq", "val": "erin"}`),
	}})
	require.NoError(t, err)
	require.Equal(t, 0, res.Doc.Meta["total"])
}

func TestUpdate(t *testing.T) {
	e, s := testEngine(t)
	ctx := context.Background()

	res, err := e.Update(ctx, &Request{Type: "person", ID: "2",
		Body: []byte(`{"data": {"type": "person", "id": "2", "attributes": {"age": 10}}}`)})
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, res.Status)
	require.Nil(t, res.Doc)

	ent, err := s.Get(ctx, "person", int64(2))
	require.NoError(t, err)
	require.Equal(t, int64(10), ent.Attrs["age"])

	// A document id contradicting the endpoint id is a conflict.
	_, err = e.Update(ctx, &Request{Type: "person", ID: "2",
		Body: []byte(`{"data": {"type": "person", "id": "3", "attributes": {"age": 10}}}`)})
	requireCode(t, err, resterr.CodeTypeConflict)
}

func TestDelete(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	res, err := e.Delete(ctx, &Request{Type: "person", ID: "2"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, res.Status)

	_, err = e.FetchOne(ctx, &Request{Type: "person", ID: "2"})
	requireCode(t, err, resterr.CodeNotFound)
	_, err = e.Delete(ctx, &Request{Type: "person", ID: "2"})
	requireCode(t, err, resterr.CodeNotFound)
}

func TestRelationshipWrites(t *testing.T) {
	e, s := testEngine(t)
	ctx := context.Background()

	res, err := e.UpdateRelationship(ctx, &Request{Type: "article", ID: "1", Relation: "author",
		Body: []byte(`{"data": {"type": "person", "id": "2"}}`)})
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, res.Status)
	got, _ := s.Related(ctx, "article", int64(1), "author")
	require.Equal(t, []any{int64(2)}, got)

	// Clearing a to-one relationship with null linkage.
	_, err = e.UpdateRelationship(ctx, &Request{Type: "article", ID: "1", Relation: "author",
		Body: []byte(`{"data": null}`)})
	require.NoError(t, err)
	got, _ = s.Related(ctx, "article", int64(1), "author")
	require.Empty(t, got)

	_, err = e.AddToRelationship(ctx, &Request{Type: "person", ID: "2", Relation: "articles",
		Body: []byte(`{"data": [{"type": "article", "id": "1"}]}`)})
	require.NoError(t, err)
	got, _ = s.Related(ctx, "person", int64(2), "articles")
	require.Equal(t, []any{int64(1)}, got)

	_, err = e.RemoveFromRelationship(ctx, &Request{Type: "person", ID: "2", Relation: "articles",
		Body: []byte(`{"data": [{"type": "article", "id": "1"}]}`)})
	require.NoError(t, err)
	got, _ = s.Related(ctx, "person", int64(2), "articles")
	require.Empty(t, got)

	// Only replacement is defined for to-one relationships.
	_, err = e.AddToRelationship(ctx, &Request{Type: "article", ID: "1", Relation: "author",
		Body: []byte(`{"data": [{"type": "person", "id": "1"}]}`)})
	requireCode(t, err, resterr.CodeAmbiguousRelationKind)
}

func TestEvaluateFunctions(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.EvaluateFunctions(context.Background(), &Request{Type: "person",
		Params: params.Params{Functions: []funcs.Request{
			{Name: "count", Field: "id"},
			{Name: "max", Field: "age"},
		}}})
	require.NoError(t, err)
	require.Equal(t, []any{int64(3), int64(30)}, res.Doc.Data)
}

func TestPreHookAbort(t *testing.T) {
	e, _ := testEngine(t)
	e.Before(KindCreate, func(ctx context.Context, req *Request) *Abort {
		return AbortWith(http.StatusForbidden, "creation disabled")
	})

	_, err := e.Create(context.Background(), &Request{Type: "person",
		Body: []byte(`{"data": {"type": "person", "attributes": {"name": "erin"}}}`)})
	var abort *Abort
	require.True(t, errors.As(err, &abort))
	require.Equal(t, http.StatusForbidden, abort.Status)
	require.Equal(t, "creation disabled", abort.Errors[0].Detail)

	// The abort fired before any transaction began.
	res, err := e.FetchCollection(context.Background(), &Request{Type: "person"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Doc.Meta["total"])
}

func TestPreHookMutatesRequest(t *testing.T) {
	e, _ := testEngine(t)
	e.Before(KindFetchCollection, func(ctx context.Context, req *Request) *Abort {
		req.Params.Filter = []byte(`{"name": "age", "op": "ge", "val": 18}`)
		return nil
	})
	res, err := e.FetchCollection(context.Background(), &Request{Type: "person"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Doc.Meta["total"])
}

func TestPostHookAbortRollsBackWrite(t *testing.T) {
	e, _ := testEngine(t)
	e.After(KindCreate, func(ctx context.Context, req *Request, doc *document.Document) *Abort {
		return AbortWith(http.StatusUnprocessableEntity, "rejected after inspection")
	})

	_, err := e.Create(context.Background(), &Request{Type: "person",
		Body: []byte(`{"data": {"type": "person", "attributes": {"name": "erin"}}}`)})
	var abort *Abort
	require.True(t, errors.As(err, &abort))

	// The post hook ran before commit, so the insert was rolled back.
	res, err := e.FetchCollection(context.Background(), &Request{Type: "person"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Doc.Meta["total"])
}

func mustDescriptor(t *testing.T, e *Engine, typ string) *descriptor.Resource {
	t.Helper()
	res, err := e.descriptor(typ)
	require.NoError(t, err)
	return res
}
