package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/document"
	"github.com/hanpama/restframe/internal/eventbus"
	"github.com/hanpama/restframe/internal/events"
	"github.com/hanpama/restframe/internal/funcs"
	"github.com/hanpama/restframe/internal/paginate"
	"github.com/hanpama/restframe/internal/params"
	"github.com/hanpama/restframe/internal/query"
	"github.com/hanpama/restframe/internal/resterr"
	"github.com/hanpama/restframe/internal/store"
)

// FetchCollection handles GET on a collection: filter, sort, group,
// paginate, include, serialize.
func (e *Engine) FetchCollection(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Operation: string(KindFetchCollection), Type: req.Type})
	defer func() { e.emitFinish(ctx, string(KindFetchCollection), req.Type, start, err) }()

	desc, err := e.descriptor(req.Type)
	if err != nil {
		return nil, err
	}
	if err = e.runPre(ctx, KindFetchCollection, req); err != nil {
		return nil, err
	}
	plan, err := e.compile(desc, req.Params)
	if err != nil {
		return nil, err
	}
	if err = e.resolve.ValidateIncludePaths(desc, req.Params.Include); err != nil {
		return nil, err
	}

	if plan.Single {
		ent, err := e.selectSingle(ctx, plan)
		if err != nil {
			return nil, err
		}
		doc, err := e.singleDocument(ctx, ent, req.Params)
		if err != nil {
			return nil, err
		}
		if err = e.runPost(ctx, KindFetchCollection, req, doc); err != nil {
			return nil, err
		}
		return &Result{Doc: doc, Status: http.StatusOK}, nil
	}

	total, err := e.count(ctx, plan)
	if err != nil {
		return nil, err
	}
	window, err := paginate.Resolve(req.Params.Page, e.opt.Page)
	if err != nil {
		return nil, err
	}
	plan.Limit, plan.Offset = window.Limit, window.Offset

	entities, err := e.selectEntities(ctx, plan)
	if err != nil {
		return nil, err
	}
	data := make([]document.Resource, len(entities))
	for i, ent := range entities {
		data[i], err = e.serializeEntity(ctx, ent, req.Params.Fields)
		if err != nil {
			return nil, err
		}
	}
	doc := &document.Document{
		Data: data,
		Meta: map[string]any{"total": total},
	}
	links := paginate.BuildLinks(fmt.Sprintf("%s/%s", e.opt.BaseURL, req.Type), total, window)
	doc.Links = &document.Links{
		Self:  links.Self,
		First: links.First,
		Last:  links.Last,
		Next:  links.Next,
		Prev:  links.Prev,
	}
	if doc.Included, err = e.includeResources(ctx, entities, req.Params); err != nil {
		return nil, err
	}
	if err = e.runPost(ctx, KindFetchCollection, req, doc); err != nil {
		return nil, err
	}
	return &Result{Doc: doc, Status: http.StatusOK}, nil
}

// FetchOne handles GET on a single resource by id.
func (e *Engine) FetchOne(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Operation: string(KindFetchOne), Type: req.Type})
	defer func() { e.emitFinish(ctx, string(KindFetchOne), req.Type, start, err) }()

	desc, err := e.descriptor(req.Type)
	if err != nil {
		return nil, err
	}
	if err = e.runPre(ctx, KindFetchOne, req); err != nil {
		return nil, err
	}
	if err = e.resolve.ValidateIncludePaths(desc, req.Params.Include); err != nil {
		return nil, err
	}
	ent, err := e.get(ctx, desc, req.ID)
	if err != nil {
		return nil, err
	}
	doc, err := e.singleDocument(ctx, ent, req.Params)
	if err != nil {
		return nil, err
	}
	if err = e.runPost(ctx, KindFetchOne, req, doc); err != nil {
		return nil, err
	}
	return &Result{Doc: doc, Status: http.StatusOK}, nil
}

// FetchRelated handles GET on a related endpoint: the full resources
// reached through one relationship of one entity.
func (e *Engine) FetchRelated(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Operation: string(KindFetchRelated), Type: req.Type})
	defer func() { e.emitFinish(ctx, string(KindFetchRelated), req.Type, start, err) }()

	desc, err := e.descriptor(req.Type)
	if err != nil {
		return nil, err
	}
	if err = e.runPre(ctx, KindFetchRelated, req); err != nil {
		return nil, err
	}
	rel, ok := desc.Rel(req.Relation)
	if !ok {
		return nil, resterr.UnknownRelation(req.Relation)
	}
	ent, err := e.get(ctx, desc, req.ID)
	if err != nil {
		return nil, err
	}
	ids, err := e.da.Related(ctx, ent.Type, ent.ID, rel.Name)
	if err != nil {
		return nil, resterr.Store(err)
	}
	related, err := e.da.GetMany(ctx, rel.Target, ids)
	if err != nil {
		return nil, resterr.Store(err)
	}

	var doc *document.Document
	if rel.Kind == descriptor.ToOne {
		doc = &document.Document{}
		if len(related) > 0 {
			obj, err := e.serializeEntity(ctx, related[0], req.Params.Fields)
			if err != nil {
				return nil, err
			}
			doc.Data = obj
		}
	} else {
		data := make([]document.Resource, len(related))
		for i, r := range related {
			if data[i], err = e.serializeEntity(ctx, r, req.Params.Fields); err != nil {
				return nil, err
			}
		}
		doc = &document.Document{Data: data, Meta: map[string]any{"total": len(related)}}
	}
	if err = e.runPost(ctx, KindFetchRelated, req, doc); err != nil {
		return nil, err
	}
	return &Result{Doc: doc, Status: http.StatusOK}, nil
}

// FetchRelationship handles GET on a relationship endpoint: identifier
// linkage only, never full objects.
func (e *Engine) FetchRelationship(ctx context.Context, req *Request) (res *Result, err error) {
	desc, err := e.descriptor(req.Type)
	if err != nil {
		return nil, err
	}
	rel, ok := desc.Rel(req.Relation)
	if !ok {
		return nil, resterr.UnknownRelation(req.Relation)
	}
	ent, err := e.get(ctx, desc, req.ID)
	if err != nil {
		return nil, err
	}
	ids, err := e.da.Related(ctx, ent.Type, ent.ID, rel.Name)
	if err != nil {
		return nil, resterr.Store(err)
	}
	doc := &document.Document{}
	if rel.Kind == descriptor.ToMany {
		linkage := make([]document.Identifier, len(ids))
		for i, id := range ids {
			linkage[i] = document.Identifier{Type: rel.Target, ID: document.IDString(id)}
		}
		doc.Data = linkage
	} else if len(ids) > 0 {
		doc.Data = document.Identifier{Type: rel.Target, ID: document.IDString(ids[0])}
	}
	return &Result{Doc: doc, Status: http.StatusOK}, nil
}

// EvaluateFunctions handles GET on the function-evaluation endpoint.
func (e *Engine) EvaluateFunctions(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Operation: string(KindFunctions), Type: req.Type})
	defer func() { e.emitFinish(ctx, string(KindFunctions), req.Type, start, err) }()

	desc, err := e.descriptor(req.Type)
	if err != nil {
		return nil, err
	}
	if err = e.runPre(ctx, KindFunctions, req); err != nil {
		return nil, err
	}
	plan, err := e.compile(desc, req.Params)
	if err != nil {
		return nil, err
	}
	results, err := funcs.Evaluate(ctx, e.da, plan, req.Params.Functions)
	if err != nil {
		return nil, err
	}
	doc := &document.Document{Data: results}
	if err = e.runPost(ctx, KindFunctions, req, doc); err != nil {
		return nil, err
	}
	return &Result{Doc: doc, Status: http.StatusOK}, nil
}

// get fetches one entity by wire id, mapping a missing row to NotFound.
func (e *Engine) get(ctx context.Context, desc *descriptor.Resource, wireID string) (store.Entity, error) {
	id, err := document.ParseID(desc, wireID)
	if err != nil {
		return store.Entity{}, resterr.NotFound(fmt.Sprintf("no %s with id %q", desc.Type, wireID))
	}
	ent, err := e.da.Get(ctx, desc.Type, id)
	if errors.Is(err, store.ErrNoRow) {
		return store.Entity{}, resterr.NotFound(fmt.Sprintf("no %s with id %q", desc.Type, wireID))
	}
	if err != nil {
		return store.Entity{}, resterr.Store(err)
	}
	return ent, nil
}

// selectSingle enforces exactly-one-result semantics.
func (e *Engine) selectSingle(ctx context.Context, plan *query.Plan) (store.Entity, error) {
	entities, err := e.selectEntities(ctx, plan)
	if err != nil {
		return store.Entity{}, err
	}
	switch len(entities) {
	case 0:
		return store.Entity{}, resterr.NotFound("no resource matched the filter")
	case 1:
		return entities[0], nil
	}
	return store.Entity{}, resterr.MultipleMatches(
		fmt.Sprintf("%d resources matched a single-result filter", len(entities)))
}

func (e *Engine) singleDocument(ctx context.Context, ent store.Entity, p params.Params) (*document.Document, error) {
	obj, err := e.serializeEntity(ctx, ent, p.Fields)
	if err != nil {
		return nil, err
	}
	doc := &document.Document{Data: obj}
	if doc.Included, err = e.includeResources(ctx, []store.Entity{ent}, p); err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *Engine) includeResources(ctx context.Context, roots []store.Entity, p params.Params) ([]document.Resource, error) {
	if len(p.Include) == 0 {
		return nil, nil
	}
	included, err := e.resolve.Include(ctx, roots, p.Include)
	if err != nil {
		return nil, err
	}
	out := make([]document.Resource, len(included))
	for i, ent := range included {
		obj, err := e.serializeEntity(ctx, ent, p.Fields)
		if err != nil {
			return nil, err
		}
		out[i] = obj
	}
	return out, nil
}

func (e *Engine) selectEntities(ctx context.Context, plan *query.Plan) ([]store.Entity, error) {
	begin := time.Now()
	entities, err := e.da.Select(ctx, plan)
	eventbus.Publish(ctx, events.StoreSelect{
		Type:     plan.Resource.Type,
		Rows:     len(entities),
		Err:      err,
		Duration: time.Since(begin),
	})
	if err != nil {
		return nil, resterr.Store(err)
	}
	return entities, nil
}

func (e *Engine) count(ctx context.Context, plan *query.Plan) (int, error) {
	n, err := e.da.Count(ctx, plan)
	if err != nil {
		return 0, resterr.Store(err)
	}
	return n, nil
}
