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
	"github.com/hanpama/restframe/internal/resterr"
	"github.com/hanpama/restframe/internal/store"
)

// Create handles POST on a collection. The new entity and all of its
// nested relationship linkage are stored within one unit of work; post
// hooks run before commit and an abort rolls everything back.
func (e *Engine) Create(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Operation: string(KindCreate), Type: req.Type})
	defer func() { e.emitFinish(ctx, string(KindCreate), req.Type, start, err) }()

	desc, err := e.descriptor(req.Type)
	if err != nil {
		return nil, err
	}
	if err = e.runPre(ctx, KindCreate, req); err != nil {
		return nil, err
	}
	parsed, err := e.deserializer(req.Type, desc).Deserialize(req.Body)
	if err != nil {
		return nil, err
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { e.finishTx(ctx, tx, req.Type, start, &err) }()

	ent, rels, err := e.insertTree(ctx, tx, desc, parsed)
	if err != nil {
		return nil, err
	}
	obj, err := e.serializer(req.Type, desc).Serialize(ent, rels, e.visibility(req.Type, req.Params.Fields))
	if err != nil {
		return nil, err
	}
	obj.Links = &document.Links{Self: e.selfLink(req.Type, obj.ID)}
	doc := &document.Document{Data: obj}

	if err = e.runPost(ctx, KindCreate, req, doc); err != nil {
		return nil, err
	}
	return &Result{Doc: doc, Status: http.StatusCreated, Location: obj.Links.Self}, nil
}

// Update handles PATCH on a resource. A document id that contradicts
// the endpoint id is a conflict.
func (e *Engine) Update(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Operation: string(KindUpdate), Type: req.Type})
	defer func() { e.emitFinish(ctx, string(KindUpdate), req.Type, start, err) }()

	desc, err := e.descriptor(req.Type)
	if err != nil {
		return nil, err
	}
	if err = e.runPre(ctx, KindUpdate, req); err != nil {
		return nil, err
	}
	ent, err := e.get(ctx, desc, req.ID)
	if err != nil {
		return nil, err
	}
	parsed, err := e.deserializer(req.Type, desc).Deserialize(req.Body)
	if err != nil {
		return nil, err
	}
	if parsed.ID != nil && document.IDString(parsed.ID) != req.ID {
		return nil, &resterr.Error{
			Code:   resterr.CodeTypeConflict,
			Status: http.StatusConflict,
			Detail: fmt.Sprintf("document id %q does not match endpoint id %q", document.IDString(parsed.ID), req.ID),
		}
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { e.finishTx(ctx, tx, req.Type, start, &err) }()

	if len(parsed.Attrs) > 0 {
		if err = tx.Update(ctx, desc.Type, ent.ID, parsed.Attrs); err != nil {
			return nil, resterr.Store(err)
		}
	}
	if err = e.applyRelationships(ctx, tx, desc, ent.ID, parsed); err != nil {
		return nil, err
	}
	if err = e.runPost(ctx, KindUpdate, req, nil); err != nil {
		return nil, err
	}
	return &Result{Status: http.StatusNoContent}, nil
}

// Delete handles DELETE on a resource.
func (e *Engine) Delete(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Operation: string(KindDelete), Type: req.Type})
	defer func() { e.emitFinish(ctx, string(KindDelete), req.Type, start, err) }()

	desc, err := e.descriptor(req.Type)
	if err != nil {
		return nil, err
	}
	if err = e.runPre(ctx, KindDelete, req); err != nil {
		return nil, err
	}
	ent, err := e.get(ctx, desc, req.ID)
	if err != nil {
		return nil, err
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { e.finishTx(ctx, tx, req.Type, start, &err) }()

	if err = tx.Delete(ctx, desc.Type, ent.ID); err != nil {
		return nil, resterr.Store(err)
	}
	if err = e.runPost(ctx, KindDelete, req, nil); err != nil {
		return nil, err
	}
	return &Result{Status: http.StatusNoContent}, nil
}

// UpdateRelationship replaces, AddToRelationship extends, and
// RemoveFromRelationship shrinks a relationship's linkage.
func (e *Engine) UpdateRelationship(ctx context.Context, req *Request) (*Result, error) {
	return e.relationshipWrite(ctx, req, func(ctx context.Context, tx store.Tx, typ string, id any, rel *descriptor.Relationship, ids []any) error {
		return tx.SetRelated(ctx, typ, id, rel.Name, ids)
	}, true)
}

func (e *Engine) AddToRelationship(ctx context.Context, req *Request) (*Result, error) {
	return e.relationshipWrite(ctx, req, func(ctx context.Context, tx store.Tx, typ string, id any, rel *descriptor.Relationship, ids []any) error {
		return tx.AddRelated(ctx, typ, id, rel.Name, ids)
	}, false)
}

func (e *Engine) RemoveFromRelationship(ctx context.Context, req *Request) (*Result, error) {
	return e.relationshipWrite(ctx, req, func(ctx context.Context, tx store.Tx, typ string, id any, rel *descriptor.Relationship, ids []any) error {
		return tx.RemoveRelated(ctx, typ, id, rel.Name, ids)
	}, false)
}

type relWrite func(ctx context.Context, tx store.Tx, typ string, id any, rel *descriptor.Relationship, ids []any) error

func (e *Engine) relationshipWrite(ctx context.Context, req *Request, apply relWrite, allowToOne bool) (res *Result, err error) {
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Operation: string(KindRelationship), Type: req.Type})
	defer func() { e.emitFinish(ctx, string(KindRelationship), req.Type, start, err) }()

	desc, err := e.descriptor(req.Type)
	if err != nil {
		return nil, err
	}
	if err = e.runPre(ctx, KindRelationship, req); err != nil {
		return nil, err
	}
	rel, ok := desc.Rel(req.Relation)
	if !ok {
		return nil, resterr.UnknownRelation(req.Relation)
	}
	if !allowToOne && rel.Kind != descriptor.ToMany {
		return nil, resterr.AmbiguousRelationKind(rel.Name,
			fmt.Sprintf("relationship %q is to-one; only replacement is supported", rel.Name))
	}
	ent, err := e.get(ctx, desc, req.ID)
	if err != nil {
		return nil, err
	}
	linkage, null, err := document.ParseLinkage(rel, req.Body)
	if err != nil {
		return nil, err
	}
	target, ok := e.reg.Lookup(rel.Target)
	if !ok {
		return nil, resterr.UnknownRelation(rel.Target)
	}
	var ids []any
	if !null {
		if ids, err = e.resolveIdentifiers(ctx, target, linkage); err != nil {
			return nil, err
		}
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { e.finishTx(ctx, tx, req.Type, start, &err) }()

	if err = apply(ctx, tx, desc.Type, ent.ID, rel, ids); err != nil {
		return nil, resterr.Store(err)
	}
	if err = e.runPost(ctx, KindRelationship, req, nil); err != nil {
		return nil, err
	}
	return &Result{Status: http.StatusNoContent}, nil
}

// insertTree stores one parsed resource, creating nested relationship
// objects first, then linking everything. It returns the stored entity
// and the relationship objects describing the final linkage.
func (e *Engine) insertTree(ctx context.Context, tx store.Tx, desc *descriptor.Resource, parsed *document.Parsed) (store.Entity, map[string]document.Relationship, error) {
	if parsed.ID != nil && !desc.AllowClientIDs {
		return store.Entity{}, nil, resterr.ClientIDNotAllowed(desc.Type)
	}
	ent, err := tx.Insert(ctx, desc.Type, parsed.ID, parsed.Attrs)
	if err != nil {
		return store.Entity{}, nil, resterr.Store(err)
	}
	rels := make(map[string]document.Relationship)
	for name, inst := range parsed.Rels {
		rel, _ := desc.Rel(name)
		target, ok := e.reg.Lookup(rel.Target)
		if !ok {
			return store.Entity{}, nil, resterr.UnknownRelation(rel.Target)
		}
		ids, err := e.resolveIdentifiers(ctx, target, inst.Attach)
		if err != nil {
			return store.Entity{}, nil, err
		}
		for _, nested := range inst.Create {
			child, _, err := e.insertTree(ctx, tx, target, nested)
			if err != nil {
				return store.Entity{}, nil, err
			}
			ids = append(ids, child.ID)
		}
		if inst.Null {
			ids = nil
		}
		if err := tx.SetRelated(ctx, desc.Type, ent.ID, name, ids); err != nil {
			return store.Entity{}, nil, resterr.Store(err)
		}
		rels[name] = linkageObject(rel, ids)
	}
	return ent, rels, nil
}

func (e *Engine) applyRelationships(ctx context.Context, tx store.Tx, desc *descriptor.Resource, id any, parsed *document.Parsed) error {
	for name, inst := range parsed.Rels {
		rel, _ := desc.Rel(name)
		target, ok := e.reg.Lookup(rel.Target)
		if !ok {
			return resterr.UnknownRelation(rel.Target)
		}
		ids, err := e.resolveIdentifiers(ctx, target, inst.Attach)
		if err != nil {
			return err
		}
		for _, nested := range inst.Create {
			child, _, err := e.insertTree(ctx, tx, target, nested)
			if err != nil {
				return err
			}
			ids = append(ids, child.ID)
		}
		if inst.Null {
			ids = nil
		}
		if err := tx.SetRelated(ctx, desc.Type, id, name, ids); err != nil {
			return resterr.Store(err)
		}
	}
	return nil
}

// resolveIdentifiers converts wire identifiers to typed ids, verifying
// that each referenced entity exists in committed state.
func (e *Engine) resolveIdentifiers(ctx context.Context, target *descriptor.Resource, idents []document.Identifier) ([]any, error) {
	var ids []any
	for _, ident := range idents {
		id, err := document.ParseID(target, ident.ID)
		if err != nil {
			return nil, resterr.NotFound(fmt.Sprintf("no %s with id %q", target.Type, ident.ID))
		}
		if _, err := e.da.Get(ctx, target.Type, id); err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return nil, resterr.NotFound(fmt.Sprintf("no %s with id %q", target.Type, ident.ID))
			}
			return nil, resterr.Store(err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func linkageObject(rel *descriptor.Relationship, ids []any) document.Relationship {
	if rel.Kind == descriptor.ToMany {
		linkage := make([]document.Identifier, len(ids))
		for i, id := range ids {
			linkage[i] = document.Identifier{Type: rel.Target, ID: document.IDString(id)}
		}
		return document.Relationship{Data: linkage}
	}
	if len(ids) > 0 {
		return document.Relationship{Data: document.Identifier{Type: rel.Target, ID: document.IDString(ids[0])}}
	}
	return document.Relationship{}
}

func (e *Engine) begin(ctx context.Context) (store.Tx, error) {
	tx, err := e.da.Begin(ctx)
	if err != nil {
		return nil, resterr.Store(err)
	}
	return tx, nil
}

// finishTx commits the unit of work when the operation succeeded and
// rolls it back otherwise, publishing the transaction outcome.
func (e *Engine) finishTx(ctx context.Context, tx store.Tx, typ string, start time.Time, errp *error) {
	committed := false
	var txErr error
	if *errp == nil {
		if txErr = tx.Commit(); txErr != nil {
			*errp = resterr.Store(txErr)
		} else {
			committed = true
		}
	} else {
		txErr = tx.Rollback()
	}
	eventbus.Publish(ctx, events.StoreTx{
		Type:      typ,
		Committed: committed,
		Err:       txErr,
		Duration:  time.Since(start),
	})
}
