// Package resolver turns stored relationship linkage into wire
// relationship objects and materializes include graphs into compound
// documents. Include expansion follows the requested dotted paths only
// and guards against re-expanding a relationship that is already being
// expanded on the current path, so self-referential schemas terminate.
package resolver

import (
	"context"
	"fmt"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/document"
	"github.com/hanpama/restframe/internal/resterr"
	"github.com/hanpama/restframe/internal/store"
)

type Resolver struct {
	reg     *descriptor.Registry
	da      store.DataAccess
	baseURL string
}

func New(reg *descriptor.Registry, da store.DataAccess, baseURL string) *Resolver {
	return &Resolver{reg: reg, da: da, baseURL: baseURL}
}

// Relationships builds the relationship objects for one entity:
// identifier linkage plus self/related links for every declared
// relationship.
func (r *Resolver) Relationships(ctx context.Context, e store.Entity) (map[string]document.Relationship, error) {
	res, ok := r.reg.Lookup(e.Type)
	if !ok {
		return nil, fmt.Errorf("resolver: unknown type %q", e.Type)
	}
	if len(res.Relationships) == 0 {
		return nil, nil
	}
	out := make(map[string]document.Relationship, len(res.Relationships))
	id := document.IDString(e.ID)
	for i := range res.Relationships {
		rel := &res.Relationships[i]
		ids, err := r.da.Related(ctx, e.Type, e.ID, rel.Name)
		if err != nil {
			return nil, resterr.Store(err)
		}
		obj := document.Relationship{
			Links: &document.Links{
				Self:    fmt.Sprintf("%s/%s/%s/relationships/%s", r.baseURL, e.Type, id, rel.Name),
				Related: fmt.Sprintf("%s/%s/%s/%s", r.baseURL, e.Type, id, rel.Name),
			},
		}
		if rel.Kind == descriptor.ToMany {
			linkage := make([]document.Identifier, len(ids))
			for j, rid := range ids {
				linkage[j] = document.Identifier{Type: rel.Target, ID: document.IDString(rid)}
			}
			obj.Data = linkage
		} else if len(ids) > 0 {
			obj.Data = document.Identifier{Type: rel.Target, ID: document.IDString(ids[0])}
		}
		out[rel.Name] = obj
	}
	return out, nil
}

// ValidateIncludePaths checks every segment of every include path
// against the descriptors reachable from the root type.
func (r *Resolver) ValidateIncludePaths(root *descriptor.Resource, paths [][]string) error {
	for _, path := range paths {
		res := root
		for _, segment := range path {
			rel, ok := res.Rel(segment)
			if !ok {
				return resterr.UnknownRelation(segment)
			}
			next, ok := r.reg.Lookup(rel.Target)
			if !ok {
				return resterr.UnknownRelation(rel.Target)
			}
			res = next
		}
	}
	return nil
}

// Include collects the full related entities reachable from roots
// along the requested dotted paths. Each distinct (type, id) pair
// appears exactly once, in first-reached order, even when reached via
// several roots or several paths. Root entities themselves are never
// re-included.
func (r *Resolver) Include(ctx context.Context, roots []store.Entity, paths [][]string) ([]store.Entity, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	seen := make(map[document.Identifier]struct{}, len(roots))
	for _, e := range roots {
		seen[document.Identifier{Type: e.Type, ID: document.IDString(e.ID)}] = struct{}{}
	}
	var included []store.Entity
	for _, path := range paths {
		frontier := roots
		expanded := make(map[string]struct{})
		for _, segment := range path {
			next, stop, err := r.expand(ctx, frontier, segment, expanded)
			if err != nil {
				return nil, err
			}
			for _, e := range next {
				key := document.Identifier{Type: e.Type, ID: document.IDString(e.ID)}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				included = append(included, e)
			}
			if stop {
				break
			}
			frontier = next
		}
	}
	return included, nil
}

// expand resolves one path segment across the frontier. It reports
// stop=true when the segment names a relationship already expanded on
// this path; the relationship then stays linkage-only.
func (r *Resolver) expand(ctx context.Context, frontier []store.Entity, segment string, expanded map[string]struct{}) ([]store.Entity, bool, error) {
	var next []store.Entity
	dedup := make(map[document.Identifier]struct{})
	for _, e := range frontier {
		res, ok := r.reg.Lookup(e.Type)
		if !ok {
			continue
		}
		rel, ok := res.Rel(segment)
		if !ok {
			return nil, false, resterr.UnknownRelation(segment)
		}
		guard := e.Type + "." + segment
		if _, cyc := expanded[guard]; cyc {
			return nil, true, nil
		}
		ids, err := r.da.Related(ctx, e.Type, e.ID, segment)
		if err != nil {
			return nil, false, resterr.Store(err)
		}
		var fetch []any
		for _, rid := range ids {
			key := document.Identifier{Type: rel.Target, ID: document.IDString(rid)}
			if _, dup := dedup[key]; dup {
				continue
			}
			dedup[key] = struct{}{}
			fetch = append(fetch, rid)
		}
		entities, err := r.da.GetMany(ctx, rel.Target, fetch)
		if err != nil {
			return nil, false, resterr.Store(err)
		}
		next = append(next, entities...)
	}
	for _, e := range frontier {
		expanded[e.Type+"."+segment] = struct{}{}
	}
	return next, false, nil
}
