// Package engine runs the request pipeline: parse filter, compile a
// plan, execute it against the data store, resolve relationships and
// includes, and serialize the outcome into a wire document. Each
// request flows through these stages strictly in order; write
// operations run inside a single store transaction so all mutations of
// one request commit or roll back together.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/document"
	"github.com/hanpama/restframe/internal/eventbus"
	"github.com/hanpama/restframe/internal/events"
	"github.com/hanpama/restframe/internal/filter"
	"github.com/hanpama/restframe/internal/operator"
	"github.com/hanpama/restframe/internal/paginate"
	"github.com/hanpama/restframe/internal/params"
	"github.com/hanpama/restframe/internal/query"
	"github.com/hanpama/restframe/internal/resolver"
	"github.com/hanpama/restframe/internal/resterr"
	"github.com/hanpama/restframe/internal/store"
)

// Request is one transport-agnostic resource operation request.
type Request struct {
	Type     string
	ID       string // wire id, empty for collection operations
	Relation string // set for related/relationship operations
	Params   params.Params
	Body     []byte // request document for write operations
}

// Result is the outcome of a successful operation.
type Result struct {
	Doc      *document.Document // nil for bodyless responses
	Status   int
	Location string // self link of a created resource
}

type Engine struct {
	reg      *descriptor.Registry
	ops      *operator.Registry
	compiler *query.Compiler
	da       store.DataAccess
	resolve  *resolver.Resolver
	opt      Options
	hooks    hookTable
}

type Options struct {
	// BaseURL prefixes every generated link.
	BaseURL string
	// Page is the server-side pagination policy.
	Page paginate.Config
	// Serializers and Deserializers override the defaults per type.
	Serializers   map[string]document.Serializer
	Deserializers map[string]document.Deserializer
	// Visibility applies server-side only/exclude rules per type.
	Visibility map[string]document.Visibility
}

type Option func(*Options)

func WithBaseURL(u string) Option { return func(o *Options) { o.BaseURL = u } }
func WithPage(cfg paginate.Config) Option {
	return func(o *Options) { o.Page = cfg }
}
func WithSerializer(typ string, s document.Serializer) Option {
	return func(o *Options) { o.Serializers[typ] = s }
}
func WithDeserializer(typ string, d document.Deserializer) Option {
	return func(o *Options) { o.Deserializers[typ] = d }
}
func WithVisibility(typ string, vis document.Visibility) Option {
	return func(o *Options) { o.Visibility[typ] = vis }
}

// New wires an engine over a descriptor registry, operator registry and
// data-access implementation.
func New(reg *descriptor.Registry, ops *operator.Registry, da store.DataAccess, opts ...Option) *Engine {
	opt := Options{
		BaseURL:       "/api",
		Page:          paginate.Config{DefaultSize: 10, MaxSize: 100},
		Serializers:   make(map[string]document.Serializer),
		Deserializers: make(map[string]document.Deserializer),
		Visibility:    make(map[string]document.Visibility),
	}
	for _, f := range opts {
		f(&opt)
	}
	return &Engine{
		reg:      reg,
		ops:      ops,
		compiler: query.NewCompiler(reg, ops),
		da:       da,
		resolve:  resolver.New(reg, da, opt.BaseURL),
		opt:      opt,
		hooks:    make(hookTable),
	}
}

// Compiler exposes the engine's query compiler for base-scan
// registration at startup.
func (e *Engine) Compiler() *query.Compiler { return e.compiler }

func (e *Engine) descriptor(typ string) (*descriptor.Resource, error) {
	res, ok := e.reg.Lookup(typ)
	if !ok {
		return nil, resterr.NotFound(fmt.Sprintf("no resource type %q", typ))
	}
	return res, nil
}

func (e *Engine) serializer(typ string, res *descriptor.Resource) document.Serializer {
	if s, ok := e.opt.Serializers[typ]; ok {
		return s
	}
	return document.NewSerializer(res)
}

func (e *Engine) deserializer(typ string, res *descriptor.Resource) document.Deserializer {
	if d, ok := e.opt.Deserializers[typ]; ok {
		return d
	}
	return document.NewDeserializer(e.reg, res)
}

// visibility merges the server-side rule for a type with the request's
// sparse fieldset.
func (e *Engine) visibility(typ string, fields map[string][]string) document.Visibility {
	vis := e.opt.Visibility[typ]
	if fields != nil {
		if sparse, ok := fields[typ]; ok {
			vis.Fields = sparse
		}
	}
	return vis
}

// serializeEntity builds the resource object for one entity, including
// its relationship link objects.
func (e *Engine) serializeEntity(ctx context.Context, ent store.Entity, fields map[string][]string) (document.Resource, error) {
	res, err := e.descriptor(ent.Type)
	if err != nil {
		return document.Resource{}, err
	}
	rels, err := e.resolve.Relationships(ctx, ent)
	if err != nil {
		return document.Resource{}, err
	}
	obj, err := e.serializer(ent.Type, res).Serialize(ent, rels, e.visibility(ent.Type, fields))
	if err != nil {
		return document.Resource{}, err
	}
	obj.Links = &document.Links{Self: e.selfLink(ent.Type, obj.ID)}
	return obj, nil
}

func (e *Engine) selfLink(typ, id string) string {
	return fmt.Sprintf("%s/%s/%s", e.opt.BaseURL, typ, id)
}

// compile parses the request filter and compiles it together with the
// request directives.
func (e *Engine) compile(res *descriptor.Resource, p params.Params) (*query.Plan, error) {
	var f filter.Node
	if p.Filter != nil {
		parsed, err := filter.Parse(e.reg, res, p.Filter)
		if err != nil {
			return nil, err
		}
		f = parsed
	}
	return e.compiler.Compile(res, f, query.Directives{
		Sort:   p.Sort,
		Group:  p.Group,
		Single: p.Single,
	})
}

func (e *Engine) emitFinish(ctx context.Context, op, typ string, start time.Time, err error) {
	eventbus.Publish(ctx, events.QueryFinish{
		Operation: op,
		Type:      typ,
		Err:       err,
		Duration:  time.Since(start),
	})
}
