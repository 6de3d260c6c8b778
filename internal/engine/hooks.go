package engine

import (
	"context"
	"net/http"

	"github.com/hanpama/restframe/internal/document"
)

// Kind names an operation class for hook registration.
type Kind string

const (
	KindFetchCollection Kind = "fetch_collection"
	KindFetchOne        Kind = "fetch_one"
	KindFetchRelated    Kind = "fetch_related"
	KindCreate          Kind = "create"
	KindUpdate          Kind = "update"
	KindDelete          Kind = "delete"
	KindRelationship    Kind = "relationship"
	KindFunctions       Kind = "functions"
)

// Abort is the explicit short-circuit result a hook may return to stop
// the pipeline with caller-supplied error objects. It doubles as the
// error value the engine propagates, so aborting never relies on
// panics.
type Abort struct {
	Status int
	Errors []document.ErrorObject
}

func (a *Abort) Error() string {
	if len(a.Errors) > 0 {
		return a.Errors[0].Detail
	}
	return "aborted"
}

// AbortWith builds an abort result from a single error object.
func AbortWith(status int, detail string) *Abort {
	if status == 0 {
		status = http.StatusBadRequest
	}
	return &Abort{Status: status, Errors: []document.ErrorObject{{Status: status, Detail: detail}}}
}

// PreHook runs before the pipeline. It may mutate the request in place
// (overriding parsed parameters or the body) or return an Abort.
type PreHook func(ctx context.Context, req *Request) *Abort

// PostHook runs after the response document is assembled. For write
// operations it runs before the unit of work commits, so an abort
// still rolls back the uncommitted state.
type PostHook func(ctx context.Context, req *Request, doc *document.Document) *Abort

type hookList struct {
	pre  []PreHook
	post []PostHook
}

type hookTable map[Kind]*hookList

// Before appends a preprocessor for an operation kind. Hooks run in
// registration order; the first abort wins.
func (e *Engine) Before(k Kind, h PreHook) {
	e.hooks.list(k).pre = append(e.hooks.list(k).pre, h)
}

// After appends a postprocessor for an operation kind.
func (e *Engine) After(k Kind, h PostHook) {
	e.hooks.list(k).post = append(e.hooks.list(k).post, h)
}

func (t hookTable) list(k Kind) *hookList {
	l, ok := t[k]
	if !ok {
		l = &hookList{}
		t[k] = l
	}
	return l
}

func (e *Engine) runPre(ctx context.Context, k Kind, req *Request) error {
	if l, ok := e.hooks[k]; ok {
		for _, h := range l.pre {
			if abort := h(ctx, req); abort != nil {
				return abort
			}
		}
	}
	return nil
}

func (e *Engine) runPost(ctx context.Context, k Kind, req *Request, doc *document.Document) error {
	if l, ok := e.hooks[k]; ok {
		for _, h := range l.post {
			if abort := h(ctx, req, doc); abort != nil {
				return abort
			}
		}
	}
	return nil
}
