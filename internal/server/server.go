// Package server binds the engine to HTTP. It routes resource URLs,
// parses query parameters, runs the matching engine operation and
// renders documents or error documents.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hanpama/restframe/internal/document"
	"github.com/hanpama/restframe/internal/engine"
	"github.com/hanpama/restframe/internal/eventbus"
	"github.com/hanpama/restframe/internal/events"
	"github.com/hanpama/restframe/internal/params"
	"github.com/hanpama/restframe/internal/reqid"
	"github.com/hanpama/restframe/internal/resterr"
)

// Handler is an http.Handler serving the resource API.
type Handler struct {
	eng *engine.Engine
	opt Options
}

type Options struct {
	// BasePath is the URL prefix of every route. It must match the
	// engine's base URL so generated links resolve.
	BasePath string

	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions
}

type Option func(*Options)

func WithBasePath(p string) Option       { return func(o *Options) { o.BasePath = strings.TrimSuffix(p, "/") } }
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates the HTTP handler over an engine.
func New(eng *engine.Engine, opts ...Option) *Handler {
	op := Options{BasePath: "/api", Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{eng: eng, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	res, err := h.dispatch(ctx, r)
	if err != nil {
		status = h.writeError(w, err)
		return
	}
	status = res.Status
	if res.Location != "" {
		w.Header().Set("Location", res.Location)
	}
	if res.Doc == nil {
		w.WriteHeader(status)
		return
	}
	h.writeDoc(w, status, res.Doc)
}

// dispatch routes one request to the engine operation its path and
// method select.
func (h *Handler) dispatch(ctx context.Context, r *http.Request) (*engine.Result, error) {
	segs, ok := h.route(r.URL.Path)
	if !ok || len(segs) == 0 || len(segs) > 4 {
		return nil, resterr.NotFound("no such endpoint")
	}

	p, err := params.Parse(r.URL.Query())
	if err != nil {
		return nil, err
	}
	req := &engine.Request{Type: segs[0], Params: p}

	if r.Method == http.MethodPost || r.Method == http.MethodPatch ||
		r.Method == http.MethodPut || r.Method == http.MethodDelete {
		if req.Body, err = h.readBody(r); err != nil {
			return nil, err
		}
	}

	// Function evaluation lives under its own prefix so a resource type
	// named "eval" cannot exist alongside it.
	if segs[0] == "eval" && len(segs) == 2 {
		if r.Method != http.MethodGet {
			return nil, errMethod(r.Method)
		}
		req.Type = segs[1]
		return h.eng.EvaluateFunctions(ctx, req)
	}

	switch len(segs) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			return h.eng.FetchCollection(ctx, req)
		case http.MethodPost:
			return h.eng.Create(ctx, req)
		}
	case 2:
		req.ID = segs[1]
		switch r.Method {
		case http.MethodGet:
			return h.eng.FetchOne(ctx, req)
		case http.MethodPatch, http.MethodPut:
			return h.eng.Update(ctx, req)
		case http.MethodDelete:
			return h.eng.Delete(ctx, req)
		}
	case 3:
		req.ID, req.Relation = segs[1], segs[2]
		if r.Method == http.MethodGet {
			return h.eng.FetchRelated(ctx, req)
		}
	case 4:
		if segs[2] != "relationships" {
			return nil, resterr.NotFound("no such endpoint")
		}
		req.ID, req.Relation = segs[1], segs[3]
		switch r.Method {
		case http.MethodGet:
			return h.eng.FetchRelationship(ctx, req)
		case http.MethodPatch, http.MethodPut:
			return h.eng.UpdateRelationship(ctx, req)
		case http.MethodPost:
			return h.eng.AddToRelationship(ctx, req)
		case http.MethodDelete:
			return h.eng.RemoveFromRelationship(ctx, req)
		}
	}
	return nil, errMethod(r.Method)
}

// route strips the base path and splits the remainder into segments.
func (h *Handler) route(path string) ([]string, bool) {
	if !strings.HasPrefix(path, h.opt.BasePath+"/") {
		return nil, false
	}
	rest := strings.Trim(path[len(h.opt.BasePath):], "/")
	if rest == "" {
		return nil, false
	}
	return strings.Split(rest, "/"), true
}

func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	reader := io.Reader(r.Body)
	if h.opt.MaxBodyBytes > 0 {
		reader = io.LimitReader(r.Body, h.opt.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, resterr.MalformedQuery("failed to read body")
	}
	defer r.Body.Close()
	if h.opt.MaxBodyBytes > 0 && int64(len(body)) > h.opt.MaxBodyBytes {
		return nil, &resterr.Error{
			Status: http.StatusRequestEntityTooLarge,
			Detail: "body too large",
		}
	}
	return body, nil
}

func errMethod(method string) error {
	return &resterr.Error{
		Status: http.StatusMethodNotAllowed,
		Detail: "method " + method + " not allowed",
	}
}

// writeError renders any pipeline failure as an error document and
// returns the status it chose.
func (h *Handler) writeError(w http.ResponseWriter, err error) int {
	var abort *engine.Abort
	if errors.As(err, &abort) {
		h.writeJSON(w, abort.Status, &document.ErrorDocument{Errors: abort.Errors})
		return abort.Status
	}
	var invalid resterr.ValidationErrors
	if errors.As(err, &invalid) {
		doc := &document.ErrorDocument{Errors: make([]document.ErrorObject, len(invalid))}
		for i, e := range invalid {
			doc.Errors[i] = errorObject(e)
		}
		status := invalid.Status()
		h.writeJSON(w, status, doc)
		return status
	}
	re := resterr.From(err)
	h.writeJSON(w, re.Status, &document.ErrorDocument{Errors: []document.ErrorObject{errorObject(re)}})
	return re.Status
}

func errorObject(e *resterr.Error) document.ErrorObject {
	return document.ErrorObject{
		Status: e.Status,
		Code:   string(e.Code),
		Detail: e.Detail,
		Source: e.Source,
	}
}

func (h *Handler) writeDoc(w http.ResponseWriter, status int, doc *document.Document) {
	body, err := doc.Encode(h.opt.Pretty)
	if err != nil {
		h.writeError(w, resterr.Store(err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v *document.ErrorDocument) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	wildcard := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			allowed, wildcard = true, true
			break
		}
		if o == origin {
			allowed = true
		}
	}
	if !allowed {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
	}
}
