// Package params parses the request query parameters into the shapes
// the engine consumes: filter JSON, sort and group directives, page
// window, include paths and sparse fieldsets.
package params

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/hanpama/restframe/internal/funcs"
	"github.com/hanpama/restframe/internal/paginate"
	"github.com/hanpama/restframe/internal/query"
	"github.com/hanpama/restframe/internal/resterr"
)

// Params is the parsed query-parameter set of one request.
type Params struct {
	// Filter is the raw JSON of filter[objects]; nil when absent.
	Filter []byte
	// Single requests exactly-one-result semantics (filter[single]).
	Single bool

	Sort  []query.Sort
	Group []string
	Page  paginate.Request

	// Include holds dotted include paths, split into segments.
	Include [][]string
	// Fields maps resource type to its requested sparse fieldset.
	Fields map[string][]string

	// Functions holds aggregate requests from the functions parameter.
	Functions []funcs.Request
}

// Parse reads the supported parameters from v. Unknown parameters are
// ignored, which leaves room for routing-layer concerns.
func Parse(v url.Values) (Params, error) {
	var p Params

	if raw := v.Get("filter[objects]"); raw != "" {
		if !json.Valid([]byte(raw)) {
			return p, resterr.MalformedFilter("unable to decode filter[objects] JSON")
		}
		p.Filter = []byte(raw)
	}
	switch v.Get("filter[single]") {
	case "", "0", "false":
	case "1", "true":
		p.Single = true
	default:
		return p, resterr.MalformedQuery("filter[single] must be 0 or 1")
	}

	for _, token := range splitList(v.Get("sort")) {
		desc := false
		if strings.HasPrefix(token, "-") {
			desc = true
			token = token[1:]
		}
		if token == "" {
			return p, resterr.MalformedQuery("empty sort field")
		}
		p.Sort = append(p.Sort, query.Sort{Field: token, Desc: desc})
	}

	p.Group = splitList(v.Get("group_by"))

	var err error
	if p.Page.Number, err = intParam(v, "page[number]"); err != nil {
		return p, err
	}
	if p.Page.Size, err = intParam(v, "page[size]"); err != nil {
		return p, err
	}

	for _, path := range splitList(v.Get("include")) {
		p.Include = append(p.Include, strings.Split(path, "."))
	}

	for key, values := range v {
		if !strings.HasPrefix(key, "fields[") || !strings.HasSuffix(key, "]") {
			continue
		}
		typ := key[len("fields[") : len(key)-1]
		if p.Fields == nil {
			p.Fields = make(map[string][]string)
		}
		fields := []string{}
		for _, val := range values {
			fields = append(fields, splitList(val)...)
		}
		p.Fields[typ] = fields
	}

	if raw := v.Get("functions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Functions); err != nil {
			return p, resterr.MalformedQuery("unable to decode functions JSON")
		}
	}
	return p, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func intParam(v url.Values, name string) (int, error) {
	raw := v.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, resterr.MalformedQuery(name + " must be a positive integer")
	}
	return n, nil
}
