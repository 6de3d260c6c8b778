// Package funcs evaluates aggregate functions over a filtered scan.
// Results come back as a flat list in request order, so duplicate
// function/field pairs keep their positions.
package funcs

import (
	"context"
	"fmt"
	"time"

	"github.com/hanpama/restframe/internal/operator"
	"github.com/hanpama/restframe/internal/query"
	"github.com/hanpama/restframe/internal/resterr"
	"github.com/hanpama/restframe/internal/store"
)

// Request names one aggregate evaluation.
type Request struct {
	Name  string `json:"name"`
	Field string `json:"field"`
}

type aggregate func(values []any, rows int) (any, error)

var aggregates = map[string]aggregate{
	"count": func(_ []any, rows int) (any, error) { return int64(rows), nil },
	"sum":   sum,
	"avg": func(values []any, rows int) (any, error) {
		if len(values) == 0 {
			return nil, nil
		}
		total, err := sum(values, rows)
		if err != nil {
			return nil, err
		}
		return total.(float64) / float64(len(values)), nil
	},
	"min": extremum(func(c int) bool { return c < 0 }),
	"max": extremum(func(c int) bool { return c > 0 }),
}

// Evaluate runs each requested aggregate over the rows matched by the
// plan. The plan's window is ignored: aggregates always see the whole
// filtered set.
func Evaluate(ctx context.Context, da store.DataAccess, p *query.Plan, reqs []Request) ([]any, error) {
	unwindowed := *p
	unwindowed.Limit = -1
	unwindowed.Offset = 0
	entities, err := da.Select(ctx, &unwindowed)
	if err != nil {
		return nil, resterr.Store(err)
	}
	results := make([]any, 0, len(reqs))
	for _, req := range reqs {
		fn, ok := aggregates[req.Name]
		if !ok {
			return nil, resterr.UnknownFunction(req.Name)
		}
		if _, ok := p.Resource.Attr(req.Field); !ok {
			return nil, resterr.UnknownField(req.Field)
		}
		values := make([]any, 0, len(entities))
		for _, e := range entities {
			v := e.Attrs[req.Field]
			if req.Field == p.Resource.PrimaryKey {
				v = e.ID
			}
			if v != nil {
				values = append(values, v)
			}
		}
		out, err := fn(values, len(entities))
		if err != nil {
			return nil, err
		}
		results = append(results, out)
	}
	return results, nil
}

func sum(values []any, _ int) (any, error) {
	var total float64
	for _, v := range values {
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		total += f
	}
	return total, nil
}

func extremum(better func(c int) bool) aggregate {
	return func(values []any, _ int) (any, error) {
		if len(values) == 0 {
			return nil, nil
		}
		best := values[0]
		for _, v := range values[1:] {
			c, err := operator.Compare(v, best)
			if err != nil {
				return nil, err
			}
			if better(c) {
				best = v
			}
		}
		return best, nil
	}
}

// toFloat converts numeric aggregate inputs; durations count as
// seconds, matching their wire encoding.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	case time.Duration:
		return n.Seconds(), nil
	}
	return 0, resterr.TypeMismatch("", fmt.Sprintf("cannot aggregate value of type %T", v))
}
