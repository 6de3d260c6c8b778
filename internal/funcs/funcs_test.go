package funcs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/filter"
	"github.com/hanpama/restframe/internal/operator"
	"github.com/hanpama/restframe/internal/query"
	"github.com/hanpama/restframe/internal/resterr"
	"github.com/hanpama/restframe/internal/store/memstore"
)

func fixture(t *testing.T) (*memstore.Store, *query.Plan, *descriptor.Registry) {
	t.Helper()
	person := descriptor.New("person", "id",
		[]descriptor.Attribute{
			{Name: "name", Type: descriptor.String},
			{Name: "age", Type: descriptor.Integer},
		}, nil)
	reg := descriptor.NewRegistry()
	reg.Register(person)

	s := memstore.New(reg)
	ages := []any{int64(10), int64(20), int64(30), int64(40), nil}
	for i, age := range ages {
		s.Add("person", int64(i+1), map[string]any{"name": "p", "age": age}, nil)
	}
	return s, &query.Plan{Resource: person, Limit: -1}, reg
}

func TestEvaluate(t *testing.T) {
	s, p, _ := fixture(t)
	got, err := Evaluate(context.Background(), s, p, []Request{
		{Name: "count", Field: "id"},
		{Name: "sum", Field: "age"},
		{Name: "avg", Field: "age"},
		{Name: "min", Field: "age"},
		{Name: "max", Field: "age"},
	})
	require.NoError(t, err)

	// count sees all rows; the numeric aggregates skip the null age.
	require.Equal(t, []any{int64(5), float64(100), float64(25), int64(10), int64(40)}, got)
}

func TestEvaluateIgnoresWindow(t *testing.T) {
	s, p, _ := fixture(t)
	p.Limit = 2
	p.Offset = 1
	got, err := Evaluate(context.Background(), s, p, []Request{{Name: "count", Field: "id"}})
	require.NoError(t, err)
	require.Equal(t, []any{int64(5)}, got)
}

func TestEvaluateFiltered(t *testing.T) {
	s, p, _ := fixture(t)
	c := query.NewCompiler(descriptorRegistry(p), operator.NewRegistry())
	node := &filter.Comparison{Field: "age", Op: "ge", Val: float64(20), HasVal: true}
	filtered, err := c.Compile(p.Resource, node, query.Directives{})
	require.NoError(t, err)

	got, err := Evaluate(context.Background(), s, filtered, []Request{
		{Name: "count", Field: "id"},
		{Name: "sum", Field: "age"},
	})
	require.NoError(t, err)
	require.Equal(t, []any{int64(3), float64(90)}, got)
}

func TestEvaluateDuplicatesKeepPositions(t *testing.T) {
	s, p, _ := fixture(t)
	got, err := Evaluate(context.Background(), s, p, []Request{
		{Name: "min", Field: "age"},
		{Name: "min", Field: "age"},
		{Name: "max", Field: "age"},
	})
	require.NoError(t, err)
	require.Equal(t, []any{int64(10), int64(10), int64(40)}, got)
}

func TestEvaluateEmptySet(t *testing.T) {
	person := descriptor.New("person", "id",
		[]descriptor.Attribute{{Name: "age", Type: descriptor.Integer}}, nil)
	reg := descriptor.NewRegistry()
	reg.Register(person)
	s := memstore.New(reg)

	got, err := Evaluate(context.Background(), s, &query.Plan{Resource: person, Limit: -1}, []Request{
		{Name: "count", Field: "age"},
		{Name: "sum", Field: "age"},
		{Name: "avg", Field: "age"},
		{Name: "min", Field: "age"},
	})
	require.NoError(t, err)
	require.Equal(t, []any{int64(0), float64(0), nil, nil}, got)
}

func TestEvaluateDurations(t *testing.T) {
	person := descriptor.New("person", "id",
		[]descriptor.Attribute{{Name: "shift", Type: descriptor.Duration}}, nil)
	reg := descriptor.NewRegistry()
	reg.Register(person)
	s := memstore.New(reg)
	s.Add("person", int64(1), map[string]any{"shift": 90 * time.Minute}, nil)
	s.Add("person", int64(2), map[string]any{"shift": 30 * time.Minute}, nil)

	got, err := Evaluate(context.Background(), s, &query.Plan{Resource: person, Limit: -1}, []Request{
		{Name: "sum", Field: "shift"},
		{Name: "avg", Field: "shift"},
		{Name: "min", Field: "shift"},
	})
	require.NoError(t, err)

	// Durations aggregate as seconds, their wire encoding; min keeps the
	// raw value.
	require.Equal(t, []any{float64(7200), float64(3600), 30 * time.Minute}, got)
}

func TestEvaluateNonNumericField(t *testing.T) {
	s, p, _ := fixture(t)

	_, err := Evaluate(context.Background(), s, p, []Request{{Name: "sum", Field: "name"}})
	var re *resterr.Error
	require.ErrorAs(t, err, &re)
	require.Equal(t, resterr.CodeTypeMismatch, re.Code)
}

func TestEvaluateErrors(t *testing.T) {
	s, p, _ := fixture(t)

	_, err := Evaluate(context.Background(), s, p, []Request{{Name: "median", Field: "age"}})
	var re *resterr.Error
	require.ErrorAs(t, err, &re)
	require.Equal(t, resterr.CodeUnknownFunction, re.Code)

	_, err = Evaluate(context.Background(), s, p, []Request{{Name: "sum", Field: "salary"}})
	require.ErrorAs(t, err, &re)
	require.Equal(t, resterr.CodeUnknownField, re.Code)
}

// descriptorRegistry rebuilds a registry holding just the plan's type,
// which is all the compiler needs here.
func descriptorRegistry(p *query.Plan) *descriptor.Registry {
	reg := descriptor.NewRegistry()
	reg.Register(p.Resource)
	return reg
}
