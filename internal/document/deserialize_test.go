package document

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/resterr"
)

func deserializerFixture() (*descriptor.Registry, *DefaultDeserializer) {
	person := descriptor.New("person", "id",
		[]descriptor.Attribute{
			{Name: "name", Type: descriptor.String},
			{Name: "age", Type: descriptor.Integer},
			{Name: "joined", Type: descriptor.DateTime},
		},
		[]descriptor.Relationship{
			{Name: "articles", Kind: descriptor.ToMany, Target: "article"},
			{Name: "employer", Kind: descriptor.ToOne, Target: "company"},
		})
	article := descriptor.New("article", "id",
		[]descriptor.Attribute{{Name: "title", Type: descriptor.String}}, nil)
	company := descriptor.New("company", "id",
		[]descriptor.Attribute{{Name: "name", Type: descriptor.String}}, nil)
	reg := descriptor.NewRegistry()
	reg.Register(person)
	reg.Register(article)
	reg.Register(company)
	return reg, NewDeserializer(reg, person)
}

func TestDeserializeAttributes(t *testing.T) {
	_, d := deserializerFixture()
	p, err := d.Deserialize([]byte(`{"data": {
		"type": "person",
		"id": "7",
		"attributes": {"name": "alice", "age": 30, "joined": "2024-05-01T10:30:00Z"}
	}}`))
	require.NoError(t, err)
	require.Equal(t, int64(7), p.ID)
	require.Equal(t, map[string]any{
		"name":   "alice",
		"age":    int64(30),
		"joined": time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
	}, p.Attrs)
}

func TestDeserializeTypeConflict(t *testing.T) {
	_, d := deserializerFixture()
	_, err := d.Deserialize([]byte(`{"data": {"type": "article", "attributes": {}}}`))
	var re *resterr.Error
	require.True(t, errors.As(err, &re))
	require.Equal(t, resterr.CodeTypeConflict, re.Code)
	require.Equal(t, 409, re.Status)
}

func TestDeserializeCollectsFieldErrors(t *testing.T) {
	_, d := deserializerFixture()
	_, err := d.Deserialize([]byte(`{"data": {
		"type": "person",
		"attributes": {"name": 5, "salary": 100, "age": "old"},
		"relationships": {"pets": {"data": []}}
	}}`))
	var v resterr.ValidationErrors
	require.True(t, errors.As(err, &v), "expected ValidationErrors, got %T", err)
	require.Len(t, v, 4)
	require.Equal(t, 400, v.Status())

	codes := make(map[resterr.Code]int)
	for _, e := range v {
		codes[e.Code]++
	}
	require.Equal(t, 2, codes[resterr.CodeTypeMismatch])
	require.Equal(t, 1, codes[resterr.CodeUnknownField])
	require.Equal(t, 1, codes[resterr.CodeUnknownRelation])
}

func TestDeserializeAttachVersusNestedCreate(t *testing.T) {
	_, d := deserializerFixture()
	p, err := d.Deserialize([]byte(`{"data": {
		"type": "person",
		"attributes": {"name": "alice"},
		"relationships": {
			"articles": {"data": [
				{"type": "article", "id": "1"},
				{"type": "article", "attributes": {"title": "fresh"}}
			]},
			"employer": {"data": {"type": "company", "id": "9"}}
		}
	}}`))
	require.NoError(t, err)

	articles := p.Rels["articles"]
	require.True(t, articles.ToMany)
	require.Equal(t, []Identifier{{Type: "article", ID: "1"}}, articles.Attach)
	require.Len(t, articles.Create, 1)
	require.Equal(t, map[string]any{"title": "fresh"}, articles.Create[0].Attrs)

	employer := p.Rels["employer"]
	require.False(t, employer.ToMany)
	require.Equal(t, []Identifier{{Type: "company", ID: "9"}}, employer.Attach)
}

func TestDeserializeToOneNull(t *testing.T) {
	_, d := deserializerFixture()
	p, err := d.Deserialize([]byte(`{"data": {
		"type": "person",
		"relationships": {"employer": {"data": null}}
	}}`))
	require.NoError(t, err)
	require.True(t, p.Rels["employer"].Null)
	require.Empty(t, p.Rels["employer"].Attach)
}

func TestDeserializeMalformed(t *testing.T) {
	_, d := deserializerFixture()
	cases := []struct {
		name string
		raw  string
	}{
		{"invalid JSON", `{`},
		{"no data member", `{"meta": {}}`},
		{"to-many linkage not a list", `{"data": {"type": "person", "relationships": {"articles": {"data": {"type": "article", "id": "1"}}}}}`},
		{"relationship without data", `{"data": {"type": "person", "relationships": {"employer": {}}}}`},
		{"identifier without id", `{"data": {"type": "person", "relationships": {"employer": {"data": {"type": "company"}}}}}`},
		{"non-integer id", `{"data": {"type": "person", "id": "abc"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Deserialize([]byte(tc.raw))
			require.Error(t, err)
		})
	}
}

func TestDeserializeLinkageTypeConflict(t *testing.T) {
	_, d := deserializerFixture()
	_, err := d.Deserialize([]byte(`{"data": {
		"type": "person",
		"relationships": {"employer": {"data": {"type": "article", "id": "1"}}}
	}}`))
	var re *resterr.Error
	require.True(t, errors.As(err, &re))
	require.Equal(t, resterr.CodeTypeConflict, re.Code)
}

func TestParseLinkage(t *testing.T) {
	toOne := &descriptor.Relationship{Name: "employer", Kind: descriptor.ToOne, Target: "company"}
	toMany := &descriptor.Relationship{Name: "articles", Kind: descriptor.ToMany, Target: "article"}

	ids, null, err := ParseLinkage(toOne, []byte(`{"data": {"type": "company", "id": "3"}}`))
	require.NoError(t, err)
	require.False(t, null)
	require.Equal(t, []Identifier{{Type: "company", ID: "3"}}, ids)

	ids, null, err = ParseLinkage(toOne, []byte(`{"data": null}`))
	require.NoError(t, err)
	require.True(t, null)
	require.Empty(t, ids)

	ids, null, err = ParseLinkage(toMany, []byte(`{"data": [{"type": "article", "id": "1"}, {"type": "article", "id": "2"}]}`))
	require.NoError(t, err)
	require.False(t, null)
	require.Len(t, ids, 2)

	_, _, err = ParseLinkage(toMany, []byte(`{"data": null}`))
	require.Error(t, err)

	_, _, err = ParseLinkage(toOne, []byte(`{"data": {"type": "article", "id": "1"}}`))
	var re *resterr.Error
	require.True(t, errors.As(err, &re))
	require.Equal(t, resterr.CodeTypeConflict, re.Code)

	_, _, err = ParseLinkage(toMany, []byte(`{}`))
	require.Error(t, err)
}
