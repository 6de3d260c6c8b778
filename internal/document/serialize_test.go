package document

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/restframe/internal/descriptor"
	"github.com/hanpama/restframe/internal/store"
)

func eventResource() *descriptor.Resource {
	return descriptor.New("event", "id",
		[]descriptor.Attribute{
			{Name: "title", Type: descriptor.String},
			{Name: "seats", Type: descriptor.Integer},
			{Name: "rating", Type: descriptor.Float},
			{Name: "public", Type: descriptor.Boolean},
			{Name: "day", Type: descriptor.Date},
			{Name: "starts_at", Type: descriptor.DateTime},
			{Name: "length", Type: descriptor.Duration},
		}, nil)
}

func TestSerializeEncodesSemanticTypes(t *testing.T) {
	s := NewSerializer(eventResource())
	e := store.Entity{
		Type: "event",
		ID:   int64(7),
		Attrs: map[string]any{
			"title":     "launch",
			"seats":     int64(120),
			"rating":    4.5,
			"public":    true,
			"day":       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			"starts_at": time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
			"length":    90 * time.Minute,
		},
	}
	out, err := s.Serialize(e, nil, Visibility{})
	require.NoError(t, err)

	require.Equal(t, "event", out.Type)
	require.Equal(t, "7", out.ID)
	require.Equal(t, map[string]any{
		"title":     "launch",
		"seats":     int64(120),
		"rating":    4.5,
		"public":    true,
		"day":       "2024-05-01",
		"starts_at": "2024-05-01T10:30:00Z",
		"length":    5400.0,
	}, out.Attributes)
}

func TestSerializeVisibility(t *testing.T) {
	s := NewSerializer(eventResource())
	e := store.Entity{Type: "event", ID: int64(1), Attrs: map[string]any{
		"title": "launch", "seats": int64(120), "public": true,
	}}

	out, err := s.Serialize(e, nil, Visibility{Fields: []string{"title"}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"title": "launch"}, out.Attributes)

	out, err = s.Serialize(e, nil, Visibility{Only: []string{"seats"}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"seats": int64(120)}, out.Attributes)

	out, err = s.Serialize(e, nil, Visibility{Exclude: []string{"seats"}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"title": "launch", "public": true}, out.Attributes)

	// Identity survives even when every attribute is hidden.
	out, err = s.Serialize(e, nil, Visibility{Only: []string{}})
	require.NoError(t, err)
	require.Equal(t, "event", out.Type)
	require.Equal(t, "1", out.ID)
	require.Nil(t, out.Attributes)
}

func TestSerializePrimaryKeyNeverDuplicated(t *testing.T) {
	res := descriptor.New("tag", "id",
		[]descriptor.Attribute{
			{Name: "id", Type: descriptor.Integer},
			{Name: "label", Type: descriptor.String},
		}, nil)
	s := NewSerializer(res)
	out, err := s.Serialize(store.Entity{Type: "tag", ID: int64(3),
		Attrs: map[string]any{"id": int64(3), "label": "new"}}, nil, Visibility{})
	require.NoError(t, err)
	require.Equal(t, "3", out.ID)
	require.Equal(t, map[string]any{"label": "new"}, out.Attributes)
}

func TestSerializeAdditionalFields(t *testing.T) {
	s := NewSerializer(eventResource())
	s.Additional = map[string]func(store.Entity) any{
		"sold_out": func(e store.Entity) any { return e.Attrs["seats"] == int64(0) },
	}
	e := store.Entity{Type: "event", ID: int64(1), Attrs: map[string]any{"seats": int64(0)}}

	out, err := s.Serialize(e, nil, Visibility{})
	require.NoError(t, err)
	require.Equal(t, true, out.Attributes["sold_out"])

	// Computed fields obey sparse fieldsets like stored ones.
	out, err = s.Serialize(e, nil, Visibility{Fields: []string{"seats"}})
	require.NoError(t, err)
	require.NotContains(t, out.Attributes, "sold_out")
}

func TestSerializeRelationshipVisibility(t *testing.T) {
	s := NewSerializer(eventResource())
	rels := map[string]Relationship{
		"venue":  {Data: Identifier{Type: "venue", ID: "2"}},
		"guests": {Data: []Identifier{}},
	}
	out, err := s.Serialize(store.Entity{Type: "event", ID: int64(1)}, rels,
		Visibility{Fields: []string{"venue"}})
	require.NoError(t, err)
	require.Contains(t, out.Relationships, "venue")
	require.NotContains(t, out.Relationships, "guests")
}

func TestIDRoundTrip(t *testing.T) {
	require.Equal(t, "42", IDString(int64(42)))
	require.Equal(t, "abc", IDString("abc"))

	intRes := descriptor.New("a", "id", nil, nil)
	id, err := ParseID(intRes, "42")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	_, err = ParseID(intRes, "forty-two")
	require.Error(t, err)

	strRes := descriptor.New("b", "id",
		[]descriptor.Attribute{{Name: "id", Type: descriptor.String}}, nil)
	id, err = ParseID(strRes, "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", id)
}

func TestDocumentGolden(t *testing.T) {
	doc := &Document{
		Data: []Resource{
			{
				Type: "event",
				ID:   "1",
				Attributes: map[string]any{
					"title": "launch",
					"seats": int64(120),
				},
				Relationships: map[string]Relationship{
					"venue": {
						Data: Identifier{Type: "venue", ID: "2"},
						Links: &Links{
							Self:    "/api/event/1/relationships/venue",
							Related: "/api/event/1/venue",
						},
					},
				},
				Links: &Links{Self: "/api/event/1"},
			},
		},
		Included: []Resource{
			{
				Type:       "venue",
				ID:         "2",
				Attributes: map[string]any{"name": "north hall"},
				Links:      &Links{Self: "/api/venue/2"},
			},
		},
		Links: &Links{Self: "/api/event"},
		Meta:  map[string]any{"total": 1},
	}
	data, err := doc.Encode(true)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "collection_document", append(data, '\n'))
}

func TestEncodeCompact(t *testing.T) {
	doc := &Document{Data: nil}
	data, err := doc.Encode(false)
	require.NoError(t, err)
	require.JSONEq(t, `{"data": null}`, string(data))
}
